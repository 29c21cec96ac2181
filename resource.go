package coapkit

import (
	"bytes"
	"strconv"
	"strings"

	m "github.com/coapkit/coapkit/message"
)

// A Resource serves one method on one path.
type Resource struct {
	Method     m.CoapMethod
	Path       string
	Handler    ResourceHandler
	MediaTypes []m.MediaType
	Flags      ResourceFlags
}

type ResourceHandler func(sess *Session, message *m.CoAPMessage) *HandlerResult

func NewResource(method m.CoapMethod, path string, handler ResourceHandler) *Resource {
	return &Resource{Method: method, Path: strings.Trim(path, "/ "), Handler: handler}
}

func (r *Resource) matchPath(path string) bool {
	return r.Path == strings.Trim(path, "/ ")
}

// Router is an optional path/method table in front of the engine's single
// request handler. It answers /.well-known/core with the link-format
// listing of the registered resources.
type Router struct {
	resources []*Resource
}

func NewRouter() *Router {
	rt := &Router{}
	rt.AddGET("/.well-known/core", rt.discovery)
	return rt
}

func (rt *Router) Add(res *Resource) {
	rt.resources = append(rt.resources, res)
}

func (rt *Router) AddGET(path string, handler ResourceHandler) {
	rt.Add(NewResource(m.CoapMethodGet, path, handler))
}

func (rt *Router) AddPOST(path string, handler ResourceHandler) {
	rt.Add(NewResource(m.CoapMethodPost, path, handler))
}

func (rt *Router) AddPUT(path string, handler ResourceHandler) {
	rt.Add(NewResource(m.CoapMethodPut, path, handler))
}

func (rt *Router) AddDELETE(path string, handler ResourceHandler) {
	rt.Add(NewResource(m.CoapMethodDelete, path, handler))
}

func (rt *Router) Remove(method m.CoapMethod, path string) {
	for i, res := range rt.resources {
		if res.Method == method && res.matchPath(path) {
			rt.resources = append(rt.resources[:i], rt.resources[i+1:]...)
			return
		}
	}
}

// Handler adapts the router to the engine's request entry point.
func (rt *Router) Handler() RequestHandler {
	return func(sess *Session, message *m.CoAPMessage) *HandlerResult {
		path := message.GetURIPath()
		method := message.GetMethod()

		var pathKnown bool
		for _, res := range rt.resources {
			if !res.matchPath(path) {
				continue
			}
			pathKnown = true
			if res.Method != method {
				continue
			}
			result := res.Handler(sess, message)
			if result != nil {
				result.Flags |= res.Flags
			}
			return result
		}

		if pathKnown {
			return NewResponse(
				m.NewStringPayload("Method is not allowed for requested resource"),
				m.CoapCodeMethodNotAllowed)
		}
		return NewResponse(
			m.NewStringPayload("Requested resource "+message.GetURIPath()+" does not exist"),
			m.CoapCodeNotFound)
	}
}

func (rt *Router) discovery(sess *Session, message *m.CoAPMessage) *HandlerResult {
	var buf bytes.Buffer
	for _, res := range rt.resources {
		if res.Path == ".well-known/core" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("</")
		buf.WriteString(res.Path)
		buf.WriteString(">")
		for idx, mt := range res.MediaTypes {
			if idx == 0 {
				buf.WriteString(";ct=")
			} else {
				buf.WriteString(" ")
			}
			buf.WriteString(strconv.Itoa(int(mt)))
		}
	}

	result := NewResponse(m.NewBytesPayload(buf.Bytes()), m.CoapCodeContent)
	result.MediaType = m.MediaTypeApplicationLinkFormat
	return result
}
