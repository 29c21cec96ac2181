package message

import "encoding/json"

// Represents the payload/content of a CoAP Message.
type CoAPMessagePayload interface {
	Bytes() []byte
	Length() int
	String() string
}

// Instantiates a new message payload of type string.
func NewStringPayload(s string) CoAPMessagePayload {
	return &StringPayload{content: s}
}

type StringPayload struct {
	content string
}

func (p *StringPayload) Bytes() []byte  { return []byte(p.content) }
func (p *StringPayload) Length() int    { return len(p.content) }
func (p *StringPayload) String() string { return p.content }

func NewBytesPayload(v []byte) CoAPMessagePayload {
	return &BytesPayload{content: v}
}

type BytesPayload struct {
	content []byte
}

func (p *BytesPayload) Bytes() []byte  { return p.content }
func (p *BytesPayload) Length() int    { return len(p.content) }
func (p *BytesPayload) String() string { return string(p.content) }

func NewEmptyPayload() CoAPMessagePayload {
	return &EmptyPayload{}
}

type EmptyPayload struct{}

func (p *EmptyPayload) Bytes() []byte  { return []byte{} }
func (p *EmptyPayload) Length() int    { return 0 }
func (p *EmptyPayload) String() string { return "" }

func NewJSONPayload(obj interface{}) CoAPMessagePayload {
	return &JSONPayload{obj: obj}
}

type JSONPayload struct {
	obj interface{}
}

func (p *JSONPayload) Bytes() []byte {
	o, err := json.Marshal(p.obj)
	if err != nil {
		log.Error("JSONPayload: cannot serialize to JSON:", err)
		return []byte{}
	}
	return o
}

func (p *JSONPayload) Length() int    { return len(p.Bytes()) }
func (p *JSONPayload) String() string { return string(p.Bytes()) }
