package coapkit

import (
	m "github.com/coapkit/coapkit/message"
)

// ResourceFlags qualify how a resource answers multicast requests.
type ResourceFlags uint8

const (
	ResourceFlagNone ResourceFlags = 0

	// ResourceFlagMulticastEnabled lets the resource answer requests
	// that arrived over multicast at all.
	ResourceFlagMulticastEnabled ResourceFlags = 1 << iota

	// ResourceFlagMulticastErrors lets error-class responses out to
	// multicast requesters, normally suppressed.
	ResourceFlagMulticastErrors
)

// suppressResponse decides whether a formed response is transmitted. It
// is a pure function of (request, response, session, resource flags,
// config). A true result means drop; a dropped response to a
// confirmable request is still acknowledged with an empty ACK by the
// caller so the peer stops retrying.
//
// The checks are ordered if-else precedence: the requester's No-Response
// hint first, then the multicast resource flags, then the multicast class
// default.
func suppressResponse(req, resp *m.CoAPMessage, sess *Session, flags ResourceFlags, cfg *Config) bool {
	if resp == nil {
		return true
	}

	// 1. Explicit suppression hint carried by the request (RFC 7967).
	if mask := req.GetNoResponse(); mask != 0 {
		switch {
		case resp.Code.IsSuccess() && mask&m.NoResponseSuppressSuccess != 0:
			return true
		case resp.Code.IsClientError() && mask&m.NoResponseSuppressClientError != 0:
			return true
		case resp.Code.IsServerError() && mask&m.NoResponseSuppressServerError != 0:
			return true
		}
	}

	if !sess.Multicast {
		return false
	}

	// 2. Resource-level multicast gating.
	if flags&ResourceFlagMulticastEnabled == 0 {
		return true
	}

	// 3. Class default: never answer a multicast request with an error
	// unless the resource or the engine explicitly enables it.
	if resp.Code.IsError() {
		if flags&ResourceFlagMulticastErrors != 0 {
			return false
		}
		return !cfg.MulticastErrorReplies
	}

	return false
}
