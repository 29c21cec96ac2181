package coapkit

import (
	m "github.com/coapkit/coapkit/message"
)

// NackReason classifies why a confirmable exchange ended without a
// matching acknowledgment.
type NackReason int

const (
	NackTooManyRetries NackReason = iota
	NackReset
	NackTransportFailed
	NackSessionReleased
	NackCanceled
)

func (r NackReason) String() string {
	switch r {
	case NackTooManyRetries:
		return "too many retries"
	case NackReset:
		return "reset by peer"
	case NackTransportFailed:
		return "transport failed"
	case NackSessionReleased:
		return "session released"
	case NackCanceled:
		return "canceled"
	}
	return "unknown"
}

// Event is a non-error notification from the engine.
type Event int

const (
	EventSessionNew Event = iota
	EventSessionClosed
	EventTransferComplete
	EventObserveCanceled
	EventProxyLoop
)

func (e Event) String() string {
	switch e {
	case EventSessionNew:
		return "session new"
	case EventSessionClosed:
		return "session closed"
	case EventTransferComplete:
		return "transfer complete"
	case EventObserveCanceled:
		return "observe canceled"
	case EventProxyLoop:
		return "proxy loop"
	}
	return "unknown"
}

// EventHandler is implemented by the host application. Every callback runs
// inside the dispatch or tick call path; implementations must not call
// back into the engine from another goroutine without external ordering.
type EventHandler interface {
	// OnNack reports a terminally failed confirmable exchange.
	OnNack(sess *Session, msg *m.CoAPMessage, reason NackReason)
	// OnResponse delivers a response matched to an outstanding request token.
	OnResponse(sess *Session, msg *m.CoAPMessage)
	OnPing(sess *Session, msg *m.CoAPMessage)
	OnPong(sess *Session, msg *m.CoAPMessage)
	OnEvent(sess *Session, event Event)
}

// NopEvents is an EventHandler that ignores everything; hosts embed it and
// override what they care about.
type NopEvents struct{}

func (NopEvents) OnNack(*Session, *m.CoAPMessage, NackReason) {}
func (NopEvents) OnResponse(*Session, *m.CoAPMessage)         {}
func (NopEvents) OnPing(*Session, *m.CoAPMessage)             {}
func (NopEvents) OnPong(*Session, *m.CoAPMessage)             {}
func (NopEvents) OnEvent(*Session, Event)                     {}

// HandlerResult is what a request handler returns; nil selects the
// separate-response pattern (empty ACK now, real response submitted later
// by the host on the same token).
type HandlerResult struct {
	Payload   m.CoAPMessagePayload
	Code      m.CoapCode
	MediaType m.MediaType

	// Flags of the resource that produced the result, consulted by the
	// response suppression policy.
	Flags ResourceFlags
}

func NewResponse(payload m.CoAPMessagePayload, code m.CoapCode) *HandlerResult {
	return &HandlerResult{Payload: payload, Code: code, MediaType: -1}
}

// RequestHandler serves an inbound request. Resource lookup and URI
// routing live in the host; the engine hands over every well-formed
// request it does not consume itself.
type RequestHandler func(sess *Session, request *m.CoAPMessage) *HandlerResult
