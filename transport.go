package coapkit

import "time"

// TransportKind identifies the channel a session runs over. The engine
// only distinguishes datagram from stream semantics; establishing and
// securing the channel is the host's business.
type TransportKind int

const (
	TransportUDP TransportKind = iota
	TransportDTLS
	TransportTCP
	TransportTLS
)

func (k TransportKind) Reliable() bool {
	return k == TransportTCP || k == TransportTLS
}

func (k TransportKind) String() string {
	switch k {
	case TransportUDP:
		return "udp"
	case TransportDTLS:
		return "dtls"
	case TransportTCP:
		return "tcp"
	case TransportTLS:
		return "tls"
	}
	return "unknown"
}

// Transport is what the engine requires from the I/O layer: deliver one
// datagram (or stream record) to the session's peer. Inbound bytes come
// back through Engine.Deliver; readiness and socket lifecycle stay outside.
type Transport interface {
	Send(sess *Session, data []byte) (int, error)
}

// Stepper runs one iteration of the host's I/O pump: read what is
// readable, deliver it, wait at most maxWait. Used only by the blocking
// client bootstrap path.
type Stepper interface {
	Step(maxWait time.Duration) error
}
