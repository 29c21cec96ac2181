package coapkit

import (
	"sync/atomic"

	m "github.com/coapkit/coapkit/message"
)

// A Session is the conversation state for one peer. It is created on the
// first outbound intent (client side) or the first datagram from a new
// peer (server side), and torn down when the last reference releases and
// the idle TTL in the session table runs out.
type Session struct {
	engine *Engine

	// Addr is the opaque peer key the host hands to NewSession; the
	// engine only uses it to index the session table.
	Addr string
	Kind TransportKind

	// Multicast marks a session whose inbound requests arrived on a
	// multicast group; responses get leisure jitter and suppression.
	Multicast bool

	refs int32

	ready  bool
	failed bool

	// Negotiated limits, updated from peer CSM/block options.
	PeerMaxMessageSize int
	PeerBlockSize      int
	PeerBERT           bool

	activeCON int

	// Dedup window: exactly the most recent message-id per class.
	lastSeenCON      uint16
	lastSeenCONValid bool
	lastSeenACK      uint16
	lastSeenACKValid bool

	// Wire form of the last ACK sent, replayed on a duplicate CON.
	lastACKSent []byte

	// In-progress block transfers.
	tx         *txTransfer // outbound large body
	rxRequest  *rxTransfer // inbound large request body (responder side)
	rxResponse *rxTransfer // inbound large response (requester side)

	// Tokens of outstanding request/response exchanges.
	pendingTokens map[string]struct{}
}

// Acquire takes a reference. The queue, the transfer engine and the
// transport layer each hold one while they point at the session.
func (s *Session) Acquire() {
	atomic.AddInt32(&s.refs, 1)
}

// Release drops a reference; at zero the engine cancels every queue entry,
// transfer and subscription of the session as a batch.
func (s *Session) Release() {
	if atomic.AddInt32(&s.refs, -1) == 0 {
		s.engine.dropSession(s, NackSessionReleased)
	}
}

// Ready reports whether at least one message has been exchanged with the
// peer on this session.
func (s *Session) Ready() bool {
	return s.ready
}

func (s *Session) Failed() bool {
	return s.failed
}

// BlockSize returns the block size to use with this peer.
func (s *Session) BlockSize(preferred int) int {
	return m.NegotiateBlockSize(preferred, s.PeerBlockSize)
}

// MaxMessageSize returns the smaller of the engine's and the peer's
// declared maxima.
func (s *Session) MaxMessageSize(local int) int {
	if s.PeerMaxMessageSize > 0 && s.PeerMaxMessageSize < local {
		return s.PeerMaxMessageSize
	}
	return local
}

// seenCON records a confirmable message-id and reports whether it repeats
// the previous one.
func (s *Session) seenCON(id uint16) (dup bool) {
	if s.lastSeenCONValid && s.lastSeenCON == id {
		return true
	}
	s.lastSeenCON = id
	s.lastSeenCONValid = true
	return false
}

// seenACK is the acknowledgment-side dedup window.
func (s *Session) seenACK(id uint16) (dup bool) {
	if s.lastSeenACKValid && s.lastSeenACK == id {
		return true
	}
	s.lastSeenACK = id
	s.lastSeenACKValid = true
	return false
}

func (s *Session) claimToken(token []byte) error {
	key := string(token)
	if s.pendingTokens == nil {
		s.pendingTokens = make(map[string]struct{})
	}
	if _, ok := s.pendingTokens[key]; ok {
		return ErrDuplicateToken
	}
	s.pendingTokens[key] = struct{}{}
	return nil
}

func (s *Session) releaseToken(token []byte) {
	delete(s.pendingTokens, string(token))
}

func (s *Session) hasToken(token []byte) bool {
	_, ok := s.pendingTokens[string(token)]
	return ok
}
