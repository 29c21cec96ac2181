package coapkit

import (
	"math/rand"

	"github.com/google/uuid"
	"github.com/op/go-logging"
	cache "github.com/patrickmn/go-cache"

	m "github.com/coapkit/coapkit/message"
)

var log = logging.MustGetLogger("coapkit")

// Engine is the process-wide context: it owns the retransmission queue,
// the session table and the configuration, and exposes the front door the
// I/O layer drives (Submit / Deliver / Advance).
//
// The engine is not safe for concurrent use. Drive it from a single
// goroutine, the way the readiness loop of the host I/O layer does, or
// front it with a channel.
type Engine struct {
	cfg    Config
	id     uuid.UUID
	marker string

	transport Transport
	events    EventHandler
	handler   RequestHandler

	queue     *retransQueue
	sessions  *cache.Cache
	observers *observeRegistry
	known     *optionFilter
}

func NewEngine(cfg Config, transport Transport, events EventHandler) *Engine {
	cfg.normalize()
	if events == nil {
		events = NopEvents{}
	}

	id := uuid.New()
	return &Engine{
		cfg:       cfg,
		id:        id,
		marker:    "coapkit/" + id.String(),
		transport: transport,
		events:    events,
		queue:     newRetransQueue(),
		sessions:  cache.New(cfg.SessionLifetime, CLEANING_INTERVAL),
		observers: newObserveRegistry(cfg.ObserverLifetime),
		known:     defaultOptionFilter(),
	}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// SetRequestHandler installs the single request entry point; resource
// lookup happens behind it.
func (e *Engine) SetRequestHandler(h RequestHandler) {
	e.handler = h
}

// RegisterOption extends the set of critical options the engine accepts
// without bouncing the message.
func (e *Engine) RegisterOption(code m.OptionCode) {
	e.known.set(code)
}

func sessionKey(addr string, kind TransportKind) string {
	return kind.String() + "|" + addr
}

// NewSession returns the session for the peer, creating it on first use.
// The caller owns one reference.
func (e *Engine) NewSession(addr string, kind TransportKind) *Session {
	key := sessionKey(addr, kind)
	if v, ok := e.sessions.Get(key); ok {
		sess := v.(*Session)
		sess.Acquire()
		e.sessions.SetDefault(key, sess)
		return sess
	}

	sess := &Session{
		engine: e,
		Addr:   addr,
		Kind:   kind,
	}
	sess.Acquire()
	e.sessions.SetDefault(key, sess)
	e.events.OnEvent(sess, EventSessionNew)
	return sess
}

// Submit hands one outbound message to the engine. A confirmable message
// enters the retransmission queue; a body larger than the negotiated
// block size starts a block-wise transfer and only the first block goes
// out now. Returns the message-id actually used.
func (e *Engine) Submit(sess *Session, msg *m.CoAPMessage) (uint16, error) {
	if sess.failed {
		return 0, ErrSessionFailed
	}

	blockSize := sess.BlockSize(e.cfg.PreferredBlockSize)
	if msg.Payload != nil && msg.Payload.Length() > blockSize {
		return e.submitBlockwise(sess, msg, blockSize)
	}

	if msg.IsRequest() {
		if err := sess.claimToken(msg.Token); err != nil {
			return 0, err
		}
	}

	mid, err := e.send(sess, msg, nil)
	if err != nil && msg.IsRequest() {
		sess.releaseToken(msg.Token)
	}
	return mid, err
}

func (e *Engine) submitBlockwise(sess *Session, msg *m.CoAPMessage, blockSize int) (uint16, error) {
	if msg.IsRequest() {
		if err := sess.claimToken(msg.Token); err != nil {
			return 0, err
		}
	}

	// A newer exchange on the same token supersedes the old transfer.
	if sess.tx != nil && string(sess.tx.token) == string(msg.Token) {
		log.Noticef("superseding block transfer on token %x", msg.Token)
	}
	bert := e.cfg.BERT && sess.PeerBERT
	sess.tx = newTxTransfer(msg, blockSize, bert, !msg.IsRequest())

	first := sess.tx.nextBlockMessage()
	first.Type = msg.Type
	mid, err := e.send(sess, first, nil)
	if err != nil {
		sess.tx = nil
		if msg.IsRequest() {
			sess.releaseToken(msg.Token)
		}
	}
	return mid, err
}

// send serializes, transmits, and (for confirmables) enqueues one message.
func (e *Engine) send(sess *Session, msg *m.CoAPMessage, notifyToken []byte) (uint16, error) {
	if msg.Type == m.CON {
		if sess.activeCON >= e.cfg.NStart {
			return 0, ErrTooManyPending
		}
		// Message-id must be unique among this session's outstanding
		// confirmables.
		for e.queue.hasMessageID(sess, msg.MessageID) {
			msg.MessageID = m.GenerateMessageID()
		}
	}

	data, err := m.Serialize(msg)
	if err != nil {
		return 0, err
	}
	if len(data) > sess.MaxMessageSize(e.cfg.MaxMessageSize) {
		return 0, ErrMessageTooLarge
	}

	if _, err := e.transport.Send(sess, data); err != nil {
		return 0, err
	}

	if msg.Type == m.CON {
		node := &queueNode{
			sess:        sess,
			msg:         msg,
			data:        data,
			timeout:     initialTimeout(&e.cfg, byte(rand.Intn(256))),
			notifyToken: notifyToken,
		}
		sess.Acquire()
		sess.activeCON++
		e.queue.insert(node, node.timeout)
	}

	return msg.MessageID, nil
}

// sendDelayed enqueues a one-shot transmission fireIn ticks from now,
// used for jittered multicast responses.
func (e *Engine) sendDelayed(sess *Session, msg *m.CoAPMessage, fireIn Ticks) error {
	data, err := m.Serialize(msg)
	if err != nil {
		return err
	}
	node := &queueNode{
		sess:    sess,
		msg:     msg,
		data:    data,
		retries: -1, // one-shot marker: transmit once, never retry
	}
	sess.Acquire()
	e.queue.insert(node, fireIn)
	return nil
}

// Advance drives retransmission: it moves the engine clock to now, fires
// every expired entry, and returns the next deadline (ok=false when the
// queue is empty). The host calls this from its tick loop.
func (e *Engine) Advance(now Ticks) (next Ticks, ok bool) {
	for _, node := range e.queue.advance(now) {
		e.fire(node)
	}
	return e.queue.nextDeadline()
}

func (e *Engine) fire(node *queueNode) {
	sess := node.sess

	if node.retries < 0 {
		// One-shot delayed transmission.
		if _, err := e.transport.Send(sess, node.data); err != nil {
			log.Errorf("delayed send to %s: %v", sess.Addr, err)
		}
		sess.Release()
		return
	}

	if node.retries >= e.cfg.MaxRetransmit {
		log.Noticef("giving up on mid %d to %s after %d retries",
			node.msg.MessageID, sess.Addr, node.retries)
		sess.activeCON--
		sess.releaseToken(node.msg.Token)
		if node.notifyToken != nil {
			// An unreachable observer is a dead observer.
			if e.observers.cancel(sess, node.notifyToken) != nil {
				e.events.OnEvent(sess, EventObserveCanceled)
			}
		}
		e.events.OnNack(sess, node.msg, NackTooManyRetries)
		sess.Release()
		return
	}

	node.retries++
	if _, err := e.transport.Send(sess, node.data); err != nil {
		log.Errorf("retransmit to %s: %v", sess.Addr, err)
	}
	e.queue.insert(node, node.timeout<<Ticks(node.retries))
}

// CancelByToken removes every pending retransmission and subscription
// matching the token on the session.
func (e *Engine) CancelByToken(sess *Session, token []byte) {
	for _, node := range e.queue.removeToken(sess, token) {
		sess.activeCON--
		e.events.OnNack(sess, node.msg, NackCanceled)
		sess.Release()
	}
	if sub := e.observers.cancel(sess, token); sub != nil {
		e.events.OnEvent(sess, EventObserveCanceled)
	}
	if sess.tx != nil && string(sess.tx.token) == string(token) {
		sess.tx = nil
	}
	sess.releaseToken(token)
}

// SessionFailed is called by the transport layer when the underlying
// channel breaks mid-exchange. Every pending queue entry and transfer of
// the session is cancelled and reported, not silently dropped.
func (e *Engine) SessionFailed(sess *Session) {
	sess.failed = true
	e.cancelSession(sess, NackTransportFailed)
	e.sessions.Delete(sessionKey(sess.Addr, sess.Kind))
	e.events.OnEvent(sess, EventSessionClosed)
}

func (e *Engine) dropSession(sess *Session, reason NackReason) {
	e.cancelSession(sess, reason)
	e.sessions.Delete(sessionKey(sess.Addr, sess.Kind))
	e.events.OnEvent(sess, EventSessionClosed)
}

func (e *Engine) cancelSession(sess *Session, reason NackReason) {
	for _, node := range e.queue.removeSession(sess) {
		if node.retries < 0 {
			continue // pending one-shot, nothing to report
		}
		sess.activeCON--
		e.events.OnNack(sess, node.msg, reason)
	}
	for range e.observers.cancelSession(sess) {
		e.events.OnEvent(sess, EventObserveCanceled)
	}
	sess.tx = nil
	sess.rxRequest = nil
	sess.rxResponse = nil
	sess.pendingTokens = nil
}

// Notify pushes one observe notification to a subscriber. Confirmable
// notifications double as liveness probes: an RST cancels the
// subscription, an ACK marks it alive.
func (e *Engine) Notify(sess *Session, token []byte, result *HandlerResult, confirmable bool) (uint16, error) {
	sub := e.observers.get(sess, token)
	if sub == nil {
		return 0, ErrCanceled
	}

	msgType := m.NON
	if confirmable {
		msgType = m.CON
	}
	msg := m.NewCoAPMessageID(msgType, result.Code, m.GenerateMessageID())
	msg.Token = token
	msg.AddOption(m.OptionObserve, int(sub.sequence+1))
	if result.Payload != nil {
		msg.Payload = result.Payload
	}
	if result.MediaType >= 0 {
		msg.SetMediaType(result.MediaType)
	}

	mid, err := e.send(sess, msg, token)
	if err != nil {
		return 0, err
	}
	e.observers.touch(sub, mid)
	return mid, nil
}

// Subscribed reports whether the session has a live subscription on the
// token.
func (e *Engine) Subscribed(sess *Session, token []byte) bool {
	return e.observers.get(sess, token) != nil
}

// leisureJitter picks a uniform delay within the leisure period for
// multicast responses.
func (e *Engine) leisureJitter() Ticks {
	if e.cfg.Leisure == 0 {
		return 0
	}
	return Ticks(rand.Int63n(int64(e.cfg.Leisure)))
}
