package coapkit

import (
	m "github.com/coapkit/coapkit/message"
)

// A queueNode is one pending confirmable message. Fire times are stored as
// a delta from the predecessor, so advancing the clock touches only the
// head in the common case; the sum of deltas from the head is always the
// absolute fire time of a node relative to q.now.
type queueNode struct {
	next *queueNode

	delta   Ticks
	sess    *Session
	msg     *m.CoAPMessage
	data    []byte // wire form, retransmitted verbatim
	timeout Ticks  // initial jittered timeout, doubled per retry
	retries int

	// notifyToken is set when the entry carries an observe notification;
	// an ACK marks the observer alive, an RST cancels it.
	notifyToken []byte
}

type retransQueue struct {
	head *queueNode
	now  Ticks
	size int
}

func newRetransQueue() *retransQueue {
	return &retransQueue{}
}

// insert places the node fireIn ticks from now, after every node with a
// strictly smaller fire time. Equal fire times keep insertion order.
func (q *retransQueue) insert(node *queueNode, fireIn Ticks) {
	q.size++

	if q.head == nil || fireIn < q.head.delta {
		if q.head != nil {
			q.head.delta -= fireIn
		}
		node.delta = fireIn
		node.next = q.head
		q.head = node
		return
	}

	prev := q.head
	remaining := fireIn - prev.delta
	for prev.next != nil && remaining >= prev.next.delta {
		prev = prev.next
		remaining -= prev.delta
	}

	node.delta = remaining
	node.next = prev.next
	if node.next != nil {
		node.next.delta -= remaining
	}
	prev.next = node
}

// advance moves the queue clock to now and pops every node whose fire time
// has elapsed, in fire-time order.
func (q *retransQueue) advance(now Ticks) []*queueNode {
	if now < q.now {
		now = q.now
	}
	elapsed := now - q.now
	q.now = now

	var expired []*queueNode
	for q.head != nil && q.head.delta <= elapsed {
		node := q.head
		elapsed -= node.delta
		q.head = node.next
		node.next = nil
		q.size--
		expired = append(expired, node)
	}
	if q.head != nil {
		q.head.delta -= elapsed
	}
	return expired
}

// nextDeadline returns the absolute fire time of the head entry.
func (q *retransQueue) nextDeadline() (Ticks, bool) {
	if q.head == nil {
		return 0, false
	}
	return q.now + q.head.delta, true
}

// remove extracts the entry matching (session, message-id), folding its
// delta into the successor to keep the chain sorted.
func (q *retransQueue) remove(sess *Session, messageID uint16) *queueNode {
	var prev *queueNode
	for node := q.head; node != nil; node = node.next {
		if node.sess == sess && node.msg.MessageID == messageID {
			q.unlink(prev, node)
			return node
		}
		prev = node
	}
	return nil
}

// removeSession extracts every entry owned by the session.
func (q *retransQueue) removeSession(sess *Session) []*queueNode {
	return q.removeIf(func(node *queueNode) bool {
		return node.sess == sess
	})
}

// removeToken extracts every entry on the session whose message token
// matches, pending block continuations included.
func (q *retransQueue) removeToken(sess *Session, token []byte) []*queueNode {
	return q.removeIf(func(node *queueNode) bool {
		return node.sess == sess && string(node.msg.Token) == string(token)
	})
}

func (q *retransQueue) removeIf(match func(*queueNode) bool) []*queueNode {
	var removed []*queueNode
	var prev *queueNode
	node := q.head
	for node != nil {
		next := node.next
		if match(node) {
			q.unlink(prev, node)
			removed = append(removed, node)
		} else {
			prev = node
		}
		node = next
	}
	return removed
}

func (q *retransQueue) unlink(prev, node *queueNode) {
	if node.next != nil {
		node.next.delta += node.delta
	}
	if prev == nil {
		q.head = node.next
	} else {
		prev.next = node.next
	}
	node.next = nil
	q.size--
}

func (q *retransQueue) len() int {
	return q.size
}

// hasMessageID reports whether a message-id is already outstanding on the
// session.
func (q *retransQueue) hasMessageID(sess *Session, messageID uint16) bool {
	for node := q.head; node != nil; node = node.next {
		if node.sess == sess && node.msg.MessageID == messageID {
			return true
		}
	}
	return false
}

// initialTimeout computes ACK_TIMEOUT * (1 + (ACK_RANDOM_FACTOR-1)*r) in
// fixed point, r drawn from a uniform byte. The k-th retransmission then
// fires timeout << k ticks after the previous attempt.
func initialTimeout(cfg *Config, r byte) Ticks {
	base := cfg.AckTimeout
	num := Ticks(cfg.AckRandomFactorNum)
	den := Ticks(cfg.AckRandomFactorDen)
	spread := base * (num - den) / den // ACK_TIMEOUT*(factor-1)
	return base + spread*Ticks(r)/255
}
