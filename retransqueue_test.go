package coapkit

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "github.com/coapkit/coapkit/message"
)

func testNode(sess *Session, mid uint16) *queueNode {
	return &queueNode{
		sess: sess,
		msg:  m.NewCoAPMessageID(m.CON, m.GET, mid),
	}
}

func TestQueueAdvanceOrder(t *testing.T) {
	q := newRetransQueue()
	sess := &Session{Addr: "peer"}

	fireTimes := []Ticks{500, 100, 900, 300, 700}
	for i, fire := range fireTimes {
		q.insert(testNode(sess, uint16(i)), fire)
	}
	require.Equal(t, 5, q.len())

	expired := q.advance(600)
	require.Len(t, expired, 3)
	assert.Equal(t, uint16(1), expired[0].msg.MessageID) // fire 100
	assert.Equal(t, uint16(3), expired[1].msg.MessageID) // fire 300
	assert.Equal(t, uint16(0), expired[2].msg.MessageID) // fire 500

	next, ok := q.nextDeadline()
	require.True(t, ok)
	assert.Equal(t, Ticks(700), next)

	expired = q.advance(1000)
	require.Len(t, expired, 2)
	assert.Equal(t, uint16(4), expired[0].msg.MessageID)
	assert.Equal(t, uint16(2), expired[1].msg.MessageID)

	_, ok = q.nextDeadline()
	assert.False(t, ok)
}

// Popped entries plus remaining entries always equal the inserted set
// minus explicit removals, and advance never yields out of fire-time
// order.
func TestQueueSetConsistency(t *testing.T) {
	q := newRetransQueue()
	sess := &Session{Addr: "peer"}

	inserted := make(map[uint16]bool)
	for mid := uint16(0); mid < 50; mid++ {
		q.insert(testNode(sess, mid), Ticks(rand.Intn(10000)))
		inserted[mid] = true
	}

	for mid := uint16(0); mid < 50; mid += 7 {
		require.NotNil(t, q.remove(sess, mid))
		delete(inserted, mid)
	}
	assert.Nil(t, q.remove(sess, 999))

	seen := make(map[uint16]bool)
	now := Ticks(0)
	for q.len() > 0 {
		now += 1000
		for _, node := range q.advance(now) {
			assert.False(t, seen[node.msg.MessageID], "node yielded twice")
			seen[node.msg.MessageID] = true
		}
	}

	assert.Equal(t, inserted, seen)
}

func TestQueueTieBreakInsertionOrder(t *testing.T) {
	q := newRetransQueue()
	sess := &Session{Addr: "peer"}

	for mid := uint16(0); mid < 4; mid++ {
		q.insert(testNode(sess, mid), 100)
	}

	expired := q.advance(100)
	require.Len(t, expired, 4)
	for i, node := range expired {
		assert.Equal(t, uint16(i), node.msg.MessageID)
	}
}

func TestQueueRemovePreservesDeltas(t *testing.T) {
	q := newRetransQueue()
	sess := &Session{Addr: "peer"}

	q.insert(testNode(sess, 1), 100)
	q.insert(testNode(sess, 2), 200)
	q.insert(testNode(sess, 3), 300)

	require.NotNil(t, q.remove(sess, 2))

	// Node 3 still fires at its absolute time.
	expired := q.advance(250)
	require.Len(t, expired, 1)
	assert.Equal(t, uint16(1), expired[0].msg.MessageID)

	next, ok := q.nextDeadline()
	require.True(t, ok)
	assert.Equal(t, Ticks(300), next)
}

func TestQueueRemoveBySessionAndToken(t *testing.T) {
	q := newRetransQueue()
	sessA := &Session{Addr: "a"}
	sessB := &Session{Addr: "b"}

	nodeA := testNode(sessA, 1)
	nodeA.msg.Token = []byte{0xab}
	q.insert(nodeA, 100)
	q.insert(testNode(sessA, 2), 200)
	q.insert(testNode(sessB, 3), 300)

	removed := q.removeToken(sessA, []byte{0xab})
	require.Len(t, removed, 1)
	assert.Equal(t, uint16(1), removed[0].msg.MessageID)

	removed = q.removeSession(sessA)
	require.Len(t, removed, 1)
	assert.Equal(t, uint16(2), removed[0].msg.MessageID)

	assert.Equal(t, 1, q.len())
}

func TestInitialTimeoutBounds(t *testing.T) {
	cfg := &Config{}
	cfg.normalize()

	low := initialTimeout(cfg, 0)
	high := initialTimeout(cfg, 255)

	assert.Equal(t, cfg.AckTimeout, low)
	assert.Equal(t, cfg.AckTimeout*Ticks(cfg.AckRandomFactorNum)/Ticks(cfg.AckRandomFactorDen), high)

	for r := 0; r < 256; r++ {
		v := initialTimeout(cfg, byte(r))
		assert.GreaterOrEqual(t, v, low)
		assert.LessOrEqual(t, v, high)
	}
}

// Backoff is monotonically non-decreasing across retries and stops at the
// configured maximum.
func TestBackoffMonotone(t *testing.T) {
	cfg := &Config{}
	cfg.normalize()

	timeout := initialTimeout(cfg, 128)
	prev := timeout
	for k := 1; k <= cfg.MaxRetransmit; k++ {
		next := timeout << Ticks(k)
		assert.GreaterOrEqual(t, next, prev)
		prev = next
	}
}
