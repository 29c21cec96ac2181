package coapkit

import (
	"time"

	"github.com/dustin/go-humanize"

	m "github.com/coapkit/coapkit/message"
)

// txTransfer tracks an outbound body larger than one block. The offset
// advances on acknowledgment, not on transmission: lastAcked only moves
// to index k once every index below k is acknowledged, so a reordered
// ack for a later block never skips a gap.
type txTransfer struct {
	token     []byte
	body      []byte
	blockSize int
	bert      bool

	// block2 selects the response-body option; false means request body.
	block2 bool

	nextOffset int // first byte not yet handed to the transport
	lastAcked  int // highest contiguously acknowledged block index, -1 initially

	origMessage *m.CoAPMessage

	created      time.Time
	lastActivity time.Time
	fullySentAt  time.Time // zero until every block is out
}

func newTxTransfer(msg *m.CoAPMessage, blockSize int, bert, block2 bool) *txTransfer {
	now := time.Now()
	t := &txTransfer{
		token:        msg.Token,
		body:         msg.GetPayload(),
		blockSize:    blockSize,
		bert:         bert,
		block2:       block2,
		lastAcked:    -1,
		origMessage:  msg,
		created:      now,
		lastActivity: now,
	}
	log.Debugf("block transfer out: %s body, block size %d",
		humanize.Bytes(uint64(len(t.body))), blockSize)
	return t
}

func (t *txTransfer) totalBlocks() int {
	return (len(t.body) + t.blockSize - 1) / t.blockSize
}

// nextBlockMessage builds the message for the next unsent block, or nil
// when everything is out. With BERT negotiated the terminal block may
// carry more than one block size of data.
func (t *txTransfer) nextBlockMessage() *m.CoAPMessage {
	if t.nextOffset >= len(t.body) {
		return nil
	}

	index := t.nextOffset / t.blockSize
	end := t.nextOffset + t.blockSize
	if t.bert && len(t.body)-t.nextOffset <= t.blockSize*2 {
		// Oversized terminal block.
		end = len(t.body)
	}
	if end > len(t.body) {
		end = len(t.body)
	}
	more := end < len(t.body)

	msg := t.origMessage.Clone(false)
	msg.MessageID = m.GenerateMessageID()
	msg.Payload = m.NewBytesPayload(t.body[t.nextOffset:end])

	var block *m.Block
	if t.bert && end-t.nextOffset > t.blockSize {
		block = m.NewBertBlock(more, index)
	} else {
		block = m.NewBlock(more, index, t.blockSize)
	}
	if t.block2 {
		msg.SetBlock2(block)
		msg.SetOption(m.OptionSize2, len(t.body))
	} else {
		msg.SetBlock1(block)
		msg.SetOption(m.OptionSize1, len(t.body))
	}

	t.nextOffset = end
	t.lastActivity = time.Now()
	if t.nextOffset >= len(t.body) {
		t.fullySentAt = t.lastActivity
	}
	return msg
}

// ack records the peer's acknowledgment of a block index. Only the index
// one past lastAcked advances the watermark; acks beyond it are remembered
// implicitly by the peer retransmitting, not by skipping.
func (t *txTransfer) ack(index int) (advanced bool) {
	t.lastActivity = time.Now()
	if index == t.lastAcked+1 {
		t.lastAcked = index
		return true
	}
	return false
}

func (t *txTransfer) done() bool {
	return t.nextOffset >= len(t.body) && t.lastAcked >= t.totalBlocks()-1
}

// expired applies the three independent grace periods: mid-transfer,
// fully-sent, and observe-notification reuse.
func (t *txTransfer) expired(cfg *Config, observeReuse bool) bool {
	now := time.Now()
	if observeReuse {
		return now.Sub(t.lastActivity) > cfg.ObserveReuseLifetime
	}
	if !t.fullySentAt.IsZero() {
		return now.Sub(t.fullySentAt) > cfg.FullySentLifetime
	}
	return now.Sub(t.lastActivity) > cfg.TransferLifetime
}

// byteRange is one received span of an inbound transfer, [off, end).
type byteRange struct {
	off, end int
}

// rxTransfer reassembles an inbound body. A bounded window of received
// ranges tolerates limited reordering and duplication without requiring
// in-order delivery; ranges merge as gaps fill and the oldest parked
// range is evicted when the window overflows.
type rxTransfer struct {
	token []byte
	buf   []byte

	total    int // declared via Size1/Size2, 0 when unknown
	received int // bytes accepted so far

	// finalEnd is the end offset of the block that carried more=false,
	// -1 until seen. Completion without a declared total needs it.
	finalEnd int

	window   []byteRange // non-overlapping, insertion-ordered (oldest first)
	capacity int

	// Most recent (token, message-id) pair accepted, for duplicate
	// suppression of the carrying message itself.
	lastMessageID uint16
	lastMIDValid  bool

	complete     bool
	lastActivity time.Time
}

func newRxTransfer(token []byte, capacity int) *rxTransfer {
	return &rxTransfer{
		token:        token,
		finalEnd:     -1,
		capacity:     capacity,
		lastActivity: time.Now(),
	}
}

// insert accepts one block at the given byte offset. A range overlapping
// an already-received range is a duplicate and is discarded. Returns
// whether the block was a duplicate and whether the transfer is complete.
func (t *rxTransfer) insert(offset int, data []byte, more bool) (dup, complete bool) {
	t.lastActivity = time.Now()
	end := offset + len(data)

	if t.overlaps(offset, end) {
		return true, t.complete
	}
	if t.total > 0 && end > t.total {
		// Declared total is a hard ceiling.
		return true, t.complete
	}

	if end > len(t.buf) {
		grown := make([]byte, end)
		copy(grown, t.buf)
		t.buf = grown
	}
	copy(t.buf[offset:end], data)

	if len(t.window) >= t.capacity {
		// Evict the oldest parked range; the peer re-sends it if it is
		// still needed.
		evicted := t.window[0]
		t.window = t.window[1:]
		t.received -= evicted.end - evicted.off
	}
	t.window = append(t.window, byteRange{off: offset, end: end})
	t.received += len(data)

	if !more {
		t.finalEnd = end
	}

	t.complete = t.checkComplete()
	return false, t.complete
}

func (t *rxTransfer) overlaps(off, end int) bool {
	for _, r := range t.window {
		if off < r.end && r.off < end {
			return true
		}
	}
	return false
}

// checkComplete reports whether the received ranges merge into [0, total),
// total being the declared length or the end of the more=false block.
func (t *rxTransfer) checkComplete() bool {
	total := t.total
	if total == 0 {
		if t.finalEnd < 0 {
			return false
		}
		total = t.finalEnd
	}
	if t.received < total {
		return false
	}

	// Walk the covered prefix; the window is small, so the quadratic
	// scan is fine.
	covered := 0
	for covered < total {
		advanced := false
		for _, r := range t.window {
			if r.off <= covered && r.end > covered {
				covered = r.end
				advanced = true
			}
		}
		if !advanced {
			return false
		}
	}
	return true
}

// body returns the reassembled buffer; valid only once complete.
func (t *rxTransfer) body() []byte {
	total := t.total
	if total == 0 {
		total = t.finalEnd
	}
	if total < 0 || total > len(t.buf) {
		return t.buf
	}
	return t.buf[:total]
}

// seenMessage is the per-transfer duplicate filter on the carrying
// message-id.
func (t *rxTransfer) seenMessage(id uint16) bool {
	if t.lastMIDValid && t.lastMessageID == id {
		return true
	}
	t.lastMessageID = id
	t.lastMIDValid = true
	return false
}

func (t *rxTransfer) expired(cfg *Config) bool {
	return time.Since(t.lastActivity) > cfg.TransferLifetime
}
