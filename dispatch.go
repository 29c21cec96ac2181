package coapkit

import (
	"bytes"
	"encoding/binary"

	m "github.com/coapkit/coapkit/message"
)

// Deliver feeds one inbound datagram (or stream record) into the engine.
// Classification and routing follow the arriving message type; all state
// mutation happens inside this call path.
func (e *Engine) Deliver(sess *Session, data []byte) error {
	msg, err := m.Deserialize(data)
	if err != nil {
		// Malformed messages are dropped. A Reset goes back only when
		// the header is readable enough to prove a confirmable sender.
		if len(data) >= 4 && data[0]>>6 == 1 && m.CoapType(data[0]>>4&0x03) == m.CON {
			e.sendReset(sess, binary.BigEndian.Uint16(data[2:4]))
		}
		log.Debugf("dropping malformed message from %s: %v", sess.Addr, err)
		return err
	}

	sess.ready = true

	if sess.Kind.Reliable() && msg.Code.IsSignaling() {
		return e.handleSignaling(sess, msg)
	}

	switch msg.Type {
	case m.ACK:
		return e.handleACK(sess, msg)
	case m.RST:
		return e.handleRST(sess, msg)
	case m.NON:
		return e.handleNON(sess, msg)
	default:
		return e.handleCON(sess, msg)
	}
}

// handleACK matches the acknowledgment against the retransmission queue;
// an empty ACK ends processing (separate response to follow), a
// piggybacked one continues as a response.
func (e *Engine) handleACK(sess *Session, msg *m.CoAPMessage) error {
	node := e.queue.remove(sess, msg.MessageID)
	if node != nil {
		sess.activeCON--
		if node.notifyToken != nil {
			e.observers.markAlive(sess, msg.MessageID)
		}
		sess.Release()
	}

	if sess.seenACK(msg.MessageID) && node == nil {
		return nil // dedup window: repeat of the last acknowledgment
	}

	if msg.Code == m.CoapCodeEmpty {
		// Empty ACK: the peer took the request, the real response comes
		// as a separate confirmable later.
		return nil
	}

	return e.handleResponse(sess, msg, node)
}

// handleRST releases the matching queue entry and cancels observe state:
// a Reset answering a notification kills the subscription, and when the
// queue entry is already gone the subscriptions are scanned by
// message-id.
func (e *Engine) handleRST(sess *Session, msg *m.CoAPMessage) error {
	node := e.queue.remove(sess, msg.MessageID)
	if node == nil {
		if sub := e.observers.cancelByMessageID(sess, msg.MessageID); sub != nil {
			e.events.OnEvent(sess, EventObserveCanceled)
		}
		return nil
	}

	sess.activeCON--
	sess.releaseToken(node.msg.Token)
	defer sess.Release()

	if node.msg.Type == m.CON && node.msg.Code == m.CoapCodeEmpty {
		// RST answering an empty CON is the pong half of a CoAP ping.
		e.events.OnPong(sess, msg)
		return nil
	}

	if sub := e.observers.cancel(sess, node.msg.Token); sub != nil {
		e.events.OnEvent(sess, EventObserveCanceled)
	}
	e.events.OnNack(sess, node.msg, NackReset)
	return nil
}

// handleNON needs no retransmission bookkeeping on receipt, but an
// outstanding queue continuation with the same message-id is still
// removed.
func (e *Engine) handleNON(sess *Session, msg *m.CoAPMessage) error {
	if node := e.queue.remove(sess, msg.MessageID); node != nil {
		sess.activeCON--
		sess.Release()
	}

	if opt := msg.UnknownCriticalOption(e.known.has); opt != nil {
		log.Noticef("unknown critical option %d in NON from %s", opt.Code, sess.Addr)
		e.sendReset(sess, msg.MessageID)
		return m.ErrUnknownCriticalOption
	}

	if msg.Code == m.CoapCodeEmpty {
		return nil
	}
	if msg.IsRequest() {
		return e.handleRequest(sess, msg, false)
	}
	return e.handleResponse(sess, msg, nil)
}

// handleCON acknowledges, deduplicates and routes a confirmable message.
func (e *Engine) handleCON(sess *Session, msg *m.CoAPMessage) error {
	if sess.seenCON(msg.MessageID) {
		// Duplicate: the handler already ran, but the peer clearly
		// missed our ACK, so repeat it.
		if sess.lastACKSent != nil {
			if _, err := e.transport.Send(sess, sess.lastACKSent); err != nil {
				log.Errorf("re-ack to %s: %v", sess.Addr, err)
			}
		}
		return nil
	}

	if opt := msg.UnknownCriticalOption(e.known.has); opt != nil {
		log.Noticef("unknown critical option %d in CON from %s", opt.Code, sess.Addr)
		if msg.IsRequest() {
			resp := m.NewCoAPMessageID(m.ACK, m.CoapCodeBadOption, msg.MessageID)
			resp.Token = msg.Token
			resp.SetStringPayload("unknown critical option")
			return e.sendACK(sess, resp)
		}
		e.sendReset(sess, msg.MessageID)
		return m.ErrUnknownCriticalOption
	}

	if msg.Code == m.CoapCodeEmpty {
		// CoAP ping: answer with Reset, even over multicast-free paths;
		// a ping on a multicast session is nonsense and stays silent.
		e.events.OnPing(sess, msg)
		e.sendReset(sess, msg.MessageID)
		return nil
	}

	if msg.IsRequest() {
		return e.handleRequest(sess, msg, true)
	}

	// Separate confirmable response: acknowledge receipt, then treat as
	// a response.
	ack := m.NewCoAPMessageID(m.ACK, m.CoapCodeEmpty, msg.MessageID)
	if err := e.sendACK(sess, ack); err != nil {
		return err
	}
	return e.handleResponse(sess, msg, nil)
}

// handleRequest runs block1 reassembly, observe registration and the host
// handler, then synthesizes the acknowledgment: piggybacked when the
// result is ready in this pass, empty-ACK-now otherwise (separate
// response pattern).
func (e *Engine) handleRequest(sess *Session, msg *m.CoAPMessage, confirmable bool) error {
	if resp := e.checkProxy(sess, msg); resp != nil {
		return e.respond(sess, msg, resp, confirmable)
	}

	// Follow-up request for the next response block: the peer asking for
	// block n+1 acknowledges block n, and only that advances the
	// transfer. An observe notification body is kept for re-pulls until
	// the reuse lifetime runs out, other transfers only for their own
	// grace period.
	if block := msg.GetBlock2(); block != nil && block.BlockNumber > 0 &&
		sess.tx != nil && sess.tx.block2 && bytes.Equal(sess.tx.token, msg.Token) {
		observeReuse := e.observers.get(sess, msg.Token) != nil
		if sess.tx.expired(&e.cfg, observeReuse) {
			sess.tx = nil
		} else {
			return e.serveResponseBlock(sess, msg, block, confirmable)
		}
	}

	// Inbound large request body (responder side of block1).
	if block := msg.GetBlock1(); block != nil {
		done, err := e.absorbRequestBlock(sess, msg, block, confirmable)
		if err != nil || !done {
			return err
		}
		// Transfer complete: msg now carries the reassembled body.
	}

	if IsObserveRequest(msg) {
		e.observers.register(sess, msg.Token)
	} else if IsObserveCancel(msg) {
		if sub := e.observers.cancel(sess, msg.Token); sub != nil {
			e.events.OnEvent(sess, EventObserveCanceled)
		}
	}

	var result *HandlerResult
	if e.handler != nil {
		result = e.handler(sess, msg)
	} else {
		result = NewResponse(m.NewStringPayload("not found"), m.CoapCodeNotFound)
	}

	if result == nil {
		// Separate response: the handler will answer later on the same
		// token; acknowledge now so the peer stops retransmitting.
		if confirmable {
			ack := m.NewCoAPMessageID(m.ACK, m.CoapCodeEmpty, msg.MessageID)
			return e.sendACK(sess, ack)
		}
		return nil
	}

	resp := e.buildResponse(sess, msg, result, confirmable)

	if suppressResponse(msg, resp, sess, result.Flags, &e.cfg) {
		// Dropped, but a confirmable request still gets its empty ACK
		// so the peer does not keep retrying.
		if confirmable {
			ack := m.NewCoAPMessageID(m.ACK, m.CoapCodeEmpty, msg.MessageID)
			return e.sendACK(sess, ack)
		}
		return nil
	}

	return e.respond(sess, msg, resp, confirmable)
}

// buildResponse forms the response PDU, slicing off the first block when
// the body exceeds the negotiated block size.
func (e *Engine) buildResponse(sess *Session, req *m.CoAPMessage, result *HandlerResult, confirmable bool) *m.CoAPMessage {
	msgType := m.NON
	if confirmable {
		msgType = m.ACK
	}
	resp := m.NewCoAPMessageID(msgType, result.Code, req.MessageID)
	resp.Token = req.Token
	if result.MediaType >= 0 {
		resp.SetMediaType(result.MediaType)
	}
	if result.Payload != nil {
		resp.Payload = result.Payload
	}

	blockSize := sess.BlockSize(e.cfg.PreferredBlockSize)
	if resp.Payload != nil && resp.Payload.Length() > blockSize {
		bert := e.cfg.BERT && sess.PeerBERT
		sess.tx = newTxTransfer(resp, blockSize, bert, true)
		first := sess.tx.nextBlockMessage()
		first.Type = msgType
		first.MessageID = req.MessageID
		return first
	}
	return resp
}

// respond transmits a formed response, applying multicast leisure jitter.
func (e *Engine) respond(sess *Session, req, resp *m.CoAPMessage, confirmable bool) error {
	if sess.Multicast {
		// Jittered delay spreads multicast answers over the leisure
		// period; the response always goes out non-confirmable.
		resp.Type = m.NON
		resp.MessageID = m.GenerateMessageID()
		return e.sendDelayed(sess, resp, e.leisureJitter())
	}

	if confirmable {
		return e.sendACK(sess, resp)
	}
	_, err := e.send(sess, resp, nil)
	return err
}

// serveResponseBlock answers a follow-up block2 request out of the active
// outbound transfer.
func (e *Engine) serveResponseBlock(sess *Session, req *m.CoAPMessage, block *m.Block, confirmable bool) error {
	t := sess.tx

	if !t.ack(block.BlockNumber - 1) {
		// Out-of-order follow-up; the watermark has not reached the
		// requested block yet.
		log.Debugf("block2 request for %d before %d acked", block.BlockNumber, t.lastAcked+1)
	}

	next := t.nextBlockMessage()
	if next == nil {
		// Stale request past the end of the body.
		sess.tx = nil
		return nil
	}
	next.Token = req.Token
	if confirmable {
		next.Type = m.ACK
		next.MessageID = req.MessageID
		if err := e.sendACK(sess, next); err != nil {
			return err
		}
	} else {
		next.Type = m.NON
		if _, err := e.send(sess, next, nil); err != nil {
			return err
		}
	}

	if t.nextOffset >= len(t.body) && t.done() {
		sess.tx = nil
		e.events.OnEvent(sess, EventTransferComplete)
	}
	return nil
}

// absorbRequestBlock feeds one block1 slice into the inbound transfer.
// Returns done=true when the transfer completed and msg was rewritten to
// carry the whole body.
func (e *Engine) absorbRequestBlock(sess *Session, msg *m.CoAPMessage, block *m.Block, confirmable bool) (bool, error) {
	rx := sess.rxRequest
	if rx != nil && (rx.expired(&e.cfg) || !bytes.Equal(rx.token, msg.Token)) {
		// Stale or superseded transfer; the peer restarts from block 0.
		rx = nil
	}
	if rx == nil {
		rx = newRxTransfer(msg.Token, e.cfg.ReceiveWindowSize)
		if opt := msg.GetOption(m.OptionSize1); opt != nil {
			rx.total = opt.IntValue()
		}
		sess.rxRequest = rx
	}

	if rx.seenMessage(msg.MessageID) {
		// Duplicate carrier message; re-acknowledge and ignore.
		if confirmable && sess.lastACKSent != nil {
			_, err := e.transport.Send(sess, sess.lastACKSent)
			return false, err
		}
		return false, nil
	}

	offset := block.BlockNumber * block.BlockSize
	_, complete := rx.insert(offset, msg.GetPayload(), block.MoreBlocks)

	if !complete {
		if confirmable {
			cont := m.NewCoAPMessageID(m.ACK, m.CoapCodeContinue, msg.MessageID)
			cont.Token = msg.Token
			cont.SetBlock1(m.NewBlock(true, block.BlockNumber, block.BlockSize))
			return false, e.sendACK(sess, cont)
		}
		return false, nil
	}

	sess.rxRequest = nil
	e.events.OnEvent(sess, EventTransferComplete)
	msg.Payload = m.NewBytesPayload(rx.body())
	msg.RemoveOptions(m.OptionBlock1)
	return true, nil
}

// handleResponse routes a piggybacked or separate response: block
// continuations feed the transfer engine, everything else resolves the
// outstanding token.
func (e *Engine) handleResponse(sess *Session, msg *m.CoAPMessage, node *queueNode) error {
	// Continuation ack for an outbound block transfer.
	if block := msg.GetBlock1(); block != nil && msg.Code == m.CoapCodeContinue {
		e.continueTxTransfer(sess, block)
		return nil
	}

	// Inbound large response (requester side of block2).
	if block := msg.GetBlock2(); block != nil {
		return e.absorbResponseBlock(sess, msg, block)
	}

	if msg.Code == m.CoapCodeHopLimitReached && bytes.Contains(msg.GetPayload(), []byte(e.marker)) {
		// Our own marker came back in a hop-limit diagnostic: the
		// request looped through us.
		e.events.OnEvent(sess, EventProxyLoop)
	}

	e.deliverResponse(sess, msg)
	return nil
}

func (e *Engine) continueTxTransfer(sess *Session, block *m.Block) {
	t := sess.tx
	if t == nil {
		return
	}
	if t.expired(&e.cfg, false) {
		sess.tx = nil
		return
	}

	// Advance only on the in-order acknowledgment; an ack for a later
	// block waits until the gap closes.
	if !t.ack(block.BlockNumber) {
		return
	}

	if next := t.nextBlockMessage(); next != nil {
		next.Type = m.CON
		if _, err := e.send(sess, next, nil); err != nil {
			log.Errorf("block continuation to %s: %v", sess.Addr, err)
			sess.tx = nil
			e.events.OnNack(sess, t.origMessage, NackTransportFailed)
		}
		return
	}

	if t.done() {
		sess.tx = nil
		e.events.OnEvent(sess, EventTransferComplete)
	}
}

func (e *Engine) absorbResponseBlock(sess *Session, msg *m.CoAPMessage, block *m.Block) error {
	rx := sess.rxResponse
	if rx != nil && (rx.expired(&e.cfg) || !bytes.Equal(rx.token, msg.Token)) {
		rx = nil
	}
	if rx == nil {
		rx = newRxTransfer(msg.Token, e.cfg.ReceiveWindowSize)
		if opt := msg.GetOption(m.OptionSize2); opt != nil {
			rx.total = opt.IntValue()
		}
		sess.rxResponse = rx
	}

	if rx.seenMessage(msg.MessageID) {
		return nil
	}

	offset := block.BlockNumber * block.BlockSize
	_, complete := rx.insert(offset, msg.GetPayload(), block.MoreBlocks)

	if complete {
		sess.rxResponse = nil
		e.events.OnEvent(sess, EventTransferComplete)
		full := msg.Clone(false)
		full.Payload = m.NewBytesPayload(rx.body())
		full.RemoveOptions(m.OptionBlock2)
		e.deliverResponse(sess, full)
		return nil
	}

	// Ask for the next block we do not have yet.
	next := m.NewCoAPMessageID(m.CON, m.GET, m.GenerateMessageID())
	next.Token = msg.Token
	next.SetBlock2(m.NewBlock(false, block.BlockNumber+1, block.BlockSize))
	_, err := e.send(sess, next, nil)
	return err
}

func (e *Engine) deliverResponse(sess *Session, msg *m.CoAPMessage) {
	if !sess.hasToken(msg.Token) && e.observers.get(sess, msg.Token) == nil {
		// Response to nothing we asked: reject so the peer stops.
		if msg.Type == m.CON {
			e.sendReset(sess, msg.MessageID)
		}
		log.Debugf("response with unknown token %x from %s", msg.Token, sess.Addr)
		return
	}

	if sess.tx != nil && bytes.Equal(sess.tx.token, msg.Token) {
		// Final response of an outbound block1 transfer.
		sess.tx = nil
		e.events.OnEvent(sess, EventTransferComplete)
	}

	if msg.GetOption(m.OptionObserve) == nil {
		// Observe responses keep the token claimed; a plain response
		// ends the exchange.
		sess.releaseToken(msg.Token)
	}
	e.events.OnResponse(sess, msg)
}

// handleSignaling serves the 7.xx connection-management class on stream
// transports.
func (e *Engine) handleSignaling(sess *Session, msg *m.CoAPMessage) error {
	switch msg.Code {
	case m.CoapCodeCSM:
		if opt := msg.GetOption(m.OptionCSMMaxMessageSize); opt != nil {
			sess.PeerMaxMessageSize = opt.IntValue()
		}
		if msg.GetOption(m.OptionCSMBlockWiseTransfer) != nil {
			sess.PeerBERT = true
		}
		return nil
	case m.CoapCodePing:
		e.events.OnPing(sess, msg)
		pong := m.NewCoAPMessageID(m.NON, m.CoapCodePong, msg.MessageID)
		pong.Token = msg.Token
		_, err := e.send(sess, pong, nil)
		return err
	case m.CoapCodePong:
		e.events.OnPong(sess, msg)
		return nil
	case m.CoapCodeRelease, m.CoapCodeAbort:
		e.SessionFailed(sess)
		return nil
	}
	return ErrUnsupportedType
}

// sendACK transmits an acknowledgment and remembers its wire form for
// duplicate-CON replay.
func (e *Engine) sendACK(sess *Session, ack *m.CoAPMessage) error {
	data, err := m.Serialize(ack)
	if err != nil {
		return err
	}
	sess.lastACKSent = data
	_, err = e.transport.Send(sess, data)
	return err
}

// sendReset replies RST; suppressed entirely on multicast sessions.
func (e *Engine) sendReset(sess *Session, messageID uint16) {
	if sess.Multicast {
		return
	}
	rst := m.NewCoAPMessageID(m.RST, m.CoapCodeEmpty, messageID)
	data, err := m.Serialize(rst)
	if err != nil {
		return
	}
	if _, err := e.transport.Send(sess, data); err != nil {
		log.Errorf("reset to %s: %v", sess.Addr, err)
	}
}
