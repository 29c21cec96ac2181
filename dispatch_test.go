package coapkit

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "github.com/coapkit/coapkit/message"
)

// pipeTransport buffers outbound frames so a test harness can shuttle
// them between two engines outside the Send call.
type pipeTransport struct {
	outbox [][]byte
}

func (p *pipeTransport) Send(_ *Session, data []byte) (int, error) {
	frame := make([]byte, len(data))
	copy(frame, data)
	p.outbox = append(p.outbox, frame)
	return len(data), nil
}

// enginePair wires two engines back to back over buffered pipes.
type enginePair struct {
	client, server *Engine
	sessC, sessS   *Session
	recC, recS     *recorder
	pipeC, pipeS   *pipeTransport
}

func newEnginePair(cfgC, cfgS Config) *enginePair {
	p := &enginePair{
		pipeC: &pipeTransport{},
		pipeS: &pipeTransport{},
		recC:  &recorder{},
		recS:  &recorder{},
	}
	p.client = NewEngine(cfgC, p.pipeC, p.recC)
	p.server = NewEngine(cfgS, p.pipeS, p.recS)
	p.sessC = p.client.NewSession("server:5683", TransportUDP)
	p.sessS = p.server.NewSession("client:49152", TransportUDP)
	return p
}

// pump shuttles buffered frames between the two engines until both
// sides go quiet.
func (p *enginePair) pump(t *testing.T) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		if len(p.pipeC.outbox) == 0 && len(p.pipeS.outbox) == 0 {
			return
		}
		if len(p.pipeC.outbox) > 0 {
			frame := p.pipeC.outbox[0]
			p.pipeC.outbox = p.pipeC.outbox[1:]
			_ = p.server.Deliver(p.sessS, frame)
		}
		if len(p.pipeS.outbox) > 0 {
			frame := p.pipeS.outbox[0]
			p.pipeS.outbox = p.pipeS.outbox[1:]
			_ = p.client.Deliver(p.sessC, frame)
		}
	}
	t.Fatal("frame exchange did not settle")
}

// A request body of 3.5 block sizes crosses as 4 block1 slices; the
// server hands the handler the reassembled body and the client sees the
// final response.
func TestBlock1RoundTrip(t *testing.T) {
	cfg := Config{PreferredBlockSize: 16, NStart: 4}
	p := newEnginePair(cfg, cfg)

	body := makeBody(16*3 + 8)
	var serverSaw []byte
	p.server.SetRequestHandler(func(sess *Session, req *m.CoAPMessage) *HandlerResult {
		serverSaw = req.GetPayload()
		return NewResponse(m.NewStringPayload("stored"), m.CoapCodeChanged)
	})

	req := m.NewCoAPMessage(m.CON, m.POST)
	req.SetURIPath("/upload")
	req.Payload = m.NewBytesPayload(body)
	_, err := p.client.Submit(p.sessC, req)
	require.NoError(t, err)
	p.pump(t)

	require.True(t, bytes.Equal(body, serverSaw), "server must see the reassembled body")
	require.Len(t, p.recC.responses, 1)
	assert.Equal(t, "stored", p.recC.responses[0].Payload.String())
	assert.Equal(t, m.CoapCodeChanged, p.recC.responses[0].Code)
	assert.True(t, p.recC.hasEvent(EventTransferComplete))
	assert.True(t, p.recS.hasEvent(EventTransferComplete))
}

// A large response crosses as block2 slices pulled by follow-up requests.
func TestBlock2RoundTrip(t *testing.T) {
	cfg := Config{PreferredBlockSize: 16, NStart: 4}
	p := newEnginePair(cfg, cfg)

	body := makeBody(16*3 + 8)
	p.server.SetRequestHandler(func(sess *Session, req *m.CoAPMessage) *HandlerResult {
		return NewResponse(m.NewBytesPayload(body), m.CoapCodeContent)
	})

	req := m.NewCoAPMessage(m.CON, m.GET)
	req.SetURIPath("/download")
	_, err := p.client.Submit(p.sessC, req)
	require.NoError(t, err)
	p.pump(t)

	require.Len(t, p.recC.responses, 1)
	assert.True(t, bytes.Equal(body, p.recC.responses[0].GetPayload()),
		"client must reassemble the full response body")
	assert.Nil(t, p.recC.responses[0].GetBlock2(), "block option stripped from the final response")
	assert.True(t, p.recC.hasEvent(EventTransferComplete))
}

// Multicast requests get jittered, non-confirmable answers, and only
// when the resource opted in.
func TestMulticastResponseJitter(t *testing.T) {
	e, tr, _ := newTestEngine(Config{})
	sess := e.NewSession("224.0.1.187:5683", TransportUDP)
	sess.Multicast = true

	e.SetRequestHandler(func(sess *Session, req *m.CoAPMessage) *HandlerResult {
		r := NewResponse(m.NewStringPayload("here"), m.CoapCodeContent)
		r.Flags = ResourceFlagMulticastEnabled
		return r
	})

	req := m.NewCoAPMessageID(m.NON, m.GET, 0x600)
	req.Token = []byte{0x21}
	require.NoError(t, e.Deliver(sess, wire(t, req)))

	assert.Empty(t, tr.frames, "multicast answer must wait out the leisure jitter")

	e.Advance(e.cfg.Leisure)
	require.Len(t, tr.frames, 1)
	resp := tr.last()
	require.NotNil(t, resp)
	assert.Equal(t, m.NON, resp.Type, "multicast answers are never confirmable")
	assert.Equal(t, "here", resp.Payload.String())

	// No duplicate transmission later: the delayed entry is one-shot.
	e.Advance(1 << 40)
	assert.Len(t, tr.frames, 1)
}

func TestMulticastSuppression(t *testing.T) {
	e, tr, _ := newTestEngine(Config{})
	sess := e.NewSession("224.0.1.187:5683", TransportUDP)
	sess.Multicast = true

	// Resource did not opt into multicast: silence.
	e.SetRequestHandler(func(sess *Session, req *m.CoAPMessage) *HandlerResult {
		return NewResponse(m.NewStringPayload("x"), m.CoapCodeContent)
	})
	req := m.NewCoAPMessageID(m.NON, m.GET, 0x601)
	req.Token = []byte{0x22}
	require.NoError(t, e.Deliver(sess, wire(t, req)))
	e.Advance(1 << 40)
	assert.Empty(t, tr.frames)

	// Error classes stay suppressed even for an opted-in resource.
	e.SetRequestHandler(func(sess *Session, req *m.CoAPMessage) *HandlerResult {
		r := NewResponse(m.NewStringPayload("nope"), m.CoapCodeNotFound)
		r.Flags = ResourceFlagMulticastEnabled
		return r
	})
	req = m.NewCoAPMessageID(m.NON, m.GET, 0x602)
	req.Token = []byte{0x23}
	require.NoError(t, e.Deliver(sess, wire(t, req)))
	e.Advance(1 << 41)
	assert.Empty(t, tr.frames)
}

func TestMulticastNoReset(t *testing.T) {
	e, tr, _ := newTestEngine(Config{})
	sess := e.NewSession("224.0.1.187:5683", TransportUDP)
	sess.Multicast = true

	// Malformed confirmable: a unicast sender would draw a Reset.
	junk := []byte{0x40, 0x01, 0x0a, 0x0b, 0xf1, 0x00}
	assert.Error(t, e.Deliver(sess, junk))
	assert.Empty(t, tr.frames, "never Reset a multicast source")
}

// The No-Response hint drops the response but a confirmable request is
// still acknowledged so the peer stops retrying.
func TestNoResponseDropButAck(t *testing.T) {
	e, tr, _ := newTestEngine(Config{})
	sess := e.NewSession("10.0.0.20:5683", TransportUDP)

	e.SetRequestHandler(func(sess *Session, req *m.CoAPMessage) *HandlerResult {
		return NewResponse(m.NewStringPayload("ok"), m.CoapCodeContent)
	})

	req := m.NewCoAPMessageID(m.CON, m.POST, 0x700)
	req.Token = []byte{0x31}
	req.AddOption(m.OptionNoResponse, m.NoResponseSuppressSuccess)
	require.NoError(t, e.Deliver(sess, wire(t, req)))

	require.Len(t, tr.frames, 1)
	ack := tr.last()
	require.NotNil(t, ack)
	assert.Equal(t, m.ACK, ack.Type)
	assert.Equal(t, m.CoapCodeEmpty, ack.Code, "suppressed response still gets an empty ACK")
	assert.Equal(t, uint16(0x700), ack.MessageID)
}

// CSM signaling on a stream session updates the negotiated limits and
// never reaches the request path.
func TestSignalingCSMAndPing(t *testing.T) {
	e, tr, rec := newTestEngine(Config{})
	sess := e.NewSession("10.0.0.21:5684", TransportTCP)

	csm := m.NewCoAPMessageID(m.CON, m.CoapCodeCSM, 0x800)
	csm.AddOption(m.OptionCSMMaxMessageSize, 2048)
	csm.AddOption(m.OptionCSMBlockWiseTransfer, nil)
	require.NoError(t, e.Deliver(sess, wire(t, csm)))
	assert.Equal(t, 2048, sess.PeerMaxMessageSize)
	assert.True(t, sess.PeerBERT)

	ping := m.NewCoAPMessageID(m.CON, m.CoapCodePing, 0x801)
	ping.Token = []byte{0x41}
	require.NoError(t, e.Deliver(sess, wire(t, ping)))
	assert.Equal(t, 1, rec.pings)

	pong := tr.last()
	require.NotNil(t, pong)
	assert.Equal(t, m.CoapCodePong, pong.Code)
	assert.Equal(t, []byte{0x41}, pong.Token)
}

func TestSignalingReleaseFailsSession(t *testing.T) {
	e, _, rec := newTestEngine(Config{})
	sess := e.NewSession("10.0.0.22:5684", TransportTCP)

	release := m.NewCoAPMessageID(m.CON, m.CoapCodeRelease, 0x900)
	require.NoError(t, e.Deliver(sess, wire(t, release)))
	assert.True(t, sess.Failed())
	assert.True(t, rec.hasEvent(EventSessionClosed))
}

func TestSuppressResponsePrecedence(t *testing.T) {
	cfg := &Config{}
	cfg.normalize()
	unicast := &Session{Addr: "u"}
	mcast := &Session{Addr: "m", Multicast: true}

	req := m.NewCoAPMessage(m.CON, m.GET)
	resp := m.NewCoAPMessageID(m.ACK, m.CoapCodeContent, req.MessageID)

	assert.False(t, suppressResponse(req, resp, unicast, ResourceFlagNone, cfg))

	// Request hint wins over everything.
	hinted := req.Clone(false)
	hinted.AddOption(m.OptionNoResponse, m.NoResponseSuppressSuccess)
	assert.True(t, suppressResponse(hinted, resp, unicast, ResourceFlagMulticastEnabled, cfg))

	// Multicast needs the resource opt-in.
	assert.True(t, suppressResponse(req, resp, mcast, ResourceFlagNone, cfg))
	assert.False(t, suppressResponse(req, resp, mcast, ResourceFlagMulticastEnabled, cfg))

	// Error classes: suppressed by default, resource flag overrides,
	// engine config overrides.
	errResp := m.NewCoAPMessageID(m.ACK, m.CoapCodeNotFound, req.MessageID)
	assert.True(t, suppressResponse(req, errResp, mcast, ResourceFlagMulticastEnabled, cfg))
	assert.False(t, suppressResponse(req, errResp, mcast,
		ResourceFlagMulticastEnabled|ResourceFlagMulticastErrors, cfg))

	permissive := *cfg
	permissive.MulticastErrorReplies = true
	assert.False(t, suppressResponse(req, errResp, mcast, ResourceFlagMulticastEnabled, &permissive))
}
