package coapkit

import (
	"bytes"

	m "github.com/coapkit/coapkit/message"
)

// checkProxy enforces the hop limit on proxied requests. A request whose
// budget is spent gets a 5.08 "too many hops" response carrying the
// engine's self-identifying marker in the diagnostic payload; otherwise
// the counter is decremented in place and the host's handler forwards the
// request upstream.
func (e *Engine) checkProxy(sess *Session, req *m.CoAPMessage) *m.CoAPMessage {
	if req.GetOption(m.OptionProxyURI) == nil && req.GetOption(m.OptionProxyScheme) == nil {
		return nil
	}

	hops := e.cfg.HopLimit
	if opt := req.GetOption(m.OptionHopLimit); opt != nil {
		hops = opt.IntValue()
	}

	if hops <= 1 {
		log.Noticef("hop limit reached for proxied request from %s", sess.Addr)
		resp := m.NewCoAPMessageID(m.ACK, m.CoapCodeHopLimitReached, req.MessageID)
		resp.Token = req.Token
		resp.Payload = m.NewBytesPayload(appendLoopMarker([]byte("too many hops"), e.marker))
		return resp
	}

	req.SetOption(m.OptionHopLimit, hops-1)
	return nil
}

// AppendLoopMarker tags a hop-limit diagnostic with this engine's marker
// before the host relays it downstream. A proxy host calls this on every
// 5.08 it forwards so loops become visible to the origin.
func (e *Engine) AppendLoopMarker(sess *Session, resp *m.CoAPMessage) {
	if resp.Code != m.CoapCodeHopLimitReached {
		return
	}
	diag := resp.GetPayload()
	if bytes.Contains(diag, []byte(e.marker)) {
		// Second pass through us: the response itself is looping.
		e.events.OnEvent(sess, EventProxyLoop)
		return
	}
	resp.Payload = m.NewBytesPayload(appendLoopMarker(diag, e.marker))
}

func appendLoopMarker(diag []byte, marker string) []byte {
	out := make([]byte, 0, len(diag)+len(marker)+1)
	out = append(out, diag...)
	out = append(out, ' ')
	out = append(out, marker...)
	return out
}
