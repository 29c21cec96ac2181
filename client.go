package coapkit

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	m "github.com/coapkit/coapkit/message"
)

const bootstrapPollInterval = 50 * time.Millisecond

// Ping submits an empty confirmable message; the peer answers with a
// Reset, delivered to the host as OnPong.
func (e *Engine) Ping(sess *Session) (uint16, error) {
	msg := m.NewCoAPMessageID(m.CON, m.CoapCodeEmpty, m.GenerateMessageID())
	return e.Submit(sess, msg)
}

// WaitReady is the engine's one blocking operation, used only for client
// bootstrap: it pings the peer and polls the host's I/O step function in
// a bounded loop until the session has seen traffic or the timeout runs
// out. Every other kind of waiting in the engine is a queue entry checked
// by Advance, never blocked execution.
func (e *Engine) WaitReady(sess *Session, stepper Stepper, timeout time.Duration) error {
	if sess.Ready() {
		return nil
	}
	if _, err := e.Ping(sess); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	poll := func() error {
		if sess.Failed() {
			return backoff.Permanent(ErrSessionFailed)
		}
		if err := stepper.Step(bootstrapPollInterval); err != nil {
			return backoff.Permanent(err)
		}
		if sess.Ready() {
			return nil
		}
		return ErrNotReady
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(bootstrapPollInterval), ctx)
	if err := backoff.Retry(poll, b); err != nil {
		if ctx.Err() != nil {
			return ErrTimeout
		}
		return err
	}
	return nil
}
