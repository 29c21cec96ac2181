package coapkit

import "errors"

var (
	ErrTooManyRetries   = errors.New("too many retries")
	ErrTooManyPending   = errors.New("too many pending confirmable messages")
	ErrDuplicateToken   = errors.New("token already in use by an outstanding exchange")
	ErrMessageTooLarge  = errors.New("message exceeds negotiated maximum size")
	ErrSessionFailed    = errors.New("session transport failed")
	ErrSessionReleased  = errors.New("session released")
	ErrNotReady         = errors.New("session not ready")
	ErrCanceled         = errors.New("exchange canceled")
	ErrTimeout          = errors.New("timeout")
	ErrUnsupportedType  = errors.New("unsupported type of message")
	ErrTransferExpired  = errors.New("block transfer expired")
	ErrTransferMismatch = errors.New("block does not belong to the active transfer")
	ErrHopLimitReached  = errors.New("too many hops")
	ErrProxyLoop        = errors.New("proxy loop detected")
)
