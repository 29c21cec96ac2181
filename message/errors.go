package message

import "errors"

var (
	ErrPacketLengthLessThan4   = errors.New("packet length less than 4 bytes")
	ErrInvalidCoapVersion      = errors.New("invalid CoAP version, should be 1")
	ErrOptionDeltaUsesValue15  = errors.New("message format error: option delta has reserved value of 15")
	ErrOptionLengthUsesValue15 = errors.New("message format error: option length has reserved value of 15")
	ErrOptionTruncated         = errors.New("message format error: option runs past end of packet")
	ErrUnknownMessageType      = errors.New("unknown message type")
	ErrInvalidTokenLength      = errors.New("invalid token length ( > 8)")
	ErrUnknownCriticalOption   = errors.New("unknown critical option encountered")
	ErrEmptyPayloadMarker      = errors.New("message format error: payload marker with empty payload")
)
