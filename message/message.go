package message

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("coapkit.message")

// A CoAPMessage is one protocol data unit. Once handed to the engine for
// transmission it must be treated as immutable.
type CoAPMessage struct {
	MessageID uint16
	Type      CoapType
	Code      CoapCode
	Payload   CoAPMessagePayload
	Token     []byte
	Options   []*CoAPMessageOption
}

func NewCoAPMessage(messageType CoapType, messageCode CoapCode) *CoAPMessage {
	return &CoAPMessage{
		MessageID: GenerateMessageID(),
		Type:      messageType,
		Code:      messageCode,
		Payload:   NewEmptyPayload(),
		Token:     GenerateToken(6),
	}
}

func NewCoAPMessageID(messageType CoapType, messageCode CoapCode, messageID uint16) *CoAPMessage {
	return &CoAPMessage{
		MessageID: messageID,
		Type:      messageType,
		Code:      messageCode,
		Payload:   NewEmptyPayload(),
	}
}

// Deserialize converts a datagram to a message object. The header and
// option encoding is validated; option semantics (unknown critical options
// in particular) are left to the dispatcher, which knows which options the
// engine understands.
func Deserialize(data []byte) (*CoAPMessage, error) {
	if len(data) < 4 {
		return nil, ErrPacketLengthLessThan4
	}

	if data[DataHeader]>>6 != 1 {
		return nil, ErrInvalidCoapVersion
	}

	msg := &CoAPMessage{
		Type:      CoapType(data[DataHeader] >> 4 & 0x03),
		Code:      CoapCode(data[DataCode]),
		MessageID: binary.BigEndian.Uint16(data[DataMsgIDStart:DataMsgIDEnd]),
	}

	tokenLength := int(data[DataHeader] & 0x0f)
	if tokenLength > MaxTokenLength {
		return nil, ErrInvalidTokenLength
	}
	if len(data) < DataTokenStart+tokenLength {
		return nil, ErrPacketLengthLessThan4
	}
	if tokenLength > 0 {
		msg.Token = make([]byte, tokenLength)
		copy(msg.Token, data[DataTokenStart:DataTokenStart+tokenLength])
	}

	rest, err := msg.parseOptions(data[DataTokenStart+tokenLength:])
	if err != nil {
		return nil, err
	}

	msg.Payload = NewBytesPayload(rest)

	if err := msg.validate(); err != nil {
		return nil, err
	}

	return msg, nil
}

// parseOptions consumes the delta-encoded option sequence and returns the
// payload bytes that follow the 0xFF marker, if any.
func (m *CoAPMessage) parseOptions(tmp []byte) ([]byte, error) {
	lastOptionID := uint16(0)

	for len(tmp) > 0 {
		if tmp[0] == PayloadMarker {
			if len(tmp) == 1 {
				return nil, ErrEmptyPayloadMarker
			}
			return tmp[1:], nil
		}

		optionDelta := uint16(tmp[0] >> 4)
		optionLength := uint16(tmp[0] & 0x0f)
		tmp = tmp[1:]

		switch optionDelta {
		case 13:
			if len(tmp) < 1 {
				return nil, ErrOptionTruncated
			}
			optionDelta = uint16(tmp[0]) + 13
			tmp = tmp[1:]
		case 14:
			if len(tmp) < 2 {
				return nil, ErrOptionTruncated
			}
			optionDelta = binary.BigEndian.Uint16(tmp[:2]) + 269
			tmp = tmp[2:]
		case 15:
			return nil, ErrOptionDeltaUsesValue15
		}

		switch optionLength {
		case 13:
			if len(tmp) < 1 {
				return nil, ErrOptionTruncated
			}
			optionLength = uint16(tmp[0]) + 13
			tmp = tmp[1:]
		case 14:
			if len(tmp) < 2 {
				return nil, ErrOptionTruncated
			}
			optionLength = binary.BigEndian.Uint16(tmp[:2]) + 269
			tmp = tmp[2:]
		case 15:
			return nil, ErrOptionLengthUsesValue15
		}

		if int(optionLength) > len(tmp) {
			return nil, ErrOptionTruncated
		}

		lastOptionID += optionDelta

		value := make([]byte, optionLength)
		copy(value, tmp[:optionLength])
		m.Options = append(m.Options, &CoAPMessageOption{
			Code:  OptionCode(lastOptionID),
			Value: value,
		})

		tmp = tmp[optionLength:]
	}

	return nil, nil
}

func (m *CoAPMessage) validate() error {
	if m.Type > RST {
		return ErrUnknownMessageType
	}
	if m.GetTokenLength() > MaxTokenLength {
		return ErrInvalidTokenLength
	}

	// A repeated non-repeatable critical option is a format error.
	for _, opt := range m.Options {
		if opts := m.GetOptions(opt.Code); len(opts) > 1 {
			if !opts[0].IsRepeatable() && opts[0].IsCritical() {
				return ErrUnknownCriticalOption
			}
		}
	}
	return nil
}

// Serialize converts a message object to its wire form.
func Serialize(msg *CoAPMessage) ([]byte, error) {
	buf := bytes.Buffer{}
	buf.WriteByte((1 << 6) | (uint8(msg.Type) << 4) | 0x0f&msg.GetTokenLength())
	buf.WriteByte(byte(msg.Code))

	messageID := []byte{0, 0}
	binary.BigEndian.PutUint16(messageID, msg.MessageID)
	buf.Write(messageID)
	buf.Write(msg.Token)

	sort.Stable(sortOptions(msg.Options))

	lastOptionCode := 0
	for _, opt := range msg.Options {
		optDelta := int(opt.Code) - lastOptionCode
		optLength := len(opt.Value)

		deltaNibble, err := nibbleValue(optDelta)
		if err != nil {
			return nil, err
		}
		lengthNibble, err := nibbleValue(optLength)
		if err != nil {
			return nil, err
		}

		buf.WriteByte(byte(deltaNibble<<4 | lengthNibble))

		switch deltaNibble {
		case 13:
			buf.WriteByte(byte(optDelta - 13))
		case 14:
			ext := []byte{0, 0}
			binary.BigEndian.PutUint16(ext, uint16(optDelta-269))
			buf.Write(ext)
		}

		switch lengthNibble {
		case 13:
			buf.WriteByte(byte(optLength - 13))
		case 14:
			ext := []byte{0, 0}
			binary.BigEndian.PutUint16(ext, uint16(optLength-269))
			buf.Write(ext)
		}

		buf.Write(opt.Value)
		lastOptionCode = int(opt.Code)
	}

	if msg.Payload != nil && msg.Payload.Length() > 0 {
		buf.WriteByte(PayloadMarker)
		buf.Write(msg.Payload.Bytes())
	}

	return buf.Bytes(), nil
}

// UnknownCriticalOption returns the first critical option the engine does
// not understand, per the known-option predicate, or nil.
func (m *CoAPMessage) UnknownCriticalOption(known func(OptionCode) bool) *CoAPMessageOption {
	for _, opt := range m.Options {
		if opt.IsCritical() && !known(opt.Code) {
			return opt
		}
	}
	return nil
}

func (m *CoAPMessage) Clone(includePayload bool) *CoAPMessage {
	clone := NewCoAPMessageID(m.Type, m.Code, m.MessageID)
	clone.Token = m.Token
	clone.Options = append([]*CoAPMessageOption(nil), m.Options...)
	if includePayload {
		clone.Payload = m.Payload
	}
	return clone
}

func (m *CoAPMessage) GetOption(code OptionCode) *CoAPMessageOption {
	for _, opt := range m.Options {
		if opt.Code == code {
			return opt
		}
	}
	return nil
}

func (m *CoAPMessage) GetOptions(code OptionCode) []*CoAPMessageOption {
	var result []*CoAPMessageOption
	for _, opt := range m.Options {
		if opt.Code == code {
			result = append(result, opt)
		}
	}
	return result
}

func (m *CoAPMessage) GetOptionsAsString(code OptionCode) []string {
	opts := m.GetOptions(code)

	var result []string
	for _, opt := range opts {
		if opt.Value != nil {
			result = append(result, opt.StringValue())
		}
	}
	return result
}

func (m *CoAPMessage) AddOption(code OptionCode, value interface{}) *CoAPMessageOption {
	opt := NewOption(code, value)
	m.Options = append(m.Options, opt)
	return opt
}

// SetOption replaces every instance of the option with a single value.
func (m *CoAPMessage) SetOption(code OptionCode, value interface{}) *CoAPMessageOption {
	m.RemoveOptions(code)
	return m.AddOption(code, value)
}

func (m *CoAPMessage) RemoveOptions(code OptionCode) {
	var kept []*CoAPMessageOption
	for _, opt := range m.Options {
		if opt.Code != code {
			kept = append(kept, opt)
		}
	}
	m.Options = kept
}

func (m *CoAPMessage) GetMethod() CoapMethod {
	switch m.Code {
	case GET:
		return CoapMethodGet
	case POST:
		return CoapMethodPost
	case PUT:
		return CoapMethodPut
	case DELETE:
		return CoapMethodDelete
	default:
		return 0
	}
}

func (m *CoAPMessage) GetTokenLength() uint8 {
	return uint8(len(m.Token))
}

func (m *CoAPMessage) GetTokenString() string {
	return string(m.Token)
}

func (m *CoAPMessage) GetMessageIDString() string {
	return strconv.Itoa(int(m.MessageID))
}

func (m *CoAPMessage) GetPayload() []byte {
	if m.Payload == nil {
		return nil
	}
	return m.Payload.Bytes()
}

func (m *CoAPMessage) SetMediaType(mt MediaType) {
	m.AddOption(OptionContentFormat, mt)
}

func (m *CoAPMessage) SetStringPayload(s string) {
	m.Payload = NewStringPayload(s)
}

func (m *CoAPMessage) SetURIPath(fullPath string) {
	for _, path := range strings.Split(fullPath, "/") {
		if path != "" {
			m.AddOption(OptionURIPath, path)
		}
	}
}

func (m *CoAPMessage) GetURIPath() string {
	return "/" + strings.Join(m.GetOptionsAsString(OptionURIPath), "/")
}

func (m *CoAPMessage) SetURIQuery(k string, v string) {
	m.AddOption(OptionURIQuery, k+"="+v)
}

func (m *CoAPMessage) GetURIQuery(q string) string {
	for _, v := range m.GetOptionsAsString(OptionURIQuery) {
		kv := strings.SplitN(v, "=", 2)
		if len(kv) == 2 && kv[0] == q {
			return kv[1]
		}
	}
	return ""
}

func (m *CoAPMessage) SetToken(t []byte) {
	m.Token = t
}

func (m *CoAPMessage) IsRequest() bool {
	return m.Code.IsRequest()
}

// GetBlock1 returns the request-body block option, or nil.
func (m *CoAPMessage) GetBlock1() *Block {
	if opt := m.GetOption(OptionBlock1); opt != nil {
		return NewBlockFromInt(opt.IntValue())
	}
	return nil
}

// GetBlock2 returns the response-body block option, or nil.
func (m *CoAPMessage) GetBlock2() *Block {
	if opt := m.GetOption(OptionBlock2); opt != nil {
		return NewBlockFromInt(opt.IntValue())
	}
	return nil
}

func (m *CoAPMessage) SetBlock1(block *Block) {
	m.SetOption(OptionBlock1, block.ToInt())
}

func (m *CoAPMessage) SetBlock2(block *Block) {
	m.SetOption(OptionBlock2, block.ToInt())
}

// GetNoResponse returns the RFC 7967 suppression bitmask carried by the
// message, or 0 when absent.
func (m *CoAPMessage) GetNoResponse() int {
	if opt := m.GetOption(OptionNoResponse); opt != nil {
		return opt.IntValue()
	}
	return 0
}

func (m *CoAPMessage) GetCodeString() string {
	return fmt.Sprintf("%d.%02d", m.Code.Class(), uint8(m.Code)&0x1f)
}

func (m *CoAPMessage) ToReadableString() string {
	options := ""
	for _, option := range m.Options {
		options += fmt.Sprintf("%v: '%v' ", optionCodeToString(option.Code), option.Value)
	}

	return fmt.Sprintf("%v\t%v\t%v\t%v\t[%v]",
		typeString(m.Type), m.GetCodeString(), m.GetTokenString(), m.MessageID, options)
}

func typeString(c CoapType) string {
	switch c {
	case CON:
		return "CON"
	case NON:
		return "NON"
	case ACK:
		return "ACK"
	case RST:
		return "RST"
	}
	return ""
}
