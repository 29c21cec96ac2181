package message

import (
	"encoding/binary"
	"errors"
)

// A CoAPMessageOption is a single (number, value) pair. Values are kept in
// their wire form; typed accessors decode on demand.
type CoAPMessageOption struct {
	Code  OptionCode
	Value []byte
}

func NewOption(code OptionCode, value interface{}) *CoAPMessageOption {
	return &CoAPMessageOption{Code: code, Value: valueToBytes(value)}
}

// IsCritical reports whether the option must be understood by the receiver
// (odd option numbers are critical per RFC 7252 §5.4.1).
func (o *CoAPMessageOption) IsCritical() bool {
	return o.Code&0x01 == 1
}

func (o *CoAPMessageOption) IsElective() bool {
	return !o.IsCritical()
}

func (o *CoAPMessageOption) IsRepeatable() bool {
	switch o.Code {
	case OptionIfMatch, OptionEtag, OptionLocationPath, OptionURIPath,
		OptionURIQuery, OptionLocationQuery:
		return true
	}
	return false
}

func (o *CoAPMessageOption) IntValue() int {
	v, err := decodeInt(o.Value)
	if err != nil {
		return 0
	}
	return int(v)
}

func (o *CoAPMessageOption) StringValue() string {
	return string(o.Value)
}

type sortOptions []*CoAPMessageOption

func (opts sortOptions) Len() int      { return len(opts) }
func (opts sortOptions) Swap(i, j int) { opts[i], opts[j] = opts[j], opts[i] }
func (opts sortOptions) Less(i, j int) bool {
	return opts[i].Code < opts[j].Code
}

// nibbleValue maps an option delta or length to its 4-bit header value,
// 13 and 14 selecting the extended encodings.
func nibbleValue(v int) (int, error) {
	switch {
	case v <= 12:
		return v, nil
	case v <= 268:
		return 13, nil
	case v <= 65804:
		return 14, nil
	}
	return 0, errors.New("option delta or length out of range")
}

func valueToBytes(value interface{}) []byte {
	var v uint32

	switch i := value.(type) {
	case nil:
		return nil
	case string:
		return []byte(i)
	case []byte:
		return i
	case MediaType:
		v = uint32(i)
	case byte:
		v = uint32(i)
	case int:
		v = uint32(i)
	case int32:
		v = uint32(i)
	case uint:
		v = uint32(i)
	case uint16:
		v = uint32(i)
	case uint32:
		v = i
	}

	return encodeInt(v)
}

func decodeInt(b []byte) (uint32, error) {
	if len(b) > 4 {
		return 0, errors.New("uint option longer than 4 bytes")
	}
	tmp := []byte{0, 0, 0, 0}
	copy(tmp[4-len(b):], b)
	return binary.BigEndian.Uint32(tmp), nil
}

func encodeInt(v uint32) []byte {
	switch {
	case v == 0:
		return nil
	case v < 256:
		return []byte{byte(v)}
	case v < 65536:
		rv := []byte{0, 0}
		binary.BigEndian.PutUint16(rv, uint16(v))
		return rv
	default:
		rv := []byte{0, 0, 0, 0}
		binary.BigEndian.PutUint32(rv, v)
		return rv
	}
}

func optionCodeToString(option OptionCode) string {
	switch option {
	case OptionIfMatch:
		return "IfMatch"
	case OptionURIHost:
		return "URIHost"
	case OptionEtag:
		return "Etag"
	case OptionIfNoneMatch:
		return "IfNoneMatch"
	case OptionObserve:
		return "Observe"
	case OptionURIPort:
		return "URIPort"
	case OptionLocationPath:
		return "LocationPath"
	case OptionURIPath:
		return "URIPath"
	case OptionContentFormat:
		return "ContentFormat"
	case OptionMaxAge:
		return "MaxAge"
	case OptionURIQuery:
		return "URIQuery"
	case OptionHopLimit:
		return "HopLimit"
	case OptionAccept:
		return "Accept"
	case OptionLocationQuery:
		return "LocationQuery"
	case OptionBlock2:
		return "Block2"
	case OptionBlock1:
		return "Block1"
	case OptionSize2:
		return "Size2"
	case OptionProxyURI:
		return "ProxyURI"
	case OptionProxyScheme:
		return "ProxyScheme"
	case OptionSize1:
		return "Size1"
	case OptionNoResponse:
		return "NoResponse"
	default:
		return "Unknown"
	}
}
