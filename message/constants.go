package message

const PayloadMarker = 0xff

// CoapType is the reliability class of a message.
type CoapType uint8

const (
	CON CoapType = 0
	NON CoapType = 1
	ACK CoapType = 2
	RST CoapType = 3
)

type CoapMethod uint8

const (
	CoapMethodGet    CoapMethod = 1
	CoapMethodPost   CoapMethod = 2
	CoapMethodPut    CoapMethod = 3
	CoapMethodDelete CoapMethod = 4
)

// CoapCode packs class.detail into one byte: class = code >> 5, detail = code & 0x1f.
type CoapCode uint8

const (
	CoapCodeEmpty CoapCode = 0

	// Methods
	GET    CoapCode = 1
	POST   CoapCode = 2
	PUT    CoapCode = 3
	DELETE CoapCode = 4

	// Success responses (2.xx)
	CoapCodeCreated  CoapCode = 65 // 2.01
	CoapCodeDeleted  CoapCode = 66 // 2.02
	CoapCodeValid    CoapCode = 67 // 2.03
	CoapCodeChanged  CoapCode = 68 // 2.04
	CoapCodeContent  CoapCode = 69 // 2.05
	CoapCodeContinue CoapCode = 95 // 2.31

	// Client errors (4.xx)
	CoapCodeBadRequest               CoapCode = 128
	CoapCodeUnauthorized             CoapCode = 129
	CoapCodeBadOption                CoapCode = 130
	CoapCodeForbidden                CoapCode = 131
	CoapCodeNotFound                 CoapCode = 132
	CoapCodeMethodNotAllowed         CoapCode = 133
	CoapCodeNotAcceptable            CoapCode = 134
	CoapCodeRequestEntityIncomplete  CoapCode = 136 // 4.08
	CoapCodeConflict                 CoapCode = 137
	CoapCodePreconditionFailed       CoapCode = 140
	CoapCodeRequestEntityTooLarge    CoapCode = 141
	CoapCodeUnsupportedContentFormat CoapCode = 143

	// Server errors (5.xx)
	CoapCodeInternalServerError  CoapCode = 160
	CoapCodeNotImplemented       CoapCode = 161
	CoapCodeBadGateway           CoapCode = 162
	CoapCodeServiceUnavailable   CoapCode = 163
	CoapCodeGatewayTimeout       CoapCode = 164
	CoapCodeProxyingNotSupported CoapCode = 165
	CoapCodeHopLimitReached      CoapCode = 168 // 5.08

	// Signaling (7.xx), stream transports only
	CoapCodeCSM     CoapCode = 225 // 7.01
	CoapCodePing    CoapCode = 226 // 7.02
	CoapCodePong    CoapCode = 227 // 7.03
	CoapCodeRelease CoapCode = 228 // 7.04
	CoapCodeAbort   CoapCode = 229 // 7.05
)

func (c CoapCode) Class() uint8 {
	return uint8(c) >> 5
}

func (c CoapCode) IsRequest() bool {
	return c >= GET && c <= DELETE
}

func (c CoapCode) IsSuccess() bool {
	return c.Class() == 2
}

func (c CoapCode) IsClientError() bool {
	return c.Class() == 4
}

func (c CoapCode) IsServerError() bool {
	return c.Class() == 5
}

func (c CoapCode) IsError() bool {
	return c.IsClientError() || c.IsServerError()
}

func (c CoapCode) IsSignaling() bool {
	return c.Class() == 7
}

type MediaType int

const (
	MediaTypeTextPlain              MediaType = 0
	MediaTypeApplicationLinkFormat  MediaType = 40
	MediaTypeApplicationXML         MediaType = 41
	MediaTypeApplicationOctetStream MediaType = 42
	MediaTypeApplicationExi         MediaType = 47
	MediaTypeApplicationJSON        MediaType = 50
	MediaTypeApplicationCbor        MediaType = 60
)

type OptionCode uint16

const (
	OptionIfMatch       OptionCode = 1
	OptionURIHost       OptionCode = 3
	OptionEtag          OptionCode = 4
	OptionIfNoneMatch   OptionCode = 5
	OptionObserve       OptionCode = 6
	OptionURIPort       OptionCode = 7
	OptionLocationPath  OptionCode = 8
	OptionURIPath       OptionCode = 11
	OptionContentFormat OptionCode = 12
	OptionMaxAge        OptionCode = 14
	OptionURIQuery      OptionCode = 15
	OptionHopLimit      OptionCode = 16
	OptionAccept        OptionCode = 17
	OptionLocationQuery OptionCode = 20
	OptionBlock2        OptionCode = 23
	OptionBlock1        OptionCode = 27
	OptionSize2         OptionCode = 28
	OptionProxyURI      OptionCode = 35
	OptionProxyScheme   OptionCode = 39
	OptionSize1         OptionCode = 60
	OptionNoResponse    OptionCode = 258
)

// Signaling-class option numbers (own number space, RFC 8323 §5.3).
const (
	OptionCSMMaxMessageSize    OptionCode = 2
	OptionCSMBlockWiseTransfer OptionCode = 4
)

// No-Response bitmask values (RFC 7967).
const (
	NoResponseSuppressSuccess     = 0x02 // 2.xx
	NoResponseSuppressClientError = 0x08 // 4.xx
	NoResponseSuppressServerError = 0x10 // 5.xx
	NoResponseSuppressAll         = 0x1a
)

// Observe option register/deregister values.
const (
	ObserveRegister   = 0
	ObserveDeregister = 1
)

// Fixed header layout offsets.
const (
	DataHeader     = 0
	DataCode       = 1
	DataMsgIDStart = 2
	DataMsgIDEnd   = 4
	DataTokenStart = 4
)

const MaxTokenLength = 8
