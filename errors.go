package plasmodesmata

import "fmt"

// ErrorCode is an HTTP/2 error code as carried by RST_STREAM and GOAWAY
// frames (https://tools.ietf.org/html/rfc7540#section-7).
type ErrorCode uint32

const (
	NoError            ErrorCode = 0x0
	ProtocolError      ErrorCode = 0x1
	InternalError      ErrorCode = 0x2
	FlowControlError   ErrorCode = 0x3
	SettingsTimeout    ErrorCode = 0x4
	StreamClosed       ErrorCode = 0x5
	FrameSizeError     ErrorCode = 0x6
	RefusedStream      ErrorCode = 0x7
	Cancel             ErrorCode = 0x8
	CompressionError   ErrorCode = 0x9
	ConnectError       ErrorCode = 0xa
	EnhanceYourCalm    ErrorCode = 0xb
	InadequateSecurity ErrorCode = 0xc
	HTTP11Required     ErrorCode = 0xd
)

var errorCodeNames = map[ErrorCode]string{
	NoError:            "NO_ERROR",
	ProtocolError:       "PROTOCOL_ERROR",
	InternalError:      "INTERNAL_ERROR",
	FlowControlError:   "FLOW_CONTROL_ERROR",
	SettingsTimeout:    "SETTINGS_TIMEOUT",
	StreamClosed:       "STREAM_CLOSED",
	FrameSizeError:     "FRAME_SIZE_ERROR",
	RefusedStream:      "REFUSED_STREAM",
	Cancel:             "CANCEL",
	CompressionError:   "COMPRESSION_ERROR",
	ConnectError:       "CONNECT_ERROR",
	EnhanceYourCalm:    "ENHANCE_YOUR_CALM",
	InadequateSecurity: "INADEQUATE_SECURITY",
	HTTP11Required:     "HTTP_1_1_REQUIRED",
}

// String renders the RFC 7540 §11.4 name, or UNKNOWN(0x..) for a code
// outside the registry (e.g. one reserved for a future extension).
func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%#x)", uint32(c))
}

// Error is the error type returned by the codec and connection layers.
// It wraps either a protocol-level ErrorCode or an underlying I/O error,
// never a bare errors.New string, so callers can errors.As into whichever
// half applies.
type Error struct {
	Code ErrorCode
	Io   error
	msg  string
}

func (e *Error) Error() string {
	switch {
	case e.Io != nil:
		return e.Io.Error()
	case e.msg != "":
		return e.msg
	default:
		return e.Code.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Io
}

// NewError builds a protocol-level Error carrying code, optionally
// annotated with msg.
func NewError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, msg: msg}
}

// WrapIO builds an Error carrying an underlying I/O failure.
func WrapIO(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Io: err}
}

var (
	// ErrMissingBytes is returned when a frame's declared length does not
	// carry enough bytes for its type's mandatory fields.
	ErrMissingBytes = NewError(FrameSizeError, "missing bytes")
	// ErrFrameSize is returned when a frame's payload length violates
	// its type's fixed-size requirement (e.g. PRIORITY must be exactly 5).
	ErrFrameSize = NewError(FrameSizeError, "invalid frame size")
	// ErrProtocol is returned for a structural protocol violation that
	// isn't more specifically classified (wrong stream-id scope, bad
	// padding, zero WINDOW_UPDATE increment, ...).
	ErrProtocol = NewError(ProtocolError, "protocol error")
	// ErrPayloadExceeds is returned when a frame's declared length is
	// larger than the negotiated SETTINGS_MAX_FRAME_SIZE.
	ErrPayloadExceeds = NewError(FrameSizeError, "frame payload exceeds negotiated maximum size")
)
