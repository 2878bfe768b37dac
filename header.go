package plasmodesmata

import (
	"sync"

	"github.com/iovxw/plasmodesmata/wire"
)

const (
	// FrameHeaderLen is the size of the 9-byte common frame header
	// (https://tools.ietf.org/html/rfc7540#section-4.1).
	FrameHeaderLen = 9

	defaultMaxFrameSize uint32 = 1 << 14
)

var frameHeaderPool = sync.Pool{
	New: func() interface{} { return &FrameHeader{} },
}

// FrameHeader is the decoded 9-byte common header together with its
// parsed body and the raw payload bytes backing it. Use
// AcquireFrameHeader/ReleaseFrameHeader to reuse allocations across
// frames; a FrameHeader must not be shared across goroutines.
type FrameHeader struct {
	length int
	kind   FrameType
	flags  FrameFlags
	stream uint32

	maxLen uint32

	payload []byte
	fr      Frame
}

// AcquireFrameHeader returns a FrameHeader from the pool with its fields
// reset (zero, except MaxLen, which defaults to 2^14).
func AcquireFrameHeader() *FrameHeader {
	fh := frameHeaderPool.Get().(*FrameHeader)
	fh.Reset()
	return fh
}

// ReleaseFrameHeader releases fh's body back to its pool and returns fh
// itself to the FrameHeader pool.
func ReleaseFrameHeader(fh *FrameHeader) {
	ReleaseFrame(fh.fr)
	fh.fr = nil
	frameHeaderPool.Put(fh)
}

// Reset clears fh to its zero state, except MaxLen, which is set to the
// default 2^14.
func (fh *FrameHeader) Reset() {
	fh.length = 0
	fh.kind = 0
	fh.flags = 0
	fh.stream = 0
	fh.maxLen = defaultMaxFrameSize
	fh.payload = fh.payload[:0]
	fh.fr = nil
}

func (fh *FrameHeader) Type() FrameType       { return fh.kind }
func (fh *FrameHeader) Flags() FrameFlags     { return fh.flags }
func (fh *FrameHeader) SetFlags(f FrameFlags) { fh.flags = f }
func (fh *FrameHeader) Stream() uint32        { return fh.stream }
func (fh *FrameHeader) SetStream(id uint32)   { fh.stream = id }
func (fh *FrameHeader) Len() int              { return fh.length }
func (fh *FrameHeader) MaxLen() uint32        { return fh.maxLen }
func (fh *FrameHeader) SetMaxLen(n uint32)    { fh.maxLen = n }
func (fh *FrameHeader) Body() Frame           { return fh.fr }
func (fh *FrameHeader) Payload() []byte       { return fh.payload }

// SetBody attaches fr as fh's body and adopts its type.
func (fh *FrameHeader) SetBody(fr Frame) {
	if fr == nil {
		panic("plasmodesmata: frame body cannot be nil")
	}
	fh.kind = fr.Type()
	fh.fr = fr
}

func (fh *FrameHeader) setPayload(b []byte) {
	fh.payload = append(fh.payload[:0], b...)
}

// checkScope validates the stream-id scope invariant from §3: SETTINGS,
// PING and GOAWAY must carry stream id 0; DATA, HEADERS, PRIORITY,
// RST_STREAM, PUSH_PROMISE and CONTINUATION must not; WINDOW_UPDATE
// allows either.
func (fh *FrameHeader) checkScope() error {
	if requiresZeroStream(fh.kind) && fh.stream != 0 {
		return NewError(ProtocolError, fh.kind.String()+" must use stream 0")
	}
	if requiresNonZeroStream(fh.kind) && fh.stream == 0 {
		return NewError(ProtocolError, fh.kind.String()+" requires a non-zero stream")
	}
	return nil
}

// DecodeState reports whether a Decoder has enough bytes buffered to
// make progress.
type DecodeState int

const (
	// NeedLength means fewer than FrameHeaderLen bytes are buffered.
	NeedLength DecodeState = iota
	// NeedPayload means the header is known but not all of its
	// declared-length payload has arrived yet.
	NeedPayload
)

// Decoder implements the frame-at-a-time state machine described in
// §4.2: fed a growing byte buffer, it yields complete frames and never
// consumes bytes it cannot fully account for. Decode is non-destructive
// on insufficient input: callers may call it again once more bytes have
// been appended to buf.
type Decoder struct {
	maxFrameSize uint32
	state        DecodeState
}

// NewDecoder returns a Decoder that rejects frames whose declared length
// exceeds maxFrameSize (0 disables the check).
func NewDecoder(maxFrameSize uint32) *Decoder {
	return &Decoder{maxFrameSize: maxFrameSize}
}

// SetMaxFrameSize updates the negotiated SETTINGS_MAX_FRAME_SIZE used to
// bound future decodes (called after a local SETTINGS frame is acked).
func (d *Decoder) SetMaxFrameSize(n uint32) { d.maxFrameSize = n }

// State reports the decoder's current position in the NeedLength /
// NeedPayload state machine.
func (d *Decoder) State() DecodeState { return d.state }

// Decode attempts to pull one complete frame out of the front of buf.
// On success it returns the parsed FrameHeader, the number of bytes
// consumed from buf, and a nil error; the caller owns the returned
// FrameHeader and must ReleaseFrameHeader it. If buf does not yet hold a
// full frame, it returns (nil, 0, nil) and leaves buf untouched — the
// caller is expected to read more bytes and retry. A non-nil error
// indicates a structural protocol violation; the connection must be
// torn down.
func (d *Decoder) Decode(buf []byte) (*FrameHeader, int, error) {
	if len(buf) < FrameHeaderLen {
		d.state = NeedLength
		return nil, 0, nil
	}

	length, _, _ := wire.DecodeU24(buf[:3])
	typ := FrameType(buf[3])
	flags := FrameFlags(buf[4])
	streamID, _, _, _ := wire.DecodeU31(buf[5:9])

	if d.maxFrameSize != 0 && length > d.maxFrameSize {
		return nil, 0, ErrPayloadExceeds
	}

	d.state = NeedPayload

	total := FrameHeaderLen + int(length)
	if len(buf) < total {
		return nil, 0, nil
	}

	fh := AcquireFrameHeader()
	fh.length = int(length)
	fh.kind = typ
	fh.flags = flags
	fh.stream = streamID
	fh.maxLen = d.maxFrameSize
	fh.setPayload(buf[FrameHeaderLen:total])

	if err := fh.checkScope(); err != nil {
		ReleaseFrameHeader(fh)
		return nil, 0, err
	}

	body := AcquireFrame(typ)
	fh.fr = body

	if err := body.Deserialize(fh); err != nil {
		ReleaseFrameHeader(fh)
		return nil, 0, err
	}

	d.state = NeedLength
	return fh, total, nil
}

// Encode serializes fh's body and appends the resulting 9-byte header
// plus payload to dst.
func Encode(dst []byte, fh *FrameHeader) []byte {
	fh.fr.Serialize(fh)
	fh.length = len(fh.payload)

	dst = wire.PutU24(dst, uint32(fh.length))
	dst = append(dst, byte(fh.kind), byte(fh.flags))
	dst = wire.PutU31(dst, fh.stream, false)
	dst = append(dst, fh.payload...)
	return dst
}
