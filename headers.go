package plasmodesmata

import "github.com/iovxw/plasmodesmata/wire"

var _ Frame = (*Headers)(nil)

// Headers carries an HPACK header block fragment, opened here as an
// opaque byte blob (https://tools.ietf.org/html/rfc7540#section-6.2).
// Decompression is the edge layer's job (internal/hpackutil), not the
// codec's.
type Headers struct {
	padded      bool
	exclusive   bool
	dependency  uint32
	weight      byte
	endStream   bool
	endHeaders  bool
	rawHeaders  []byte
}

func (h *Headers) Type() FrameType { return FrameHeaders }

func (h *Headers) Reset() {
	h.padded = false
	h.exclusive = false
	h.dependency = 0
	h.weight = 0
	h.endStream = false
	h.endHeaders = false
	h.rawHeaders = h.rawHeaders[:0]
}

func (h *Headers) CopyTo(dst *Headers) {
	dst.padded = h.padded
	dst.exclusive = h.exclusive
	dst.dependency = h.dependency
	dst.weight = h.weight
	dst.endStream = h.endStream
	dst.endHeaders = h.endHeaders
	dst.rawHeaders = append(dst.rawHeaders[:0], h.rawHeaders...)
}

func (h *Headers) HeaderBlockFragment() []byte  { return h.rawHeaders }
func (h *Headers) SetHeaderBlockFragment(b []byte) { h.rawHeaders = append(h.rawHeaders[:0], b...) }
func (h *Headers) AppendHeaderBlockFragment(b []byte) { h.rawHeaders = append(h.rawHeaders, b...) }

func (h *Headers) EndStream() bool     { return h.endStream }
func (h *Headers) SetEndStream(v bool) { h.endStream = v }
func (h *Headers) EndHeaders() bool    { return h.endHeaders }
func (h *Headers) SetEndHeaders(v bool) { h.endHeaders = v }
func (h *Headers) Padded() bool        { return h.padded }
func (h *Headers) SetPadded(v bool)    { h.padded = v }

// StreamDependency returns the PRIORITY-flag dependent stream id, its
// exclusivity bit, and the weight; valid only when the PRIORITY flag was
// present on decode (or is about to be set on encode).
func (h *Headers) StreamDependency() (id uint32, exclusive bool, weight byte) {
	return h.dependency, h.exclusive, h.weight
}

func (h *Headers) SetStreamDependency(id uint32, exclusive bool, weight byte) {
	h.dependency, h.exclusive, h.weight = id, exclusive, weight
}

func (h *Headers) Deserialize(fh *FrameHeader) error {
	payload := fh.payload

	if fh.flags.Has(FlagPadded) {
		var err error
		payload, err = cutPadding(payload, fh.length)
		if err != nil {
			return err
		}
		h.padded = true
	}

	if fh.flags.Has(FlagPriority) {
		if len(payload) < 5 {
			return ErrMissingBytes
		}
		dep, excl, _, _ := wire.DecodeU31(payload[:4])
		h.dependency = dep
		h.exclusive = excl
		h.weight = payload[4]
		payload = payload[5:]
	}

	h.endStream = fh.flags.Has(FlagEndStream)
	h.endHeaders = fh.flags.Has(FlagEndHeaders)
	h.rawHeaders = append(h.rawHeaders[:0], payload...)

	return nil
}

func (h *Headers) Serialize(fh *FrameHeader) {
	if h.endStream {
		fh.SetFlags(fh.Flags().Add(FlagEndStream))
	}
	if h.endHeaders {
		fh.SetFlags(fh.Flags().Add(FlagEndHeaders))
	}

	payload := append([]byte(nil), h.rawHeaders...)

	if h.weight > 0 || h.dependency > 0 || h.exclusive {
		fh.SetFlags(fh.Flags().Add(FlagPriority))
		prefix := wire.PutU31(nil, h.dependency, h.exclusive)
		prefix = append(prefix, h.weight)
		payload = append(prefix, payload...)
	}

	if h.padded {
		fh.SetFlags(fh.Flags().Add(FlagPadded))
		payload = addPadding(payload)
	}

	fh.setPayload(payload)
}
