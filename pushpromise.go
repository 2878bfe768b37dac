package plasmodesmata

var _ Frame = (*PushPromise)(nil)

// PushPromise is decoded for completeness but never produced by the
// tunnel: server push is an explicit Non-goal
// (https://tools.ietf.org/html/rfc7540#section-6.6).
type PushPromise struct {
	padded          bool
	endHeaders      bool
	promisedStream  uint32
	rawHeaders      []byte
}

func (pp *PushPromise) Type() FrameType { return FramePushPromise }

func (pp *PushPromise) Reset() {
	pp.padded = false
	pp.endHeaders = false
	pp.promisedStream = 0
	pp.rawHeaders = pp.rawHeaders[:0]
}

func (pp *PushPromise) CopyTo(dst *PushPromise) {
	dst.padded = pp.padded
	dst.endHeaders = pp.endHeaders
	dst.promisedStream = pp.promisedStream
	dst.rawHeaders = append(dst.rawHeaders[:0], pp.rawHeaders...)
}

func (pp *PushPromise) PromisedStreamID() uint32     { return pp.promisedStream }
func (pp *PushPromise) SetPromisedStreamID(id uint32) { pp.promisedStream = id }
func (pp *PushPromise) EndHeaders() bool             { return pp.endHeaders }
func (pp *PushPromise) SetEndHeaders(v bool)         { pp.endHeaders = v }
func (pp *PushPromise) HeaderBlockFragment() []byte  { return pp.rawHeaders }

func (pp *PushPromise) Deserialize(fh *FrameHeader) error {
	payload := fh.payload

	if fh.flags.Has(FlagPadded) {
		var err error
		payload, err = cutPadding(payload, fh.length)
		if err != nil {
			return err
		}
		pp.padded = true
	}

	if len(payload) < 4 {
		return ErrMissingBytes
	}

	pp.promisedStream = decodeU32(payload) & 0x7fffffff
	pp.rawHeaders = append(pp.rawHeaders[:0], payload[4:]...)
	pp.endHeaders = fh.flags.Has(FlagEndHeaders)

	return nil
}

func (pp *PushPromise) Serialize(fh *FrameHeader) {
	if pp.endHeaders {
		fh.SetFlags(fh.Flags().Add(FlagEndHeaders))
	}

	payload := encodeU32(nil, pp.promisedStream&0x7fffffff)
	payload = append(payload, pp.rawHeaders...)

	if pp.padded {
		fh.SetFlags(fh.Flags().Add(FlagPadded))
		payload = addPadding(payload)
	}

	fh.setPayload(payload)
}
