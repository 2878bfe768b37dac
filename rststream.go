package plasmodesmata

var _ Frame = (*RstStream)(nil)

// RstStream aborts a stream immediately
// (https://tools.ietf.org/html/rfc7540#section-6.4). The tunnel splicer
// emits one when a side of a tunneled connection fails abnormally.
type RstStream struct {
	code ErrorCode
}

func (r *RstStream) Type() FrameType { return FrameResetStream }

func (r *RstStream) Reset() { r.code = 0 }

func (r *RstStream) CopyTo(dst *RstStream) { dst.code = r.code }

func (r *RstStream) Code() ErrorCode     { return r.code }
func (r *RstStream) SetCode(c ErrorCode) { r.code = c }

func (r *RstStream) Deserialize(fh *FrameHeader) error {
	if len(fh.payload) != 4 {
		return ErrFrameSize
	}
	r.code = ErrorCode(decodeU32(fh.payload))
	return nil
}

func (r *RstStream) Serialize(fh *FrameHeader) {
	fh.setPayload(encodeU32(nil, uint32(r.code)))
}
