package plasmodesmata

var _ Frame = (*Continuation)(nil)

// Continuation carries the remainder of a header block that did not fit
// in one HEADERS or PUSH_PROMISE frame
// (https://tools.ietf.org/html/rfc7540#section-6.10).
type Continuation struct {
	endHeaders bool
	rawHeaders []byte
}

func (c *Continuation) Type() FrameType { return FrameContinuation }

func (c *Continuation) Reset() {
	c.endHeaders = false
	c.rawHeaders = c.rawHeaders[:0]
}

func (c *Continuation) CopyTo(dst *Continuation) {
	dst.endHeaders = c.endHeaders
	dst.rawHeaders = append(dst.rawHeaders[:0], c.rawHeaders...)
}

func (c *Continuation) HeaderBlockFragment() []byte     { return c.rawHeaders }
func (c *Continuation) SetHeaderBlockFragment(b []byte) { c.rawHeaders = append(c.rawHeaders[:0], b...) }
func (c *Continuation) EndHeaders() bool                { return c.endHeaders }
func (c *Continuation) SetEndHeaders(v bool)            { c.endHeaders = v }

func (c *Continuation) Deserialize(fh *FrameHeader) error {
	c.endHeaders = fh.flags.Has(FlagEndHeaders)
	c.rawHeaders = append(c.rawHeaders[:0], fh.payload...)
	return nil
}

func (c *Continuation) Serialize(fh *FrameHeader) {
	if c.endHeaders {
		fh.SetFlags(fh.Flags().Add(FlagEndHeaders))
	}
	fh.setPayload(c.rawHeaders)
}
