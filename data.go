package plasmodesmata

var _ Frame = (*Data)(nil)

// Data carries tunneled application bytes
// (https://tools.ietf.org/html/rfc7540#section-6.1). It may set
// END_STREAM (half-close) and/or PADDED.
type Data struct {
	endStream bool
	padded    bool
	b         []byte
}

func (d *Data) Type() FrameType { return FrameData }

func (d *Data) Reset() {
	d.endStream = false
	d.padded = false
	d.b = d.b[:0]
}

func (d *Data) CopyTo(dst *Data) {
	dst.endStream = d.endStream
	dst.padded = d.padded
	dst.b = append(dst.b[:0], d.b...)
}

func (d *Data) EndStream() bool        { return d.endStream }
func (d *Data) SetEndStream(v bool)    { d.endStream = v }
func (d *Data) Padded() bool           { return d.padded }
func (d *Data) SetPadded(v bool)       { d.padded = v }
func (d *Data) Bytes() []byte          { return d.b }
func (d *Data) SetBytes(b []byte)      { d.b = append(d.b[:0], b...) }

func (d *Data) Deserialize(fh *FrameHeader) error {
	payload := fh.payload

	if fh.flags.Has(FlagPadded) {
		var err error
		payload, err = cutPadding(payload, fh.length)
		if err != nil {
			return err
		}
		d.padded = true
	}

	d.endStream = fh.flags.Has(FlagEndStream)
	d.b = append(d.b[:0], payload...)

	return nil
}

func (d *Data) Serialize(fh *FrameHeader) {
	if d.endStream {
		fh.SetFlags(fh.Flags().Add(FlagEndStream))
	}

	payload := d.b
	if d.padded {
		fh.SetFlags(fh.Flags().Add(FlagPadded))
		payload = addPadding(payload)
	}

	fh.setPayload(payload)
}
