package plasmodesmata

// Unknown holds an extension frame type this codec does not recognize
// (https://tools.ietf.org/html/rfc7540#section-4.1: "Implementations
// MUST ignore and discard any frame that has a type that is unknown").
// It is kept, not discarded, so a relay built on this codec can still
// forward it byte-for-byte.
type Unknown struct {
	kind    FrameType
	flags   FrameFlags
	stream  uint32
	payload []byte
}

func (u *Unknown) Type() FrameType { return u.kind }

func (u *Unknown) Reset() {
	u.kind = 0
	u.flags = 0
	u.stream = 0
	u.payload = u.payload[:0]
}

func (u *Unknown) CopyTo(dst *Unknown) {
	dst.kind = u.kind
	dst.flags = u.flags
	dst.stream = u.stream
	dst.payload = append(dst.payload[:0], u.payload...)
}

func (u *Unknown) Payload() []byte { return u.payload }

func (u *Unknown) Deserialize(fh *FrameHeader) error {
	u.kind = fh.kind
	u.flags = fh.flags
	u.stream = fh.stream
	u.payload = append(u.payload[:0], fh.payload...)
	return nil
}

func (u *Unknown) Serialize(fh *FrameHeader) {
	fh.kind = u.kind
	fh.flags = u.flags
	fh.stream = u.stream
	fh.setPayload(u.payload)
}
