package plasmodesmata

// GoAway signals connection shutdown, naming the last stream id the
// sender will process (https://tools.ietf.org/html/rfc7540#section-6.8).
// The pool tears the connection down and stops dispatching new streams
// to it on receipt, without attempting the kind of graceful in-flight
// drain §9 calls out of scope.
type GoAway struct {
	lastStreamID uint32
	code         ErrorCode
	debugData    []byte
}

var _ Frame = (*GoAway)(nil)

func (ga *GoAway) Type() FrameType { return FrameGoAway }

func (ga *GoAway) Reset() {
	ga.lastStreamID = 0
	ga.code = 0
	ga.debugData = ga.debugData[:0]
}

func (ga *GoAway) CopyTo(dst *GoAway) {
	dst.lastStreamID = ga.lastStreamID
	dst.code = ga.code
	dst.debugData = append(dst.debugData[:0], ga.debugData...)
}

func (ga *GoAway) LastStreamID() uint32     { return ga.lastStreamID }
func (ga *GoAway) SetLastStreamID(id uint32) { ga.lastStreamID = id & 0x7fffffff }
func (ga *GoAway) Code() ErrorCode          { return ga.code }
func (ga *GoAway) SetCode(c ErrorCode)      { ga.code = c }
func (ga *GoAway) DebugData() []byte        { return ga.debugData }
func (ga *GoAway) SetDebugData(b []byte)    { ga.debugData = append(ga.debugData[:0], b...) }

// Deserialize reads last-stream-id from the first four bytes and the
// error code from the next four. An earlier revision of this codec
// assigned ga.code from both halves in sequence, silently discarding the
// last-stream-id entirely; that has been corrected here.
func (ga *GoAway) Deserialize(fh *FrameHeader) error {
	if len(fh.payload) < 8 {
		return ErrMissingBytes
	}

	ga.lastStreamID = decodeU32(fh.payload[:4]) & 0x7fffffff
	ga.code = ErrorCode(decodeU32(fh.payload[4:8]))

	if len(fh.payload) > 8 {
		ga.debugData = append(ga.debugData[:0], fh.payload[8:]...)
	}

	return nil
}

func (ga *GoAway) Serialize(fh *FrameHeader) {
	payload := encodeU32(nil, ga.lastStreamID&0x7fffffff)
	payload = encodeU32(payload, uint32(ga.code))
	payload = append(payload, ga.debugData...)
	fh.setPayload(payload)
}
