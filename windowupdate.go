package plasmodesmata

import "github.com/iovxw/plasmodesmata/wire"

var _ Frame = (*WindowUpdate)(nil)

// WindowUpdate grants additional flow-control credit, either to a
// stream or, on stream id 0, to the whole connection
// (https://tools.ietf.org/html/rfc7540#section-6.9). A zero increment is
// a protocol error per RFC 7540 §6.9.
type WindowUpdate struct {
	increment uint32
}

func (wu *WindowUpdate) Type() FrameType { return FrameWindowUpdate }

func (wu *WindowUpdate) Reset() { wu.increment = 0 }

func (wu *WindowUpdate) CopyTo(dst *WindowUpdate) { dst.increment = wu.increment }

func (wu *WindowUpdate) Increment() uint32     { return wu.increment }
func (wu *WindowUpdate) SetIncrement(n uint32) { wu.increment = n }

func (wu *WindowUpdate) Deserialize(fh *FrameHeader) error {
	if len(fh.payload) != 4 {
		return ErrFrameSize
	}
	inc, _, _, _ := wire.DecodeU31(fh.payload)
	if inc == 0 {
		return ErrProtocol
	}
	wu.increment = inc
	return nil
}

func (wu *WindowUpdate) Serialize(fh *FrameHeader) {
	fh.setPayload(wire.PutU31(nil, wu.increment, false))
}
