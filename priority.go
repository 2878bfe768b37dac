package plasmodesmata

import "github.com/iovxw/plasmodesmata/wire"

var _ Frame = (*Priority)(nil)

// Priority carries a stream's dependency and weight
// (https://tools.ietf.org/html/rfc7540#section-6.3). Priority-tree
// scheduling itself is out of scope; only faithful encode/decode is
// implemented here.
type Priority struct {
	dependency uint32
	exclusive  bool
	weight     byte
}

func (p *Priority) Type() FrameType { return FramePriority }

func (p *Priority) Reset() {
	p.dependency = 0
	p.exclusive = false
	p.weight = 0
}

func (p *Priority) CopyTo(dst *Priority) {
	dst.dependency = p.dependency
	dst.exclusive = p.exclusive
	dst.weight = p.weight
}

func (p *Priority) StreamDependency() (id uint32, exclusive bool, weight byte) {
	return p.dependency, p.exclusive, p.weight
}

func (p *Priority) SetStreamDependency(id uint32, exclusive bool, weight byte) {
	p.dependency, p.exclusive, p.weight = id, exclusive, weight
}

func (p *Priority) Deserialize(fh *FrameHeader) error {
	if len(fh.payload) != 5 {
		return ErrFrameSize
	}
	dep, excl, _, _ := wire.DecodeU31(fh.payload[:4])
	p.dependency = dep
	p.exclusive = excl
	p.weight = fh.payload[4]
	return nil
}

func (p *Priority) Serialize(fh *FrameHeader) {
	payload := wire.PutU31(nil, p.dependency, p.exclusive)
	payload = append(payload, p.weight)
	fh.setPayload(payload)
}
