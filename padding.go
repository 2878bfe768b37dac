package plasmodesmata

import (
	"github.com/valyala/fastrand"
)

// cutPadding removes the PADDED-flag pad-length prefix byte and trailing
// pad bytes from payload, given the frame's declared total length. It
// reports ErrProtocol rather than panicking when the declared pad length
// does not fit the payload — this is a direct correction of a documented
// out-of-range panic in the codec this package descends from.
func cutPadding(payload []byte, length int) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrFrameSize
	}
	pad := int(payload[0])
	end := length - pad
	if end <= 1 || end > len(payload) {
		return nil, ErrProtocol
	}
	return payload[1:end], nil
}

// addPadding prepends a random pad length (9-255 bytes, matching the
// codec's historical range) and appends that many zero-valued pad bytes
// to b, returning the combined PADDED-flag payload.
func addPadding(b []byte) []byte {
	n := int(fastrand.Uint32n(256-9)) + 9

	out := make([]byte, 0, 1+len(b)+n)
	out = append(out, byte(n))
	out = append(out, b...)
	out = append(out, make([]byte, n)...)

	return out
}
