// Package wire implements the fixed-width big-endian integers used by the
// HTTP/2 frame format: the 24-bit length field and the 31-bit stream
// identifier / window increment field (RFC 7540 §4.1, §6.9).
package wire

const (
	// U24Min is the smallest representable U24 value.
	U24Min uint32 = 0
	// U24Initial is SETTINGS_MAX_FRAME_SIZE's default (2^14).
	U24Initial uint32 = 0x4000
	// U24Max is the largest representable U24 value (2^24 - 1).
	U24Max uint32 = 0xffffff

	// U31Min is the smallest representable U31 value.
	U31Min uint32 = 0
	// U31Initial is SETTINGS_INITIAL_WINDOW_SIZE's default (2^16 - 1).
	U31Initial uint32 = 0xffff
	// U31Max is the largest representable U31 value (2^31 - 1).
	U31Max uint32 = 0x7fffffff
)

// ClampU24 clamps n into the U24 range, matching the saturating From<u32>
// conversion used by the codec this package is grounded on.
func ClampU24(n uint32) uint32 {
	if n > U24Max {
		return U24Max
	}
	return n
}

// ClampU31 clamps n into the U31 range.
func ClampU31(n uint32) uint32 {
	if n > U31Max {
		return U31Max
	}
	return n
}

// PutU24 appends the big-endian 3-byte encoding of n to dst.
func PutU24(dst []byte, n uint32) []byte {
	n = ClampU24(n)
	return append(dst, byte(n>>16), byte(n>>8), byte(n))
}

// DecodeU24 reads a 3-byte big-endian integer from the front of b.
// It reports ok=false without consuming anything if b has fewer than 3
// bytes, matching the decoder's non-destructive-on-insufficient-input
// contract.
func DecodeU24(b []byte) (value uint32, consumed int, ok bool) {
	if len(b) < 3 {
		return 0, 0, false
	}
	v := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	return v, 3, true
}

// PutU31 appends the big-endian 4-byte encoding of n (clamped to U31Max)
// to dst. If reserved is true the top bit (normally unused/reserved) is
// set, mirroring the WINDOW_UPDATE/stream-id "R" bit some callers repurpose.
func PutU31(dst []byte, n uint32, reserved bool) []byte {
	n = ClampU31(n) & U31Max
	if reserved {
		n |= 0x80000000
	}
	return append(dst, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

// DecodeU31 reads a 4-byte big-endian integer from the front of b and
// splits off its top bit as reserved. ok is false, with nothing consumed,
// if b has fewer than 4 bytes.
func DecodeU31(b []byte) (value uint32, reserved bool, consumed int, ok bool) {
	if len(b) < 4 {
		return 0, false, 0, false
	}
	raw := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return raw & U31Max, raw&0x80000000 != 0, 4, true
}
