package wire

import "testing"

func TestU24RoundTrip(t *testing.T) {
	cases := []uint32{U24Min, 1, 0x1234, U24Initial, U24Max}
	for _, n := range cases {
		b := PutU24(nil, n)
		if len(b) != 3 {
			t.Fatalf("PutU24(%d): got %d bytes, want 3", n, len(b))
		}
		got, consumed, ok := DecodeU24(b)
		if !ok || consumed != 3 || got != n {
			t.Fatalf("DecodeU24(PutU24(%d)) = (%d, %d, %v)", n, got, consumed, ok)
		}
	}
}

func TestU24ClampsOnOverflow(t *testing.T) {
	if got := ClampU24(U24Max + 100); got != U24Max {
		t.Fatalf("ClampU24 overflow = %d, want %d", got, U24Max)
	}
}

func TestDecodeU24InsufficientBytes(t *testing.T) {
	for n := 0; n < 3; n++ {
		b := make([]byte, n)
		if _, _, ok := DecodeU24(b); ok {
			t.Fatalf("DecodeU24(%d bytes) reported ok, want false", n)
		}
	}
}

func TestU31RoundTrip(t *testing.T) {
	cases := []uint32{U31Min, 1, U31Initial, U31Max}
	for _, n := range cases {
		for _, reserved := range []bool{false, true} {
			b := PutU31(nil, n, reserved)
			if len(b) != 4 {
				t.Fatalf("PutU31(%d): got %d bytes, want 4", n, len(b))
			}
			got, gotReserved, consumed, ok := DecodeU31(b)
			if !ok || consumed != 4 || got != n || gotReserved != reserved {
				t.Fatalf("DecodeU31(PutU31(%d, %v)) = (%d, %v, %d, %v)", n, reserved, got, gotReserved, consumed, ok)
			}
		}
	}
}

func TestU31ClampsOnOverflow(t *testing.T) {
	if got := ClampU31(U31Max + 100); got != U31Max {
		t.Fatalf("ClampU31 overflow = %d, want %d", got, U31Max)
	}
}

func TestDecodeU31InsufficientBytes(t *testing.T) {
	for n := 0; n < 4; n++ {
		b := make([]byte, n)
		if _, _, _, ok := DecodeU31(b); ok {
			t.Fatalf("DecodeU31(%d bytes) reported ok, want false", n)
		}
	}
}
