package hpackutil

import "testing"

func TestEncodeDecodeConnect(t *testing.T) {
	block := EncodeConnect("example.com:443")
	fields, err := Decode(block)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := Method(fields); got != "CONNECT" {
		t.Fatalf("Method() = %q, want CONNECT", got)
	}
	if got := Authority(fields); got != "example.com:443" {
		t.Fatalf("Authority() = %q, want example.com:443", got)
	}
}

func TestEncodeDecodeStatus(t *testing.T) {
	block := EncodeStatus(200)
	fields, err := Decode(block)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := Status(fields); got != "200" {
		t.Fatalf("Status() = %q, want 200", got)
	}
}

func TestLookupMissingFieldReturnsEmpty(t *testing.T) {
	fields, err := Decode(EncodeStatus(502))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := Method(fields); got != "" {
		t.Fatalf("Method() = %q, want empty", got)
	}
}
