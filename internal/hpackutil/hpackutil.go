// Package hpackutil wraps golang.org/x/net/http2/hpack to build and
// read the small, fixed set of pseudo-headers a CONNECT tunnel needs
// (:method, :authority, :status). General-purpose HPACK (de)compression
// of arbitrary header sets is out of this module's scope; this package
// exists only to produce/consume the header block fragment the frame
// codec treats as an opaque byte blob.
package hpackutil

import (
	"bytes"
	"fmt"

	"golang.org/x/net/http2/hpack"
)

// EncodeConnect builds the HEADERS block fragment for a CONNECT request
// targeting authority (host:port or a bare domain, per RFC 7540 §8.3).
func EncodeConnect(authority string) []byte {
	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf)
	enc.WriteField(hpack.HeaderField{Name: ":method", Value: "CONNECT"})
	enc.WriteField(hpack.HeaderField{Name: ":authority", Value: authority})
	return buf.Bytes()
}

// EncodeStatus builds the HEADERS block fragment for a response with
// the given numeric status, e.g. 200 for a successful CONNECT.
func EncodeStatus(status int) []byte {
	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf)
	enc.WriteField(hpack.HeaderField{Name: ":status", Value: fmt.Sprintf("%d", status)})
	return buf.Bytes()
}

// Decode parses a header block fragment into its fields. It assumes the
// fragment was produced with a default, non-retained dynamic table,
// which is all a one-shot CONNECT handshake needs.
func Decode(block []byte) ([]hpack.HeaderField, error) {
	var fields []hpack.HeaderField
	dec := hpack.NewDecoder(4096, func(f hpack.HeaderField) {
		fields = append(fields, f)
	})
	if _, err := dec.Write(block); err != nil {
		return nil, fmt.Errorf("plasmodesmata/hpackutil: decode: %w", err)
	}
	if err := dec.Close(); err != nil {
		return nil, fmt.Errorf("plasmodesmata/hpackutil: close decoder: %w", err)
	}
	return fields, nil
}

// Method returns the :method pseudo-header's value, or "" if absent.
func Method(fields []hpack.HeaderField) string { return lookup(fields, ":method") }

// Authority returns the :authority pseudo-header's value, or "" if absent.
func Authority(fields []hpack.HeaderField) string { return lookup(fields, ":authority") }

// Status returns the :status pseudo-header's value, or "" if absent.
func Status(fields []hpack.HeaderField) string { return lookup(fields, ":status") }

func lookup(fields []hpack.HeaderField, name string) string {
	for _, f := range fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}
