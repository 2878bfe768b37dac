// Package plasmodesmata implements the HTTP/2 frame format used to
// multiplex a CONNECT tunnel: binary encode/decode of all nine standard
// frame types plus unrecognized extension frames, SETTINGS parameter
// validation, and DATA/HEADERS/PUSH_PROMISE padding handling.
//
// HPACK compression, TLS session setup, and stream-id allocation are
// out of scope here; they live in internal/hpackutil, internal/tlsconf
// and internal/pool respectively.
package plasmodesmata

import "sync"

// FrameType identifies one of the nine standard HTTP/2 frame types
// (https://tools.ietf.org/html/rfc7540#section-6). Values above
// FrameContinuation are extension frames decoded into Unknown.
type FrameType uint8

const (
	FrameData         FrameType = 0x0
	FrameHeaders      FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameResetStream  FrameType = 0x3
	FrameSettings     FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9
)

func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "DATA"
	case FrameHeaders:
		return "HEADERS"
	case FramePriority:
		return "PRIORITY"
	case FrameResetStream:
		return "RST_STREAM"
	case FrameSettings:
		return "SETTINGS"
	case FramePushPromise:
		return "PUSH_PROMISE"
	case FramePing:
		return "PING"
	case FrameGoAway:
		return "GOAWAY"
	case FrameWindowUpdate:
		return "WINDOW_UPDATE"
	case FrameContinuation:
		return "CONTINUATION"
	default:
		return "UNKNOWN"
	}
}

// FrameFlags is the frame header's 8-bit flags field. The concrete
// meaning of each bit depends on the frame type it appears on; the
// constants below cover every meaning used across the nine types.
type FrameFlags uint8

const (
	FlagAck        FrameFlags = 0x1
	FlagEndStream  FrameFlags = 0x1
	FlagEndHeaders FrameFlags = 0x4
	FlagPadded     FrameFlags = 0x8
	FlagPriority   FrameFlags = 0x20
)

func (f FrameFlags) Has(flag FrameFlags) bool {
	return f&flag == flag
}

func (f FrameFlags) Add(flag FrameFlags) FrameFlags {
	return f | flag
}

// Frame is a frame type's body: the 9-byte common header is handled by
// FrameHeader, and everything below that belongs here.
//
// Implementations must be safe to reuse across multiple
// Deserialize/Serialize calls after Reset.
type Frame interface {
	Type() FrameType
	Reset()
	Deserialize(fh *FrameHeader) error
	Serialize(fh *FrameHeader)
}

var framePools = map[FrameType]*sync.Pool{
	FrameData:         {New: func() interface{} { return &Data{} }},
	FrameHeaders:      {New: func() interface{} { return &Headers{} }},
	FramePriority:     {New: func() interface{} { return &Priority{} }},
	FrameResetStream:  {New: func() interface{} { return &RstStream{} }},
	FrameSettings:     {New: func() interface{} { return &SettingsFrame{} }},
	FramePushPromise:  {New: func() interface{} { return &PushPromise{} }},
	FramePing:         {New: func() interface{} { return &Ping{} }},
	FrameGoAway:       {New: func() interface{} { return &GoAway{} }},
	FrameWindowUpdate: {New: func() interface{} { return &WindowUpdate{} }},
	FrameContinuation: {New: func() interface{} { return &Continuation{} }},
}

var unknownPool = sync.Pool{
	New: func() interface{} { return &Unknown{} },
}

// AcquireFrame returns a pooled Frame body for kind, ready to
// Deserialize into. Unrecognized kinds (> FrameContinuation) return an
// *Unknown body rather than an error, matching §4.2's requirement that
// extension frames round-trip byte-for-byte.
func AcquireFrame(kind FrameType) Frame {
	pool, ok := framePools[kind]
	if !ok {
		u := unknownPool.Get().(*Unknown)
		u.Reset()
		u.kind = kind
		return u
	}
	fr := pool.Get().(Frame)
	fr.Reset()
	return fr
}

// ReleaseFrame returns fr to its type's pool. It is a no-op for nil.
func ReleaseFrame(fr Frame) {
	if fr == nil {
		return
	}
	if u, ok := fr.(*Unknown); ok {
		u.Reset()
		unknownPool.Put(u)
		return
	}
	if pool, ok := framePools[fr.Type()]; ok {
		fr.Reset()
		pool.Put(fr)
	}
}

// requiresZeroStream and requiresNonZeroStream implement the stream-id scope rule
// from §3's Invariants: SETTINGS/PING/GOAWAY must carry stream id 0;
// DATA/HEADERS/PRIORITY/RST_STREAM/PUSH_PROMISE/CONTINUATION must not;
// WINDOW_UPDATE allows either.
func requiresZeroStream(kind FrameType) bool {
	switch kind {
	case FrameSettings, FramePing, FrameGoAway:
		return true
	default:
		return false
	}
}

func requiresNonZeroStream(kind FrameType) bool {
	switch kind {
	case FrameData, FrameHeaders, FramePriority, FrameResetStream,
		FramePushPromise, FrameContinuation:
		return true
	default:
		return false
	}
}
