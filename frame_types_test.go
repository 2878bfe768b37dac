package plasmodesmata

import "testing"

func TestPriorityRoundTrip(t *testing.T) {
	p := &Priority{}
	p.SetStreamDependency(42, false, 15)
	raw := encodeFrame(t, p, 9)

	dec := NewDecoder(0)
	fh, _, err := dec.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer ReleaseFrameHeader(fh)

	got := fh.Body().(*Priority)
	id, excl, weight := got.StreamDependency()
	if id != 42 || excl || weight != 15 {
		t.Fatalf("StreamDependency() = (%d, %v, %d), want (42, false, 15)", id, excl, weight)
	}
}

func TestPriorityRejectsWrongSize(t *testing.T) {
	raw := []byte{0, 0, 4, byte(FramePriority), 0, 0, 0, 0, 1, 0, 0, 0, 0}
	dec := NewDecoder(0)
	_, _, err := dec.Decode(raw)
	if err == nil {
		t.Fatalf("expected frame size error for 4-byte PRIORITY payload")
	}
}

func TestRstStreamRoundTrip(t *testing.T) {
	r := &RstStream{}
	r.SetCode(Cancel)
	raw := encodeFrame(t, r, 3)

	dec := NewDecoder(0)
	fh, _, err := dec.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer ReleaseFrameHeader(fh)

	if got := fh.Body().(*RstStream).Code(); got != Cancel {
		t.Fatalf("Code() = %v, want Cancel", got)
	}
}

func TestPingRoundTrip(t *testing.T) {
	p := &Ping{}
	p.SetData([]byte("12345678"))
	raw := encodeFrame(t, p, 0)

	dec := NewDecoder(0)
	fh, _, err := dec.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer ReleaseFrameHeader(fh)

	got := fh.Body().(*Ping)
	if string(got.Data()) != "12345678" {
		t.Fatalf("Data() = %q", got.Data())
	}
	if got.Ack() {
		t.Fatalf("Ack() = true, want false")
	}
}

func TestPingRejectsWrongSize(t *testing.T) {
	raw := []byte{0, 0, 4, byte(FramePing), 0, 0, 0, 0, 0, 1, 2, 3, 4}
	dec := NewDecoder(0)
	_, _, err := dec.Decode(raw)
	if err == nil {
		t.Fatalf("expected frame size error for non-8-byte PING payload")
	}
}

func TestPushPromiseRoundTrip(t *testing.T) {
	pp := &PushPromise{}
	pp.SetPromisedStreamID(20)
	pp.SetEndHeaders(true)

	fh := AcquireFrameHeader()
	defer ReleaseFrameHeader(fh)
	fh.SetBody(pp)
	fh.SetStream(1)
	raw := Encode(nil, fh)

	dec := NewDecoder(0)
	decFh, _, err := dec.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer ReleaseFrameHeader(decFh)

	got := decFh.Body().(*PushPromise)
	if got.PromisedStreamID() != 20 {
		t.Fatalf("PromisedStreamID() = %d, want 20", got.PromisedStreamID())
	}
	if !got.EndHeaders() {
		t.Fatalf("EndHeaders() = false, want true")
	}
}

func TestContinuationRoundTrip(t *testing.T) {
	c := &Continuation{}
	c.SetHeaderBlockFragment([]byte("more-headers"))
	c.SetEndHeaders(true)
	raw := encodeFrame(t, c, 5)

	dec := NewDecoder(0)
	fh, _, err := dec.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer ReleaseFrameHeader(fh)

	got := fh.Body().(*Continuation)
	if string(got.HeaderBlockFragment()) != "more-headers" {
		t.Fatalf("HeaderBlockFragment() = %q", got.HeaderBlockFragment())
	}
	if !got.EndHeaders() {
		t.Fatalf("EndHeaders() = false, want true")
	}
}

func TestErrorCodeStringUnknown(t *testing.T) {
	var c ErrorCode = 0x99
	if got := c.String(); got != "UNKNOWN(0x99)" {
		t.Fatalf("String() = %q, want UNKNOWN(0x99)", got)
	}
}

func TestErrorCodeStringKnown(t *testing.T) {
	if got := RefusedStream.String(); got != "REFUSED_STREAM" {
		t.Fatalf("String() = %q, want REFUSED_STREAM", got)
	}
}
