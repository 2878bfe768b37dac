// Package pool implements the client-side connection pool: dialing and
// HTTP/2-handshaking TCP+TLS connections to a fixed remote, dispatching
// new CONNECT streams across them round-robin while respecting each
// connection's negotiated MAX_CONCURRENT_STREAMS, and retiring
// connections that receive GOAWAY or go idle past their ping deadline.
package pool

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	h2 "github.com/iovxw/plasmodesmata"
)

const (
	defaultMaxConcurrentStreams = 100
	defaultInitialWindowSize    = 1<<16 - 1
	defaultMaxFrameSize         = 1 << 14
	clientPreface               = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"
)

// Stream is a single HTTP/2 stream handed to a caller after it has been
// opened on some underlying Conn. Frames received for the stream are
// returned by Recv; SendData relays DATA frames to the peer, and
// END_STREAM is emitted by passing endStream=true to SendData.
type Stream struct {
	id   uint32
	conn *Conn

	in     chan *h2.FrameHeader
	closed uint32

	sendWindow int32 // atomic: stream-level send credit
	recvWindow int32 // atomic: stream-level receive credit
}

// ID returns the stream's HTTP/2 stream identifier.
func (s *Stream) ID() uint32 { return s.id }

// Recv blocks for the next frame addressed to this stream (HEADERS,
// DATA, or RST_STREAM; a WINDOW_UPDATE is applied to the stream's send
// window by the connection and never returned here), or returns
// ctx.Err() if ctx is done first.
func (s *Stream) Recv(ctx context.Context) (*h2.FrameHeader, error) {
	select {
	case fh, ok := <-s.in:
		if !ok {
			return nil, fmt.Errorf("plasmodesmata/pool: stream %d closed", s.id)
		}
		return fh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReserveSendWindow blocks until some connection-level and some of this
// stream's send credit are available, deducting up to n bytes from both.
// It returns the number of bytes actually cleared to send, which may be
// less than n.
func (s *Stream) ReserveSendWindow(ctx context.Context, n int) (int, error) {
	got, err := s.conn.ReserveSendWindow(ctx, n)
	if err != nil {
		return 0, err
	}
	for {
		cur := atomic.LoadInt32(&s.sendWindow)
		if cur <= 0 {
			select {
			case <-time.After(5 * time.Millisecond):
				continue
			case <-ctx.Done():
				atomic.AddInt32(&s.conn.serverWindow, int32(got))
				return 0, ctx.Err()
			}
		}
		want := int32(got)
		if want > cur {
			want = cur
		}
		if atomic.CompareAndSwapInt32(&s.sendWindow, cur, cur-want) {
			if extra := got - int(want); extra > 0 {
				atomic.AddInt32(&s.conn.serverWindow, int32(extra))
			}
			return int(want), nil
		}
	}
}

// ReleaseRecvWindow restores n bytes of this stream's receive credit,
// on top of the connection-level credit, once the consumer has actually
// made progress on those bytes.
func (s *Stream) ReleaseRecvWindow(n int) error {
	if n <= 0 {
		return nil
	}
	atomic.AddInt32(&s.recvWindow, int32(n))
	if err := s.conn.ReleaseRecvWindow(n); err != nil {
		return err
	}
	wu := &h2.WindowUpdate{}
	wu.SetIncrement(uint32(n))
	return s.conn.writeFrameFlushed(wu, s.id)
}

// SendData writes a DATA frame for this stream, optionally setting
// END_STREAM. Callers needing flow-control-aware chunking should call
// ReserveSendWindow first and pass exactly that many bytes.
func (s *Stream) SendData(b []byte, endStream bool) error {
	return s.conn.writeData(s.id, b, endStream)
}

// Reset emits RST_STREAM with code on this stream.
func (s *Stream) Reset(code h2.ErrorCode) error {
	return s.conn.writeReset(s.id, code)
}

// Close releases this stream's slot in its Conn's concurrency accounting.
// Callers must call it exactly once, when they are done with the stream
// (whether the CONNECT tunnel succeeded, was refused, or errored), so
// CanOpenStream keeps reflecting currently in-flight streams rather than
// a lifetime-cumulative count.
func (s *Stream) Close() {
	s.conn.forgetStream(s.id)
}

// Conn is a single handshaken HTTP/2 connection to the remote tunnel
// endpoint, driven by a read loop and a write loop goroutine pair. It
// corresponds to the spec's ConnectionEntry.
type Conn struct {
	log *logrus.Entry

	c  net.Conn
	br *bufio.Reader
	bw *bufio.Writer

	dec *h2.Decoder

	nextID     uint32
	openStream int32 // atomic

	maxConcurrentStreams uint32 // atomic-ish, set once from server SETTINGS
	serverWindow         int32  // atomic: connection-level send credit
	localWindow          int32  // atomic: connection-level receive credit

	streams sync.Map // uint32 -> *Stream

	out    chan *h2.FrameHeader
	closer chan struct{}
	once   sync.Once

	closed    uint32 // atomic
	lastErr   error
	pingEvery time.Duration
	unacked   int32 // atomic

	onClose func(*Conn)
}

// DialOpts configures Dial.
type DialOpts struct {
	TLSConfig     *tls.Config
	PingInterval  time.Duration
	DialTimeout   time.Duration
	Log           *logrus.Logger
}

// Dial connects to addr, performs the TLS handshake with ALPN offered as
// "h2", and fails fast (rather than silently falling back) if the peer
// does not select it — an explicit upgrade of the historical behavior of
// only logging the mismatch.
func Dial(ctx context.Context, addr string, opts DialOpts) (*Conn, error) {
	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("plasmodesmata/pool: dial %s: %w", addr, err)
	}

	cfg := opts.TLSConfig.Clone()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{"h2"}
	}

	tlsConn := tls.Client(raw, cfg)
	tlsConn.SetDeadline(deadlineFromContext(ctx, opts.DialTimeout))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("plasmodesmata/pool: tls handshake %s: %w", addr, err)
	}
	tlsConn.SetDeadline(time.Time{})

	if proto := tlsConn.ConnectionState().NegotiatedProtocol; proto != "h2" {
		tlsConn.Close()
		return nil, fmt.Errorf("plasmodesmata/pool: %s did not negotiate h2 (got %q)", addr, proto)
	}

	log := logrus.NewEntry(opts.Log)
	if opts.Log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	c := &Conn{
		log:                  log.WithField("remote", addr),
		c:                    tlsConn,
		br:                   bufio.NewReaderSize(tlsConn, 32*1024),
		bw:                   bufio.NewWriterSize(tlsConn, 32*1024),
		dec:                  h2.NewDecoder(defaultMaxFrameSize),
		nextID:               1,
		maxConcurrentStreams: defaultMaxConcurrentStreams,
		serverWindow:         defaultInitialWindowSize,
		localWindow:          defaultInitialWindowSize,
		out:                  make(chan *h2.FrameHeader, 64),
		closer:               make(chan struct{}),
		pingEvery:            opts.PingInterval,
	}

	if err := c.handshake(); err != nil {
		tlsConn.Close()
		return nil, err
	}

	go c.writeLoop()
	go c.readLoop()

	return c, nil
}

func deadlineFromContext(ctx context.Context, fallback time.Duration) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	if fallback > 0 {
		return time.Now().Add(fallback)
	}
	return time.Time{}
}

func (c *Conn) handshake() error {
	if _, err := c.bw.WriteString(clientPreface); err != nil {
		return fmt.Errorf("plasmodesmata/pool: write preface: %w", err)
	}

	settings := &h2.SettingsFrame{}
	settings.Add(h2.SettingEnablePush, 0)
	settings.Add(h2.SettingInitialWindowSize, defaultInitialWindowSize)
	settings.Add(h2.SettingMaxFrameSize, defaultMaxFrameSize)
	if err := c.writeFrame(settings, 0); err != nil {
		return fmt.Errorf("plasmodesmata/pool: write settings: %w", err)
	}
	if err := c.bw.Flush(); err != nil {
		return fmt.Errorf("plasmodesmata/pool: flush handshake: %w", err)
	}

	// Read and apply the server's SETTINGS before anything else, then
	// ACK it immediately, matching the handshake order in RFC 7540 §3.5.
	for {
		fh, err := c.readFrameSync()
		if err != nil {
			return fmt.Errorf("plasmodesmata/pool: read settings: %w", err)
		}
		sf, ok := fh.Body().(*h2.SettingsFrame)
		if !ok || sf.Ack() {
			h2.ReleaseFrameHeader(fh)
			continue
		}
		for _, s := range sf.Settings() {
			switch s.ID {
			case h2.SettingMaxConcurrentStreams:
				c.maxConcurrentStreams = s.Value
			case h2.SettingInitialWindowSize:
				atomic.StoreInt32(&c.serverWindow, int32(s.Value))
			case h2.SettingMaxFrameSize:
				c.dec.SetMaxFrameSize(s.Value)
			}
		}
		h2.ReleaseFrameHeader(fh)
		ack := &h2.SettingsFrame{}
		ack.SetAck(true)
		if err := c.writeFrame(ack, 0); err != nil {
			return fmt.Errorf("plasmodesmata/pool: ack settings: %w", err)
		}
		return c.bw.Flush()
	}
}

// readFrameSync reads exactly one frame during the synchronous
// handshake phase, before the read loop goroutine has started.
func (c *Conn) readFrameSync() (*h2.FrameHeader, error) {
	var buf []byte
	for {
		header, err := c.br.Peek(h2.FrameHeaderLen)
		if err != nil {
			return nil, err
		}
		length, _, _ := decodeU24(header[:3])
		total := h2.FrameHeaderLen + int(length)

		full, err := c.br.Peek(total)
		if err != nil {
			if err.Error() != "bufio: buffer full" {
				return nil, err
			}
		}
		if len(full) < total {
			continue
		}
		buf = append(buf[:0], full...)
		c.br.Discard(total)

		fh, n, err := c.dec.Decode(buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		return fh, nil
	}
}

func decodeU24(b []byte) (uint32, int, bool) {
	if len(b) < 3 {
		return 0, 0, false
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), 3, true
}

// CanOpenStream reports whether another stream can be opened without
// exceeding the peer's MAX_CONCURRENT_STREAMS.
func (c *Conn) CanOpenStream() bool {
	return atomic.LoadInt32(&c.openStream) < int32(c.maxConcurrentStreams) &&
		atomic.LoadUint32(&c.closed) == 0
}

// OpenStream allocates a new odd client-initiated stream id and
// registers it for dispatch.
func (c *Conn) OpenStream() *Stream {
	id := atomic.AddUint32(&c.nextID, 2) - 2
	s := &Stream{
		id:         id,
		conn:       c,
		in:         make(chan *h2.FrameHeader, 16),
		sendWindow: defaultInitialWindowSize,
		recvWindow: defaultInitialWindowSize,
	}
	c.streams.Store(id, s)
	atomic.AddInt32(&c.openStream, 1)
	return s
}

func (c *Conn) forgetStream(id uint32) {
	if _, ok := c.streams.LoadAndDelete(id); ok {
		atomic.AddInt32(&c.openStream, -1)
	}
}

// WriteHeaders sends a HEADERS frame opening s with the given
// HPACK-encoded header block fragment.
func (c *Conn) WriteHeaders(s *Stream, headerBlock []byte, endStream bool) error {
	h := &h2.Headers{}
	h.SetHeaderBlockFragment(headerBlock)
	h.SetEndHeaders(true)
	h.SetEndStream(endStream)
	return c.writeFrameFlushed(h, s.id)
}

func (c *Conn) writeData(id uint32, b []byte, endStream bool) error {
	d := &h2.Data{}
	d.SetBytes(b)
	d.SetEndStream(endStream)
	return c.writeFrameFlushed(d, id)
}

func (c *Conn) writeReset(id uint32, code h2.ErrorCode) error {
	r := &h2.RstStream{}
	r.SetCode(code)
	return c.writeFrameFlushed(r, id)
}

func (c *Conn) writeFrameFlushed(body h2.Frame, stream uint32) error {
	fh := h2.AcquireFrameHeader()
	fh.SetBody(body)
	fh.SetStream(stream)

	select {
	case c.out <- fh:
		return nil
	case <-c.closer:
		h2.ReleaseFrameHeader(fh)
		return fmt.Errorf("plasmodesmata/pool: connection closed")
	}
}

// writeFrame is used only during the synchronous handshake, before the
// write loop goroutine owns c.bw.
func (c *Conn) writeFrame(body h2.Frame, stream uint32) error {
	fh := h2.AcquireFrameHeader()
	defer h2.ReleaseFrameHeader(fh)
	fh.SetBody(body)
	fh.SetStream(stream)

	var buf []byte
	buf = h2.Encode(buf, fh)
	_, err := c.bw.Write(buf)
	return err
}

func (c *Conn) writeLoop() {
	var ticker *time.Ticker
	var tickC <-chan time.Time
	if c.pingEvery > 0 {
		ticker = time.NewTicker(c.pingEvery)
		tickC = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case fh, ok := <-c.out:
			if !ok {
				return
			}
			var buf []byte
			buf = h2.Encode(buf, fh)
			_, err := c.bw.Write(buf)
			h2.ReleaseFrameHeader(fh)
			if err == nil {
				err = c.flushIfIdle()
			}
			if err != nil {
				c.fail(fmt.Errorf("plasmodesmata/pool: write: %w", err))
				return
			}

		case <-tickC:
			if atomic.AddInt32(&c.unacked, 1) > 3 {
				c.fail(fmt.Errorf("plasmodesmata/pool: ping timeout"))
				return
			}
			p := &h2.Ping{}
			if err := c.writeFrame(p, 0); err != nil || c.bw.Flush() != nil {
				c.fail(fmt.Errorf("plasmodesmata/pool: ping write failed"))
				return
			}

		case <-c.closer:
			return
		}
	}
}

// flushIfIdle flushes c.bw whenever there is no more queued output ready
// immediately, batching writes the way bufio.Writer is meant to be used
// without adding artificial latency to a lone frame.
func (c *Conn) flushIfIdle() error {
	if len(c.out) == 0 {
		return c.bw.Flush()
	}
	return nil
}

func (c *Conn) readLoop() {
	buf := make([]byte, 0, 16*1024)
	tmp := make([]byte, 16*1024)

	for {
		n, err := c.br.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			c.fail(fmt.Errorf("plasmodesmata/pool: read: %w", err))
			return
		}

		for {
			fh, consumed, decErr := c.dec.Decode(buf)
			if decErr != nil {
				c.fail(decErr)
				return
			}
			if consumed == 0 {
				break
			}
			buf = append(buf[:0], buf[consumed:]...)
			c.dispatch(fh)
		}
	}
}

func (c *Conn) dispatch(fh *h2.FrameHeader) {
	switch body := fh.Body().(type) {
	case *h2.Ping:
		if body.Ack() {
			atomic.StoreInt32(&c.unacked, 0)
			h2.ReleaseFrameHeader(fh)
			return
		}
		reply := &h2.Ping{}
		reply.SetData(body.Data())
		reply.SetAck(true)
		h2.ReleaseFrameHeader(fh)
		c.writeFrameFlushed(reply, 0)
		return

	case *h2.SettingsFrame:
		if !body.Ack() {
			ack := &h2.SettingsFrame{}
			ack.SetAck(true)
			c.writeFrameFlushed(ack, 0)
		}
		h2.ReleaseFrameHeader(fh)
		return

	case *h2.GoAway:
		c.log.WithField("code", body.Code()).Warn("received GOAWAY, retiring connection")
		h2.ReleaseFrameHeader(fh)
		c.fail(fmt.Errorf("plasmodesmata/pool: goaway: %s", body.Code()))
		return

	case *h2.WindowUpdate:
		if fh.Stream() == 0 {
			atomic.AddInt32(&c.serverWindow, int32(body.Increment()))
			h2.ReleaseFrameHeader(fh)
			return
		}
		if v, ok := c.streams.Load(fh.Stream()); ok {
			atomic.AddInt32(&v.(*Stream).sendWindow, int32(body.Increment()))
		}
		h2.ReleaseFrameHeader(fh)
		return
	}

	id := fh.Stream()
	v, ok := c.streams.Load(id)
	if !ok {
		h2.ReleaseFrameHeader(fh)
		return
	}
	s := v.(*Stream)
	select {
	case s.in <- fh:
	default:
		// Slow consumer: drop rather than block the read loop: the
		// tunnel splicer is the only consumer and always keeps up
		// under normal operation.
		h2.ReleaseFrameHeader(fh)
	}
}

func (c *Conn) fail(err error) {
	c.once.Do(func() {
		atomic.StoreUint32(&c.closed, 1)
		c.lastErr = err
		close(c.closer)
		c.streams.Range(func(_, v interface{}) bool {
			close(v.(*Stream).in)
			return true
		})
		c.c.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}

// ReserveSendWindow blocks until some connection-level send credit is
// available, then deducts up to n bytes of it, returning the number of
// bytes actually reserved (at most n, but always > 0 unless the
// connection is closed first). This is called before writing a DATA
// frame, never after: crediting send capacity on arrival instead of
// before the write is the flow-control bug named in SPEC_FULL.md §9.
func (c *Conn) ReserveSendWindow(ctx context.Context, n int) (int, error) {
	for {
		if c.Closed() {
			return 0, fmt.Errorf("plasmodesmata/pool: connection closed")
		}
		cur := atomic.LoadInt32(&c.serverWindow)
		if cur > 0 {
			want := int32(n)
			if want > cur {
				want = cur
			}
			if atomic.CompareAndSwapInt32(&c.serverWindow, cur, cur-want) {
				return int(want), nil
			}
			continue
		}
		select {
		case <-time.After(5 * time.Millisecond):
		case <-c.closer:
			return 0, fmt.Errorf("plasmodesmata/pool: connection closed")
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// ReleaseRecvWindow restores n bytes of connection-level receive credit
// and tells the peer about it with a WINDOW_UPDATE. Callers must invoke
// this only after the bytes have actually been written onward (e.g. to
// the tunneled TCP socket), not as soon as the DATA frame is parsed —
// releasing on arrival instead of on consumer progress is the other
// flow-control bug named in SPEC_FULL.md §9.
func (c *Conn) ReleaseRecvWindow(n int) error {
	if n <= 0 {
		return nil
	}
	atomic.AddInt32(&c.localWindow, int32(n))
	wu := &h2.WindowUpdate{}
	wu.SetIncrement(uint32(n))
	return c.writeFrameFlushed(wu, 0)
}

// Closed reports whether the connection has been torn down.
func (c *Conn) Closed() bool { return atomic.LoadUint32(&c.closed) != 0 }

// Close tears the connection down cleanly, sending GOAWAY first.
func (c *Conn) Close() error {
	if c.Closed() {
		return nil
	}
	ga := &h2.GoAway{}
	ga.SetCode(h2.NoError)
	c.writeFrame(ga, 0)
	c.bw.Flush()
	c.fail(fmt.Errorf("plasmodesmata/pool: closed locally"))
	return nil
}
