package edge

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	h2 "github.com/iovxw/plasmodesmata"
	"github.com/iovxw/plasmodesmata/internal/hpackutil"
	"github.com/iovxw/plasmodesmata/internal/tunnel"
)

const serverPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// ServerConfig configures RunServer.
type ServerConfig struct {
	ListenAddr string
	Upstream   string
	TLSConfig  *tls.Config
	Log        *logrus.Logger
}

// RunServer terminates TLS on cfg.ListenAddr, speaks HTTP/2 far enough
// to read a CONNECT stream, and dials cfg.Upstream for each one. It
// blocks until ctx is canceled or the listener fails.
func RunServer(ctx context.Context, cfg ServerConfig) error {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	ln, err := tls.Listen("tcp", cfg.ListenAddr, cfg.TLSConfig)
	if err != nil {
		return fmt.Errorf("plasmodesmata/edge: listen %s: %w", cfg.ListenAddr, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("plasmodesmata/edge: accept: %w", err)
			}
		}
		go serveConn(ctx, conn.(*tls.Conn), cfg.Upstream, log)
	}
}

func serveConn(ctx context.Context, conn *tls.Conn, upstream string, log *logrus.Logger) {
	defer conn.Close()

	if err := conn.HandshakeContext(ctx); err != nil {
		log.WithError(err).Warn("tls handshake failed")
		return
	}
	if proto := conn.ConnectionState().NegotiatedProtocol; proto != "h2" {
		log.WithField("proto", proto).Warn("peer did not negotiate h2, closing")
		return
	}

	sc := &serverConn{
		conn:    conn,
		br:      bufio.NewReaderSize(conn, 32*1024),
		bw:      bufio.NewWriterSize(conn, 32*1024),
		dec:     h2.NewDecoder(1 << 14),
		log:     log.WithField("remote", conn.RemoteAddr()),
		streams: make(map[uint32]chan *h2.FrameHeader),
	}

	if err := sc.handshake(); err != nil {
		sc.log.WithError(err).Warn("http2 handshake failed")
		return
	}

	sc.serve(ctx, upstream)
}

// serverConn is the accept-side counterpart to pool.Conn: instead of
// dispatching streams out of a pool, it spawns one independent handler
// goroutine per incoming CONNECT stream, matching
// dgrr-http2's per-stream-task dispatch shape.
type serverConn struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
	dec  *h2.Decoder
	log  *logrus.Entry

	writeMu sync.Mutex

	streamsMu sync.Mutex
	streams   map[uint32]chan *h2.FrameHeader
}

func (sc *serverConn) handshake() error {
	preface := make([]byte, len(serverPreface))
	if _, err := fillBuf(sc.br, preface); err != nil {
		return fmt.Errorf("read preface: %w", err)
	}
	if string(preface) != serverPreface {
		return fmt.Errorf("bad preface")
	}

	settings := &h2.SettingsFrame{}
	settings.Add(h2.SettingMaxConcurrentStreams, 100)
	settings.Add(h2.SettingInitialWindowSize, 1<<16-1)
	if err := sc.writeFrame(settings, 0); err != nil {
		return err
	}
	return sc.bw.Flush()
}

func fillBuf(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (sc *serverConn) writeFrame(body h2.Frame, stream uint32) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	fh := h2.AcquireFrameHeader()
	defer h2.ReleaseFrameHeader(fh)
	fh.SetBody(body)
	fh.SetStream(stream)

	var buf []byte
	buf = h2.Encode(buf, fh)
	_, err := sc.bw.Write(buf)
	return err
}

func (sc *serverConn) writeFrameFlushed(body h2.Frame, stream uint32) error {
	if err := sc.writeFrame(body, stream); err != nil {
		return err
	}
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return sc.bw.Flush()
}

func (sc *serverConn) serve(ctx context.Context, upstream string) {
	buf := make([]byte, 0, 16*1024)
	tmp := make([]byte, 16*1024)

	for {
		n, err := sc.br.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			sc.closeStreams()
			return
		}

		for {
			fh, consumed, decErr := sc.dec.Decode(buf)
			if decErr != nil {
				sc.log.WithError(decErr).Warn("frame decode error")
				sc.closeStreams()
				return
			}
			if consumed == 0 {
				break
			}
			buf = append(buf[:0], buf[consumed:]...)
			sc.dispatch(ctx, fh, upstream)
		}
	}
}

// closeStreams tears down every still-registered stream when the whole
// connection is going away; per-stream cleanup as each tunnel finishes is
// forgetStream's job, called from handleStream.
func (sc *serverConn) closeStreams() {
	sc.streamsMu.Lock()
	defer sc.streamsMu.Unlock()
	for id, ch := range sc.streams {
		close(ch)
		delete(sc.streams, id)
	}
}

// forgetStream removes id's entry once its tunnel has finished, so a
// long-lived connection multiplexing many sequential CONNECT tunnels does
// not accumulate one stale map entry and buffered channel per finished
// tunnel for the life of the TCP connection.
func (sc *serverConn) forgetStream(id uint32) {
	sc.streamsMu.Lock()
	defer sc.streamsMu.Unlock()
	delete(sc.streams, id)
}

func (sc *serverConn) dispatch(ctx context.Context, fh *h2.FrameHeader, upstream string) {
	switch body := fh.Body().(type) {
	case *h2.Ping:
		if !body.Ack() {
			reply := &h2.Ping{}
			reply.SetData(body.Data())
			reply.SetAck(true)
			sc.writeFrameFlushed(reply, 0)
		}
		h2.ReleaseFrameHeader(fh)
		return

	case *h2.SettingsFrame:
		if !body.Ack() {
			ack := &h2.SettingsFrame{}
			ack.SetAck(true)
			sc.writeFrameFlushed(ack, 0)
		}
		h2.ReleaseFrameHeader(fh)
		return

	case *h2.WindowUpdate:
		h2.ReleaseFrameHeader(fh)
		return

	case *h2.Headers:
		id := fh.Stream()
		sc.streamsMu.Lock()
		ch, ok := sc.streams[id]
		if !ok {
			ch = make(chan *h2.FrameHeader, 16)
			sc.streams[id] = ch
			go sc.handleStream(ctx, id, ch, upstream)
		}
		sc.streamsMu.Unlock()
		select {
		case ch <- fh:
		default:
			h2.ReleaseFrameHeader(fh)
		}
		return
	}

	id := fh.Stream()
	sc.streamsMu.Lock()
	ch, ok := sc.streams[id]
	sc.streamsMu.Unlock()
	if ok {
		select {
		case ch <- fh:
		default:
			h2.ReleaseFrameHeader(fh)
		}
		return
	}
	h2.ReleaseFrameHeader(fh)
}

// handleStream services one CONNECT stream end to end: reads the
// request headers, dials upstream, replies 200, and splices the stream
// with the dialed TCP connection. It runs on its own goroutine, the Go
// equivalent of the original server's per-stream task.
func (sc *serverConn) handleStream(ctx context.Context, id uint32, in chan *h2.FrameHeader, upstream string) {
	entry := sc.log.WithField("stream", id)
	defer sc.forgetStream(id)

	fh, ok := <-in
	if !ok {
		return
	}
	headers := fh.Body().(*h2.Headers)
	fields, err := hpackutil.Decode(headers.HeaderBlockFragment())
	h2.ReleaseFrameHeader(fh)
	if err != nil {
		entry.WithError(err).Warn("bad request headers")
		sc.writeFrameFlushed(resetStream(h2.ProtocolError), id)
		return
	}
	if hpackutil.Method(fields) != "CONNECT" {
		entry.WithField("method", hpackutil.Method(fields)).Warn("non-CONNECT method, refusing")
		sc.writeFrameFlushed(resetStream(h2.RefusedStream), id)
		return
	}

	dialer := net.Dialer{}
	upConn, err := dialer.DialContext(ctx, "tcp", upstream)
	if err != nil {
		entry.WithError(err).Warn("failed to dial upstream")
		sc.writeFrameFlushed(respondStatus(502), id)
		return
	}

	if err := sc.writeFrameFlushed(respondStatus(200), id); err != nil {
		entry.WithError(err).Warn("failed to send 200 response")
		upConn.Close()
		return
	}

	stream := &serverStream{sc: sc, id: id, in: in}
	stats := tunnel.New(upConn, stream).Run(ctx)
	if stats.Err != nil {
		entry.WithError(stats.Err).Warn("tunnel closed with error")
	}
}

func resetStream(code h2.ErrorCode) h2.Frame {
	r := &h2.RstStream{}
	r.SetCode(code)
	return r
}

func respondStatus(status int) h2.Frame {
	h := &h2.Headers{}
	h.SetHeaderBlockFragment(hpackutil.EncodeStatus(status))
	h.SetEndHeaders(true)
	return h
}

// serverStream adapts serverConn's map-dispatch model to the
// tunnel.Stream interface the splicer expects. Unlike pool.Stream it
// keeps no send-window bookkeeping: ReserveSendWindow grants every
// request in full.
type serverStream struct {
	sc *serverConn
	id uint32
	in chan *h2.FrameHeader

	sendWindow int
}

func (s *serverStream) Recv(ctx context.Context) (*h2.FrameHeader, error) {
	select {
	case fh, ok := <-s.in:
		if !ok {
			return nil, fmt.Errorf("stream closed")
		}
		return fh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *serverStream) SendData(b []byte, endStream bool) error {
	d := &h2.Data{}
	d.SetBytes(b)
	d.SetEndStream(endStream)
	return s.sc.writeFrameFlushed(d, s.id)
}

// ReserveSendWindow is a simplified, always-granting reservation: the
// server edge relies on TCP backpressure from the upstream dial rather
// than tracking the client's advertised window explicitly, since this
// direction is bounded by how fast the client's own pool-side reservation
// lets the tunnel drain.
func (s *serverStream) ReserveSendWindow(ctx context.Context, n int) (int, error) {
	return n, nil
}

func (s *serverStream) ReleaseRecvWindow(n int) error {
	if n <= 0 {
		return nil
	}
	wu := &h2.WindowUpdate{}
	wu.SetIncrement(uint32(n))
	return s.sc.writeFrameFlushed(wu, s.id)
}

func (s *serverStream) Reset(code h2.ErrorCode) error {
	return s.sc.writeFrameFlushed(resetStream(code), s.id)
}
