// Package tunnel implements the CONNECT tunnel splicer: the bidirectional
// byte pump between a plain TCP connection and an HTTP/2 stream carrying
// it, with explicit flow-control bookkeeping and half-close propagation
// in both directions.
package tunnel

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/valyala/bytebufferpool"

	h2 "github.com/iovxw/plasmodesmata"
)

const bufSize = 2048

// halfCloser is satisfied by *net.TCPConn and *tls.Conn; it lets the
// stream->TCP pump propagate the stream's END_STREAM as a TCP half-close
// instead of fully closing the socket out from under the other pump.
type halfCloser interface {
	CloseWrite() error
}

// Stream is the subset of pool.Stream the splicer needs, kept narrow so
// tests can supply a fake.
type Stream interface {
	Recv(ctx context.Context) (*h2.FrameHeader, error)
	SendData(b []byte, endStream bool) error
	ReserveSendWindow(ctx context.Context, n int) (int, error)
	ReleaseRecvWindow(n int) error
	Reset(code h2.ErrorCode) error
}

// Stats reports how many bytes each direction of a Pipe moved and which
// direction, if either, failed first.
type Stats struct {
	BytesToStream int64
	BytesFromStream int64
	Err           error
}

// Pipe splices conn with stream until either side reaches end-of-stream
// or an error occurs.
type Pipe struct {
	conn   net.Conn
	stream Stream
}

// New returns a Pipe ready to Run.
func New(conn net.Conn, stream Stream) *Pipe {
	return &Pipe{conn: conn, stream: stream}
}

// Run drives both pumps to completion and returns once both have
// stopped, closing conn on the way out. It never returns before both
// directions have finished so the caller can safely release stream
// resources afterward.
func (p *Pipe) Run(ctx context.Context) Stats {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stats Stats
	var once sync.Once
	recordErr := func(err error) {
		once.Do(func() {
			if err != nil && !errors.Is(err, io.EOF) {
				stats.Err = err
			}
			cancel()
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		n, err := copyToStream(ctx, p.conn, p.stream)
		stats.BytesToStream = n
		recordErr(err)
	}()

	go func() {
		defer wg.Done()
		n, err := copyFromStream(ctx, p.stream, p.conn)
		stats.BytesFromStream = n
		recordErr(err)
	}()

	wg.Wait()
	p.conn.Close()
	return stats
}

// copyToStream pumps bytes read from src onto dst, the TCP->stream
// direction. It reserves send-window capacity before writing each DATA
// frame — never after — so a slow/congested peer throttles this pump
// instead of the frame being written speculatively and the HTTP/2
// connection's flow control going negative.
func copyToStream(ctx context.Context, src net.Conn, dst Stream) (int64, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.B = growTo(buf.B, bufSize)

	var total int64
	for {
		n, err := src.Read(buf.B[:bufSize])
		if n > 0 {
			total += int64(n)
			chunk := buf.B[:n]
			for len(chunk) > 0 {
				granted, werr := dst.ReserveSendWindow(ctx, len(chunk))
				if werr != nil {
					return total, werr
				}
				if serr := dst.SendData(chunk[:granted], false); serr != nil {
					return total, serr
				}
				chunk = chunk[granted:]
			}
		}
		if err != nil {
			if err == io.EOF {
				return total, dst.SendData(nil, true)
			}
			dst.Reset(h2.Cancel)
			return total, err
		}
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
	}
}

// copyFromStream pumps bytes arriving as DATA frames on src onto dst,
// the stream->TCP direction. Receive-window credit is released only
// after dst.Write has actually accepted the bytes, never as soon as the
// frame is parsed off the wire — releasing early would let the peer
// keep sending faster than this side can actually drain it.
func copyFromStream(ctx context.Context, src Stream, dst net.Conn) (int64, error) {
	var total int64
	for {
		fh, err := src.Recv(ctx)
		if err != nil {
			return total, err
		}

		switch body := fh.Body().(type) {
		case *h2.Data:
			b := body.Bytes()
			endStream := body.EndStream()
			if len(b) > 0 {
				n, werr := dst.Write(b)
				total += int64(n)
				h2.ReleaseFrameHeader(fh)
				if werr != nil {
					return total, werr
				}
				if rerr := src.ReleaseRecvWindow(n); rerr != nil {
					return total, rerr
				}
			} else {
				h2.ReleaseFrameHeader(fh)
			}
			if endStream {
				if hc, ok := dst.(halfCloser); ok {
					hc.CloseWrite()
				}
				return total, io.EOF
			}

		case *h2.RstStream:
			code := body.Code()
			h2.ReleaseFrameHeader(fh)
			return total, &h2.Error{Code: code}

		default:
			h2.ReleaseFrameHeader(fh)
		}
	}
}

func growTo(b []byte, n int) []byte {
	if cap(b) >= n {
		return b[:n]
	}
	return make([]byte, n)
}
