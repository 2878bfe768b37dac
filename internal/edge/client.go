// Package edge implements the two accept loops the CLI wires up: the
// client edge (accepts plain TCP, forwards each connection as a CONNECT
// stream) and the server edge (terminates TLS, reads a CONNECT stream,
// dials a fixed upstream).
package edge

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	h2 "github.com/iovxw/plasmodesmata"
	"github.com/iovxw/plasmodesmata/internal/hpackutil"
	"github.com/iovxw/plasmodesmata/internal/pool"
	"github.com/iovxw/plasmodesmata/internal/tunnel"
)

// ClientConfig configures RunClient.
type ClientConfig struct {
	ListenAddr   string
	RemoteAddr   string
	RemoteDomain string
	TLSConfig    *tls.Config
	PingInterval time.Duration
	Log          *logrus.Logger
}

// RunClient accepts plain TCP on cfg.ListenAddr and, for each accepted
// connection, opens a CONNECT stream to cfg.RemoteAddr over the
// connection pool and splices the two together. It blocks until ctx is
// canceled or the listener fails.
func RunClient(ctx context.Context, cfg ClientConfig) error {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("plasmodesmata/edge: listen %s: %w", cfg.ListenAddr, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	p := pool.New(cfg.RemoteAddr, pool.Options{
		TLSConfig:    cfg.TLSConfig,
		PingInterval: cfg.PingInterval,
		DialTimeout:  10 * time.Second,
		Log:          log,
	})
	defer p.Close()

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
		go handleClientConn(ctx, conn, p, cfg.RemoteDomain, log)
	}
}

func handleClientConn(ctx context.Context, conn net.Conn, p *pool.Pool, domain string, log *logrus.Logger) {
	entry := log.WithField("local", conn.RemoteAddr())

	c, err := p.Get(ctx)
	if err != nil {
		entry.WithError(err).Warn("could not obtain pooled connection")
		conn.Close()
		return
	}

	stream := c.OpenStream()
	defer stream.Close()
	entry = entry.WithField("stream", stream.ID())

	headerBlock := hpackutil.EncodeConnect(domain)
	if err := c.WriteHeaders(stream, headerBlock, false); err != nil {
		entry.WithError(err).Warn("failed to send CONNECT headers")
		conn.Close()
		return
	}

	fh, err := stream.Recv(ctx)
	if err != nil {
		entry.WithError(err).Warn("no response to CONNECT")
		conn.Close()
		return
	}
	headers, ok := fh.Body().(*h2.Headers)
	if !ok {
		h2.ReleaseFrameHeader(fh)
		entry.Warn("unexpected frame in place of CONNECT response headers")
		conn.Close()
		return
	}
	fields, err := hpackutil.Decode(headers.HeaderBlockFragment())
	h2.ReleaseFrameHeader(fh)
	if err != nil {
		entry.WithError(err).Warn("failed to decode response headers")
		conn.Close()
		return
	}
	if status := hpackutil.Status(fields); status != "200" {
		entry.WithField("status", status).Warn("CONNECT refused, closing both sides")
		stream.Reset(h2.RefusedStream)
		conn.Close()
		return
	}

	stats := tunnel.New(conn, stream).Run(ctx)
	fields2 := logrus.Fields{
		"bytes_sent":     stats.BytesToStream,
		"bytes_received": stats.BytesFromStream,
	}
	if stats.Err != nil {
		entry.WithFields(fields2).WithError(stats.Err).Warn("tunnel closed with error")
	} else {
		entry.WithFields(fields2).Debug("tunnel closed")
	}
}
