package edge

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	h2 "github.com/iovxw/plasmodesmata"
	"github.com/iovxw/plasmodesmata/internal/hpackutil"
)

func generateSelfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// rawH2Client plays just enough of the client side of the handshake and
// CONNECT exchange to drive RunServer end to end, the same hand-rolled
// approach the pool package's tests use for the other side of the wire.
type rawH2Client struct {
	t    *testing.T
	conn *tls.Conn
	dec  *h2.Decoder
	buf  []byte
	tmp  []byte
}

func dialRawH2(t *testing.T, addr string) *rawH2Client {
	t.Helper()
	conn, err := tls.Dial("tcp", addr, &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"h2"}})
	require.NoError(t, err)

	_, err = conn.Write([]byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"))
	require.NoError(t, err)

	settings := &h2.SettingsFrame{}
	settings.Add(h2.SettingInitialWindowSize, 1<<16-1)
	out := h2.AcquireFrameHeader()
	out.SetBody(settings)
	out.SetStream(0)
	raw := h2.Encode(nil, out)
	h2.ReleaseFrameHeader(out)
	_, err = conn.Write(raw)
	require.NoError(t, err)

	return &rawH2Client{
		t:    t,
		conn: conn,
		dec:  h2.NewDecoder(1 << 14),
		buf:  make([]byte, 0, 4096),
		tmp:  make([]byte, 4096),
	}
}

func (c *rawH2Client) write(body h2.Frame, stream uint32) {
	fh := h2.AcquireFrameHeader()
	fh.SetBody(body)
	fh.SetStream(stream)
	raw := h2.Encode(nil, fh)
	h2.ReleaseFrameHeader(fh)
	_, err := c.conn.Write(raw)
	require.NoError(c.t, err)
}

// next returns the next frame, skipping SETTINGS, PING and WINDOW_UPDATE
// (the server releases receive credit after each write upstream) so
// callers only see the frames their assertions are about.
func (c *rawH2Client) next() *h2.FrameHeader {
	c.t.Helper()
	for {
		fh, n, err := c.dec.Decode(c.buf)
		require.NoError(c.t, err)
		if n > 0 {
			c.buf = append(c.buf[:0], c.buf[n:]...)
			switch fh.Body().(type) {
			case *h2.SettingsFrame, *h2.Ping, *h2.WindowUpdate:
				h2.ReleaseFrameHeader(fh)
				continue
			}
			return fh
		}
		n2, err := c.conn.Read(c.tmp)
		require.NoError(c.t, err)
		c.buf = append(c.buf, c.tmp[:n2]...)
	}
}

func TestRunServerTunnelsConnect(t *testing.T) {
	upstreamLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstreamLn.Close()

	go func() {
		conn, err := upstreamLn.Accept()
		if err != nil {
			return
		}
		io.Copy(conn, conn)
		conn.Close()
	}()

	serverAddr := freeAddr(t)
	cert := generateSelfSignedCert(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- RunServer(ctx, ServerConfig{
			ListenAddr: serverAddr,
			Upstream:   upstreamLn.Addr().String(),
			TLSConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				NextProtos:   []string{"h2"},
			},
		})
	}()

	var client *rawH2Client
	require.Eventually(t, func() bool {
		conn, err := tls.Dial("tcp", serverAddr, &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"h2"}})
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond, "server never started listening")

	client = dialRawH2(t, serverAddr)
	defer client.conn.Close()

	client.write(func() h2.Frame {
		h := &h2.Headers{}
		h.SetHeaderBlockFragment(hpackutil.EncodeConnect("example.com:443"))
		h.SetEndHeaders(true)
		return h
	}(), 1)

	fh := client.next()
	headers, ok := fh.Body().(*h2.Headers)
	require.True(t, ok, "expected HEADERS response to CONNECT")
	fields, err := hpackutil.Decode(headers.HeaderBlockFragment())
	require.NoError(t, err)
	require.Equal(t, "200", hpackutil.Status(fields))
	h2.ReleaseFrameHeader(fh)

	d := &h2.Data{}
	d.SetBytes([]byte("ping"))
	client.write(d, 1)

	fh = client.next()
	data, ok := fh.Body().(*h2.Data)
	require.True(t, ok, "expected DATA echo")
	require.Equal(t, "ping", string(data.Bytes()))
	h2.ReleaseFrameHeader(fh)

	endData := &h2.Data{}
	endData.SetEndStream(true)
	client.write(endData, 1)

	for {
		fh := client.next()
		body, ok := fh.Body().(*h2.Data)
		end := ok && body.EndStream()
		h2.ReleaseFrameHeader(fh)
		if end {
			break
		}
	}

	cancel()
	<-serverDone
}
