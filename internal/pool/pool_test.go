package pool

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

// serveOneHandshake plays the server side of the HTTP/2 preface+SETTINGS
// exchange well enough for Dial's handshake to complete against it.
func serveOneHandshake(t *testing.T, ln net.Listener) {
	t.Helper()
	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	tlsConn := conn.(*tls.Conn)
	require.NoError(t, tlsConn.Handshake())

	preface := make([]byte, len(clientPreface))
	_, err = io.ReadFull(tlsConn, preface)
	require.NoError(t, err)
	require.Equal(t, clientPreface, string(preface))

	dec := h2.NewDecoder(1 << 14)
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)

	readFrame := func() *h2.FrameHeader {
		for {
			fh, n, decErr := dec.Decode(buf)
			require.NoError(t, decErr)
			if n > 0 {
				buf = append(buf[:0], buf[n:]...)
				return fh
			}
			n2, rerr := tlsConn.Read(tmp)
			require.NoError(t, rerr)
			buf = append(buf, tmp[:n2]...)
		}
	}

	writeFrame := func(body h2.Frame, stream uint32) {
		out := h2.AcquireFrameHeader()
		defer h2.ReleaseFrameHeader(out)
		out.SetBody(body)
		out.SetStream(stream)
		raw := h2.Encode(nil, out)
		_, werr := tlsConn.Write(raw)
		require.NoError(t, werr)
	}

	fh := readFrame()
	_, ok := fh.Body().(*h2.SettingsFrame)
	require.True(t, ok, "expected client's initial SETTINGS")
	h2.ReleaseFrameHeader(fh)

	settings := &h2.SettingsFrame{}
	settings.Add(h2.SettingMaxConcurrentStreams, 10)
	writeFrame(settings, 0)

	fh = readFrame()
	sf, ok := fh.Body().(*h2.SettingsFrame)
	require.True(t, ok)
	require.True(t, sf.Ack())
	h2.ReleaseFrameHeader(fh)

	ack := &h2.SettingsFrame{}
	ack.SetAck(true)
	writeFrame(ack, 0)
}

func TestDialCompletesHandshake(t *testing.T) {
	cert := generateSelfSignedCert(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2"},
	})
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		serveOneHandshake(t, ln)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c, err := Dial(ctx, ln.Addr().String(), DialOpts{
		TLSConfig:   &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"h2"}},
		DialTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	defer c.Close()

	require.Equal(t, uint32(10), c.maxConcurrentStreams)

	<-serverDone
}

func TestDialFailsOnALPNMismatch(t *testing.T) {
	cert := generateSelfSignedCert(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"http/1.1"},
	})
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.(*tls.Conn).Handshake()
			conn.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err = Dial(ctx, ln.Addr().String(), DialOpts{
		TLSConfig:   &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"h2"}},
		DialTimeout: 2 * time.Second,
	})
	require.Error(t, err)
}

func TestDialBackoffGrowsThenResetsOnSuccess(t *testing.T) {
	p := &Pool{}

	p.recordDialFailure()
	first := p.nextDialAt
	require.True(t, first.After(time.Now()))

	p.recordDialFailure()
	require.True(t, p.nextDialAt.After(time.Now()))
	require.Equal(t, 2, p.failures)

	p.recordDialSuccess()
	require.True(t, p.nextDialAt.IsZero())
	require.Equal(t, 0, p.failures)
}

func TestMinHelper(t *testing.T) {
	require.Equal(t, 2, min(2, 5))
	require.Equal(t, 2, min(5, 2))
}

func TestStreamCloseReleasesConnSlot(t *testing.T) {
	c := &Conn{maxConcurrentStreams: 1}

	require.True(t, c.CanOpenStream())
	s := c.OpenStream()
	require.False(t, c.CanOpenStream(), "connection should be saturated at maxConcurrentStreams")

	s.Close()
	require.True(t, c.CanOpenStream(), "closing the stream must free its slot for reuse")

	_, ok := c.streams.Load(s.ID())
	require.False(t, ok, "closed stream must be removed from the stream table")
}
