// Command plasmodesmata runs either half of the tunnel: client accepts
// plain TCP and forwards it as a CONNECT stream; server terminates TLS
// and dials a fixed upstream for each CONNECT it receives.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iovxw/plasmodesmata/internal/edge"
	"github.com/iovxw/plasmodesmata/internal/tlsconf"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	root := &cobra.Command{
		Use:   "plasmodesmata",
		Short: "tunnel arbitrary TCP connections over an HTTP/2 CONNECT stream",
	}

	root.AddCommand(newClientCmd(log))
	root.AddCommand(newServerCmd(log))

	if err := root.Execute(); err != nil {
		log.WithError(err).Fatal("exiting")
	}
}

func rootContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	return ctx
}

func newClientCmd(log *logrus.Logger) *cobra.Command {
	var localAddr, remoteAddr, remoteDomain string
	var insecure bool
	var pingInterval time.Duration

	cmd := &cobra.Command{
		Use:   "client",
		Short: "accept local TCP connections and forward them through the tunnel",
		RunE: func(cmd *cobra.Command, args []string) error {
			tlsCfg := tlsconf.ClientConfig(remoteDomain, insecure)
			return edge.RunClient(rootContext(), edge.ClientConfig{
				ListenAddr:   localAddr,
				RemoteAddr:   remoteAddr,
				RemoteDomain: remoteDomain,
				TLSConfig:    tlsCfg,
				PingInterval: pingInterval,
				Log:          log,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&localAddr, "listen", "l", "127.0.0.1:1080", "local address to accept plain TCP on")
	flags.StringVarP(&remoteAddr, "remote", "r", "", "tunnel server address to dial (host:port)")
	flags.StringVarP(&remoteDomain, "domain", "d", "", "CONNECT authority / SNI / ALPN server name")
	flags.BoolVar(&insecure, "insecure", false, "skip TLS certificate verification (testing only)")
	flags.DurationVar(&pingInterval, "ping-interval", 30*time.Second, "keepalive PING interval; 0 disables")
	cmd.MarkFlagRequired("remote")
	cmd.MarkFlagRequired("domain")

	return cmd
}

func newServerCmd(log *logrus.Logger) *cobra.Command {
	var localAddr, upstreamAddr, certFile, keyFile, ocspFile string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "terminate TLS, accept CONNECT streams, and dial a fixed upstream",
		RunE: func(cmd *cobra.Command, args []string) error {
			tlsCfg, err := tlsconf.ServerConfig(certFile, keyFile, ocspFile)
			if err != nil {
				return err
			}
			return edge.RunServer(rootContext(), edge.ServerConfig{
				ListenAddr: localAddr,
				Upstream:   upstreamAddr,
				TLSConfig:  tlsCfg,
				Log:        log,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&localAddr, "listen", "l", "0.0.0.0:8443", "address to accept TLS connections on")
	flags.StringVarP(&upstreamAddr, "remote", "r", "", "fixed upstream address to dial for every CONNECT")
	flags.StringVarP(&certFile, "cert", "c", "", "PEM certificate chain file")
	flags.StringVarP(&keyFile, "key", "k", "", "PEM private key file (PKCS#8 preferred over PKCS#1 if both present)")
	flags.StringVar(&ocspFile, "ocsp", "", "optional DER-encoded OCSP staple file")
	cmd.MarkFlagRequired("remote")
	cmd.MarkFlagRequired("cert")
	cmd.MarkFlagRequired("key")

	return cmd
}
