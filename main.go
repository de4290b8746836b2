// Command audiomixer runs the spatial audio mixer: a UDP datagram socket,
// the mix scheduler (internal/mixer), and a Prometheus metrics endpoint.
package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"audiomixer/internal/config"
	"audiomixer/internal/domainclient"
	"audiomixer/internal/metrics"
	"audiomixer/internal/mixer"
)

// Version is reported by the version/status subcommands (cli.go).
var Version = "0.1.0-dev"

// maxDatagramSize is large enough for any packet this wire protocol
// produces; UDP itself caps a single datagram at 65507 bytes of payload.
const maxDatagramSize = 65507

func main() {
	if len(os.Args) > 1 && RunCLI(os.Args[1:]) {
		return
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(log)

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.ListenPort})
	if err != nil {
		log.Error("listen", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	mixerID := uuid.New()
	var domain domainclient.Client = domainclient.Noop{}
	if cfg.DomainServerAddress != "" {
		dc, err := domainclient.NewUDP(cfg.DomainServerAddress, mixerID, cfg.ListenPort)
		if err != nil {
			log.Error("domain client", "error", err)
			os.Exit(1)
		}
		defer dc.Close()
		domain = dc
	}

	m := metrics.New()
	mx := mixer.New(cfg.MixerConfig(), udpSender{conn}, domain, m, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Info("shutdown requested")
		cancel()
	}()

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, log)
	}

	go receiveLoop(ctx, conn, mx, log)

	log.Info("mixer starting",
		"mixer_id", mixerID,
		"listen_port", cfg.ListenPort,
		"sample_rate", cfg.SampleRate,
		"frames_per_channel", cfg.FramesPerChannel,
		"jitter_buffer_ms", cfg.JitterBufferMs,
	)
	mx.Run(ctx)
	log.Info("mixer stopped")
}

// udpSender adapts *net.UDPConn to mixer.Sender.
type udpSender struct{ conn *net.UDPConn }

func (s udpSender) SendTo(data []byte, addr *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(data, addr)
	return err
}

// receiveLoop is the network receive goroutine: it blocks on the socket
// and hands copied byte slices to the mixer's inbound queue, never a
// pointer into a ring buffer.
func receiveLoop(ctx context.Context, conn *net.UDPConn, mx *mixer.Mixer, log *slog.Logger) {
	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("udp read", "error", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		mx.Enqueue(mixer.Datagram{Data: data, From: addr})
	}
}

func serveMetrics(ctx context.Context, addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && ctx.Err() == nil {
		log.Warn("metrics server", "error", err)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
