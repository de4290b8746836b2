package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"gonum.org/v1/gonum/spatial/r3"

	"audiomixer/internal/config"
)

// RunCLI handles subcommand execution before the server's own flag set
// is parsed: version, a dry-run of the effective configuration, and a
// synthetic test source for manual verification against a running mixer.
// There is no persisted state, so there is nothing else to administer.
func RunCLI(args []string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("audiomixer %s\n", Version)
		return true
	case "status":
		return cliStatus(args[1:])
	case "testsource":
		return cliTestSource(args[1:])
	default:
		return false
	}
}

// cliStatus reports the configuration the mixer would start with, given
// the same flags/config file a real run would use, without opening a
// socket.
func cliStatus(args []string) bool {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Printf("error loading config: %v\n", err)
		return true
	}
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Listen port: %d\n", cfg.ListenPort)
	fmt.Printf("Sample rate: %d Hz\n", cfg.SampleRate)
	fmt.Printf("Frames per channel: %d\n", cfg.FramesPerChannel)
	fmt.Printf("Jitter buffer: %.0f ms\n", cfg.JitterBufferMs)
	fmt.Printf("Silent node timeout: %d ms\n", cfg.SilentNodeTimeoutMs)
	fmt.Printf("Ping interval: %d ms\n", cfg.PingIntervalMs)
	fmt.Printf("Domain server address: %s\n", displayOrNone(cfg.DomainServerAddress))
	fmt.Printf("Metrics address: %s\n", displayOrNone(cfg.MetricsAddr))
	return true
}

func displayOrNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// cliTestSource drives RunTestSource against a mixer address, for manual
// end-to-end verification without a real audio-capable client.
func cliTestSource(args []string) bool {
	fs := pflag.NewFlagSet("audiomixer testsource", pflag.ContinueOnError)
	mixerAddr := fs.StringP("mixer-addr", "m", "127.0.0.1:8745", "mixer UDP listen address to send MicAudio to")
	freqHz := fs.Float64("freq-hz", 440, "sine tone frequency in Hz")
	posX := fs.Float64("x", 0, "source position X")
	posY := fs.Float64("y", 0, "source position Y")
	posZ := fs.Float64("z", 0, "source position Z")
	sampleRate := fs.Int("sample-rate", 24000, "PCM sample rate in Hz, must match the target mixer")
	framesPerChannel := fs.Int("frames-per-channel", 256, "samples per channel per tick, must match the target mixer")
	if err := fs.Parse(args); err != nil {
		fmt.Printf("error parsing testsource flags: %v\n", err)
		return true
	}

	addr, err := net.ResolveUDPAddr("udp", *mixerAddr)
	if err != nil {
		fmt.Printf("error resolving mixer address %q: %v\n", *mixerAddr, err)
		return true
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		fmt.Printf("error opening socket: %v\n", err)
		return true
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		cancel()
	}()

	id := uuid.New()
	pos := r3.Vec{X: *posX, Y: *posY, Z: *posZ}
	RunTestSource(ctx, conn, addr, id, pos, *freqHz, *sampleRate, *framesPerChannel, slog.Default())
	return true
}
