package main

import (
	"context"
	"log/slog"
	"math"
	"net"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"audiomixer/internal/wireproto"
)

// RunTestSource is a virtual client: it synthesizes a PCM sine wave and
// sends it as real MicAudio datagrams to a running mixer, one frame per
// tick period, for manual verification without a real audio-capable
// client.
func RunTestSource(ctx context.Context, conn net.PacketConn, mixerAddr *net.UDPAddr, id uuid.UUID, pos r3.Vec, freqHz float64, sampleRate, framesPerChannel int, log *slog.Logger) {
	period := time.Duration(float64(framesPerChannel) / float64(sampleRate) * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	const amplitude = 8000
	var phase float64
	step := 2 * math.Pi * freqHz / float64(sampleRate)

	log.Info("test source starting", "node_id", id, "frequency_hz", freqHz, "position", pos)
	defer log.Info("test source stopped", "node_id", id)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pcm := make([]byte, framesPerChannel*2)
		for i := 0; i < framesPerChannel; i++ {
			s := int16(amplitude * math.Sin(phase))
			phase += step
			if phase > 2*math.Pi {
				phase -= 2 * math.Pi
			}
			pcm[2*i] = byte(uint16(s))
			pcm[2*i+1] = byte(uint16(s) >> 8)
		}

		pkt := wireproto.EncodeMicAudio(wireproto.MicAudio{
			NodeID:   id,
			Position: pos,
			PCM:      pcm,
			Loopback: false,
		})
		if _, err := conn.WriteTo(pkt, mixerAddr); err != nil {
			log.Warn("test source send", "error", err)
		}
	}
}
