package main

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"audiomixer/internal/wireproto"
)

func TestRunTestSourceSendsMicAudioAtPosition(t *testing.T) {
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer server.Close()

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := uuid.New()
	pos := r3.Vec{X: 1, Y: 2, Z: 3}
	done := make(chan struct{})
	go func() {
		RunTestSource(ctx, client, server.LocalAddr().(*net.UDPAddr), id, pos, 440, 24000, 256, slog.Default())
		close(done)
	}()

	buf := make([]byte, 4096)
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := server.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	cancel()
	<-done

	typ, err := wireproto.Type(buf[:n])
	if err != nil {
		t.Fatalf("Type: %v", err)
	}
	if typ != wireproto.MicAudioNoEcho {
		t.Fatalf("packet type = %v, want MicAudioNoEcho", typ)
	}
	m, err := wireproto.DecodeMicAudio(false, buf[wireproto.HeaderSize:n])
	if err != nil {
		t.Fatalf("DecodeMicAudio: %v", err)
	}
	if m.NodeID != id {
		t.Errorf("NodeID = %v, want %v", m.NodeID, id)
	}
	if m.Position != pos {
		t.Errorf("Position = %+v, want %+v", m.Position, pos)
	}
	if len(m.PCM) != 2*256 {
		t.Errorf("PCM length = %d, want %d", len(m.PCM), 2*256)
	}
}
