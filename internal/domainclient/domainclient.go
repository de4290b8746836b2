// Package domainclient is the mixer's contract with the directory/domain
// server that owns node discovery. The mixer never implements that
// protocol itself, only consumes it through this interface, so the core
// doesn't need to know the transport behind it.
package domainclient

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// NodeType is the domain server's classification of a roster entry. The
// mixer only subscribes to the two kinds that produce audio.
type NodeType string

const (
	NodeTypeAgent         NodeType = "agent"
	NodeTypeAudioInjector NodeType = "audio-injector"
)

// RosterEntry is one node as reported by the domain server.
type RosterEntry struct {
	ID         uuid.UUID
	Type       NodeType
	PublicAddr *net.UDPAddr
	LocalAddr  *net.UDPAddr
}

// Client is the boundary the mixer's liveness side loop drives: a
// periodic heartbeat announcing this mixer's presence, answered with the
// current roster of agent/audio-injector nodes.
type Client interface {
	// CheckIn announces this mixer to the domain server and returns the
	// current roster. Implementations own their own transport and
	// retry/backoff policy; the mixer calls this on its liveness timer
	// and treats a returned error as "roster unchanged this round".
	CheckIn(ctx context.Context, now time.Time) ([]RosterEntry, error)
}

// Noop is a Client that never reaches an external domain server: it
// returns an empty roster every time. Useful for standalone/test mixer
// instances, where peers find the mixer directly.
type Noop struct{}

func (Noop) CheckIn(ctx context.Context, now time.Time) ([]RosterEntry, error) {
	return nil, nil
}

// Domain-server wire format. Single-datagram request/reply, little-endian,
// IPv4 addresses only.
//
//	heartbeat:    [0x10][version][mixer UUID 16][listen port u16]
//	roster reply: [0x11][version][count u16] then count * 29-byte entries:
//	              UUID(16) ‖ node type(1) ‖ public ip4(4)+port(2) ‖
//	              local ip4(4)+port(2)
const (
	typeHeartbeat   = 0x10
	typeRosterReply = 0x11

	protocolVersion = 1

	rosterEntrySize = 16 + 1 + 6 + 6
	rosterHeaderLen = 4

	nodeTypeAgentByte         = 1
	nodeTypeAudioInjectorByte = 2
)

// UDPClient is the real Client: one heartbeat datagram out, one roster
// datagram back, on a dedicated socket. A CheckIn that gets no reply
// within the timeout returns an error; the mixer's liveness timer is the
// retry policy.
type UDPClient struct {
	conn    *net.UDPConn
	mixerID uuid.UUID
	port    uint16
	timeout time.Duration
}

// NewUDP dials the domain server and returns a ready UDPClient. mixerID
// identifies this mixer in heartbeats; listenPort is the UDP port peers
// should send audio to.
func NewUDP(serverAddr string, mixerID uuid.UUID, listenPort int) (*UDPClient, error) {
	addr, err := net.ResolveUDPAddr("udp4", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("domainclient: resolve %s: %w", serverAddr, err)
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("domainclient: dial %s: %w", serverAddr, err)
	}
	return &UDPClient{
		conn:    conn,
		mixerID: mixerID,
		port:    uint16(listenPort),
		timeout: time.Second,
	}, nil
}

// Close releases the client's socket.
func (c *UDPClient) Close() error { return c.conn.Close() }

// CheckIn implements Client over the UDP heartbeat protocol.
func (c *UDPClient) CheckIn(ctx context.Context, now time.Time) ([]RosterEntry, error) {
	hb := make([]byte, 0, 2+16+2)
	hb = append(hb, typeHeartbeat, protocolVersion)
	hb = append(hb, c.mixerID[:]...)
	hb = binary.LittleEndian.AppendUint16(hb, c.port)

	deadline := now.Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("domainclient: set deadline: %w", err)
	}
	if _, err := c.conn.Write(hb); err != nil {
		return nil, fmt.Errorf("domainclient: heartbeat: %w", err)
	}

	buf := make([]byte, 64*1024)
	n, err := c.conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("domainclient: roster read: %w", err)
	}
	return parseRoster(buf[:n])
}

func parseRoster(data []byte) ([]RosterEntry, error) {
	if len(data) < rosterHeaderLen {
		return nil, fmt.Errorf("domainclient: roster reply too short (%d bytes)", len(data))
	}
	if data[0] != typeRosterReply {
		return nil, fmt.Errorf("domainclient: unexpected reply type 0x%02x", data[0])
	}
	count := int(binary.LittleEndian.Uint16(data[2:]))
	body := data[rosterHeaderLen:]
	if len(body) < count*rosterEntrySize {
		return nil, fmt.Errorf("domainclient: roster truncated: %d entries in %d bytes", count, len(body))
	}

	roster := make([]RosterEntry, 0, count)
	for i := 0; i < count; i++ {
		e := body[i*rosterEntrySize : (i+1)*rosterEntrySize]
		id, err := uuid.FromBytes(e[:16])
		if err != nil {
			return nil, fmt.Errorf("domainclient: roster entry %d: %w", i, err)
		}
		var t NodeType
		switch e[16] {
		case nodeTypeAgentByte:
			t = NodeTypeAgent
		case nodeTypeAudioInjectorByte:
			t = NodeTypeAudioInjector
		default:
			// A node kind this mixer doesn't subscribe to.
			continue
		}
		roster = append(roster, RosterEntry{
			ID:         id,
			Type:       t,
			PublicAddr: decodeAddr(e[17:23]),
			LocalAddr:  decodeAddr(e[23:29]),
		})
	}
	return roster, nil
}

// decodeAddr turns a 4-byte IPv4 + 2-byte port field into a UDP address,
// or nil for the all-zero "no address" encoding.
func decodeAddr(b []byte) *net.UDPAddr {
	port := binary.LittleEndian.Uint16(b[4:])
	ip := net.IPv4(b[0], b[1], b[2], b[3])
	if ip.Equal(net.IPv4zero) && port == 0 {
		return nil
	}
	return &net.UDPAddr{IP: ip, Port: int(port)}
}

// encodeAddr is decodeAddr's inverse, used by tests standing in for a
// domain server.
func encodeAddr(dst []byte, addr *net.UDPAddr) {
	if addr == nil {
		return
	}
	copy(dst, addr.IP.To4())
	binary.LittleEndian.PutUint16(dst[4:], uint16(addr.Port))
}
