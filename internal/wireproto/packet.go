// Package wireproto defines the mixer's UDP wire format: a 1-byte type tag
// plus a small fixed header, followed by a type-specific payload.
// Everything is little-endian, matching the PCM sample encoding.
package wireproto

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// PacketType is the 1-byte leading tag of every datagram.
type PacketType byte

const (
	MicAudioNoEcho   PacketType = 0x01
	MicAudioWithEcho PacketType = 0x02
	InjectAudio      PacketType = 0x03
	MixedAudio       PacketType = 0x04
	Ping             PacketType = 0x05
	PingReply        PacketType = 0x06
)

// ProtocolVersion is carried in every header so future incompatible wire
// changes can be detected defensively; the mixer neither checks nor logs
// the version byte of inbound packets, since there is only one version.
const ProtocolVersion byte = 1

// HeaderSize is the fixed header: [type:1][version:1].
const HeaderSize = 2

// LoopbackYawModifierDegrees shifts the yaw field of the "with echo"
// variant away from any real yaw value, so a client can recognize its own
// looped-back audio by the yaw alone. EncodeMicAudio applies the shift
// and DecodeMicAudio removes it; nothing between them ever sees a
// modified yaw.
const LoopbackYawModifierDegrees = 307.0

const uuidSize = 16

var (
	// ErrTooShort is returned when a payload is smaller than its fixed
	// fields require.
	ErrTooShort = errors.New("wireproto: packet too short")
	// ErrBadUUID is returned when the UUID bytes cannot be parsed.
	ErrBadUUID = errors.New("wireproto: malformed uuid")
	// ErrNonFinite is returned when a decoded float is NaN or +/-Inf.
	ErrNonFinite = errors.New("wireproto: non-finite geometry field")
)

// WriteHeader appends [type][version] to dst and returns the result.
func WriteHeader(dst []byte, t PacketType) []byte {
	return append(dst, byte(t), ProtocolVersion)
}

// Type returns the packet type of a raw datagram, or an error if the
// datagram is too short to contain even the header.
func Type(data []byte) (PacketType, error) {
	if len(data) < HeaderSize {
		return 0, ErrTooShort
	}
	return PacketType(data[0]), nil
}

func readFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func putFloat32(dst []byte, v float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// MicAudio is the decoded payload of MicAudioNoEcho/MicAudioWithEcho:
// header ‖ UUID(16) ‖ pos(3*f32) ‖ yaw(f32) ‖ PCM.
type MicAudio struct {
	NodeID   uuid.UUID
	Position r3.Vec
	YawDeg   float32 // true yaw; the loopback modifier is stripped on decode
	PCM      []byte
	Loopback bool // derived from packet type, not yaw
}

// DecodeMicAudio parses a MicAudioNoEcho/MicAudioWithEcho payload
// (everything after the 2-byte header). Returns ErrTooShort, ErrBadUUID,
// or ErrNonFinite on malformed input. For the with-echo variant the
// loopback yaw modifier is removed, so YawDeg is always the true yaw.
func DecodeMicAudio(loopback bool, body []byte) (MicAudio, error) {
	const fixed = uuidSize + 3*4 + 4
	if len(body) < fixed {
		return MicAudio{}, ErrTooShort
	}
	id, err := uuid.FromBytes(body[:uuidSize])
	if err != nil {
		return MicAudio{}, ErrBadUUID
	}
	off := uuidSize
	x, y, z := readFloat32(body[off:]), readFloat32(body[off+4:]), readFloat32(body[off+8:])
	off += 12
	yaw := readFloat32(body[off:])
	off += 4
	if !finite(x) || !finite(y) || !finite(z) || !finite(yaw) {
		return MicAudio{}, ErrNonFinite
	}
	if loopback {
		if yaw > 0 {
			yaw -= LoopbackYawModifierDegrees
		} else {
			yaw += LoopbackYawModifierDegrees
		}
	}
	return MicAudio{
		NodeID:   id,
		Position: r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)},
		YawDeg:   yaw,
		PCM:      body[off:],
		Loopback: loopback,
	}, nil
}

// EncodeMicAudio serializes a MicAudio packet, applying the loopback yaw
// modifier for the with-echo variant. Used by tests and the synthetic
// test source.
func EncodeMicAudio(m MicAudio) []byte {
	t := MicAudioNoEcho
	yaw := m.YawDeg
	if m.Loopback {
		t = MicAudioWithEcho
		if yaw > 0 {
			yaw += LoopbackYawModifierDegrees
		} else {
			yaw -= LoopbackYawModifierDegrees
		}
	}
	out := WriteHeader(make([]byte, 0, HeaderSize+uuidSize+16+len(m.PCM)), t)
	out = append(out, m.NodeID[:]...)
	buf := make([]byte, 16)
	putFloat32(buf[0:], float32(m.Position.X))
	putFloat32(buf[4:], float32(m.Position.Y))
	putFloat32(buf[8:], float32(m.Position.Z))
	putFloat32(buf[12:], yaw)
	out = append(out, buf...)
	out = append(out, m.PCM...)
	return out
}

// InjectedAudio is the decoded payload of InjectAudio: header ‖ UUID(16)
// ‖ injectorID(16) ‖ pos(3*f32) ‖ orientation(4*f32 quaternion) ‖
// radius(f32) ‖ attenuation(f32) ‖ PCM.
type InjectedAudio struct {
	NodeID      uuid.UUID
	InjectorID  uuid.UUID
	Position    r3.Vec
	Orientation quat.Number
	Radius      float32
	Attenuation float32
	PCM         []byte
}

// DecodeInjectedAudio parses an InjectAudio payload (everything after the
// 2-byte header).
func DecodeInjectedAudio(body []byte) (InjectedAudio, error) {
	const fixed = 2*uuidSize + 3*4 + 4*4 + 4 + 4
	if len(body) < fixed {
		return InjectedAudio{}, ErrTooShort
	}
	nodeID, err := uuid.FromBytes(body[:uuidSize])
	if err != nil {
		return InjectedAudio{}, ErrBadUUID
	}
	off := uuidSize
	injID, err := uuid.FromBytes(body[off : off+uuidSize])
	if err != nil {
		return InjectedAudio{}, ErrBadUUID
	}
	off += uuidSize

	x, y, z := readFloat32(body[off:]), readFloat32(body[off+4:]), readFloat32(body[off+8:])
	off += 12
	qx, qy, qz, qw := readFloat32(body[off:]), readFloat32(body[off+4:]), readFloat32(body[off+8:]), readFloat32(body[off+12:])
	off += 16
	radius := readFloat32(body[off:])
	off += 4
	atten := readFloat32(body[off:])
	off += 4

	for _, f := range []float32{x, y, z, qx, qy, qz, qw, radius, atten} {
		if !finite(f) {
			return InjectedAudio{}, ErrNonFinite
		}
	}

	return InjectedAudio{
		NodeID:      nodeID,
		InjectorID:  injID,
		Position:    r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)},
		Orientation: quat.Number{Imag: float64(qx), Jmag: float64(qy), Kmag: float64(qz), Real: float64(qw)},
		Radius:      radius,
		Attenuation: atten,
		PCM:         body[off:],
	}, nil
}

// EncodeInjectedAudio serializes an InjectedAudio packet.
func EncodeInjectedAudio(m InjectedAudio) []byte {
	out := WriteHeader(make([]byte, 0, HeaderSize+2*uuidSize+12+16+8+len(m.PCM)), InjectAudio)
	out = append(out, m.NodeID[:]...)
	out = append(out, m.InjectorID[:]...)
	buf := make([]byte, 12+16+8)
	putFloat32(buf[0:], float32(m.Position.X))
	putFloat32(buf[4:], float32(m.Position.Y))
	putFloat32(buf[8:], float32(m.Position.Z))
	putFloat32(buf[12:], float32(m.Orientation.Imag))
	putFloat32(buf[16:], float32(m.Orientation.Jmag))
	putFloat32(buf[20:], float32(m.Orientation.Kmag))
	putFloat32(buf[24:], float32(m.Orientation.Real))
	putFloat32(buf[28:], m.Radius)
	putFloat32(buf[32:], m.Attenuation)
	out = append(out, buf...)
	out = append(out, m.PCM...)
	return out
}

// EncodeMixedAudio serializes the mixer's outbound stereo datagram: header
// ‖ interleaved stereo PCM (left/right pairs), 4*F bytes.
func EncodeMixedAudio(left, right []int16) []byte {
	out := WriteHeader(make([]byte, 0, HeaderSize+4*len(left)), MixedAudio)
	buf := make([]byte, 4*len(left))
	for i := range left {
		binary.LittleEndian.PutUint16(buf[4*i:], uint16(left[i]))
		binary.LittleEndian.PutUint16(buf[4*i+2:], uint16(right[i]))
	}
	return append(out, buf...)
}

// PingPayload is the decoded body of a Ping/PingReply packet: a single
// little-endian uint64 timestamp.
type PingPayload struct {
	TimestampMicros uint64
}

// DecodePing parses a Ping/PingReply payload (everything after the header).
func DecodePing(body []byte) (PingPayload, error) {
	if len(body) < 8 {
		return PingPayload{}, ErrTooShort
	}
	return PingPayload{TimestampMicros: binary.LittleEndian.Uint64(body)}, nil
}

// EncodePing serializes a Ping or PingReply packet.
func EncodePing(reply bool, p PingPayload) []byte {
	t := Ping
	if reply {
		t = PingReply
	}
	out := WriteHeader(make([]byte, 0, HeaderSize+8), t)
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, p.TimestampMicros)
	return append(out, buf...)
}
