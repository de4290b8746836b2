// Package router classifies and applies inbound datagrams to the node
// registry. It runs on the mixer goroutine: the network thread only
// hands over raw byte slices and a sender address, never a pointer into
// a ring buffer.
package router

import (
	"math"
	"net"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"audiomixer/internal/registry"
	"audiomixer/internal/wireproto"
)

// Counters is the subset of metrics the router bumps on drop/error paths.
// Satisfied by internal/metrics; kept as a narrow interface here to avoid
// the router package depending on the Prometheus client directly.
type Counters interface {
	IncMalformed(reason string)
	IncUnknownType(t wireproto.PacketType)
	IncOverrun()
}

type nopCounters struct{}

func (nopCounters) IncMalformed(string)                 {}
func (nopCounters) IncUnknownType(wireproto.PacketType) {}
func (nopCounters) IncOverrun()                         {}

// NopCounters is a Counters implementation that discards every increment,
// for tests and callers that don't care about metrics.
var NopCounters Counters = nopCounters{}

// OtherHandler is invoked for any packet type the mixer doesn't own
// (domain/node-protocol control traffic), so those packets reach the
// node-protocol layer instead of being dropped.
type OtherHandler func(data []byte, from *net.UDPAddr)

// Router applies parsed datagrams to a Registry.
type Router struct {
	reg      *registry.Registry
	counters Counters
	other    OtherHandler
	now      func() time.Time
}

// New constructs a Router over reg. counters may be nil (defaults to a
// no-op). other may be nil (unrecognized non-mixer packets are then just
// counted and dropped).
func New(reg *registry.Registry, counters Counters, other OtherHandler) *Router {
	if counters == nil {
		counters = NopCounters
	}
	return &Router{reg: reg, counters: counters, other: other, now: time.Now}
}

// Apply classifies and dispatches one inbound datagram. from is the
// sender's observed UDP address, used for address promotion.
func (rt *Router) Apply(data []byte, from *net.UDPAddr) {
	typ, err := wireproto.Type(data)
	if err != nil {
		rt.counters.IncMalformed("short_header")
		return
	}
	body := data[wireproto.HeaderSize:]

	switch typ {
	case wireproto.MicAudioNoEcho, wireproto.MicAudioWithEcho:
		rt.applyMicAudio(typ == wireproto.MicAudioWithEcho, body, from)
	case wireproto.InjectAudio:
		rt.applyInjectAudio(body, from)
	case wireproto.Ping, wireproto.PingReply:
		rt.applyPing(body, from)
	default:
		rt.counters.IncUnknownType(typ)
		if rt.other != nil {
			rt.other(data, from)
		}
	}
}

func (rt *Router) applyMicAudio(loopback bool, body []byte, from *net.UDPAddr) {
	m, err := wireproto.DecodeMicAudio(loopback, body)
	if err != nil {
		rt.counters.IncMalformed(malformedReason(err))
		return
	}

	n := rt.reg.LookupOrCreate(m.NodeID)
	mic := rt.reg.EnsureMic(n)
	mic.SetPosition(m.Position)
	mic.SetOrientation(yawToQuat(m.YawDeg))
	n.LoopbackSelf = loopback

	if _, err := mic.Parse(m.PCM); err != nil {
		rt.counters.IncMalformed("pcm_odd_length")
		return
	}
	if mic.Overran() {
		rt.counters.IncOverrun()
	}

	rt.onAudioArrival(n, from)
}

func (rt *Router) applyInjectAudio(body []byte, from *net.UDPAddr) {
	m, err := wireproto.DecodeInjectedAudio(body)
	if err != nil {
		rt.counters.IncMalformed(malformedReason(err))
		return
	}

	n := rt.reg.LookupOrCreate(m.NodeID)
	inj := rt.reg.EnsureInjector(n, m.InjectorID)
	inj.SetPosition(m.Position)
	inj.SetOrientation(m.Orientation)
	inj.SetRadius(float64(m.Radius))
	inj.SetAttenuationRatio(float64(m.Attenuation))

	if _, err := inj.Parse(m.PCM); err != nil {
		rt.counters.IncMalformed("pcm_odd_length")
		return
	}
	if inj.Overran() {
		rt.counters.IncOverrun()
	}

	rt.onAudioArrival(n, from)
}

// applyPing handles Ping/PingReply traffic: these carry no
// UUID, only a timestamp, so the sending node is identified by its
// address alone. A ping from an address the registry has never seen
// cannot be attributed to a node and is dropped.
func (rt *Router) applyPing(body []byte, from *net.UDPAddr) {
	if _, err := wireproto.DecodePing(body); err != nil {
		rt.counters.IncMalformed(malformedReason(err))
		return
	}
	n, err := rt.reg.ByAddr(from)
	if err != nil {
		return
	}
	rt.reg.Touch(n, rt.now())
	rt.reg.PromoteActive(n, from)
}

func malformedReason(err error) string {
	switch err {
	case wireproto.ErrTooShort:
		return "too_short"
	case wireproto.ErrBadUUID:
		return "bad_uuid"
	case wireproto.ErrNonFinite:
		return "non_finite"
	default:
		return "unknown"
	}
}

// onAudioArrival is the shared tail of a successful audio packet: touch
// liveness and promote the sender's address to active if it differs from
// the recorded one.
func (rt *Router) onAudioArrival(n *registry.NodeState, from *net.UDPAddr) {
	rt.reg.Touch(n, rt.now())
	if n.ActiveAddr == nil || n.ActiveAddr.String() != from.String() {
		rt.reg.PromoteActive(n, from)
	} else {
		rt.reg.BindAddress(n, from, false)
	}
}

// yawToQuat converts a yaw angle in degrees to a unit quaternion
// representing a rotation about the vertical (Y) axis. Mic packets carry
// yaw only; pitch and roll are not part of their wire format.
func yawToQuat(yawDeg float32) quat.Number {
	half := float64(yawDeg) * math.Pi / 180 / 2
	return quat.Number{Jmag: math.Sin(half), Real: math.Cos(half)}
}
