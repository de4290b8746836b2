// Package mixer implements the mix scheduler and the Mixer root object:
// the single control loop that owns the registry and the send path, with
// no package-level globals.
package mixer

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"

	"audiomixer/internal/domainclient"
	"audiomixer/internal/pcm"
	"audiomixer/internal/registry"
	"audiomixer/internal/router"
	"audiomixer/internal/spatial"
	"audiomixer/internal/wireproto"
)

// Sender abstracts the outbound UDP socket so the scheduler is testable
// without a real network stack.
type Sender interface {
	SendTo(data []byte, addr *net.UDPAddr) error
}

// Metrics is the full surface the mixer updates, a superset of
// router.Counters so a single *metrics.Metrics satisfies both.
type Metrics interface {
	router.Counters
	IncStarvation()
	IncDeadlineMissed()
	IncSendError()
	IncSendDropped()
	IncInboundDropped()
	SetActiveListeners(n int)
	SetRegistrySize(n int)
	ObserveTickSeconds(s float64)
}

type nopMetrics struct{ router.Counters }

func (nopMetrics) IncStarvation()             {}
func (nopMetrics) IncDeadlineMissed()         {}
func (nopMetrics) IncSendError()              {}
func (nopMetrics) IncSendDropped()            {}
func (nopMetrics) IncInboundDropped()         {}
func (nopMetrics) SetActiveListeners(int)     {}
func (nopMetrics) SetRegistrySize(int)        {}
func (nopMetrics) ObserveTickSeconds(float64) {}

// NopMetrics discards every update, for tests that don't care.
var NopMetrics Metrics = nopMetrics{Counters: router.NopCounters}

// Datagram is one inbound payload handed from the network goroutine to
// the mixer. The network side never touches ring buffers; it only hands
// over byte slices.
type Datagram struct {
	Data []byte
	From *net.UDPAddr
}

// Config bundles the mixer's startup options.
type Config struct {
	SampleRate       int           // S
	FramesPerChannel int           // F
	JitterMs         float64       // jitterBufferMs
	SilentTimeout    time.Duration // silentNodeTimeoutMs
	PingInterval     time.Duration // pingIntervalMs
	RingBufferFrames int           // ring capacity as a multiple of F; must be > 1 + jitter/F
	InboundQueueSize int
	InboundBurst     int // max datagrams pumped per tick
}

// DefaultConfig returns the standard mixer settings: 24kHz mono sources,
// 256-sample frames, a 12ms jitter prebuffer.
func DefaultConfig() Config {
	return Config{
		SampleRate:       24000,
		FramesPerChannel: 256,
		JitterMs:         12,
		SilentTimeout:    5 * time.Second,
		PingInterval:     1 * time.Second,
		RingBufferFrames: 10,
		InboundQueueSize: 1024,
		InboundBurst:     256,
	}
}

// Mixer is the root object: it owns the registry, the router, and the
// send path exclusively.
type Mixer struct {
	cfg     Config
	period  time.Duration
	reg     *registry.Registry
	rt      *router.Router
	sender  Sender
	domain  domainclient.Client
	metrics Metrics
	log     *slog.Logger

	inbound chan Datagram
	pump    *rate.Limiter

	now func() time.Time
}

// New constructs a Mixer. sender and domain may be nil-safe zero values
// the caller controls the lifetime of (e.g. a real net.PacketConn
// wrapper, or domainclient.Noop{}). metrics may be nil (defaults to a
// no-op implementation).
func New(cfg Config, sender Sender, domain domainclient.Client, m Metrics, log *slog.Logger) *Mixer {
	if m == nil {
		m = NopMetrics
	}
	if log == nil {
		log = slog.Default()
	}
	if domain == nil {
		domain = domainclient.Noop{}
	}
	jitter := pcm.JitterSamples(cfg.JitterMs, cfg.SampleRate)
	ringCap := cfg.RingBufferFrames * cfg.FramesPerChannel
	reg := registry.New(ringCap, cfg.FramesPerChannel, jitter)
	period := time.Duration(float64(cfg.FramesPerChannel) / float64(cfg.SampleRate) * float64(time.Second))

	mx := &Mixer{
		cfg:    cfg,
		period: period,
		reg:    reg,
		sender: sender,
		domain: domain,

		metrics: m,
		log:     log,
		inbound: make(chan Datagram, cfg.InboundQueueSize),
		// One burst's worth of tokens refills per tick period, so the
		// pump can never do more work per tick than InboundBurst allows
		// even if the queue is kept full.
		pump: rate.NewLimiter(rate.Limit(float64(cfg.InboundBurst)/period.Seconds()), cfg.InboundBurst),
		now:  time.Now,
	}
	mx.rt = router.New(reg, m, nil)
	return mx
}

// Registry exposes the node registry for tests and the liveness side
// loop driver; production callers should not need it directly.
func (mx *Mixer) Registry() *registry.Registry { return mx.reg }

// Enqueue hands an inbound datagram to the mixer's queue. Non-blocking:
// if the queue is full, the datagram is dropped at the read site with a
// counter bump. Stale audio is worthless, so the socket is the drop
// point rather than anything downstream.
func (mx *Mixer) Enqueue(d Datagram) {
	select {
	case mx.inbound <- d:
	default:
		mx.metrics.IncInboundDropped()
	}
}

// Tick runs one full scheduler step: pump inbound datagrams, check every
// source's prebuffer state, mix every listener, and advance every
// source's read cursor. Sleeping to the next frame boundary is the
// caller's responsibility (Run), so Tick is independently unit-testable.
func (mx *Mixer) Tick() {
	start := mx.now()
	mx.pumpInbound()
	mx.checkAllSources()
	mx.mixListeners()
	mx.advanceAllSources()
	mx.metrics.ObserveTickSeconds(mx.now().Sub(start).Seconds())
}

// pumpInbound drains up to InboundBurst datagrams from the queue through
// the router. The burst bound keeps a flooded queue from starving the
// tick.
func (mx *Mixer) pumpInbound() {
	for i := 0; i < mx.cfg.InboundBurst; i++ {
		if !mx.pump.Allow() {
			return
		}
		select {
		case d := <-mx.inbound:
			mx.rt.Apply(d.Data, d.From)
		default:
			return
		}
	}
}

// checkAllSources runs CheckBeforeFrame on every source of every node,
// so each listener's mix reads a consistent per-source snapshot.
func (mx *Mixer) checkAllSources() {
	mx.reg.Each(func(n *registry.NodeState) {
		if n.Mic != nil {
			wasStarted := n.Mic.Started()
			n.Mic.CheckBeforeFrame()
			if wasStarted && !n.Mic.Started() {
				mx.metrics.IncStarvation()
			}
		}
		for _, inj := range n.Injectors {
			wasStarted := inj.Started()
			inj.CheckBeforeFrame()
			if wasStarted && !inj.Started() {
				mx.metrics.IncStarvation()
			}
		}
	})
}

// mixListeners produces and sends one stereo frame per listener: zero a
// stereo accumulator, add every other node's started sources plus the
// listener's own injectors, then send.
func (mx *Mixer) mixListeners() {
	listeners := mx.reg.Listeners()
	mx.metrics.SetActiveListeners(len(listeners))
	mx.metrics.SetRegistrySize(mx.reg.Len())

	left := make([]int16, mx.cfg.FramesPerChannel)
	right := make([]int16, mx.cfg.FramesPerChannel)

	for _, l := range listeners {
		for i := range left {
			left[i] = 0
			right[i] = 0
		}

		listenerPos := l.Mic.Position()
		listenerRot := l.Mic.Rotation()

		mx.reg.Each(func(n *registry.NodeState) {
			if n == l {
				// The listener's own mic only contributes if
				// loopbackSelf is set. Its own injectors are handled in
				// the pass below.
				if n.Mic != nil && n.Mic.Started() && l.LoopbackSelf {
					spatial.Add(n.Mic, listenerPos, listenerRot, left, right)
				}
				return
			}
			if n.Mic != nil && n.Mic.Started() {
				spatial.Add(n.Mic, listenerPos, listenerRot, left, right)
			}
			for _, inj := range n.Injectors {
				if inj.Started() {
					spatial.Add(inj, listenerPos, listenerRot, left, right)
				}
			}
		})

		// A listener always hears its own injectors, regardless of
		// loopbackSelf (which governs only the mic self-test).
		for _, inj := range l.Injectors {
			if inj.Started() {
				spatial.Add(inj, listenerPos, listenerRot, left, right)
			}
		}

		if mx.sender == nil {
			continue
		}
		mx.send(wireproto.EncodeMixedAudio(left, right), l.ActiveAddr)
	}
}

// send writes one datagram, counting a transient failure (timeout, full
// socket buffer) as a dropped datagram and anything else as a send
// error. Neither is retried: the next frame supersedes this one.
func (mx *Mixer) send(data []byte, addr *net.UDPAddr) {
	err := mx.sender.SendTo(data, addr)
	if err == nil {
		return
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		mx.metrics.IncSendDropped()
		return
	}
	mx.metrics.IncSendError()
}

func (mx *Mixer) advanceAllSources() {
	mx.reg.Each(func(n *registry.NodeState) {
		if n.Mic != nil {
			n.Mic.AdvanceFrame()
		}
		for _, inj := range n.Injectors {
			inj.AdvanceFrame()
		}
	})
}

// Liveness runs the side loop: silence sweep, ping of inactive nodes,
// and domain check-in. Run calls it from the same goroutine as Tick,
// between ticks, never concurrently with one, so registry access needs
// no lock.
func (mx *Mixer) Liveness(ctx context.Context) {
	now := mx.now()
	removed := mx.reg.SweepSilent(now, mx.cfg.SilentTimeout)
	for _, id := range removed {
		mx.log.Info("node evicted for silence", "node_id", id)
	}

	mx.pingInactive(now)

	roster, err := mx.domain.CheckIn(ctx, now)
	if err != nil {
		mx.log.Warn("domain check-in failed", "error", err)
		return
	}
	for _, entry := range roster {
		n := mx.reg.LookupOrCreate(entry.ID)
		if entry.PublicAddr != nil {
			mx.reg.BindAddress(n, entry.PublicAddr, false)
		}
		if entry.LocalAddr != nil {
			mx.reg.BindAddress(n, entry.LocalAddr, true)
		}
	}
}

// pingInactive sends a ping to every node the mixer hasn't heard from in
// a full liveness interval. A PingReply touches the node and promotes the
// replying address to active, so a node whose return path changed (or was
// never confirmed) recovers without waiting for its next audio packet.
func (mx *Mixer) pingInactive(now time.Time) {
	if mx.sender == nil {
		return
	}
	pkt := wireproto.EncodePing(false, wireproto.PingPayload{TimestampMicros: uint64(now.UnixMicro())})
	mx.reg.Each(func(n *registry.NodeState) {
		if now.Sub(n.LastHeard) < mx.cfg.PingInterval {
			return
		}
		sent := false
		for _, a := range []*net.UDPAddr{n.PublicAddr, n.LocalAddr} {
			if a == nil {
				continue
			}
			sent = true
			mx.send(pkt, a)
		}
		if !sent && n.ActiveAddr != nil {
			mx.send(pkt, n.ActiveAddr)
		}
	})
}

// Run drives the absolute-frame scheduling loop: the next deadline is
// start + frameNumber*T, not "sleep T after the last tick", so isolated
// late frames never slew the long-term cadence. Run blocks until ctx is
// canceled; it finishes the in-flight tick before returning.
func (mx *Mixer) Run(ctx context.Context) {
	start := mx.now()
	var frameNumber int64
	livenessEvery := int64(mx.cfg.PingInterval / mx.period)
	if livenessEvery < 1 {
		livenessEvery = 1
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		mx.Tick()
		frameNumber++
		if frameNumber%livenessEvery == 0 {
			mx.Liveness(ctx)
		}

		next := start.Add(time.Duration(frameNumber) * mx.period)
		delay := next.Sub(mx.now())
		if delay <= 0 {
			mx.metrics.IncDeadlineMissed()
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
