// Package pcm implements the per-source circular PCM buffer that sits
// between the network and the mix scheduler: a fixed-capacity ring of
// int16 samples with explicit jitter-prebuffer and starvation semantics.
package pcm

import (
	"errors"
	"math"
)

// ErrMalformedPayload is returned by Parse when the payload is not a
// positive multiple of the sample width.
var ErrMalformedPayload = errors.New("pcm: payload is not a positive multiple of the sample width")

// none is the writeEnd sentinel meaning "never written".
const none = -1

// RingBuffer is a fixed-capacity circular buffer of int16 samples.
// Capacity is a multiple of FramesPerChannel (F); the zero value is not
// usable, construct with New.
//
// Not safe for concurrent use. The mixer owns every RingBuffer exclusively;
// the network thread hands over byte slices for Parse to copy in, never a
// pointer into the ring itself.
type RingBuffer struct {
	buf    []int16
	cap    int // len(buf)
	frame  int // F, samples per channel per frame
	jitter int // J, jitter prebuffer in samples

	writeEnd int // index one past the last written sample, or none
	readNext int // index of the next sample to deliver

	started     bool // playback is flowing (prebuffer satisfied)
	transmitted bool // the last produced frame has been consumed
	overran     bool // the most recent Parse triggered the overrun-reset policy
}

// New returns a RingBuffer of the given capacity (in samples), frame size
// F, and jitter prebuffer J (also in samples). capacity should be several
// multiples of frame to absorb jitter; capacity <= frame is rejected by
// panicking since it can never satisfy the overrun invariant.
func New(capacity, frame, jitter int) *RingBuffer {
	if capacity <= frame {
		panic("pcm: capacity must exceed frame size")
	}
	return &RingBuffer{
		buf:      make([]int16, capacity),
		cap:      capacity,
		frame:    frame,
		jitter:   jitter,
		writeEnd: none,
		readNext: 0,
	}
}

// Empty reports whether the buffer has never been written to.
func (r *RingBuffer) Empty() bool { return r.writeEnd == none }

// Started reports whether playback is currently flowing for this source.
func (r *RingBuffer) Started() bool { return r.started }

// Used returns the number of unread samples currently buffered.
func (r *RingBuffer) Used() int {
	if r.writeEnd == none {
		return 0
	}
	return mod(r.writeEnd-r.readNext, r.cap)
}

// Parse interprets payload as a run of little-endian int16 samples and
// appends them to the buffer, advancing writeEnd by len(samples) modulo
// capacity. Returns the number of samples written.
//
// If payload's length is not a positive multiple of 2 (the sample width),
// ErrMalformedPayload is returned and the buffer is left untouched.
//
// If the write would leave less than one frame of room before catching up
// to readNext, the overrun policy fires: readNext is reset to the new
// writeEnd and started is cleared, trading a small audible glitch for
// bounded latency.
func (r *RingBuffer) Parse(payload []byte) (int, error) {
	if len(payload) == 0 || len(payload)%2 != 0 {
		return 0, ErrMalformedPayload
	}
	n := len(payload) / 2
	samples := make([]int16, n)
	for i := range samples {
		lo := uint16(payload[2*i])
		hi := uint16(payload[2*i+1])
		samples[i] = int16(lo | hi<<8)
	}

	free := r.cap - r.Used()

	start := 0
	if r.writeEnd != none {
		start = r.writeEnd
	}
	for i, s := range samples {
		r.buf[mod(start+i, r.cap)] = s
	}
	r.writeEnd = mod(start+n, r.cap)

	// Overrun: the write either overtook readNext outright (n >= free) or
	// left less than one frame of room for the next write. Either way the
	// reader's view is gone, so reset it to the writer.
	r.overran = free-n < r.frame
	if r.overran {
		r.readNext = r.writeEnd
		r.started = false
	}

	return n, nil
}

// Overran reports whether the most recent Parse call triggered the
// overrun-reset policy.
func (r *RingBuffer) Overran() bool { return r.overran }

// ReadFrame returns a copy of the F samples starting at readNext. It does
// not advance the read cursor. Callers must have observed Started() after
// CheckBeforeFrame to know whether this frame should contribute to a mix.
func (r *RingBuffer) ReadFrame() []int16 {
	out := make([]int16, r.frame)
	for i := range out {
		out[i] = r.buf[mod(r.readNext+i, r.cap)]
	}
	return out
}

// PreStartSample returns the sample that is delayOffset positions before
// readNext, wrapping at the start of the buffer. delayOffset must be in
// [1, jitter-buffer-independent bound]; callers (the spatialization
// kernel) are responsible for keeping it within a sane phase-delay range.
func (r *RingBuffer) PreStartSample(delayOffset int) int16 {
	idx := mod(r.readNext-delayOffset, r.cap)
	return r.buf[idx]
}

// AdvanceFrame moves readNext forward by F samples modulo capacity and
// marks the just-produced frame as transmitted.
func (r *RingBuffer) AdvanceFrame() {
	r.readNext = mod(r.readNext+r.frame, r.cap)
	r.transmitted = true
}

// Transmitted reports whether the most recently produced frame has been
// consumed by the mixer.
func (r *RingBuffer) Transmitted() bool { return r.transmitted }

// CheckBeforeFrame implements the two-phase "check before, advance after"
// state transition: if used < F, playback is starved and
// started is cleared; otherwise, if not yet started and used >= F+J, the
// jitter prebuffer is satisfied and started is set. Whether this source
// contributes to the mix this frame is Started() after this call returns.
func (r *RingBuffer) CheckBeforeFrame() {
	used := r.Used()
	if used < r.frame {
		r.started = false
		return
	}
	if !r.started && used >= r.frame+r.jitter {
		r.started = true
	}
}

// Capacity returns the buffer's capacity in samples.
func (r *RingBuffer) Capacity() int { return r.cap }

// FrameSize returns F, samples per channel per frame.
func (r *RingBuffer) FrameSize() int { return r.frame }

func mod(x, m int) int {
	x %= m
	if x < 0 {
		x += m
	}
	return x
}

// JitterSamples converts a jitter prebuffer duration in milliseconds to a
// sample count at the given sample rate, rounding up.
func JitterSamples(jitterMs float64, sampleRate int) int {
	return int(math.Ceil(jitterMs * float64(sampleRate) / 1000.0))
}

// SatAddInt16 adds delta to v with saturation to the int16 range. Used by
// the spatialization kernel on every sample store; kept branch-free-ish by
// doing the arithmetic in a wider integer and clamping once.
func SatAddInt16(v int16, delta int32) int16 {
	sum := int32(v) + delta
	switch {
	case sum > math.MaxInt16:
		return math.MaxInt16
	case sum < math.MinInt16:
		return math.MinInt16
	default:
		return int16(sum)
	}
}
