// Package source wraps a pcm.RingBuffer with the 3-D position, orientation,
// and kind metadata the spatialization kernel needs. It is a tagged
// variant rather than a class hierarchy: Kind selects which fields are
// meaningful, and the kernel branches on Kind where semantics differ.
package source

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"audiomixer/internal/pcm"
)

// Kind distinguishes a live microphone from a scripted/injected sound.
type Kind int

const (
	// Microphone is a node's own live voice source. Exactly one per node.
	Microphone Kind = iota
	// Injector is a non-microphone spatial source, identified by
	// (node UUID, injector ID); a node may own any number of them.
	Injector
)

func (k Kind) String() string {
	if k == Microphone {
		return "microphone"
	}
	return "injector"
}

// Source is a ring buffer tagged with spatial metadata.
type Source struct {
	*pcm.RingBuffer

	kind Kind

	position    r3.Vec
	orientation quat.Number // unit quaternion; identity if never set

	// Injector-only fields. Meaningless for Microphone sources.
	radius      float64
	attenuation float64
}

// New constructs a Source of the given kind with capacity/frame/jitter
// forwarded to the embedded ring buffer. Orientation starts as identity.
func New(kind Kind, capacity, frame, jitter int) *Source {
	return &Source{
		RingBuffer:  pcm.New(capacity, frame, jitter),
		kind:        kind,
		orientation: quat.Number{Real: 1},
		attenuation: 1,
	}
}

// Kind returns Microphone or Injector.
func (s *Source) Kind() Kind { return s.kind }

// Position returns the source's last-known 3-D position.
func (s *Source) Position() r3.Vec { return s.position }

// SetPosition updates the source's position, as reported by the most
// recent audio packet for it.
func (s *Source) SetPosition(p r3.Vec) { s.position = p }

// Orientation returns the source's last-known orientation. Guaranteed to
// be unit-norm or identity for finite input; SetOrientation normalizes on
// ingest.
func (s *Source) Orientation() quat.Number { return s.orientation }

// SetOrientation stores an orientation quaternion, normalizing it first.
// A zero-norm input is treated as identity; its inverse would otherwise
// be undefined.
func (s *Source) SetOrientation(q quat.Number) {
	s.orientation = NormalizeOrientation(q)
}

// NormalizeOrientation returns q normalized to unit length, or the
// identity quaternion if q has (near) zero norm.
func NormalizeOrientation(q quat.Number) quat.Number {
	const epsilon = 1e-12
	n := quat.Abs(q)
	if n < epsilon {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// Radius returns the injector's sphere radius (0 = point source).
// Meaningless for Microphone sources.
func (s *Source) Radius() float64 { return s.radius }

// SetRadius sets the injector's sphere radius.
func (s *Source) SetRadius(r float64) { s.radius = r }

// AttenuationRatio returns the injector's gain multiplier in [0,1].
// Meaningless for Microphone sources.
func (s *Source) AttenuationRatio() float64 { return s.attenuation }

// SetAttenuationRatio sets the injector's gain multiplier.
func (s *Source) SetAttenuationRatio(a float64) { s.attenuation = a }

// Rotation returns the source's orientation as an r3.Rotation, ready for
// Rotate/Inverse, guarding against a (near) zero quaternion by falling
// back to identity. Non-finite components are not guarded here.
func (s *Source) Rotation() r3.Rotation {
	return r3.Rotation(NormalizeOrientation(s.orientation))
}
