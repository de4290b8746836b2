package source

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	testCap    = 2560
	testFrame  = 256
	testJitter = 288
)

func TestNewDefaultsToIdentityOrientation(t *testing.T) {
	s := New(Microphone, testCap, testFrame, testJitter)
	q := s.Orientation()
	if q.Real != 1 || q.Imag != 0 || q.Jmag != 0 || q.Kmag != 0 {
		t.Errorf("default orientation = %+v, want identity", q)
	}
}

func TestSetOrientationNormalizes(t *testing.T) {
	s := New(Microphone, testCap, testFrame, testJitter)
	s.SetOrientation(quat.Number{Real: 0, Imag: 0, Jmag: 2, Kmag: 0})
	got := s.Orientation()
	if math.Abs(quat.Abs(got)-1) > 1e-9 {
		t.Errorf("orientation norm = %v, want 1", quat.Abs(got))
	}
}

func TestSetOrientationZeroLengthFallsBackToIdentity(t *testing.T) {
	s := New(Injector, testCap, testFrame, testJitter)
	s.SetOrientation(quat.Number{})
	got := s.Orientation()
	if got.Real != 1 || got.Imag != 0 || got.Jmag != 0 || got.Kmag != 0 {
		t.Errorf("zero-length orientation did not fall back to identity: %+v", got)
	}
}

func TestKindString(t *testing.T) {
	if Microphone.String() != "microphone" {
		t.Errorf("Microphone.String() = %q", Microphone.String())
	}
	if Injector.String() != "injector" {
		t.Errorf("Injector.String() = %q", Injector.String())
	}
}

func TestInjectorFields(t *testing.T) {
	s := New(Injector, testCap, testFrame, testJitter)
	s.SetRadius(5)
	s.SetAttenuationRatio(0.5)
	if s.Radius() != 5 {
		t.Errorf("Radius() = %v, want 5", s.Radius())
	}
	if s.AttenuationRatio() != 0.5 {
		t.Errorf("AttenuationRatio() = %v, want 0.5", s.AttenuationRatio())
	}
}

func TestPositionRoundTrip(t *testing.T) {
	s := New(Microphone, testCap, testFrame, testJitter)
	p := r3.Vec{X: 1, Y: 2, Z: 3}
	s.SetPosition(p)
	if s.Position() != p {
		t.Errorf("Position() = %+v, want %+v", s.Position(), p)
	}
}

func TestRingBufferEmbeddingAccessible(t *testing.T) {
	s := New(Microphone, testCap, testFrame, testJitter)
	if !s.Empty() {
		t.Error("new source's embedded ring buffer should be empty")
	}
}
