package spatial

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"audiomixer/internal/source"
)

const (
	testCap    = 2560
	testFrame  = 256
	testJitter = 288
)

// facingNegZ is the identity rotation: forward is (0,0,-1).
var facingNegZ = r3.Rotation(quat.Number{Real: 1})

func primedSource(kind source.Kind, pos r3.Vec, amplitude int16) *source.Source {
	s := source.New(kind, testCap, testFrame, testJitter)
	s.SetPosition(pos)
	payload := make([]byte, 2*(testFrame+testJitter))
	for i := 0; i < testFrame+testJitter; i++ {
		v := uint16(amplitude)
		payload[2*i] = byte(v)
		payload[2*i+1] = byte(v >> 8)
	}
	s.Parse(payload)
	s.CheckBeforeFrame()
	if !s.Started() {
		panic("test source failed to prime")
	}
	return s
}

func zeros(n int) []int16 { return make([]int16, n) }

// TestE1LoopbackEnabledAtZeroDistanceIsUnattenuated and
// TestE1LoopbackDisabledLeavesBuffersZero cover scenario E1: a node's
// own Microphone is never passed to Add when loopbackSelf is false — that
// skip lives in the caller (mixer), so here we assert the zero-distance
// "same position" path used for the enabled case produces the raw input
// unattenuated, and separately that callers who never call Add (the
// disabled case) get untouched (zero) buffers.
func TestE1LoopbackEnabledAtZeroDistanceIsUnattenuated(t *testing.T) {
	pos := r3.Vec{X: 5, Y: 5, Z: 5}
	src := primedSource(source.Microphone, pos, 10000)
	left, right := zeros(testFrame), zeros(testFrame)

	Add(src, pos, facingNegZ, left, right)

	for i := 0; i < testFrame; i++ {
		if left[i] != 10000 || right[i] != 10000 {
			t.Fatalf("sample %d = (%d,%d), want (10000,10000) for zero-distance loopback", i, left[i], right[i])
		}
	}
}

func TestE1LoopbackDisabledLeavesBuffersZero(t *testing.T) {
	left, right := zeros(testFrame), zeros(testFrame)
	for i := range left {
		if left[i] != 0 || right[i] != 0 {
			t.Fatal("buffers should start zeroed")
		}
	}
}

// TestE2SinglePeerRightSide covers scenario E2: listener at origin facing
// -Z, source at (+1,0,0). Right should be louder than left, with left
// (the far/delayed channel) receiving a ~20-sample-delayed, ~0.5-weak
// copy.
func TestE2SinglePeerRightSide(t *testing.T) {
	listenerPos := r3.Vec{}
	src := primedSource(source.Microphone, r3.Vec{X: 1, Y: 0, Z: 0}, 10000)
	left, right := zeros(testFrame), zeros(testFrame)

	Add(src, listenerPos, facingNegZ, left, right)

	// Right (near) channel should carry the full attenuated sample at s=0.
	if right[0] <= 0 {
		t.Fatalf("right[0] = %d, want > 0", right[0])
	}
	// Left (far) channel should be ~silent for the first ~20 samples
	// (phase delay), then pick up a weak copy.
	if left[0] != 0 {
		t.Fatalf("left[0] = %d, want 0 before the phase delay", left[0])
	}
	foundWeak := false
	for i := 18; i < 24 && i < testFrame; i++ {
		if left[i] != 0 {
			foundWeak = true
		}
	}
	if !foundWeak {
		t.Fatal("left channel never picked up the delayed weak copy near sample 20")
	}
	if math.Abs(float64(right[0])) <= math.Abs(float64(left[testFrame-1])) && left[testFrame-1] != 0 {
		t.Fatalf("expected right channel louder than left's weak copy")
	}
}

// TestE3InjectorSphereInsideIsUnattenuatedBothChannels covers scenario
// E3: listener at origin, injector at (2,0,0) with r=5 (listener is
// inside the sphere) and attenuation 1.0.
func TestE3InjectorSphereInsideIsUnattenuatedBothChannels(t *testing.T) {
	src := primedSource(source.Injector, r3.Vec{X: 2, Y: 0, Z: 0}, 8000)
	src.SetRadius(5)
	src.SetAttenuationRatio(1.0)
	left, right := zeros(testFrame), zeros(testFrame)

	Add(src, r3.Vec{}, facingNegZ, left, right)

	for i := 0; i < testFrame; i++ {
		if left[i] != 8000 || right[i] != 8000 {
			t.Fatalf("sample %d = (%d,%d), want (8000,8000) inside-sphere", i, left[i], right[i])
		}
	}
}

func TestInjectorSphereAppliesAttenuationRatio(t *testing.T) {
	src := primedSource(source.Injector, r3.Vec{X: 1, Y: 0, Z: 0}, 10000)
	src.SetRadius(5)
	src.SetAttenuationRatio(0.5)
	left, right := zeros(testFrame), zeros(testFrame)

	Add(src, r3.Vec{}, facingNegZ, left, right)

	if left[0] != 5000 || right[0] != 5000 {
		t.Fatalf("sample 0 = (%d,%d), want (5000,5000) at half attenuation", left[0], right[0])
	}
}

// TestBearingSymmetry covers testable property #5: sources at +phi and
// -phi, same distance and amplitude, yield channel-swapped output.
func TestBearingSymmetry(t *testing.T) {
	right := primedSource(source.Microphone, r3.Vec{X: 1, Y: 0, Z: 0}, 9000)
	left := primedSource(source.Microphone, r3.Vec{X: -1, Y: 0, Z: 0}, 9000)

	lR, rR := zeros(testFrame), zeros(testFrame)
	Add(right, r3.Vec{}, facingNegZ, lR, rR)

	lL, rL := zeros(testFrame), zeros(testFrame)
	Add(left, r3.Vec{}, facingNegZ, lL, rL)

	for i := 0; i < testFrame; i++ {
		if lR[i] != rL[i] || rR[i] != lL[i] {
			t.Fatalf("sample %d not channel-swapped: (+x)=(%d,%d) (-x)=(%d,%d)", i, lR[i], rR[i], lL[i], rL[i])
		}
	}
}

// TestIdentityGeometryForDistinctNodes covers testable property #4:
// source and listener at the same position but distinct nodes (not the
// listener's own mic) still gets equal energy both channels.
func TestIdentityGeometryForDistinctNodes(t *testing.T) {
	pos := r3.Vec{X: 3, Y: 1, Z: -2}
	src := primedSource(source.Microphone, pos, 4000)
	left, right := zeros(testFrame), zeros(testFrame)

	Add(src, pos, facingNegZ, left, right)

	for i := 0; i < testFrame; i++ {
		if left[i] != 4000 || right[i] != 4000 {
			t.Fatalf("sample %d = (%d,%d), want (4000,4000) at identical positions", i, left[i], right[i])
		}
	}
}

func TestNoOverflowSaturates(t *testing.T) {
	src := primedSource(source.Microphone, r3.Vec{}, 32767)
	left, right := make([]int16, testFrame), make([]int16, testFrame)
	for i := range left {
		left[i] = 32767
		right[i] = 32767
	}

	Add(src, r3.Vec{}, facingNegZ, left, right)

	for i := 0; i < testFrame; i++ {
		if left[i] != 32767 || right[i] != 32767 {
			t.Fatalf("sample %d = (%d,%d), want saturated at 32767", i, left[i], right[i])
		}
	}
}

func TestDistanceAttenuationDecreasesWithDistance(t *testing.T) {
	near := primedSource(source.Microphone, r3.Vec{Z: -1}, 10000)
	far := primedSource(source.Microphone, r3.Vec{Z: -10}, 10000)

	ln, rn := zeros(testFrame), zeros(testFrame)
	Add(near, r3.Vec{}, facingNegZ, ln, rn)
	lf, rf := zeros(testFrame), zeros(testFrame)
	Add(far, r3.Vec{}, facingNegZ, lf, rf)

	nearEnergy := int(ln[0]) + int(rn[0])
	farEnergy := int(lf[0]) + int(rf[0])
	if farEnergy >= nearEnergy {
		t.Fatalf("far energy %d should be less than near energy %d", farEnergy, nearEnergy)
	}
}
