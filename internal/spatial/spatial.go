// Package spatial implements the per (source, listener) spatialization
// kernel: distance attenuation, off-axis attenuation, inter-aural phase
// delay, and weak-channel amplitude.
package spatial

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"audiomixer/internal/pcm"
	"audiomixer/internal/source"
)

const (
	geometricAmplitudeScalar = 0.3
	// distanceLogBase stretches the perceived halving distance from 1m to
	// ~2.5m: attenuation follows G^(log_2.5 d) instead of G^(log_2 d).
	distanceLogBase       = 2.5
	maxOffAxisAttenuation = 0.2
	offAxisFormulaStep    = (1 - maxOffAxisAttenuation) / 2.0

	phaseDelayAt90          = 20  // D_max, samples
	phaseAmplitudeRatioAt90 = 0.5 // W_min complement

	zeroDistanceEpsilon = 1e-12
)

// Add computes src's contribution to listener's stereo mix and adds it
// into left/right (each len == src.FrameSize()), with saturation on
// every sample store. Callers are responsible for the self-test (skipping
// a node's own Microphone unless loopbackSelf) and for only calling Add
// when src.Started() holds.
func Add(src *source.Source, listenerPos r3.Vec, listenerRot r3.Rotation, left, right []int16) {
	rel := subVec(src.Position(), listenerPos)
	d2 := dot(rel, rel)
	if !finite(d2) {
		return
	}

	attenuation := 1.0
	radius := 0.0
	if src.Kind() == source.Injector {
		radius = src.Radius()
		attenuation *= src.AttenuationRatio()
	}

	phi := 0.0
	nDelay := 0
	weak := 1.0

	insideSphere := radius > 0 && d2 <= radius*radius
	if !insideSphere {
		effD2 := d2
		if radius > 0 {
			effD2 -= radius * radius
		} else if d2 > zeroDistanceEpsilon {
			theta := offAxisAngle(src.Rotation(), rel)
			offAxis := maxOffAxisAttenuation + offAxisFormulaStep*(theta/(math.Pi/2))
			attenuation *= offAxis
		}

		if effD2 > zeroDistanceEpsilon {
			d := math.Sqrt(effD2)
			attenuation *= distanceCoefficient(d)

			phi = bearingAngle(listenerRot, rel)
			k := math.Abs(math.Sin(phi))
			nDelay = int(math.Round(phaseDelayAt90 * k))
			weak = 1 - phaseAmplitudeRatioAt90*k
		}
	}

	if !finite(attenuation) || !finite(weak) {
		return
	}

	near, far := right, left
	if phi < 0 {
		near, far = left, right
	}

	frame := src.ReadFrame()
	for s := 0; s < len(frame); s++ {
		if s < nDelay {
			earlier := src.PreStartSample(nDelay - s)
			far[s] = pcm.SatAddInt16(far[s], int32(float64(earlier)*attenuation*weak))
		}
		cur := frame[s]
		contribution := int32(float64(cur) * attenuation)
		near[s] = pcm.SatAddInt16(near[s], contribution)
		if s+nDelay < len(frame) {
			far[s+nDelay] = pcm.SatAddInt16(far[s+nDelay], int32(float64(cur)*attenuation*weak))
		}
	}
}

func subVec(a, b r3.Vec) r3.Vec {
	return r3.Vec{X: a.X - b.X, Y: a.Y - b.Y, Z: a.Z - b.Z}
}

func dot(a, b r3.Vec) float64 {
	return a.X*b.X + a.Y*b.Y + a.Z*b.Z
}

func unit(v r3.Vec) r3.Vec {
	n := math.Sqrt(dot(v, v))
	if n < zeroDistanceEpsilon {
		return r3.Vec{Z: -1}
	}
	return r3.Vec{X: v.X / n, Y: v.Y / n, Z: v.Z / n}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// inverseRotate applies the inverse of r to v. Rotations here are unit
// quaternions (source.Source normalizes on ingest), so the conjugate is
// the inverse.
func inverseRotate(r r3.Rotation, v r3.Vec) r3.Vec {
	return r3.Rotation(quat.Conj(quat.Number(r))).Rotate(v)
}

// offAxisAngle returns theta in [0, pi]: the angle between the forward
// axis (0,0,-1) and rel rotated into src's local frame, i.e. how far the
// listener sits off the source's facing direction.
func offAxisAngle(srcRot r3.Rotation, rel r3.Vec) float64 {
	dir := unit(inverseRotate(srcRot, rel))
	cosTheta := -dir.Z // dot((0,0,-1), dir)
	if cosTheta > 1 {
		cosTheta = 1
	} else if cosTheta < -1 {
		cosTheta = -1
	}
	return math.Acos(cosTheta)
}

// bearingAngle returns the signed azimuth phi (radians) of rel about the
// listener's up axis, relative to forward (0,0,-1), with phi > 0 meaning
// the source is on the listener's right.
func bearingAngle(listenerRot r3.Rotation, rel r3.Vec) float64 {
	relL := inverseRotate(listenerRot, rel)
	relL.Y = 0
	b := unit(relL)
	return math.Atan2(b.X, -b.Z)
}

// distanceCoefficient returns G^(log_B(d)), clamped to [0,1]. The clamp
// matters below 1m, where the log goes negative and the power exceeds 1.
func distanceCoefficient(d float64) float64 {
	logB := math.Log(d) / math.Log(distanceLogBase)
	coef := math.Pow(geometricAmplitudeScalar, logB)
	if coef > 1 {
		coef = 1
	} else if coef < 0 {
		coef = 0
	}
	return coef
}
