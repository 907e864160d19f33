// Package quatutil provides quaternion operations over the flattened
// sample-array layout used by the exchange streams: n quaternions are
// stored as 4n float64 values in x, y, z, w order (scalar last), one
// quaternion per sample.
//
// Scalar quaternion arithmetic delegates to gonum's num/quat package;
// the helpers here only handle the array layout and the storage order
// conversion (num/quat keeps the scalar part first).
package quatutil

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// toNumber converts storage order [x y z w] to a quat.Number.
func toNumber(q []float64) quat.Number {
	return quat.Number{Real: q[3], Imag: q[0], Jmag: q[1], Kmag: q[2]}
}

// fromNumber writes a quat.Number into dst in [x y z w] storage order.
func fromNumber(n quat.Number, dst []float64) {
	dst[0] = n.Imag
	dst[1] = n.Jmag
	dst[2] = n.Kmag
	dst[3] = n.Real
}

// NormalizeArray scales every quaternion in qs (flattened, 4 per
// sample) to unit length, in place. Zero quaternions are left untouched.
func NormalizeArray(qs []float64) {
	for i := 0; i+4 <= len(qs); i += 4 {
		n := quat.Abs(toNumber(qs[i : i+4]))
		if n == 0 {
			continue
		}
		for j := 0; j < 4; j++ {
			qs[i+j] /= n
		}
	}
}

// MultArrayRight right-multiplies every quaternion in qs by the fixed
// quaternion r, in place: q_i = q_i * r.
func MultArrayRight(qs []float64, r []float64) {
	rn := toNumber(r)
	for i := 0; i+4 <= len(qs); i += 4 {
		fromNumber(quat.Mul(toNumber(qs[i:i+4]), rn), qs[i:i+4])
	}
}

// MultArrayLeft left-multiplies every quaternion in qs by the fixed
// quaternion l, in place: q_i = l * q_i.
func MultArrayLeft(l []float64, qs []float64) {
	ln := toNumber(l)
	for i := 0; i+4 <= len(qs); i += 4 {
		fromNumber(quat.Mul(ln, toNumber(qs[i:i+4])), qs[i:i+4])
	}
}

// MultArrays left-multiplies each quaternion in qs by the matching
// quaternion in ls, in place: q_i = l_i * q_i. Both slices hold the
// same number of flattened quaternions.
func MultArrays(ls, qs []float64) {
	for i := 0; i+4 <= len(qs); i += 4 {
		fromNumber(quat.Mul(toNumber(ls[i:i+4]), toNumber(qs[i:i+4])), qs[i:i+4])
	}
}

// Rotate rotates the 3-vector v by the unit quaternion q and returns
// the rotated vector: v' = q v q*.
func Rotate(q []float64, v [3]float64) [3]float64 {
	qn := toNumber(q)
	vn := quat.Number{Imag: v[0], Jmag: v[1], Kmag: v[2]}
	r := quat.Mul(quat.Mul(qn, vn), quat.Conj(qn))
	return [3]float64{r.Imag, r.Jmag, r.Kmag}
}

// AxisAngle builds the rotation quaternion for a rotation of angle
// radians about the given axis. The axis must be a unit vector.
func AxisAngle(axis [3]float64, angle float64) [4]float64 {
	s := math.Sin(angle / 2)
	return [4]float64{axis[0] * s, axis[1] * s, axis[2] * s, math.Cos(angle / 2)}
}

// Identity returns the identity rotation quaternion.
func Identity() [4]float64 {
	return [4]float64{0, 0, 0, 1}
}

// FromMatrix converts a 3x3 rotation matrix (row major) to a unit
// quaternion using Shepperd's method: the largest of the four candidate
// components is computed first for numerical stability.
func FromMatrix(m [3][3]float64) [4]float64 {
	var q [4]float64
	trace := m[0][0] + m[1][1] + m[2][2]
	switch {
	case trace > 0:
		s := 2 * math.Sqrt(trace+1)
		q[3] = s / 4
		q[0] = (m[2][1] - m[1][2]) / s
		q[1] = (m[0][2] - m[2][0]) / s
		q[2] = (m[1][0] - m[0][1]) / s
	case m[0][0] > m[1][1] && m[0][0] > m[2][2]:
		s := 2 * math.Sqrt(1+m[0][0]-m[1][1]-m[2][2])
		q[3] = (m[2][1] - m[1][2]) / s
		q[0] = s / 4
		q[1] = (m[0][1] + m[1][0]) / s
		q[2] = (m[0][2] + m[2][0]) / s
	case m[1][1] > m[2][2]:
		s := 2 * math.Sqrt(1+m[1][1]-m[0][0]-m[2][2])
		q[3] = (m[0][2] - m[2][0]) / s
		q[0] = (m[0][1] + m[1][0]) / s
		q[1] = s / 4
		q[2] = (m[1][2] + m[2][1]) / s
	default:
		s := 2 * math.Sqrt(1+m[2][2]-m[0][0]-m[1][1])
		q[3] = (m[1][0] - m[0][1]) / s
		q[0] = (m[0][2] + m[2][0]) / s
		q[1] = (m[1][2] + m[2][1]) / s
		q[2] = s / 4
	}
	return q
}
