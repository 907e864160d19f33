package exchange

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/skyring-data/exchange.tod/internal/quatutil"
	"github.com/skyring-data/exchange.tod/internal/tod"
)

// zaxis is the boresight look direction in the spacecraft frame.
var zaxis = [3]float64{0, 0, 1}

// cinv is the inverse speed of light in s/km; satellite velocity is
// stored in km/s, so |v| * cinv is the aberration angle in radians.
const cinv = 1e3 / 299792458.0

// obliquity of the ecliptic at J2000, radians.
var eclipticObliquity = 23.439291111 * math.Pi / 180

// eclipticToGalactic is the fixed rotation from ecliptic to galactic
// coordinates (row major).
var eclipticToGalactic = [3][3]float64{
	{-0.054882486, -0.993821033, -0.096476249},
	{0.494116468, -0.110993846, 0.862281440},
	{-0.867661702, -0.000346354, 0.497154957},
}

// frameQuat returns the fixed conversion quaternion for a target frame,
// or nil when the target is the native ecliptic frame.
func frameQuat(coord Frame) *[4]float64 {
	var q [4]float64
	switch coord {
	case FrameGalactic:
		q = quatutil.FromMatrix(eclipticToGalactic)
	case FrameEquatorial:
		c, s := math.Cos(eclipticObliquity), math.Sin(eclipticObliquity)
		q = quatutil.FromMatrix([3][3]float64{
			{1, 0, 0},
			{0, c, -s},
			{0, s, c},
		})
	default:
		return nil
	}
	// The galactic matrix is tabulated to nine digits and not exactly
	// orthogonal, so the converted quaternion can land slightly off
	// unit length. Renormalize once here so every converted pointing
	// quaternion stays unit norm.
	quatutil.NormalizeArray(q[:])
	return &q
}

// GetPointing implements tod.Interface: it reconstructs per-sample
// detector pointing quaternions from the satellite attitude stream.
//
// The stages run in a fixed order: gap invalidation and velocity flags
// fold into the attitude flags first, then the detector offset rotation
// is applied, then the aberration correction (in the detector frame),
// and the frame conversion last. Aberration must precede the frame
// conversion because the correction axis is computed from the detector
// look direction in the native frame.
func (x *Exchange) GetPointing(detector string, start int64, n int) ([]float64, []uint8, error) {
	if err := x.checkRange(start, n); err != nil {
		return nil, nil, err
	}
	det, err := x.rimo.Get(detector)
	if err != nil {
		return nil, nil, err
	}

	quats, rawFlags, err := x.readCached(satRow, tod.Attitude, start, n)
	if err != nil {
		return nil, nil, err
	}
	flags := applyMask(rawFlags, satMask)

	// Samples between ring ends carry attitude interpolated across the
	// gap; mark them invalid. This only ever sets flags.
	x.flagGaps(start, n, flags)

	var vel []float64
	if x.deaberrate {
		var rawVel []uint8
		vel, rawVel, err = x.readCached(satRow, tod.Velocity, start, n)
		if err != nil {
			return nil, nil, err
		}
		for i, f := range applyMask(rawVel, satMask) {
			flags[i] |= f
		}
	}

	quatutil.NormalizeArray(quats)
	quatutil.MultArrayRight(quats, det.Quat[:])

	if x.deaberrate {
		deaberrate(quats, vel)
	}

	if x.coordQuat != nil {
		quatutil.MultArrayLeft(x.coordQuat[:], quats)
	}
	return quats, flags, nil
}

// flagGaps sets the flag of every requested sample whose absolute index
// lies strictly between the end of one ring and the start of the next.
func (x *Exchange) flagGaps(start int64, n int, flags []uint8) {
	abs := x.absolute(start)
	end := abs + int64(n)
	rings := x.cat.Rings
	for i := 0; i+1 < len(rings); i++ {
		gapStart := rings[i].Last
		gapStop := rings[i+1].First
		if gapStart >= end || gapStop <= abs {
			continue
		}
		for idx := gapStart + 1; idx < gapStop; idx++ {
			if idx >= abs && idx < end {
				flags[idx-abs] = 1
			}
		}
	}
}

// deaberrate applies the relativistic aberration correction to each
// detector quaternion in place. vel holds one 3-vector per sample in
// km/s. A velocity parallel to the look direction (or zero) leaves the
// quaternion untouched: the correction degenerates to the identity.
func deaberrate(quats, vel []float64) {
	corrs := make([]float64, 0, len(quats))
	for i := 0; i*4+4 <= len(quats); i++ {
		q := quats[i*4 : i*4+4]
		v := vel[i*3 : i*3+3]

		vec := quatutil.Rotate(q, zaxis)
		ab := [3]float64{
			vec[1]*v[2] - vec[2]*v[1],
			vec[2]*v[0] - vec[0]*v[2],
			vec[0]*v[1] - vec[1]*v[0],
		}
		mag := floats.Norm(ab[:], 2)
		if mag < 1e-15 {
			id := quatutil.Identity()
			corrs = append(corrs, id[:]...)
			continue
		}
		ang := mag * cinv
		for j := range ab {
			ab[j] /= mag
		}
		corr := quatutil.AxisAngle(ab, -ang)
		corrs = append(corrs, corr[:]...)
	}
	quatutil.MultArrays(corrs, quats)
}
