// Package tod defines the capability contract for time-ordered
// instrument data backends.
//
// A TOD backend serves per-sample streams (detector signal, quality
// flags, satellite attitude and velocity, timestamps) addressed on a
// local sample axis: positions are relative to the contiguous range the
// calling worker was assigned at construction. Backends translate local
// positions to the absolute sample axis of the underlying record store.
package tod

import "errors"

// StreamKind identifies one of the per-sample streams a backend serves.
type StreamKind string

const (
	// Signal is the raw detector timestream, one value per sample.
	Signal StreamKind = "signal"
	// Flags is the per-detector quality flag stream, one value per sample.
	Flags StreamKind = "flags"
	// Attitude is the satellite attitude stream, one quaternion
	// (x, y, z, w) per sample.
	Attitude StreamKind = "attitude"
	// Velocity is the satellite velocity stream, one 3-vector per
	// sample, in km/s.
	Velocity StreamKind = "velocity"
	// Timestamps is the sample time stream, one value per sample.
	Timestamps StreamKind = "obt"
)

// Width returns the number of float64 values each sample of the stream
// occupies in a flattened slice.
func (k StreamKind) Width() int {
	switch k {
	case Attitude:
		return 4
	case Velocity:
		return 3
	default:
		return 1
	}
}

var (
	// ErrRange reports a request outside the worker's assigned sample span.
	ErrRange = errors.New("tod: request outside local sample range")

	// ErrConfig reports a fatal construction-time configuration problem.
	ErrConfig = errors.New("tod: invalid configuration")
)

// Interface is the polymorphic TOD contract. All start positions and
// counts are local to the calling worker's assigned range; requests that
// fall outside it fail with an error wrapping ErrRange.
//
// Write methods report the record store's result to the caller. A
// backend must never swallow a store failure: a dropped write result
// turns a store error into silent data loss.
type Interface interface {
	// GetSamples returns n samples of the given stream for a detector,
	// flattened to n*kind.Width() values, plus one flag byte per sample.
	GetSamples(detector string, kind StreamKind, start int64, n int) ([]float64, []uint8, error)

	// PutSamples writes samples of the given stream for a detector.
	PutSamples(detector string, kind StreamKind, start int64, values []float64, flags []uint8) error

	// GetPointing returns reconstructed detector pointing as n
	// quaternions flattened to 4n values (x, y, z, w per sample), plus
	// one validity flag byte per sample.
	GetPointing(detector string, start int64, n int) ([]float64, []uint8, error)

	// PutPointing writes detector pointing quaternions back to the
	// attitude stream.
	PutPointing(detector string, start int64, quats []float64, flags []uint8) error

	// GetTimestamps returns n sample timestamps.
	GetTimestamps(start int64, n int) ([]float64, error)

	// PutTimestamps writes sample timestamps.
	PutTimestamps(start int64, values []float64) error

	// Detectors returns the detector names assigned to this worker.
	Detectors() []string

	// LocalSamples returns the number of samples in this worker's span.
	LocalSamples() int64

	// PurgeCache unconditionally drops every cached block.
	PurgeCache()
}
