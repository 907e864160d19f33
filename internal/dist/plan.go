package dist

import (
	"fmt"

	"github.com/skyring-data/exchange.tod/internal/ringdb"
	"github.com/skyring-data/exchange.tod/internal/tod"
)

// Plan is one worker's share of the data: a contiguous run of whole
// rings (or the full span, when distributing by detector) plus the
// detector subset. It is computed once at TOD construction and owned
// exclusively by that instance.
type Plan struct {
	Rank      int
	Detectors []string

	// RingFirst/RingCount delimit this worker's rings within the
	// catalog's ring sequence.
	RingFirst int
	RingCount int

	// SampleOffset is the worker's first sample relative to the
	// catalog's GlobalFirstSample. LocalSamples counts the worker's
	// span end to end, interior inter-ring gaps included, so that
	// absolute = GlobalFirstSample + SampleOffset + local stays linear.
	SampleOffset int64
	LocalSamples int64
}

// Rings returns the worker's ring slice from the catalog.
func (p *Plan) Rings(cat *ringdb.Catalog) []ringdb.Ring {
	return cat.Rings[p.RingFirst : p.RingFirst+p.RingCount]
}

// RingSizes returns the per-ring payload spans (Last - First + 1).
// Inter-ring gaps are not represented: the sizes sum to the sum of ring
// spans, which never exceeds the catalog's TotalSamples.
func RingSizes(rings []ringdb.Ring) []int64 {
	sizes := make([]int64, len(rings))
	for i, r := range rings {
		sizes[i] = r.Span()
	}
	return sizes
}

// PlanTime assigns a contiguous run of whole rings to each rank,
// balancing the summed ring payloads with a greedy cumulative split.
// Ring boundaries are never crossed: attitude interpolation across ring
// ends is unreliable, so a ring always belongs to one worker. Every
// rank keeps the full detector list.
func PlanTime(cat *ringdb.Catalog, rank, size int, detectors []string) (*Plan, error) {
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("%w: rank %d outside group of %d", tod.ErrConfig, rank, size)
	}
	nrings := len(cat.Rings)
	if size > nrings {
		return nil, fmt.Errorf("%w: %d workers but only %d rings to distribute", tod.ErrConfig, size, nrings)
	}

	sizes := RingSizes(cat.Rings)
	var total int64
	for _, s := range sizes {
		total += s
	}

	// bounds[r] is the first ring index of rank r. The greedy pass cuts
	// as soon as the running payload reaches the rank's fair share; the
	// fixup pass guarantees every rank at least one ring.
	bounds := make([]int, size+1)
	bounds[size] = nrings
	cum := int64(0)
	next := 1
	for i, s := range sizes {
		cum += s
		for next < size && cum*int64(size) >= int64(next)*total {
			bounds[next] = i + 1
			next++
		}
	}
	for r := 1; r < size; r++ {
		if bounds[r] <= bounds[r-1] {
			bounds[r] = bounds[r-1] + 1
		}
		if max := nrings - (size - r); bounds[r] > max {
			bounds[r] = max
		}
	}

	first := cat.Rings[bounds[rank]]
	last := cat.Rings[bounds[rank+1]-1]
	return &Plan{
		Rank:         rank,
		Detectors:    detectors,
		RingFirst:    bounds[rank],
		RingCount:    bounds[rank+1] - bounds[rank],
		SampleOffset: first.First - cat.GlobalFirstSample,
		LocalSamples: last.Last - first.First + 1,
	}, nil
}

// PlanDetectors is the orthogonal distribution: each rank gets an even
// contiguous slice of the detector list and the full sample span.
func PlanDetectors(cat *ringdb.Catalog, rank, size int, detectors []string) (*Plan, error) {
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("%w: rank %d outside group of %d", tod.ErrConfig, rank, size)
	}
	if size > len(detectors) {
		return nil, fmt.Errorf("%w: %d workers but only %d detectors to distribute", tod.ErrConfig, size, len(detectors))
	}

	lo := rank * len(detectors) / size
	hi := (rank + 1) * len(detectors) / size
	return &Plan{
		Rank:         rank,
		Detectors:    detectors[lo:hi],
		RingFirst:    0,
		RingCount:    len(cat.Rings),
		SampleOffset: 0,
		LocalSamples: cat.TotalSamples,
	}, nil
}
