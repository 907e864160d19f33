// Package effstore provides the record-store contract behind the TOD
// backends, plus a SQLite implementation of it.
//
// A store addresses samples on the absolute sample axis; translation
// from worker-local positions happens above it, in the backend. Values
// are flattened float64 slices, kind.Width() values per sample, with
// one raw flag byte per sample alongside.
package effstore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/skyring-data/exchange.tod/internal/tod"
)

// ErrMissingSamples reports a read touching samples the store does not
// hold. Callers see it unmodified; the core never retries.
var ErrMissingSamples = errors.New("effstore: requested samples not in store")

// Store is the record-store contract. Reads and writes block until the
// store completes them; failures propagate to the caller verbatim.
type Store interface {
	// Read returns n samples of a stream starting at the absolute
	// sample index first: n*kind.Width() values plus n raw flag bytes.
	Read(detector string, kind tod.StreamKind, first int64, n int) ([]float64, []uint8, error)

	// Write stores n samples of a stream starting at the absolute
	// sample index first, overwriting any existing samples.
	Write(detector string, kind tod.StreamKind, first int64, values []float64, flags []uint8) error

	Close() error
}

// checkShape validates a flattened value slice against its flag slice.
func checkShape(kind tod.StreamKind, values []float64, flags []uint8) (int, error) {
	w := kind.Width()
	if len(values)%w != 0 {
		return 0, fmt.Errorf("effstore: %d values not a multiple of %s width %d", len(values), kind, w)
	}
	n := len(values) / w
	if len(flags) != n {
		return 0, fmt.Errorf("effstore: %d flags for %d samples", len(flags), n)
	}
	return n, nil
}

// scanSamples collects a contiguous run of sample rows into flattened
// values and flags, enforcing that exactly the requested samples exist.
func scanSamples(rows *sql.Rows, kind tod.StreamKind, first int64, n int) ([]float64, []uint8, error) {
	w := kind.Width()
	values := make([]float64, 0, n*w)
	flags := make([]uint8, 0, n)
	want := first
	for rows.Next() {
		var idx int64
		var blob []byte
		var flag uint8
		if err := rows.Scan(&idx, &blob, &flag); err != nil {
			return nil, nil, fmt.Errorf("effstore: scan sample row: %w", err)
		}
		if idx != want {
			return nil, nil, fmt.Errorf("%w: %s sample %d absent", ErrMissingSamples, kind, want)
		}
		vals, err := decodeValues(blob, w)
		if err != nil {
			return nil, nil, err
		}
		values = append(values, vals...)
		flags = append(flags, flag)
		want++
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("effstore: iterate samples: %w", err)
	}
	if len(flags) != n {
		return nil, nil, fmt.Errorf("%w: %s samples [%d, %d): got %d of %d",
			ErrMissingSamples, kind, first, first+int64(n), len(flags), n)
	}
	return values, flags, nil
}
