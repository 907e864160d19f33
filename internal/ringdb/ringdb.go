// Package ringdb reads the scan-interval ("ring") boundary database and
// builds the immutable ring catalog every worker shares.
//
// The database is SQLite; one row per ring with its operational-day
// number, start/stop times and inclusive absolute sample span. The
// catalog is built by exactly one worker from a filtered selection of
// rings and then replicated verbatim to the rest of the group.
package ringdb

import (
	"bytes"
	"database/sql"
	_ "embed"
	"encoding/gob"
	"fmt"

	"github.com/google/uuid"

	"github.com/skyring-data/exchange.tod/internal/tod"

	_ "modernc.org/sqlite"
)

// Ring is one scan period: an inclusive span [First, Last] of absolute
// sample indices plus its time bounds. Consecutive rings may be
// separated by a gap of zero or more samples.
type Ring struct {
	Index     int64
	OD        int64
	StartTime float64
	StopTime  float64
	First     int64
	Last      int64
}

// Span returns the number of samples in the ring payload.
func (r Ring) Span() int64 {
	return r.Last - r.First + 1
}

// Catalog is the ordered ring sequence plus the derived global scalars.
// It is immutable once shared: the builder stamps a replica token so
// workers can assert they all hold the same copy.
type Catalog struct {
	GlobalStartTime   float64
	GlobalFirstSample int64
	TotalSamples      int64
	Rings             []Ring
	Replica           uuid.UUID
}

// Selection filters the ring database down to the span of interest.
// At most one filter is honored; precedence is Time over Ring over
// Period. Supplying a higher-precedence filter overrides the others.
type Selection struct {
	// Time selects rings overlapping [Time[0], Time[1]] in catalog time.
	Time *[2]float64
	// Rings selects ring indices in [Rings[0], Rings[1]] inclusive.
	Rings *[2]int64
	// Periods selects operational days in [Periods[0], Periods[1]] inclusive.
	Periods *[2]int64
}

//go:embed schema.sql
var schemaSQL string

// DB wraps the ring database connection.
type DB struct {
	*sql.DB
}

// Open opens (creating the schema if absent) a ring database.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ringdb: init schema: %w", err)
	}
	return &DB{db}, nil
}

// InsertRing adds one ring row. Used by ingest tooling and tests; the
// catalog build path never writes.
func (db *DB) InsertRing(r Ring) error {
	_, err := db.Exec(
		`INSERT INTO rings (ring_index, od, start_time, stop_time, first_sample, last_sample)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.Index, r.OD, r.StartTime, r.StopTime, r.First, r.Last,
	)
	if err != nil {
		return fmt.Errorf("ringdb: insert ring %d: %w", r.Index, err)
	}
	return nil
}

// Build constructs the catalog from the database for the given
// selection. Only the coordinating worker calls Build; the others
// receive the result through a broadcast. An empty selection result or
// a violated ring invariant is a configuration error.
func Build(db *DB, sel Selection) (*Catalog, error) {
	query := `SELECT ring_index, od, start_time, stop_time, first_sample, last_sample FROM rings`
	var args []interface{}
	switch {
	case sel.Time != nil:
		query += ` WHERE stop_time >= ? AND start_time <= ?`
		args = append(args, sel.Time[0], sel.Time[1])
	case sel.Rings != nil:
		query += ` WHERE ring_index BETWEEN ? AND ?`
		args = append(args, sel.Rings[0], sel.Rings[1])
	case sel.Periods != nil:
		query += ` WHERE od BETWEEN ? AND ?`
		args = append(args, sel.Periods[0], sel.Periods[1])
	}
	query += ` ORDER BY first_sample`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("ringdb: query rings: %w", err)
	}
	defer rows.Close()

	var rings []Ring
	for rows.Next() {
		var r Ring
		if err := rows.Scan(&r.Index, &r.OD, &r.StartTime, &r.StopTime, &r.First, &r.Last); err != nil {
			return nil, fmt.Errorf("ringdb: scan ring row: %w", err)
		}
		rings = append(rings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ringdb: iterate rings: %w", err)
	}

	if len(rings) == 0 {
		return nil, fmt.Errorf("%w: selection matches no rings", tod.ErrConfig)
	}
	if err := validate(rings); err != nil {
		return nil, err
	}

	first := rings[0]
	last := rings[len(rings)-1]
	return &Catalog{
		GlobalStartTime:   first.StartTime,
		GlobalFirstSample: first.First,
		TotalSamples:      last.Last - first.First + 1,
		Rings:             rings,
		Replica:           uuid.New(),
	}, nil
}

// validate enforces the ring invariants: positive spans, strictly
// ascending starts, no overlap.
func validate(rings []Ring) error {
	for i, r := range rings {
		if r.Last < r.First {
			return fmt.Errorf("%w: ring %d has negative span [%d, %d]", tod.ErrConfig, r.Index, r.First, r.Last)
		}
		if i > 0 && r.First <= rings[i-1].Last {
			return fmt.Errorf("%w: ring %d overlaps ring %d", tod.ErrConfig, r.Index, rings[i-1].Index)
		}
	}
	return nil
}

// Encode serializes the catalog to one gob message so a broadcast
// delivers all derived scalars and the ring list atomically.
func (c *Catalog) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("ringdb: encode catalog: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes a catalog produced by Encode.
func Decode(payload []byte) (*Catalog, error) {
	var c Catalog
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&c); err != nil {
		return nil, fmt.Errorf("ringdb: decode catalog: %w", err)
	}
	return &c, nil
}
