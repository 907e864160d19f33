// Package exchange implements the TOD capability contract over the
// exchange record store, and reconstructs per-detector pointing from
// the raw satellite attitude and velocity streams.
//
// Construction follows the build-once-broadcast-everywhere model: one
// worker builds the ring catalog from the ring database and every
// worker receives an identical replica before the partition is planned.
// After construction, workers touch only their own sample range and
// never communicate.
package exchange

import (
	"fmt"
	"sync"

	"github.com/skyring-data/exchange.tod/internal/dist"
	"github.com/skyring-data/exchange.tod/internal/effstore"
	"github.com/skyring-data/exchange.tod/internal/monitoring"
	"github.com/skyring-data/exchange.tod/internal/rimo"
	"github.com/skyring-data/exchange.tod/internal/ringdb"
	"github.com/skyring-data/exchange.tod/internal/tod"
)

// satRow keys the satellite streams (attitude, velocity, timestamps)
// in the record store; they are not tied to any detector.
const satRow = "satellite"

// satMask selects the health bit of the satellite stream flag bytes.
const satMask uint8 = 1

type cacheKey struct {
	detector string
	kind     tod.StreamKind
}

// cacheEntry holds the most recently fetched block for one key: raw
// store values and raw flag bytes, starting at absolute sample first.
type cacheEntry struct {
	first  int64
	values []float64
	flags  []uint8
}

// Exchange serves TOD streams for one worker's sample range.
// It implements tod.Interface.
type Exchange struct {
	cat   *ringdb.Catalog
	plan  *dist.Plan
	store effstore.Store
	rimo  *rimo.Table

	deaberrate bool
	obtMask    uint8
	flagMask   uint8

	// coordQuat is the fixed frame-conversion quaternion; nil when the
	// target frame is the native one.
	coordQuat *[4]float64

	// mu serializes cache mutation; hits and misses update the same
	// entries.
	mu    sync.Mutex
	cache map[cacheKey]*cacheEntry
}

var _ tod.Interface = (*Exchange)(nil)

// New constructs an exchange backend. Every worker of cfg.Comm calls
// New identically; rank 0 builds the ring catalog and the group
// broadcast replicates it before anything else proceeds.
func New(cfg Config) (*Exchange, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	table, err := rimo.Load(cfg.RIMOPath)
	if err != nil {
		return nil, err
	}

	cat, err := dist.ShareCatalog(cfg.Comm, 0, func() (*ringdb.Catalog, error) {
		db, err := ringdb.Open(cfg.RingDB)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		return ringdb.Build(db, cfg.Selection)
	})
	if err != nil {
		return nil, err
	}

	detectors := cfg.Detectors
	if len(detectors) == 0 {
		detectors = table.ByBand(cfg.Band)
	}
	if len(detectors) == 0 {
		return nil, fmt.Errorf("%w: no detectors for band %q", tod.ErrConfig, cfg.Band)
	}
	for _, d := range detectors {
		if _, err := table.Get(d); err != nil {
			return nil, err
		}
	}

	var plan *dist.Plan
	if *cfg.DistributeByTime {
		plan, err = dist.PlanTime(cat, cfg.Comm.Rank(), cfg.Comm.Size(), detectors)
	} else {
		plan, err = dist.PlanDetectors(cat, cfg.Comm.Rank(), cfg.Comm.Size(), detectors)
	}
	if err != nil {
		return nil, err
	}

	store, err := effstore.Open(cfg.EffDir, cfg.Band)
	if err != nil {
		return nil, err
	}

	x := &Exchange{
		cat:        cat,
		plan:       plan,
		store:      store,
		rimo:       table,
		deaberrate: *cfg.Deaberrate,
		obtMask:    cfg.OBTMask,
		flagMask:   cfg.FlagMask,
		coordQuat:  frameQuat(cfg.Coord),
		cache:      make(map[cacheKey]*cacheEntry),
	}
	monitoring.Logf("exchange: rank %d/%d owns samples [%d, %d) across %d rings",
		plan.Rank, cfg.Comm.Size(), plan.SampleOffset, plan.SampleOffset+plan.LocalSamples, plan.RingCount)
	return x, nil
}

// Rings returns the full shared ring sequence.
func (x *Exchange) Rings() []ringdb.Ring {
	return x.cat.Rings
}

// LocalRings returns only the rings assigned to this worker.
func (x *Exchange) LocalRings() []ringdb.Ring {
	return x.plan.Rings(x.cat)
}

// RIMO returns the read-only detector response table.
func (x *Exchange) RIMO() *rimo.Table {
	return x.rimo
}

// Detectors implements tod.Interface.
func (x *Exchange) Detectors() []string {
	return x.plan.Detectors
}

// LocalSamples implements tod.Interface.
func (x *Exchange) LocalSamples() int64 {
	return x.plan.LocalSamples
}

// Close releases the record store.
func (x *Exchange) Close() error {
	return x.store.Close()
}

// absolute maps a worker-local position to the store's sample axis.
func (x *Exchange) absolute(local int64) int64 {
	return x.cat.GlobalFirstSample + x.plan.SampleOffset + local
}

// checkRange rejects requests outside the worker's span.
func (x *Exchange) checkRange(start int64, n int) error {
	if start < 0 || n <= 0 || start+int64(n) > x.plan.LocalSamples {
		return fmt.Errorf("%w: [%d, %d) of %d local samples", tod.ErrRange, start, start+int64(n), x.plan.LocalSamples)
	}
	return nil
}

// readCached fetches a raw block through the cache. The cached entry
// serves a request only when the whole requested range lies inside it;
// anything else is a re-fetch that replaces the entry. Returned slices
// are copies, so callers may mutate them freely.
func (x *Exchange) readCached(detector string, kind tod.StreamKind, start int64, n int) ([]float64, []uint8, error) {
	abs := x.absolute(start)
	w := kind.Width()
	key := cacheKey{detector, kind}

	x.mu.Lock()
	if e, ok := x.cache[key]; ok && abs >= e.first && abs+int64(n) <= e.first+int64(len(e.flags)) {
		off := abs - e.first
		values := append([]float64(nil), e.values[off*int64(w):(off+int64(n))*int64(w)]...)
		flags := append([]uint8(nil), e.flags[off:off+int64(n)]...)
		x.mu.Unlock()
		return values, flags, nil
	}
	x.mu.Unlock()

	values, flags, err := x.store.Read(detector, kind, abs, n)
	if err != nil {
		return nil, nil, err
	}
	x.mu.Lock()
	x.cache[key] = &cacheEntry{
		first:  abs,
		values: append([]float64(nil), values...),
		flags:  append([]uint8(nil), flags...),
	}
	x.mu.Unlock()
	return values, flags, nil
}

// maskFor returns the invalidity mask applied to a stream's raw flags.
func (x *Exchange) maskFor(kind tod.StreamKind) uint8 {
	switch kind {
	case tod.Attitude, tod.Velocity:
		return satMask
	case tod.Timestamps:
		return 0
	default:
		return x.obtMask | x.flagMask
	}
}

// applyMask reduces raw flag bytes to 0/1 validity flags under mask.
func applyMask(raw []uint8, mask uint8) []uint8 {
	flags := make([]uint8, len(raw))
	for i, b := range raw {
		if b&mask != 0 {
			flags[i] = 1
		}
	}
	return flags
}

// storeRow maps a stream request onto the record store's row key:
// satellite streams share one row, detector streams use the detector.
func storeRow(detector string, kind tod.StreamKind) string {
	switch kind {
	case tod.Attitude, tod.Velocity, tod.Timestamps:
		return satRow
	default:
		return detector
	}
}

// GetSamples implements tod.Interface.
func (x *Exchange) GetSamples(detector string, kind tod.StreamKind, start int64, n int) ([]float64, []uint8, error) {
	if err := x.checkRange(start, n); err != nil {
		return nil, nil, err
	}
	values, raw, err := x.readCached(storeRow(detector, kind), kind, start, n)
	if err != nil {
		return nil, nil, err
	}
	return values, applyMask(raw, x.maskFor(kind)), nil
}

// PutSamples implements tod.Interface. The store's result is always
// reported: a dropped write error would be silent data loss.
func (x *Exchange) PutSamples(detector string, kind tod.StreamKind, start int64, values []float64, flags []uint8) error {
	w := kind.Width()
	if len(values)%w != 0 {
		return fmt.Errorf("%w: %d values not a multiple of %s width %d", tod.ErrRange, len(values), kind, w)
	}
	n := len(values) / w
	if err := x.checkRange(start, n); err != nil {
		return err
	}
	return x.store.Write(storeRow(detector, kind), kind, x.absolute(start), values, flags)
}

// PutPointing implements tod.Interface: quaternions are written back to
// the attitude stream.
func (x *Exchange) PutPointing(detector string, start int64, quats []float64, flags []uint8) error {
	return x.PutSamples(detector, tod.Attitude, start, quats, flags)
}

// GetTimestamps implements tod.Interface.
func (x *Exchange) GetTimestamps(start int64, n int) ([]float64, error) {
	if err := x.checkRange(start, n); err != nil {
		return nil, err
	}
	values, _, err := x.readCached(satRow, tod.Timestamps, start, n)
	return values, err
}

// PutTimestamps implements tod.Interface.
func (x *Exchange) PutTimestamps(start int64, values []float64) error {
	if err := x.checkRange(start, len(values)); err != nil {
		return err
	}
	return x.store.Write(satRow, tod.Timestamps, x.absolute(start), values, make([]uint8, len(values)))
}

// PurgeCache implements tod.Interface: every cached block is dropped
// unconditionally. The backend never evicts on its own.
func (x *Exchange) PurgeCache() {
	x.mu.Lock()
	x.cache = make(map[cacheKey]*cacheEntry)
	x.mu.Unlock()
}
