package exchange

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyring-data/exchange.tod/internal/effstore"
	"github.com/skyring-data/exchange.tod/internal/ringdb"
	"github.com/skyring-data/exchange.tod/internal/tod"
)

const testBand = "100"

// fixtureRings is the canonical 3-ring catalog with two 5-sample gaps:
// [0,9], [15,24], [30,39], 40 samples end to end.
var fixtureRings = []ringdb.Ring{
	{Index: 1, OD: 91, StartTime: 1000, StopTime: 1009, First: 0, Last: 9},
	{Index: 2, OD: 91, StartTime: 1015, StopTime: 1024, First: 15, Last: 24},
	{Index: 3, OD: 92, StartTime: 1030, StopTime: 1039, First: 30, Last: 39},
}

const fixtureRIMO = `detector,band,epsilon,qx,qy,qz,qw
100-1a,100,0.0,0,0,0,1
100-1b,100,0.012,0.7071067811865476,0,0,0.7071067811865476
`

// writeFixtures lays down a ring database, a response table and a
// seeded record store covering samples 0..39: identity attitude, the
// given constant velocity, linear timestamps and a ramp signal for both
// detectors.
func writeFixtures(t *testing.T, velocity [3]float64) Config {
	t.Helper()
	dir := t.TempDir()

	rdbPath := filepath.Join(dir, "rings.sqlite")
	rdb, err := ringdb.Open(rdbPath)
	require.NoError(t, err)
	for _, r := range fixtureRings {
		require.NoError(t, rdb.InsertRing(r))
	}
	require.NoError(t, rdb.Close())

	rimoPath := filepath.Join(dir, "rimo.csv")
	require.NoError(t, os.WriteFile(rimoPath, []byte(fixtureRIMO), 0o644))

	effDir := filepath.Join(dir, "eff")
	require.NoError(t, os.Mkdir(effDir, 0o755))
	store, err := effstore.Open(effDir, testBand)
	require.NoError(t, err)

	const n = 40
	quats := make([]float64, 4*n)
	vels := make([]float64, 3*n)
	times := make([]float64, n)
	signal := make([]float64, n)
	zero := make([]uint8, n)
	for i := 0; i < n; i++ {
		quats[4*i+3] = 1 // identity attitude
		copy(vels[3*i:], velocity[:])
		times[i] = 1000 + float64(i)
		signal[i] = float64(i)
	}
	require.NoError(t, store.Write("satellite", tod.Attitude, 0, quats, zero))
	require.NoError(t, store.Write("satellite", tod.Velocity, 0, vels, zero))
	require.NoError(t, store.Write("satellite", tod.Timestamps, 0, times, zero))
	require.NoError(t, store.Write("100-1a", tod.Signal, 0, signal, zero))
	require.NoError(t, store.Write("100-1b", tod.Signal, 0, signal, zero))
	require.NoError(t, store.Close())

	return Config{
		RingDB:   rdbPath,
		RIMOPath: rimoPath,
		EffDir:   effDir,
		Band:     testBand,
	}
}

func newFixtureExchange(t *testing.T, velocity [3]float64, mutate func(*Config)) *Exchange {
	t.Helper()
	cfg := writeFixtures(t, velocity)
	if mutate != nil {
		mutate(&cfg)
	}
	x, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { x.Close() })
	return x
}

func TestNewMissingRequiredConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no ring database", func(c *Config) { c.RingDB = "" }},
		{"no response table", func(c *Config) { c.RIMOPath = "" }},
		{"no band", func(c *Config) { c.Band = "" }},
		{"no record-store directory", func(c *Config) { c.EffDir = "" }},
		{"unknown frame", func(c *Config) { c.Coord = "Q" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := writeFixtures(t, [3]float64{})
			tc.mutate(&cfg)
			x, err := New(cfg)
			require.ErrorIs(t, err, tod.ErrConfig)
			assert.Nil(t, x, "no partially constructed instance")
		})
	}
}

func TestNewNonexistentEffDir(t *testing.T) {
	t.Parallel()

	cfg := writeFixtures(t, [3]float64{})
	cfg.EffDir = filepath.Join(cfg.EffDir, "missing")
	x, err := New(cfg)
	require.Error(t, err)
	assert.Nil(t, x)
}

func TestNewEmptySelection(t *testing.T) {
	t.Parallel()

	cfg := writeFixtures(t, [3]float64{})
	cfg.Selection = ringdb.Selection{Rings: &[2]int64{50, 60}}
	_, err := New(cfg)
	require.ErrorIs(t, err, tod.ErrConfig)
}

func TestDetectorsDefaultToBand(t *testing.T) {
	t.Parallel()

	x := newFixtureExchange(t, [3]float64{}, nil)
	assert.Equal(t, []string{"100-1a", "100-1b"}, x.Detectors())
	assert.Equal(t, int64(40), x.LocalSamples())
	assert.Len(t, x.Rings(), 3)
	assert.Equal(t, 2, x.RIMO().Len())
}

func TestUnknownDetectorRejectedAtConstruction(t *testing.T) {
	t.Parallel()

	cfg := writeFixtures(t, [3]float64{})
	cfg.Detectors = []string{"100-1a", "857-zz"}
	_, err := New(cfg)
	require.ErrorIs(t, err, tod.ErrConfig)
}

func TestSamplesRoundTrip(t *testing.T) {
	t.Parallel()

	x := newFixtureExchange(t, [3]float64{}, nil)

	values := []float64{3.5, -1.25, 0, 42}
	flags := []uint8{0, 1, 0, 1}
	require.NoError(t, x.PutSamples("100-1a", tod.Signal, 12, values, flags))

	// The cache may still hold the pre-write block; purge before reading.
	x.PurgeCache()
	gotVals, gotFlags, err := x.GetSamples("100-1a", tod.Signal, 12, len(values))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(values, gotVals))

	// Raw flag bytes round-trip through the store; with both masks at
	// their zero default no bit marks a sample invalid.
	assert.Equal(t, []uint8{0, 0, 0, 0}, gotFlags)
}

func TestFlagMasking(t *testing.T) {
	t.Parallel()

	x := newFixtureExchange(t, [3]float64{}, func(c *Config) {
		c.OBTMask = 0x02
		c.FlagMask = 0x04
	})

	require.NoError(t, x.PutSamples("100-1a", tod.Signal, 0, []float64{1, 2, 3, 4}, []uint8{0x01, 0x02, 0x04, 0x08}))
	x.PurgeCache()
	_, flags, err := x.GetSamples("100-1a", tod.Signal, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 1, 1, 0}, flags)
}

func TestRangeErrors(t *testing.T) {
	t.Parallel()

	x := newFixtureExchange(t, [3]float64{}, nil)

	tests := []struct {
		name  string
		start int64
		n     int
	}{
		{"negative start", -1, 4},
		{"zero count", 0, 0},
		{"past the end", 38, 4},
		{"way out", 1000, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := x.GetSamples("100-1a", tod.Signal, tc.start, tc.n)
			require.ErrorIs(t, err, tod.ErrRange)

			_, _, err = x.GetPointing("100-1a", tc.start, tc.n)
			require.ErrorIs(t, err, tod.ErrRange)
		})
	}

	err := x.PutSamples("100-1a", tod.Signal, 39, []float64{1, 2}, []uint8{0, 0})
	require.ErrorIs(t, err, tod.ErrRange)

	_, err = x.GetTimestamps(35, 10)
	require.ErrorIs(t, err, tod.ErrRange)
}

func TestTimestamps(t *testing.T) {
	t.Parallel()

	x := newFixtureExchange(t, [3]float64{}, nil)

	times, err := x.GetTimestamps(0, 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{1000, 1001, 1002, 1003, 1004}, times)

	require.NoError(t, x.PutTimestamps(0, []float64{2000, 2001}))
	x.PurgeCache()
	times, err = x.GetTimestamps(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{2000, 2001}, times)
}

func TestCacheServesRepeatedReads(t *testing.T) {
	t.Parallel()

	x := newFixtureExchange(t, [3]float64{}, nil)

	// Prime the cache with the full range, then read a sub-range: it
	// must come from the cached block.
	full, _, err := x.GetSamples("100-1a", tod.Signal, 0, 40)
	require.NoError(t, err)

	sub, _, err := x.GetSamples("100-1a", tod.Signal, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, full[10:15], sub)
}

func TestCachePurgeDropsStaleBlocks(t *testing.T) {
	t.Parallel()

	x := newFixtureExchange(t, [3]float64{}, nil)

	before, _, err := x.GetSamples("100-1a", tod.Signal, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, before)

	// A write does not invalidate the read cache; the stale block is
	// served until the caller purges.
	require.NoError(t, x.PutSamples("100-1a", tod.Signal, 0, []float64{7, 8, 9}, []uint8{0, 0, 0}))
	stale, _, err := x.GetSamples("100-1a", tod.Signal, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, stale)

	x.PurgeCache()
	fresh, _, err := x.GetSamples("100-1a", tod.Signal, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 8, 9}, fresh)
}

func TestCachePartialHitRefetches(t *testing.T) {
	t.Parallel()

	x := newFixtureExchange(t, [3]float64{}, nil)

	// Cache a narrow block, then ask for a wider range: the cached
	// block cannot serve it and the backend must re-fetch.
	_, _, err := x.GetSamples("100-1a", tod.Signal, 5, 3)
	require.NoError(t, err)

	wide, _, err := x.GetSamples("100-1a", tod.Signal, 0, 20)
	require.NoError(t, err)
	assert.Len(t, wide, 20)
	assert.Equal(t, float64(19), wide[19])
}

func TestWriteFailurePropagates(t *testing.T) {
	t.Parallel()

	x := newFixtureExchange(t, [3]float64{}, nil)

	// Mismatched flag count is rejected by the store and must surface.
	err := x.PutSamples("100-1a", tod.Signal, 0, []float64{1, 2, 3}, []uint8{0})
	require.Error(t, err)

	// A closed store fails every write; the backend reports it.
	require.NoError(t, x.Close())
	err = x.PutSamples("100-1a", tod.Signal, 0, []float64{1}, []uint8{0})
	require.Error(t, err)
}
