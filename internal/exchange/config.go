package exchange

import (
	"fmt"

	"github.com/skyring-data/exchange.tod/internal/dist"
	"github.com/skyring-data/exchange.tod/internal/ringdb"
	"github.com/skyring-data/exchange.tod/internal/tod"
)

// Frame identifies the sky coordinate frame pointing is expressed in.
type Frame string

const (
	// FrameEcliptic is the instrument-native frame; no conversion.
	FrameEcliptic Frame = "E"
	// FrameGalactic converts pointing to galactic coordinates.
	FrameGalactic Frame = "G"
	// FrameEquatorial converts pointing to equatorial (J2000) coordinates.
	FrameEquatorial Frame = "C"
)

// Config collects the construction parameters of an exchange backend.
// RingDB, RIMOPath, Band and EffDir are required; construction fails
// before any resource is opened when one is missing.
type Config struct {
	// Comm is the worker group handle. Defaults to the single-worker
	// group.
	Comm dist.Comm

	// Detectors restricts the detector set. Defaults to every detector
	// of the band in the response table.
	Detectors []string

	// RingDB is the path of the SQLite ring-boundary database.
	RingDB string

	// RIMOPath is the path of the detector response table.
	RIMOPath string

	// EffDir is the record-store directory.
	EffDir string

	// Band is the frequency band identifier, e.g. "100".
	Band string

	// Selection restricts the catalog; precedence time > ring > period.
	Selection ringdb.Selection

	// Coord is the target sky frame. Defaults to FrameEcliptic.
	Coord Frame

	// Deaberrate toggles the relativistic aberration correction.
	// Defaults to on.
	Deaberrate *bool

	// OBTMask and FlagMask select which bits of the stored flag bytes
	// mark a sample invalid: OBTMask for instrument health, FlagMask
	// for data quality. Both default to 0 (bit ignored).
	OBTMask  uint8
	FlagMask uint8

	// DistributeByTime selects ring-wise sample distribution (true,
	// the default) or detector-wise distribution (false).
	DistributeByTime *bool
}

// withDefaults returns a copy of cfg with unset optional fields filled.
func (cfg Config) withDefaults() Config {
	if cfg.Comm == nil {
		cfg.Comm = dist.Self{}
	}
	if cfg.Coord == "" {
		cfg.Coord = FrameEcliptic
	}
	if cfg.Deaberrate == nil {
		on := true
		cfg.Deaberrate = &on
	}
	if cfg.DistributeByTime == nil {
		byTime := true
		cfg.DistributeByTime = &byTime
	}
	return cfg
}

// Validate reports the first fatal configuration problem.
func (cfg Config) Validate() error {
	switch {
	case cfg.RingDB == "":
		return fmt.Errorf("%w: ring database path is required", tod.ErrConfig)
	case cfg.RIMOPath == "":
		return fmt.Errorf("%w: detector response table path is required", tod.ErrConfig)
	case cfg.Band == "":
		return fmt.Errorf("%w: frequency band is required", tod.ErrConfig)
	case cfg.EffDir == "":
		return fmt.Errorf("%w: record-store directory is required", tod.ErrConfig)
	}
	switch cfg.Coord {
	case "", FrameEcliptic, FrameGalactic, FrameEquatorial:
	default:
		return fmt.Errorf("%w: unknown coordinate frame %q", tod.ErrConfig, cfg.Coord)
	}
	return nil
}
