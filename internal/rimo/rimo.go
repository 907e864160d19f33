// Package rimo loads the reduced instrument model: the per-detector
// response table consumed by pointing reconstruction. Each detector
// carries its frequency band, its response ellipticity and the fixed
// orientation offset quaternion relating the detector frame to the
// boresight.
//
// The table is a CSV file with a header row:
//
//	detector,band,epsilon,qx,qy,qz,qw
//
// and is treated as read-only once loaded.
package rimo

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/skyring-data/exchange.tod/internal/tod"
)

// Detector is one row of the response table. Quat is stored in
// x, y, z, w order (scalar last).
type Detector struct {
	Name    string
	Band    string
	Epsilon float64
	Quat    [4]float64
}

// Table is the loaded response table. Lookup is by detector name;
// iteration order follows the file.
type Table struct {
	byName map[string]Detector
	order  []string
}

// Load reads a response table from a CSV file.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rimo: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("rimo: parse %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: response table %s has no detector rows", tod.ErrConfig, path)
	}

	t := &Table{byName: make(map[string]Detector)}
	for i, rec := range records[1:] {
		if len(rec) != 7 {
			return nil, fmt.Errorf("%w: response table row %d has %d fields, want 7", tod.ErrConfig, i+2, len(rec))
		}
		d := Detector{Name: rec[0], Band: rec[1]}
		if d.Epsilon, err = strconv.ParseFloat(rec[2], 64); err != nil {
			return nil, fmt.Errorf("%w: row %d epsilon: %v", tod.ErrConfig, i+2, err)
		}
		for j := 0; j < 4; j++ {
			if d.Quat[j], err = strconv.ParseFloat(rec[3+j], 64); err != nil {
				return nil, fmt.Errorf("%w: row %d quaternion component %d: %v", tod.ErrConfig, i+2, j, err)
			}
		}
		if _, dup := t.byName[d.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate detector %q in response table", tod.ErrConfig, d.Name)
		}
		t.byName[d.Name] = d
		t.order = append(t.order, d.Name)
	}
	return t, nil
}

// Get looks up one detector by name.
func (t *Table) Get(name string) (Detector, error) {
	d, ok := t.byName[name]
	if !ok {
		return Detector{}, fmt.Errorf("%w: detector %q not in response table", tod.ErrConfig, name)
	}
	return d, nil
}

// ByBand returns, in file order, the names of every detector in the
// given frequency band. Band comparison is case-insensitive.
func (t *Table) ByBand(band string) []string {
	var names []string
	for _, name := range t.order {
		if strings.EqualFold(t.byName[name].Band, band) {
			names = append(names, name)
		}
	}
	return names
}

// Len returns the number of detectors in the table.
func (t *Table) Len() int {
	return len(t.order)
}
