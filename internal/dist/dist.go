// Package dist holds the pieces of the distribution model: the
// broadcast contract used to replicate the ring catalog across the
// worker group, and the partition planner that turns the catalog into
// each worker's exclusive sample range and detector subset.
package dist

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/skyring-data/exchange.tod/internal/ringdb"
	"github.com/skyring-data/exchange.tod/internal/tod"
)

// Comm is the one-shot broadcast contract. The production substrate is
// supplied by the host application; this package ships Self for single
// worker runs and Group for in-process groups.
type Comm interface {
	// Rank returns this worker's position in the group, 0-based.
	Rank() int

	// Size returns the fixed number of workers in the group.
	Size() int

	// Bcast distributes payload from the root worker to every other
	// worker. Non-root callers block until the payload arrives and
	// ignore their payload argument.
	Bcast(root int, payload []byte) ([]byte, error)
}

// Self is the trivial single-worker group.
type Self struct{}

func (Self) Rank() int { return 0 }
func (Self) Size() int { return 1 }

func (Self) Bcast(root int, payload []byte) ([]byte, error) {
	if root != 0 {
		return nil, fmt.Errorf("dist: invalid root %d for single-worker group", root)
	}
	return payload, nil
}

// Group is an in-process fixed-size worker group. Members share one
// inbox per rank; a broadcast delivers the payload to every inbox and
// each non-root member blocks until its copy arrives.
type Group struct {
	rank    int
	inboxes []chan []byte
}

// NewGroup creates an in-process group of the given size and returns
// one member per rank.
func NewGroup(size int) []*Group {
	inboxes := make([]chan []byte, size)
	for i := range inboxes {
		inboxes[i] = make(chan []byte, 1)
	}
	members := make([]*Group, size)
	for i := range members {
		members[i] = &Group{rank: i, inboxes: inboxes}
	}
	return members
}

func (g *Group) Rank() int { return g.rank }
func (g *Group) Size() int { return len(g.inboxes) }

func (g *Group) Bcast(root int, payload []byte) ([]byte, error) {
	if root < 0 || root >= len(g.inboxes) {
		return nil, fmt.Errorf("dist: invalid root %d for group of %d", root, len(g.inboxes))
	}
	if g.rank == root {
		for i, inbox := range g.inboxes {
			if i == root {
				continue
			}
			inbox <- payload
		}
		return payload, nil
	}
	return <-g.inboxes[g.rank], nil
}

// catalogEnvelope is the broadcast wire form. Carrying the build error
// inside the payload keeps non-root workers from blocking forever when
// the root fails to build the catalog.
type catalogEnvelope struct {
	Err     string
	Payload []byte
}

// ShareCatalog runs the build-once-broadcast-everywhere construction
// step. Every worker calls it identically; the root argument decides
// who executes build and who only receives. The returned catalog is an
// identical replica on every rank.
func ShareCatalog(comm Comm, root int, build func() (*ringdb.Catalog, error)) (*ringdb.Catalog, error) {
	if comm.Rank() == root {
		cat, buildErr := build()
		env := catalogEnvelope{}
		if buildErr != nil {
			env.Err = buildErr.Error()
		} else {
			payload, err := cat.Encode()
			if err != nil {
				return nil, err
			}
			env.Payload = payload
		}
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(env); err != nil {
			return nil, fmt.Errorf("dist: encode catalog envelope: %w", err)
		}
		if _, err := comm.Bcast(root, buf.Bytes()); err != nil {
			return nil, err
		}
		if buildErr != nil {
			return nil, buildErr
		}
		return cat, nil
	}

	raw, err := comm.Bcast(root, nil)
	if err != nil {
		return nil, err
	}
	var env catalogEnvelope
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&env); err != nil {
		return nil, fmt.Errorf("dist: decode catalog envelope: %w", err)
	}
	if env.Err != "" {
		return nil, fmt.Errorf("%w: catalog build failed on rank %d: %s", tod.ErrConfig, root, env.Err)
	}
	return ringdb.Decode(env.Payload)
}
