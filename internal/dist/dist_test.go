package dist

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyring-data/exchange.tod/internal/ringdb"
	"github.com/skyring-data/exchange.tod/internal/tod"
)

func testCatalog() *ringdb.Catalog {
	return &ringdb.Catalog{
		GlobalStartTime:   1000,
		GlobalFirstSample: 0,
		TotalSamples:      40,
		Rings: []ringdb.Ring{
			{Index: 1, First: 0, Last: 9},
			{Index: 2, First: 15, Last: 24},
			{Index: 3, First: 30, Last: 39},
		},
		Replica: uuid.New(),
	}
}

func TestSelfBcast(t *testing.T) {
	t.Parallel()

	var c Self
	assert.Equal(t, 0, c.Rank())
	assert.Equal(t, 1, c.Size())

	out, err := c.Bcast(0, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), out)

	_, err = c.Bcast(1, nil)
	require.Error(t, err)
}

func TestGroupBcastDeliversToAllRanks(t *testing.T) {
	t.Parallel()

	const size = 4
	members := NewGroup(size)
	payload := []byte("catalog bytes")

	results := make([][]byte, size)
	var wg sync.WaitGroup
	for rank, m := range members {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var in []byte
			if rank == 1 {
				in = payload
			}
			out, err := m.Bcast(1, in)
			require.NoError(t, err)
			results[rank] = out
		}()
	}
	wg.Wait()

	for rank := 0; rank < size; rank++ {
		assert.Equal(t, payload, results[rank], "rank %d", rank)
	}
}

func TestShareCatalogReplicatesIdentically(t *testing.T) {
	t.Parallel()

	const size = 4
	members := NewGroup(size)
	cat := testCatalog()

	catalogs := make([]*ringdb.Catalog, size)
	var wg sync.WaitGroup
	for rank, m := range members {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := ShareCatalog(m, 0, func() (*ringdb.Catalog, error) {
				require.Equal(t, 0, rank, "build must run on the root only")
				return cat, nil
			})
			require.NoError(t, err)
			catalogs[rank] = got
		}()
	}
	wg.Wait()

	for rank := 1; rank < size; rank++ {
		assert.Empty(t, cmp.Diff(catalogs[0], catalogs[rank]), "rank %d", rank)
		assert.Equal(t, catalogs[0].Replica, catalogs[rank].Replica)
	}
}

func TestShareCatalogPropagatesBuildFailure(t *testing.T) {
	t.Parallel()

	const size = 3
	members := NewGroup(size)
	buildErr := errors.New("ringdb exploded")

	errs := make([]error, size)
	var wg sync.WaitGroup
	for rank, m := range members {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ShareCatalog(m, 0, func() (*ringdb.Catalog, error) {
				return nil, buildErr
			})
			errs[rank] = err
		}()
	}
	wg.Wait()

	require.ErrorIs(t, errs[0], buildErr)
	for rank := 1; rank < size; rank++ {
		require.Error(t, errs[rank], "rank %d must not block or succeed", rank)
		assert.ErrorIs(t, errs[rank], tod.ErrConfig)
	}
}
