package cache_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/UnknownOlympus/cartograph/internal/cache"
	"github.com/UnknownOlympus/cartograph/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemo_GetOrCompute(t *testing.T) {
	t.Parallel()

	t.Run("computes once for repeated lookups", func(t *testing.T) {
		t.Parallel()
		memo := cache.New()
		calls := 0
		compute := func() (models.Result, error) {
			calls++
			return models.Match(42.35, -71.07), nil
		}

		first, hit, err := memo.GetOrCompute("1 Elm St", compute)
		require.NoError(t, err)
		assert.False(t, hit)

		second, hit, err := memo.GetOrCompute("1 Elm St", compute)
		require.NoError(t, err)
		assert.True(t, hit)

		assert.Equal(t, 1, calls)
		assert.Equal(t, first, second)
		assert.Equal(t, 1, memo.Len())
	})

	t.Run("misses are cached too", func(t *testing.T) {
		t.Parallel()
		memo := cache.New()
		calls := 0
		compute := func() (models.Result, error) {
			calls++
			return models.Miss(models.MissNoMatch), nil
		}

		_, _, err := memo.GetOrCompute("nowhere", compute)
		require.NoError(t, err)
		res, hit, err := memo.GetOrCompute("nowhere", compute)
		require.NoError(t, err)

		assert.True(t, hit)
		assert.False(t, res.Found())
		assert.Equal(t, models.MissNoMatch, res.Miss)
		assert.Equal(t, 1, calls)
	})

	t.Run("errors are not cached", func(t *testing.T) {
		t.Parallel()
		memo := cache.New()

		_, hit, err := memo.GetOrCompute("flaky", func() (models.Result, error) {
			return models.Result{}, assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)
		assert.False(t, hit)
		assert.Zero(t, memo.Len())

		res, hit, err := memo.GetOrCompute("flaky", func() (models.Result, error) {
			return models.Match(1, 2), nil
		})
		require.NoError(t, err)
		assert.False(t, hit)
		assert.True(t, res.Found())
	})

	t.Run("distinct keys are independent", func(t *testing.T) {
		t.Parallel()
		memo := cache.New()

		a, _, err := memo.GetOrCompute("a", func() (models.Result, error) { return models.Match(1, 1), nil })
		require.NoError(t, err)
		b, _, err := memo.GetOrCompute("b", func() (models.Result, error) { return models.Match(2, 2), nil })
		require.NoError(t, err)

		assert.NotEqual(t, a, b)
		assert.Equal(t, 2, memo.Len())
	})
}

func TestMemo_FirstWriteWins(t *testing.T) {
	t.Parallel()
	memo := cache.New()

	const workers = 16
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
		release = make(chan struct{})
		counter atomic.Int64
		results = make([]models.Result, workers)
	)

	started.Add(workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _, err := memo.GetOrCompute("shared", func() (models.Result, error) {
				started.Done()
				<-release
				n := float64(counter.Add(1))
				return models.Match(n, n), nil
			})
			assert.NoError(t, err)
			results[i] = res
		}()
	}

	started.Wait()
	close(release)
	wg.Wait()

	stored, ok := memo.Get("shared")
	require.True(t, ok)
	for _, res := range results {
		assert.Equal(t, stored, res)
	}
	assert.Equal(t, 1, memo.Len())
}
