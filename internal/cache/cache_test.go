package cache_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etraxis/internal/cache"
)

type countingFinder struct {
	calls map[int64]int
	fail  bool
}

func (f *countingFinder) Find(_ context.Context, id int64) (string, error) {
	f.calls[id]++
	if f.fail {
		return "", errors.New("unavailable")
	}
	return "user-" + string(rune('0'+id)), nil
}

func TestCachedFindHitsInnerOnce(t *testing.T) {
	ctx := context.Background()
	inner := &countingFinder{calls: map[int64]int{}}
	c, err := cache.New[int64, string](inner, 2)
	require.NoError(t, err)

	for range 3 {
		v, err := c.Find(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "user-1", v)
	}
	assert.Equal(t, 1, inner.calls[1])

	c.Invalidate(1)
	_, err = c.Find(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls[1])
}

func TestCachedEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	inner := &countingFinder{calls: map[int64]int{}}
	c, err := cache.New[int64, string](inner, 2)
	require.NoError(t, err)

	for _, id := range []int64{1, 2, 3} {
		_, err := c.Find(ctx, id)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Len())
	_, err = c.Find(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls[1])
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	inner := &countingFinder{calls: map[int64]int{}, fail: true}
	c, err := cache.New[int64, string](inner, 2)
	require.NoError(t, err)

	_, err = c.Find(ctx, 1)
	assert.Error(t, err)
	_, err = c.Find(ctx, 1)
	assert.Error(t, err)
	assert.Equal(t, 2, inner.calls[1])
	assert.Zero(t, c.Len())
}

func TestFinderFunc(t *testing.T) {
	f := cache.FinderFunc[string, int](func(_ context.Context, id string) (int, error) { return len(id), nil })
	c, err := cache.New[string, int](f, 4)
	require.NoError(t, err)
	v, err := c.Find(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	_, err = cache.New[string, int](f, 0)
	assert.Error(t, err)
}
