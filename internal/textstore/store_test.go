package textstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexreview/lexreview/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	d, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return NewStore(d)
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "laws", map[string]string{
		"a": "Article 14. Equality before law.",
		"b": "Article 15. Prohibition of discrimination.",
	}))

	got, err := s.Get(ctx, "laws", []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "Article 14. Equality before law.", got["a"])

	// Same id in another corpus is independent.
	other, err := s.Get(ctx, "templates", []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestPutOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "laws", map[string]string{"a": "old"}))
	require.NoError(t, s.Put(ctx, "laws", map[string]string{"a": "new"}))

	text, ok, err := s.GetOne(ctx, "laws", "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new", text)

	n, err := s.Count(ctx, "laws")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetOneMissing(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.GetOne(context.Background(), "laws", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "laws", map[string]string{"a": "1", "b": "2", "c": "3"}))
	require.NoError(t, s.Delete(ctx, "laws", []string{"a", "c"}))

	got, err := s.Get(ctx, "laws", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "2"}, got)
}
