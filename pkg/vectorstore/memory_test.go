package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func point(id, user, session, file, text string, vec ...float32) Point {
	return Point{
		ID:      id,
		Vector:  vec,
		Payload: Payload{UserID: user, SessionID: session, FileName: file, UploadedAt: "2024-01-01T00:00:00Z", Text: text},
	}
}

func TestMemorySearchIsScopedAndRanked(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	require.NoError(t, m.EnsureSchema(ctx))
	require.NoError(t, m.Upsert(ctx, []Point{
		point("1", "u1", "s1", "a.txt", "close", 1, 0),
		point("2", "u1", "s1", "a.txt", "far", 0, 1),
		point("3", "u1", "s2", "a.txt", "other session", 1, 0),
		point("4", "u2", "s1", "a.txt", "other user", 1, 0),
	}))

	got, err := m.Search(ctx, []float32{1, 0.1}, Filter{UserID: "u1", SessionID: "s1"}, 4)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "close", got[0].Payload.Text)
	assert.Equal(t, "far", got[1].Payload.Text)
	assert.Greater(t, got[0].Score, got[1].Score)

	got, err = m.Search(ctx, []float32{1, 0}, Filter{UserID: "u1", SessionID: "s1"}, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = m.Search(ctx, []float32{1, 0}, Filter{UserID: "u1", SessionID: "nope"}, 4)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryDeleteByFilter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	require.NoError(t, m.Upsert(ctx, []Point{
		point("1", "u1", "s1", "a.txt", "a", 1, 0),
		point("2", "u1", "s1", "b.txt", "b", 1, 0),
		point("3", "u1", "s2", "a.txt", "c", 1, 0),
	}))

	require.NoError(t, m.Delete(ctx, Filter{UserID: "u1", SessionID: "s1", FileName: "a.txt"}))
	assert.Equal(t, 2, m.Len())

	require.NoError(t, m.Delete(ctx, Filter{UserID: "u1", SessionID: "s1"}))
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Delete(ctx, Filter{UserID: "u1", SessionID: "s1"}), "deleting nothing is not an error")
}

func TestMemoryRejectsUnscopedAndWrongDimension(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)

	err := m.Upsert(ctx, []Point{point("1", "", "s1", "a", "x", 1, 0)})
	assert.ErrorIs(t, err, ErrUnscopedFilter)

	err = m.Upsert(ctx, []Point{point("1", "u", "s1", "a", "x", 1, 0, 0)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = m.Search(ctx, []float32{1, 0}, Filter{UserID: "u"}, 3)
	assert.ErrorIs(t, err, ErrUnscopedFilter)

	assert.ErrorIs(t, m.Delete(ctx, Filter{SessionID: "s"}), ErrUnscopedFilter)
}

func TestMemoryUpsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	require.NoError(t, m.Upsert(ctx, []Point{point("1", "u", "s", "a", "old", 1, 0)}))
	require.NoError(t, m.Upsert(ctx, []Point{point("1", "u", "s", "a", "new", 1, 0)}))

	got, err := m.Search(ctx, []float32{1, 0}, Filter{UserID: "u", SessionID: "s"}, 4)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Payload.Text)
}
