package ledger

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightcloud/nightfleet/pkg/objectstore"
)

func newTestIndex(t *testing.T) *LocalIndex {
	t.Helper()
	idx, err := OpenLocalIndex(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestRecordSolutionIdempotent(t *testing.T) {
	store := objectstore.NewMemoryStore()
	l := NewSolutionsLedger(store, nil, "W1", clock.New())
	ctx := context.Background()

	require.NoError(t, l.RecordSolution(ctx, "addr1", "C1", "n1"))
	require.NoError(t, l.RecordSolution(ctx, "addr1", "C1", "n1"))
	require.NoError(t, l.RecordSolution(ctx, "addr1", "C1", "different-nonce"))

	sols, err := l.Load(ctx, "addr1")
	require.NoError(t, err)
	require.Len(t, sols.Solutions, 1)
	assert.Equal(t, "C1", sols.Solutions[0].ChallengeID)
	assert.Equal(t, "n1", sols.Solutions[0].Nonce)
	assert.Equal(t, "W1", sols.Solutions[0].WorkerID)
}

func TestRecordSolutionSeparateChallenges(t *testing.T) {
	store := objectstore.NewMemoryStore()
	l := NewSolutionsLedger(store, nil, "W1", clock.New())
	ctx := context.Background()

	require.NoError(t, l.RecordSolution(ctx, "addr1", "C1", "n1"))
	require.NoError(t, l.RecordSolution(ctx, "addr1", "C2", "n2"))

	sols, err := l.Load(ctx, "addr1")
	require.NoError(t, err)
	assert.Len(t, sols.Solutions, 2)
}

func TestHasSolution(t *testing.T) {
	store := objectstore.NewMemoryStore()
	l := NewSolutionsLedger(store, nil, "W1", clock.New())
	ctx := context.Background()

	has, err := l.HasSolution(ctx, "addr1", "C1")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, l.RecordSolution(ctx, "addr1", "C1", "n1"))

	has, err = l.HasSolution(ctx, "addr1", "C1")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = l.HasSolution(ctx, "addr1", "C2")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestHasSolutionUsesIndex(t *testing.T) {
	store := objectstore.NewMemoryStore()
	l := NewSolutionsLedger(store, newTestIndex(t), "W1", clock.New())
	ctx := context.Background()

	require.NoError(t, l.RecordSolution(ctx, "addr1", "C1", "n1"))
	reads := store.GetCount[objectstore.SolutionsKey("addr1")]

	has, err := l.HasSolution(ctx, "addr1", "C1")
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, reads, store.GetCount[objectstore.SolutionsKey("addr1")],
		"indexed lookups should not hit the store")
}

func TestWarmIndex(t *testing.T) {
	store := objectstore.NewMemoryStore()
	ctx := context.Background()

	// Another worker recorded solutions earlier.
	writer := NewSolutionsLedger(store, nil, "W0", clock.New())
	require.NoError(t, writer.RecordSolution(ctx, "addr1", "C1", "n1"))
	require.NoError(t, writer.RecordSolution(ctx, "addr2", "C1", "n2"))

	idx := newTestIndex(t)
	l := NewSolutionsLedger(store, idx, "W1", clock.New())
	require.NoError(t, l.WarmIndex(ctx, []string{"addr1", "addr2", "addr3"}))

	for _, addr := range []string{"addr1", "addr2"} {
		solved, err := idx.IsSolved(addr, "C1")
		require.NoError(t, err)
		assert.True(t, solved, addr)
	}
	solved, err := idx.IsSolved("addr3", "C1")
	require.NoError(t, err)
	assert.False(t, solved)
}

func TestLoadCorruptFile(t *testing.T) {
	store := objectstore.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), objectstore.SolutionsKey("addr1"), []byte("{broken"), nil))

	l := NewSolutionsLedger(store, nil, "W1", clock.New())
	_, err := l.Load(context.Background(), "addr1")
	assert.Error(t, err)
}

func TestSolutionsFileLayout(t *testing.T) {
	store := objectstore.NewMemoryStore()
	l := NewSolutionsLedger(store, nil, "W1", clock.New())
	ctx := context.Background()
	require.NoError(t, l.RecordSolution(ctx, "addr1", "C1", "n1"))

	obj, err := store.Get(ctx, "solutions/addr1.json")
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(obj.Data, &raw))
	assert.Contains(t, raw, "address")
	assert.Contains(t, raw, "solutions")
	assert.Contains(t, raw, "lastUpdated")
}

func TestLocalIndexRoundTrip(t *testing.T) {
	idx := newTestIndex(t)

	solved, err := idx.IsSolved("a", "c")
	require.NoError(t, err)
	assert.False(t, solved)

	require.NoError(t, idx.MarkSolved("a", "c"))
	solved, err = idx.IsSolved("a", "c")
	require.NoError(t, err)
	assert.True(t, solved)
}
