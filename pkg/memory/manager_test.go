package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	recallerrors "github.com/agenttown/recall/pkg/errors"
	"github.com/agenttown/recall/pkg/index/exact"
	"github.com/agenttown/recall/pkg/scripting"
)

// fixedEmbedder maps known texts to fixed vectors so similarity
// ordering in tests is fully deterministic.
type fixedEmbedder struct {
	vectors map[string][]float32
	fail    bool
}

func (f *fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedder down")
	}
	if vector, ok := f.vectors[text]; ok {
		return vector, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (f *fixedEmbedder) Dimensions() int { return 3 }

func newTestManager(t *testing.T, embedder *fixedEmbedder) *Manager {
	t.Helper()
	idx, err := exact.New(exact.Options{Dimensions: 3})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return NewManager(embedder, idx, nil)
}

func TestManager_StoreStampsMetadata(t *testing.T) {
	mgr := newTestManager(t, &fixedEmbedder{})
	ctx := context.Background()

	supplied := map[string]interface{}{"kind": "observation"}
	record, err := mgr.Store(ctx, "agent-1", "saw a red door", supplied)
	require.NoError(t, err)

	assert.NotEmpty(t, record.ID)
	assert.Equal(t, "agent-1", record.AgentID)
	assert.Equal(t, "saw a red door", record.Text)
	assert.Equal(t, "observation", record.Metadata["kind"])
	assert.Equal(t, "agent-1", record.Metadata["agent_id"])
	assert.Equal(t, record.ID, record.Metadata["memory_id"])
	assert.NotEmpty(t, record.Metadata["timestamp"])
	assert.False(t, record.CreatedAt.IsZero())

	// The caller's map must not pick up the stamped fields
	assert.NotContains(t, supplied, "memory_id")
}

func TestManager_StoreValidation(t *testing.T) {
	mgr := newTestManager(t, &fixedEmbedder{})
	ctx := context.Background()

	_, err := mgr.Store(ctx, "", "text", nil)
	assert.ErrorIs(t, err, recallerrors.ErrInvalidInput)

	_, err = mgr.Store(ctx, "agent-1", "   ", nil)
	assert.ErrorIs(t, err, recallerrors.ErrInvalidInput)
}

func TestManager_StoreEmbedderFailureLeavesNoRecord(t *testing.T) {
	embedder := &fixedEmbedder{fail: true}
	mgr := newTestManager(t, embedder)
	ctx := context.Background()

	_, err := mgr.Store(ctx, "agent-1", "doomed memory", nil)
	require.Error(t, err)

	embedder.fail = false
	records, err := mgr.List(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestManager_QueryOrdering(t *testing.T) {
	embedder := &fixedEmbedder{vectors: map[string][]float32{
		"the query":  {1, 0, 0},
		"closest":    {0.95, 0.05, 0},
		"close":      {0.7, 0.3, 0},
		"unrelated":  {0, 1, 0},
		"orthogonal": {0, 0, 1},
	}}
	mgr := newTestManager(t, embedder)
	ctx := context.Background()

	for _, text := range []string{"unrelated", "close", "closest", "orthogonal"} {
		_, err := mgr.Store(ctx, "agent-1", text, nil)
		require.NoError(t, err)
	}

	records, err := mgr.Query(ctx, "agent-1", "the query", QueryOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "closest", records[0].Text)
	assert.Equal(t, "close", records[1].Text)
	assert.Greater(t, records[0].Score, records[1].Score)
}

func TestManager_QueryDefaultLimit(t *testing.T) {
	embedder := &fixedEmbedder{vectors: map[string][]float32{
		"q": {1, 0, 0},
		"a": {0.9, 0.1, 0},
		"b": {0.8, 0.2, 0},
		"c": {0.7, 0.3, 0},
		"d": {0.6, 0.4, 0},
		"e": {0.5, 0.5, 0},
	}}
	mgr := newTestManager(t, embedder)
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c", "d", "e"} {
		_, err := mgr.Store(ctx, "agent-1", text, nil)
		require.NoError(t, err)
	}

	records, err := mgr.Query(ctx, "agent-1", "q", QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, records, DefaultQueryLimit)
}

func TestManager_QueryMinScore(t *testing.T) {
	embedder := &fixedEmbedder{vectors: map[string][]float32{
		"q":    {1, 0, 0},
		"near": {0.9, 0.1, 0},
		"far":  {0.1, 0.9, 0},
	}}
	mgr := newTestManager(t, embedder)
	ctx := context.Background()

	for _, text := range []string{"near", "far"} {
		_, err := mgr.Store(ctx, "agent-1", text, nil)
		require.NoError(t, err)
	}

	records, err := mgr.Query(ctx, "agent-1", "q", QueryOptions{Limit: 10, MinScore: 0.6})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "near", records[0].Text)
}

func TestManager_AgentIsolation(t *testing.T) {
	mgr := newTestManager(t, &fixedEmbedder{vectors: map[string][]float32{
		"q": {0, 0, 1},
	}})
	ctx := context.Background()

	_, err := mgr.Store(ctx, "agent-1", "alpha secret", nil)
	require.NoError(t, err)
	_, err = mgr.Store(ctx, "agent-2", "beta secret", nil)
	require.NoError(t, err)

	records, err := mgr.Query(ctx, "agent-1", "q", QueryOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "alpha secret", records[0].Text)

	agents, err := mgr.ListAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-1", "agent-2"}, agents)
}

func TestManager_GetAndDelete(t *testing.T) {
	mgr := newTestManager(t, &fixedEmbedder{})
	ctx := context.Background()

	stored, err := mgr.Store(ctx, "agent-1", "ephemeral", nil)
	require.NoError(t, err)

	got, err := mgr.Get(ctx, "agent-1", stored.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.Text, got.Text)

	require.NoError(t, mgr.Delete(ctx, "agent-1", stored.ID))

	_, err = mgr.Get(ctx, "agent-1", stored.ID)
	assert.ErrorIs(t, err, recallerrors.ErrNotFound)

	err = mgr.Delete(ctx, "agent-1", stored.ID)
	assert.ErrorIs(t, err, recallerrors.ErrNotFound)
}

func TestManager_Clear(t *testing.T) {
	mgr := newTestManager(t, &fixedEmbedder{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := mgr.Store(ctx, "agent-1", "memory", nil)
		require.NoError(t, err)
	}

	count, err := mgr.Clear(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	records, err := mgr.List(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestManager_UpdateMetadata(t *testing.T) {
	mgr := newTestManager(t, &fixedEmbedder{})
	ctx := context.Background()

	stored, err := mgr.Store(ctx, "agent-1", "mutable tags", map[string]interface{}{"tag": "old"})
	require.NoError(t, err)

	updated, err := mgr.UpdateMetadata(ctx, "agent-1", stored.ID, map[string]interface{}{"tag": "new"})
	require.NoError(t, err)

	assert.Equal(t, "new", updated.Metadata["tag"])
	// Identity and provenance fields survive the replacement
	assert.Equal(t, "agent-1", updated.Metadata["agent_id"])
	assert.Equal(t, stored.ID, updated.Metadata["memory_id"])
	assert.Equal(t, stored.Metadata["timestamp"], updated.Metadata["timestamp"])
	assert.Equal(t, "mutable tags", updated.Text)
}

func TestManager_BeforeStoreHook(t *testing.T) {
	engine, err := scripting.NewLuaEngine(scripting.DefaultConfig())
	require.NoError(t, err)
	defer engine.Close()

	require.NoError(t, engine.LoadScript("hooks", []byte(`
		function before_store(memory)
			if memory.text == "forbidden" then
				return false
			end
			memory.metadata.reviewed = true
			return memory
		end
	`)))

	idx, err := exact.New(exact.Options{Dimensions: 3})
	require.NoError(t, err)
	defer idx.Close()

	mgr := NewManager(&fixedEmbedder{}, idx, engine)
	ctx := context.Background()

	record, err := mgr.Store(ctx, "agent-1", "allowed", nil)
	require.NoError(t, err)
	assert.Equal(t, true, record.Metadata["reviewed"])

	_, err = mgr.Store(ctx, "agent-1", "forbidden", nil)
	assert.ErrorIs(t, err, recallerrors.ErrInvalidInput)
}

func TestManager_AfterQueryHook(t *testing.T) {
	engine, err := scripting.NewLuaEngine(scripting.DefaultConfig())
	require.NoError(t, err)
	defer engine.Close()

	require.NoError(t, engine.LoadScript("hooks", []byte(`
		function after_query(results)
			local kept = {}
			for _, result in ipairs(results) do
				if result.text ~= "noise" then
					table.insert(kept, result)
				end
			end
			return kept
		end
	`)))

	idx, err := exact.New(exact.Options{Dimensions: 3})
	require.NoError(t, err)
	defer idx.Close()

	embedder := &fixedEmbedder{vectors: map[string][]float32{
		"q":      {1, 0, 0},
		"signal": {0.9, 0.1, 0},
		"noise":  {0.95, 0.05, 0},
	}}
	mgr := NewManager(embedder, idx, engine)
	ctx := context.Background()

	_, err = mgr.Store(ctx, "agent-1", "signal", nil)
	require.NoError(t, err)
	_, err = mgr.Store(ctx, "agent-1", "noise", nil)
	require.NoError(t, err)

	records, err := mgr.Query(ctx, "agent-1", "q", QueryOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "signal", records[0].Text)
}

func TestFormatForPrompt(t *testing.T) {
	assert.Equal(t,
		"You have no specific memories relevant to this situation.",
		FormatForPrompt(nil))

	records := []Record{
		{Text: "met the blacksmith", Metadata: map[string]interface{}{
			"timestamp": "2026-08-30T14:30:00Z",
		}},
		{Text: "lost the map"},
	}

	formatted := FormatForPrompt(records)
	assert.Contains(t, formatted, "RELEVANT MEMORIES:\n")
	assert.Contains(t, formatted, "1. met the blacksmith (from August 30, 2026 at 14:30)")
	assert.Contains(t, formatted, "2. lost the map (from unknown time)")
}
