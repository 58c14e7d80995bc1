package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenttown/recall/pkg/embed"
	"github.com/agenttown/recall/pkg/errors"
	"github.com/agenttown/recall/pkg/index"
	"github.com/agenttown/recall/pkg/log"
	"github.com/agenttown/recall/pkg/scripting"
)

// DefaultQueryLimit is the number of matches returned when the caller
// does not specify one.
const DefaultQueryLimit = 3

// QueryOptions narrows a similarity query.
type QueryOptions struct {
	// Limit caps the number of results; 0 means DefaultQueryLimit
	Limit int

	// MinScore drops matches below the threshold
	MinScore float64

	// Filters are metadata equality constraints
	Filters map[string]interface{}
}

// Manager coordinates the embedder and the vector index. The index can
// be swapped at runtime when the backend selector changes its decision;
// in-flight operations finish on the index they started with.
type Manager struct {
	embedder embed.Embedder
	engine   scripting.Engine

	indexMu sync.RWMutex
	idx     index.VectorIndex
}

// NewManager creates a memory manager. The scripting engine is optional;
// pass nil to disable lifecycle hooks.
func NewManager(embedder embed.Embedder, idx index.VectorIndex, engine scripting.Engine) *Manager {
	return &Manager{
		embedder: embedder,
		engine:   engine,
		idx:      idx,
	}
}

// Index returns the vector index currently in use.
func (m *Manager) Index() index.VectorIndex {
	m.indexMu.RLock()
	defer m.indexMu.RUnlock()
	return m.idx
}

// SetIndex swaps the vector index, used when backend selection changes.
func (m *Manager) SetIndex(idx index.VectorIndex) {
	m.indexMu.Lock()
	defer m.indexMu.Unlock()
	m.idx = idx
}

// Store embeds text and persists it as a new memory for the agent. The
// record either lands fully in the index or not at all: an embedding or
// index failure leaves no partial state behind.
func (m *Manager) Store(ctx context.Context, agentID, text string, metadata map[string]interface{}) (Record, error) {
	if strings.TrimSpace(agentID) == "" {
		return Record{}, errors.Wrap(errors.ErrInvalidInput, "agent id cannot be empty")
	}
	if strings.TrimSpace(text) == "" {
		return Record{}, errors.Wrap(errors.ErrInvalidInput, "memory text cannot be empty")
	}

	// Copy so hook enrichment and stamping never mutate the caller's map
	stamped := make(map[string]interface{}, len(metadata)+3)
	for key, value := range metadata {
		stamped[key] = value
	}

	stamped, vetoed := callBeforeStoreHook(ctx, m.engine, agentID, text, stamped)
	if vetoed {
		return Record{}, errors.Wrap(errors.ErrInvalidInput, "memory rejected by before_store hook")
	}

	memoryID := uuid.New().String()
	createdAt := time.Now().UTC()
	stamped["timestamp"] = createdAt.Format(time.RFC3339)
	stamped["agent_id"] = agentID
	stamped["memory_id"] = memoryID

	vector, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return Record{}, err
	}

	entry := index.Entry{
		ID:     memoryID,
		Vector: vector,
		Payload: index.Payload{
			Text:      text,
			Metadata:  stamped,
			CreatedAt: createdAt,
		},
	}

	if err := m.Index().Insert(ctx, agentID, entry); err != nil {
		return Record{}, err
	}

	log.InfoContext(ctx, "Stored memory", "agent_id", agentID, "memory_id", memoryID)

	return Record{
		ID:        memoryID,
		AgentID:   agentID,
		Text:      text,
		Metadata:  stamped,
		CreatedAt: createdAt,
	}, nil
}

// Query returns the memories most similar to the query text, best first.
func (m *Manager) Query(ctx context.Context, agentID, query string, opts QueryOptions) ([]Record, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "agent id cannot be empty")
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "query text cannot be empty")
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultQueryLimit
	}

	vector, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := m.Index().Search(ctx, agentID, vector, opts.Limit, index.SearchOptions{
		Filters:  opts.Filters,
		MinScore: opts.MinScore,
	})
	if err != nil {
		return nil, err
	}

	records := make([]Record, len(matches))
	for i, match := range matches {
		records[i] = recordFromEntry(agentID, match.Entry)
		records[i].Score = match.Score
	}

	return callAfterQueryHook(ctx, m.engine, records), nil
}

// Get returns a single memory by id.
func (m *Manager) Get(ctx context.Context, agentID, memoryID string) (Record, error) {
	entry, err := m.Index().Get(ctx, agentID, memoryID)
	if err != nil {
		return Record{}, err
	}
	return recordFromEntry(agentID, entry), nil
}

// List returns all memories of an agent, ordered by id.
func (m *Manager) List(ctx context.Context, agentID string) ([]Record, error) {
	idx := m.Index()

	ids, err := idx.List(ctx, agentID)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		entry, err := idx.Get(ctx, agentID, id)
		if err != nil {
			// Deleted between List and Get; skip rather than fail the listing
			if errors.Is(err, errors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, recordFromEntry(agentID, entry))
	}

	return records, nil
}

// Delete removes a single memory. Deleting an unknown id returns
// ErrNotFound.
func (m *Manager) Delete(ctx context.Context, agentID, memoryID string) error {
	if err := m.Index().Delete(ctx, agentID, memoryID); err != nil {
		return err
	}
	log.InfoContext(ctx, "Deleted memory", "agent_id", agentID, "memory_id", memoryID)
	return nil
}

// Clear removes every memory of an agent and reports how many were
// removed.
func (m *Manager) Clear(ctx context.Context, agentID string) (int, error) {
	count, err := m.Index().Clear(ctx, agentID)
	if err != nil {
		return 0, err
	}
	log.InfoContext(ctx, "Cleared agent memories", "agent_id", agentID, "count", count)
	return count, nil
}

// ListAgents returns the agents that currently hold at least one memory.
func (m *Manager) ListAgents(ctx context.Context) ([]string, error) {
	return m.Index().Namespaces(ctx)
}

// UpdateMetadata replaces a memory's metadata. The text, embedding and
// creation time are immutable.
func (m *Manager) UpdateMetadata(ctx context.Context, agentID, memoryID string, metadata map[string]interface{}) (Record, error) {
	idx := m.Index()

	updater, ok := idx.(index.MetadataUpdater)
	if !ok {
		return Record{}, errors.Wrap(errors.ErrInvalidInput, "index backend does not support metadata updates")
	}

	// Re-stamp the immutable identity fields so an update cannot detach
	// a record from its agent or id
	current, err := idx.Get(ctx, agentID, memoryID)
	if err != nil {
		return Record{}, err
	}

	updated := make(map[string]interface{}, len(metadata)+3)
	for key, value := range metadata {
		updated[key] = value
	}
	if ts, ok := current.Payload.Metadata["timestamp"]; ok {
		updated["timestamp"] = ts
	}
	updated["agent_id"] = agentID
	updated["memory_id"] = memoryID

	if err := updater.UpdateMetadata(ctx, agentID, memoryID, updated); err != nil {
		return Record{}, err
	}

	entry, err := idx.Get(ctx, agentID, memoryID)
	if err != nil {
		return Record{}, err
	}
	return recordFromEntry(agentID, entry), nil
}

// Ping reports whether the underlying index is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.Index().Ping(ctx)
}

// Close releases the underlying index.
func (m *Manager) Close() error {
	return m.Index().Close()
}

func recordFromEntry(agentID string, entry index.Entry) Record {
	return Record{
		ID:        entry.ID,
		AgentID:   agentID,
		Text:      entry.Payload.Text,
		Metadata:  entry.Payload.Metadata,
		CreatedAt: entry.Payload.CreatedAt,
	}
}
