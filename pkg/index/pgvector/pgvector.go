// Package pgvector adapts the VectorIndex contract to PostgreSQL with
// the pgvector extension. Native database errors are translated into the
// shared error taxonomy so callers never branch on backend identity.
package pgvector

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agenttown/recall/pkg/errors"
	"github.com/agenttown/recall/pkg/index"
	"github.com/agenttown/recall/pkg/log"
)

// pgUniqueViolation is the PostgreSQL error code for unique_violation.
const pgUniqueViolation = "23505"

// Config contains the configuration for the pgvector adapter.
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// TableName is the name of the table to use
	TableName string

	// Dimensions is the size of vector embeddings
	Dimensions int
}

// Adapter implements index.VectorIndex on PostgreSQL with pgvector.
type Adapter struct {
	db        *pgxpool.Pool
	tableName string
	dims      int
}

// New connects to PostgreSQL, verifies the connection, and bootstraps the
// table and indexes. The ctx deadline bounds the whole probe, which is
// how the backend selector keeps startup fast when the database is down.
func New(ctx context.Context, config Config) (*Adapter, error) {
	if config.ConnectionString == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "connection string cannot be empty")
	}
	if config.TableName == "" {
		config.TableName = "agent_memories"
	}
	if config.Dimensions <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "dimensions must be positive")
	}

	db, err := pgxpool.New(ctx, config.ConnectionString)
	if err != nil {
		return nil, errors.Wrap(errors.ErrIndexUnavailable, "failed to connect to PostgreSQL")
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.ErrIndexUnavailable, "failed to ping PostgreSQL")
	}

	a := &Adapter{
		db:        db,
		tableName: config.TableName,
		dims:      config.Dimensions,
	}

	if err := a.initializeTable(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize pgvector table")
	}

	return a, nil
}

// initializeTable creates the table and indexes if they don't exist.
func (a *Adapter) initializeTable(ctx context.Context) error {
	var extensionExists bool
	err := a.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&extensionExists)
	if err != nil {
		return fmt.Errorf("failed to check for pgvector extension: %w", err)
	}

	if !extensionExists {
		if _, err := a.db.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			return fmt.Errorf("failed to create pgvector extension: %w", err)
		}
		log.Info("Created pgvector extension")
	}

	_, err = a.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL
		)
	`, a.tableName, a.dims))
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	indices := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_namespace_idx ON %s (namespace)", a.tableName, a.tableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_created_at_idx ON %s (created_at)", a.tableName, a.tableName),
		// Cosine is the only metric served through this adapter
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)", a.tableName, a.tableName),
	}
	for _, sql := range indices {
		if _, err := a.db.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// Insert implements index.VectorIndex.
func (a *Adapter) Insert(ctx context.Context, ns string, entry index.Entry) error {
	if ns == "" || entry.ID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "namespace and id are required")
	}
	if len(entry.Vector) != a.dims {
		return errors.Wrap(errors.ErrDimensionMismatch, "got %d, expected %d", len(entry.Vector), a.dims)
	}

	createdAt := entry.Payload.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := a.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, namespace, content, metadata, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5::vector, $6)
	`, a.tableName),
		entry.ID,
		ns,
		entry.Payload.Text,
		entry.Payload.Metadata,
		vectorToString(entry.Vector),
		createdAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return errors.Wrap(errors.ErrDuplicateID, "id %s", entry.ID)
		}
		return wrapBackendError(err, "failed to insert record")
	}

	log.DebugContext(ctx, "Inserted record into pgvector",
		"id", entry.ID,
		"namespace", ns,
		"table", a.tableName)
	return nil
}

// Search implements index.VectorIndex. Ranking happens in SQL: cosine
// distance ascending, then created_at descending and id ascending for
// the deterministic tie-break shared with the exact engine.
func (a *Adapter) Search(ctx context.Context, ns string, vector []float32, k int, opts index.SearchOptions) ([]index.Match, error) {
	if ns == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "namespace is required")
	}
	if k <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "k must be positive")
	}
	if len(vector) != a.dims {
		return nil, errors.Wrap(errors.ErrDimensionMismatch, "got %d, expected %d", len(vector), a.dims)
	}

	args := []interface{}{ns, vectorToString(vector)}
	conditions := []string{"namespace = $1"}

	for key, value := range opts.Filters {
		args = append(args, fmt.Sprintf("%v", value))
		conditions = append(conditions, fmt.Sprintf("metadata->>'%s' = $%d", key, len(args)))
	}

	// pgvector's <=> is cosine distance; similarity = 1 - distance
	sqlQuery := fmt.Sprintf(`
		SELECT id, content, metadata, embedding, created_at, 1 - (embedding <=> $2) AS score
		FROM %s
		WHERE %s AND 1 - (embedding <=> $2) >= %s
		ORDER BY embedding <=> $2 ASC, created_at DESC, id ASC
		LIMIT %d
	`, a.tableName, strings.Join(conditions, " AND "), formatFloat(opts.MinScore), k)

	rows, err := a.db.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, wrapBackendError(err, "failed to search namespace %s", ns)
	}
	defer rows.Close()

	var matches []index.Match
	for rows.Next() {
		var (
			m            index.Match
			embeddingStr string
		)
		err := rows.Scan(&m.ID, &m.Payload.Text, &m.Payload.Metadata, &embeddingStr, &m.Payload.CreatedAt, &m.Score)
		if err != nil {
			return nil, wrapBackendError(err, "failed to scan row")
		}
		m.Vector = stringToVector(embeddingStr)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapBackendError(err, "error iterating rows")
	}

	if matches == nil {
		matches = []index.Match{}
	}
	return matches, nil
}

// Get implements index.VectorIndex.
func (a *Adapter) Get(ctx context.Context, ns, id string) (index.Entry, error) {
	var (
		entry        index.Entry
		embeddingStr string
	)
	err := a.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, content, metadata, embedding, created_at
		FROM %s
		WHERE namespace = $1 AND id = $2
	`, a.tableName), ns, id).Scan(&entry.ID, &entry.Payload.Text, &entry.Payload.Metadata, &embeddingStr, &entry.Payload.CreatedAt)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return index.Entry{}, errors.Wrap(errors.ErrNotFound, "id %s", id)
		}
		return index.Entry{}, wrapBackendError(err, "failed to get record %s", id)
	}

	entry.Vector = stringToVector(embeddingStr)
	return entry, nil
}

// Delete implements index.VectorIndex.
func (a *Adapter) Delete(ctx context.Context, ns, id string) error {
	result, err := a.db.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE namespace = $1 AND id = $2
	`, a.tableName), ns, id)
	if err != nil {
		return wrapBackendError(err, "failed to delete record %s", id)
	}
	if result.RowsAffected() == 0 {
		return errors.Wrap(errors.ErrNotFound, "id %s", id)
	}

	log.DebugContext(ctx, "Deleted record from pgvector", "id", id, "namespace", ns)
	return nil
}

// List implements index.VectorIndex.
func (a *Adapter) List(ctx context.Context, ns string) ([]string, error) {
	rows, err := a.db.Query(ctx, fmt.Sprintf(`
		SELECT id FROM %s WHERE namespace = $1 ORDER BY id
	`, a.tableName), ns)
	if err != nil {
		return nil, wrapBackendError(err, "failed to list namespace %s", ns)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapBackendError(err, "failed to scan id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapBackendError(err, "error iterating rows")
	}
	return ids, nil
}

// Clear implements index.VectorIndex.
func (a *Adapter) Clear(ctx context.Context, ns string) (int, error) {
	result, err := a.db.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE namespace = $1
	`, a.tableName), ns)
	if err != nil {
		return 0, wrapBackendError(err, "failed to clear namespace %s", ns)
	}
	return int(result.RowsAffected()), nil
}

// Namespaces implements index.VectorIndex.
func (a *Adapter) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := a.db.Query(ctx, fmt.Sprintf(`
		SELECT DISTINCT namespace FROM %s ORDER BY namespace
	`, a.tableName))
	if err != nil {
		return nil, wrapBackendError(err, "failed to list namespaces")
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapBackendError(err, "failed to scan namespace")
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapBackendError(err, "error iterating rows")
	}
	return names, nil
}

// UpdateMetadata implements index.MetadataUpdater.
func (a *Adapter) UpdateMetadata(ctx context.Context, ns, id string, metadata map[string]interface{}) error {
	result, err := a.db.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET metadata = $3 WHERE namespace = $1 AND id = $2
	`, a.tableName), ns, id, metadata)
	if err != nil {
		return wrapBackendError(err, "failed to update metadata for %s", id)
	}
	if result.RowsAffected() == 0 {
		return errors.Wrap(errors.ErrNotFound, "id %s", id)
	}
	return nil
}

// Ping implements index.VectorIndex.
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.db.Ping(ctx); err != nil {
		return errors.Wrap(errors.ErrIndexUnavailable, "ping failed")
	}
	return nil
}

// Close implements index.VectorIndex.
func (a *Adapter) Close() error {
	a.db.Close()
	return nil
}

// wrapBackendError folds any non-taxonomy database error into
// ErrIndexUnavailable while keeping the underlying detail in the chain.
func wrapBackendError(err error, format string, args ...interface{}) error {
	return errors.Wrap(fmt.Errorf("%w: %v", errors.ErrIndexUnavailable, err), format, args...)
}

// vectorToString renders a []float32 in pgvector's text format.
func vectorToString(vector []float32) string {
	elements := make([]string, len(vector))
	for i, v := range vector {
		elements[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(elements, ",") + "]"
}

// stringToVector parses pgvector's text format back into a []float32.
func stringToVector(s string) []float32 {
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil
	}

	elements := strings.Split(s, ",")
	vector := make([]float32, len(elements))
	for i, element := range elements {
		val, err := strconv.ParseFloat(strings.TrimSpace(element), 32)
		if err != nil {
			log.Error("Failed to parse embedding element", "error", err, "element", element)
			val = 0
		}
		vector[i] = float32(val)
	}
	return vector
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
