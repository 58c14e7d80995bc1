package recall

import (
	"context"
	"sync"
	"time"

	"github.com/agenttown/recall/pkg/config"
	"github.com/agenttown/recall/pkg/index"
	"github.com/agenttown/recall/pkg/index/exact"
	"github.com/agenttown/recall/pkg/index/pgvector"
	"github.com/agenttown/recall/pkg/log"
)

// Mode identifies which index backend is serving traffic.
type Mode string

const (
	// ModePrimary means the external pgvector backend is active
	ModePrimary Mode = "primary"

	// ModeFallback means the in-process engine is active
	ModeFallback Mode = "fallback"
)

// Selector decides between the external pgvector backend and the
// in-process engine. Selection happens once at startup; it never flips
// mid-flight on its own. Reprobe re-runs the decision on demand.
//
// Memories written while on the fallback stay in the fallback; a later
// switch to primary does not migrate them.
type Selector struct {
	cfg config.IndexConfig

	mu       sync.RWMutex
	mode     Mode
	active   index.VectorIndex
	fallback index.VectorIndex
}

// NewSelector builds the fallback engine, probes the primary if one is
// configured, and picks the starting backend. A dead primary is not an
// error; the selector degrades to the fallback and says so in the log.
func NewSelector(ctx context.Context, cfg config.IndexConfig) (*Selector, error) {
	fallback, err := exact.New(exact.Options{
		Dimensions:   cfg.Dimensions,
		SnapshotPath: cfg.Snapshot.Path,
	})
	if err != nil {
		return nil, err
	}

	s := &Selector{
		cfg:      cfg,
		mode:     ModeFallback,
		active:   fallback,
		fallback: fallback,
	}

	if cfg.ForceFallback {
		log.InfoContext(ctx, "Vector backend pinned to in-process engine", "reason", "force_fallback")
		return s, nil
	}
	if cfg.PgVector.ConnectionString == "" {
		log.InfoContext(ctx, "Vector backend set to in-process engine", "reason", "no pgvector connection configured")
		return s, nil
	}

	if primary, err := s.probePrimary(ctx); err != nil {
		log.WarnContext(ctx, "Primary vector backend unreachable, degrading to in-process engine", "error", err)
	} else {
		s.mode = ModePrimary
		s.active = primary
		log.InfoContext(ctx, "Vector backend set to pgvector", "table", s.tableName())
	}

	return s, nil
}

// Mode returns the currently selected backend.
func (s *Selector) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Degraded reports whether the selector wanted the primary backend but
// is running on the fallback. A deployment with no primary configured,
// or one pinned to the fallback, is not degraded.
func (s *Selector) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode == ModeFallback &&
		s.cfg.PgVector.ConnectionString != "" &&
		!s.cfg.ForceFallback
}

// Index returns the active vector index.
func (s *Selector) Index() index.VectorIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Reprobe re-runs backend selection. If the selector is on the fallback
// and the primary has come back, it switches over and reports the new
// mode. It never switches away from a healthy primary.
func (s *Selector) Reprobe(ctx context.Context) (Mode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModePrimary || s.cfg.ForceFallback || s.cfg.PgVector.ConnectionString == "" {
		return s.mode, nil
	}

	primary, err := s.probePrimary(ctx)
	if err != nil {
		log.WarnContext(ctx, "Reprobe found primary vector backend still unreachable", "error", err)
		return s.mode, err
	}

	s.mode = ModePrimary
	s.active = primary
	log.InfoContext(ctx, "Reprobe switched vector backend to pgvector", "table", s.tableName())
	return s.mode, nil
}

// Close releases both backends. The fallback is always closed; the
// primary only when it is the active one.
func (s *Selector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if s.active != s.fallback {
		if err := s.active.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.fallback.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Selector) probePrimary(ctx context.Context) (index.VectorIndex, error) {
	timeout := time.Duration(s.cfg.PgVector.ProbeTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultProbeTimeout) * time.Millisecond
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return pgvector.New(probeCtx, pgvector.Config{
		ConnectionString: s.cfg.PgVector.ConnectionString,
		TableName:        s.tableName(),
		Dimensions:       s.cfg.Dimensions,
	})
}

func (s *Selector) tableName() string {
	if s.cfg.PgVector.TableName != "" {
		return s.cfg.PgVector.TableName
	}
	return config.DefaultTableName
}
