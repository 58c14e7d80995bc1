// Package recall wires the embedding gateway, backend selector and
// memory manager into a single client, the library entry point for
// embedding callers and for the recalld server.
package recall

import (
	"context"

	"github.com/agenttown/recall/pkg/config"
	"github.com/agenttown/recall/pkg/embed"
	"github.com/agenttown/recall/pkg/embed/adapters/mock"
	"github.com/agenttown/recall/pkg/embed/adapters/openai"
	"github.com/agenttown/recall/pkg/errors"
	"github.com/agenttown/recall/pkg/log"
	"github.com/agenttown/recall/pkg/memory"
	"github.com/agenttown/recall/pkg/scripting"
)

// Client is the assembled memory subsystem.
type Client struct {
	*memory.Manager

	selector *Selector
	engine   scripting.Engine
}

// NewFromConfig assembles a Client from configuration: embedding
// provider behind the gateway, backend selection, optional Lua hooks.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Client, error) {
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	gateway, err := embed.NewGateway(embedder, embed.Options{
		CacheEntries: cfg.Embedding.CacheEntries,
		MaxAttempts:  cfg.Embedding.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	selector, err := NewSelector(ctx, cfg.Index)
	if err != nil {
		return nil, err
	}

	var engine scripting.Engine
	if cfg.Scripting.Enabled {
		luaEngine, err := scripting.NewLuaEngine(scripting.DefaultConfig())
		if err != nil {
			selector.Close()
			return nil, err
		}
		for _, dir := range cfg.Scripting.Paths {
			if err := luaEngine.LoadScriptDir(dir); err != nil {
				luaEngine.Close()
				selector.Close()
				return nil, err
			}
		}
		engine = luaEngine
	}

	return &Client{
		Manager:  memory.NewManager(gateway, selector.Index(), engine),
		selector: selector,
		engine:   engine,
	}, nil
}

// Mode reports which index backend is serving traffic.
func (c *Client) Mode() Mode {
	return c.selector.Mode()
}

// Degraded reports whether the client wanted pgvector but is running on
// the in-process engine.
func (c *Client) Degraded() bool {
	return c.selector.Degraded()
}

// Reprobe re-runs backend selection and points the manager at the new
// backend if it changed.
func (c *Client) Reprobe(ctx context.Context) (Mode, error) {
	mode, err := c.selector.Reprobe(ctx)
	c.Manager.SetIndex(c.selector.Index())
	return mode, err
}

// Close shuts down the hook engine and both index backends.
func (c *Client) Close() error {
	if c.engine != nil {
		if err := c.engine.Close(); err != nil {
			log.Warn("Failed to close scripting engine", "error", err)
		}
	}
	return c.selector.Close()
}

func newEmbedder(cfg *config.Config) (embed.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		return openai.New(openai.Config{
			APIKey:     cfg.Embedding.OpenAI.APIKey,
			Model:      cfg.Embedding.OpenAI.Model,
			BaseURL:    cfg.Embedding.OpenAI.BaseURL,
			Dimensions: cfg.Embedding.OpenAI.Dimensions,
		})
	case "mock", "":
		return mock.NewWithDimensions(cfg.Index.Dimensions), nil
	default:
		return nil, errors.Wrap(errors.ErrInvalidInput, "unsupported embedding provider: %s", cfg.Embedding.Provider)
	}
}
