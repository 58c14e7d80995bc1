// Package openai adapts the OpenAI embeddings API to the embed.Embedder
// interface.
package openai

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"

	"github.com/agenttown/recall/pkg/log"
)

var (
	// ErrEmptyAPIKey is returned when the API key is missing.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")
)

// Config holds the configuration for the OpenAI adapter.
type Config struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the embedding model, e.g. "text-embedding-3-small".
	Model string
	// BaseURL is the base URL for the OpenAI API (proxies, testing).
	BaseURL string
	// Dimensions is the vector size the model produces.
	Dimensions int
}

// Embedder implements embed.Embedder using the OpenAI API.
type Embedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// New creates a new OpenAI embedder.
func New(config Config) (*Embedder, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}
	if config.Dimensions <= 0 {
		config.Dimensions = 1536
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &Embedder{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      config.Model,
		dimensions: config.Dimensions,
	}, nil
}

// Embed implements embed.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch implements embed.Embedder.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	log.DebugContext(ctx, "Generating embeddings", "count", len(texts), "model", e.model)

	response, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to generate embeddings", "error", err, "model", e.model)
		return nil, err
	}

	if len(response.Data) != len(texts) {
		return nil, errors.New("embedding response count does not match input count")
	}

	vectors := make([][]float32, len(response.Data))
	for i, data := range response.Data {
		vectors[i] = data.Embedding
	}

	return vectors, nil
}

// Dimensions implements embed.Embedder.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}
