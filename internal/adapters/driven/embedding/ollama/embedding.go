// Package ollama embeds documents with a local Ollama server.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/queryindex/internal/adapters/driven/embedding/httpjson"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
)

var _ driven.EmbeddingService = (*EmbeddingService)(nil)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "nomic-embed-text"
	DefaultTimeout = 30 * time.Second
)

// Config selects the server and model. Zero fields take the defaults.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// EmbeddingService calls /api/embed. The vector size is learned from the
// first response.
type EmbeddingService struct {
	api        *httpjson.Client
	model      string
	dimensions atomic.Int64
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func NewEmbeddingService(cfg Config) *EmbeddingService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	api := httpjson.New("ollama", cfg.BaseURL, cfg.Timeout)
	api.Message = func(body []byte) string {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		return e.Error
	}
	return &EmbeddingService{api: api, model: cfg.Model}
}

// Embed returns the vector for text. An unknown model is a 404 and so wraps
// domain.ErrEmbeddingUnavailable.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	var out embedResponse
	if err := s.api.Do(ctx, http.MethodPost, "/api/embed", embedRequest{Model: s.model, Input: text}, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama: empty embedding for model %s", s.model)
	}

	vec := httpjson.Float32(out.Embeddings[0])
	s.dimensions.CompareAndSwap(0, int64(len(vec)))
	return vec, nil
}

// Dimensions is 0 until the first successful Embed.
func (s *EmbeddingService) Dimensions() int {
	return int(s.dimensions.Load())
}

func (s *EmbeddingService) ModelName() string {
	return s.model
}

// Ping lists local models, which answers without loading one.
func (s *EmbeddingService) Ping(ctx context.Context) error {
	return s.api.Do(ctx, http.MethodGet, "/api/tags", nil, nil)
}

func (s *EmbeddingService) Close() error {
	s.api.Close()
	return nil
}
