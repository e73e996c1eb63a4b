// Package openai embeds documents with the OpenAI embeddings API or any
// server that speaks it.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/queryindex/internal/adapters/driven/embedding/httpjson"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
)

var _ driven.EmbeddingService = (*EmbeddingService)(nil)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "text-embedding-3-small"
	DefaultTimeout = 60 * time.Second
)

// Output sizes of the hosted models. Other models report 0 until the first
// call.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

var ErrMissingAPIKey = errors.New("openai: API key is required")

type Config struct {
	APIKey string

	// BaseURL can point at Azure OpenAI or a compatible proxy.
	BaseURL string

	Model   string
	Timeout time.Duration
}

// EmbeddingService calls /embeddings with one input per request.
type EmbeddingService struct {
	api        *httpjson.Client
	model      string
	dimensions atomic.Int64
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func NewEmbeddingService(cfg Config) (*EmbeddingService, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	api := httpjson.New("openai", cfg.BaseURL, cfg.Timeout)
	api.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	api.Message = apiMessage

	s := &EmbeddingService{api: api, model: cfg.Model}
	s.dimensions.Store(int64(modelDimensions[cfg.Model]))
	return s, nil
}

// Embed returns the vector for text. A rejected key or model wraps
// domain.ErrEmbeddingUnavailable; rate limits stay transient.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	var out embeddingResponse
	if err := s.api.Do(ctx, http.MethodPost, "/embeddings", embeddingRequest{Model: s.model, Input: text}, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai: empty embedding for model %s", s.model)
	}

	vec := httpjson.Float32(out.Data[0].Embedding)
	s.dimensions.CompareAndSwap(0, int64(len(vec)))
	return vec, nil
}

func (s *EmbeddingService) Dimensions() int {
	return int(s.dimensions.Load())
}

func (s *EmbeddingService) ModelName() string {
	return s.model
}

// Ping lists models, which checks the key without running inference.
func (s *EmbeddingService) Ping(ctx context.Context) error {
	return s.api.Do(ctx, http.MethodGet, "/models", nil, nil)
}

func (s *EmbeddingService) Close() error {
	s.api.Close()
	return nil
}

// apiMessage reads {"error":{"message":...}}.
func apiMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &e)
	return e.Error.Message
}
