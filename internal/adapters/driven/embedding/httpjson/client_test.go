package httpjson

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/queryindex/internal/core/domain"
)

type echo struct {
	Text string `json:"text"`
}

func TestNew_TrimsBaseURL(t *testing.T) {
	c := New("svc", "http://host:1234/v1/", time.Second)
	assert.Equal(t, "http://host:1234/v1", c.BaseURL)
	assert.Equal(t, time.Second, c.HTTP.Timeout)
}

func TestDo_PostDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/echo", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var in echo
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(echo{Text: in.Text + "!"})
	}))
	defer srv.Close()

	c := New("svc", srv.URL, time.Second)
	c.Header.Set("Authorization", "Bearer k")

	var out echo
	require.NoError(t, c.Do(context.Background(), http.MethodPost, "/echo", echo{Text: "hi"}, &out))
	assert.Equal(t, "hi!", out.Text)
}

func TestDo_GetWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Empty(t, body)
		assert.Empty(t, r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`ignored`))
	}))
	defer srv.Close()

	assert.NoError(t, New("svc", srv.URL, time.Second).Do(context.Background(), http.MethodGet, "/", nil, nil))
}

func TestDo_StatusErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		unavailable bool
		want        string
	}{
		{"not found", http.StatusNotFound, `{"detail":"no such model"}`, true, "svc status 404: no such model"},
		{"unauthorized", http.StatusUnauthorized, `  denied  `, true, "svc status 401: denied"},
		{"rate limited", http.StatusTooManyRequests, `slow down`, false, "svc status 429: slow down"},
		{"unavailable", http.StatusServiceUnavailable, `{"detail":"warming up"}`, false, "svc status 503: warming up"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New("svc", srv.URL, time.Second)
			c.Message = func(body []byte) string {
				var e struct {
					Detail string `json:"detail"`
				}
				_ = json.Unmarshal(body, &e)
				return e.Detail
			}

			err := c.Do(context.Background(), http.MethodGet, "/", nil, nil)
			require.Error(t, err)
			assert.Equal(t, tt.unavailable, errors.Is(err, domain.ErrEmbeddingUnavailable))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDo_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{`))
	}))
	defer srv.Close()

	var out echo
	err := New("svc", srv.URL, time.Second).Do(context.Background(), http.MethodGet, "/", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "svc: decoding response")
	assert.False(t, errors.Is(err, domain.ErrEmbeddingUnavailable))
}

func TestDo_UnencodableRequest(t *testing.T) {
	err := New("svc", "http://127.0.0.1:1", time.Second).Do(context.Background(), http.MethodPost, "/", make(chan int), nil)
	assert.ErrorContains(t, err, "svc: encoding request")
}

func TestFloat32(t *testing.T) {
	assert.Equal(t, []float32{0.5, -2, 0}, Float32([]float64{0.5, -2, 0}))
	assert.Empty(t, Float32(nil))
}
