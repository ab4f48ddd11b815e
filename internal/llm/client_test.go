package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Success(t *testing.T) {
	var received generateBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "the answer"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	result, err := c.Generate(context.Background(), GenerateRequest{
		Model:   "llama3.2:1b",
		Prompt:  "test prompt",
		Timeout: 30 * time.Second,
	})

	require.NoError(t, err)
	assert.Equal(t, "the answer", result)
	assert.Equal(t, "llama3.2:1b", received.Model)
	assert.Equal(t, "test prompt", received.Prompt)
	assert.False(t, received.Stream)
	assert.Empty(t, received.Format)
}

func TestGenerate_JSONMode(t *testing.T) {
	var received generateBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(generateResponse{Response: `{"key":"value"}`})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	result, err := c.Generate(context.Background(), GenerateRequest{
		Model:    "llama3.2:1b",
		Prompt:   "test prompt",
		JSONMode: true,
		Timeout:  30 * time.Second,
	})

	require.NoError(t, err)
	assert.Equal(t, `{"key":"value"}`, result)
	assert.Equal(t, "json", received.Format)
}

func TestGenerate_Unreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")

	_, err := c.Generate(context.Background(), GenerateRequest{
		Model:   "llama3.2:1b",
		Prompt:  "test prompt",
		Timeout: 5 * time.Second,
	})

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, CauseUnreachable, gwErr.Cause)
	assert.Contains(t, gwErr.Message, "cannot connect to Ollama")
}

func TestGenerate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Generate(context.Background(), GenerateRequest{
		Model:   "llama3.2:1b",
		Prompt:  "test prompt",
		Timeout: 50 * time.Millisecond,
	})

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, CauseTimeout, gwErr.Cause)
	assert.Contains(t, gwErr.Message, "timed out")
}

func TestGenerate_UnknownModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'nope' not found"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Generate(context.Background(), GenerateRequest{
		Model:   "nope",
		Prompt:  "test prompt",
		Timeout: 5 * time.Second,
	})

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, CauseUnknownModel, gwErr.Cause)
	assert.Contains(t, gwErr.Message, `unknown model "nope"`)
}

func TestGenerate_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Generate(context.Background(), GenerateRequest{
		Model:   "llama3.2:1b",
		Prompt:  "test prompt",
		Timeout: 5 * time.Second,
	})

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, CauseHTTP, gwErr.Cause)
	assert.Contains(t, gwErr.Message, "status 500")
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.2:1b","size":1300000000},{"name":"mistral:7b","size":4100000000}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	models, err := c.ListModels(context.Background())

	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3.2:1b", models[0].Name)
	assert.Equal(t, int64(1300000000), models[0].Size)
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	assert.True(t, c.Healthy(context.Background()))
}

func TestHealthy_Down(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	assert.False(t, c.Healthy(context.Background()))
}
