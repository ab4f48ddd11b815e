// Package llm provides the inference gateway client for the Ollama backend.
// Failures are classified so the runner can record a specific
// human-readable cause on the task.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

type Cause string

const (
	CauseUnreachable  Cause = "unreachable"
	CauseTimeout      Cause = "timeout"
	CauseUnknownModel Cause = "unknown_model"
	CauseHTTP         Cause = "http_error"
	CauseInternal     Cause = "internal"
)

// GatewayError is a classified inference failure. Message is safe to store
// on the task record and return to clients.
type GatewayError struct {
	Cause   Cause
	Message string
}

func (e *GatewayError) Error() string {
	return e.Message
}

type GenerateRequest struct {
	Model    string
	Prompt   string
	JSONMode bool
	Timeout  time.Duration
}

type Model struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

type generateBody struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate issues one synchronous generation call, bounded by req.Timeout.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	body := generateBody{
		Model:  req.Model,
		Prompt: req.Prompt,
		Stream: false,
	}
	if req.JSONMode {
		body.Format = "json"
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", &GatewayError{Cause: CauseInternal, Message: fmt.Sprintf("failed to encode request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return "", &GatewayError{Cause: CauseInternal, Message: fmt.Sprintf("failed to build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", c.classifyTransportError(err, req.Timeout)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusNotFound && strings.Contains(string(raw), "model") {
			return "", &GatewayError{
				Cause:   CauseUnknownModel,
				Message: fmt.Sprintf("unknown model %q, pull it with 'ollama pull %s'", req.Model, req.Model),
			}
		}
		return "", &GatewayError{
			Cause:   CauseHTTP,
			Message: fmt.Sprintf("Ollama HTTP error: status %d", resp.StatusCode),
		}
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &GatewayError{Cause: CauseHTTP, Message: "invalid response from Ollama"}
	}

	return result.Response, nil
}

func (c *Client) classifyTransportError(err error, timeout time.Duration) *GatewayError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &GatewayError{
			Cause:   CauseTimeout,
			Message: fmt.Sprintf("Ollama request timed out after %d seconds", int(timeout.Seconds())),
		}
	}
	return &GatewayError{
		Cause:   CauseUnreachable,
		Message: fmt.Sprintf("cannot connect to Ollama at %s, ensure it is running with 'ollama serve'", c.baseURL),
	}
}

// ListModels returns the models available on the backend.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, c.classifyTransportError(err, 5*time.Second)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, &GatewayError{
			Cause:   CauseHTTP,
			Message: fmt.Sprintf("Ollama HTTP error: status %d", resp.StatusCode),
		}
	}

	var result struct {
		Models []Model `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &GatewayError{Cause: CauseHTTP, Message: "invalid response from Ollama"}
	}

	return result.Models, nil
}

// Healthy reports whether the backend answers its tags endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.ListModels(ctx)
	return err == nil
}
