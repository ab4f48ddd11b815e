package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadmax/harvest/internal/llm"
	"github.com/nadmax/harvest/internal/store"
	"github.com/nadmax/harvest/internal/task"
)

type fakeGateway struct {
	mu       sync.Mutex
	response string
	err      error
	requests []llm.GenerateRequest
}

func (g *fakeGateway) Generate(_ context.Context, req llm.GenerateRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return "", g.err
	}
	return g.response, nil
}

func (g *fakeGateway) lastRequest(t *testing.T) llm.GenerateRequest {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.requests)
	return g.requests[len(g.requests)-1]
}

type fakeNotifier struct {
	mu        sync.Mutex
	delivered []*task.Task
	result    bool
}

func (n *fakeNotifier) Deliver(_ context.Context, t *task.Task) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered = append(n.delivered, t)
	return n.result
}

func (n *fakeNotifier) deliveries() []*task.Task {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*task.Task(nil), n.delivered...)
}

var defaults = task.Defaults{Model: "llama3.2:1b", Timeout: 120}

func setupRunner(gw *fakeGateway) (*Runner, *store.MemoryStore, *fakeNotifier) {
	s := store.NewMemoryStore(defaults)
	n := &fakeNotifier{result: true}
	return New(s, gw, n), s, n
}

func createTask(t *testing.T, s *store.MemoryStore, cfg task.Config) *task.Task {
	t.Helper()
	created, err := s.Create(context.Background(), "Q4: $10M, Q3: $8M", "What is the trend?", cfg)
	require.NoError(t, err)
	return created
}

func TestRun_Completes(t *testing.T) {
	gw := &fakeGateway{response: "Revenue is growing."}
	r, s, _ := setupRunner(gw)
	ctx := context.Background()

	created := createTask(t, s, task.Config{})
	r.Run(ctx, created.ID)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, "Revenue is growing.", got.Result)
	assert.Empty(t, got.Error)
	assert.Nil(t, got.ResultJSON)
	require.NotNil(t, got.CompletedAt)
	assert.GreaterOrEqual(t, got.ProcessingTimeMs, int64(0))
}

func TestRun_PromptContainsSafetyPreambleAndInputs(t *testing.T) {
	gw := &fakeGateway{response: "ok"}
	r, s, _ := setupRunner(gw)

	created := createTask(t, s, task.Config{})
	r.Run(context.Background(), created.ID)

	req := gw.lastRequest(t)
	assert.True(t, strings.HasPrefix(req.Prompt, safetyPreamble))
	assert.Contains(t, req.Prompt, "Q4: $10M, Q3: $8M")
	assert.Contains(t, req.Prompt, "What is the trend?")
	assert.NotContains(t, req.Prompt, jsonInstruction)
	assert.False(t, req.JSONMode)
	assert.Equal(t, "llama3.2:1b", req.Model)
	assert.Equal(t, 120*time.Second, req.Timeout)
}

func TestRun_JSONFormat(t *testing.T) {
	gw := &fakeGateway{response: `{"a":1}`}
	r, s, _ := setupRunner(gw)
	ctx := context.Background()

	created := createTask(t, s, task.Config{Format: task.FormatJSON})
	r.Run(ctx, created.ID)

	req := gw.lastRequest(t)
	assert.True(t, req.JSONMode)
	assert.Contains(t, req.Prompt, jsonInstruction)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"a":1}`, string(got.ResultJSON))
	assert.Equal(t, `{"a":1}`, got.Result)
}

func TestRun_JSONFormat_FencedReply(t *testing.T) {
	gw := &fakeGateway{response: "```json\n{\"a\":1}\n```"}
	r, s, _ := setupRunner(gw)
	ctx := context.Background()

	created := createTask(t, s, task.Config{Format: task.FormatJSON})
	r.Run(ctx, created.ID)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"a":1}`, string(got.ResultJSON))
}

func TestRun_JSONFormat_UnparsableReplyStillCompletes(t *testing.T) {
	gw := &fakeGateway{response: "not json"}
	r, s, _ := setupRunner(gw)
	ctx := context.Background()

	created := createTask(t, s, task.Config{Format: task.FormatJSON})
	r.Run(ctx, created.ID)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, "not json", got.Result)
	assert.Nil(t, got.ResultJSON)
}

func TestRun_GatewayTimeout(t *testing.T) {
	gw := &fakeGateway{err: &llm.GatewayError{
		Cause:   llm.CauseTimeout,
		Message: "Ollama request timed out after 120 seconds",
	}}
	r, s, _ := setupRunner(gw)
	ctx := context.Background()

	created := createTask(t, s, task.Config{})
	r.Run(ctx, created.ID)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "timed out")
	assert.Empty(t, got.Result)
	require.NotNil(t, got.CompletedAt)
	assert.GreaterOrEqual(t, got.ProcessingTimeMs, int64(0))
}

func TestRun_UnexpectedFailureGetsGenericMessage(t *testing.T) {
	gw := &fakeGateway{err: errors.New("panic: index out of range at internal/foo.go:42")}
	r, s, _ := setupRunner(gw)
	ctx := context.Background()

	created := createTask(t, s, task.Config{})
	r.Run(ctx, created.ID)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "internal error while processing task", got.Error)
	assert.NotContains(t, got.Error, "foo.go")
}

func TestRun_TerminalStateIsStable(t *testing.T) {
	gw := &fakeGateway{response: "done"}
	r, s, _ := setupRunner(gw)
	ctx := context.Background()

	created := createTask(t, s, task.Config{})
	r.Run(ctx, created.ID)

	first, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	second, err := s.Get(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, task.StatusCompleted, first.Status)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, first.ProcessingTimeMs, second.ProcessingTimeMs)
}

func TestRun_NotifiesWhenCallbackSet(t *testing.T) {
	gw := &fakeGateway{response: "done"}
	r, s, n := setupRunner(gw)

	created := createTask(t, s, task.Config{CallbackURL: "https://example.com/webhook"})
	r.Run(context.Background(), created.ID)

	deliveries := n.deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, created.ID, deliveries[0].ID)
	assert.Equal(t, task.StatusCompleted, deliveries[0].Status)
}

func TestRun_NotifiesOnFailureToo(t *testing.T) {
	gw := &fakeGateway{err: &llm.GatewayError{Cause: llm.CauseUnreachable, Message: "cannot connect"}}
	r, s, n := setupRunner(gw)

	created := createTask(t, s, task.Config{CallbackURL: "https://example.com/webhook"})
	r.Run(context.Background(), created.ID)

	deliveries := n.deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, task.StatusFailed, deliveries[0].Status)
}

func TestRun_NoCallbackNoDelivery(t *testing.T) {
	gw := &fakeGateway{response: "done"}
	r, s, n := setupRunner(gw)

	created := createTask(t, s, task.Config{})
	r.Run(context.Background(), created.ID)

	assert.Empty(t, n.deliveries())
}

func TestRun_DeliveryFailureLeavesTaskTerminal(t *testing.T) {
	gw := &fakeGateway{response: "done"}
	s := store.NewMemoryStore(defaults)
	n := &fakeNotifier{result: false}
	r := New(s, gw, n)
	ctx := context.Background()

	created := createTask(t, s, task.Config{CallbackURL: "https://example.com/webhook"})
	r.Run(ctx, created.ID)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, "done", got.Result)
}

func TestRun_UnknownTask(t *testing.T) {
	gw := &fakeGateway{response: "done"}
	r, _, n := setupRunner(gw)

	r.Run(context.Background(), "unknown-id")

	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Empty(t, gw.requests)
	assert.Empty(t, n.deliveries())
}
