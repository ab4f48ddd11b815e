// Package api exposes the HTTP surface of the harvest service: task
// submission (single and batch), polling, listing, model discovery and
// health reporting.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nadmax/harvest/internal/config"
	"github.com/nadmax/harvest/internal/httputil"
	"github.com/nadmax/harvest/internal/llm"
	"github.com/nadmax/harvest/internal/metrics"
	"github.com/nadmax/harvest/internal/middleware"
	"github.com/nadmax/harvest/internal/store"
	"github.com/nadmax/harvest/internal/task"
)

const Version = "1.0.0"

const defaultListLimit = 20

// Runner dispatches one already-created task. The API fires it on its own
// goroutine and returns to the client immediately.
type Runner interface {
	Run(ctx context.Context, id string)
}

// Gateway is the slice of the inference client the API needs for the
// health and models endpoints.
type Gateway interface {
	Healthy(ctx context.Context) bool
	ListModels(ctx context.Context) ([]llm.Model, error)
}

type API struct {
	store    store.Store
	runner   Runner
	gateway  Gateway
	cfg      *config.Config
	validate *validator.Validate
	router   chi.Router
}

type HarvestRequest struct {
	Source       string `json:"source" validate:"required"`
	Query        string `json:"query" validate:"required"`
	Model        string `json:"model"`
	Timeout      int    `json:"timeout" validate:"omitempty,gte=10,lte=300"`
	OutputFormat string `json:"output_format" validate:"omitempty,oneof=text json"`
	CallbackURL  string `json:"callback_url" validate:"omitempty,http_url"`
}

type BatchRequest struct {
	Requests []HarvestRequest `json:"requests" validate:"required,min=1,max=10,dive"`
}

type SubmitResponse struct {
	ID      string      `json:"id"`
	Status  task.Status `json:"status"`
	Message string      `json:"message"`
}

type BatchResponse struct {
	IDs     []string `json:"ids"`
	Count   int      `json:"count"`
	Message string   `json:"message"`
}

type ListResponse struct {
	Tasks []*task.Task `json:"tasks"`
	Count int          `json:"count"`
}

type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	OllamaAvailable bool   `json:"ollama_available"`
	RedisAvailable  bool   `json:"redis_available"`
}

type ModelsResponse struct {
	Models       []llm.Model `json:"models"`
	Count        int         `json:"count"`
	DefaultModel string      `json:"default_model"`
}

func New(s store.Store, r Runner, g Gateway, cfg *config.Config) *API {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	a := &API{
		store:    s,
		runner:   r,
		gateway:  g,
		cfg:      cfg,
		validate: v,
	}
	a.setupRoutes()

	return a
}

func (a *API) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Metrics)

	r.Get("/health", a.health)
	r.Get("/auth/status", a.authStatus)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(a.cfg.APIKeys))

		r.Post("/harvest", a.submitTask)
		r.Post("/harvest/batch", a.submitBatch)
		r.Get("/harvest/{id}", a.getTask)
		r.Get("/tasks", a.listTasks)
		r.Get("/models", a.listModels)
	})

	a.router = r
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *API) submitTask(w http.ResponseWriter, r *http.Request) {
	var req HarvestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSONError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if err := a.validateRequest(&req); err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	t, err := a.store.Create(r.Context(), req.Source, req.Query, taskConfig(&req))
	if err != nil {
		httputil.WriteJSONError(w, "failed to create task", http.StatusInternalServerError)
		return
	}

	metrics.RecordTaskCreated()
	go a.runner.Run(context.Background(), t.ID)

	httputil.WriteJSON(w, http.StatusAccepted, SubmitResponse{
		ID:      t.ID,
		Status:  t.Status,
		Message: "Task accepted for processing",
	})
}

func (a *API) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSONError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	// The batch is atomic at the validation boundary: one bad item
	// rejects the whole batch before any task is created.
	if err := a.validate.Struct(&req); err != nil {
		httputil.WriteJSONError(w, batchValidationMessage(err), http.StatusBadRequest)
		return
	}
	for i := range req.Requests {
		if err := a.checkBounds(&req.Requests[i]); err != nil {
			httputil.WriteJSONError(w, fmt.Sprintf("request %d: %s", i+1, err), http.StatusBadRequest)
			return
		}
	}

	ids := make([]string, 0, len(req.Requests))
	for i := range req.Requests {
		item := &req.Requests[i]
		t, err := a.store.Create(r.Context(), item.Source, item.Query, taskConfig(item))
		if err != nil {
			httputil.WriteJSONError(w, "failed to create task", http.StatusInternalServerError)
			return
		}
		metrics.RecordTaskCreated()
		ids = append(ids, t.ID)
	}

	// Dispatch after the whole batch is created so the response carries
	// every id; items proceed and fail independently from here.
	for _, id := range ids {
		go a.runner.Run(context.Background(), id)
	}

	httputil.WriteJSON(w, http.StatusAccepted, BatchResponse{
		IDs:     ids,
		Count:   len(ids),
		Message: fmt.Sprintf("Accepted %d tasks for processing", len(ids)),
	})
}

func (a *API) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := a.store.Get(r.Context(), id)
	if err == store.ErrNotFound {
		httputil.WriteJSONError(w, "task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		httputil.WriteJSONError(w, "failed to load task", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, t)
}

func (a *API) listTasks(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httputil.WriteJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	if limit > a.cfg.MaxListLimit {
		limit = a.cfg.MaxListLimit
	}

	tasks, err := a.store.List(r.Context(), limit)
	if err != nil {
		httputil.WriteJSONError(w, "failed to list tasks", http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}

	httputil.WriteJSON(w, http.StatusOK, ListResponse{
		Tasks: tasks,
		Count: len(tasks),
	})
}

func (a *API) listModels(w http.ResponseWriter, r *http.Request) {
	models, err := a.gateway.ListModels(r.Context())
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if models == nil {
		models = []llm.Model{}
	}

	httputil.WriteJSON(w, http.StatusOK, ModelsResponse{
		Models:       models,
		Count:        len(models),
		DefaultModel: a.cfg.OllamaModel,
	})
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	ollamaUp := a.gateway.Healthy(r.Context())
	redisUp := a.store.DurableAvailable(r.Context())

	status := "healthy"
	switch {
	case !ollamaUp:
		status = "unhealthy"
	case !redisUp:
		status = "degraded"
	}

	httputil.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:          status,
		Version:         Version,
		OllamaAvailable: ollamaUp,
		RedisAvailable:  redisUp,
	})
}

func (a *API) authStatus(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{
		"auth_enabled": len(a.cfg.APIKeys) > 0,
	})
}

func taskConfig(req *HarvestRequest) task.Config {
	return task.Config{
		Model:       req.Model,
		Timeout:     req.Timeout,
		Format:      task.OutputFormat(req.OutputFormat),
		CallbackURL: req.CallbackURL,
	}
}

func (a *API) validateRequest(req *HarvestRequest) error {
	if err := a.validate.Struct(req); err != nil {
		return errors.New(fieldValidationMessage(err))
	}
	return a.checkBounds(req)
}

// checkBounds covers the config-driven limits the static validate tags
// cannot express.
func (a *API) checkBounds(req *HarvestRequest) error {
	if strings.TrimSpace(req.Source) == "" {
		return errors.New("source must not be empty or whitespace")
	}
	if strings.TrimSpace(req.Query) == "" {
		return errors.New("query must not be empty or whitespace")
	}
	if len(req.Source) > a.cfg.MaxSourceLength {
		return fmt.Errorf("source exceeds maximum length of %d characters", a.cfg.MaxSourceLength)
	}
	if len(req.Query) > a.cfg.MaxQueryLength {
		return fmt.Errorf("query exceeds maximum length of %d characters", a.cfg.MaxQueryLength)
	}
	return nil
}

func fieldValidationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gte", "lte":
		return "timeout must be between 10 and 300 seconds"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "http_url":
		return fmt.Sprintf("%s must be a valid http(s) URL", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func batchValidationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Field() == "requests" {
			switch fe.Tag() {
			case "required", "min":
				return "batch must contain at least 1 request"
			case "max":
				return "batch must not contain more than 10 requests"
			}
		}
		// Namespace is like BatchRequest.requests[2].source.
		return fieldValidationMessage(err)
	}
	return err.Error()
}
