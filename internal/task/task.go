// Package task defines the analysis task domain model shared by the store,
// runner and API layers. It contains status and output format definitions,
// the record constructor, and serialization helpers.
package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type (
	Status       string
	OutputFormat string
	Task         struct {
		ID               string          `json:"id"`
		Status           Status          `json:"status"`
		Source           string          `json:"source"`
		Query            string          `json:"query"`
		Model            string          `json:"model"`
		Timeout          int             `json:"timeout"`
		OutputFormat     OutputFormat    `json:"output_format"`
		CallbackURL      string          `json:"callback_url,omitempty"`
		Result           string          `json:"result,omitempty"`
		ResultJSON       json.RawMessage `json:"result_json,omitempty"`
		Error            string          `json:"error,omitempty"`
		CreatedAt        time.Time       `json:"created_at"`
		CompletedAt      *time.Time      `json:"completed_at,omitempty"`
		ProcessingTimeMs int64           `json:"processing_time_ms,omitempty"`
	}
)

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// Config carries the per-task options chosen at submission time.
// Zero values mean "use the system default".
type Config struct {
	Model       string
	Timeout     int
	Format      OutputFormat
	CallbackURL string
}

// Defaults holds the system-wide values applied to unset Config fields.
type Defaults struct {
	Model   string
	Timeout int
}

func (c Config) WithDefaults(d Defaults) Config {
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.Format == "" {
		c.Format = FormatText
	}
	return c
}

func New(source, query string, cfg Config) *Task {
	return &Task{
		ID:           uuid.New().String(),
		Status:       StatusPending,
		Source:       source,
		Query:        query,
		Model:        cfg.Model,
		Timeout:      cfg.Timeout,
		OutputFormat: cfg.Format,
		CallbackURL:  cfg.CallbackURL,
		CreatedAt:    time.Now().UTC(),
	}
}

// Terminal reports whether no further status transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (t *Task) Clone() *Task {
	c := *t
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	if t.ResultJSON != nil {
		c.ResultJSON = append(json.RawMessage(nil), t.ResultJSON...)
	}
	return &c
}

func (t *Task) ToJSON() (string, error) {
	data, err := json.Marshal(t)
	return string(data), err
}

func FromJSON(data string) (*Task, error) {
	var t Task
	err := json.Unmarshal([]byte(data), &t)
	return &t, err
}
