package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

// Pagination holds pagination metadata for list endpoints.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListOptions configures list queries with pagination and filtering.
type ListOptions struct {
	Limit  int
	Offset int
	Kind   string // Optional event kind filter
}

// DefaultListOptions returns sensible defaults.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 50, Offset: 0}
}

// Clamp enforces limits (max 500, min 1).
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// Run summarizes one simulated kernel run.
type Run struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Mode       SchedulingMode `json:"mode"`
	Ticks      int64          `json:"ticks"`
	LoadAvg    int            `json:"load_avg"`
	Switches   int64          `json:"switches"`
	IdleTicks  int64          `json:"idle_ticks"`
	Passed     bool           `json:"passed"`
	Error      string         `json:"error,omitempty"`
	EventCount int            `json:"event_count"`
	Source     string         `json:"source,omitempty"`

	Expectations []Expectation `json:"expectations,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Expectation is the outcome of one scenario assertion.
type Expectation struct {
	Expr   string `json:"expr"`
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}
