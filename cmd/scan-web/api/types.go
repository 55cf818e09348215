// Package api provides the HTTP handlers of the scan-web frontend.
package api

import "time"

// ScanSummary describes a scan file in API responses.
type ScanSummary struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	FileName  string   `json:"file_name"`
	Axes      []string `json:"axes"`
	Shape     []int    `json:"shape"`
	Size      int      `json:"size"`
	Devices   []string `json:"devices,omitempty"`
	Remote    string   `json:"remote,omitempty"`
	Resumable bool     `json:"resumable,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ScanListResponse is the response for GET /api/v1/scans.
type ScanListResponse struct {
	Scans []ScanSummary `json:"scans"`
	Total int           `json:"total"`
}

// RunRequest is the request body for POST /api/v1/runs.
type RunRequest struct {
	Scan string `json:"scan"`

	// Start is the step to run from. Resume takes it from the scan's
	// checkpoint instead.
	Start  int  `json:"start,omitempty"`
	Resume bool `json:"resume,omitempty"`
}

// SeekRequest is the request body for POST /api/v1/runs/:id/seek.
type SeekRequest struct {
	Step int `json:"step"`
}

// Run represents a scan run in API responses.
type Run struct {
	ID             string     `json:"id"`
	Scan           string     `json:"scan"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	State          string     `json:"state,omitempty"`
	StartStep      int        `json:"start_step,omitempty"`
	CompletedSteps int        `json:"completed_steps"`
	TotalSteps     int        `json:"total_steps"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Duration       string     `json:"duration,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// RunListResponse is the response for GET /api/v1/runs.
type RunListResponse struct {
	Runs  []Run `json:"runs"`
	Total int   `json:"total"`
}

// RunDetailResponse is the response for GET /api/v1/runs/:id.
type RunDetailResponse struct {
	Run
	Events []RunEvent `json:"events,omitempty"`
}

// RunEvent is a state change or a completed step of a run.
type RunEvent struct {
	Kind      string             `json:"kind"`
	State     string             `json:"state,omitempty"`
	Completed int                `json:"completed,omitempty"`
	Position  map[string]float64 `json:"position,omitempty"`
	Error     string             `json:"error,omitempty"`
	Time      time.Time          `json:"time"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// RunStatus constants.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusAborted   = "aborted"
	RunStatusFailed    = "failed"
)

// RunEvent kinds.
const (
	EventState    = "state"
	EventProgress = "progress"
)
