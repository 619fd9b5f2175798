// -----------------------------------------------------------------------
// Job - analysis job record and lifecycle state
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// JobStatus represents the lifecycle state of an analysis job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job represents a single analysis submission: an ordered tool pipeline run
// against one media input.
//
// Lifecycle: pending -> running -> {completed | failed}. No other edges, no
// re-entry. Once terminal, Progress, Results and Error are immutable.
//
// Single-writer discipline: only the owning execution goroutine in the engine
// mutates a Job. Readers (status queries, broadcasts) work on a Snapshot().
//
// Progress is a pointer so "no progress data" (nil) stays distinct from 0.
// Jobs persisted before progress tracking existed report null, never 0.
type Job struct {
	ID       string   `json:"id" badgerhold:"key"`
	PluginID string   `json:"plugin_id"`
	Tools    []string `json:"tools"`

	Status           JobStatus `json:"status"`
	Progress         *int      `json:"progress"`
	CurrentToolIndex *int      `json:"current_tool_index"`
	ToolsCompleted   int       `json:"tools_completed"`

	// Results is all-or-nothing: populated only when every tool succeeded.
	// A failed or unfinished job never carries a partial map.
	Results map[string]*ToolResult `json:"results,omitempty"`
	Error   string                 `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ToolResult is the opaque output of one tool invocation.
type ToolResult struct {
	ToolID         string                 `json:"tool_id"`
	Data           map[string]interface{} `json:"data"`
	UnitsProcessed int                    `json:"units_processed"`
	Duration       float64                `json:"duration_seconds"`
}

// MediaInput describes the media a job analyzes. Metadata carries whatever
// the ingest layer knows up front (frame_count, duration_seconds, fps) and is
// the probe source for unit estimation.
type MediaInput struct {
	URI      string                 `json:"uri"`
	MimeType string                 `json:"mime_type,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewJob creates a pending job for the given pipeline.
func NewJob(id, pluginID string, tools []string) *Job {
	now := time.Now()
	toolsCopy := make([]string, len(tools))
	copy(toolsCopy, tools)
	return &Job{
		ID:        id,
		PluginID:  pluginID,
		Tools:     toolsCopy,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MarkStarted transitions the job to running.
func (j *Job) MarkStarted() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.UpdatedAt = now
}

// MarkCompleted transitions the job to completed with the full results map
// and pins progress at 100.
func (j *Job) MarkCompleted(results map[string]*ToolResult) {
	now := time.Now()
	full := 100
	j.Status = JobStatusCompleted
	j.Progress = &full
	j.Results = results
	j.ToolsCompleted = len(j.Tools)
	j.CurrentToolIndex = nil
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// MarkFailed transitions the job to failed. Results are discarded: the
// pipeline is fail-fast and partial results are never retained.
func (j *Job) MarkFailed(errMsg string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.Error = errMsg
	j.Results = nil
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// IsTerminal returns true for completed and failed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsTerminal returns true once the job reached completed or failed.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Snapshot returns a deep copy safe for concurrent readers.
func (j *Job) Snapshot() *Job {
	c := *j
	c.Tools = make([]string, len(j.Tools))
	copy(c.Tools, j.Tools)
	if j.Progress != nil {
		p := *j.Progress
		c.Progress = &p
	}
	if j.CurrentToolIndex != nil {
		i := *j.CurrentToolIndex
		c.CurrentToolIndex = &i
	}
	if j.Results != nil {
		c.Results = make(map[string]*ToolResult, len(j.Results))
		for k, v := range j.Results {
			r := *v
			c.Results[k] = &r
		}
	}
	return &c
}

// JobStatusReport is the pull-channel status payload.
//
// ToolsCompleted and CurrentTool are omitted on terminal-failed jobs: no
// partial data is retained after a failure, so per-tool counts are not
// exposed either.
type JobStatusReport struct {
	JobID          string    `json:"job_id"`
	Status         JobStatus `json:"status"`
	Progress       *int      `json:"progress"`
	CurrentTool    *string   `json:"current_tool"`
	ToolsTotal     *int      `json:"tools_total"`
	ToolsCompleted *int      `json:"tools_completed"`
	Error          string    `json:"error,omitempty"`
}
