package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/argus/internal/models"
)

// JobListOptions filters and pages job listings.
type JobListOptions struct {
	Status   string
	PluginID string
	Limit    int
	Offset   int
	OrderBy  string
	OrderDir string
}

// JobStorage persists job records. SaveJob is an idempotent upsert; the
// engine is the single writer per job.
type JobStorage interface {
	// SaveJob upserts a job record
	SaveJob(ctx context.Context, job *models.Job) error

	// GetJob loads a job by ID, returning *models.NotFoundError when absent
	GetJob(ctx context.Context, jobID string) (*models.Job, error)

	// UpdateJobProgress persists a throttled progress write. Writes that
	// would decrease progress or touch a terminal job are skipped silently,
	// keeping progress monotonic and terminal records immutable.
	UpdateJobProgress(ctx context.Context, jobID string, progress int, toolIndex int) error

	// ListJobs returns job snapshots matching the options
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)

	// CountJobs returns the total number of stored jobs
	CountJobs(ctx context.Context) (int, error)

	// DeleteJobsBefore removes terminal jobs older than the cutoff and
	// returns the number deleted. Used by the retention sweep.
	DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error)
}
