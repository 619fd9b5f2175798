package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/argus/internal/interfaces"
	"github.com/ternarybob/argus/internal/models"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, &models.NotFoundError{Kind: "job", ID: jobID}
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// UpdateJobProgress persists a throttled progress write from the tracker.
// Guards keep the record consistent against the engine's terminal writes:
// a terminal job is never touched, and progress never decreases.
func (s *JobStorage) UpdateJobProgress(ctx context.Context, jobID string, progress int, toolIndex int) error {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return &models.NotFoundError{Kind: "job", ID: jobID}
		}
		return fmt.Errorf("failed to get job: %w", err)
	}

	if job.IsTerminal() {
		return nil
	}
	if job.Progress != nil && progress <= *job.Progress {
		return nil
	}

	job.Progress = &progress
	job.CurrentToolIndex = &toolIndex
	job.ToolsCompleted = toolIndex
	job.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(job.ID, &job); err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(models.JobStatus(opts.Status))
		}
		if opts.PluginID != "" {
			query = query.And("PluginID").Eq(opts.PluginID)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
		if opts.OrderBy != "" {
			if opts.OrderDir == "DESC" {
				query = query.SortBy(opts.OrderBy).Reverse()
			} else {
				query = query.SortBy(opts.OrderBy)
			}
		} else {
			query = query.SortBy("CreatedAt").Reverse()
		}
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) CountJobs(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Job{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}

// DeleteJobsBefore removes terminal jobs older than the cutoff. Running and
// pending jobs are never swept regardless of age.
func (s *JobStorage) DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var jobs []models.Job
	query := badgerhold.Where("CreatedAt").Lt(cutoff)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return 0, fmt.Errorf("failed to find jobs for retention sweep: %w", err)
	}

	deleted := 0
	for i := range jobs {
		if !jobs[i].IsTerminal() {
			continue
		}
		if err := s.db.Store().Delete(jobs[i].ID, &models.Job{}); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobs[i].ID).Msg("Failed to delete job during retention sweep")
			continue
		}
		deleted++
	}
	return deleted, nil
}
