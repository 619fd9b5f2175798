package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/argus/internal/interfaces"
	"github.com/ternarybob/argus/internal/models"
)

// memStorage is an in-memory JobStorage that records the progress write
// sequence, so tests can assert throttling and monotonicity.
type memStorage struct {
	mu             sync.Mutex
	jobs           map[string]*models.Job
	progressWrites map[string][]int
}

func newMemStorage() *memStorage {
	return &memStorage{
		jobs:           make(map[string]*models.Job),
		progressWrites: make(map[string][]int),
	}
}

func (s *memStorage) SaveJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Snapshot()
	return nil
}

func (s *memStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, &models.NotFoundError{Kind: "job", ID: jobID}
	}
	return job.Snapshot(), nil
}

func (s *memStorage) UpdateJobProgress(ctx context.Context, jobID string, progress, toolIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return &models.NotFoundError{Kind: "job", ID: jobID}
	}
	if job.IsTerminal() {
		return nil
	}
	if job.Progress != nil && progress <= *job.Progress {
		return nil
	}

	p := progress
	idx := toolIndex
	job.Progress = &p
	job.CurrentToolIndex = &idx
	job.UpdatedAt = time.Now()
	s.progressWrites[jobID] = append(s.progressWrites[jobID], progress)
	return nil
}

func (s *memStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Snapshot())
	}
	return out, nil
}

func (s *memStorage) CountJobs(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs), nil
}

func (s *memStorage) DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, job := range s.jobs {
		if job.IsTerminal() && job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memStorage) writes(jobID string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.progressWrites[jobID]))
	copy(out, s.progressWrites[jobID])
	return out
}

// captureEvents records published events without fan-out goroutines, keeping
// test assertions deterministic.
type captureEvents struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func newCaptureEvents() *captureEvents {
	return &captureEvents{}
}

func (c *captureEvents) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	return nil
}

func (c *captureEvents) Publish(ctx context.Context, event interfaces.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureEvents) PublishSync(ctx context.Context, event interfaces.Event) error {
	return c.Publish(ctx, event)
}

func (c *captureEvents) Close() error {
	return nil
}

func (c *captureEvents) ofType(eventType interfaces.EventType) []interfaces.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []interfaces.Event
	for _, e := range c.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func testLogger() arbor.ILogger {
	return arbor.NewLogger()
}

func timeoutAfter(t *testing.T) <-chan time.Time {
	t.Helper()
	return time.After(5 * time.Second)
}

// waitForTerminal polls storage until the job reaches a terminal state.
func waitForTerminal(t *testing.T, storage *memStorage, jobID string) *models.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := storage.GetJob(context.Background(), jobID)
		if err == nil && job.IsTerminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state", jobID)
	return nil
}
