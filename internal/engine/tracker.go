// -----------------------------------------------------------------------
// Progress Tracker - decouples progress computation from persistence I/O
// -----------------------------------------------------------------------

package engine

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/argus/internal/interfaces"
	"github.com/ternarybob/argus/internal/models"
)

const defaultReportBuffer = 256

type progressReport struct {
	jobID      string
	progress   int
	toolIndex  int
	toolID     string
	toolsTotal int

	// flushed is non-nil for flush barriers injected by Flush
	flushed chan struct{}
}

// Tracker converts per-tool progress into throttled persistence writes and
// broadcast events.
//
// Report is a non-blocking enqueue onto a bounded channel: when the worker
// falls behind, reports are dropped rather than stalling the execution path.
// The next report naturally carries fresher state, so dropped intermediate
// values cost nothing but granularity.
//
// Write-through policy: persist + publish only when progress crosses a
// step-percentage boundary since the last persisted value, on the first
// report for a job, or at the final value (100). With the default step of 5
// this bounds write volume to roughly 20 writes per job regardless of how
// many units the input has.
type Tracker struct {
	storage interfaces.JobStorage
	events  interfaces.EventService
	logger  arbor.ILogger

	step    int
	reports chan progressReport

	mu   sync.Mutex
	last map[string]int // last persisted progress per job

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewTracker creates and starts a progress tracker. step is the persistence
// boundary in percentage points; values below 1 fall back to 5.
func NewTracker(storage interfaces.JobStorage, events interfaces.EventService, step int, logger arbor.ILogger) *Tracker {
	if step < 1 {
		step = 5
	}
	t := &Tracker{
		storage: storage,
		events:  events,
		logger:  logger,
		step:    step,
		reports: make(chan progressReport, defaultReportBuffer),
		last:    make(map[string]int),
		quit:    make(chan struct{}),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

// Report enqueues a global progress value for a job. It never blocks: when
// the buffer is full the report is dropped.
func (t *Tracker) Report(jobID string, progress, toolIndex int, toolID string, toolsTotal int) {
	r := progressReport{
		jobID:      jobID,
		progress:   progress,
		toolIndex:  toolIndex,
		toolID:     toolID,
		toolsTotal: toolsTotal,
	}
	select {
	case t.reports <- r:
	default:
		// Buffer full. Drop; a fresher report follows.
	}
}

// ReportFinal enqueues the terminal progress value (100) for a job. Unlike
// Report it blocks until the report is queued: no fresher report follows the
// final one, so it must not be lost to a saturated buffer.
func (t *Tracker) ReportFinal(jobID string, toolsTotal int) {
	r := progressReport{
		jobID:      jobID,
		progress:   100,
		toolIndex:  toolsTotal,
		toolsTotal: toolsTotal,
	}
	select {
	case t.reports <- r:
	case <-t.quit:
	}
}

// Flush blocks until every report enqueued before the call has been
// processed. The engine calls this before writing a terminal state so a
// queued progress write cannot race the terminal record.
func (t *Tracker) Flush(jobID string) {
	done := make(chan struct{})
	select {
	case t.reports <- progressReport{jobID: jobID, flushed: done}:
	case <-t.quit:
		return
	}
	select {
	case <-done:
	case <-t.quit:
	}
}

// Forget releases tracking state for a terminal job.
func (t *Tracker) Forget(jobID string) {
	t.mu.Lock()
	delete(t.last, jobID)
	t.mu.Unlock()
}

// Close stops the worker after draining queued reports.
func (t *Tracker) Close() {
	close(t.quit)
	t.wg.Wait()
}

func (t *Tracker) run() {
	defer t.wg.Done()
	for {
		select {
		case r := <-t.reports:
			t.handle(r)
		case <-t.quit:
			// Drain what's already queued, then exit.
			for {
				select {
				case r := <-t.reports:
					t.handle(r)
				default:
					return
				}
			}
		}
	}
}

func (t *Tracker) handle(r progressReport) {
	if r.flushed != nil {
		close(r.flushed)
		return
	}

	if !t.shouldWrite(r.jobID, r.progress) {
		return
	}

	ctx := context.Background()
	if err := t.storage.UpdateJobProgress(ctx, r.jobID, r.progress, r.toolIndex); err != nil {
		t.logger.Warn().Err(err).Str("job_id", r.jobID).Msg("Failed to persist job progress")
		return
	}

	t.mu.Lock()
	t.last[r.jobID] = r.progress
	t.mu.Unlock()

	t.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventJobProgress,
		Payload: models.ProgressPayload{
			JobID:         r.jobID,
			Progress:      r.progress,
			ToolIndex:     r.toolIndex,
			ToolID:        r.toolID,
			ToolsTotal:    r.toolsTotal,
			ToolsComplete: r.toolIndex,
		},
	})
}

// shouldWrite applies the throttle policy: first report for the job, final
// value, or a step-boundary crossing since the last persisted value.
func (t *Tracker) shouldWrite(jobID string, progress int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, seen := t.last[jobID]
	if !seen {
		return true
	}
	if progress <= last {
		return false
	}
	if progress >= 100 {
		return true
	}
	return progress/t.step > last/t.step
}
