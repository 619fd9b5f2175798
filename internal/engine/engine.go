// -----------------------------------------------------------------------
// Job Execution Engine - owns job lifecycle and sequential tool execution
// -----------------------------------------------------------------------

package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/argus/internal/common"
	"github.com/ternarybob/argus/internal/interfaces"
	"github.com/ternarybob/argus/internal/models"
)

// unitProgressBuffer bounds the per-tool progress channel between the
// executor and the engine's drain goroutine.
const unitProgressBuffer = 64

// Engine executes analysis jobs. Each job runs on its own goroutine, bounded
// by a semaphore; within a job, tools run strictly sequentially because tool
// N assumes tool N-1 has fully completed.
//
// The engine is the single writer of a job record. Readers take snapshots
// through storage and never block the writer. Progress flows through the
// Tracker so slow persistence cannot stall inference.
type Engine struct {
	registry *Registry
	storage  interfaces.JobStorage
	tracker  *Tracker
	events   interfaces.EventService
	prober   interfaces.UnitProber
	logger   arbor.ILogger
	config   common.EngineConfig

	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewEngine creates a job execution engine
func NewEngine(
	registry *Registry,
	storage interfaces.JobStorage,
	tracker *Tracker,
	events interfaces.EventService,
	prober interfaces.UnitProber,
	config common.EngineConfig,
	logger arbor.ILogger,
) *Engine {
	maxJobs := config.MaxConcurrentJobs
	if maxJobs < 1 {
		maxJobs = 4
	}
	if config.DefaultUnits < 1 {
		config.DefaultUnits = 100
	}
	return &Engine{
		registry: registry,
		storage:  storage,
		tracker:  tracker,
		events:   events,
		prober:   prober,
		logger:   logger,
		config:   config,
		sem:      make(chan struct{}, maxJobs),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Submit validates the pipeline, creates a pending job record and schedules
// execution. Validation failures return *models.ValidationError and never
// create a record.
func (e *Engine) Submit(ctx context.Context, pluginID string, tools []string, input models.MediaInput) (string, error) {
	if err := e.registry.Validate(pluginID, tools); err != nil {
		return "", err
	}

	job := models.NewJob(common.NewJobID(), pluginID, tools)
	if err := e.storage.SaveJob(ctx, job); err != nil {
		return "", err
	}

	e.logger.Info().
		Str("job_id", job.ID).
		Str("plugin_id", pluginID).
		Int("tools", len(tools)).
		Msg("Job submitted")

	e.publishStatus(job)

	e.wg.Add(1)
	go e.run(job, input)

	return job.ID, nil
}

// GetStatus returns the pull-channel status for a job. Progress is nil when
// the record carries no progress data (older jobs), never 0 in that case.
// Per-tool counts are suppressed on terminal-failed jobs: no partial data is
// exposed after a failure.
func (e *Engine) GetStatus(ctx context.Context, jobID string) (*models.JobStatusReport, error) {
	job, err := e.storage.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	report := &models.JobStatusReport{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Error:    job.Error,
	}

	if job.Status == models.JobStatusFailed {
		return report, nil
	}

	total := len(job.Tools)
	report.ToolsTotal = &total
	completed := job.ToolsCompleted
	report.ToolsCompleted = &completed
	if job.CurrentToolIndex != nil && *job.CurrentToolIndex < len(job.Tools) {
		tool := job.Tools[*job.CurrentToolIndex]
		report.CurrentTool = &tool
	}

	return report, nil
}

// GetResults returns the results map of a completed job. Any other state is
// a *models.NotFoundError: results exist only for full successes.
func (e *Engine) GetResults(ctx context.Context, jobID string) (map[string]*models.ToolResult, error) {
	job, err := e.storage.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCompleted {
		return nil, &models.NotFoundError{Kind: "results", ID: jobID}
	}
	return job.Results, nil
}

// Cancel requests cancellation of a running job. It takes effect at the next
// tool-unit boundary, never mid-unit, so a tool's external resources are not
// left undefined.
func (e *Engine) Cancel(ctx context.Context, jobID string) error {
	e.mu.Lock()
	cancel, ok := e.cancels[jobID]
	e.mu.Unlock()

	if ok {
		cancel()
		return nil
	}

	job, err := e.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return models.NewValidationError("job %s is already %s", jobID, job.Status)
	}
	return &models.NotFoundError{Kind: "running job", ID: jobID}
}

// Close cancels all running jobs and waits for their goroutines.
func (e *Engine) Close() {
	e.mu.Lock()
	for _, cancel := range e.cancels {
		cancel()
	}
	e.mu.Unlock()

	e.wg.Wait()
}

func (e *Engine) run(job *models.Job, input models.MediaInput) {
	defer e.wg.Done()

	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	jobCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[job.ID] = cancel
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.cancels, job.ID)
		e.mu.Unlock()
		e.tracker.Forget(job.ID)
	}()

	ctx := context.Background()

	job.MarkStarted()
	if err := e.storage.SaveJob(ctx, job); err != nil {
		e.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist running state")
	}
	e.publishStatus(job)

	n := len(job.Tools)
	toolWeight := 100.0 / float64(n)
	results := make(map[string]*models.ToolResult, n)

	for i, toolID := range job.Tools {
		if jobCtx.Err() != nil {
			e.failJob(ctx, job, "job cancelled")
			return
		}

		executor, err := e.registry.Executor(job.PluginID, toolID)
		if err != nil {
			e.failJob(ctx, job, err.Error())
			return
		}

		fallbackUnits := e.fallbackUnits(job.PluginID, toolID, input)

		idx := i
		job.CurrentToolIndex = &idx
		job.ToolsCompleted = i
		job.UpdatedAt = time.Now()

		started := time.Now()
		result, err := e.executeTool(jobCtx, job, executor, toolID, i, toolWeight, fallbackUnits, input)
		if err != nil {
			e.tracker.Flush(job.ID)
			if jobCtx.Err() != nil {
				e.failJob(ctx, job, "job cancelled")
				return
			}
			// Fail fast: abort the pipeline, discard everything, keep
			// nothing partial.
			execErr := &models.ExecutionError{ToolID: toolID, Err: err}
			e.logger.Warn().
				Str("job_id", job.ID).
				Str("tool_id", toolID).
				Int("tool_index", i).
				Err(err).
				Msg("Tool failed, aborting job")
			e.failJob(ctx, job, execErr.Error())
			return
		}

		if result == nil {
			result = &models.ToolResult{ToolID: toolID}
		}
		if result.Duration == 0 {
			result.Duration = time.Since(started).Seconds()
		}
		results[toolID] = result
		job.ToolsCompleted = i + 1
	}

	// The final 100 uses the blocking enqueue: a saturated buffer may drop
	// intermediate reports, never the terminal one.
	e.tracker.ReportFinal(job.ID, n)
	e.tracker.Flush(job.ID)

	job.MarkCompleted(results)
	if err := e.storage.SaveJob(ctx, job); err != nil {
		e.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist completed state")
	}
	e.publishStatus(job)

	e.logger.Info().
		Str("job_id", job.ID).
		Int("tools", n).
		Msg("Job completed")
}

// executeTool runs one tool with progress flowing over a bounded channel.
// The engine owns the channel lifecycle; the drain goroutine converts unit
// progress to the job-global percentage and hands it to the tracker.
func (e *Engine) executeTool(
	ctx context.Context,
	job *models.Job,
	executor interfaces.ToolExecutor,
	toolID string,
	toolIndex int,
	toolWeight float64,
	fallbackUnits int,
	input models.MediaInput,
) (*models.ToolResult, error) {
	progressCh := make(chan interfaces.UnitProgress, unitProgressBuffer)
	drained := make(chan struct{})

	go func() {
		defer close(drained)
		for p := range progressCh {
			total := p.Total
			if total <= 0 {
				total = fallbackUnits
			}
			local := float64(p.Unit) / float64(total)
			if local < 0 {
				local = 0
			}
			if local > 1 {
				local = 1
			}
			global := int(math.Floor((float64(toolIndex) + local) * toolWeight))
			e.tracker.Report(job.ID, global, toolIndex, toolID, len(job.Tools))
		}
	}()

	result, err := executor.Execute(ctx, toolID, input, progressCh)
	close(progressCh)
	<-drained

	return result, err
}

// fallbackUnits resolves the total-unit estimate for a tool's input: probe
// first, then the tool's manifest override, then the engine default. Probe
// failure keeps progress monotonic and bounded instead of failing the job.
func (e *Engine) fallbackUnits(pluginID, toolID string, input models.MediaInput) int {
	if units, err := e.prober.EstimateUnits(input); err == nil && units > 0 {
		return units
	}

	if units := e.registry.ToolDefaultUnits(pluginID, toolID); units > 0 {
		e.logger.Debug().
			Str("plugin_id", pluginID).
			Str("tool_id", toolID).
			Int("units", units).
			Msg("Probe unavailable, using manifest default units")
		return units
	}

	e.logger.Debug().
		Str("plugin_id", pluginID).
		Str("tool_id", toolID).
		Int("units", e.config.DefaultUnits).
		Msg("Probe unavailable, using engine default units")
	return e.config.DefaultUnits
}

func (e *Engine) failJob(ctx context.Context, job *models.Job, errMsg string) {
	job.MarkFailed(errMsg)
	if err := e.storage.SaveJob(ctx, job); err != nil {
		e.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist failed state")
	}
	e.publishStatus(job)
}

func (e *Engine) publishStatus(job *models.Job) {
	snapshot := job.Snapshot()
	e.events.Publish(context.Background(), interfaces.Event{
		Type: interfaces.EventJobStatus,
		Payload: models.StatusPayload{
			JobID:    snapshot.ID,
			PluginID: snapshot.PluginID,
			Status:   snapshot.Status,
			Progress: snapshot.Progress,
			Error:    snapshot.Error,
		},
	})
}
