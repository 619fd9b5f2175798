// -----------------------------------------------------------------------
// Status Reconciler - merges push updates with the authoritative pull channel
// -----------------------------------------------------------------------

package client

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/argus/internal/models"
)

// StatusFetcher is the pull channel: an authoritative point-in-time status
// read, typically GET /api/jobs/{id}/status.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, jobID string) (*models.JobStatusReport, error)
}

// Reconciler tracks one job's status on the client side. Push messages give
// low latency; the pull channel gives authority. Once a pull observes a
// terminal status it is pinned: any push status or progress arriving
// afterwards is stale by definition and is discarded. Non-status traffic
// such as warnings is unaffected by pinning.
type Reconciler struct {
	jobID   string
	fetcher StatusFetcher
	logger  arbor.ILogger

	mu       sync.Mutex
	status   models.JobStatus
	progress *int
	errMsg   string
	pinned   bool

	// OnUpdate fires after every accepted state change, without the lock held.
	OnUpdate func(status models.JobStatus, progress *int)
	// OnWarning receives warning payloads pass-through, pinned or not.
	OnWarning func(payload interface{})
}

// NewReconciler creates a reconciler for one job.
func NewReconciler(jobID string, fetcher StatusFetcher, logger arbor.ILogger) *Reconciler {
	return &Reconciler{
		jobID:   jobID,
		fetcher: fetcher,
		logger:  logger,
		status:  models.JobStatusPending,
	}
}

// Reconcile pulls authoritative status and applies it. Push can only lag the
// true state, never lead it, so the pulled value always wins. Call this after
// every reconnect: any push messages missed during the gap are subsumed by
// the pull.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	report, err := r.fetcher.FetchStatus(ctx, r.jobID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.status = report.Status
	if report.Progress != nil {
		r.progress = report.Progress
	}
	r.errMsg = report.Error
	if report.Status.IsTerminal() {
		r.pinned = true
	}
	status, progress := r.status, r.progress
	r.mu.Unlock()

	r.logger.Debug().
		Str("job_id", r.jobID).
		Str("status", string(status)).
		Msg("Status reconciled")

	r.emit(status, progress)
	return nil
}

// HandleMessage applies one push message. Payloads arrive as decoded JSON
// maps off the wire; typed payloads from in-process tests work too.
func (r *Reconciler) HandleMessage(msg models.ProtocolMessage) {
	switch msg.Type {
	case models.MessageTypeProgress:
		var p models.ProgressPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			r.logger.Debug().Err(err).Msg("Undecodable progress payload")
			return
		}
		r.applyProgress(p.Progress)

	case models.MessageTypePluginStatus:
		var p models.StatusPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			r.logger.Debug().Err(err).Msg("Undecodable status payload")
			return
		}
		r.applyStatus(p.Status, p.Progress, p.Error)

	case models.MessageTypeWarning:
		if r.OnWarning != nil {
			r.OnWarning(msg.Payload)
		}
	}
}

// applyStatus applies a pushed status update unless a terminal state is
// pinned. Push never pins: only the pull channel is authoritative enough.
func (r *Reconciler) applyStatus(status models.JobStatus, progress *int, errMsg string) {
	r.mu.Lock()
	if r.pinned {
		r.mu.Unlock()
		return
	}
	r.status = status
	if progress != nil && (r.progress == nil || *progress > *r.progress) {
		r.progress = progress
	}
	if errMsg != "" {
		r.errMsg = errMsg
	}
	s, p := r.status, r.progress
	r.mu.Unlock()

	r.emit(s, p)
}

// applyProgress applies a pushed progress value. Reconnect replays and
// delayed frames can deliver stale values, so anything not strictly above
// the current progress is discarded. The pull channel is exempt: Reconcile
// overwrites unconditionally.
func (r *Reconciler) applyProgress(progress int) {
	r.mu.Lock()
	if r.pinned || (r.progress != nil && progress <= *r.progress) {
		r.mu.Unlock()
		return
	}
	r.progress = &progress
	s, p := r.status, r.progress
	r.mu.Unlock()

	r.emit(s, p)
}

// Status returns the current view of the job.
func (r *Reconciler) Status() (models.JobStatus, *int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.progress
}

// Err returns the job error message, if any.
func (r *Reconciler) Err() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errMsg
}

// Pinned reports whether a terminal status has been pinned from the pull
// channel.
func (r *Reconciler) Pinned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pinned
}

func (r *Reconciler) emit(status models.JobStatus, progress *int) {
	if r.OnUpdate != nil {
		r.OnUpdate(status, progress)
	}
}

// decodePayload converts a message payload to a typed struct. Off the wire
// the payload is a map[string]interface{}; round-tripping through JSON keeps
// one code path for both wire and in-process messages.
func decodePayload(payload interface{}, out interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
