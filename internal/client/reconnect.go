// -----------------------------------------------------------------------
// Reconnector - client connection state machine with bounded backoff
// -----------------------------------------------------------------------

package client

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/argus/internal/common"
	"github.com/ternarybob/argus/internal/models"
)

// ConnState is a client connection lifecycle state.
type ConnState string

const (
	StateIdle         ConnState = "IDLE"
	StateConnecting   ConnState = "CONNECTING"
	StateConnected    ConnState = "CONNECTED"
	StateDisconnected ConnState = "DISCONNECTED"
	StateReconnecting ConnState = "RECONNECTING"
	StateClosed       ConnState = "CLOSED"
)

// connEvent drives the pure transition function.
type connEvent string

const (
	evConnect     connEvent = "connect"
	evEstablished connEvent = "established"
	evLost        connEvent = "lost"
	evRetryDue    connEvent = "retry_due"
	evExhausted   connEvent = "exhausted"
	evClose       connEvent = "close"
)

// transition is the pure state transition function. It returns the next
// state and whether the (state, event) pair is legal.
func transition(state ConnState, ev connEvent) (ConnState, bool) {
	if ev == evClose {
		// Explicit close is terminal from every state.
		return StateClosed, state != StateClosed
	}

	switch state {
	case StateIdle:
		if ev == evConnect {
			return StateConnecting, true
		}
	case StateConnecting:
		switch ev {
		case evEstablished:
			return StateConnected, true
		case evLost:
			return StateDisconnected, true
		}
	case StateConnected:
		if ev == evLost {
			return StateDisconnected, true
		}
	case StateDisconnected:
		switch ev {
		case evConnect:
			return StateReconnecting, true
		case evExhausted:
			return StateClosed, true
		}
	case StateReconnecting:
		if ev == evRetryDue {
			return StateConnecting, true
		}
	}
	return state, false
}

// ReconnectPolicy holds the backoff schedule.
type ReconnectPolicy struct {
	// BaseDelay is the first retry delay; attempt k waits BaseDelay<<(k-1).
	BaseDelay time.Duration
	// MaxAttempts is the number of retries before giving up. The attempt
	// after MaxAttempts transitions to CLOSED with no timer scheduled.
	MaxAttempts int
}

// DefaultReconnectPolicy is the documented 1,2,4,8,16s schedule.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{BaseDelay: time.Second, MaxAttempts: 5}
}

// PolicyFromConfig builds a ReconnectPolicy from the [reconnect] config
// section. Unparseable or non-positive values fall back to the defaults
// rather than failing, so a bad config line cannot disable reconnection.
func PolicyFromConfig(cfg common.ReconnectConfig) ReconnectPolicy {
	policy := DefaultReconnectPolicy()
	if d, err := time.ParseDuration(cfg.BaseDelay); err == nil && d > 0 {
		policy.BaseDelay = d
	}
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	return policy
}

// Callbacks observe the reconnector. All callbacks are optional and are
// invoked without the internal lock held.
type Callbacks struct {
	// Dial performs one connection attempt, blocking until the connection
	// is established or fails.
	Dial func(ctx context.Context) error
	// OnStateChange fires on every transition.
	OnStateChange func(from, to ConnState)
	// OnReconnected fires after a successful re-establish (not the first
	// connect). Consumers hook pull-based status reconciliation here.
	OnReconnected func()
	// OnGiveUp fires when the retry budget is exhausted. This is a
	// subscriber-level condition, never a job failure.
	OnGiveUp func(err *models.TimeoutError)
}

// Reconnector governs a client connection through connect, disconnect and
// bounded-backoff retry. A generation counter makes timer cancellation
// race-free: a timer that fires after Close or a newer schedule is a no-op.
type Reconnector struct {
	mu       sync.Mutex
	state    ConnState
	attempts int

	policy ReconnectPolicy
	clock  Clock
	cb     Callbacks
	logger arbor.ILogger

	timer    Timer
	timerGen uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewReconnector creates a reconnector in IDLE.
func NewReconnector(policy ReconnectPolicy, clock Clock, cb Callbacks, logger arbor.ILogger) *Reconnector {
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Second
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 5
	}
	if clock == nil {
		clock = NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconnector{
		state:  StateIdle,
		policy: policy,
		clock:  clock,
		cb:     cb,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// State returns the current connection state.
func (r *Reconnector) State() ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Attempts returns the current retry attempt count.
func (r *Reconnector) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Connect starts the first connection attempt from IDLE.
func (r *Reconnector) Connect() {
	r.mu.Lock()
	next, ok := transition(r.state, evConnect)
	if !ok || next != StateConnecting {
		r.mu.Unlock()
		return
	}
	from := r.state
	r.state = next
	r.mu.Unlock()

	r.notify(from, next)
	go r.dial()
}

// ConnectionLost reports an unexpected close of an established (or
// in-flight) connection and schedules the next retry.
func (r *Reconnector) ConnectionLost(err error) {
	r.mu.Lock()
	next, ok := transition(r.state, evLost)
	if !ok {
		r.mu.Unlock()
		return
	}
	from := r.state
	r.state = next
	r.mu.Unlock()

	if err != nil {
		r.logger.Debug().Err(err).Msg("Connection lost")
	}
	r.notify(from, next)
	r.scheduleRetry()
}

// Close is the explicit, client-initiated shutdown. It is terminal: any
// pending retry timer is cancelled and no further attempts occur. A timer
// that already fired concurrently becomes a no-op via the generation check.
func (r *Reconnector) Close() {
	r.mu.Lock()
	next, ok := transition(r.state, evClose)
	if !ok {
		r.mu.Unlock()
		return
	}
	from := r.state
	r.state = next
	r.timerGen++
	timer := r.timer
	r.timer = nil
	r.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	r.cancel()
	r.notify(from, next)
}

func (r *Reconnector) dial() {
	var err error
	if r.cb.Dial != nil {
		err = r.cb.Dial(r.ctx)
	}

	r.mu.Lock()
	if r.state != StateConnecting {
		// Closed (or otherwise moved on) while dialing.
		r.mu.Unlock()
		return
	}

	if err == nil {
		from := r.state
		r.state = StateConnected
		wasRetry := r.attempts > 0
		r.attempts = 0
		r.mu.Unlock()

		r.notify(from, StateConnected)
		if wasRetry && r.cb.OnReconnected != nil {
			r.cb.OnReconnected()
		}
		return
	}

	from := r.state
	r.state = StateDisconnected
	r.mu.Unlock()

	r.logger.Debug().Err(err).Msg("Dial failed")
	r.notify(from, StateDisconnected)
	r.scheduleRetry()
}

// scheduleRetry advances the attempt counter and either arms the backoff
// timer or gives up once the budget is spent.
func (r *Reconnector) scheduleRetry() {
	r.mu.Lock()
	if r.state != StateDisconnected {
		r.mu.Unlock()
		return
	}

	r.attempts++
	if r.attempts > r.policy.MaxAttempts {
		exhausted := r.attempts - 1
		from := r.state
		r.state = StateClosed
		r.mu.Unlock()

		r.cancel()
		r.notify(from, StateClosed)
		if r.cb.OnGiveUp != nil {
			r.cb.OnGiveUp(&models.TimeoutError{Attempts: exhausted})
		}
		return
	}

	from := r.state
	r.state = StateReconnecting
	delay := r.policy.BaseDelay << (r.attempts - 1)
	r.timerGen++
	gen := r.timerGen
	r.timer = r.clock.AfterFunc(delay, func() { r.retryDue(gen) })
	attempt := r.attempts
	r.mu.Unlock()

	r.logger.Debug().
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("Reconnect scheduled")
	r.notify(from, StateReconnecting)
}

// retryDue fires when the backoff timer elapses. A stale generation means
// the timer was cancelled after firing was already committed; it does
// nothing.
func (r *Reconnector) retryDue(gen uint64) {
	r.mu.Lock()
	if gen != r.timerGen || r.state != StateReconnecting {
		r.mu.Unlock()
		return
	}
	from := r.state
	r.state = StateConnecting
	r.timer = nil
	r.mu.Unlock()

	r.notify(from, StateConnecting)
	go r.dial()
}

func (r *Reconnector) notify(from, to ConnState) {
	if r.cb.OnStateChange != nil {
		r.cb.OnStateChange(from, to)
	}
}
