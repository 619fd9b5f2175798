package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/argus/internal/common"
	"github.com/ternarybob/argus/internal/models"
)

// manualClock collects scheduled timers and fires them on demand.
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{}
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &manualTimer{clock: c, delay: d, f: f}
	c.timers = append(c.timers, timer)
	return timer
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired {
		return false
	}
	t.stopped = true
	return true
}

// firePending fires the most recently scheduled live timer, returning its
// delay.
func (c *manualClock) firePending(t *testing.T) time.Duration {
	t.Helper()
	c.mu.Lock()
	var target *manualTimer
	for i := len(c.timers) - 1; i >= 0; i-- {
		if !c.timers[i].fired && !c.timers[i].stopped {
			target = c.timers[i]
			break
		}
	}
	if target == nil {
		c.mu.Unlock()
		t.Fatal("no pending timer to fire")
	}
	target.fired = true
	f := target.f
	delay := target.delay
	c.mu.Unlock()

	f()
	return delay
}

func (c *manualClock) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, timer := range c.timers {
		if !timer.fired && !timer.stopped {
			n++
		}
	}
	return n
}

// failNDialer fails the first n dials, then succeeds.
type failNDialer struct {
	mu    sync.Mutex
	fails int
	calls int
	done  chan struct{} // signalled after every dial returns
}

func newFailNDialer(fails int) *failNDialer {
	return &failNDialer{fails: fails, done: make(chan struct{}, 64)}
}

func (d *failNDialer) dial(ctx context.Context) error {
	d.mu.Lock()
	d.calls++
	call := d.calls
	d.mu.Unlock()

	defer func() { d.done <- struct{}{} }()
	if call <= d.fails {
		return errors.New("connection refused")
	}
	return nil
}

func (d *failNDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *failNDialer) waitDial(t *testing.T) {
	t.Helper()
	select {
	case <-d.done:
	case <-time.After(5 * time.Second):
		t.Fatal("dial never completed")
	}
}

func waitForState(t *testing.T, r *Reconnector, want ConnState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state never reached %s, still %s", want, r.State())
}

func TestBackoffScheduleDoublesPerAttempt(t *testing.T) {
	clock := newManualClock()
	dialer := newFailNDialer(100) // always fails

	r := NewReconnector(DefaultReconnectPolicy(), clock, Callbacks{Dial: dialer.dial}, arbor.NewLogger())
	defer r.Close()

	r.Connect()
	dialer.waitDial(t)
	waitForState(t, r, StateReconnecting)

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}

	// The first failed dial already scheduled attempt 1.
	for i, expected := range want {
		got := clock.firePending(t)
		if got != expected {
			t.Fatalf("attempt %d: expected delay %v, got %v", i+1, expected, got)
		}
		dialer.waitDial(t)
		if i < len(want)-1 {
			waitForState(t, r, StateReconnecting)
		}
	}

	// Attempt 6 does not exist: the machine is CLOSED with no timer armed.
	waitForState(t, r, StateClosed)
	if clock.pendingCount() != 0 {
		t.Fatalf("expected no pending timer after giving up, got %d", clock.pendingCount())
	}
}

func TestGiveUpReportsTimeoutError(t *testing.T) {
	clock := newManualClock()
	dialer := newFailNDialer(100)

	var mu sync.Mutex
	var gaveUp *models.TimeoutError

	r := NewReconnector(DefaultReconnectPolicy(), clock, Callbacks{
		Dial: dialer.dial,
		OnGiveUp: func(err *models.TimeoutError) {
			mu.Lock()
			gaveUp = err
			mu.Unlock()
		},
	}, arbor.NewLogger())
	defer r.Close()

	r.Connect()
	dialer.waitDial(t)

	for i := 0; i < 5; i++ {
		waitForState(t, r, StateReconnecting)
		clock.firePending(t)
		dialer.waitDial(t)
	}

	waitForState(t, r, StateClosed)

	mu.Lock()
	defer mu.Unlock()
	if gaveUp == nil {
		t.Fatal("expected OnGiveUp callback")
	}
	if gaveUp.Attempts != 5 {
		t.Fatalf("expected 5 attempts reported, got %d", gaveUp.Attempts)
	}
}

func TestSuccessfulReconnectResetsAttempts(t *testing.T) {
	clock := newManualClock()
	dialer := newFailNDialer(2) // two failures, then success

	reconnected := make(chan struct{}, 1)
	r := NewReconnector(DefaultReconnectPolicy(), clock, Callbacks{
		Dial:          dialer.dial,
		OnReconnected: func() { reconnected <- struct{}{} },
	}, arbor.NewLogger())
	defer r.Close()

	r.Connect()
	dialer.waitDial(t)
	waitForState(t, r, StateReconnecting)

	clock.firePending(t) // attempt 1 fails
	dialer.waitDial(t)
	waitForState(t, r, StateReconnecting)

	clock.firePending(t) // attempt 2 succeeds
	dialer.waitDial(t)
	waitForState(t, r, StateConnected)

	select {
	case <-reconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("OnReconnected never fired")
	}

	if r.Attempts() != 0 {
		t.Fatalf("expected attempts reset on success, got %d", r.Attempts())
	}

	// The next disconnect starts the schedule over at 1s.
	r.ConnectionLost(errors.New("read: connection reset"))
	waitForState(t, r, StateReconnecting)
	if got := clock.firePending(t); got != 1*time.Second {
		t.Fatalf("expected schedule reset to 1s, got %v", got)
	}
}

func TestFirstConnectDoesNotFireOnReconnected(t *testing.T) {
	clock := newManualClock()
	dialer := newFailNDialer(0) // immediate success

	fired := make(chan struct{}, 1)
	r := NewReconnector(DefaultReconnectPolicy(), clock, Callbacks{
		Dial:          dialer.dial,
		OnReconnected: func() { fired <- struct{}{} },
	}, arbor.NewLogger())
	defer r.Close()

	r.Connect()
	dialer.waitDial(t)
	waitForState(t, r, StateConnected)

	select {
	case <-fired:
		t.Fatal("OnReconnected must not fire on the first connect")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseDuringReconnectingCancelsTimer(t *testing.T) {
	clock := newManualClock()
	dialer := newFailNDialer(100)

	r := NewReconnector(DefaultReconnectPolicy(), clock, Callbacks{Dial: dialer.dial}, arbor.NewLogger())

	r.Connect()
	dialer.waitDial(t)
	waitForState(t, r, StateReconnecting)

	r.Close()

	if r.State() != StateClosed {
		t.Fatalf("expected CLOSED, got %s", r.State())
	}
	if clock.pendingCount() != 0 {
		t.Fatalf("expected pending timer cancelled, got %d", clock.pendingCount())
	}
}

func TestTimerFiringAfterCloseIsNoOp(t *testing.T) {
	clock := newManualClock()
	dialer := newFailNDialer(100)

	r := NewReconnector(DefaultReconnectPolicy(), clock, Callbacks{Dial: dialer.dial}, arbor.NewLogger())

	r.Connect()
	dialer.waitDial(t)
	waitForState(t, r, StateReconnecting)

	// Simulate the race where the timer callback has already been committed
	// to run when Close lands: fire it manually after Close.
	clock.mu.Lock()
	var timer *manualTimer
	for _, candidate := range clock.timers {
		if !candidate.fired && !candidate.stopped {
			timer = candidate
		}
	}
	clock.mu.Unlock()
	if timer == nil {
		t.Fatal("expected a pending timer")
	}

	r.Close()
	timer.f() // fires despite Stop: the generation check must reject it

	time.Sleep(20 * time.Millisecond)
	if r.State() != StateClosed {
		t.Fatalf("stale timer resurrected the machine: %s", r.State())
	}

	callsBefore := dialer.callCount()
	time.Sleep(20 * time.Millisecond)
	if dialer.callCount() != callsBefore {
		t.Fatal("stale timer triggered a dial")
	}
}

func TestCloseIsTerminal(t *testing.T) {
	r := NewReconnector(DefaultReconnectPolicy(), newManualClock(), Callbacks{}, arbor.NewLogger())

	r.Close()
	r.Connect()
	r.ConnectionLost(errors.New("late disconnect"))

	if r.State() != StateClosed {
		t.Fatalf("expected CLOSED to be terminal, got %s", r.State())
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from ConnState
		ev   connEvent
		to   ConnState
		ok   bool
	}{
		{StateIdle, evConnect, StateConnecting, true},
		{StateConnecting, evEstablished, StateConnected, true},
		{StateConnecting, evLost, StateDisconnected, true},
		{StateConnected, evLost, StateDisconnected, true},
		{StateDisconnected, evConnect, StateReconnecting, true},
		{StateDisconnected, evExhausted, StateClosed, true},
		{StateReconnecting, evRetryDue, StateConnecting, true},
		{StateConnected, evClose, StateClosed, true},
		{StateClosed, evConnect, StateClosed, false},
		{StateIdle, evRetryDue, StateIdle, false},
		{StateConnected, evEstablished, StateConnected, false},
	}

	for _, tc := range cases {
		got, ok := transition(tc.from, tc.ev)
		if got != tc.to || ok != tc.ok {
			t.Errorf("transition(%s, %s) = (%s, %v), want (%s, %v)", tc.from, tc.ev, got, ok, tc.to, tc.ok)
		}
	}
}

func TestPolicyFromConfig(t *testing.T) {
	policy := PolicyFromConfig(common.ReconnectConfig{BaseDelay: "250ms", MaxAttempts: 8})
	if policy.BaseDelay != 250*time.Millisecond {
		t.Fatalf("expected base delay 250ms, got %v", policy.BaseDelay)
	}
	if policy.MaxAttempts != 8 {
		t.Fatalf("expected 8 attempts, got %d", policy.MaxAttempts)
	}
}

func TestPolicyFromConfigFallsBackOnBadValues(t *testing.T) {
	def := DefaultReconnectPolicy()

	policy := PolicyFromConfig(common.ReconnectConfig{BaseDelay: "soon", MaxAttempts: 0})
	if policy != def {
		t.Fatalf("expected defaults for unparseable config, got %+v", policy)
	}

	policy = PolicyFromConfig(common.ReconnectConfig{BaseDelay: "-1s", MaxAttempts: -3})
	if policy != def {
		t.Fatalf("expected defaults for non-positive config, got %+v", policy)
	}
}
