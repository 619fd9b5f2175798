package client

import "time"

// Timer is a cancellable scheduled callback handle.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired.
	Stop() bool
}

// Clock schedules callbacks. The production implementation wraps
// time.AfterFunc; tests inject a manual clock so backoff schedules are
// verifiable without real timers.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// NewRealClock returns a Clock backed by time.AfterFunc.
func NewRealClock() Clock {
	return realClock{}
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
