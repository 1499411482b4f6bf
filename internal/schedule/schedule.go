// Package schedule abstracts delayed task execution so escalation and
// retry timers can be driven manually in tests.
package schedule

import "time"

// Handle refers to one scheduled task.
type Handle interface {
	// Cancel stops the task if it has not run yet and reports whether it
	// was stopped before running.
	Cancel() bool
}

// Scheduler runs functions after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Handle
	Now() time.Time
}

// New returns the wall-clock scheduler backed by time.AfterFunc.
func New() Scheduler {
	return realScheduler{}
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, fn func()) Handle {
	return timerHandle{timer: time.AfterFunc(d, fn)}
}

func (realScheduler) Now() time.Time {
	return time.Now()
}

type timerHandle struct {
	timer *time.Timer
}

func (h timerHandle) Cancel() bool {
	return h.timer.Stop()
}
