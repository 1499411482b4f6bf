package schedule

import (
	"sort"
	"sync"
	"time"
)

// Fake is a deterministic Scheduler for tests. Time only moves when
// Advance is called; due tasks run on the advancing goroutine in due
// order, then registration order.
type Fake struct {
	mu    sync.Mutex
	now   time.Time
	seq   int
	tasks []*fakeTask
}

type fakeTask struct {
	fake      *Fake
	due       time.Time
	seq       int
	fn        func()
	cancelled bool
	done      bool
}

// NewFake returns a fake scheduler anchored at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTask{fake: f, due: f.now.Add(d), seq: f.seq, fn: fn}
	f.tasks = append(f.tasks, t)
	return t
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward and runs every task that becomes due,
// including tasks scheduled by the tasks themselves.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		task := f.popDue(target)
		if task == nil {
			break
		}
		task.fn()
	}

	f.mu.Lock()
	f.now = target
	f.mu.Unlock()
}

// Pending reports how many tasks are scheduled and not yet run.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tasks {
		if !t.done && !t.cancelled {
			n++
		}
	}
	return n
}

// NextDue returns the due time of the earliest pending task.
func (f *Fake) NextDue() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var (
		best  time.Time
		found bool
	)
	for _, t := range f.tasks {
		if t.done || t.cancelled {
			continue
		}
		if !found || t.due.Before(best) {
			best = t.due
			found = true
		}
	}
	return best, found
}

// popDue removes and returns the earliest task due at or before target,
// advancing the clock to its due time. Returns nil when nothing is due.
func (f *Fake) popDue(target time.Time) *fakeTask {
	f.mu.Lock()
	defer f.mu.Unlock()

	pending := f.tasks[:0]
	for _, t := range f.tasks {
		if !t.done && !t.cancelled {
			pending = append(pending, t)
		}
	}
	f.tasks = pending

	sort.SliceStable(f.tasks, func(i, j int) bool {
		if f.tasks[i].due.Equal(f.tasks[j].due) {
			return f.tasks[i].seq < f.tasks[j].seq
		}
		return f.tasks[i].due.Before(f.tasks[j].due)
	})

	if len(f.tasks) == 0 || f.tasks[0].due.After(target) {
		return nil
	}

	task := f.tasks[0]
	task.done = true
	if task.due.After(f.now) {
		f.now = task.due
	}
	return task
}

func (t *fakeTask) Cancel() bool {
	t.fake.mu.Lock()
	defer t.fake.mu.Unlock()
	if t.done || t.cancelled {
		return false
	}
	t.cancelled = true
	return true
}
