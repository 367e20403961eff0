// Package notify reports the start and finish of asynchronous units of work, such as one file of
// a persisted frame, to any number of observers.
package notify

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/identify/scanengine/logging"
)

// Observer is told when a task starts and when it finishes. Calls come from whichever goroutine
// runs the task and must return quickly.
type Observer interface {
	OnTaskStarted()
	OnTaskFinished()
}

// FailureObserver is optionally implemented by observers that want the error of failed tasks.
// OnTaskFailed is called before OnTaskFinished.
type FailureObserver interface {
	OnTaskFailed(err error)
}

// ResetObserver is optionally implemented by observers that track in-flight counts. It is called
// when a new recording starts with zero tasks in flight.
type ResetObserver interface {
	OnTasksReset()
}

type registration struct {
	id       uint64
	observer Observer
}

// Notifier fans task events out to registered observers in registration order.
type Notifier struct {
	mu        sync.RWMutex
	observers []registration
	nextID    uint64

	inFlight atomic.Int64
	started  atomic.Uint64
	finished atomic.Uint64
	failed   atomic.Uint64

	logger logging.Logger
}

// NewNotifier returns a Notifier with no observers.
func NewNotifier(logger logging.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// Register adds an observer and returns a function that removes it. The returned function is
// safe to call more than once.
func (n *Notifier) Register(o Observer) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	n.observers = append(n.observers, registration{id: id, observer: o})

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			for i, reg := range n.observers {
				if reg.id == id {
					n.observers = append(n.observers[:i:i], n.observers[i+1:]...)
					return
				}
			}
		})
	}
}

func (n *Notifier) each(fn func(o Observer)) {
	n.mu.RLock()
	observers := n.observers
	n.mu.RUnlock()

	for _, reg := range observers {
		fn(reg.observer)
	}
}

// Start reports a task start and returns the function that reports its completion. A nil error
// means success. The returned function only reports once.
func (n *Notifier) Start() func(err error) {
	n.inFlight.Inc()
	n.started.Inc()
	n.each(func(o Observer) { o.OnTaskStarted() })

	var once sync.Once
	return func(err error) {
		once.Do(func() { n.finish(err) })
	}
}

func (n *Notifier) finish(err error) {
	n.inFlight.Dec()
	n.finished.Inc()
	if err != nil {
		n.failed.Inc()
		n.logger.Debugw("task failed", "error", err)
	}
	n.each(func(o Observer) {
		if err != nil {
			if fo, ok := o.(FailureObserver); ok {
				fo.OnTaskFailed(err)
			}
		}
		o.OnTaskFinished()
	})
}

// Reset tells observers that tracking starts over from zero tasks. Tasks still in flight keep
// reporting their completion.
func (n *Notifier) Reset() {
	n.each(func(o Observer) {
		if ro, ok := o.(ResetObserver); ok {
			ro.OnTasksReset()
		}
	})
}

// Stats is a snapshot of the notifier's lifetime counters.
type Stats struct {
	InFlight int64
	Started  uint64
	Finished uint64
	Failed   uint64
}

// Stats returns the notifier's lifetime counters.
func (n *Notifier) Stats() Stats {
	return Stats{
		InFlight: n.inFlight.Load(),
		Started:  n.started.Load(),
		Finished: n.finished.Load(),
		Failed:   n.failed.Load(),
	}
}
