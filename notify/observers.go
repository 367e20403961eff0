package notify

import (
	"go.uber.org/atomic"
)

// Counter is an Observer that counts events since the last reset.
type Counter struct {
	started  atomic.Int64
	finished atomic.Int64
	failed   atomic.Int64
}

// OnTaskStarted counts a start.
func (c *Counter) OnTaskStarted() {
	c.started.Inc()
}

// OnTaskFinished counts a finish.
func (c *Counter) OnTaskFinished() {
	c.finished.Inc()
}

// OnTaskFailed counts a failure.
func (c *Counter) OnTaskFailed(err error) {
	c.failed.Inc()
}

// OnTasksReset zeroes every count.
func (c *Counter) OnTasksReset() {
	c.started.Store(0)
	c.finished.Store(0)
	c.failed.Store(0)
}

// Started returns the number of started tasks.
func (c *Counter) Started() int64 { return c.started.Load() }

// Finished returns the number of finished tasks, failed ones included.
func (c *Counter) Finished() int64 { return c.finished.Load() }

// Failed returns the number of failed tasks.
func (c *Counter) Failed() int64 { return c.failed.Load() }

// InFlight returns started minus finished. It can go negative for tasks that started before the
// last reset and finished after it.
func (c *Counter) InFlight() int64 { return c.started.Load() - c.finished.Load() }

// EventKind tags an Event.
type EventKind int

const (
	// TaskStarted is sent when a task starts.
	TaskStarted EventKind = iota
	// TaskFinished is sent when a task finishes, failed or not.
	TaskFinished
	// TaskFailed precedes the TaskFinished event of a failed task and carries its error.
	TaskFailed
	// TasksReset is sent when counting starts over.
	TasksReset
)

func (k EventKind) String() string {
	switch k {
	case TaskStarted:
		return "started"
	case TaskFinished:
		return "finished"
	case TaskFailed:
		return "failed"
	case TasksReset:
		return "reset"
	}
	return "unknown"
}

// Event is one notification delivered by a ChannelObserver.
type Event struct {
	Kind EventKind
	Err  error
}

// ChannelObserver forwards events to a buffered channel. Events that do not fit are dropped and
// counted rather than blocking the task.
type ChannelObserver struct {
	events  chan Event
	dropped atomic.Uint64
}

// NewChannelObserver returns an observer whose channel holds up to size events.
func NewChannelObserver(size int) *ChannelObserver {
	return &ChannelObserver{events: make(chan Event, size)}
}

// Events returns the receive side of the event channel.
func (c *ChannelObserver) Events() <-chan Event {
	return c.events
}

// Dropped returns how many events did not fit.
func (c *ChannelObserver) Dropped() uint64 {
	return c.dropped.Load()
}

func (c *ChannelObserver) send(e Event) {
	select {
	case c.events <- e:
	default:
		c.dropped.Inc()
	}
}

// OnTaskStarted sends a TaskStarted event.
func (c *ChannelObserver) OnTaskStarted() {
	c.send(Event{Kind: TaskStarted})
}

// OnTaskFailed sends a TaskFailed event carrying err.
func (c *ChannelObserver) OnTaskFailed(err error) {
	c.send(Event{Kind: TaskFailed, Err: err})
}

// OnTaskFinished sends a TaskFinished event.
func (c *ChannelObserver) OnTaskFinished() {
	c.send(Event{Kind: TaskFinished})
}

// OnTasksReset sends a TasksReset event.
func (c *ChannelObserver) OnTasksReset() {
	c.send(Event{Kind: TasksReset})
}
