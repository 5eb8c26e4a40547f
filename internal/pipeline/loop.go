package pipeline

import (
	"container/heap"
	"context"
	"log/slog"
	"time"
)

// refreshable is anything the loop's data-plane tick advances. A
// session.Slot satisfies this structurally: sweeping expired sessions
// and reporting when it next wants to be checked again (spec.md
// §4.7's "returns the next earliest deadline").
type refreshable interface {
	Refresh(now time.Time) time.Duration
}

type deadlineEntry struct {
	target   refreshable
	deadline time.Time
	index    int
}

// deadlineHeap is a container/heap.Interface min-heap ordered by
// deadline, generalizing the closest-node heap technique from
// dht/routing.go's nodeHeap into a priority queue of refresh
// deadlines instead of XOR distances.
type deadlineHeap []*deadlineEntry

func (h deadlineHeap) Len() int { return len(h) }

func (h deadlineHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }

func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x any) {
	e := x.(*deadlineEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Loop is the single-goroutine task-serialized control plane of
// spec.md §4.7: one owner goroutine drains a multi-producer task
// channel and a deadline-ordered refresh heap, guaranteeing no
// data-plane refresh runs concurrently with a control-plane mutation.
type Loop struct {
	tasks   chan *Task
	entries deadlineHeap
	log     *slog.Logger

	idleInterval time.Duration
}

// NewLoop returns a Loop with a bounded task queue. idleInterval
// bounds how long the loop sleeps when nothing is tracked yet.
func NewLoop(idleInterval time.Duration) *Loop {
	if idleInterval <= 0 {
		idleInterval = time.Second
	}
	l := &Loop{
		tasks:        make(chan *Task, 256),
		log:          slog.Default().With("component", "PipelineLoop"),
		idleInterval: idleInterval,
	}
	heap.Init(&l.entries)
	return l
}

// Schedule posts fn to the loop and returns immediately; the returned
// channel receives fn's result once the loop has executed it.
func (l *Loop) Schedule(fn func() (any, error)) <-chan Result {
	t := NewTask(fn)
	l.tasks <- t
	return t.done
}

// ScheduleAndWait posts fn and blocks until the loop has executed it,
// per spec.md §4.7's caller contract.
func (l *Loop) ScheduleAndWait(fn func() (any, error)) (any, error) {
	res := <-l.Schedule(fn)
	return res.Value, res.Err
}

// Track adds target to the loop's refresh schedule, due immediately.
// Only the loop's own goroutine may call this once Run has started;
// callers elsewhere should go through Schedule/ScheduleAndWait so
// tracking a new slot is itself a serialized control-plane mutation.
func (l *Loop) Track(target refreshable) {
	heap.Push(&l.entries, &deadlineEntry{target: target, deadline: time.Now()})
}

// Run drives the loop until ctx is cancelled. Each iteration wakes at
// the earliest of (next refresh deadline, a posted task) and handles
// exactly one of those before recomputing its wait, per spec.md §5's
// "the pipeline loop itself never yields mid-refresh" rule and §4.7's
// task/refresh interleaving.
func (l *Loop) Run(ctx context.Context) {
	timer := time.NewTimer(l.nextWait())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("pipeline loop stopping")
			return
		case t := <-l.tasks:
			v, err := t.Run()
			t.complete(v, err)
		case <-timer.C:
			l.refreshDue()
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(l.nextWait())
	}
}

func (l *Loop) nextWait() time.Duration {
	if l.entries.Len() == 0 {
		return l.idleInterval
	}
	d := time.Until(l.entries[0].deadline)
	if d < 0 {
		return 0
	}
	return d
}

func (l *Loop) refreshDue() {
	now := time.Now()
	for l.entries.Len() > 0 && !l.entries[0].deadline.After(now) {
		e := heap.Pop(&l.entries).(*deadlineEntry)
		wait := e.target.Refresh(now)
		if wait <= 0 {
			wait = l.idleInterval
		}
		e.deadline = now.Add(wait)
		heap.Push(&l.entries, e)
	}
}
