// Package timer implements the bounded timer-queue pool and the
// periodic-task wheel of spec.md §4.C: timers carry an interval,
// optional wall-clock boundary alignment, and a removal-priority level;
// cancellation is synchronous and races with an in-flight callback are
// resolved with a generation counter, per spec.md §9.
package timer

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrTooMany is returned by Pool.AddQueue when the pool is exhausted of
// slots.
var ErrTooMany = errors.New("timer: too many queues")

// Callback is invoked when a Timer fires. user is the Timer's opaque
// User value, handed back unmodified.
type Callback func(user interface{})

// Timer is one scheduled, possibly-recurring callback.
type Timer struct {
	IntervalMS int64
	Boundary   bool // align first fire to the next wall-clock boundary
	Level      int  // removal-priority tag; stored only, Queue does not consult it
	Callback   Callback
	User       interface{}

	queue      *Queue
	generation uint64
	nextFire   time.Time
	stopped    bool
	mu         sync.Mutex
}

// Remove cancels the timer. If its callback is currently running, Remove
// blocks until it returns — cancellation is synchronous per spec.md §4.C.
func (t *Timer) Remove() {
	t.mu.Lock()
	t.stopped = true
	myGen := t.generation
	t.mu.Unlock()

	t.queue.remove(t, myGen)
}

// Queue is one timer queue, served by its own worker goroutine. Timers
// added to a Queue fire in monotonic order relative to each other.
type Queue struct {
	mu      sync.Mutex
	timers  []*Timer
	wake    chan struct{}
	done    chan struct{}
	running sync.WaitGroup
}

func newQueue() *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	q.running.Add(1)
	go q.run()
	return q
}

// Add schedules t on this queue and starts its worker-visible countdown.
func (q *Queue) Add(t *Timer) {
	now := time.Now()
	if t.Boundary && t.IntervalMS > 0 {
		interval := time.Duration(t.IntervalMS) * time.Millisecond
		rem := now.UnixNano() % int64(interval)
		t.nextFire = now.Add(interval - time.Duration(rem))
	} else {
		t.nextFire = now.Add(time.Duration(t.IntervalMS) * time.Millisecond)
	}
	t.queue = q

	q.mu.Lock()
	q.timers = append(q.timers, t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) remove(t *Timer, generation uint64) {
	_ = generation
	q.mu.Lock()
	for i, qt := range q.timers {
		if qt == t {
			q.timers = append(q.timers[:i], q.timers[i+1:]...)
			break
		}
	}
	q.mu.Unlock()
	// Wait for any in-flight callback to finish: run() holds t.mu around
	// invoking the callback, so acquiring and releasing it here is
	// sufficient to observe completion even if fireDue() already popped
	// t off the queue and is mid-callback when Remove is called.
	t.mu.Lock()
	t.mu.Unlock()
}

func (q *Queue) run() {
	defer q.running.Done()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-q.done:
			return
		case <-ticker.C:
			q.fireDue()
		case <-q.wake:
			q.fireDue()
		}
	}
}

func (q *Queue) fireDue() {
	now := time.Now()

	q.mu.Lock()
	var due []*Timer
	kept := q.timers[:0]
	for _, t := range q.timers {
		if !now.Before(t.nextFire) {
			due = append(due, t)
		} else {
			kept = append(kept, t)
		}
	}
	q.timers = kept
	q.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].nextFire.Before(due[j].nextFire) })
	for _, t := range due {
		t.mu.Lock()
		stopped := t.stopped
		gen := t.generation
		t.mu.Unlock()
		if stopped {
			continue
		}

		t.mu.Lock()
		if !t.stopped && t.generation == gen {
			t.Callback(t.User)
			t.generation++
		}
		t.mu.Unlock()

		if t.IntervalMS > 0 && !t.stopped {
			q.Add(t)
		}
	}
}

func (q *Queue) stop() {
	close(q.done)
	q.running.Wait()
}

// Pool is a bounded set of Queues, as spec.md §4.C describes: the caller
// may add queues up to Max, and AddQueue fails with ErrTooMany past that.
type Pool struct {
	mu     sync.Mutex
	queues []*Queue
	max    int
}

// NewPool creates an empty pool bounded at max queues.
func NewPool(max int) *Pool {
	return &Pool{max: max}
}

// AddQueue creates and returns a new Queue, or ErrTooMany if the pool is
// already at capacity.
func (p *Pool) AddQueue() (*Queue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queues) >= p.max {
		return nil, ErrTooMany
	}
	q := newQueue()
	p.queues = append(p.queues, q)
	return q, nil
}

// Len returns the number of queues currently in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queues)
}

// Stop tears down every queue's worker goroutine.
func (p *Pool) Stop() {
	p.mu.Lock()
	queues := append([]*Queue(nil), p.queues...)
	p.queues = nil
	p.mu.Unlock()
	for _, q := range queues {
		q.stop()
	}
}
