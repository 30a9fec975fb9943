package server

import (
	"context"
	"sync"
	"time"
)

// supervisor owns the set of running sessions and the queue of sessions
// accepted but not yet started.
//
// Its loop wakes every interval, or early when a session is queued or ends.
// Each cycle first drops sessions whose goroutine has returned, then starts
// queued sessions. A session joins the active set only after its goroutine
// has been launched.
type supervisor struct {
	queue    chan *session
	wake     chan struct{}
	interval time.Duration
	bounded  bool
	metrics  MetricsCollector

	mu      sync.Mutex
	active  map[*session]struct{}
	stopped bool

	wg sync.WaitGroup
}

func newSupervisor(limit int, interval time.Duration, metrics MetricsCollector) *supervisor {
	size := limit
	if size <= 0 {
		size = 64
	}
	return &supervisor{
		queue:    make(chan *session, size),
		wake:     make(chan struct{}, 1),
		interval: interval,
		bounded:  limit > 0,
		metrics:  metrics,
		active:   make(map[*session]struct{}),
	}
}

// enqueue hands a session over for admission. With a connection limit it
// never blocks; without one it waits for room in the queue.
func (sv *supervisor) enqueue(ctx context.Context, s *session) bool {
	if sv.bounded {
		select {
		case sv.queue <- s:
		default:
			return false
		}
	} else {
		select {
		case sv.queue <- s:
		case <-ctx.Done():
			return false
		}
	}
	sv.signal()
	return true
}

func (sv *supervisor) signal() {
	select {
	case sv.wake <- struct{}{}:
	default:
	}
}

// count returns active plus queued sessions.
func (sv *supervisor) count() int {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return len(sv.active) + len(sv.queue)
}

func (sv *supervisor) activeCount() int {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return len(sv.active)
}

func (sv *supervisor) run(ctx context.Context) {
	ticker := time.NewTicker(sv.interval)
	defer ticker.Stop()

	for {
		sv.cycle()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-sv.wake:
		}
	}
}

func (sv *supervisor) cycle() {
	sv.mu.Lock()
	if sv.stopped {
		sv.mu.Unlock()
		return
	}

	for s := range sv.active {
		select {
		case <-s.done:
			delete(sv.active, s)
		default:
		}
	}

admit:
	for {
		select {
		case s := <-sv.queue:
			sv.wg.Add(1)
			go sv.serve(s)
			sv.active[s] = struct{}{}
		default:
			break admit
		}
	}

	active, queued := len(sv.active), len(sv.queue)
	sv.mu.Unlock()

	if sv.metrics != nil {
		sv.metrics.RecordSessions(active, queued)
	}
}

func (sv *supervisor) serve(s *session) {
	defer sv.wg.Done()
	defer sv.signal()
	defer close(s.done)
	s.serve()
}

// stop prevents further admissions, drops queued connections and interrupts
// running sessions.
func (sv *supervisor) stop() {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.stopped = true

drain:
	for {
		select {
		case s := <-sv.queue:
			s.conn.Close()
			close(s.done)
		default:
			break drain
		}
	}
	for s := range sv.active {
		s.interrupt()
	}
}

// wait blocks until every started session goroutine has returned.
func (sv *supervisor) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		sv.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		sv.mu.Lock()
		clear(sv.active)
		sv.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
