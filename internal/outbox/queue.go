// Package outbox bridges synchronous mutation code to the asynchronous
// delivery path. Storage-layer hooks run inline with a commit and must not
// block on (or lose) event delivery; they hand the work here instead.
package outbox

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Work is one unit of deferred delivery work, typically a closure around
// Dispatcher.Dispatch for a single envelope.
type Work func(ctx context.Context)

// Queue accepts work from any goroutine without blocking and drains it on
// a background goroutine. The drainer starts lazily on the first enqueue,
// exits once the queue is empty, and is restarted by the next enqueue.
// Queued items run concurrently with each other; the queue preserves no
// ordering across items.
type Queue struct {
	ctx context.Context

	mu      sync.Mutex
	items   []Work
	running bool
}

// New creates a queue bound to the process-lifetime context. When ctx is
// cancelled, work still queued is dropped silently rather than retried.
func New(ctx context.Context) *Queue {
	return &Queue{ctx: ctx}
}

// Enqueue adds work to the queue. It never blocks and never fails; it is
// safe to call from any goroutine, including synchronous storage hooks.
func (q *Queue) Enqueue(w Work) {
	q.mu.Lock()
	q.items = append(q.items, w)
	start := !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
}

func (q *Queue) drain() {
	var wg sync.WaitGroup
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.running = false
			q.mu.Unlock()
			break
		}
		w := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		if q.ctx.Err() != nil {
			// Shutting down; drop the remaining batch.
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w(q.ctx)
		}()
	}
	wg.Wait()

	if err := q.ctx.Err(); err != nil {
		log.Debug().Msg("outbox drained during shutdown, queued work dropped")
	}
}

// Len returns the number of items waiting to run. Intended for stats and
// tests; the value is immediately stale.
func (q *Queue) Len() int {
	q.mu.Lock()
	n := len(q.items)
	q.mu.Unlock()
	return n
}
