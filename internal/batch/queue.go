package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/demoshot/internal/capture"
)

var errQueueClosed = errors.New("queue closed")

type item struct {
	index  int
	target capture.Target
}

// queue is a bounded channel with context-aware operations.
type queue struct {
	ch      chan item
	closeMu sync.Mutex
	closed  bool
}

func newQueue(capacity int) *queue {
	if capacity < 0 {
		capacity = 0
	}
	return &queue{ch: make(chan item, capacity)}
}

func (q *queue) enqueue(ctx context.Context, it item) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- it:
		return nil
	}
}

func (q *queue) dequeue(ctx context.Context) (item, error) {
	select {
	case <-ctx.Done():
		return item{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case it, ok := <-q.ch:
		if !ok {
			return item{}, errQueueClosed
		}
		return it, nil
	}
}

func (q *queue) close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
