package memory

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"sjscal/pkg/models"
)

type message struct {
	id  string
	req models.RunRequest
}

// Queue is a buffered in-process queue. Consumer groups are accepted for
// interface compatibility; every consumer shares one group.
type Queue struct {
	ch          chan message
	seq         atomic.Uint64
	pollTimeout time.Duration

	mu      sync.Mutex
	pending map[string]models.RunRequest
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{
		ch:          make(chan message, size),
		pollTimeout: 2 * time.Second,
		pending:     make(map[string]models.RunRequest),
	}
}

// WithPollTimeout sets how long Pop waits before returning empty-handed.
func (q *Queue) WithPollTimeout(d time.Duration) *Queue {
	q.pollTimeout = d
	return q
}

func (q *Queue) Push(ctx context.Context, req *models.RunRequest) error {
	msg := message{id: strconv.FormatUint(q.seq.Add(1), 10), req: *req}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Pop(ctx context.Context, group string, consumer string) (string, *models.RunRequest, error) {
	timer := time.NewTimer(q.pollTimeout)
	defer timer.Stop()

	select {
	case msg := <-q.ch:
		q.mu.Lock()
		q.pending[msg.id] = msg.req
		q.mu.Unlock()
		req := msg.req
		return msg.id, &req, nil
	case <-timer.C:
		return "", nil, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (q *Queue) Ack(ctx context.Context, group string, msgID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, msgID)
	return nil
}

func (q *Queue) EnsureGroup(ctx context.Context, group string) error {
	return nil
}

// Len reports requests waiting to be popped.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Pending reports popped but unacknowledged requests.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
