package app

import (
	"context"
	"errors"
	"log"
	"sync"

	"reparts/api/internal/metrics"
	"reparts/api/internal/store"
)

type sellerPatcher interface {
	SetChatSeller(ctx context.Context, chatID, sellerID string) error
}

type repairJob struct {
	chatID   string
	sellerID string
}

// RepairQueue writes resolved seller ids back to chat threads off the request
// path. Each thread is queued at most once at a time and the write only
// touches threads whose seller is still unset, so duplicates are harmless.
type RepairQueue struct {
	store   sellerPatcher
	jobs    chan repairJob
	mu      sync.Mutex
	pending map[string]struct{}
}

func NewRepairQueue(patcher sellerPatcher, size int) *RepairQueue {
	if size <= 0 {
		size = 256
	}
	return &RepairQueue{
		store:   patcher,
		jobs:    make(chan repairJob, size),
		pending: make(map[string]struct{}),
	}
}

// Enqueue never blocks. A full queue drops the job; the next read of the
// thread queues it again.
func (q *RepairQueue) Enqueue(chatID, sellerID string) {
	q.mu.Lock()
	if _, queued := q.pending[chatID]; queued {
		q.mu.Unlock()
		return
	}
	q.pending[chatID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.jobs <- repairJob{chatID: chatID, sellerID: sellerID}:
	default:
		q.done(chatID)
		metrics.IdentityRepairs.WithLabelValues("dropped").Inc()
		log.Printf("identity: repair queue full, dropped chat %s", chatID)
	}
}

// Run applies queued repairs until ctx is cancelled.
func (q *RepairQueue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.apply(ctx, job)
		}
	}
}

// Drain applies every job queued so far and returns.
func (q *RepairQueue) Drain(ctx context.Context) {
	for {
		select {
		case job := <-q.jobs:
			q.apply(ctx, job)
		default:
			return
		}
	}
}

func (q *RepairQueue) apply(ctx context.Context, job repairJob) {
	defer q.done(job.chatID)
	err := q.store.SetChatSeller(ctx, job.chatID, job.sellerID)
	switch {
	case err == nil:
		metrics.IdentityRepairs.WithLabelValues("applied").Inc()
	case errors.Is(err, store.ErrDuplicateChat):
		metrics.IdentityRepairs.WithLabelValues("conflict").Inc()
		log.Printf("identity: repair chat %s would duplicate an existing thread", job.chatID)
	default:
		metrics.IdentityRepairs.WithLabelValues("failed").Inc()
		log.Printf("identity: repair chat %s: %v", job.chatID, err)
	}
}

func (q *RepairQueue) done(chatID string) {
	q.mu.Lock()
	delete(q.pending, chatID)
	q.mu.Unlock()
}
