package services

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"
)

// ErrQueueFull is returned when a shard's buffer is exhausted. The webhook
// path maps it to a retryable response so the transport redelivers.
var ErrQueueFull = errors.New("signal queue is full")

// SignalApplier consumes signals. Implemented by the reconciler.
type SignalApplier interface {
	Apply(ctx context.Context, sig *models.Signal) error
}

// SignalQueue decouples arrival concurrency from merge concurrency: signals
// are sharded by purchase token so every lineage is consumed by exactly one
// worker, giving at-most-one in-flight merge per lineage. Independent
// lineages still process in parallel.
type SignalQueue struct {
	applier SignalApplier
	shards  []chan *models.Signal

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSignalQueue creates a queue with the given worker count and per-worker
// buffer size.
func NewSignalQueue(applier SignalApplier, workers, bufferSize int) *SignalQueue {
	if workers < 1 {
		workers = 1
	}
	if bufferSize < 1 {
		bufferSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &SignalQueue{
		applier: applier,
		shards:  make([]chan *models.Signal, workers),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := range q.shards {
		q.shards[i] = make(chan *models.Signal, bufferSize)
	}
	return q
}

// Start launches the workers.
func (q *SignalQueue) Start() {
	for i, shard := range q.shards {
		q.wg.Add(1)
		go q.run(i, shard)
	}
	logging.Infof("Signal queue started with %d workers", len(q.shards))
}

// Enqueue hands a signal to its lineage's worker without blocking. A full
// shard returns ErrQueueFull; the caller decides whether the transport
// should redeliver.
func (q *SignalQueue) Enqueue(sig *models.Signal) error {
	shard := q.shards[q.shardFor(sig.Token)]
	select {
	case shard <- sig:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop drains the shards and waits for in-flight merges to finish. Signals
// that were never dequeued are lost here and recovered by transport
// redelivery.
func (q *SignalQueue) Stop() {
	q.cancel()
	for _, shard := range q.shards {
		close(shard)
	}
	q.wg.Wait()
	logging.Infof("Signal queue stopped")
}

func (q *SignalQueue) run(worker int, shard <-chan *models.Signal) {
	defer q.wg.Done()
	for sig := range shard {
		if err := q.applier.Apply(q.ctx, sig); err != nil {
			if errors.Is(err, context.Canceled) {
				// Shutdown mid-signal: nothing was written, redelivery will
				// retry it.
				continue
			}
			logging.Errorf("Worker %d failed to apply signal %s/%s: %v",
				worker, sig.Source, sig.SignalID, err)
		}
	}
}

func (q *SignalQueue) shardFor(token string) int {
	h := fnv.New32a()
	h.Write([]byte(token))
	return int(h.Sum32() % uint32(len(q.shards)))
}
