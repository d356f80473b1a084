package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"entitlement-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingApplier struct {
	mu      sync.Mutex
	applied []string
	done    chan struct{} // closed once expected count is reached
	expect  int
	block   chan struct{} // when set, Apply waits on it
}

func (r *recordingApplier) Apply(ctx context.Context, sig *models.Signal) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, sig.SignalID)
	if r.done != nil && len(r.applied) == r.expect {
		close(r.done)
	}
	return nil
}

func TestSignalQueueProcessesAllSignals(t *testing.T) {
	applier := &recordingApplier{done: make(chan struct{}), expect: 3}
	q := NewSignalQueue(applier, 4, 8)
	q.Start()

	for i, token := range []string{"tok-a", "tok-b", "tok-c"} {
		sig := &models.Signal{SignalID: string(rune('1' + i)), Token: token, Kind: models.KindRenewed}
		require.NoError(t, q.Enqueue(sig))
	}

	select {
	case <-applier.done:
	case <-time.After(2 * time.Second):
		t.Fatal("signals were not processed")
	}
	q.Stop()
	assert.Len(t, applier.applied, 3)
}

func TestSignalQueueSameTokenKeepsOrder(t *testing.T) {
	applier := &recordingApplier{done: make(chan struct{}), expect: 5}
	q := NewSignalQueue(applier, 8, 16)
	q.Start()

	for _, id := range []string{"s1", "s2", "s3", "s4", "s5"} {
		require.NoError(t, q.Enqueue(&models.Signal{SignalID: id, Token: "tok-same", Kind: models.KindRenewed}))
	}

	select {
	case <-applier.done:
	case <-time.After(2 * time.Second):
		t.Fatal("signals were not processed")
	}
	q.Stop()

	assert.Equal(t, []string{"s1", "s2", "s3", "s4", "s5"}, applier.applied,
		"one lineage is always consumed by a single worker in arrival order")
}

func TestSignalQueueFullShardRejects(t *testing.T) {
	block := make(chan struct{})
	applier := &recordingApplier{block: block}
	q := NewSignalQueue(applier, 1, 1)
	q.Start()
	defer func() {
		close(block)
		q.Stop()
	}()

	// First signal occupies the worker, second fills the buffer.
	require.NoError(t, q.Enqueue(&models.Signal{SignalID: "s1", Token: "tok-1"}))
	// Give the worker a moment to pull s1 off the shard.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if q.Enqueue(&models.Signal{SignalID: "s2", Token: "tok-1"}) == nil {
			break
		}
		time.Sleep(time.Millisecond)
	}

	err := q.Enqueue(&models.Signal{SignalID: "s3", Token: "tok-1"})
	assert.ErrorIs(t, err, ErrQueueFull)
}
