package progress

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubFlushesWhenBatchFull(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatch: 2, FlushInterval: time.Minute}, sink)
	t.Cleanup(func() { require.NoError(t, hub.Close(context.Background())) })

	hub.Emit(sampleEvent(StageJobStart))
	hub.Emit(sampleEvent(StageJobHB))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubFlushesOnInterval(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatch: 10, FlushInterval: 20 * time.Millisecond}, sink)
	t.Cleanup(func() { require.NoError(t, hub.Close(context.Background())) })

	hub.Emit(sampleEvent(StageJobStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubEmitDoesNotBlockWhenFull(t *testing.T) {
	t.Parallel()

	var drops atomic.Int64
	hub := &Hub{
		cfg:    Config{OnDrop: func() { drops.Add(1) }},
		in:     make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageJobStart))
	hub.Emit(sampleEvent(StageJobStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.EqualValues(t, 2, hub.Dropped())
	require.EqualValues(t, 2, drops.Load())
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatch: 100, FlushInterval: time.Minute}, sink)

	hub.Emit(Event{Stage: StageJobStart, TS: time.Now()})
	hub.Emit(Event{JobID: "job", Stage: "BOGUS", TS: time.Now()})
	hub.Emit(sampleEvent(StageJobDone))

	require.NoError(t, hub.Close(context.Background()))
	batches := sink.Batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	require.Equal(t, StageJobDone, batches[0][0].Stage)
	require.True(t, sink.closed.Load())
}

func TestHubCloseIsIdempotentAndStopsIntake(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatch: 100, FlushInterval: time.Minute}, sink)
	hub.Emit(sampleEvent(StageJobStart))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	hub.Emit(sampleEvent(StageJobDone))

	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, sampleEvent(StageJobHB).Validate())

	evt := sampleEvent(StageJobDone)
	evt.Dur = -time.Second
	require.Error(t, evt.Validate())

	evt = sampleEvent(StageJobDone)
	evt.PagesFailed = -1
	require.Error(t, evt.Validate())

	evt = sampleEvent(StageJobDone)
	evt.TS = time.Time{}
	require.Error(t, evt.Validate())

	require.True(t, sampleEvent(StageJobError).Terminal())
	require.False(t, sampleEvent(StageJobHB).Terminal())
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  atomic.Bool
}

func (s *recordingSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}

func (s *recordingSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	return Event{JobID: "job-1", WorkerID: 1, TS: time.Now(), Stage: stage}
}
