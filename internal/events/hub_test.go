package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-scraper/internal/scraper"
)

func sampleEvent(stage Stage) Event {
	return Event{JobID: "job-1", TS: time.Now().UTC(), Stage: stage}
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, sampleEvent(StageJobSubmitted).Validate())
	require.Error(t, Event{TS: time.Now(), Stage: StageJobRunning}.Validate())
	require.Error(t, Event{JobID: "x", Stage: StageJobRunning}.Validate())
	require.Error(t, sampleEvent("BOGUS").Validate())
	require.Error(t, sampleEvent(StageFetchDone).Validate())
	require.Error(t, sampleEvent(StageJobFailed).Validate())

	fetch := sampleEvent(StageFetchDone)
	fetch.Category = scraper.CategoryHotels
	require.NoError(t, fetch.Validate())

	failed := sampleEvent(StageJobFailed)
	failed.Note = "boom"
	require.NoError(t, failed.Validate())

	neg := sampleEvent(StageJobCompleted)
	neg.Dur = -time.Second
	require.Error(t, neg.Validate())
}

// TestHubBatchBySize verifies a full batch is flushed without waiting for the ticker.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageJobSubmitted))
	hub.Emit(sampleEvent(StageJobRunning))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 20 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageJobSubmitted))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchWait: time.Minute}, sink)
	hub.Emit(Event{Stage: StageJobRunning})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

// TestHubEmitNonBlocking asserts Emit returns immediately when nobody drains the buffer.
func TestHubEmitNonBlocking(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event), logger: zap.NewNop()}
	start := time.Now()
	for i := 0; i < 10; i++ {
		hub.Emit(sampleEvent(StageJobSubmitted))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.EqualValues(t, 9, hub.dropped.Load())
}

func TestHubFlushOnCloseAndIgnoreAfter(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(sampleEvent(StageJobSubmitted))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	hub.Emit(sampleEvent(StageJobRunning))

	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.Closed())
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(sampleEvent(StageJobSubmitted))
	require.NoError(t, hub.Close(context.Background()))
	Discard{}.Emit(sampleEvent(StageJobSubmitted))
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	copy(out, s.batches)
	return out
}
