package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"orphan-recovery/internal/telemetry/domain"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*domain.Event
	emitErr error
	ctxErr  error
	done    chan struct{}
}

func newMockEmitter() *mockEventEmitter {
	return &mockEventEmitter{done: make(chan struct{}, 8)}
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *domain.Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.ctxErr = ctx.Err()
	m.mu.Unlock()
	if m.done != nil {
		m.done <- struct{}{}
	}
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events
}

func TestEmitAsync_NilEmitterOrEvent(t *testing.T) {
	EmitAsync(nil, context.Background(), &domain.Event{EventType: "x"})

	emitter := newMockEmitter()
	EmitAsync(emitter, context.Background(), nil)
	select {
	case <-emitter.done:
		t.Fatal("nil event should not be emitted")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitAsync_Emits(t *testing.T) {
	emitter := newMockEmitter()
	EmitAsync(emitter, context.Background(), &domain.Event{EventType: domain.EventOrphanDetected, CorrelationID: "corr-1"})

	select {
	case <-emitter.done:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not emitted")
	}
	events := emitter.getEvents()
	if len(events) != 1 || events[0].CorrelationID != "corr-1" {
		t.Fatalf("events = %+v", events)
	}
	if events[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestEmitAsync_SurvivesCallerCancellation(t *testing.T) {
	emitter := newMockEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	EmitAsync(emitter, ctx, &domain.Event{EventType: domain.EventCleanupCompleted})

	select {
	case <-emitter.done:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not emitted")
	}
	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	if emitter.ctxErr != nil {
		t.Errorf("emit context should not be cancelled, got %v", emitter.ctxErr)
	}
}

func TestMultiEmitter(t *testing.T) {
	a := newMockEmitter()
	b := newMockEmitter()
	b.emitErr = errors.New("kafka down")
	m := MultiEmitter{a, nil, b}

	err := m.Emit(context.Background(), &domain.Event{EventType: domain.EventCleanupRejected})
	if err == nil || err.Error() != "kafka down" {
		t.Errorf("err = %v, want kafka down", err)
	}
	if len(a.getEvents()) != 1 || len(b.getEvents()) != 1 {
		t.Error("every emitter should receive the event")
	}
}
