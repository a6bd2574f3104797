package bus

import (
	"context"
	"log/slog"
	"testing"

	"github.com/piyushagarwal-55/flowforge/core"
)

func TestStoreSubscriber_PersistsEvents(t *testing.T) {
	store := newTestStore(t)
	sub := NewStoreSubscriber(store, slog.Default())

	for i := 1; i <= 3; i++ {
		sub.Handle(makeLogEvent("exec-1", uint64(i), core.LogStepStarted))
	}

	events, err := store.List(context.Background(), "exec-1", 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("got %d events, want 3", len(events))
	}
}

func TestStoreSubscriber_EmitUsesExecutionID(t *testing.T) {
	store := NewMemLogStore()
	sub := NewStoreSubscriber(store, nil)

	sub.Emit("exec-7", makeLogEvent("", 1, core.LogToolComplete))

	events, _ := store.List(context.Background(), "exec-7", 0, 0)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
}

func TestStoreSubscriber_MultiEmitterWithBus(t *testing.T) {
	store := NewMemLogStore()
	b := NewMemBus(MemBusConfig{})
	defer b.Close()

	sub := b.Subscribe("exec-1")
	defer sub.Close()

	emit := core.MultiEmitter(NewStoreSubscriber(store, nil), nil, b)
	emit.Emit("exec-1", makeLogEvent("exec-1", 1, core.LogExecutionStarted))

	if seq, _ := store.LatestSeq(context.Background(), "exec-1"); seq != 1 {
		t.Errorf("LatestSeq = %d, want 1", seq)
	}
	select {
	case <-sub.Events():
	default:
		t.Error("bus subscriber should have the event buffered")
	}
}
