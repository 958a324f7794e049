package events

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/R3E-Network/spendsave/internal/engine/state"
)

func TestRingBuffer_Log(t *testing.T) {
	rb := NewRingBuffer(10)

	rb.Log(Event{
		Type:    EventBalanceChanged,
		Module:  "ledger",
		Message: "mint",
	})

	if rb.Count() != 1 {
		t.Errorf("Count() = %d, want 1", rb.Count())
	}

	recent := rb.Recent(1)
	if len(recent) != 1 {
		t.Fatalf("Recent(1) len = %d, want 1", len(recent))
	}
	if recent[0].Module != "ledger" {
		t.Errorf("Module = %q, want 'ledger'", recent[0].Module)
	}
	if recent[0].ID == "" {
		t.Error("ID should be auto-generated")
	}
	if recent[0].Timestamp.IsZero() {
		t.Error("Timestamp should be auto-set")
	}
}

func TestRingBuffer_Overflow(t *testing.T) {
	rb := NewRingBuffer(5)

	for i := 0; i < 10; i++ {
		rb.Log(Event{
			Type:    EventBalanceChanged,
			Message: string(rune('A' + i)),
		})
	}

	if rb.Count() != 5 {
		t.Errorf("Count() = %d, want 5 (capped)", rb.Count())
	}

	recent := rb.Recent(5)
	if len(recent) != 5 {
		t.Fatalf("Recent(5) len = %d, want 5", len(recent))
	}
	// Most recent first
	if recent[0].Message != "J" {
		t.Errorf("Most recent message = %q, want 'J'", recent[0].Message)
	}
	if recent[4].Message != "F" {
		t.Errorf("Oldest message = %q, want 'F'", recent[4].Message)
	}
}

func TestRingBuffer_Recent(t *testing.T) {
	rb := NewRingBuffer(10)

	for i := 0; i < 5; i++ {
		rb.Log(Event{Type: EventConfigUpdated, Message: string(rune('A' + i))})
	}

	t.Run("request more than available", func(t *testing.T) {
		if got := len(rb.Recent(100)); got != 5 {
			t.Errorf("len = %d, want 5", got)
		}
	})

	t.Run("request zero", func(t *testing.T) {
		if rb.Recent(0) != nil {
			t.Error("Recent(0) should return nil")
		}
	})

	t.Run("request negative", func(t *testing.T) {
		if rb.Recent(-1) != nil {
			t.Error("Recent(-1) should return nil")
		}
	})
}

func TestRingBuffer_RecentBySubject(t *testing.T) {
	rb := NewRingBuffer(100)

	rb.Log(Event{Type: EventBalanceChanged, Subject: "alice"})
	rb.Log(Event{Type: EventBalanceChanged, Subject: "bob"})
	rb.Log(Event{Type: EventConfigUpdated, Subject: "alice"})
	rb.Log(Event{Type: EventSavingsRecorded, Subject: "alice"})

	recent := rb.RecentBySubject("alice", 10)
	if len(recent) != 3 {
		t.Errorf("len = %d, want 3", len(recent))
	}
	for _, e := range recent {
		if e.Subject != "alice" {
			t.Errorf("Subject = %q, want 'alice'", e.Subject)
		}
	}
}

func TestRingBuffer_RecentByType(t *testing.T) {
	rb := NewRingBuffer(100)

	rb.Log(Event{Type: EventSavingsRecorded})
	rb.Log(Event{Type: EventBalanceChanged})
	rb.Log(Event{Type: EventSavingsRecorded})
	rb.Log(Event{Type: EventSupplyChanged})

	recent := rb.RecentByType(EventSavingsRecorded, 10)
	if len(recent) != 2 {
		t.Errorf("len = %d, want 2", len(recent))
	}
	for _, e := range recent {
		if e.Type != EventSavingsRecorded {
			t.Errorf("Type = %v, want EventSavingsRecorded", e.Type)
		}
	}
}

func TestRingBuffer_Subscribe(t *testing.T) {
	rb := NewRingBuffer(10)

	var received []Event
	var mu sync.Mutex

	unsubscribe := rb.Subscribe(func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})

	rb.Log(Event{Type: EventBalanceChanged})
	rb.Log(Event{Type: EventSupplyChanged})

	mu.Lock()
	if len(received) != 2 {
		t.Errorf("received %d events, want 2", len(received))
	}
	mu.Unlock()

	unsubscribe()
	rb.Log(Event{Type: EventConfigUpdated})

	mu.Lock()
	if len(received) != 2 {
		t.Errorf("received %d events after unsubscribe, want 2", len(received))
	}
	mu.Unlock()
}

func TestRingBuffer_SubscribeFiltered(t *testing.T) {
	rb := NewRingBuffer(10)

	var count atomic.Int64
	rb.SubscribeFiltered(func(e Event) bool {
		return e.Type == EventSavingsRecorded
	}, func(Event) {
		count.Add(1)
	})

	rb.Log(Event{Type: EventSavingsRecorded})
	rb.Log(Event{Type: EventBalanceChanged})
	rb.Log(Event{Type: EventSavingsRecorded})

	if count.Load() != 2 {
		t.Errorf("received %d events, want 2 (only EventSavingsRecorded)", count.Load())
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(10)

	rb.Log(Event{Type: EventBalanceChanged})
	rb.Log(Event{Type: EventSupplyChanged})
	rb.Clear()

	if rb.Count() != 0 {
		t.Errorf("Count() after clear = %d, want 0", rb.Count())
	}
}

func TestRingBuffer_Concurrent(t *testing.T) {
	rb := NewRingBuffer(1000)

	var wg sync.WaitGroup
	var receivedCount atomic.Int64

	rb.Subscribe(func(Event) {
		receivedCount.Add(1)
	})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rb.Log(Event{
					Type:    EventBalanceChanged,
					Subject: string(rune('A' + id)),
				})
			}
		}(i)
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = rb.Recent(10)
				_ = rb.RecentByType(EventBalanceChanged, 5)
			}
		}()
	}

	wg.Wait()

	if rb.Count() != 1000 {
		t.Errorf("Count() = %d, want 1000", rb.Count())
	}
	if receivedCount.Load() != 1000 {
		t.Errorf("receivedCount = %d, want 1000", receivedCount.Load())
	}
}

func TestLogWithContext(t *testing.T) {
	rb := NewRingBuffer(10)

	ctx := WithRequestID(context.Background(), "req-456")
	rb.LogWithContext(ctx, Event{Type: EventBalanceChanged})

	recent := rb.Recent(1)
	if len(recent) != 1 {
		t.Fatal("expected 1 event")
	}
	if recent[0].RequestID != "req-456" {
		t.Errorf("RequestID = %q, want 'req-456'", recent[0].RequestID)
	}
}

func TestEventBuilder(t *testing.T) {
	event := NewEvent(EventBalanceChanged).
		Module("ledger").
		Component("kernel").
		Subject("alice").
		Phase(state.PhasePostTrade).
		Message("balance updated").
		Change("100", "150").
		Metadata("asset_id", "1").
		Operation("op-1", "hook.afterTrade").
		Build()

	if event.Type != EventBalanceChanged {
		t.Errorf("Type = %v, want EventBalanceChanged", event.Type)
	}
	if event.Module != "ledger" || event.Component != "kernel" || event.Subject != "alice" {
		t.Errorf("context fields = %q/%q/%q", event.Module, event.Component, event.Subject)
	}
	if event.Phase != state.PhasePostTrade {
		t.Errorf("Phase = %v, want PhasePostTrade", event.Phase)
	}
	if event.Metadata["before"] != "100" || event.Metadata["after"] != "150" {
		t.Errorf("Change metadata = %v", event.Metadata)
	}
	if event.Metadata["asset_id"] != "1" {
		t.Errorf("Metadata[asset_id] = %q, want '1'", event.Metadata["asset_id"])
	}
	if event.OperationID != "op-1" || event.Operation != "hook.afterTrade" {
		t.Errorf("Operation = %q/%q", event.OperationID, event.Operation)
	}
	if event.ID == "" {
		t.Error("ID should be auto-generated")
	}
}

func TestEventBuilder_ErrorFrom(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		event := NewEvent(EventConversionFailed).
			ErrorFrom(context.DeadlineExceeded).
			Build()

		if event.Error != context.DeadlineExceeded.Error() {
			t.Errorf("Error = %q, want %q", event.Error, context.DeadlineExceeded.Error())
		}
		if event.Severity != SeverityError {
			t.Errorf("Severity = %v, want SeverityError", event.Severity)
		}
	})

	t.Run("with nil error", func(t *testing.T) {
		event := NewEvent(EventConversionExecuted).ErrorFrom(nil).Build()
		if event.Error != "" {
			t.Errorf("Error = %q, want empty", event.Error)
		}
	})
}

func TestNoOpLogger(t *testing.T) {
	var logger NoOpLogger

	// Should not panic
	logger.Log(Event{})
	logger.LogWithContext(context.Background(), Event{})
	unsubscribe := logger.Subscribe(func(Event) {})
	unsubscribe()
	_ = logger.Recent(10)
	_ = logger.RecentBySubject("alice", 10)
	_ = logger.RecentByType(EventBalanceChanged, 10)
}
