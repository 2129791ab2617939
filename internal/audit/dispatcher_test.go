package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "session_created"})
	}
	d.Close()

	var got int
	for {
		select {
		case <-sink.Events():
			got++
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}
	if got != 5 {
		t.Fatalf("expected 5 delivered events, got %d", got)
	}

	d.Emit(context.Background(), Event{EventType: "after_close"})
	d.Close()
}

func TestDispatcherMinSeverityFilter(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, MinSeverity: SeverityWarning}, sink)

	d.Emit(context.Background(), Event{EventType: "info", Severity: SeverityInfo})
	d.Emit(context.Background(), Event{EventType: "warn", Severity: SeverityWarning})
	d.Close()

	select {
	case ev := <-sink.Events():
		if ev.EventType != "warn" {
			t.Fatalf("expected warning event, got %q", ev.EventType)
		}
	default:
		t.Fatal("expected one delivered event")
	}
	if d.Filtered() != 1 {
		t.Fatalf("expected 1 filtered event, got %d", d.Filtered())
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	block := make(chan struct{})
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sinkFunc(func(Event) { <-block }))

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "x"})
	}
	close(block)
	d.Close()

	if d.Dropped() == 0 {
		t.Fatal("expected drops when buffer is full")
	}
}

func TestDispatcherKeepsCriticalEventsWhenFull(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sinkFunc(func(e Event) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		got = append(got, e.EventType)
		mu.Unlock()
	}))

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "session_store_failure", Severity: SeverityCritical})
	}
	d.Close()

	if d.Dropped() != 0 {
		t.Fatalf("critical events dropped: %d", d.Dropped())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 5 {
		t.Fatalf("expected 5 delivered critical events, got %d", len(got))
	}
}

func TestDispatcherCountsCriticalEventAbandonedByContext(t *testing.T) {
	block := make(chan struct{})
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sinkFunc(func(Event) { <-block }))

	// One event occupies the sink, one fills the buffer.
	d.Emit(context.Background(), Event{EventType: "a", Severity: SeverityCritical})
	d.Emit(context.Background(), Event{EventType: "b", Severity: SeverityCritical})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	d.Emit(ctx, Event{EventType: "c", Severity: SeverityCritical})

	close(block)
	d.Close()
	if d.Dropped() != 1 {
		t.Fatalf("expected 1 abandoned event, got %d", d.Dropped())
	}
}

func TestDisabledDispatcherIsNilSafe(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, nil)
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 || d.Filtered() != 0 {
		t.Fatal("nil dispatcher must report zero counters")
	}
}

func TestJSONWriterSinkWritesSeverityName(t *testing.T) {
	var buf bytes.Buffer
	NewJSONWriterSink(&buf).Emit(context.Background(), Event{EventType: "password_reset_replay", Severity: SeverityWarning})

	line := strings.TrimSpace(buf.String())
	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("invalid json line %q: %v", line, err)
	}
	if decoded["severity"] != "warning" || decoded["event_type"] != "password_reset_replay" {
		t.Fatalf("unexpected payload: %v", decoded)
	}
}

type sinkFunc func(Event)

func (f sinkFunc) Emit(_ context.Context, e Event) { f(e) }
