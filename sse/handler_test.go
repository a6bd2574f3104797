package sse_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/piyushagarwal-55/flowforge/bus"
	"github.com/piyushagarwal-55/flowforge/core"
	"github.com/piyushagarwal-55/flowforge/sse"
)

// testEvent builds a log event with the given sequence number and type.
func testEvent(executionID string, seq uint64, typ core.LogEventType) core.LogEvent {
	return core.LogEvent{
		ExecutionID: executionID,
		Type:        typ,
		Timestamp:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Data:        map[string]any{"step": float64(seq), "node_id": fmt.Sprintf("node-%d", seq)},
		Seq:         seq,
	}
}

// seededStore stores one event per type with sequence numbers from 1.
func seededStore(t *testing.T, executionID string, types ...core.LogEventType) *bus.MemLogStore {
	t.Helper()
	store := bus.NewMemLogStore()
	for i, typ := range types {
		if err := store.Append(context.Background(), testEvent(executionID, uint64(i+1), typ)); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

// sseMessage represents a parsed SSE message from the stream.
type sseMessage struct {
	ID    string
	Event string
	Data  string
}

// parseSSEMessages splits a stream body into messages, skipping comments.
func parseSSEMessages(body string) []sseMessage {
	var msgs []sseMessage
	var current sseMessage
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current != (sseMessage{}) {
				msgs = append(msgs, current)
				current = sseMessage{}
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			current.ID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			current.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.Data = strings.TrimPrefix(line, "data: ")
		}
	}
	return msgs
}

func newTestServer(cfg sse.Config) *httptest.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /executions/{execution_id}/events", sse.NewHandler(cfg))
	return httptest.NewServer(mux)
}

func TestHandler_ReplayFromStore(t *testing.T) {
	store := seededStore(t, "exec-replay",
		core.LogExecutionStarted, core.LogStepStarted, core.LogStepCompleted, core.LogExecutionCompleted)
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer eb.Close()

	ts := newTestServer(sse.Config{Store: store, Bus: eb})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/executions/exec-replay/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected Content-Type text/event-stream, got %s", ct)
	}

	// The stream closes after execution_completed.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	msgs := parseSSEMessages(string(body))
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d: %s", len(msgs), body)
	}
	if msgs[0].ID != "1" || msgs[0].Event != "execution_started" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[3].ID != "4" || msgs[3].Event != "execution_completed" {
		t.Errorf("last message = %+v", msgs[3])
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(msgs[0].Data), &parsed); err != nil {
		t.Fatalf("failed to parse data JSON: %v", err)
	}
	if parsed["type"] != "execution_started" || parsed["executionId"] != "exec-replay" {
		t.Errorf("data = %v", parsed)
	}
}

func TestHandler_LastEventIDHeader(t *testing.T) {
	store := seededStore(t, "exec-1",
		core.LogExecutionStarted, core.LogStepStarted, core.LogStepCompleted, core.LogExecutionCompleted)
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer eb.Close()

	ts := newTestServer(sse.Config{Store: store, Bus: eb})
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/executions/exec-1/events", nil)
	req.Header.Set("Last-Event-ID", "3")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	msgs := parseSSEMessages(string(body))
	if len(msgs) != 1 || msgs[0].ID != "4" {
		t.Fatalf("expected only seq 4, got %+v", msgs)
	}
}

func TestHandler_LiveEvents(t *testing.T) {
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer eb.Close()

	ts := newTestServer(sse.Config{Store: bus.NewMemLogStore(), Bus: eb, Heartbeat: 10 * time.Millisecond})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/executions/exec-live/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	// A heartbeat proves the handler has subscribed and reached the live phase.
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		if strings.HasPrefix(line, ": ping") {
			break
		}
	}

	eb.Publish(testEvent("exec-live", 1, core.LogExecutionStarted))
	eb.Publish(testEvent("exec-live", 2, core.LogExecutionFailed))

	rest, _ := io.ReadAll(reader)
	msgs := parseSSEMessages(string(rest))
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d: %s", len(msgs), rest)
	}
	if msgs[1].Event != "execution_failed" {
		t.Errorf("expected terminal execution_failed, got %s", msgs[1].Event)
	}
}

func TestHandler_InvalidAfterParam(t *testing.T) {
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer eb.Close()

	ts := newTestServer(sse.Config{Store: bus.NewMemLogStore(), Bus: eb})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/executions/exec-1/events?after=abc")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandler_MissingExecutionID(t *testing.T) {
	h := sse.NewHandler(sse.Config{Store: bus.NewMemLogStore(), Bus: bus.NewMemBus(bus.MemBusConfig{})})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandler_ClientDisconnect(t *testing.T) {
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer eb.Close()

	ts := newTestServer(sse.Config{Store: bus.NewMemLogStore(), Bus: eb})
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/executions/exec-gone/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	resp.Body.Close()

	// ts.Close blocks until the handler returns, so a leaked stream would hang here.
	done := make(chan struct{})
	go func() {
		ts.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return after client disconnect")
	}
}
