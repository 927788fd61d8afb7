package viva

import (
	"context"
	"errors"
	"sort"
	"testing"
)

func TestRecordToolOutcomeLastWriteWins(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder("rec-test")

	r.RecordToolOutcome(ctx, "a", ToolOutcome{Output: "first"})
	r.RecordToolOutcome(ctx, "b", ToolOutcome{Output: "other"})
	r.RecordToolOutcome(ctx, "a", ToolOutcome{Output: "second"})

	ids := r.ToolOutcomeIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 distinct keys, got %v", ids)
	}
	// Iteration order follows first insertion even after the rewrite.
	if ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("insertion order lost: %v", ids)
	}
	outcome, ok := r.ToolOutcome("a")
	if !ok || outcome.Output != "second" {
		t.Fatalf("last write should win, got %#v", outcome)
	}
}

func TestRecordToolOutcomeRendersImmediately(t *testing.T) {
	_, recorder, surface := newTestDispatcher()

	recorder.RecordToolOutcome(context.Background(), "t1", ToolOutcome{Output: "hi"})

	if len(surface.events) != 1 || surface.events[0].kind != "output" {
		t.Fatalf("outcome was not rendered on record: %v", surface.kinds())
	}
}

func TestRecordExchangeAssignsMonotonicIDs(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder("rec-test")

	var ids []string
	for i := 0; i < 100; i++ {
		ex := r.RecordExchange(ctx, "", CapturedRequest{Method: "POST", URL: "https://api.example.com"}, nil, nil)
		ids = append(ids, ex.ID)
	}

	if len(r.Exchanges()) != 100 {
		t.Fatalf("expected 100 exchanges, got %d", len(r.Exchanges()))
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatal("exchange ids are not monotonically increasing")
	}
	for i, ex := range r.Exchanges() {
		if ex.ID != ids[i] {
			t.Fatal("exchange iteration order differs from arrival order")
		}
	}
}

func TestRecordExchangeSameKeySupersedes(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder("rec-test")

	r.RecordExchange(ctx, "x1", CapturedRequest{URL: "https://one"}, nil, nil)
	r.RecordExchange(ctx, "x2", CapturedRequest{URL: "https://two"}, nil, nil)
	// Retried exchange under the same key.
	r.RecordExchange(ctx, "x1", CapturedRequest{URL: "https://one-retried"}, &CapturedResponse{StatusCode: 200}, nil)

	exchanges := r.Exchanges()
	if len(exchanges) != 2 {
		t.Fatalf("retry must supersede, not append: %d entries", len(exchanges))
	}
	if exchanges[0].ID != "x1" || exchanges[1].ID != "x2" {
		t.Fatalf("iteration order must follow first insertion: %v, %v", exchanges[0].ID, exchanges[1].ID)
	}
	if exchanges[0].Request.URL != "https://one-retried" {
		t.Fatalf("superseded value not displayed: %q", exchanges[0].Request.URL)
	}
}

func TestRecordExchangeRedactsCredentials(t *testing.T) {
	r := NewRecorder("rec-test")

	ex := r.RecordExchange(context.Background(), "", CapturedRequest{
		Method: "POST",
		URL:    "https://api.anthropic.com/v1/messages",
		Headers: map[string]string{
			"X-Api-Key":    "sk-ant-secret",
			"Content-Type": "application/json",
		},
	}, nil, nil)

	if ex.Request.Headers["X-Api-Key"] != "[redacted]" {
		t.Fatalf("credential header not redacted: %q", ex.Request.Headers["X-Api-Key"])
	}
	if ex.Request.Headers["Content-Type"] != "application/json" {
		t.Fatal("non-credential header must survive redaction")
	}
}

func TestRecordExchangeErrorStillRecordsAndRendersBoth(t *testing.T) {
	_, recorder, surface := newTestDispatcher()

	recorder.RecordExchange(context.Background(), "", CapturedRequest{URL: "https://api"}, nil, errors.New("connection reset"))

	if len(recorder.Exchanges()) != 1 {
		t.Fatal("exchange must be recorded despite the call error")
	}
	kinds := surface.kinds()
	// Error rendering fires in addition to the normal exchange render.
	if len(kinds) != 2 || kinds[0] != "error" || kinds[1] != "exchange" {
		t.Fatalf("expected error then exchange render, got %v", kinds)
	}
}

func TestRecorderReset(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder("rec-test")
	r.RecordToolOutcome(ctx, "t1", ToolOutcome{Output: "x"})
	r.RecordExchange(ctx, "", CapturedRequest{}, nil, nil)

	r.Reset()

	if len(r.ToolOutcomeIDs()) != 0 || len(r.Exchanges()) != 0 {
		t.Fatal("reset must clear both logs")
	}
}
