package viva

import (
	"errors"
	"testing"
)

func userText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock{Text: text}}}
}

func TestHistoryAppendAndLast(t *testing.T) {
	h := NewHistory()

	if _, err := h.Last(); !errors.Is(err, ErrEmptyHistory) {
		t.Fatalf("expected ErrEmptyHistory, got %v", err)
	}

	h.Append(userText("first"))
	h.Append(userText("second"))

	last, err := h.Last()
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if text := last.Content[0].(TextBlock).Text; text != "second" {
		t.Fatalf("expected last appended message, got %q", text)
	}
	if h.Len() != 2 {
		t.Fatalf("expected 2 messages, got %d", h.Len())
	}
}

func TestHistoryReplaceAll(t *testing.T) {
	h := NewHistory()
	h.Append(userText("a"))
	h.Append(userText("b"))

	replacement := []Message{userText("only")}
	h.ReplaceAll(replacement)

	if h.Len() != 1 {
		t.Fatalf("expected 1 message after replace, got %d", h.Len())
	}

	// The history must own its copy of the replacement slice.
	replacement[0] = userText("mutated")
	last, _ := h.Last()
	if text := last.Content[0].(TextBlock).Text; text != "only" {
		t.Fatalf("replace aliased caller slice, got %q", text)
	}
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory()
	h.Append(userText("a"))
	h.Clear()

	if h.Len() != 0 {
		t.Fatalf("expected empty history, got %d messages", h.Len())
	}
	if _, err := h.Last(); !errors.Is(err, ErrEmptyHistory) {
		t.Fatalf("expected ErrEmptyHistory after clear, got %v", err)
	}
}
