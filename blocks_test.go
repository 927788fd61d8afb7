package viva

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestBlockCodecRoundTrip(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			TextBlock{Text: "checking the screen"},
			ThinkingBlock{Thinking: "the button is top left"},
			ToolUseBlock{ID: "toolu_01", Name: "computer", Input: map[string]any{"action": "screenshot"}},
			ToolResultBlock{ToolUseID: "toolu_01", Content: "done", IsError: false},
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}

	if decoded.Role != RoleAssistant {
		t.Fatalf("expected role %q, got %q", RoleAssistant, decoded.Role)
	}
	if len(decoded.Content) != 4 {
		t.Fatalf("expected 4 blocks, got %d", len(decoded.Content))
	}

	text, ok := decoded.Content[0].(TextBlock)
	if !ok || text.Text != "checking the screen" {
		t.Fatalf("expected text block, got %#v", decoded.Content[0])
	}
	use, ok := decoded.Content[2].(ToolUseBlock)
	if !ok {
		t.Fatalf("expected tool use block, got %#v", decoded.Content[2])
	}
	if use.ID != "toolu_01" || use.Name != "computer" {
		t.Fatalf("tool use fields lost: %#v", use)
	}
	if use.Input["action"] != "screenshot" {
		t.Fatalf("tool use input lost: %#v", use.Input)
	}
	result, ok := decoded.Content[3].(ToolResultBlock)
	if !ok || result.ToolUseID != "toolu_01" {
		t.Fatalf("expected tool result block, got %#v", decoded.Content[3])
	}
}

func TestUnmarshalBlockUnknownTag(t *testing.T) {
	_, err := UnmarshalBlock([]byte(`{"type":"server_tool_use","id":"x"}`))
	if !errors.Is(err, ErrUnknownBlock) {
		t.Fatalf("expected ErrUnknownBlock, got %v", err)
	}
}

func TestUnmarshalMessageUnknownTagFails(t *testing.T) {
	raw := `{"role":"assistant","content":[{"type":"text","text":"ok"},{"type":"banner","text":"nope"}]}`
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); !errors.Is(err, ErrUnknownBlock) {
		t.Fatalf("expected ErrUnknownBlock, got %v", err)
	}
}
