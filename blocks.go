// Package viva implements the session core for a browser-backed computer-use
// agent: the ordered turn history, the run-state machine that detects and
// heals interrupted agent runs, the correlated tool-outcome and API-exchange
// logs, and the render dispatch that turns content blocks into presentation
// events.
package viva

import (
	"encoding/json"
	"fmt"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentBlock is one element of a message's content. The variant set is
// closed: TextBlock, ThinkingBlock, ToolUseBlock and ToolResultBlock. A tag
// outside this set is a defect, never silently ignored.
type ContentBlock interface {
	contentBlock()
}

// TextBlock is plain text from the user or the assistant.
type TextBlock struct {
	Text string
}

func (TextBlock) contentBlock() {}

// ThinkingBlock carries the model's reasoning. It is rendered as an auxiliary
// annotation, not as primary content.
type ThinkingBlock struct {
	Thinking string
}

func (ThinkingBlock) contentBlock() {}

// ToolUseBlock is a tool invocation requested by the assistant. It only
// appears inside assistant messages.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input map[string]any
}

func (ToolUseBlock) contentBlock() {}

// ToolResultBlock resolves a prior ToolUseBlock. ToolUseID references a
// ToolUseBlock from an earlier assistant message of the same run, except for
// healer-synthesized results, which reference tool uses whose run never
// completed.
type ToolResultBlock struct {
	ToolUseID string
	Content   string
	IsError   bool
}

func (ToolResultBlock) contentBlock() {}

// Message is one role-attributed turn in the conversation history.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

const (
	tagText       = "text"
	tagThinking   = "thinking"
	tagToolUse    = "tool_use"
	tagToolResult = "tool_result"
)

// blockEnvelope is the wire form of a content block, discriminated by Type.
type blockEnvelope struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	Thinking  string         `json:"thinking,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

// MarshalBlock encodes a content block with its type discriminator.
func MarshalBlock(block ContentBlock) ([]byte, error) {
	var env blockEnvelope
	switch b := block.(type) {
	case TextBlock:
		env = blockEnvelope{Type: tagText, Text: b.Text}
	case ThinkingBlock:
		env = blockEnvelope{Type: tagThinking, Thinking: b.Thinking}
	case ToolUseBlock:
		env = blockEnvelope{Type: tagToolUse, ID: b.ID, Name: b.Name, Input: b.Input}
	case ToolResultBlock:
		env = blockEnvelope{Type: tagToolResult, ToolUseID: b.ToolUseID, Content: b.Content, IsError: b.IsError}
	default:
		return nil, fmt.Errorf("marshal %T: %w", block, ErrUnknownBlock)
	}
	return json.Marshal(env)
}

// UnmarshalBlock decodes a content block from its wire form. An unrecognized
// type tag returns an error wrapping ErrUnknownBlock.
func UnmarshalBlock(data []byte) (ContentBlock, error) {
	var env blockEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode content block: %w", err)
	}
	switch env.Type {
	case tagText:
		return TextBlock{Text: env.Text}, nil
	case tagThinking:
		return ThinkingBlock{Thinking: env.Thinking}, nil
	case tagToolUse:
		return ToolUseBlock{ID: env.ID, Name: env.Name, Input: env.Input}, nil
	case tagToolResult:
		return ToolResultBlock{ToolUseID: env.ToolUseID, Content: env.Content, IsError: env.IsError}, nil
	default:
		return nil, fmt.Errorf("tag %q: %w", env.Type, ErrUnknownBlock)
	}
}

func (m Message) MarshalJSON() ([]byte, error) {
	blocks := make([]json.RawMessage, 0, len(m.Content))
	for _, block := range m.Content {
		data, err := MarshalBlock(block)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, data)
	}
	return json.Marshal(struct {
		Role    Role              `json:"role"`
		Content []json.RawMessage `json:"content"`
	}{Role: m.Role, Content: blocks})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    Role              `json:"role"`
		Content []json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	blocks := make([]ContentBlock, 0, len(raw.Content))
	for _, rawBlock := range raw.Content {
		block, err := UnmarshalBlock(rawBlock)
		if err != nil {
			return err
		}
		blocks = append(blocks, block)
	}
	m.Role = raw.Role
	m.Content = blocks
	return nil
}
