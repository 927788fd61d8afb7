// Package tools declares the tool groups the agent run exposes, versioned by
// model generation. Input schemas are reflected from typed structs so the
// declarations stay in sync with what the loop service executes.
package tools

import (
	"fmt"

	"github.com/invopop/jsonschema"
)

// Tool group versions, matched to model generations.
const (
	VersionComputerUse20241022 = "computer_use_20241022"
	VersionComputerUse20250124 = "computer_use_20250124"
)

// Descriptor declares one tool to the model provider. Anthropic-defined tools
// carry a provider Type instead of an input schema.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Type is the provider-defined tool type, e.g. "computer_20250124".
	Type        string `json:"type,omitempty"`
	InputSchema any    `json:"input_schema,omitempty"`
}

// ComputerInput is the input contract of the computer control tool.
type ComputerInput struct {
	Action     string `json:"action" jsonschema:"required,description=The action to perform on the computer"`
	Coordinate []int  `json:"coordinate,omitempty" jsonschema:"description=Target x and y pixel coordinate"`
	Text       string `json:"text,omitempty" jsonschema:"description=Text to type or key chord to press"`
	Duration   int    `json:"duration,omitempty" jsonschema:"description=Duration in seconds for hold and wait actions"`
	ScrollDir  string `json:"scroll_direction,omitempty" jsonschema:"description=Direction to scroll"`
	ScrollAmt  int    `json:"scroll_amount,omitempty" jsonschema:"description=Number of scroll clicks"`
}

// BashInput is the input contract of the shell tool.
type BashInput struct {
	Command string `json:"command,omitempty" jsonschema:"description=The shell command to run"`
	Restart bool   `json:"restart,omitempty" jsonschema:"description=Restart the shell session"`
}

// EditInput is the input contract of the file editing tool.
type EditInput struct {
	Command    string `json:"command" jsonschema:"required,description=The edit operation: view create str_replace insert or undo_edit"`
	Path       string `json:"path" jsonschema:"required,description=Absolute path to the file"`
	FileText   string `json:"file_text,omitempty" jsonschema:"description=Full file content for create"`
	OldStr     string `json:"old_str,omitempty" jsonschema:"description=Exact text to replace"`
	NewStr     string `json:"new_str,omitempty" jsonschema:"description=Replacement text"`
	InsertLine int    `json:"insert_line,omitempty" jsonschema:"description=Line number to insert after"`
}

// GenerateSchema reflects a JSON schema from the input struct type.
func GenerateSchema[T any]() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)
	return schema
}

// ForVersion returns the tool group for a tool version.
func ForVersion(version string) ([]Descriptor, error) {
	switch version {
	case VersionComputerUse20241022:
		return []Descriptor{
			{Name: "computer", Type: "computer_20241022", InputSchema: GenerateSchema[ComputerInput]()},
			{Name: "bash", Type: "bash_20241022", InputSchema: GenerateSchema[BashInput]()},
			{Name: "str_replace_editor", Type: "text_editor_20241022", InputSchema: GenerateSchema[EditInput]()},
		}, nil
	case VersionComputerUse20250124:
		return []Descriptor{
			{Name: "computer", Type: "computer_20250124", InputSchema: GenerateSchema[ComputerInput]()},
			{Name: "bash", Type: "bash_20250124", InputSchema: GenerateSchema[BashInput]()},
			{Name: "str_replace_editor", Type: "text_editor_20250124", InputSchema: GenerateSchema[EditInput]()},
		}, nil
	default:
		return nil, fmt.Errorf("unknown tool version %q", version)
	}
}
