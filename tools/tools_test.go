package tools

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestForVersion(t *testing.T) {
	for _, version := range []string{VersionComputerUse20241022, VersionComputerUse20250124} {
		group, err := ForVersion(version)
		if err != nil {
			t.Fatalf("%s: %v", version, err)
		}
		if len(group) != 3 {
			t.Fatalf("%s: expected 3 tools, got %d", version, len(group))
		}
		names := map[string]bool{}
		for _, d := range group {
			names[d.Name] = true
			if d.Type == "" {
				t.Fatalf("%s: tool %s missing provider type", version, d.Name)
			}
		}
		for _, want := range []string{"computer", "bash", "str_replace_editor"} {
			if !names[want] {
				t.Fatalf("%s: missing tool %s", version, want)
			}
		}
	}

	if _, err := ForVersion("computer_use_19990101"); err == nil {
		t.Fatal("unknown version must fail")
	}
}

func TestVersionedTypesDiffer(t *testing.T) {
	old, _ := ForVersion(VersionComputerUse20241022)
	current, _ := ForVersion(VersionComputerUse20250124)
	if old[0].Type == current[0].Type {
		t.Fatalf("tool versions must carry distinct provider types, both %s", old[0].Type)
	}
	if !strings.HasPrefix(current[0].Type, "computer_") {
		t.Fatalf("unexpected provider type %s", current[0].Type)
	}
}

func TestComputerSchemaRequiresAction(t *testing.T) {
	schema := GenerateSchema[ComputerInput]()
	payload, err := json.Marshal(schema)
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	var decoded struct {
		Type       string         `json:"type"`
		Required   []string       `json:"required"`
		Properties map[string]any `json:"properties"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	if decoded.Type != "object" {
		t.Fatalf("schema type %q", decoded.Type)
	}
	var hasAction bool
	for _, field := range decoded.Required {
		if field == "action" {
			hasAction = true
		}
	}
	if !hasAction {
		t.Fatalf("action must be required, got %v", decoded.Required)
	}
	if _, ok := decoded.Properties["coordinate"]; !ok {
		t.Fatal("coordinate property missing")
	}
}
