package viva

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Surface is the narrow presentation contract the dispatcher drives. The
// server implements it over a websocket hub; tests implement it with a fake.
type Surface interface {
	ShowText(role Role, text string)
	ShowThinking(role Role, text string)
	// ShowToolUse displays a tool invocation: the tool name plus its input
	// formatted as an inspectable payload.
	ShowToolUse(role Role, name string, payload string)
	// ShowOutput displays tool output, literally (as code) when code is true.
	ShowOutput(text string, code bool)
	ShowError(text string)
	ShowImage(png []byte)
	ShowExchange(ex Exchange)
}

// Dispatcher maps content blocks to presentation actions. The mapping is
// total over the closed block variant set; a block outside it fails with
// DispatchDefect rather than being dropped.
type Dispatcher struct {
	surface  Surface
	recorder *Recorder
	logger   *slog.Logger

	// HideImages suppresses image rendering globally.
	HideImages bool

	// errorSink persists rendered recoverable errors for later diagnosis.
	errorSink func(body string) error
}

func NewDispatcher(surface Surface, recorder *Recorder) *Dispatcher {
	return &Dispatcher{
		surface:  surface,
		recorder: recorder,
		logger:   slog.Default(),
	}
}

func (d *Dispatcher) SetLogger(logger *slog.Logger) {
	d.logger = logger
}

// SetErrorSink wires the artifact writer that receives every rendered
// recoverable error in addition to the surface.
func (d *Dispatcher) SetErrorSink(sink func(body string) error) {
	d.errorSink = sink
}

// Render displays one content block for the given role. Tool results are
// resolved through the tool-outcome log rather than shown raw, since the raw
// result block lacks execution detail such as captured images.
func (d *Dispatcher) Render(role Role, block ContentBlock) error {
	switch b := block.(type) {
	case TextBlock:
		d.surface.ShowText(role, b.Text)
	case ThinkingBlock:
		d.surface.ShowThinking(role, b.Thinking)
	case ToolUseBlock:
		d.surface.ShowToolUse(role, b.Name, formatToolInput(b.Input))
	case ToolResultBlock:
		if outcome, ok := d.recorder.ToolOutcome(b.ToolUseID); ok {
			return d.RenderOutcome(outcome)
		}
		// No recorded outcome for this id. Fall back to the raw result
		// payload so the block is still visible.
		fallback := ToolOutcome{Output: b.Content}
		if b.IsError {
			fallback = ToolOutcome{Error: b.Content}
		}
		return d.RenderOutcome(fallback)
	default:
		return &DispatchDefect{Block: block}
	}
	return nil
}

// RenderOutcome displays a resolved tool outcome: output first (as code for
// CLI output), then error, then the captured image unless images are hidden.
func (d *Dispatcher) RenderOutcome(outcome ToolOutcome) error {
	if outcome.Output != "" {
		d.surface.ShowOutput(outcome.Output, outcome.CLI)
	}
	if outcome.Error != "" {
		d.surface.ShowError(outcome.Error)
	}
	if outcome.Base64Image != "" && !d.HideImages {
		png, err := base64.StdEncoding.DecodeString(outcome.Base64Image)
		if err != nil {
			return fmt.Errorf("decode outcome image: %w", err)
		}
		d.surface.ShowImage(png)
	}
	return nil
}

// RenderExchange displays one recorded request/response pair.
func (d *Dispatcher) RenderExchange(ex Exchange) {
	d.surface.ShowExchange(ex)
}

// RenderError surfaces a recoverable error with guidance and persists it to
// the error-artifact sink. Rate-limit errors additionally surface the
// provider's retry-after interval.
func (d *Dispatcher) RenderError(err error) {
	body := err.Error()
	var rl *RateLimitError
	if errors.As(err, &rl) {
		body = "You have been rate limited."
		if rl.RetryAfter > 0 {
			body += fmt.Sprintf(" Retry after %s.", rl.RetryAfter.Round(time.Second))
		}
		if rl.Message != "" {
			body += "\n\n" + rl.Message
		}
	}
	d.surface.ShowError(body)
	if d.errorSink != nil {
		if sinkErr := d.errorSink(body); sinkErr != nil {
			d.logger.Error("persisting error artifact failed", "error", sinkErr)
		}
	}
}

func formatToolInput(input map[string]any) string {
	if len(input) == 0 {
		return "{}"
	}
	payload, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", input)
	}
	return string(payload)
}
