package viva

import (
	"context"
	"log/slog"
)

const (
	// InterruptMessage is the fixed marker appended after healed tool
	// results, annotating the conversation for the model.
	InterruptMessage = "(user stopped or interrupted and wrote the following)"
	// InterruptToolError is the sentinel error recorded for tool calls
	// abandoned by an interrupted run.
	InterruptToolError = "human stopped or interrupted tool execution"
)

// HealInterruption repairs a session whose previous agent run never reached
// completion. If no run is flagged in progress it returns nil. Otherwise the
// last recorded message (an assistant message from the abandoned run) is
// scanned for tool uses with no entry in the tool-outcome log; each gets a
// sentinel error outcome recorded and a synthetic tool_result block emitted,
// in the order the tool uses appeared, followed by one interruption-marker
// text block. The run state settles back to Idle before returning, so a
// second call without an intervening run start yields nil.
//
// The returned blocks are prepended to the content of the next user message
// before it is appended to history. Healing never fails: an in-progress flag
// over an empty history is inconsistent state and short-circuits to nothing
// to heal.
func HealInterruption(ctx context.Context, state *RunState, history *History, recorder *Recorder, logger *slog.Logger) []ContentBlock {
	if !state.InProgress() {
		return nil
	}
	state.observeInterruption()
	defer state.settle()

	last, err := history.Last()
	if err != nil {
		logger.Warn("run flagged in progress over empty history, nothing to heal")
		return nil
	}

	var blocks []ContentBlock
	for _, block := range last.Content {
		use, ok := block.(ToolUseBlock)
		if !ok {
			continue
		}
		if _, recorded := recorder.ToolOutcome(use.ID); recorded {
			continue
		}
		recorder.RecordToolOutcome(ctx, use.ID, ToolOutcome{Error: InterruptToolError})
		blocks = append(blocks, ToolResultBlock{
			ToolUseID: use.ID,
			Content:   InterruptToolError,
			IsError:   true,
		})
	}
	blocks = append(blocks, TextBlock{Text: InterruptMessage})
	return blocks
}
