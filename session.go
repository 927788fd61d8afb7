// Package viva - session.go
// The Session owns one conversation's state and drives the external agent
// run, healing interruptions before each new user turn.
package viva

import (
	"context"
	"errors"
	"log/slog"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Runner is the external agent-run collaborator. It alternates model replies
// with tool executions, emits blocks, tool outcomes and API exchanges through
// the RunParams callbacks as it executes, and returns the replacement turn
// history on completion, success or interruption. The model-calling loop
// itself lives outside this module.
type Runner interface {
	Run(ctx context.Context, params RunParams) ([]Message, error)
}

// RunParams is the input contract for one agent run.
type RunParams struct {
	SystemPromptSuffix string
	Model              string
	Provider           string
	Messages           []Message
	MaxTokens          int
	// ThinkingBudget enables extended thinking when positive.
	ThinkingBudget int
	// ImageWindow is the image-retention window: only the most recent N
	// captured images are forwarded to the model. The session keeps its full
	// history unpruned regardless.
	ImageWindow         int
	ToolVersion         string
	TokenEfficientTools bool

	// Real-time event callbacks, invoked in production order.
	OnBlock       func(block ContentBlock)
	OnToolOutcome func(toolUseID string, outcome ToolOutcome)
	OnExchange    func(req CapturedRequest, resp *CapturedResponse, err error)
}

// RunConfig carries the per-session agent-run settings.
type RunConfig struct {
	SystemPromptSuffix  string
	Model               string
	Provider            string
	MaxTokens           int
	ThinkingBudget      int
	ImageWindow         int
	ToolVersion         string
	TokenEfficientTools bool
}

// Archiver durably records the session's event streams. Implemented by the
// store package; nil disables persistence.
type Archiver interface {
	SaveHistory(ctx context.Context, sessionID string, msgs []Message) error
	SaveToolOutcome(ctx context.Context, sessionID, toolUseID string, outcome ToolOutcome) error
	SaveExchange(ctx context.Context, sessionID string, ex Exchange) error
	ClearSession(ctx context.Context, sessionID string) error
}

// Session holds one conversation's turn history, run state, event logs and
// render dispatch. All operations on a session execute sequentially in
// response to discrete external events; the server serializes invocations per
// session, so the session itself needs no locking.
type Session struct {
	id         string
	history    *History
	state      *RunState
	recorder   *Recorder
	dispatcher *Dispatcher
	runner     Runner
	archiver   Archiver
	cfg        RunConfig
	logger     *slog.Logger
}

// NewSession constructs a session with isolated state. The surface receives
// live render events; the runner executes agent runs.
func NewSession(runner Runner, surface Surface, cfg RunConfig) *Session {
	sessionID, err := gonanoid.New()
	if err != nil {
		panic(err)
	}
	recorder := NewRecorder(sessionID)
	dispatcher := NewDispatcher(surface, recorder)
	recorder.SetDispatcher(dispatcher)
	return &Session{
		id:         sessionID,
		history:    NewHistory(),
		state:      NewRunState(),
		recorder:   recorder,
		dispatcher: dispatcher,
		runner:     runner,
		cfg:        cfg,
		logger:     slog.Default(),
	}
}

func (s *Session) SetLogger(logger *slog.Logger) {
	s.logger = logger
	s.recorder.SetLogger(logger)
	s.dispatcher.SetLogger(logger)
}

func (s *Session) SetArchiver(a Archiver) {
	s.archiver = a
	s.recorder.SetArchiver(a)
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) History() []Message {
	return s.history.All()
}

func (s *Session) Phase() RunPhase {
	return s.state.Phase()
}

func (s *Session) Recorder() *Recorder {
	return s.recorder
}

func (s *Session) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// HandleUserInput processes one user action: heal any interrupted prior run,
// append the user message (healing blocks first, then the text), and drive
// one agent run whose returned history replaces the session's wholesale.
func (s *Session) HandleUserInput(ctx context.Context, text string) error {
	healed := HealInterruption(ctx, s.state, s.history, s.recorder, s.logger)

	content := append(healed, TextBlock{Text: text})
	s.history.Append(Message{Role: RoleUser, Content: content})
	s.persistHistory(ctx)

	if err := s.state.Start(); err != nil {
		return err
	}

	updated, runErr := s.runner.Run(ctx, s.runParams(ctx))
	if updated != nil {
		s.history.ReplaceAll(updated)
		s.persistHistory(ctx)
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			// The run was abandoned mid-flight. Leave the state machine in
			// Running so the next handling cycle observes the interruption
			// and heals the dangling tool uses.
			s.logger.Warn("agent run abandoned", "sessionID", s.id, "error", runErr)
			return runErr
		}
		s.state.Finish()
		s.dispatcher.RenderError(runErr)
		return runErr
	}

	s.state.Finish()
	return nil
}

// RenderHistory replays the stored conversation through the dispatcher. Tool
// results render under the tool role, resolved via the outcome log.
func (s *Session) RenderHistory() error {
	for _, msg := range s.history.All() {
		for _, block := range msg.Content {
			role := msg.Role
			if _, ok := block.(ToolResultBlock); ok {
				role = RoleTool
			}
			if err := s.dispatcher.Render(role, block); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reset clears the history, both logs and the run flag back to their
// defaults, and drops any persisted state for the session.
func (s *Session) Reset(ctx context.Context) {
	s.history.Clear()
	s.recorder.Reset()
	s.state.settle()
	if s.archiver != nil {
		if err := s.archiver.ClearSession(ctx, s.id); err != nil {
			s.logger.Error("clearing persisted session failed", "sessionID", s.id, "error", err)
		}
	}
}

func (s *Session) runParams(ctx context.Context) RunParams {
	return RunParams{
		SystemPromptSuffix:  s.cfg.SystemPromptSuffix,
		Model:               s.cfg.Model,
		Provider:            s.cfg.Provider,
		Messages:            s.history.All(),
		MaxTokens:           s.cfg.MaxTokens,
		ThinkingBudget:      s.cfg.ThinkingBudget,
		ImageWindow:         s.cfg.ImageWindow,
		ToolVersion:         s.cfg.ToolVersion,
		TokenEfficientTools: s.cfg.TokenEfficientTools,
		OnBlock: func(block ContentBlock) {
			if err := s.dispatcher.Render(RoleAssistant, block); err != nil {
				s.logger.Error("rendering run output failed", "sessionID", s.id, "error", err)
			}
		},
		OnToolOutcome: func(toolUseID string, outcome ToolOutcome) {
			s.recorder.RecordToolOutcome(ctx, toolUseID, outcome)
		},
		OnExchange: func(req CapturedRequest, resp *CapturedResponse, err error) {
			s.recorder.RecordExchange(ctx, "", req, resp, err)
		},
	}
}

func (s *Session) persistHistory(ctx context.Context) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.SaveHistory(ctx, s.id, s.history.All()); err != nil {
		s.logger.Error("persisting history failed", "sessionID", s.id, "error", err)
	}
}
