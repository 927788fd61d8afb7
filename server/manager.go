package server

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/boat-builder/viva"
	"github.com/boat-builder/viva/config"
)

// ErrUnknownSession is returned for operations on a session id the manager
// has never issued or has already closed.
var ErrUnknownSession = fmt.Errorf("unknown session")

// task is one unit of session work. done closes after fn returns.
type task struct {
	fn   func()
	done chan struct{}
}

// runtime owns one session and executes its work strictly in order. All
// session mutations flow through the task channel, so the session itself
// never sees concurrent calls.
type runtime struct {
	session *viva.Session
	tasks   chan task

	startOnce sync.Once
	quit      chan struct{}
}

func newRuntime(session *viva.Session) *runtime {
	return &runtime{
		session: session,
		tasks:   make(chan task, 16),
		quit:    make(chan struct{}),
	}
}

func (rt *runtime) start() {
	rt.startOnce.Do(func() {
		go rt.loop()
	})
}

func (rt *runtime) loop() {
	for {
		select {
		case t := <-rt.tasks:
			t.fn()
			close(t.done)
		case <-rt.quit:
			return
		}
	}
}

// do enqueues fn and waits for it to finish. Enqueueing respects ctx, but a
// task that has started always runs to completion; the work itself observes
// cancellation through the ctx captured in fn.
func (rt *runtime) do(ctx context.Context, fn func()) error {
	t := task{fn: fn, done: make(chan struct{})}
	select {
	case rt.tasks <- t:
	case <-rt.quit:
		return ErrUnknownSession
	case <-ctx.Done():
		return ctx.Err()
	}
	<-t.done
	return nil
}

func (rt *runtime) stop() {
	close(rt.quit)
}

// Manager creates sessions and serializes all work against each one.
type Manager struct {
	runner viva.Runner
	store  viva.Archiver
	hub    *Hub
	cfg    *config.Config
	logger *slog.Logger

	mu       sync.RWMutex
	runtimes map[string]*runtime
}

func NewManager(runner viva.Runner, store viva.Archiver, hub *Hub, cfg *config.Config, logger *slog.Logger) *Manager {
	return &Manager{
		runner:   runner,
		store:    store,
		hub:      hub,
		cfg:      cfg,
		logger:   logger,
		runtimes: make(map[string]*runtime),
	}
}

// Create builds a new session wired to the hub and persistence, starts its
// runtime and returns it.
func (m *Manager) Create() *viva.Session {
	surface := NewWebSurface(m.hub, m.logger)
	session := viva.NewSession(m.runner, surface, viva.RunConfig{
		SystemPromptSuffix:  config.LoadSecret(config.SecretSystemPrompt),
		Model:               m.cfg.Agent.Model,
		Provider:            m.cfg.Agent.Provider,
		MaxTokens:           m.cfg.Agent.MaxTokens,
		ThinkingBudget:      m.cfg.Agent.ThinkingBudget,
		ImageWindow:         m.cfg.Agent.ImageWindow,
		ToolVersion:         m.cfg.Agent.ToolVersion,
		TokenEfficientTools: m.cfg.Agent.TokenEfficientTools,
	})
	surface.SetSessionID(session.ID())
	session.SetLogger(m.logger)
	if m.store != nil {
		session.SetArchiver(m.store)
	}
	session.Dispatcher().HideImages = m.cfg.Agent.HideImages
	session.Dispatcher().SetErrorSink(func(body string) error {
		_, err := config.SaveErrorArtifact(body)
		return err
	})

	rt := newRuntime(session)
	rt.start()

	m.mu.Lock()
	m.runtimes[session.ID()] = rt
	m.mu.Unlock()

	m.logger.Info("session created", "sessionID", session.ID())
	return session
}

// Get returns the session for id.
func (m *Manager) Get(id string) (*viva.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.runtimes[id]
	if !ok {
		return nil, false
	}
	return rt.session, true
}

// IDs returns all live session ids, sorted.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.runtimes))
	for id := range m.runtimes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Do runs fn against the session with exclusive access, in queue order with
// every other operation on that session.
func (m *Manager) Do(ctx context.Context, id string, fn func(session *viva.Session)) error {
	m.mu.RLock()
	rt, ok := m.runtimes[id]
	m.mu.RUnlock()
	if !ok {
		return ErrUnknownSession
	}
	return rt.do(ctx, func() { fn(rt.session) })
}

// Close stops all session runtimes. Queued work is abandoned.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rt := range m.runtimes {
		rt.stop()
		delete(m.runtimes, id)
	}
}
