package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boat-builder/viva"
	"github.com/boat-builder/viva/config"
)

type stubRunner struct {
	mu    sync.Mutex
	calls int
	run   func(ctx context.Context, params viva.RunParams) ([]viva.Message, error)
}

func (r *stubRunner) Run(ctx context.Context, params viva.RunParams) ([]viva.Message, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.run != nil {
		return r.run(ctx, params)
	}
	return params.Messages, nil
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	return &cfg
}

func newTestServer(t *testing.T, runner viva.Runner) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	manager := NewManager(runner, nil, hub, testConfig(), logger)
	t.Cleanup(manager.Close)
	return New(manager, hub, logger)
}

func createSession(t *testing.T, srv *Server) string {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: %d %s", rec.Code, rec.Body.String())
	}
	var info sessionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode session info: %v", err)
	}
	return info.ID
}

func TestSessionLifecycle(t *testing.T) {
	runner := &stubRunner{run: func(_ context.Context, params viva.RunParams) ([]viva.Message, error) {
		reply := append([]viva.Message{}, params.Messages...)
		reply = append(reply, viva.Message{
			Role:    viva.RoleAssistant,
			Content: []viva.ContentBlock{viva.TextBlock{Text: "done"}},
		})
		return reply, nil
	}}
	srv := newTestServer(t, runner)
	id := createSession(t, srv)

	body := bytes.NewBufferString(`{"text":"take a screenshot"}`)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+id+"/messages", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("post message: %d %s", rec.Code, rec.Body.String())
	}
	var info sessionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Phase != string(viva.PhaseIdle) || info.Messages != 2 {
		t.Fatalf("unexpected session state after run: %+v", info)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+id+"/history", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get history: %d", rec.Code)
	}
	var history struct {
		Messages []viva.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history.Messages) != 2 || history.Messages[1].Role != viva.RoleAssistant {
		t.Fatalf("history wrong: %#v", history.Messages)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+id+"/reset", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("reset: %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+id, nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Messages != 0 {
		t.Fatalf("reset did not clear history: %+v", info)
	}
}

func TestPostMessageValidation(t *testing.T) {
	srv := newTestServer(t, &stubRunner{})
	id := createSession(t, srv)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+id+"/messages", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty text should 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/nope/messages", strings.NewReader(`{"text":"hi"}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session should 404, got %d", rec.Code)
	}
}

func TestPostMessageRateLimited(t *testing.T) {
	runner := &stubRunner{run: func(context.Context, viva.RunParams) ([]viva.Message, error) {
		return nil, &viva.RateLimitError{RetryAfter: 30 * time.Second, Message: "slow down"}
	}}
	srv := newTestServer(t, runner)
	id := createSession(t, srv)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+id+"/messages", strings.NewReader(`{"text":"hi"}`)))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "30" {
		t.Fatalf("retry-after header %q", rec.Header().Get("Retry-After"))
	}

	// The session stays usable after a recoverable failure.
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+id, nil))
	var info sessionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Phase != string(viva.PhaseIdle) {
		t.Fatalf("session should settle to idle, got %s", info.Phase)
	}
}

func TestMessagesAreSerializedPerSession(t *testing.T) {
	var mu sync.Mutex
	var concurrent, peak int
	runner := &stubRunner{run: func(_ context.Context, params viva.RunParams) ([]viva.Message, error) {
		mu.Lock()
		concurrent++
		if concurrent > peak {
			peak = concurrent
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		concurrent--
		mu.Unlock()
		return params.Messages, nil
	}}
	srv := newTestServer(t, runner)
	id := createSession(t, srv)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+id+"/messages", strings.NewReader(`{"text":"hi"}`)))
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Fatalf("runs overlapped, peak concurrency %d", peak)
	}
	if runner.calls != 4 {
		t.Fatalf("expected 4 runs, got %d", runner.calls)
	}
}

func TestListSessions(t *testing.T) {
	srv := newTestServer(t, &stubRunner{})
	first := createSession(t, srv)
	second := createSession(t, srv)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	var list struct {
		Sessions []sessionInfo `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list.Sessions))
	}
	seen := map[string]bool{}
	for _, info := range list.Sessions {
		seen[info.ID] = true
	}
	if !seen[first] || !seen[second] {
		t.Fatalf("sessions missing from listing: %v", seen)
	}
}

type stubTranscriber struct {
	text string
	err  error
}

func (s *stubTranscriber) Transcribe(_ context.Context, audio io.Reader, _ string) (string, error) {
	io.Copy(io.Discard, audio)
	return s.text, s.err
}

func TestTranscribe(t *testing.T) {
	srv := newTestServer(t, &stubRunner{})
	srv.SetTranscriber(&stubTranscriber{text: "open the browser"})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", "input.wav")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("fake-wav-bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("transcribe: %d %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["text"] != "open the browser" {
		t.Fatalf("text %q", resp["text"])
	}
}

func TestTranscribeUnconfigured(t *testing.T) {
	srv := newTestServer(t, &stubRunner{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/transcribe", nil))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &stubRunner{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("request id header missing")
	}
}

type recordingHub struct {
	mu     sync.Mutex
	events []Event
}

func (h *recordingHub) Broadcast(_ context.Context, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func TestWebSurfaceEvents(t *testing.T) {
	hub := &recordingHub{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	surface := NewWebSurface(hub, logger)
	surface.SetSessionID("s1")

	surface.ShowText(viva.RoleAssistant, "hello")
	surface.ShowOutput("ls output", true)
	surface.ShowImage([]byte{0x89, 0x50, 0x4e, 0x47})
	surface.ShowError("boom")

	if len(hub.events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(hub.events))
	}
	if hub.events[0].Type != "text" || hub.events[0].SessionID != "s1" {
		t.Fatalf("text event wrong: %+v", hub.events[0])
	}
	var out outputEvent
	if err := json.Unmarshal(hub.events[1].Payload, &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Text != "ls output" || !out.Code {
		t.Fatalf("output event wrong: %+v", out)
	}
	var img imageEvent
	if err := json.Unmarshal(hub.events[2].Payload, &img); err != nil {
		t.Fatalf("decode image: %v", err)
	}
	if img.PNG == "" {
		t.Fatal("image payload empty")
	}
}
