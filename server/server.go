package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/boat-builder/viva"
)

// Transcriber turns recorded speech into text. Nil disables the endpoint.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// Server is the HTTP surface of the session service.
type Server struct {
	manager     *Manager
	hub         *Hub
	transcriber Transcriber
	logger      *slog.Logger
	router      chi.Router
}

func New(manager *Manager, hub *Hub, logger *slog.Logger) *Server {
	s := &Server{
		manager: manager,
		hub:     hub,
		logger:  logger,
	}
	s.router = s.routes()
	return s
}

// SetTranscriber enables the speech-input endpoint.
func (s *Server) SetTranscriber(t Transcriber) {
	s.transcriber = t
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions", s.handleListSessions)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/messages", s.handlePostMessage)
			r.Get("/history", s.handleGetHistory)
			r.Get("/exchanges", s.handleGetExchanges)
			r.Post("/replay", s.handleReplay)
			r.Post("/reset", s.handleReset)
		})
		r.Post("/transcribe", s.handleTranscribe)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.hub.ConnectionCount(),
	})
}

type sessionInfo struct {
	ID       string `json:"id"`
	Phase    string `json:"phase"`
	Messages int    `json:"messages"`
}

func describe(session *viva.Session) sessionInfo {
	return sessionInfo{
		ID:       session.ID(),
		Phase:    string(session.Phase()),
		Messages: len(session.History()),
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session := s.manager.Create()
	writeJSON(w, http.StatusCreated, describe(session))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos := make([]sessionInfo, 0)
	for _, id := range s.manager.IDs() {
		if session, ok := s.manager.Get(id); ok {
			infos = append(infos, describe(session))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": infos})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.manager.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, describe(session))
}

type postMessageRequest struct {
	Text string `json:"text"`
}

// handlePostMessage feeds one user turn into the session and drives a full
// agent run. Render events stream over the WebSocket while this request is in
// flight; the response carries the final session state.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	id := chi.URLParam(r, "id")
	var runErr error
	err := s.manager.Do(r.Context(), id, func(session *viva.Session) {
		runErr = session.HandleUserInput(r.Context(), req.Text)
	})
	if errors.Is(err, ErrUnknownSession) {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	if runErr != nil {
		var rl *viva.RateLimitError
		switch {
		case errors.As(runErr, &rl):
			if rl.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter/time.Second)))
			}
			writeError(w, http.StatusTooManyRequests, rl.Error())
		case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
			// The client went away mid-run; the session stays interrupted and
			// heals on the next turn. Nobody reads this response.
			writeError(w, http.StatusRequestTimeout, "run interrupted")
		case errors.Is(runErr, viva.ErrRunActive):
			writeError(w, http.StatusConflict, runErr.Error())
		default:
			writeError(w, http.StatusBadGateway, runErr.Error())
		}
		return
	}

	session, _ := s.manager.Get(id)
	writeJSON(w, http.StatusOK, describe(session))
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	session, ok := s.manager.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": session.History()})
}

func (s *Server) handleGetExchanges(w http.ResponseWriter, r *http.Request) {
	session, ok := s.manager.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exchanges": session.Recorder().Exchanges()})
}

// handleReplay re-renders the stored conversation, for clients that connected
// after the session started.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var replayErr error
	err := s.manager.Do(r.Context(), id, func(session *viva.Session) {
		replayErr = session.RenderHistory()
	})
	if errors.Is(err, ErrUnknownSession) {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if replayErr != nil {
		writeError(w, http.StatusInternalServerError, replayErr.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.manager.Do(r.Context(), id, func(session *viva.Session) {
		session.Reset(r.Context())
	})
	if errors.Is(err, ErrUnknownSession) {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTranscribe accepts a multipart audio upload and returns the
// recognized text.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.transcriber == nil {
		writeError(w, http.StatusNotImplemented, "transcription is not configured")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	text, err := s.transcriber.Transcribe(r.Context(), file, header.Filename)
	if err != nil {
		s.logger.Error("transcription failed", "error", err)
		writeError(w, http.StatusBadGateway, "transcription failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"message": message}})
}
