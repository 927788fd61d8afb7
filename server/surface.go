package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"

	"github.com/boat-builder/viva"
)

// broadcaster is the slice of Hub the surface needs. Tests substitute a
// recording fake.
type broadcaster interface {
	Broadcast(ctx context.Context, event Event)
}

// WebSurface forwards render calls to connected clients as typed JSON events.
// One surface serves one session.
type WebSurface struct {
	sessionID string
	hub       broadcaster
	logger    *slog.Logger
}

var _ viva.Surface = &WebSurface{}

func NewWebSurface(hub broadcaster, logger *slog.Logger) *WebSurface {
	return &WebSurface{hub: hub, logger: logger}
}

// SetSessionID stamps outgoing events with the owning session. The session id
// is generated during session construction, so it is bound afterwards.
func (s *WebSurface) SetSessionID(id string) {
	s.sessionID = id
}

type textEvent struct {
	Role viva.Role `json:"role"`
	Text string    `json:"text"`
}

type toolUseEvent struct {
	Role    viva.Role `json:"role"`
	Name    string    `json:"name"`
	Payload string    `json:"payload"`
}

type outputEvent struct {
	Text string `json:"text"`
	Code bool   `json:"code"`
}

type errorEvent struct {
	Text string `json:"text"`
}

type imageEvent struct {
	PNG string `json:"png"` // base64
}

func (s *WebSurface) ShowText(role viva.Role, text string) {
	s.emit("text", textEvent{Role: role, Text: text})
}

func (s *WebSurface) ShowThinking(role viva.Role, text string) {
	s.emit("thinking", textEvent{Role: role, Text: text})
}

func (s *WebSurface) ShowToolUse(role viva.Role, name string, payload string) {
	s.emit("tool_use", toolUseEvent{Role: role, Name: name, Payload: payload})
}

func (s *WebSurface) ShowOutput(text string, code bool) {
	s.emit("output", outputEvent{Text: text, Code: code})
}

func (s *WebSurface) ShowError(text string) {
	s.emit("error", errorEvent{Text: text})
}

func (s *WebSurface) ShowImage(png []byte) {
	s.emit("image", imageEvent{PNG: base64.StdEncoding.EncodeToString(png)})
}

func (s *WebSurface) ShowExchange(ex viva.Exchange) {
	s.emit("api_exchange", ex)
}

func (s *WebSurface) emit(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encoding render event failed", "type", eventType, "error", err)
		return
	}
	s.hub.Broadcast(context.Background(), Event{
		Type:      eventType,
		SessionID: s.sessionID,
		Payload:   data,
	})
}
