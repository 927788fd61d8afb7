// Package transcribe turns recorded speech into text for session input using
// the OpenAI transcription endpoint.
package transcribe

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is the transcription model used unless overridden.
const DefaultModel = "gpt-4o-mini-transcribe"

// Client wraps the transcription API for speech input.
type Client struct {
	client *openai.Client
	model  string
}

// New builds a transcription client with the given API key.
func New(apiKey string) *Client {
	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  DefaultModel,
	}
}

func (c *Client) SetModel(model string) {
	c.model = model
}

// Transcribe sends the audio payload and returns the recognized text,
// trimmed. Filename hints the container format to the service.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	resp, err := c.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.FileParam(audio, filename, ""),
		Model: openai.F(openai.AudioModel(c.model)),
	})
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
