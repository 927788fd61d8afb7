// Package runner connects a session to the external agent-run service. The
// service owns the model-calling loop and the tool executors; this client
// streams its events back into the session's logs as they happen.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/boat-builder/viva"
	"github.com/boat-builder/viva/tools"
)

// maxEventSize bounds one NDJSON line. Screenshot outcomes carry base64
// images, so lines run into megabytes.
const maxEventSize = 32 << 20

var _ viva.Runner = &Remote{}

// Remote drives one agent run over HTTP. The service responds with an NDJSON
// event stream terminated by a done or error event.
type Remote struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// New builds a Remote against the loop service at baseURL. The timeout bounds
// one full agent run, not one request hop.
func New(baseURL string, timeout time.Duration) *Remote {
	return &Remote{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  slog.Default(),
	}
}

func (r *Remote) SetLogger(logger *slog.Logger) {
	r.logger = logger
}

func (r *Remote) SetHTTPClient(client *http.Client) {
	r.client = client
}

// runRequest is the wire form of one run invocation.
type runRequest struct {
	SystemPromptSuffix  string             `json:"system_prompt_suffix,omitempty"`
	Model               string             `json:"model"`
	Provider            string             `json:"provider"`
	Messages            json.RawMessage    `json:"messages"`
	MaxTokens           int                `json:"max_tokens"`
	ThinkingBudget      int                `json:"thinking_budget,omitempty"`
	ImageWindow         int                `json:"image_window,omitempty"`
	ToolVersion         string             `json:"tool_version"`
	Tools               []tools.Descriptor `json:"tools,omitempty"`
	TokenEfficientTools bool               `json:"token_efficient_tools,omitempty"`
}

func runRequestFor(params viva.RunParams, encoded json.RawMessage, group []tools.Descriptor) runRequest {
	return runRequest{
		SystemPromptSuffix:  params.SystemPromptSuffix,
		Model:               params.Model,
		Provider:            params.Provider,
		Messages:            encoded,
		MaxTokens:           params.MaxTokens,
		ThinkingBudget:      params.ThinkingBudget,
		ImageWindow:         params.ImageWindow,
		ToolVersion:         params.ToolVersion,
		Tools:               group,
		TokenEfficientTools: params.TokenEfficientTools,
	}
}

// streamEvent is one NDJSON line from the loop service.
type streamEvent struct {
	Type string `json:"type"`

	// type "block"
	Block json.RawMessage `json:"block,omitempty"`

	// type "tool_outcome"
	ToolUseID string           `json:"tool_use_id,omitempty"`
	Outcome   viva.ToolOutcome `json:"outcome,omitempty"`

	// type "api_exchange"
	Request  viva.CapturedRequest   `json:"request,omitempty"`
	Response *viva.CapturedResponse `json:"response,omitempty"`
	CallErr  string                 `json:"call_error,omitempty"`

	// type "done"
	Messages json.RawMessage `json:"messages,omitempty"`

	// type "error"
	Error string `json:"error,omitempty"`
}

// Run posts the run request and consumes the event stream, forwarding events
// through the params callbacks. It returns the replacement history carried by
// the done event.
func (r *Remote) Run(ctx context.Context, params viva.RunParams) ([]viva.Message, error) {
	encoded, err := encodeMessages(params.Messages)
	if err != nil {
		return nil, fmt.Errorf("encode run messages: %w", err)
	}
	// An empty tool version leaves declarations to the loop service's default.
	var group []tools.Descriptor
	if params.ToolVersion != "" {
		group, err = tools.ForVersion(params.ToolVersion)
		if err != nil {
			return nil, fmt.Errorf("resolve tool group: %w", err)
		}
	}
	body, err := json.Marshal(runRequestFor(params, encoded, group))
	if err != nil {
		return nil, fmt.Errorf("encode run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/runs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("run request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, r.statusError(resp)
	}

	return r.consume(resp.Body, params)
}

// statusError maps a non-200 response to an error. Rate limiting surfaces as
// a RateLimitError carrying the provider's retry-after interval.
func (r *Remote) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	message := gjson.GetBytes(body, "error.message").String()

	if resp.StatusCode == http.StatusTooManyRequests {
		var retryAfter time.Duration
		if header := resp.Header.Get("Retry-After"); header != "" {
			if secs, err := strconv.Atoi(header); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &viva.RateLimitError{RetryAfter: retryAfter, Message: message}
	}

	if message == "" {
		message = string(body)
	}
	return fmt.Errorf("run request returned %d: %s", resp.StatusCode, message)
}

func (r *Remote) consume(stream io.Reader, params viva.RunParams) ([]viva.Message, error) {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var event streamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("decode run event: %w", err)
		}

		switch event.Type {
		case "block":
			block, err := viva.UnmarshalBlock(event.Block)
			if err != nil {
				r.logger.Warn("skipping undecodable block event", "error", err)
				continue
			}
			if params.OnBlock != nil {
				params.OnBlock(block)
			}
		case "tool_outcome":
			if params.OnToolOutcome != nil {
				params.OnToolOutcome(event.ToolUseID, event.Outcome)
			}
		case "api_exchange":
			if params.OnExchange != nil {
				var callErr error
				if event.CallErr != "" {
					callErr = fmt.Errorf("%s", event.CallErr)
				}
				params.OnExchange(event.Request, event.Response, callErr)
			}
		case "done":
			return decodeMessages(event.Messages)
		case "error":
			history, _ := decodeMessages(event.Messages)
			return history, fmt.Errorf("agent run failed: %s", event.Error)
		default:
			r.logger.Warn("unknown run event type", "type", event.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read run stream: %w", err)
	}
	return nil, fmt.Errorf("run stream ended without a done event")
}

func encodeMessages(msgs []viva.Message) (json.RawMessage, error) {
	if msgs == nil {
		msgs = []viva.Message{}
	}
	return json.Marshal(msgs)
}

func decodeMessages(raw json.RawMessage) ([]viva.Message, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var msgs []viva.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("decode run history: %w", err)
	}
	return msgs, nil
}
