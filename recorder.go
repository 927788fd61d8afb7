package viva

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ToolOutcome is the resolved result of one tool execution, keyed by its
// tool_use id. The raw tool_result block sent back to the model lacks full
// execution detail (captured images in particular), so the session keeps
// these alongside the history for display.
type ToolOutcome struct {
	Output      string `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
	Base64Image string `json:"base64_image,omitempty"`
	// CLI marks output that should be rendered literally, as code.
	CLI bool `json:"cli,omitempty"`
}

// Empty reports whether the outcome carries nothing to display.
func (o ToolOutcome) Empty() bool {
	return o.Output == "" && o.Error == "" && o.Base64Image == ""
}

// CapturedRequest is the recorded half of a raw provider exchange.
type CapturedRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// CapturedResponse is the response half of a raw provider exchange. Nil when
// the call failed before a response arrived.
type CapturedResponse struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
}

// Exchange is one recorded request/response pair. ID increases monotonically
// with arrival time; iteration over the exchange log follows first-insertion
// order.
type Exchange struct {
	ID       string            `json:"id"`
	Request  CapturedRequest   `json:"request"`
	Response *CapturedResponse `json:"response,omitempty"`
	Err      string            `json:"error,omitempty"`
}

// redactedHeaders are stripped from recorded requests before the exchange is
// persisted or displayed.
var redactedHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"api-key":       true,
}

// Recorder holds the two append-only correlated logs populated by the agent
// run as it executes: tool outcomes and raw API exchanges. Both have map
// semantics with insertion order preserved and last write wins, so a retried
// exchange or a re-reported outcome supersedes the displayed value without
// disturbing log order. Entries are never removed except by a full Reset.
type Recorder struct {
	sessionID string
	tools     *orderedmap.OrderedMap[string, ToolOutcome]
	exchanges *orderedmap.OrderedMap[string, Exchange]

	render   *Dispatcher
	archiver Archiver
	logger   *slog.Logger

	lastArrival time.Time
	arrivalSeq  int
}

func NewRecorder(sessionID string) *Recorder {
	return &Recorder{
		sessionID: sessionID,
		tools:     orderedmap.New[string, ToolOutcome](),
		exchanges: orderedmap.New[string, Exchange](),
		logger:    slog.Default(),
	}
}

// SetDispatcher wires the dispatcher used for immediate rendering of recorded
// entries. The dispatcher itself reads outcomes back from this recorder, so
// the two are bound after construction.
func (r *Recorder) SetDispatcher(d *Dispatcher) {
	r.render = d
}

func (r *Recorder) SetArchiver(a Archiver) {
	r.archiver = a
}

func (r *Recorder) SetLogger(logger *slog.Logger) {
	r.logger = logger
}

// RecordToolOutcome stores the outcome under the tool_use id and renders it
// immediately. Recording always completes even when rendering fails.
func (r *Recorder) RecordToolOutcome(ctx context.Context, toolUseID string, outcome ToolOutcome) {
	r.tools.Set(toolUseID, outcome)
	if r.archiver != nil {
		if err := r.archiver.SaveToolOutcome(ctx, r.sessionID, toolUseID, outcome); err != nil {
			r.logger.Error("persisting tool outcome failed", "sessionID", r.sessionID, "toolUseID", toolUseID, "error", err)
		}
	}
	if r.render != nil {
		if err := r.render.RenderOutcome(outcome); err != nil {
			r.logger.Error("rendering tool outcome failed", "sessionID", r.sessionID, "toolUseID", toolUseID, "error", err)
		}
	}
}

// RecordExchange stores one request/response pair and renders it. An empty id
// gets a fresh arrival id; passing an existing id supersedes that entry in
// place. When callErr is non-nil the error-rendering path fires in addition
// to the normal render; neither recording nor either rendering step is ever
// skipped because another of them failed.
func (r *Recorder) RecordExchange(ctx context.Context, id string, req CapturedRequest, resp *CapturedResponse, callErr error) Exchange {
	if id == "" {
		id = r.nextArrivalID()
	}
	ex := Exchange{ID: id, Request: redactRequest(req), Response: resp}
	if callErr != nil {
		ex.Err = callErr.Error()
	}
	r.exchanges.Set(id, ex)
	if r.archiver != nil {
		if err := r.archiver.SaveExchange(ctx, r.sessionID, ex); err != nil {
			r.logger.Error("persisting exchange failed", "sessionID", r.sessionID, "exchangeID", id, "error", err)
		}
	}
	if r.render != nil {
		if callErr != nil {
			r.render.RenderError(callErr)
		}
		r.render.RenderExchange(ex)
	}
	return ex
}

// ToolOutcome looks up the recorded outcome for a tool_use id.
func (r *Recorder) ToolOutcome(toolUseID string) (ToolOutcome, bool) {
	return r.tools.Get(toolUseID)
}

// ToolOutcomeIDs returns the recorded tool_use ids in first-insertion order.
func (r *Recorder) ToolOutcomeIDs() []string {
	ids := make([]string, 0, r.tools.Len())
	for pair := r.tools.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}
	return ids
}

// Exchanges returns the exchange log in first-insertion order.
func (r *Recorder) Exchanges() []Exchange {
	out := make([]Exchange, 0, r.exchanges.Len())
	for pair := r.exchanges.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Reset clears both logs. Only an explicit session reset calls this.
func (r *Recorder) Reset() {
	r.tools = orderedmap.New[string, ToolOutcome]()
	r.exchanges = orderedmap.New[string, Exchange]()
}

// arrivalTimeLayout is fixed-width so ids sort lexicographically in arrival
// order.
const arrivalTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// nextArrivalID produces a time-ordered exchange id. The sequence suffix
// keeps ids strictly increasing when two exchanges land within clock
// resolution.
func (r *Recorder) nextArrivalID() string {
	now := time.Now().UTC()
	if !now.After(r.lastArrival) {
		r.arrivalSeq++
	} else {
		r.lastArrival = now
		r.arrivalSeq = 0
	}
	return fmt.Sprintf("%s#%03d", r.lastArrival.Format(arrivalTimeLayout), r.arrivalSeq)
}

func redactRequest(req CapturedRequest) CapturedRequest {
	if len(req.Headers) == 0 {
		return req
	}
	headers := make(map[string]string, len(req.Headers))
	for k, v := range req.Headers {
		if redactedHeaders[strings.ToLower(k)] {
			headers[k] = "[redacted]"
			continue
		}
		headers[k] = v
	}
	req.Headers = headers
	return req
}
