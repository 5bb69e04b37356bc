package llm

import (
	"context"
	"time"

	"litreview/internal/logging"
	"litreview/internal/usage"
)

// TrackingClient wraps a Client, recording token usage and an audit event
// for every call.
type TrackingClient struct {
	underlying Client
	tracker    *usage.Tracker
	audit      *logging.AuditLogger
	operation  string
}

// NewTrackingClient wraps c. tracker and audit may be nil.
func NewTrackingClient(c Client, tracker *usage.Tracker, audit *logging.AuditLogger, operation string) *TrackingClient {
	if audit == nil {
		audit = logging.Audit()
	}
	return &TrackingClient{underlying: c, tracker: tracker, audit: audit, operation: operation}
}

func (t *TrackingClient) Provider() string { return t.underlying.Provider() }
func (t *TrackingClient) Model() string    { return t.underlying.Model() }

// Complete forwards to the wrapped client.
func (t *TrackingClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error) {
	start := time.Now()
	out, err := t.underlying.Complete(ctx, systemPrompt, userPrompt)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		t.audit.LLMError(t.underlying.Model(), elapsed, err)
		return nil, err
	}

	t.audit.LLMCall(out.Model, out.InputTokens, out.OutputTokens, elapsed)
	tracker := t.tracker
	if tracker == nil {
		tracker = usage.FromContext(ctx)
	}
	if tracker != nil {
		tracker.Track(ctx, out.Model, t.underlying.Provider(), out.InputTokens, out.OutputTokens, t.operation)
	}
	return out, nil
}
