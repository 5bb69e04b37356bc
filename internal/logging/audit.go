package logging

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType defines the type of audit event.
type AuditEventType string

const (
	AuditConfigLoaded      AuditEventType = "config_loaded"
	AuditDedupRun          AuditEventType = "dedup_run"
	AuditAdjudication      AuditEventType = "adjudication"
	AuditScreeningDecision AuditEventType = "screening_decision"
	AuditLLMCall           AuditEventType = "llm_call"
	AuditLLMError          AuditEventType = "llm_error"
	AuditQACheck           AuditEventType = "qa_check"
	AuditICRSampling       AuditEventType = "icr_sampling"
	AuditICRReliability    AuditEventType = "icr_reliability"
	AuditPublish           AuditEventType = "publish"
	AuditError             AuditEventType = "error"
)

// AuditEvent is one JSON line in the audit trail.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`      // Unix milliseconds
	EventType  AuditEventType         `json:"event"`   // Event type
	Category   string                 `json:"cat"`     // Log category
	RunID      string                 `json:"run"`     // Run correlation
	Target     string                 `json:"target"`  // Study ID, file, or model
	Action     string                 `json:"action"`  // Action being performed
	Success    bool                   `json:"success"` // Operation succeeded
	DurationMs int64                  `json:"dur_ms"`  // Duration in milliseconds
	Error      string                 `json:"error"`   // Error message if failed
	Message    string                 `json:"msg"`     // Human-readable message
	Fields     map[string]interface{} `json:"fields"`  // Additional structured fields
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditFile *os.File
	auditPath string
	auditMu   sync.Mutex
)

// AuditLogger writes events to the process-wide audit trail.
type AuditLogger struct {
	runID    string
	category Category
}

// InitAudit opens (or appends to) the audit trail at path.
// Unlike category logs, the audit trail is written regardless of debug mode.
func InitAudit(path string) error {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	auditPath = path
	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
		auditPath = ""
	}
}

// AuditPath returns the path of the open audit trail, or "".
func AuditPath() string {
	auditMu.Lock()
	defer auditMu.Unlock()
	return auditPath
}

// Audit returns an unscoped audit logger.
func Audit() *AuditLogger {
	return &AuditLogger{}
}

// AuditWithRun creates an audit logger scoped to a run.
func AuditWithRun(runID string, category Category) *AuditLogger {
	return &AuditLogger{runID: runID, category: category}
}

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.RunID == "" {
		event.RunID = a.runID
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}
	if event.Fields == nil {
		event.Fields = make(map[string]interface{})
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}
	auditFile.Write(append(data, '\n'))
}

// ConfigLoaded records the effective provider/model for a run.
func (a *AuditLogger) ConfigLoaded(path, provider, model string) {
	a.Log(AuditEvent{
		EventType: AuditConfigLoaded,
		Target:    path,
		Success:   true,
		Fields:    map[string]interface{}{"provider": provider, "model": model},
		Message:   fmt.Sprintf("Config loaded from %s (%s/%s)", path, provider, model),
	})
}

// DedupRun records the outcome of a deduplication run.
func (a *AuditLogger) DedupRun(sources []string, original, unique int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditDedupRun,
		Success:    true,
		DurationMs: durationMs,
		Fields: map[string]interface{}{
			"sources":  sources,
			"original": original,
			"unique":   unique,
		},
		Message: fmt.Sprintf("Dedup: %d -> %d records", original, unique),
	})
}

// Adjudication records a human verdict on a borderline duplicate pair.
func (a *AuditLogger) Adjudication(studyA, studyB, verdict string) {
	a.Log(AuditEvent{
		EventType: AuditAdjudication,
		Target:    studyA,
		Action:    verdict,
		Success:   true,
		Fields:    map[string]interface{}{"other": studyB},
		Message:   fmt.Sprintf("Pair %s/%s adjudicated as %s", studyA, studyB, verdict),
	})
}

// ScreeningDecision records one screening result.
func (a *AuditLogger) ScreeningDecision(studyID, decision, reasonCode, model string, failed bool) {
	a.Log(AuditEvent{
		EventType: AuditScreeningDecision,
		Target:    studyID,
		Action:    decision,
		Success:   !failed,
		Fields:    map[string]interface{}{"reason_code": reasonCode, "model": model},
		Message:   fmt.Sprintf("Screened %s: %s %s", studyID, decision, reasonCode),
	})
}

// LLMCall records a completed model call.
func (a *AuditLogger) LLMCall(model string, inputTokens, outputTokens int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditLLMCall,
		Target:     model,
		Success:    true,
		DurationMs: durationMs,
		Fields: map[string]interface{}{
			"model":         model,
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
		},
		Message: fmt.Sprintf("LLM call: %s -> %d/%d tokens (%dms)", model, inputTokens, outputTokens, durationMs),
	})
}

// LLMError records a failed model call.
func (a *AuditLogger) LLMError(model string, durationMs int64, err error) {
	a.Log(AuditEvent{
		EventType:  AuditLLMError,
		Target:     model,
		Success:    false,
		DurationMs: durationMs,
		Error:      errString(err),
		Fields:     map[string]interface{}{"model": model},
		Message:    fmt.Sprintf("LLM error: %s", errString(err)),
	})
}

// QACheck records a quality gate result for one effect size.
func (a *AuditLogger) QACheck(esID, gate string, passed bool, detail string) {
	a.Log(AuditEvent{
		EventType: AuditQACheck,
		Target:    esID,
		Action:    gate,
		Success:   passed,
		Message:   detail,
	})
}

// ICRSampling records a verification sample draw.
func (a *AuditLogger) ICRSampling(population, sampled int, seed int64) {
	a.Log(AuditEvent{
		EventType: AuditICRSampling,
		Success:   true,
		Fields: map[string]interface{}{
			"population": population,
			"sampled":    sampled,
			"seed":       seed,
		},
		Message: fmt.Sprintf("Sampled %d of %d for verification (seed=%d)", sampled, population, seed),
	})
}

// ICRReliability records the agreement score of a completed verification sheet.
func (a *AuditLogger) ICRReliability(coded int, kappa, target float64, passed bool) {
	a.Log(AuditEvent{
		EventType: AuditICRReliability,
		Success:   passed,
		Fields: map[string]interface{}{
			"coded":  coded,
			"kappa":  kappa,
			"target": target,
		},
		Message: fmt.Sprintf("Cohen's kappa %.3f over %d studies (target %.2f)", kappa, coded, target),
	})
}

// Publish records an artifact upload.
func (a *AuditLogger) Publish(object string, size int64, err error) {
	a.Log(AuditEvent{
		EventType: AuditPublish,
		Target:    object,
		Success:   err == nil,
		Error:     errString(err),
		Fields:    map[string]interface{}{"size": size},
		Message:   fmt.Sprintf("Publish %s (%d bytes)", object, size),
	})
}

// Error records a failure that stopped an operation.
func (a *AuditLogger) Error(action string, err error) {
	a.Log(AuditEvent{
		EventType: AuditError,
		Action:    action,
		Success:   false,
		Error:     errString(err),
		Message:   fmt.Sprintf("Error in %s: %s", action, errString(err)),
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// =============================================================================
// READING THE TRAIL
// =============================================================================

// ReadAudit loads every event from an audit trail file.
func ReadAudit(path string) ([]AuditEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []AuditEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		b := scanner.Bytes()
		if len(b) == 0 {
			continue
		}
		var e AuditEvent
		if err := json.Unmarshal(b, &e); err != nil {
			return events, fmt.Errorf("audit line %d: %w", line, err)
		}
		events = append(events, e)
	}
	return events, scanner.Err()
}

// AuditSummary aggregates an audit trail.
type AuditSummary struct {
	TotalEvents int            `json:"total_events"`
	TypeCounts  map[string]int `json:"type_counts"`
	ModelUsage  map[string]int `json:"model_usage"`
	Runs        []string       `json:"runs"`
	Errors      int            `json:"n_errors"`
}

// Summarize counts events by type and model.
func Summarize(events []AuditEvent) AuditSummary {
	s := AuditSummary{
		TypeCounts: make(map[string]int),
		ModelUsage: make(map[string]int),
	}
	runs := make(map[string]struct{})
	for _, e := range events {
		s.TotalEvents++
		s.TypeCounts[string(e.EventType)]++
		if !e.Success {
			s.Errors++
		}
		if m, ok := e.Fields["model"].(string); ok && m != "" {
			s.ModelUsage[m]++
		}
		if e.RunID != "" {
			runs[e.RunID] = struct{}{}
		}
	}
	for r := range runs {
		s.Runs = append(s.Runs, r)
	}
	sort.Strings(s.Runs)
	return s
}

// Timeline returns the events targeting one study, oldest first.
func Timeline(events []AuditEvent, target string) []AuditEvent {
	var out []AuditEvent
	for _, e := range events {
		if e.Target == target {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// ErrNoAudit is returned by SummarizeFile when the trail does not exist yet.
var ErrNoAudit = errors.New("no audit trail")

// SummarizeFile reads and summarizes the trail at path.
func SummarizeFile(path string) (AuditSummary, error) {
	events, err := ReadAudit(path)
	if errors.Is(err, os.ErrNotExist) {
		return AuditSummary{}, ErrNoAudit
	}
	if err != nil {
		return AuditSummary{}, err
	}
	return Summarize(events), nil
}
