package screening

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"litreview/internal/bib"
	"litreview/internal/llm"
	"litreview/internal/logging"
	"litreview/internal/store"
	"litreview/internal/usage"
)

// Output file names inside the screening directory.
const (
	DecisionsFile = "screening_decisions.jsonl"
	CSVFile       = "screening_decisions.csv"
	SummaryFile   = "screening_summary.json"
	SampleFile    = "icr_sample.csv"
)

const (
	defaultWorkers = 4
	defaultRPS     = 2.0
)

// Options configures one screening run.
type Options struct {
	OutputDir string
	// Limit caps the number of records screened in this run. Zero means all.
	Limit int
	// Resume skips studies that already have a successful decision.
	Resume            bool
	Workers           int
	RequestsPerSecond float64
	RunID             string
}

// RunResult describes a finished or interrupted run.
type RunResult struct {
	RunID     string
	Screened  int
	Skipped   int
	Decisions []Decision
	Summary   Summary
}

// Screener screens records against one framework.
type Screener struct {
	client    llm.Client
	framework Framework
	store     *store.Store
	now       func() time.Time
}

// NewScreener creates a screener. st may be nil.
func NewScreener(client llm.Client, f Framework, st *store.Store) *Screener {
	return &Screener{client: client, framework: f, store: st, now: time.Now}
}

// Framework returns the screener's criteria set.
func (s *Screener) Framework() Framework { return s.framework }

// ScreenOne sends a single record to the model. Failures are reported in
// the returned decision rather than as an error.
func (s *Screener) ScreenOne(ctx context.Context, rec bib.Record) Decision {
	out, err := s.client.Complete(ctx, s.framework.SystemPrompt(), s.framework.UserMessage(rec))

	var d Decision
	if err != nil {
		logging.ScreenWarn("Screening %s failed: %v", rec.StudyID, err)
		d = Decision{
			Decision:   Uncertain,
			Confidence: ConfidenceLow,
			Rationale:  fmt.Sprintf("Screening error: %v", err),
			Error:      true,
		}
	} else {
		d = ParseResponse(out.Text, s.framework)
		if d.ParseError {
			logging.ScreenWarn("Unparseable response for %s", rec.StudyID)
		}
		d.Model = out.Model
		d.Tokens = Tokens{Input: out.InputTokens, Output: out.OutputTokens}
	}
	if d.Model == "" {
		d.Model = s.client.Model()
	}
	d.StudyID = rec.StudyID
	d.Title = rec.Title
	d.ScreenedAt = s.now().UTC().Format(time.RFC3339)
	return d
}

// Run screens records with a bounded worker pool. Each decision is
// appended to the JSONL file as it completes. On cancellation no new
// requests start, finished work is kept, and the exports are still written
// from what is on disk; the context error is returned alongside the result.
func (s *Screener) Run(ctx context.Context, records []bib.Record, opts Options) (*RunResult, error) {
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaultRPS
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	timer := logging.StartTimer(logging.CategoryScreen, "Run")
	defer timer.Stop()

	jsonlPath := filepath.Join(opts.OutputDir, DecisionsFile)
	done, stored, err := s.completed(ctx, jsonlPath, opts.Resume)
	if err != nil {
		return nil, err
	}

	var (
		todo     []bib.Record
		backfill []Decision
	)
	skipped := 0
	for _, rec := range records {
		if done[rec.StudyID] {
			skipped++
			continue
		}
		if d, ok := stored[rec.StudyID]; ok {
			backfill = append(backfill, d)
			skipped++
			continue
		}
		if opts.Limit > 0 && len(todo) >= opts.Limit {
			break
		}
		todo = append(todo, rec)
	}
	logging.Screen("Run %s: %d to screen, %d already done (framework=%s, workers=%d)",
		opts.RunID, len(todo), skipped, s.framework, opts.Workers)

	flag := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if !opts.Resume {
		flag |= os.O_TRUNC
	}
	f, err := os.OpenFile(jsonlPath, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("open decisions file: %w", err)
	}
	defer f.Close()

	if s.store != nil {
		err := s.store.StartRun(ctx, store.Run{
			ID:        opts.RunID,
			Kind:      "screen",
			Framework: string(s.framework),
			Provider:  s.client.Provider(),
			Model:     s.client.Model(),
			StartedAt: s.now(),
		})
		if err != nil {
			return nil, err
		}
	}

	audit := logging.AuditWithRun(opts.RunID, logging.CategoryScreen)
	limiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	runCtx := usage.WithRun(ctx, opts.RunID)

	var (
		mu       sync.Mutex
		enc      = json.NewEncoder(f)
		screened int
	)
	// Decisions made by earlier runs into another output directory.
	for i := range backfill {
		if err := enc.Encode(&backfill[i]); err != nil {
			return nil, fmt.Errorf("write decision %s: %w", backfill[i].StudyID, err)
		}
	}
	if len(backfill) > 0 {
		logging.Screen("Run %s: copied %d decisions from the store", opts.RunID, len(backfill))
	}
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(opts.Workers)

	for _, rec := range todo {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return nil
			}
			d := s.ScreenOne(gctx, rec)
			if d.Error && gctx.Err() != nil {
				// Interrupted mid-call; leave it for the next resume.
				return nil
			}
			mu.Lock()
			err := enc.Encode(&d)
			if err == nil {
				screened++
			}
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("write decision %s: %w", d.StudyID, err)
			}

			audit.ScreeningDecision(d.StudyID, d.Decision, d.ReasonCode, d.Model, d.Failed())
			if s.store != nil {
				if err := s.save(context.WithoutCancel(gctx), opts.RunID, &d); err != nil {
					return err
				}
			}
			return nil
		})
	}
	werr := g.Wait()

	status := store.StatusCompleted
	switch {
	case werr != nil:
		status = store.StatusFailed
	case ctx.Err() != nil:
		status = store.StatusCancelled
	}
	if s.store != nil {
		if err := s.store.FinishRun(context.WithoutCancel(ctx), opts.RunID, status, screened); err != nil {
			logging.ScreenError("Finish run %s: %v", opts.RunID, err)
		}
	}
	if werr != nil {
		return nil, werr
	}

	all, err := ReadDecisions(jsonlPath)
	if err != nil {
		return nil, err
	}
	res := &RunResult{
		RunID:     opts.RunID,
		Screened:  screened,
		Skipped:   skipped,
		Decisions: all,
		Summary:   Summarize(all, s.framework),
	}
	if err := WriteOutputs(opts.OutputDir, all, s.framework); err != nil {
		return res, err
	}
	logging.Screen("Run %s %s: screened=%d include=%d exclude=%d uncertain=%d",
		opts.RunID, status, screened, res.Summary.Include, res.Summary.Exclude, res.Summary.Uncertain)
	if ctx.Err() != nil {
		return res, fmt.Errorf("screening interrupted: %w", ctx.Err())
	}
	return res, nil
}

func (s *Screener) save(ctx context.Context, runID string, d *Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	at, err := time.Parse(time.RFC3339, d.ScreenedAt)
	if err != nil {
		at = s.now()
	}
	return s.store.SaveDecision(ctx, store.Decision{
		StudyID:    d.StudyID,
		Framework:  string(s.framework),
		RunID:      runID,
		Decision:   d.Decision,
		Confidence: d.Confidence,
		ReasonCode: d.ReasonCode,
		Failed:     d.Failed(),
		Payload:    payload,
		ScreenedAt: at,
	})
}

// completed collects study IDs with a successful decision in the JSONL
// file, and successful store decisions missing from it. Nothing counts as
// done unless resuming.
func (s *Screener) completed(ctx context.Context, jsonlPath string, resume bool) (map[string]bool, map[string]Decision, error) {
	done := make(map[string]bool)
	stored := make(map[string]Decision)
	if !resume {
		return done, stored, nil
	}
	prior, err := ReadDecisions(jsonlPath)
	if err != nil {
		return nil, nil, err
	}
	for _, d := range prior {
		if !d.Failed() {
			done[d.StudyID] = true
		}
	}
	if s.store == nil {
		return done, stored, nil
	}
	rows, err := s.store.Decisions(ctx, string(s.framework))
	if err != nil {
		return nil, nil, err
	}
	for _, r := range rows {
		if r.Failed || done[r.StudyID] {
			continue
		}
		var d Decision
		if err := json.Unmarshal(r.Payload, &d); err != nil || d.StudyID != r.StudyID {
			logging.ScreenWarn("Stored decision for %s has no usable payload; screening again", r.StudyID)
			continue
		}
		stored[r.StudyID] = d
	}
	return done, stored, nil
}

// ReadDecisions loads a decisions JSONL file. A missing file is empty.
// When a study appears more than once the last line wins; order of first
// appearance is kept.
func ReadDecisions(path string) ([]Decision, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open decisions: %w", err)
	}
	defer f.Close()

	var out []Decision
	index := make(map[string]int)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var d Decision
		if err := json.Unmarshal(b, &d); err != nil {
			// A torn final line from an interrupted write is dropped.
			logging.ScreenWarn("Skipping malformed line %d in %s: %v", line, path, err)
			continue
		}
		if i, ok := index[d.StudyID]; ok {
			out[i] = d
			continue
		}
		index[d.StudyID] = len(out)
		out = append(out, d)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read decisions: %w", err)
	}
	return out, nil
}
