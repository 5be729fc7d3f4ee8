package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/dhollinger/promptmend/backend"
	"github.com/dhollinger/promptmend/optimizer"
	"github.com/dhollinger/promptmend/utils"
)

// DefaultSessionTimeout bounds an entire advanced-mode run, scaled up from
// the 30s single-call budget.
const DefaultSessionTimeout = 10 * time.Minute

// Runner drives one session at a time through the refinement loop. Each
// session runs on its own goroutine with no shared mutable state beyond the
// backend selector's health cache.
type Runner struct {
	mgr     *Manager
	gen     backend.Generator
	logger  utils.Logger
	limiter *rate.Limiter
	Timeout time.Duration
}

func NewRunner(mgr *Manager, gen backend.Generator, logger utils.Logger) *Runner {
	return &Runner{
		mgr:     mgr,
		gen:     gen,
		logger:  logger,
		Timeout: DefaultSessionTimeout,
	}
}

// SetRateLimiter installs a limiter shared across sessions to bound the
// aggregate backend request rate.
func (r *Runner) SetRateLimiter(limiter *rate.Limiter) {
	r.limiter = limiter
}

// stepTracker maps loop stages onto the session's fixed progress steps. The
// loop revisits earlier stages across iterations; step status only ever
// advances, later visits only refresh the detail text.
type stepTracker struct {
	runner  *Runner
	ctx     context.Context
	id      string
	offset  int // 1 when an identity step leads the sequence
	current int
}

func (t *stepTracker) stageIndex(stage optimizer.Stage) int {
	switch stage {
	case optimizer.StageIdentity:
		return 0
	case optimizer.StageMutating:
		return t.offset
	case optimizer.StageSelecting:
		return t.offset + 1
	case optimizer.StageAnalyzing:
		return t.offset + 2
	default:
		return t.current
	}
}

func (t *stepTracker) onStage(stage optimizer.Stage, detail string) {
	idx := t.stageIndex(stage)
	if idx > t.current {
		for i := max(t.current, 0); i < idx; i++ {
			_ = t.runner.mgr.UpdateProgressStep(t.ctx, t.id, i, StepCompleted, "")
		}
		t.current = idx
		_ = t.runner.mgr.UpdateProgressStep(t.ctx, t.id, idx, StepProcessing, detail)
		return
	}
	if detail != "" {
		_ = t.runner.mgr.UpdateProgressStep(t.ctx, t.id, idx, StepProcessing, detail)
	}
}

// RunSession executes a pending session to a terminal state. The returned
// error mirrors what was persisted; callers running detached may ignore it.
func (r *Runner) RunSession(ctx context.Context, sessionID string) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	sess, err := r.mgr.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("SessionNotFound: %w", err)
	}
	prompt, err := r.mgr.GetPrompt(ctx, sess.PromptID)
	if err != nil {
		failErr := fmt.Errorf("PromptNotFound: %w", err)
		r.persistFailure(ctx, sessionID, failErr.Error())
		return failErr
	}

	if err := r.mgr.UpdateStatus(ctx, sessionID, StatusProcessing); err != nil {
		return err
	}

	tracker := &stepTracker{runner: r, ctx: ctx, id: sessionID, current: -1}
	if sess.Config.GenerateIdentity {
		tracker.offset = 1
	}

	opts := []optimizer.LoopOption{
		optimizer.WithStageCallback(tracker.onStage),
		optimizer.WithRecordCallback(func(record optimizer.MutationRecord) {
			if err := r.mgr.AppendRecords(ctx, sessionID, []optimizer.MutationRecord{record}); err != nil {
				r.logger.Error("Failed to persist mutation record", "session_id", sessionID, "error", err)
			}
		}),
		optimizer.WithIterationCallback(func(iteration int, best optimizer.MutationRecord) {
			if err := r.mgr.SetIteration(ctx, sessionID, iteration); err != nil {
				r.logger.Error("Failed to persist iteration progress", "session_id", sessionID, "error", err)
			}
		}),
	}
	if r.limiter != nil {
		opts = append(opts, optimizer.WithRateLimiter(r.limiter))
	}

	loop := optimizer.NewRefinementLoop(r.gen, r.logger, sess.Config, opts...)

	outcome, err := loop.Run(ctx, prompt.OriginalPrompt)
	if err != nil {
		r.persistFailure(ctx, sessionID, failureMessage(err))
		return err
	}

	// The loop already streamed records through the callback; Complete
	// persists the authoritative full set along with the final result.
	return r.mgr.Complete(ctx, sessionID, outcome)
}

// persistFailure writes the terminal failed state. The run context may already
// be past its deadline, and the store must still receive the failure record,
// so the write runs on a context detached from the run's cancellation.
func (r *Runner) persistFailure(ctx context.Context, sessionID, message string) {
	if err := r.mgr.MarkFailed(context.WithoutCancel(ctx), sessionID, message); err != nil {
		r.logger.Error("Failed to persist session failure", "session_id", sessionID, "error", err)
	}
}

// failureMessage turns internal errors into the human-readable message
// observers see on a failed session.
func failureMessage(err error) string {
	if backend.IsAllUnavailable(err) {
		return fmt.Sprintf("no model backend available: %v", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "optimization timed out"
	}
	return err.Error()
}
