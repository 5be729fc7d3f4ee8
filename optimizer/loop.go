package optimizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dhollinger/promptmend/backend"
	"github.com/dhollinger/promptmend/providers"
	"github.com/dhollinger/promptmend/utils"
)

// Stage identifies where the refinement loop currently is, for progress
// reporting. Stages advance strictly forward within a run.
type Stage int

const (
	StageIdentity Stage = iota
	StageMutating
	StageSelecting
	StageAnalyzing
)

// StageFunc receives stage transitions. detail carries a short human-readable
// note, including degraded-path explanations.
type StageFunc func(stage Stage, detail string)

// IterationFunc receives the running best candidate after each iteration.
type IterationFunc func(iteration int, best MutationRecord)

// RecordFunc receives every mutation record as soon as it is appended, before
// selection proceeds, so partial work can be persisted.
type RecordFunc func(record MutationRecord)

// RefinementLoop drives the full optimization pipeline: expert identity,
// mutations, scoring, selection, and analysis. One loop instance serves one
// session; loops share nothing but the backend generator.
type RefinementLoop struct {
	gen      backend.Generator
	logger   utils.Logger
	cfg      OptimizationConfig
	scorer   *Scorer
	mutator  *Mutator
	identity *IdentityGenerator
	analyzer *Analyzer

	limiter     *rate.Limiter
	onStage     StageFunc
	onIteration IterationFunc
	onRecord    RecordFunc
}

type LoopOption func(*RefinementLoop)

func WithStageCallback(fn StageFunc) LoopOption {
	return func(rl *RefinementLoop) {
		rl.onStage = fn
	}
}

func WithIterationCallback(fn IterationFunc) LoopOption {
	return func(rl *RefinementLoop) {
		rl.onIteration = fn
	}
}

func WithRecordCallback(fn RecordFunc) LoopOption {
	return func(rl *RefinementLoop) {
		rl.onRecord = fn
	}
}

// WithRateLimiter throttles the loop's backend calls. The limiter may be
// shared across sessions to bound aggregate request rate.
func WithRateLimiter(limiter *rate.Limiter) LoopOption {
	return func(rl *RefinementLoop) {
		rl.limiter = limiter
	}
}

// samplingGenerator stamps the session's sampling parameters onto every
// request that does not carry its own, so one configuration point covers the
// mutator, scorer, identity, and analyzer calls alike.
type samplingGenerator struct {
	inner       backend.Generator
	temperature *float64
	maxTokens   *int
}

func (g *samplingGenerator) Generate(ctx context.Context, req providers.GenerateRequest) (*backend.Result, error) {
	if req.Temperature == nil {
		req.Temperature = g.temperature
	}
	if req.MaxTokens == nil {
		req.MaxTokens = g.maxTokens
	}
	return g.inner.Generate(ctx, req)
}

func NewRefinementLoop(gen backend.Generator, logger utils.Logger, cfg OptimizationConfig, opts ...LoopOption) *RefinementLoop {
	if cfg.Temperature != nil || cfg.MaxTokens != nil {
		gen = &samplingGenerator{inner: gen, temperature: cfg.Temperature, maxTokens: cfg.MaxTokens}
	}
	rl := &RefinementLoop{
		gen:      gen,
		logger:   logger,
		cfg:      cfg.normalized(),
		scorer:   NewScorer(gen, logger),
		mutator:  NewMutator(gen, logger),
		identity: NewIdentityGenerator(gen, logger),
		analyzer: NewAnalyzer(gen, logger),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

func (rl *RefinementLoop) stage(s Stage, detail string) {
	if rl.onStage != nil {
		rl.onStage(s, detail)
	}
}

func (rl *RefinementLoop) waitLimiter(ctx context.Context) error {
	if rl.limiter == nil {
		return nil
	}
	return rl.limiter.Wait(ctx)
}

// candidate is the outcome of one mutate+score sub-pipeline within a round.
type candidate struct {
	record MutationRecord
	ok     bool
	err    error
}

// Run executes the configured refinement and returns the outcome. It fails
// only on unrecoverable errors: context cancellation, exhaustion of every
// backend, or zero usable candidates across the whole run. Per-call issues
// are absorbed with fallback values and surfaced as stage detail.
func (rl *RefinementLoop) Run(ctx context.Context, originalPrompt string) (*Outcome, error) {
	outcome := &Outcome{}

	expertIdentity, err := rl.runIdentity(ctx, originalPrompt)
	if err != nil {
		return nil, err
	}
	outcome.ExpertIdentity = expertIdentity

	bestPrompt := originalPrompt
	bestScore := -1.0
	var bestRecord MutationRecord

	for iteration := 1; iteration <= rl.cfg.Iterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rl.stage(StageMutating, fmt.Sprintf("iteration %d of %d", iteration, rl.cfg.Iterations))

		for round := 1; round <= rl.cfg.Rounds; round++ {
			// All strategies in a round rewrite the same snapshot of the
			// current global best.
			input := bestPrompt
			candidates := rl.runRound(ctx, iteration, round, input, expertIdentity)

			for _, cand := range candidates {
				if cand.err != nil {
					if backend.IsAllUnavailable(cand.err) || ctx.Err() != nil {
						return nil, cand.err
					}
					// Failed attempts are still part of the audit trail.
					rl.logger.Warn("Mutation attempt failed", "strategy", cand.record.Strategy, "error", cand.err)
				}
				outcome.Records = append(outcome.Records, cand.record)
				if rl.onRecord != nil {
					rl.onRecord(cand.record)
				}
			}

			rl.stage(StageSelecting, fmt.Sprintf("iteration %d round %d", iteration, round))
			for _, cand := range candidates {
				// Strict > keeps the earlier, cheaper candidate on ties.
				if cand.ok && cand.record.Scores.Overall > bestScore {
					bestScore = cand.record.Scores.Overall
					bestPrompt = cand.record.OutputPrompt
					bestRecord = cand.record
				}
			}
		}

		outcome.Iterations = iteration
		if rl.onIteration != nil {
			rl.onIteration(iteration, bestRecord)
		}

		if bestScore >= rl.cfg.TargetScore {
			rl.logger.Info("Target score reached, stopping early", "iteration", iteration, "score", bestScore)
			break
		}
	}

	if bestScore < 0 {
		return nil, fmt.Errorf("no usable candidate produced after %d iterations", rl.cfg.Iterations)
	}

	final, err := rl.runAnalysis(ctx, originalPrompt, bestRecord, expertIdentity)
	if err != nil {
		return nil, err
	}
	outcome.Final = *final
	return outcome, nil
}

func (rl *RefinementLoop) runIdentity(ctx context.Context, originalPrompt string) (string, error) {
	if !rl.cfg.GenerateIdentity {
		return "", nil
	}
	rl.stage(StageIdentity, "")

	if err := rl.waitLimiter(ctx); err != nil {
		return "", err
	}
	identity, err := rl.identity.Generate(ctx, originalPrompt)
	if err != nil {
		if backend.IsAllUnavailable(err) {
			return "", err
		}
		// Identity is conditioning, not a requirement.
		rl.logger.Warn("Expert identity generation failed, proceeding without it", "error", err)
		rl.stage(StageIdentity, "expert identity unavailable, proceeding without it")
		return "", nil
	}
	return identity, nil
}

// runRound executes the three mutate+score sub-pipelines concurrently and
// returns candidates in canonical strategy order regardless of completion
// order.
func (rl *RefinementLoop) runRound(ctx context.Context, iteration, round int, input, expertIdentity string) []candidate {
	strategies := Strategies()
	candidates := make([]candidate, len(strategies))

	var wg sync.WaitGroup
	for i, strategy := range strategies {
		wg.Add(1)
		go func(i int, strategy Strategy) {
			defer wg.Done()
			candidates[i] = rl.runCandidate(ctx, iteration, round, strategy, input, expertIdentity)
		}(i, strategy)
	}
	wg.Wait()

	return candidates
}

func (rl *RefinementLoop) runCandidate(ctx context.Context, iteration, round int, strategy Strategy, input, expertIdentity string) candidate {
	record := MutationRecord{
		ID:          uuid.NewString(),
		Iteration:   iteration,
		Round:       round,
		Strategy:    strategy,
		InputPrompt: input,
		CreatedAt:   time.Now().UTC(),
	}

	if err := rl.waitLimiter(ctx); err != nil {
		return candidate{record: record, err: err}
	}
	mutated, servedBy, err := rl.mutator.Mutate(ctx, input, strategy, expertIdentity, rl.cfg.ContextDomain)
	record.Backend = servedBy
	if err != nil {
		return candidate{record: record, err: err}
	}
	record.OutputPrompt = mutated

	if err := rl.waitLimiter(ctx); err != nil {
		return candidate{record: record, err: err}
	}
	scored, scoredBy, err := rl.scorer.Score(ctx, mutated)
	if err != nil {
		if backend.IsAllUnavailable(err) || ctx.Err() != nil {
			return candidate{record: record, err: err}
		}
		// A failed scoring call must not sink the candidate: give it the
		// neutral default and keep going.
		rl.logger.Warn("Scoring call failed, using neutral default", "strategy", strategy, "error", err)
		scored = ScoreResult{
			Scores: QualityScores{
				Clarity: neutralScore, Specificity: neutralScore, Engagement: neutralScore,
				Structure: neutralScore, Completeness: neutralScore, ErrorPrevention: neutralScore,
			}.Normalize(),
			Confidence: ScoreDefaulted,
		}
	}
	if scoredBy != "" {
		record.Backend = scoredBy
	}
	record.Scores = scored.Scores
	rl.logger.Debug("Candidate scored", "strategy", strategy, "overall", scored.Scores.Overall, "confidence", scored.Confidence.String())

	return candidate{record: record, ok: true}
}

func (rl *RefinementLoop) runAnalysis(ctx context.Context, originalPrompt string, best MutationRecord, expertIdentity string) (*FinalResult, error) {
	rl.stage(StageAnalyzing, "")

	if err := rl.waitLimiter(ctx); err != nil {
		return nil, err
	}
	improvements, err := rl.analyzer.AnalyzeImprovements(ctx, originalPrompt, best.OutputPrompt)
	if err != nil {
		if backend.IsAllUnavailable(err) || ctx.Err() != nil {
			return nil, err
		}
		rl.logger.Warn("Improvement analysis failed, substituting generic summary", "error", err)
		improvements = []string{genericImprovement}
	}

	final := &FinalResult{
		BestPrompt:   best.OutputPrompt,
		Improvements: improvements,
		Scores:       best.Scores,
		Backend:      best.Backend,
	}

	if rl.cfg.GenerateReasoning && expertIdentity != "" {
		final.Reasoning = expertIdentity

		if err := rl.waitLimiter(ctx); err != nil {
			return nil, err
		}
		insights, err := rl.analyzer.GenerateInsights(ctx, best.OutputPrompt, expertIdentity)
		if err != nil {
			if backend.IsAllUnavailable(err) || ctx.Err() != nil {
				return nil, err
			}
			rl.logger.Warn("Expert insight generation failed, omitting insights", "error", err)
		} else {
			final.ExpertInsights = insights
		}
	}

	return final, nil
}
