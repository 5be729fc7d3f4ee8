// Package optimizer implements the prompt optimization engine: the mutation
// strategies, the quality scorer, the improvement analyzer, and the
// refinement loop that drives them against a model backend.
package optimizer

import "time"

// Strategy identifies one of the three independent rewriting approaches
// applied to a prompt each round.
type Strategy string

const (
	StrategySpecific   Strategy = "specific"
	StrategyEngaging   Strategy = "engaging"
	StrategyStructured Strategy = "structured"
)

// Strategies returns the fixed strategy set in its canonical order. The same
// set runs every round; order also decides ties, earlier wins.
func Strategies() []Strategy {
	return []Strategy{StrategySpecific, StrategyEngaging, StrategyStructured}
}

// QualityScores is the six-dimension assessment of a prompt. Every field is
// clamped into [0,100] before use, and Overall is always recomputed from the
// raw dimensions rather than trusted from the backend.
type QualityScores struct {
	Clarity         float64 `json:"clarity" jsonschema:"minimum=0,maximum=100" validate:"gte=0,lte=100"`
	Specificity     float64 `json:"specificity" jsonschema:"minimum=0,maximum=100" validate:"gte=0,lte=100"`
	Engagement      float64 `json:"engagement" jsonschema:"minimum=0,maximum=100" validate:"gte=0,lte=100"`
	Structure       float64 `json:"structure" jsonschema:"minimum=0,maximum=100" validate:"gte=0,lte=100"`
	Completeness    float64 `json:"completeness" jsonschema:"minimum=0,maximum=100" validate:"gte=0,lte=100"`
	ErrorPrevention float64 `json:"errorPrevention" jsonschema:"minimum=0,maximum=100" validate:"gte=0,lte=100"`
	Overall         float64 `json:"overall" validate:"gte=0,lte=100"`
}

// Overall weights. Clarity and specificity dominate.
const (
	weightClarity         = 0.25
	weightSpecificity     = 0.25
	weightEngagement      = 0.15
	weightStructure       = 0.15
	weightCompleteness    = 0.10
	weightErrorPrevention = 0.10
)

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Normalize clamps every dimension and recomputes Overall as the documented
// weighted average.
func (q QualityScores) Normalize() QualityScores {
	q.Clarity = clamp100(q.Clarity)
	q.Specificity = clamp100(q.Specificity)
	q.Engagement = clamp100(q.Engagement)
	q.Structure = clamp100(q.Structure)
	q.Completeness = clamp100(q.Completeness)
	q.ErrorPrevention = clamp100(q.ErrorPrevention)
	q.Overall = clamp100(q.Clarity*weightClarity +
		q.Specificity*weightSpecificity +
		q.Engagement*weightEngagement +
		q.Structure*weightStructure +
		q.Completeness*weightCompleteness +
		q.ErrorPrevention*weightErrorPrevention)
	return q
}

// ScoreConfidence distinguishes how a QualityScores value was obtained, so
// callers and tests can tell a clean parse from a degraded fallback without
// string matching.
type ScoreConfidence int

const (
	// ScoreParsed means the backend returned the expected structured payload.
	ScoreParsed ScoreConfidence = iota
	// ScoreExtracted means the payload was malformed and the six dimensions
	// were recovered from free text in order.
	ScoreExtracted
	// ScoreDefaulted means nothing usable came back and neutral values were
	// substituted.
	ScoreDefaulted
)

func (c ScoreConfidence) String() string {
	switch c {
	case ScoreParsed:
		return "parsed"
	case ScoreExtracted:
		return "extracted"
	case ScoreDefaulted:
		return "defaulted"
	default:
		return "unknown"
	}
}

// ScoreResult pairs scores with the confidence of their origin.
type ScoreResult struct {
	Scores     QualityScores
	Confidence ScoreConfidence
}

// MutationRecord is the append-only audit entry for one candidate rewrite.
// Records are never edited after creation.
type MutationRecord struct {
	ID           string        `json:"id"`
	Iteration    int           `json:"iteration"`
	Round        int           `json:"round"`
	Strategy     Strategy      `json:"strategy"`
	InputPrompt  string        `json:"inputPrompt"`
	OutputPrompt string        `json:"outputPrompt"`
	Scores       QualityScores `json:"scores"`
	Backend      string        `json:"backend,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// FinalResult is created exactly once per session, from the single best
// record found across all iterations.
type FinalResult struct {
	BestPrompt     string        `json:"bestPrompt"`
	Improvements   []string      `json:"improvements"`
	Scores         QualityScores `json:"scores"`
	Reasoning      string        `json:"reasoning,omitempty"`
	ExpertInsights []string      `json:"expertInsights,omitempty"`
	Backend        string        `json:"backend,omitempty"`
}

// Outcome is everything a completed refinement loop hands back to its caller.
type Outcome struct {
	Final          FinalResult
	Records        []MutationRecord
	ExpertIdentity string
	Iterations     int
}
