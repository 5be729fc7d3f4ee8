package optimizer

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dhollinger/promptmend/backend"
	"github.com/dhollinger/promptmend/providers"
	"github.com/dhollinger/promptmend/utils"
)

// fakeGen satisfies backend.Generator with a per-test handler.
type fakeGen struct {
	handler func(ctx context.Context, req providers.GenerateRequest) (*backend.Result, error)
}

func (f *fakeGen) Generate(ctx context.Context, req providers.GenerateRequest) (*backend.Result, error) {
	return f.handler(ctx, req)
}

func quietLogger() utils.Logger {
	logger := &utils.MockLogger{}
	logger.On("Debug", mock.Anything, mock.Anything).Return()
	logger.On("Info", mock.Anything, mock.Anything).Return()
	logger.On("Warn", mock.Anything, mock.Anything).Return()
	logger.On("Error", mock.Anything, mock.Anything).Return()
	return logger
}

func textGen(text string) *fakeGen {
	return &fakeGen{handler: func(_ context.Context, _ providers.GenerateRequest) (*backend.Result, error) {
		return &backend.Result{Text: text, Backend: "mock"}, nil
	}}
}

func TestScoreStrictParse(t *testing.T) {
	body := `{"clarity": 80, "specificity": 90, "engagement": 60, "structure": 70, "completeness": 75, "errorPrevention": 65, "overall": 1}`
	scorer := NewScorer(textGen(body), quietLogger())

	result, servedBy, err := scorer.Score(context.Background(), "Write a product description")
	require.NoError(t, err)
	assert.Equal(t, "mock", servedBy)
	assert.Equal(t, ScoreParsed, result.Confidence)
	assert.Equal(t, 80.0, result.Scores.Clarity)
	assert.Equal(t, 90.0, result.Scores.Specificity)

	// Overall is recomputed from the dimensions, never trusted.
	want := 80*0.25 + 90*0.25 + 60*0.15 + 70*0.15 + 75*0.10 + 65*0.10
	assert.InDelta(t, want, result.Scores.Overall, 0.001)
}

func TestScoreFencedJSON(t *testing.T) {
	body := "```json\n{\"clarity\": 50, \"specificity\": 50, \"engagement\": 50, \"structure\": 50, \"completeness\": 50, \"errorPrevention\": 50}\n```"
	scorer := NewScorer(textGen(body), quietLogger())

	result, _, err := scorer.Score(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, ScoreParsed, result.Confidence)
	assert.Equal(t, 50.0, result.Scores.Clarity)
}

func TestScoreClampsOutOfRangeValues(t *testing.T) {
	body := `{"clarity": 250, "specificity": -30, "engagement": 60, "structure": 70, "completeness": 80, "errorPrevention": 101}`
	scorer := NewScorer(textGen(body), quietLogger())

	result, _, err := scorer.Score(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 100.0, result.Scores.Clarity)
	assert.Equal(t, 0.0, result.Scores.Specificity)
	assert.Equal(t, 100.0, result.Scores.ErrorPrevention)
	assert.GreaterOrEqual(t, result.Scores.Overall, 0.0)
	assert.LessOrEqual(t, result.Scores.Overall, 100.0)
}

func TestScoreFallbackExtractsNumericTokens(t *testing.T) {
	body := `Sure! Here is my assessment:
Clarity: 80
Specificity: 70/100
Engagement gets a 60, structure a 50.
Completeness: 40. Error prevention: 30.`
	scorer := NewScorer(textGen(body), quietLogger())

	result, _, err := scorer.Score(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, ScoreExtracted, result.Confidence)
	assert.Equal(t, 80.0, result.Scores.Clarity)
	assert.Equal(t, 70.0, result.Scores.Specificity)
	assert.Equal(t, 30.0, result.Scores.ErrorPrevention)
}

func TestScoreFallbackSkipsRatingDenominators(t *testing.T) {
	// "X/100" is one rating, not two numeric tokens; a denominator must never
	// shift later dimensions into the wrong field.
	body := "clarity 80/100, specificity 70 / 100, engagement 60/100, structure 50/100, completeness 40/100, error prevention 30/100"
	scorer := NewScorer(textGen(body), quietLogger())

	result, _, err := scorer.Score(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, ScoreExtracted, result.Confidence)
	assert.Equal(t, 80.0, result.Scores.Clarity)
	assert.Equal(t, 70.0, result.Scores.Specificity)
	assert.Equal(t, 60.0, result.Scores.Engagement)
	assert.Equal(t, 50.0, result.Scores.Structure)
	assert.Equal(t, 40.0, result.Scores.Completeness)
	assert.Equal(t, 30.0, result.Scores.ErrorPrevention)
}

func TestScoreDefaultsOnGarbage(t *testing.T) {
	scorer := NewScorer(textGen("I cannot evaluate this prompt."), quietLogger())

	result, _, err := scorer.Score(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, ScoreDefaulted, result.Confidence)
	assert.Equal(t, 50.0, result.Scores.Clarity)
	assert.Equal(t, 50.0, result.Scores.Overall)
}

// Scores are bounded and Overall is the documented weighted function of the
// dimensions, regardless of what the backend emits.
func TestScoreBoundsProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	scorer := NewScorer(nil, quietLogger())

	for i := 0; i < 500; i++ {
		var body string
		switch i % 3 {
		case 0:
			body = fmt.Sprintf(`{"clarity": %f, "specificity": %f, "engagement": %f, "structure": %f, "completeness": %f, "errorPrevention": %f}`,
				rng.Float64()*400-200, rng.Float64()*400-200, rng.Float64()*400-200,
				rng.Float64()*400-200, rng.Float64()*400-200, rng.Float64()*400-200)
		case 1:
			body = fmt.Sprintf("scores: %f %f %f %f %f %f trailing words",
				rng.Float64()*300-100, rng.Float64()*300-100, rng.Float64()*300-100,
				rng.Float64()*300-100, rng.Float64()*300-100, rng.Float64()*300-100)
		default:
			body = "no numbers here at all"
		}

		result := scorer.parse(body)
		q := result.Scores
		for name, v := range map[string]float64{
			"clarity": q.Clarity, "specificity": q.Specificity, "engagement": q.Engagement,
			"structure": q.Structure, "completeness": q.Completeness,
			"errorPrevention": q.ErrorPrevention, "overall": q.Overall,
		} {
			require.GreaterOrEqualf(t, v, 0.0, "%s below range for %q", name, body)
			require.LessOrEqualf(t, v, 100.0, "%s above range for %q", name, body)
		}

		want := q.Clarity*0.25 + q.Specificity*0.25 + q.Engagement*0.15 +
			q.Structure*0.15 + q.Completeness*0.10 + q.ErrorPrevention*0.10
		require.InDelta(t, want, q.Overall, 0.001)
	}
}

func TestCleanJSONResponse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"wrapped in prose", `Here you go: {"a":1} hope that helps`, `{"a":1}`},
		{"no object", "nothing here", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSONResponse(tt.input))
		})
	}
}
