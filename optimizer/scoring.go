package optimizer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/dhollinger/promptmend/backend"
	"github.com/dhollinger/promptmend/providers"
	"github.com/dhollinger/promptmend/utils"
)

// neutralScore is substituted for every dimension when the backend output is
// unusable. A scoring failure makes the candidate look mediocre instead of
// crashing the session.
const neutralScore = 50

// scorePayload is the structured shape the backend is instructed to return.
// Overall is accepted but recomputed, never trusted.
type scorePayload struct {
	Clarity         float64 `json:"clarity" jsonschema:"minimum=0,maximum=100"`
	Specificity     float64 `json:"specificity" jsonschema:"minimum=0,maximum=100"`
	Engagement      float64 `json:"engagement" jsonschema:"minimum=0,maximum=100"`
	Structure       float64 `json:"structure" jsonschema:"minimum=0,maximum=100"`
	Completeness    float64 `json:"completeness" jsonschema:"minimum=0,maximum=100"`
	ErrorPrevention float64 `json:"errorPrevention" jsonschema:"minimum=0,maximum=100"`
	Overall         float64 `json:"overall"`
}

// Scorer evaluates a prompt along the six fixed quality dimensions.
type Scorer struct {
	gen         backend.Generator
	logger      utils.Logger
	instruction string
}

func NewScorer(gen backend.Generator, logger utils.Logger) *Scorer {
	return &Scorer{
		gen:         gen,
		logger:      logger,
		instruction: buildScoreInstruction(),
	}
}

func buildScoreInstruction() string {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema, err := json.Marshal(reflector.Reflect(&scorePayload{}))
	if err != nil {
		schema = []byte("{}")
	}
	return fmt.Sprintf(`You are a prompt quality evaluator. Rate the prompt you are given
along six dimensions, each on a 0-100 scale: clarity, specificity, engagement,
structure, completeness, errorPrevention.

Respond ONLY with a raw JSON object matching this schema. No markdown, no code
fences, no commentary.

Schema:
%s`, schema)
}

// Score issues one generation call and parses the answer defensively:
// strict JSON first, then a free-text numeric extraction, then neutral
// defaults. It only errors when the backend call itself fails.
func (s *Scorer) Score(ctx context.Context, promptText string) (ScoreResult, string, error) {
	result, err := s.gen.Generate(ctx, providers.GenerateRequest{
		Prompt: "Evaluate this prompt:\n\n" + promptText,
		System: s.instruction,
	})
	if err != nil {
		return ScoreResult{}, "", err
	}

	parsed := s.parse(result.Text)
	return parsed, result.Backend, nil
}

func (s *Scorer) parse(response string) ScoreResult {
	if payload, ok := parseStrict(response); ok {
		return ScoreResult{Scores: payload.toScores().Normalize(), Confidence: ScoreParsed}
	}

	if scores, ok := extractNumbers(response); ok {
		s.logger.Warn("Score payload malformed, extracted numeric tokens", "response_prefix", prefix(response, 80))
		return ScoreResult{Scores: scores.Normalize(), Confidence: ScoreExtracted}
	}

	s.logger.Warn("Score response unusable, substituting neutral defaults", "response_prefix", prefix(response, 80))
	neutral := QualityScores{
		Clarity:         neutralScore,
		Specificity:     neutralScore,
		Engagement:      neutralScore,
		Structure:       neutralScore,
		Completeness:    neutralScore,
		ErrorPrevention: neutralScore,
	}
	return ScoreResult{Scores: neutral.Normalize(), Confidence: ScoreDefaulted}
}

func (p scorePayload) toScores() QualityScores {
	return QualityScores{
		Clarity:         p.Clarity,
		Specificity:     p.Specificity,
		Engagement:      p.Engagement,
		Structure:       p.Structure,
		Completeness:    p.Completeness,
		ErrorPrevention: p.ErrorPrevention,
	}
}

func parseStrict(response string) (scorePayload, bool) {
	cleaned := cleanJSONResponse(response)
	var payload scorePayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return scorePayload{}, false
	}
	return payload, true
}

// numberPattern captures a rating and swallows a "/100"-style denominator so
// "70/100" reads as one token, not two.
var numberPattern = regexp.MustCompile(`(-?\d+(?:\.\d+)?)(?:\s*/\s*\d+(?:\.\d+)?)?`)

// extractNumbers recovers the six dimensions from free text, taking the first
// six numeric tokens in the documented dimension order.
func extractNumbers(response string) (QualityScores, bool) {
	matches := numberPattern.FindAllStringSubmatch(response, 6)
	if len(matches) < 6 {
		return QualityScores{}, false
	}
	values := make([]float64, 6)
	for i, m := range matches {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return QualityScores{}, false
		}
		values[i] = v
	}
	return QualityScores{
		Clarity:         values[0],
		Specificity:     values[1],
		Engagement:      values[2],
		Structure:       values[3],
		Completeness:    values[4],
		ErrorPrevention: values[5],
	}, true
}

// cleanJSONResponse strips markdown fences and carves out the first JSON
// object when the model wrapped it in prose.
func cleanJSONResponse(response string) string {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "{") && strings.HasSuffix(response, "}") {
		return response
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start != -1 && end != -1 && end > start {
		return response[start : end+1]
	}
	return response
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
