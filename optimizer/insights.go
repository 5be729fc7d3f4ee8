package optimizer

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/dhollinger/promptmend/backend"
	"github.com/dhollinger/promptmend/providers"
	"github.com/dhollinger/promptmend/utils"
)

const improvementsInstruction = `Compare the original and the optimized prompt and list
the concrete improvements the optimized version makes. Respond with a plain bullet
list, one improvement per line, each line starting with "- ". No other text.`

const insightsInstruction = `You will be given an optimized prompt. From your expert
perspective, list practical tips for getting the best results with it. Respond with a
plain bullet list, one tip per line, each line starting with "- ". No other text.`

// genericImprovement is substituted when no bullets can be parsed, so
// downstream consumers never receive an empty list.
const genericImprovement = "Refined wording and structure for clearer, more reliable model output."

// Analyzer turns the original/optimized pair into human-readable bullet
// explanations, and optionally expert usage insights.
type Analyzer struct {
	gen    backend.Generator
	logger utils.Logger
}

func NewAnalyzer(gen backend.Generator, logger utils.Logger) *Analyzer {
	return &Analyzer{gen: gen, logger: logger}
}

func (a *Analyzer) AnalyzeImprovements(ctx context.Context, original, optimized string) ([]string, error) {
	prompt := fmt.Sprintf("Original prompt:\n%s\n\nOptimized prompt:\n%s", original, optimized)
	result, err := a.gen.Generate(ctx, providers.GenerateRequest{
		Prompt: prompt,
		System: improvementsInstruction,
	})
	if err != nil {
		return nil, err
	}
	return parseBullets(result.Text), nil
}

func (a *Analyzer) GenerateInsights(ctx context.Context, optimized, expertIdentity string) ([]string, error) {
	system := insightsInstruction
	if expertIdentity != "" {
		system = expertIdentity + "\n\n" + system
	}
	result, err := a.gen.Generate(ctx, providers.GenerateRequest{
		Prompt: optimized,
		System: system,
	})
	if err != nil {
		return nil, err
	}
	return parseBullets(result.Text), nil
}

// parseBullets strips leading bullet markers from each line. Lines without
// a recognizable marker are prose, not bullets; when no marker-bearing line
// exists a single generic statement is substituted.
func parseBullets(text string) []string {
	var bullets []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		stripped, ok := stripBulletMarker(line)
		if ok && stripped != "" {
			bullets = append(bullets, stripped)
		}
	}
	if len(bullets) == 0 {
		return []string{genericImprovement}
	}
	return bullets
}

func stripBulletMarker(line string) (string, bool) {
	for _, marker := range []string{"- ", "* ", "• ", "– "} {
		if strings.HasPrefix(line, marker) {
			return strings.TrimSpace(strings.TrimPrefix(line, marker)), true
		}
	}
	// Numbered lists: "1. tip" or "2) tip".
	trimmed := strings.TrimLeftFunc(line, unicode.IsDigit)
	if trimmed != line {
		if strings.HasPrefix(trimmed, ". ") || strings.HasPrefix(trimmed, ") ") {
			return strings.TrimSpace(trimmed[2:]), true
		}
	}
	return "", false
}
