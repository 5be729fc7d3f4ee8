package optimizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/dhollinger/promptmend/backend"
	"github.com/dhollinger/promptmend/metrics"
	"github.com/dhollinger/promptmend/providers"
	"github.com/dhollinger/promptmend/utils"
)

// Fixed system instructions per strategy. The set is identical every
// iteration; what changes between iterations is the input prompt.
var strategyInstructions = map[Strategy]string{
	StrategySpecific: `You are a prompt engineering expert. Rewrite the prompt you are given
to be maximally specific and concrete. Pin down the desired output format, length,
audience, and constraints. Remove vague language. Preserve the original intent exactly.
Respond with the rewritten prompt only, no preamble and no explanation.`,

	StrategyEngaging: `You are a prompt engineering expert. Rewrite the prompt you are given
to use compelling, active, vivid language while preserving its intent and every
requirement it states. Do not add new requirements. Respond with the rewritten prompt
only, no preamble and no explanation.`,

	StrategyStructured: `You are a prompt engineering expert. Reorganize the prompt you are
given into clearly delimited sections (such as Context, Task, Requirements, Output
format) so a model can follow it step by step. Preserve all original content and intent.
Respond with the rewritten prompt only, no preamble and no explanation.`,
}

// Mutator applies one rewriting strategy to a prompt. Strategies are
// independent and hold no shared mutable state, so calls may run
// concurrently.
type Mutator struct {
	gen    backend.Generator
	logger utils.Logger
}

func NewMutator(gen backend.Generator, logger utils.Logger) *Mutator {
	return &Mutator{gen: gen, logger: logger}
}

// Mutate produces one candidate rewrite. expertIdentity and contextDomain are
// optional conditioning; empty strings disable them.
func (m *Mutator) Mutate(ctx context.Context, promptText string, strategy Strategy, expertIdentity, contextDomain string) (string, string, error) {
	instruction, ok := strategyInstructions[strategy]
	if !ok {
		return "", "", fmt.Errorf("unknown mutation strategy: %s", strategy)
	}

	var sb strings.Builder
	if expertIdentity != "" {
		sb.WriteString(expertIdentity)
		sb.WriteString("\n\n")
	}
	sb.WriteString(instruction)
	if contextDomain != "" {
		fmt.Fprintf(&sb, "\n\nThe prompt belongs to the %s domain; use terminology appropriate to it.", contextDomain)
	}

	result, err := m.gen.Generate(ctx, providers.GenerateRequest{
		Prompt: promptText,
		System: sb.String(),
	})
	if err != nil {
		return "", "", err
	}

	mutated := strings.TrimSpace(result.Text)
	if mutated == "" {
		return "", result.Backend, backend.NewError(backend.ErrorTypeParse,
			fmt.Sprintf("empty %s mutation response", strategy), nil)
	}

	metrics.MutationsTotal.WithLabelValues(string(strategy)).Inc()
	m.logger.Debug("Mutation produced", "strategy", strategy, "backend", result.Backend, "chars", len(mutated))
	return mutated, result.Backend, nil
}
