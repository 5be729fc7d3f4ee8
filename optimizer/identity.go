package optimizer

import (
	"context"
	"strings"

	"github.com/dhollinger/promptmend/backend"
	"github.com/dhollinger/promptmend/providers"
	"github.com/dhollinger/promptmend/utils"
)

const identityInstruction = `Read the prompt you are given and state, in 2-3 sentences
written in the first person, the domain expert best qualified to improve it. Begin
with "You are" and describe that expert's credentials and perspective. Respond with
the persona statement only.`

// IdentityGenerator produces the short expert persona used to bias later
// mutation calls toward domain expertise. Failure here is non-fatal; the
// pipeline proceeds without conditioning.
type IdentityGenerator struct {
	gen    backend.Generator
	logger utils.Logger
}

func NewIdentityGenerator(gen backend.Generator, logger utils.Logger) *IdentityGenerator {
	return &IdentityGenerator{gen: gen, logger: logger}
}

func (g *IdentityGenerator) Generate(ctx context.Context, originalPrompt string) (string, error) {
	result, err := g.gen.Generate(ctx, providers.GenerateRequest{
		Prompt: originalPrompt,
		System: identityInstruction,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Text), nil
}
