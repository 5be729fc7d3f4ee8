package optimizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhollinger/promptmend/backend"
	"github.com/dhollinger/promptmend/providers"
)

func TestParseBullets(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "dash bullets",
			input: "- first\n- second\n",
			want:  []string{"first", "second"},
		},
		{
			name:  "mixed markers",
			input: "* one\n• two\n– three",
			want:  []string{"one", "two", "three"},
		},
		{
			name:  "numbered list",
			input: "1. alpha\n2) beta",
			want:  []string{"alpha", "beta"},
		},
		{
			name:  "prose falls back to generic",
			input: "Added a format requirement\nNamed the audience",
			want:  []string{genericImprovement},
		},
		{
			name:  "prose around bullets is ignored",
			input: "Here are the improvements:\n- tightened scope\nHope that helps!",
			want:  []string{"tightened scope"},
		},
		{
			name:  "empty falls back to generic",
			input: "   \n\n  ",
			want:  []string{genericImprovement},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseBullets(tt.input))
		})
	}
}

func TestAnalyzeImprovements(t *testing.T) {
	analyzer := NewAnalyzer(textGen("- clarified the audience\n- pinned the output format"), quietLogger())

	improvements, err := analyzer.AnalyzeImprovements(context.Background(), "old", "new")
	require.NoError(t, err)
	assert.Equal(t, []string{"clarified the audience", "pinned the output format"}, improvements)
}

func TestGenerateInsightsConditionsOnIdentity(t *testing.T) {
	var seenSystem string
	gen := &fakeGen{handler: func(_ context.Context, req providers.GenerateRequest) (*backend.Result, error) {
		seenSystem = req.System
		return &backend.Result{Text: "- tip", Backend: "mock"}, nil
	}}

	analyzer := NewAnalyzer(gen, quietLogger())
	insights, err := analyzer.GenerateInsights(context.Background(), "optimized", "You are a marketing expert.")
	require.NoError(t, err)
	assert.Equal(t, []string{"tip"}, insights)
	assert.Contains(t, seenSystem, "You are a marketing expert.")
}
