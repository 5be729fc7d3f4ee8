package session

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// ValidationError rejects a prompt before any backend call is made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "ValidationError: " + e.Reason
}

// tokenEncoding is resolved lazily; loading the BPE table is not free and
// most validation failures are caught by the character bound first.
var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func tokenEstimate(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		// Rough chars-per-token heuristic when the encoding is unavailable.
		return len(text) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// ValidatePrompt enforces the submission bounds: non-empty, within the
// character budget, and within the derived token budget.
func ValidatePrompt(text string, maxChars int) error {
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Reason: "prompt is empty"}
	}
	if len(text) > maxChars {
		return &ValidationError{Reason: fmt.Sprintf("prompt length %d exceeds maximum of %d characters", len(text), maxChars)}
	}
	maxTokens := maxChars / 4
	if n := tokenEstimate(text); n > maxTokens {
		return &ValidationError{Reason: fmt.Sprintf("prompt is %d tokens, maximum is %d", n, maxTokens)}
	}
	return nil
}
