package nlp

import (
	"context"
	"fmt"
)

// Mock is a deterministic offline backend for keyless local runs. It never
// fails and never leaves the process.
type Mock struct{}

func (Mock) Transcribe(_ context.Context, _ []byte) (string, error) {
	return "sample text from voice", nil
}

func (Mock) Suggest(_ context.Context, text string, n int) ([]string, error) {
	suggestions := make([]string, 0, n)
	for i := 0; i < n; i++ {
		suggestions = append(suggestions, fmt.Sprintf("Suggestion %d for: %s", i+1, text))
	}
	return suggestions, nil
}
