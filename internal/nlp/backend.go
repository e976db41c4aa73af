// Package nlp is the contract with the external speech-to-text and
// suggestion backend. The backend is a fallible remote collaborator with
// its own latency and rate limits; callers own retry policy and timeouts.
package nlp

import "context"

// Backend turns raw audio into transcripts and paragraph text into
// improvement suggestions.
type Backend interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
	Suggest(ctx context.Context, text string, n int) ([]string, error)
}

// Settings configures a concrete backend implementation.
type Settings struct {
	APIKey          string
	BaseURL         string
	SuggestModel    string
	TranscribeModel string
}
