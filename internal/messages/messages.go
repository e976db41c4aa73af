// Package messages maps typed status and error codes to human-readable
// strings. The core components only ever emit codes; rendering happens at
// the transport boundary.
package messages

import "strings"

type Code string

const (
	CodeInvalidCommand     Code = "INVALID_COMMAND"
	CodeNotListening       Code = "NOT_LISTENING"
	CodeDocumentNotFound   Code = "DOCUMENT_NOT_FOUND"
	CodeUnsupportedDocType Code = "UNSUPPORTED_DOC_TYPE"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodeParagraphLocked    Code = "PARAGRAPH_LOCKED"
	CodeDocumentFinalized  Code = "DOCUMENT_FINALIZED"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodeBackendUnavailable Code = "BACKEND_UNAVAILABLE"
	CodeDuplicateSession   Code = "DUPLICATE_SESSION"
	CodeNoSession          Code = "NO_SESSION"

	CodeDocInitialized  Code = "DOC_INITIALIZED"
	CodeChangesApplied  Code = "CHANGES_APPLIED"
	CodeMarkupCleared   Code = "MARKUP_CLEARED"
	CodeDocFinalized    Code = "DOC_FINALIZED"
	CodeUserJoined      Code = "USER_JOINED"
	CodeUserLeft        Code = "USER_LEFT"
	CodeListeningOn     Code = "LISTENING_ON"
	CodeListeningOff    Code = "LISTENING_OFF"
	CodeNoMatchFound    Code = "NO_MATCH_FOUND"
	CodeSuggestionReady Code = "SUGGESTION_READY"
)

var catalog = map[Code]string{
	CodeInvalidCommand:     "Invalid command: {command}",
	CodeNotListening:       "Not listening; say 'start redlining' first",
	CodeDocumentNotFound:   "Document not found",
	CodeUnsupportedDocType: "Unsupported document type: {type}",
	CodeAlreadyExists:      "Document already exists",
	CodeParagraphLocked:    "Paragraph is being edited by {user}",
	CodeDocumentFinalized:  "Document is final; no further edits allowed",
	CodeRateLimitExceeded:  "Rate limit exceeded for {class}; retry after {seconds}s",
	CodeBackendUnavailable: "Language backend unavailable, please retry",
	CodeDuplicateSession:   "User {user} already has a live session on this document",
	CodeNoSession:          "No live session on this document; connect first",

	CodeDocInitialized:  "Document tracking initialized",
	CodeChangesApplied:  "Changes applied",
	CodeMarkupCleared:   "Markup cleared, original restored",
	CodeDocFinalized:    "All changes accepted, document moved to final",
	CodeUserJoined:      "User {user} joined",
	CodeUserLeft:        "User {user} left",
	CodeListeningOn:     "Started redlining",
	CodeListeningOff:    "Stopped redlining",
	CodeNoMatchFound:    "No match found for '{text}'",
	CodeSuggestionReady: "Suggestions ready",
}

// Render formats the template for code, substituting {name} placeholders
// from args. Unknown codes render as the raw code string; missing args
// leave the placeholder in place.
func Render(code Code, args map[string]string) string {
	template, ok := catalog[code]
	if !ok {
		return string(code)
	}
	for name, value := range args {
		template = strings.ReplaceAll(template, "{"+name+"}", value)
	}
	return template
}
