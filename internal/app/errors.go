package app

import (
	"errors"
	"fmt"
	"net/http"

	"redline/api/internal/audio"
	"redline/api/internal/command"
	"redline/api/internal/coordinator"
	"redline/api/internal/document"
	"redline/api/internal/hub"
	"redline/api/internal/messages"
	"redline/api/internal/rategate"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// mapError translates the core taxonomy into (status, code, message,
// details). Every recoverable condition has a stable code; anything
// unrecognized is a server error.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var limitErr *rategate.LimitError
	if errors.As(err, &limitErr) {
		seconds := limitErr.RetryAfterSeconds()
		detail := map[string]any{
			"class":             string(limitErr.Class),
			"retryAfterSeconds": seconds,
		}
		return http.StatusTooManyRequests, string(messages.CodeRateLimitExceeded),
			messages.Render(messages.CodeRateLimitExceeded, map[string]string{
				"class":   string(limitErr.Class),
				"seconds": fmt.Sprintf("%d", seconds),
			}), detail
	}

	var lockedErr *document.LockedError
	if errors.As(err, &lockedErr) {
		return http.StatusConflict, string(messages.CodeParagraphLocked),
			messages.Render(messages.CodeParagraphLocked, map[string]string{"user": lockedErr.HeldBy}),
			map[string]any{"heldBy": lockedErr.HeldBy}
	}

	var typeErr *document.UnsupportedTypeError
	if errors.As(err, &typeErr) {
		return http.StatusUnprocessableEntity, string(messages.CodeUnsupportedDocType),
			messages.Render(messages.CodeUnsupportedDocType, map[string]string{"type": typeErr.Type}), nil
	}

	switch {
	case errors.Is(err, document.ErrNotFound), errors.Is(err, document.ErrNoParagraph):
		return http.StatusNotFound, string(messages.CodeDocumentNotFound),
			messages.Render(messages.CodeDocumentNotFound, nil), nil
	case errors.Is(err, document.ErrAlreadyExists):
		return http.StatusConflict, string(messages.CodeAlreadyExists),
			messages.Render(messages.CodeAlreadyExists, nil), nil
	case errors.Is(err, document.ErrFinalized):
		return http.StatusConflict, string(messages.CodeDocumentFinalized),
			messages.Render(messages.CodeDocumentFinalized, nil), nil
	case errors.Is(err, hub.ErrDuplicateSession):
		return http.StatusConflict, string(messages.CodeDuplicateSession),
			messages.Render(messages.CodeDuplicateSession, nil), nil
	case errors.Is(err, hub.ErrNoSession):
		return http.StatusConflict, string(messages.CodeNoSession),
			messages.Render(messages.CodeNoSession, nil), nil
	case errors.Is(err, coordinator.ErrNotListening):
		return http.StatusConflict, string(messages.CodeNotListening),
			messages.Render(messages.CodeNotListening, nil), nil
	case errors.Is(err, coordinator.ErrBackendUnavailable):
		return http.StatusBadGateway, string(messages.CodeBackendUnavailable),
			messages.Render(messages.CodeBackendUnavailable, nil), nil
	case errors.Is(err, coordinator.ErrNoSuggestion),
		errors.Is(err, command.ErrInvalidCommand),
		errors.Is(err, audio.ErrInvalidFormat):
		return http.StatusBadRequest, string(messages.CodeInvalidCommand),
			messages.Render(messages.CodeInvalidCommand, map[string]string{"command": err.Error()}), nil
	}

	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// errorEvent builds the ErrorEvent delivered back to an originating session.
func errorEvent(err error) hub.ErrorEvent {
	_, code, message, _ := mapError(err)
	ev := hub.ErrorEvent{Code: code, Detail: message}
	var limitErr *rategate.LimitError
	if errors.As(err, &limitErr) {
		ev.RetryAfter = limitErr.RetryAfterSeconds()
	}
	return ev
}
