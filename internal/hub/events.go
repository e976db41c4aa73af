package hub

// Event is one outbound broadcast payload. The set of event types is closed;
// every transport frame is one of the variants below.
type Event interface {
	EventKind() string
}

// Position is a user's last-known cursor location.
type Position struct {
	ParagraphID string `json:"paragraphId"`
	Offset      int    `json:"offset"`
}

type DocumentUpdate struct {
	DocID       string `json:"docId"`
	ParagraphID string `json:"paragraphId"`
	Before      string `json:"before"`
	After       string `json:"after"`
	HTML        string `json:"html,omitempty"`
}

func (DocumentUpdate) EventKind() string { return "document_update" }

type UserJoined struct {
	UserID string `json:"userId"`
}

func (UserJoined) EventKind() string { return "user_joined" }

type UserLeft struct {
	UserID string `json:"userId"`
}

func (UserLeft) EventKind() string { return "user_left" }

type CursorMoved struct {
	UserID   string   `json:"userId"`
	Position Position `json:"position"`
}

func (CursorMoved) EventKind() string { return "cursor_moved" }

// ErrorEvent is only ever delivered to the session that caused it.
type ErrorEvent struct {
	Code       string `json:"code"`
	Detail     string `json:"detail"`
	RetryAfter int    `json:"retryAfterSeconds,omitempty"`
}

func (ErrorEvent) EventKind() string { return "error" }
