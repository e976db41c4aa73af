// Package coordinator glues admission control, command interpretation,
// document mutation and session broadcast into one event-handling pipeline.
// Each inbound event is gated, interpreted, applied under the document
// store's locking discipline, and the resulting delta broadcast to the
// document's sessions. Recoverable failures are surfaced to the originating
// caller only; they never tear down the session or touch other documents.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"redline/api/internal/audio"
	"redline/api/internal/command"
	"redline/api/internal/document"
	"redline/api/internal/hub"
	"redline/api/internal/messages"
	"redline/api/internal/nlp"
	"redline/api/internal/rategate"
)

var (
	// ErrNotListening rejects commands while the document session is idle.
	ErrNotListening = errors.New("not listening")
	// ErrBackendUnavailable wraps an NLP backend failure that survived the
	// bounded retry policy.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrNoSuggestion rejects an accept with no pending suggestion.
	ErrNoSuggestion = errors.New("no pending suggestion")
)

// Gate is the admission-control dependency.
type Gate interface {
	Admit(ctx context.Context, subject string, class rategate.Class, now time.Time) error
}

// Config carries the coordinator's tunables; zero values get sane defaults.
type Config struct {
	RetryAttempts  int
	RetryDelay     time.Duration
	BackendTimeout time.Duration
	MaxSuggestions int
	DefaultDocType string
}

func (c *Config) normalize() {
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.BackendTimeout <= 0 {
		c.BackendTimeout = 30 * time.Second
	}
	if c.MaxSuggestions <= 0 {
		c.MaxSuggestions = 3
	}
	if c.DefaultDocType == "" {
		c.DefaultDocType = "google_docs"
	}
}

// CommandEvent is one raw command from a session.
type CommandEvent struct {
	DocID  string
	UserID string
	Text   string
	Voice  bool
}

// Result is the single response produced for a handled event.
type Result struct {
	Action      command.Action   `json:"action"`
	Listening   bool             `json:"listening"`
	Update      *document.Update `json:"update,omitempty"`
	Suggestions []string         `json:"suggestions,omitempty"`
	Position    *hub.Position    `json:"position,omitempty"`
	Note        messages.Code    `json:"note,omitempty"`
}

// UploadResult is the response for a processed upload.
type UploadResult struct {
	Transcript string         `json:"transcript"`
	Action     command.Action `json:"action"`
}

// Status answers the per-document status query.
type Status struct {
	Listening         bool               `json:"isListening"`
	ActiveConnections int                `json:"activeConnections"`
	Lifecycle         document.Lifecycle `json:"lifecycle"`
}

type pendingSuggestion struct {
	paragraphID string
	sourceText  string
	texts       []string
}

// Coordinator owns the per-document listening state machine. Listening is
// orthogonal to the document's draft/reviewing/final lifecycle.
type Coordinator struct {
	cfg     Config
	gate    Gate
	store   *document.Store
	hub     *hub.Hub
	backend nlp.Backend

	mu        sync.Mutex
	listening map[string]bool
	pending   map[string]pendingSuggestion // docID+"/"+userID

	now func() time.Time
}

func New(cfg Config, gate Gate, store *document.Store, h *hub.Hub, backend nlp.Backend) *Coordinator {
	cfg.normalize()
	c := &Coordinator{
		cfg:       cfg,
		gate:      gate,
		store:     store,
		hub:       h,
		backend:   backend,
		listening: make(map[string]bool),
		pending:   make(map[string]pendingSuggestion),
		now:       time.Now,
	}
	h.SetEvictHandler(c.evict)
	return c
}

// SetClock overrides the timestamp source. Intended for tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// Connect registers a live connection for userID on docID, creating the
// document on first reference.
func (c *Coordinator) Connect(ctx context.Context, conn hub.Conn, docID, userID string) error {
	if err := c.gate.Admit(ctx, userID, rategate.ClassAPI, c.now()); err != nil {
		return err
	}
	if !c.store.Exists(docID) {
		if err := c.store.Init(docID, c.cfg.DefaultDocType); err != nil && !errors.Is(err, document.ErrAlreadyExists) {
			return err
		}
	}
	_, err := c.hub.Connect(conn, docID, userID)
	return err
}

// Disconnect tears down the connection's session and releases every
// paragraph lock its user held. Required on every exit path.
func (c *Coordinator) Disconnect(conn hub.Conn) {
	docID, userID, ok := c.hub.Disconnect(conn)
	if !ok {
		return
	}
	c.store.ReleaseLocks(docID, userID)
	c.mu.Lock()
	delete(c.pending, pendingKey(docID, userID))
	c.mu.Unlock()
}

func (c *Coordinator) evict(conn hub.Conn) {
	c.Disconnect(conn)
	_ = conn.Close()
}

// IsListening reports the state machine axis for one document.
func (c *Coordinator) IsListening(docID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening[docID]
}

func (c *Coordinator) setListening(docID string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.listening[docID] = true
		return
	}
	delete(c.listening, docID)
}

// Status answers GetStatus for a document.
func (c *Coordinator) Status(docID string) (Status, error) {
	lifecycle, err := c.store.Lifecycle(docID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Listening:         c.IsListening(docID),
		ActiveConnections: c.hub.ActiveConnections(docID),
		Lifecycle:         lifecycle,
	}, nil
}

// HandleCommand runs one command through the pipeline:
// gate -> interpret -> apply -> broadcast.
func (c *Coordinator) HandleCommand(ctx context.Context, ev CommandEvent) (*Result, error) {
	class := rategate.ClassAPI
	if ev.Voice {
		class = rategate.ClassVoice
	}
	if err := c.gate.Admit(ctx, ev.UserID, class, c.now()); err != nil {
		return nil, err
	}

	action, err := command.Interpret(ev.Text)
	if err != nil {
		return nil, err
	}

	switch action.Intent {
	case command.IntentStart:
		c.setListening(ev.DocID, true)
		return &Result{Action: action, Listening: true, Note: messages.CodeListeningOn}, nil
	case command.IntentStop:
		c.setListening(ev.DocID, false)
		return &Result{Action: action, Listening: false, Note: messages.CodeListeningOff}, nil
	}

	if !c.IsListening(ev.DocID) {
		return nil, ErrNotListening
	}

	switch action.Intent {
	case command.IntentMove:
		return c.moveCursor(ev.DocID, ev.UserID, action)
	case command.IntentSuggest:
		return c.suggest(ctx, ev.DocID, ev.UserID, action)
	case command.IntentAccept:
		return c.acceptSuggestion(ev.DocID, ev.UserID, action)
	case command.IntentAcceptAll:
		if err := c.store.Finalize(ev.DocID); err != nil {
			return nil, err
		}
		c.hub.Broadcast(ev.DocID, hub.DocumentUpdate{DocID: ev.DocID}, "")
		return &Result{Action: action, Listening: true, Note: messages.CodeDocFinalized}, nil
	case command.IntentRestore:
		if err := c.store.RestoreOriginal(ev.DocID, ""); err != nil {
			return nil, err
		}
		c.hub.Broadcast(ev.DocID, hub.DocumentUpdate{DocID: ev.DocID}, "")
		return &Result{Action: action, Listening: true, Note: messages.CodeMarkupCleared}, nil
	case command.IntentComment:
		return c.annotate(ev.DocID, ev.UserID, action)
	case command.IntentHighlight:
		return c.annotate(ev.DocID, ev.UserID, action)
	default:
		return &Result{Action: action, Listening: true, Note: messages.CodeInvalidCommand}, nil
	}
}

// moveCursor recomputes the user's position from the movement action and
// broadcasts the new location. Document content is untouched.
func (c *Coordinator) moveCursor(docID, userID string, action command.Action) (*Result, error) {
	pos, _ := c.hub.Cursor(docID, userID)

	switch action.Direction {
	case command.DirectionUp, command.DirectionDown:
		delta := action.Steps
		if action.Direction == command.DirectionUp {
			delta = -delta
		}
		id, err := c.store.Neighbor(docID, pos.ParagraphID, delta)
		if err != nil {
			return &Result{Action: action, Listening: true, Note: messages.CodeNoMatchFound}, nil
		}
		pos = hub.Position{ParagraphID: id}
	case command.DirectionForward:
		pos.Offset += action.Steps
	case command.DirectionTarget:
		id, found := c.store.Find(docID, action.Target)
		if !found {
			return &Result{Action: action, Listening: true, Note: messages.CodeNoMatchFound}, nil
		}
		pos = hub.Position{ParagraphID: id}
	}

	if err := c.hub.UpdateCursor(docID, userID, pos); err != nil {
		return nil, err
	}
	return &Result{Action: action, Listening: true, Position: &pos}, nil
}

// suggest asks the NLP backend for replacement texts for the paragraph
// under the user's cursor (or the action payload when given) and parks them
// until an accept.
func (c *Coordinator) suggest(ctx context.Context, docID, userID string, action command.Action) (*Result, error) {
	if err := c.gate.Admit(ctx, userID, rategate.ClassSuggestion, c.now()); err != nil {
		return nil, err
	}

	pos, _ := c.hub.Cursor(docID, userID)
	paragraphID := pos.ParagraphID
	if paragraphID == "" {
		// No cursor yet; anchor the suggestion at the first paragraph so a
		// later accept has a real target. Empty ids are reserved for
		// whole-document operations.
		id, err := c.store.Neighbor(docID, "", 0)
		if err != nil {
			return nil, err
		}
		paragraphID = id
	}
	sourceText := action.Payload
	if sourceText == "" {
		snap, err := c.store.Paragraph(docID, paragraphID)
		if err != nil {
			return nil, err
		}
		sourceText = snap.Current
	}

	var texts []string
	err := c.withBackendRetry(ctx, func(ctx context.Context) error {
		var err error
		texts, err = c.backend.Suggest(ctx, sourceText, c.cfg.MaxSuggestions)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.pending[pendingKey(docID, userID)] = pendingSuggestion{
		paragraphID: paragraphID,
		sourceText:  sourceText,
		texts:       texts,
	}
	c.mu.Unlock()

	return &Result{Action: action, Listening: true, Suggestions: texts, Note: messages.CodeSuggestionReady}, nil
}

// acceptSuggestion applies the first pending suggestion as a redline.
func (c *Coordinator) acceptSuggestion(docID, userID string, action command.Action) (*Result, error) {
	key := pendingKey(docID, userID)
	c.mu.Lock()
	pending, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	if !ok || len(pending.texts) == 0 {
		return nil, ErrNoSuggestion
	}

	update, err := c.store.Apply(docID, pending.paragraphID, userID, pending.sourceText, pending.texts[0], document.ChangeAccept)
	if err != nil {
		return nil, err
	}
	c.hub.Broadcast(docID, hub.DocumentUpdate{
		DocID:       update.DocID,
		ParagraphID: update.ParagraphID,
		Before:      update.Before,
		After:       update.After,
		HTML:        update.HTML,
	}, userID)
	return &Result{Action: action, Listening: true, Update: &update, Note: messages.CodeChangesApplied}, nil
}

// annotate applies a comment or highlight as an ordinary redline edit to
// the paragraph under the user's cursor, so it stays reversible through
// restore.
func (c *Coordinator) annotate(docID, userID string, action command.Action) (*Result, error) {
	if strings.TrimSpace(action.Payload) == "" {
		return nil, command.ErrInvalidCommand
	}
	pos, _ := c.hub.Cursor(docID, userID)
	snap, err := c.store.Paragraph(docID, pos.ParagraphID)
	if err != nil {
		return nil, err
	}

	var newText string
	if action.Intent == command.IntentComment {
		newText = fmt.Sprintf("%s [comment (%s): %s]", snap.Current, userID, action.Payload)
	} else {
		if strings.Contains(snap.Current, action.Payload) {
			newText = strings.Replace(snap.Current, action.Payload, "<highlight>"+action.Payload+"</highlight>", 1)
		} else {
			newText = "<highlight>" + snap.Current + "</highlight>"
		}
	}

	update, err := c.store.Apply(docID, pos.ParagraphID, userID, snap.Current, newText, document.ChangeEdit)
	if err != nil {
		return nil, err
	}
	c.hub.Broadcast(docID, hub.DocumentUpdate{
		DocID:       update.DocID,
		ParagraphID: update.ParagraphID,
		Before:      update.Before,
		After:       update.After,
		HTML:        update.HTML,
	}, userID)
	return &Result{Action: action, Listening: true, Update: &update, Note: messages.CodeChangesApplied}, nil
}

// HandleApply applies an explicit paragraph change (the direct HTTP path)
// and broadcasts the delta.
func (c *Coordinator) HandleApply(ctx context.Context, docID, paragraphID, userID, original, newText string) (*document.Update, error) {
	if err := c.gate.Admit(ctx, userID, rategate.ClassAPI, c.now()); err != nil {
		return nil, err
	}
	update, err := c.store.Apply(docID, paragraphID, userID, original, newText, document.ChangeEdit)
	if err != nil {
		return nil, err
	}
	c.hub.Broadcast(docID, hub.DocumentUpdate{
		DocID:       update.DocID,
		ParagraphID: update.ParagraphID,
		Before:      update.Before,
		After:       update.After,
		HTML:        update.HTML,
	}, userID)
	return &update, nil
}

// HandleSuggestionRequest serves an explicit suggestion request for a known
// paragraph and text.
func (c *Coordinator) HandleSuggestionRequest(ctx context.Context, docID, paragraphID, userID, text string) (*Result, error) {
	if err := c.gate.Admit(ctx, userID, rategate.ClassSuggestion, c.now()); err != nil {
		return nil, err
	}
	if !c.store.Exists(docID) {
		return nil, document.ErrNotFound
	}
	if paragraphID == "" {
		id, err := c.store.Neighbor(docID, "", 0)
		if err != nil {
			return nil, err
		}
		paragraphID = id
	}

	var texts []string
	err := c.withBackendRetry(ctx, func(ctx context.Context) error {
		var err error
		texts, err = c.backend.Suggest(ctx, text, c.cfg.MaxSuggestions)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.pending[pendingKey(docID, userID)] = pendingSuggestion{
		paragraphID: paragraphID,
		sourceText:  text,
		texts:       texts,
	}
	c.mu.Unlock()

	return &Result{
		Action:      command.Action{Intent: command.IntentSuggest, Scope: command.ScopeParagraph},
		Listening:   c.IsListening(docID),
		Suggestions: texts,
		Note:        messages.CodeSuggestionReady,
	}, nil
}

// UploadKind tags the payload of a processed upload.
type UploadKind string

const (
	UploadVoice UploadKind = "voice"
	UploadFile  UploadKind = "file"
	UploadText  UploadKind = "text"
)

// HandleUpload turns an uploaded payload into an interpreted action. Voice
// payloads must be valid WAV and go through the transcription backend.
func (c *Coordinator) HandleUpload(ctx context.Context, subject string, data []byte, kind UploadKind) (*UploadResult, error) {
	var transcript string
	switch kind {
	case UploadVoice:
		if err := c.gate.Admit(ctx, subject, rategate.ClassVoice, c.now()); err != nil {
			return nil, err
		}
		if !audio.ValidFormat(data) {
			return nil, audio.ErrInvalidFormat
		}
		if dur, err := audio.Duration(data); err == nil {
			log.Printf("voice upload subject=%s duration=%s", subject, dur)
		}
		err := c.withBackendRetry(ctx, func(ctx context.Context) error {
			var err error
			transcript, err = c.backend.Transcribe(ctx, data)
			return err
		})
		if err != nil {
			return nil, err
		}
	default:
		if err := c.gate.Admit(ctx, subject, rategate.ClassAPI, c.now()); err != nil {
			return nil, err
		}
		transcript = string(data)
	}

	action, err := command.Interpret(transcript)
	if err != nil {
		return nil, err
	}
	return &UploadResult{Transcript: transcript, Action: action}, nil
}

// CursorMove records a cursor position reported directly by the client.
func (c *Coordinator) CursorMove(docID, userID string, pos hub.Position) error {
	return c.hub.UpdateCursor(docID, userID, pos)
}

// withBackendRetry runs op under the bounded fixed-delay retry policy, each
// attempt with its own timeout. After exhausting attempts the error is
// reported as ErrBackendUnavailable.
func (c *Coordinator) withBackendRetry(ctx context.Context, op func(context.Context) error) error {
	attempt := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.BackendTimeout)
		defer cancel()
		return op(attemptCtx)
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryDelay), uint64(c.cfg.RetryAttempts-1))
	if err := backoff.Retry(attempt, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func pendingKey(docID, userID string) string {
	return docID + "/" + userID
}
