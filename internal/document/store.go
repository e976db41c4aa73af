// Package document owns all shared document state: paragraph content,
// per-paragraph write locks, and the append-only redline history. All
// operations are atomic with respect to the paragraphs they touch; writers
// to the same paragraph are serialized, writers to different paragraphs
// proceed independently, and readers are never blocked by an edit lock.
package document

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrFinalized     = errors.New("document is finalized")
	ErrNoParagraph   = errors.New("paragraph not found")
)

// UnsupportedTypeError reports an init with a document type outside the
// configured set.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported document type %q", e.Type)
}

// LockedError reports a write attempt against a paragraph locked by another
// user.
type LockedError struct {
	HeldBy string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("paragraph locked by %s", e.HeldBy)
}

type Lifecycle string

const (
	LifecycleDraft     Lifecycle = "draft"
	LifecycleReviewing Lifecycle = "reviewing"
	LifecycleFinal     Lifecycle = "final"
)

type ChangeKind string

const (
	ChangeEdit       ChangeKind = "edit"
	ChangeSuggestion ChangeKind = "suggestion"
	ChangeAccept     ChangeKind = "accept"
	ChangeClear      ChangeKind = "clear"
)

// Change is one entry of a paragraph's append-only history.
type Change struct {
	UserID   string
	At       time.Time
	Previous string
	Text     string
	Kind     ChangeKind
}

// Snapshot is a read-only copy of one paragraph's state.
type Snapshot struct {
	ID       string
	Original string
	Current  string
	History  []Change
	LockedBy string
}

// Update is the before/after pair produced by a successful apply, ready for
// broadcast.
type Update struct {
	DocID       string
	ParagraphID string
	Before      string
	After       string
	HTML        string
}

type paragraph struct {
	mu          sync.Mutex
	initialized bool
	original    string
	current     string
	history     []Change
	lockedBy    string
}

type doc struct {
	mu         sync.RWMutex
	id         string
	docType    string
	lifecycle  Lifecycle
	paragraphs map[string]*paragraph
	order      []string
}

// Store owns every Document for a running server instance. State lives in
// process memory only.
type Store struct {
	mu        sync.RWMutex
	docs      map[string]*doc
	supported map[string]struct{}
	now       func() time.Time
}

func NewStore(supportedTypes []string) *Store {
	supported := make(map[string]struct{}, len(supportedTypes))
	for _, t := range supportedTypes {
		supported[t] = struct{}{}
	}
	return &Store{
		docs:      make(map[string]*doc),
		supported: supported,
		now:       time.Now,
	}
}

// SetClock overrides the timestamp source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Init creates an empty document in draft state. It fails if the type is
// not supported or the id is already taken.
func (s *Store) Init(docID, docType string) error {
	if _, ok := s.supported[docType]; !ok {
		return &UnsupportedTypeError{Type: docType}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[docID]; exists {
		return ErrAlreadyExists
	}
	s.docs[docID] = &doc{
		id:         docID,
		docType:    docType,
		lifecycle:  LifecycleDraft,
		paragraphs: make(map[string]*paragraph),
	}
	return nil
}

// Exists reports whether docID is tracked.
func (s *Store) Exists(docID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[docID]
	return ok
}

func (s *Store) get(docID string) (*doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[docID]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

// Apply acquires the paragraph lock for userID (implicitly, on first
// successful write) and applies newText as a redline change. On the first
// touch of a paragraph, originalIfFirst becomes its immutable original.
func (s *Store) Apply(docID, paragraphID, userID, originalIfFirst, newText string, kind ChangeKind) (Update, error) {
	// The empty id is reserved for whole-document operations.
	if paragraphID == "" {
		return Update{}, ErrNoParagraph
	}
	d, err := s.get(docID)
	if err != nil {
		return Update{}, err
	}

	d.mu.Lock()
	if d.lifecycle == LifecycleFinal {
		d.mu.Unlock()
		return Update{}, ErrFinalized
	}
	p, ok := d.paragraphs[paragraphID]
	if !ok {
		p = &paragraph{}
		d.paragraphs[paragraphID] = p
		d.order = append(d.order, paragraphID)
	}
	d.mu.Unlock()

	p.mu.Lock()
	if p.lockedBy != "" && p.lockedBy != userID {
		heldBy := p.lockedBy
		p.mu.Unlock()
		return Update{}, &LockedError{HeldBy: heldBy}
	}
	if !p.initialized {
		p.initialized = true
		p.original = originalIfFirst
		p.current = originalIfFirst
	}

	before := p.current
	p.lockedBy = userID
	p.current = newText
	p.history = append(p.history, Change{
		UserID:   userID,
		At:       s.now(),
		Previous: before,
		Text:     newText,
		Kind:     kind,
	})
	update := Update{
		DocID:       docID,
		ParagraphID: paragraphID,
		Before:      before,
		After:       newText,
		HTML:        renderParagraphHTML(paragraphID, p.original, newText),
	}
	p.mu.Unlock()

	// Lifecycle moves to reviewing only once a write has landed. d.mu must
	// not be taken while holding p.mu; restore acquires them in the
	// opposite order.
	d.mu.Lock()
	if d.lifecycle == LifecycleDraft {
		d.lifecycle = LifecycleReviewing
	}
	d.mu.Unlock()

	return update, nil
}

// RestoreOriginal resets current text to the immutable original and clears
// history for paragraphID, or for every paragraph when paragraphID is
// empty. The lock on each restored paragraph is released. The document
// returns to draft once all paragraphs are restored, unless it is final.
func (s *Store) RestoreOriginal(docID, paragraphID string) error {
	d, err := s.get(docID)
	if err != nil {
		return err
	}

	d.mu.RLock()
	var targets []*paragraph
	if paragraphID == "" {
		targets = make([]*paragraph, 0, len(d.paragraphs))
		for _, p := range d.paragraphs {
			targets = append(targets, p)
		}
	} else {
		p, ok := d.paragraphs[paragraphID]
		if !ok {
			d.mu.RUnlock()
			return ErrNoParagraph
		}
		targets = []*paragraph{p}
	}
	d.mu.RUnlock()

	for _, p := range targets {
		p.mu.Lock()
		p.current = p.original
		p.history = nil
		p.lockedBy = ""
		p.mu.Unlock()
	}

	d.mu.Lock()
	if d.lifecycle == LifecycleReviewing && d.allRestoredLocked() {
		d.lifecycle = LifecycleDraft
	}
	d.mu.Unlock()
	return nil
}

// allRestoredLocked reports whether every paragraph has an empty history.
// Caller holds d.mu.
func (d *doc) allRestoredLocked() bool {
	for _, p := range d.paragraphs {
		p.mu.Lock()
		dirty := len(p.history) > 0
		p.mu.Unlock()
		if dirty {
			return false
		}
	}
	return true
}

// Finalize moves the document to its terminal lifecycle state. Further
// Apply calls fail with ErrFinalized; reads and restores still succeed.
func (s *Store) Finalize(docID string) error {
	d, err := s.get(docID)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.lifecycle = LifecycleFinal
	d.mu.Unlock()
	return nil
}

// Lifecycle returns the document's current lifecycle state.
func (s *Store) Lifecycle(docID string) (Lifecycle, error) {
	d, err := s.get(docID)
	if err != nil {
		return "", err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lifecycle, nil
}

// ReleaseLocks drops every paragraph lock held by userID in docID. Invoked
// on session disconnect; must succeed on every exit path.
func (s *Store) ReleaseLocks(docID, userID string) {
	d, err := s.get(docID)
	if err != nil {
		return
	}
	d.mu.RLock()
	paragraphs := make([]*paragraph, 0, len(d.paragraphs))
	for _, p := range d.paragraphs {
		paragraphs = append(paragraphs, p)
	}
	d.mu.RUnlock()

	for _, p := range paragraphs {
		p.mu.Lock()
		if p.lockedBy == userID {
			p.lockedBy = ""
		}
		p.mu.Unlock()
	}
}

// Paragraph returns a read-only snapshot of one paragraph. Never blocked by
// an edit lock.
func (s *Store) Paragraph(docID, paragraphID string) (Snapshot, error) {
	d, err := s.get(docID)
	if err != nil {
		return Snapshot{}, err
	}
	d.mu.RLock()
	p, ok := d.paragraphs[paragraphID]
	d.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrNoParagraph
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	history := make([]Change, len(p.history))
	copy(history, p.history)
	return Snapshot{
		ID:       paragraphID,
		Original: p.original,
		Current:  p.current,
		History:  history,
		LockedBy: p.lockedBy,
	}, nil
}

// Neighbor returns the paragraph id delta positions away from paragraphID
// in document order. An empty paragraphID anchors at the first paragraph.
// Out-of-range positions clamp to the nearest edge.
func (s *Store) Neighbor(docID, paragraphID string, delta int) (string, error) {
	d, err := s.get(docID)
	if err != nil {
		return "", err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.order) == 0 {
		return "", ErrNoParagraph
	}

	idx := 0
	if paragraphID != "" {
		idx = -1
		for i, id := range d.order {
			if id == paragraphID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return "", ErrNoParagraph
		}
	}

	idx += delta
	if idx < 0 {
		idx = 0
	}
	if idx >= len(d.order) {
		idx = len(d.order) - 1
	}
	return d.order[idx], nil
}

// Find returns the first paragraph (in document order) whose current text
// contains target. An empty target never matches.
func (s *Store) Find(docID, target string) (string, bool) {
	if target == "" {
		return "", false
	}
	d, err := s.get(docID)
	if err != nil {
		return "", false
	}
	d.mu.RLock()
	order := make([]string, len(d.order))
	copy(order, d.order)
	paragraphs := make(map[string]*paragraph, len(d.paragraphs))
	for id, p := range d.paragraphs {
		paragraphs[id] = p
	}
	d.mu.RUnlock()

	for _, id := range order {
		p := paragraphs[id]
		p.mu.Lock()
		found := containsFold(p.current, target)
		p.mu.Unlock()
		if found {
			return id, true
		}
	}
	return "", false
}
