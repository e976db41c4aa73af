package document

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore([]string{"google_docs", "microsoft_office"})
	s.SetClock(func() time.Time { return time.Date(2024, 12, 3, 10, 0, 0, 0, time.UTC) })
	return s
}

func TestInitDocument(t *testing.T) {
	s := newTestStore(t)

	if err := s.Init("doc-1", "google_docs"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	var typeErr *UnsupportedTypeError
	if err := s.Init("doc-2", "papyrus"); !errors.As(err, &typeErr) {
		t.Fatalf("expected UnsupportedTypeError, got %v", err)
	}

	if err := s.Init("doc-1", "google_docs"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	lifecycle, err := s.Lifecycle("doc-1")
	if err != nil {
		t.Fatalf("Lifecycle failed: %v", err)
	}
	if lifecycle != LifecycleDraft {
		t.Errorf("expected draft, got %s", lifecycle)
	}
}

func TestApplyRecordsOriginalOnce(t *testing.T) {
	s := newTestStore(t)
	if err := s.Init("doc-1", "google_docs"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	update, err := s.Apply("doc-1", "p1", "u1", "Hello world", "Hello there", ChangeEdit)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if update.Before != "Hello world" || update.After != "Hello there" {
		t.Errorf("unexpected before/after: %q -> %q", update.Before, update.After)
	}

	// The original set on first touch is immutable; a second apply must not
	// replace it even though it passes a different originalIfFirst.
	if _, err := s.Apply("doc-1", "p1", "u1", "ignored", "Hello again", ChangeEdit); err != nil {
		t.Fatalf("second Apply failed: %v", err)
	}
	snap, err := s.Paragraph("doc-1", "p1")
	if err != nil {
		t.Fatalf("Paragraph failed: %v", err)
	}
	if snap.Original != "Hello world" {
		t.Errorf("original mutated: %q", snap.Original)
	}
	if snap.Current != "Hello again" {
		t.Errorf("unexpected current: %q", snap.Current)
	}
	if len(snap.History) != 2 {
		t.Errorf("expected 2 history entries, got %d", len(snap.History))
	}

	lifecycle, _ := s.Lifecycle("doc-1")
	if lifecycle != LifecycleReviewing {
		t.Errorf("expected reviewing after first apply, got %s", lifecycle)
	}
}

func TestApplyEmptyParagraphID(t *testing.T) {
	s := newTestStore(t)
	_ = s.Init("doc-1", "google_docs")

	// The empty id is the whole-document sentinel for restore and refresh;
	// it must never become a real paragraph.
	if _, err := s.Apply("doc-1", "", "u1", "a", "b", ChangeEdit); !errors.Is(err, ErrNoParagraph) {
		t.Fatalf("expected ErrNoParagraph, got %v", err)
	}
	if lifecycle, _ := s.Lifecycle("doc-1"); lifecycle != LifecycleDraft {
		t.Errorf("rejected apply must not bump lifecycle, got %s", lifecycle)
	}
}

func TestFailedApplyLeavesLifecycle(t *testing.T) {
	s := newTestStore(t)
	_ = s.Init("doc-1", "google_docs")
	_ = s.Finalize("doc-1")
	if _, err := s.Apply("doc-1", "p1", "u1", "a", "b", ChangeEdit); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
	if lifecycle, _ := s.Lifecycle("doc-1"); lifecycle != LifecycleFinal {
		t.Errorf("failed apply must not change lifecycle, got %s", lifecycle)
	}

	s = newTestStore(t)
	_ = s.Init("doc-2", "google_docs")
	_, _ = s.Apply("doc-2", "p1", "u1", "orig", "edit", ChangeEdit)
	if _, err := s.Apply("doc-2", "p1", "u2", "orig", "other", ChangeEdit); err == nil {
		t.Fatal("expected lock denial")
	}
	if lifecycle, _ := s.Lifecycle("doc-2"); lifecycle != LifecycleReviewing {
		t.Errorf("denied write must not change lifecycle, got %s", lifecycle)
	}
}

func TestApplyUnknownDocument(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Apply("ghost", "p1", "u1", "a", "b", ChangeEdit); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestParagraphLockBlocksOtherUsers(t *testing.T) {
	s := newTestStore(t)
	_ = s.Init("doc-1", "google_docs")

	if _, err := s.Apply("doc-1", "p1", "u1", "original", "edit by u1", ChangeEdit); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	_, err := s.Apply("doc-1", "p1", "u2", "original", "edit by u2", ChangeEdit)
	var lockedErr *LockedError
	if !errors.As(err, &lockedErr) {
		t.Fatalf("expected LockedError, got %v", err)
	}
	if lockedErr.HeldBy != "u1" {
		t.Errorf("expected lock holder u1, got %s", lockedErr.HeldBy)
	}

	// The denied write must not have touched current text.
	snap, _ := s.Paragraph("doc-1", "p1")
	if snap.Current != "edit by u1" {
		t.Errorf("locked paragraph mutated: %q", snap.Current)
	}

	// A different paragraph is an independent lock domain.
	if _, err := s.Apply("doc-1", "p2", "u2", "other", "edit by u2", ChangeEdit); err != nil {
		t.Fatalf("apply to unlocked paragraph failed: %v", err)
	}
}

func TestReleaseLocksOnDisconnect(t *testing.T) {
	s := newTestStore(t)
	_ = s.Init("doc-1", "google_docs")
	_, _ = s.Apply("doc-1", "p1", "u1", "original", "edit", ChangeEdit)

	s.ReleaseLocks("doc-1", "u1")

	if _, err := s.Apply("doc-1", "p1", "u2", "original", "edit by u2", ChangeEdit); err != nil {
		t.Fatalf("expected lock released after disconnect: %v", err)
	}
}

func TestRestoreOriginalIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	_ = s.Init("doc-1", "google_docs")
	_, _ = s.Apply("doc-1", "p1", "u1", "Hello world", "Hello there", ChangeEdit)
	_, _ = s.Apply("doc-1", "p1", "u1", "", "Hello again", ChangeEdit)

	for i := 0; i < 2; i++ {
		if err := s.RestoreOriginal("doc-1", "p1"); err != nil {
			t.Fatalf("RestoreOriginal (%d) failed: %v", i, err)
		}
		snap, _ := s.Paragraph("doc-1", "p1")
		if snap.Current != "Hello world" {
			t.Errorf("expected original restored, got %q", snap.Current)
		}
		if len(snap.History) != 0 {
			t.Errorf("expected empty history, got %d entries", len(snap.History))
		}
		if snap.LockedBy != "" {
			t.Errorf("expected lock released, held by %q", snap.LockedBy)
		}
	}

	lifecycle, _ := s.Lifecycle("doc-1")
	if lifecycle != LifecycleDraft {
		t.Errorf("expected draft after restoring all paragraphs, got %s", lifecycle)
	}
}

func TestRestoreAllParagraphs(t *testing.T) {
	s := newTestStore(t)
	_ = s.Init("doc-1", "google_docs")
	_, _ = s.Apply("doc-1", "p1", "u1", "one", "one edited", ChangeEdit)
	_, _ = s.Apply("doc-1", "p2", "u2", "two", "two edited", ChangeEdit)

	if err := s.RestoreOriginal("doc-1", ""); err != nil {
		t.Fatalf("RestoreOriginal failed: %v", err)
	}
	for _, id := range []string{"p1", "p2"} {
		snap, _ := s.Paragraph("doc-1", id)
		if snap.Current != snap.Original || len(snap.History) != 0 {
			t.Errorf("paragraph %s not restored: %+v", id, snap)
		}
	}
}

func TestPartialRestoreKeepsReviewing(t *testing.T) {
	s := newTestStore(t)
	_ = s.Init("doc-1", "google_docs")
	_, _ = s.Apply("doc-1", "p1", "u1", "one", "one edited", ChangeEdit)
	_, _ = s.Apply("doc-1", "p2", "u1", "two", "two edited", ChangeEdit)

	_ = s.RestoreOriginal("doc-1", "p1")
	lifecycle, _ := s.Lifecycle("doc-1")
	if lifecycle != LifecycleReviewing {
		t.Errorf("expected reviewing while p2 still has history, got %s", lifecycle)
	}
}

func TestFinalizeBlocksEdits(t *testing.T) {
	s := newTestStore(t)
	_ = s.Init("doc-1", "google_docs")
	_, _ = s.Apply("doc-1", "p1", "u1", "Hello world", "Hello there", ChangeEdit)

	if err := s.Finalize("doc-1"); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if _, err := s.Apply("doc-1", "p1", "u1", "", "too late", ChangeEdit); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}

	// Appendix is a pure read and still reflects full history.
	appendix, err := s.Appendix("doc-1")
	if err != nil {
		t.Fatalf("Appendix failed: %v", err)
	}
	if !strings.Contains(appendix, "Hello there") {
		t.Errorf("appendix missing change: %s", appendix)
	}
}

func TestAppendixScenario(t *testing.T) {
	s := newTestStore(t)
	if err := s.Init("doc-1", "google_docs"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if _, err := s.Apply("doc-1", "p1", "u1", "Hello world", "Hello there", ChangeEdit); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	appendix, err := s.Appendix("doc-1")
	if err != nil {
		t.Fatalf("Appendix failed: %v", err)
	}
	if !strings.Contains(appendix, "Original: Hello world") {
		t.Errorf("appendix missing original: %s", appendix)
	}
	if !strings.Contains(appendix, "Changed to: Hello there (by user u1 at ") {
		t.Errorf("appendix missing attributed change: %s", appendix)
	}

	if err := s.RestoreOriginal("doc-1", "p1"); err != nil {
		t.Fatalf("RestoreOriginal failed: %v", err)
	}
	snap, _ := s.Paragraph("doc-1", "p1")
	if snap.Current != "Hello world" || len(snap.History) != 0 {
		t.Errorf("restore incomplete: %+v", snap)
	}

	// A restored paragraph no longer appears in the appendix.
	appendix, _ = s.Appendix("doc-1")
	if strings.Contains(appendix, "Paragraph p1") {
		t.Errorf("appendix should omit paragraphs with empty history: %s", appendix)
	}
}

func TestPreviewHTML(t *testing.T) {
	s := newTestStore(t)
	_ = s.Init("doc-1", "google_docs")
	_, _ = s.Apply("doc-1", "p1", "u1", "a < b", "a <= b", ChangeEdit)

	html, err := s.PreviewHTML("doc-1", "p1")
	if err != nil {
		t.Fatalf("PreviewHTML failed: %v", err)
	}
	if !strings.Contains(html, "<strike>a &lt; b</strike>") {
		t.Errorf("expected escaped struck original, got %s", html)
	}
	if !strings.Contains(html, "<highlight>a &lt;= b</highlight>") {
		t.Errorf("expected escaped highlighted current, got %s", html)
	}
}

func TestNeighborAndFind(t *testing.T) {
	s := newTestStore(t)
	_ = s.Init("doc-1", "google_docs")
	_, _ = s.Apply("doc-1", "p1", "u1", "first paragraph", "first paragraph", ChangeEdit)
	_, _ = s.Apply("doc-1", "p2", "u1", "second paragraph", "second paragraph", ChangeEdit)
	_, _ = s.Apply("doc-1", "p3", "u1", "Force Majeure clause", "Force Majeure clause", ChangeEdit)

	id, err := s.Neighbor("doc-1", "p1", 1)
	if err != nil || id != "p2" {
		t.Errorf("Neighbor(p1,+1) = %q, %v", id, err)
	}
	// Movement clamps at the document edges.
	id, err = s.Neighbor("doc-1", "p1", -5)
	if err != nil || id != "p1" {
		t.Errorf("Neighbor(p1,-5) = %q, %v", id, err)
	}
	id, err = s.Neighbor("doc-1", "p3", 4)
	if err != nil || id != "p3" {
		t.Errorf("Neighbor(p3,+4) = %q, %v", id, err)
	}

	id, found := s.Find("doc-1", "force majeure")
	if !found || id != "p3" {
		t.Errorf("Find(force majeure) = %q, %v", id, found)
	}
	if _, found := s.Find("doc-1", ""); found {
		t.Error("empty target must never match")
	}
	if _, found := s.Find("doc-1", "not present anywhere"); found {
		t.Error("expected no match")
	}
}

func TestConcurrentAppliesDifferentParagraphs(t *testing.T) {
	s := newTestStore(t)
	_ = s.Init("doc-1", "google_docs")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			for j := 0; j < 50; j++ {
				if _, err := s.Apply("doc-1", id, "user-"+id, "orig", "edit", ChangeEdit); err != nil {
					t.Errorf("concurrent apply failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		id := string(rune('a' + i))
		snap, err := s.Paragraph("doc-1", id)
		if err != nil {
			t.Fatalf("Paragraph %s failed: %v", id, err)
		}
		if len(snap.History) != 50 {
			t.Errorf("paragraph %s: expected 50 history entries, got %d", id, len(snap.History))
		}
	}
}
