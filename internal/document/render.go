package document

import (
	"fmt"
	"html"
	"strings"
	"time"
)

// Appendix renders a deterministic markdown change history: every paragraph
// with non-empty history, in document order, with its original text and each
// change in chronological order. Pure read; never mutates.
func (s *Store) Appendix(docID string) (string, error) {
	d, err := s.get(docID)
	if err != nil {
		return "", err
	}

	d.mu.RLock()
	order := make([]string, len(d.order))
	copy(order, d.order)
	paragraphs := make(map[string]*paragraph, len(d.paragraphs))
	for id, p := range d.paragraphs {
		paragraphs[id] = p
	}
	d.mu.RUnlock()

	var b strings.Builder
	b.WriteString("# Document Change History\n")
	for _, id := range order {
		p := paragraphs[id]
		p.mu.Lock()
		if len(p.history) == 0 {
			p.mu.Unlock()
			continue
		}
		fmt.Fprintf(&b, "\n## Paragraph %s\n", id)
		fmt.Fprintf(&b, "Original: %s\n", p.original)
		for _, change := range p.history {
			fmt.Fprintf(&b, "Changed to: %s (by user %s at %s)\n",
				change.Text, change.UserID, change.At.UTC().Format(time.RFC3339))
		}
		p.mu.Unlock()
	}
	return b.String(), nil
}

// PreviewHTML returns the redline rendering of one paragraph: struck-out
// original above the highlighted current text. Read-only; locks never block
// it.
func (s *Store) PreviewHTML(docID, paragraphID string) (string, error) {
	snap, err := s.Paragraph(docID, paragraphID)
	if err != nil {
		return "", err
	}
	return renderParagraphHTML(paragraphID, snap.Original, snap.Current), nil
}

func renderParagraphHTML(paragraphID, original, current string) string {
	return fmt.Sprintf(
		`<div class="paragraph" id="%s"><div class="original"><strike>%s</strike></div><div class="current"><highlight>%s</highlight></div></div>`,
		html.EscapeString(paragraphID),
		html.EscapeString(original),
		html.EscapeString(current),
	)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
