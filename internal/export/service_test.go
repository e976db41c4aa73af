package export

import (
	"errors"
	"strings"
	"testing"
)

type fakeSource struct {
	appendixFn func(docID string) (string, error)
}

func (s *fakeSource) Appendix(docID string) (string, error) {
	return s.appendixFn(docID)
}

const sampleAppendix = "# Document Change History\n\n## Paragraph p1\n\nOriginal: Hello world\n\nChanged to: Hello there (by user u1 at 2024-12-03T10:00:00Z)\n"

func TestExportMarkdown(t *testing.T) {
	svc := NewService(&fakeSource{appendixFn: func(string) (string, error) {
		return sampleAppendix, nil
	}})

	for _, format := range []Format{FormatMarkdown, ""} {
		result, err := svc.Export("doc-1", format)
		if err != nil {
			t.Fatalf("Export(%q) failed: %v", format, err)
		}
		if string(result.Data) != sampleAppendix {
			t.Errorf("markdown export must be the appendix verbatim")
		}
		if result.ContentType != "text/markdown; charset=utf-8" {
			t.Errorf("unexpected content type %q", result.ContentType)
		}
		if result.Filename != "doc-1-appendix.md" {
			t.Errorf("unexpected filename %q", result.Filename)
		}
	}
}

func TestExportHTML(t *testing.T) {
	svc := NewService(&fakeSource{appendixFn: func(string) (string, error) {
		return sampleAppendix, nil
	}})

	result, err := svc.Export("doc-1", FormatHTML)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	html := string(result.Data)
	if !strings.Contains(html, "<h1>Document Change History</h1>") {
		t.Errorf("missing heading: %s", html)
	}
	if !strings.Contains(html, "Hello there") {
		t.Errorf("missing change text: %s", html)
	}
	if result.ContentType != "text/html; charset=utf-8" {
		t.Errorf("unexpected content type %q", result.ContentType)
	}
}

func TestExportUnknownFormat(t *testing.T) {
	svc := NewService(&fakeSource{appendixFn: func(string) (string, error) {
		return sampleAppendix, nil
	}})

	if _, err := svc.Export("doc-1", Format("pdf")); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestExportSourceFailure(t *testing.T) {
	wantErr := errors.New("document not found")
	svc := NewService(&fakeSource{appendixFn: func(string) (string, error) {
		return "", wantErr
	}})

	if _, err := svc.Export("ghost", FormatMarkdown); !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
}
