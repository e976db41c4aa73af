// Package export renders the change-history appendix for download, either
// as raw markdown or as HTML.
package export

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
)

// Format is the export output format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// Source produces the appendix markdown for a document.
type Source interface {
	Appendix(docID string) (string, error)
}

// Result is the export output.
type Result struct {
	Data        []byte
	ContentType string
	Filename    string
}

type Service struct {
	source Source
}

func NewService(source Source) *Service {
	return &Service{source: source}
}

// Export renders the appendix for docID in the requested format.
func (s *Service) Export(docID string, format Format) (*Result, error) {
	md, err := s.source.Appendix(docID)
	if err != nil {
		return nil, fmt.Errorf("build appendix: %w", err)
	}

	switch format {
	case FormatMarkdown, "":
		return &Result{
			Data:        []byte(md),
			ContentType: "text/markdown; charset=utf-8",
			Filename:    docID + "-appendix.md",
		}, nil
	case FormatHTML:
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(md), &buf); err != nil {
			return nil, fmt.Errorf("render appendix html: %w", err)
		}
		return &Result{
			Data:        buf.Bytes(),
			ContentType: "text/html; charset=utf-8",
			Filename:    docID + "-appendix.html",
		}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}
