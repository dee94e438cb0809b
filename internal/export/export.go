// Package export renders session lists as JSON, CSV, or a Markdown report,
// and parses them back.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/brian-mwirigi/codesession/internal/session"
)

// Format names an export encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

// Renderer serializes a list of sessions.
type Renderer interface {
	Render(w io.Writer, sessions []session.Session) error
}

// Parser deserializes an export back into sessions.
type Parser interface {
	Parse(r io.Reader) ([]session.Session, error)
}

// ParseFormat normalises a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	}
	return "", session.InvalidInput("unsupported export format %q (want json, csv or markdown)", s)
}

// RendererFor returns the renderer for f.
func RendererFor(f Format) (Renderer, error) {
	switch f {
	case FormatJSON:
		return &JSONRenderer{}, nil
	case FormatCSV:
		return &CSVRenderer{}, nil
	case FormatMarkdown:
		return &MarkdownRenderer{}, nil
	}
	return nil, fmt.Errorf("no renderer for format %q", f)
}

// ParserFor returns the parser for f.
func ParserFor(f Format) (Parser, error) {
	switch f {
	case FormatJSON:
		return &JSONParser{}, nil
	case FormatCSV:
		return &CSVParser{}, nil
	case FormatMarkdown:
		return &MarkdownParser{}, nil
	}
	return nil, fmt.Errorf("no parser for format %q", f)
}

// ContentType returns the MIME type served for f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	}
	return "application/json"
}

// Ext returns the file extension for f, including the dot.
func (f Format) Ext() string {
	switch f {
	case FormatCSV:
		return ".csv"
	case FormatMarkdown:
		return ".md"
	}
	return ".json"
}
