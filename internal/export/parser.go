package export

import (
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/brian-mwirigi/codesession/internal/session"
)

// JSONParser parses a JSON session export.
type JSONParser struct{}

func (p *JSONParser) Parse(r io.Reader) ([]session.Session, error) {
	var sessions []session.Session
	if err := json.NewDecoder(r).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("failed to parse JSON export: %w", err)
	}
	return sessions, nil
}

// CSVParser parses a CSV session export. Columns are located by header name.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader) ([]session.Session, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV export: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("failed to parse CSV export: missing header")
	}

	col := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		col[name] = i
	}
	for _, name := range csvHeader {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("failed to parse CSV export: missing column %q", name)
		}
	}

	sessions := make([]session.Session, 0, len(records)-1)
	for line, rec := range records[1:] {
		get := func(name string) string { return rec[col[name]] }
		text := func(name string) string { return unescapeCSVText(get(name)) }
		s := session.Session{
			Name:      text("name"),
			Status:    session.Status(get("status")),
			WorkDir:   text("working_dir"),
			RepoRoot:  text("repo_root"),
			GitBranch: text("git_branch"),
			GitHead:   get("git_head"),
			Notes:     text("notes"),
		}

		ints := []struct {
			name string
			dst  *int64
		}{
			{"id", &s.ID},
			{"duration_seconds", &s.Duration},
			{"files_changed", &s.FileCount},
			{"commits", &s.Commits},
			{"ai_tokens", &s.AITokens},
		}
		for _, f := range ints {
			v, err := strconv.ParseInt(get(f.name), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid %s: %w", line+2, f.name, err)
			}
			*f.dst = v
		}

		cost, err := strconv.ParseFloat(get("ai_cost"), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid ai_cost: %w", line+2, err)
		}
		s.AICost = session.RoundCost(cost)

		if s.StartTime, err = time.Parse(time.RFC3339Nano, get("start_time")); err != nil {
			return nil, fmt.Errorf("row %d: invalid start_time: %w", line+2, err)
		}
		if v := get("end_time"); v != "" {
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid end_time: %w", line+2, err)
			}
			s.EndTime = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// MarkdownParser parses a Markdown export by extracting the embedded base64
// JSON payload from the sentinel comments.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(r io.Reader) ([]session.Session, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	content := string(data)

	// Require the version sentinel.
	if !strings.Contains(content, mdVersionSentinel) {
		return nil, fmt.Errorf("not a valid codesession export: missing version sentinel")
	}

	start := strings.Index(content, mdDataPrefix)
	if start == -1 {
		return nil, fmt.Errorf("not a valid codesession export: missing data payload")
	}
	start += len(mdDataPrefix)
	end := strings.Index(content[start:], mdDataSuffix)
	if end == -1 {
		return nil, fmt.Errorf("not a valid codesession export: malformed data payload")
	}

	jsonBytes, err := base64.StdEncoding.DecodeString(content[start : start+end])
	if err != nil {
		return nil, fmt.Errorf("not a valid codesession export: corrupted base64 payload: %w", err)
	}

	var sessions []session.Session
	if err := json.Unmarshal(jsonBytes, &sessions); err != nil {
		return nil, fmt.Errorf("not a valid codesession export: failed to parse embedded JSON: %w", err)
	}
	return sessions, nil
}
