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

// csvHeader is the column order of the CSV export.
var csvHeader = []string{
	"id", "name", "status", "start_time", "end_time", "duration_seconds",
	"working_dir", "repo_root", "git_branch", "git_head",
	"files_changed", "commits", "ai_tokens", "ai_cost", "notes",
}

// JSONRenderer renders sessions as an indented JSON array.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(w io.Writer, sessions []session.Session) error {
	if sessions == nil {
		sessions = []session.Session{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sessions)
}

// CSVRenderer renders one row per session. Free-text fields are quoted when
// they contain quotes or line breaks. Carriage returns are written as the
// two characters \r (and backslashes doubled) because encoding/csv folds a
// quoted CRLF into LF on read.
type CSVRenderer struct{}

var (
	csvEscaper   = strings.NewReplacer(`\`, `\\`, "\r", `\r`)
	csvUnescaper = strings.NewReplacer(`\\`, `\`, `\r`, "\r")
)

// escapeCSVText makes free text survive a CSV round trip.
func escapeCSVText(s string) string { return csvEscaper.Replace(s) }

func unescapeCSVText(s string) string { return csvUnescaper.Replace(s) }

func (r *CSVRenderer) Render(w io.Writer, sessions []session.Session) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, s := range sessions {
		end := ""
		if s.EndTime != nil {
			end = s.EndTime.UTC().Format(time.RFC3339Nano)
		}
		record := []string{
			strconv.FormatInt(s.ID, 10),
			escapeCSVText(s.Name),
			string(s.Status),
			s.StartTime.UTC().Format(time.RFC3339Nano),
			end,
			strconv.FormatInt(s.Duration, 10),
			escapeCSVText(s.WorkDir),
			escapeCSVText(s.RepoRoot),
			escapeCSVText(s.GitBranch),
			s.GitHead,
			strconv.FormatInt(s.FileCount, 10),
			strconv.FormatInt(s.Commits, 10),
			strconv.FormatInt(s.AITokens, 10),
			strconv.FormatFloat(session.RoundCost(s.AICost), 'f', -1, 64),
			escapeCSVText(s.Notes),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row for session %d: %w", s.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarkdownRenderer renders a human-readable report with an embedded base64
// JSON payload for lossless round-trip parsing.
type MarkdownRenderer struct{}

const (
	mdVersionSentinel = "<!-- codesession-export-version: 1 -->"
	mdDataPrefix      = "<!-- codesession-data: "
	mdDataSuffix      = " -->"
)

func (r *MarkdownRenderer) Render(w io.Writer, sessions []session.Session) error {
	// Marshal sessions to JSON and base64-encode them for the embedded payload.
	jsonBytes, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(jsonBytes)

	var sb strings.Builder
	sb.WriteString(mdVersionSentinel + "\n")
	fmt.Fprintf(&sb, "%s%s%s\n\n", mdDataPrefix, encoded, mdDataSuffix)

	sb.WriteString("# codesession export\n\n")

	var (
		totalCost   float64
		totalTokens int64
		totalDur    int64
	)
	for _, s := range sessions {
		totalCost += s.AICost
		totalTokens += s.AITokens
		totalDur += s.Duration
	}
	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(&sb, "- Sessions: %d\n", len(sessions))
	fmt.Fprintf(&sb, "- Time tracked: %s\n", (time.Duration(totalDur) * time.Second).String())
	fmt.Fprintf(&sb, "- AI tokens: %d\n", totalTokens)
	fmt.Fprintf(&sb, "- AI cost: $%.4f\n\n", session.RoundCost(totalCost))

	sb.WriteString("## Sessions\n\n")
	if len(sessions) == 0 {
		sb.WriteString("_No sessions recorded._\n")
		_, err := io.WriteString(w, sb.String())
		return err
	}
	sb.WriteString("| ID | Name | Status | Started | Duration | Files | Commits | Tokens | Cost |\n")
	sb.WriteString("|----|------|--------|---------|----------|-------|---------|--------|------|\n")
	for _, s := range sessions {
		fmt.Fprintf(&sb, "| %d | %s | %s | %s | %s | %d | %d | %d | $%.4f |\n",
			s.ID,
			mdCell(s.Name),
			s.Status,
			s.StartTime.Local().Format("2006-01-02 15:04"),
			(time.Duration(s.Duration) * time.Second).String(),
			s.FileCount,
			s.Commits,
			s.AITokens,
			s.AICost,
		)
	}

	var withNotes []session.Session
	for _, s := range sessions {
		if s.Notes != "" {
			withNotes = append(withNotes, s)
		}
	}
	if len(withNotes) > 0 {
		sb.WriteString("\n## Notes\n\n")
		for _, s := range withNotes {
			fmt.Fprintf(&sb, "### %d. %s\n\n%s\n\n", s.ID, s.Name, s.Notes)
		}
	}

	_, err = io.WriteString(w, sb.String())
	return err
}

// mdCell keeps a value on one table row.
func mdCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
