// Package tui provides a Bubble Tea TUI for browsing one session's detail.
package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brian-mwirigi/codesession/internal/session"
)

// ── Styles ────────────

var (
	// Title bar at the very top
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	kindNoteStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	kindFileStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	kindCommitStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	kindAIStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

	// Diff rendering
	diffAddStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	diffDelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	diffMetaStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))

	// Selected row in the Commits list
	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("237"))
)

// ── Tab definitions ─────────────────

type tabID int

const (
	tabSummary tabID = iota
	tabNotes
	tabFiles
	tabCommits
	tabAI
	tabTimeline
	tabCount
)

var tabNames = [tabCount]string{
	"Summary", "Notes", "Files", "Commits", "AI Usage", "Timeline",
}

// ── Timeline event ───────────────────

type eventKind string

const (
	kindNote   eventKind = "NOTE"
	kindFile   eventKind = "FILE"
	kindCommit eventKind = "COMMIT"
	kindAI     eventKind = "AI"
)

type timelineEvent struct {
	ts   time.Time
	kind eventKind
	text string
}

// DiffFunc loads a patch by key: a commit hash on the Commits tab, a file
// path on the Files tab. Nil disables diff expansion on that tab.
type DiffFunc func(ctx context.Context, key string) (string, error)

// diffLoadedMsg delivers a commit diff fetched in the background.
type diffLoadedMsg struct {
	index int
	diff  string
	err   error
}

// fileDiffLoadedMsg delivers the working-tree diff of one file.
type fileDiffLoadedMsg struct {
	path string
	diff string
	err  error
}

// ── Model ────────────────────

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	detail    *session.Detail
	loadDiff  DiffFunc
	activeTab tabID
	viewports [tabCount]viewport.Model
	width     int
	height    int
	ready     bool
	sortAsc   bool
	timeline  []timelineEvent
	now       func() time.Time

	// Commits tab: cursor, expanded rows and fetched diffs
	commitCursor int
	expanded     map[int]bool
	diffs        map[int]string
	diffErrs     map[int]error
	loading      map[int]bool

	// Files tab: same, keyed by path so repeated events share one diff
	loadFileDiff DiffFunc
	fileCursor   int
	fileExpanded map[string]bool
	fileDiffs    map[string]string
	fileDiffErrs map[string]error
	fileLoading  map[string]bool
}

// New creates a TUI model for d. loadDiff may be nil.
func New(d *session.Detail, loadDiff DiffFunc) Model {
	m := Model{
		detail:   d,
		loadDiff: loadDiff,
		now:      time.Now,
		expanded: make(map[int]bool),
		diffs:    make(map[int]string),
		diffErrs: make(map[int]error),
		loading:  make(map[int]bool),

		fileExpanded: make(map[string]bool),
		fileDiffs:    make(map[string]string),
		fileDiffErrs: make(map[string]error),
		fileLoading:  make(map[string]bool),
	}
	m.timeline = buildTimeline(d)
	return m
}

// WithFileDiff enables per-file diffs on the Files tab.
func (m Model) WithFileDiff(load DiffFunc) Model {
	m.loadFileDiff = load
	return m
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "l", "right":
			m.activeTab = (m.activeTab + 1) % tabCount
			return m, nil
		case "shift+tab", "h", "left":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
			return m, nil
		case "1", "2", "3", "4", "5", "6":
			m.activeTab = tabID(msg.String()[0] - '1')
			return m, nil
		case "s":
			if m.activeTab == tabTimeline {
				m.sortAsc = !m.sortAsc
				m.refresh(tabTimeline)
				m.viewports[tabTimeline].GotoTop()
			}
			return m, nil
		case "up", "k":
			if m.activeTab == tabCommits && m.commitCursor > 0 {
				m.commitCursor--
				m.refresh(tabCommits)
				return m, nil
			}
			if m.activeTab == tabFiles && m.loadFileDiff != nil && m.fileCursor > 0 {
				m.fileCursor--
				m.refresh(tabFiles)
				return m, nil
			}
		case "down", "j":
			if m.activeTab == tabCommits && m.commitCursor < len(m.detail.Commits)-1 {
				m.commitCursor++
				m.refresh(tabCommits)
				return m, nil
			}
			if m.activeTab == tabFiles && m.loadFileDiff != nil && m.fileCursor < len(m.detail.FileChanges)-1 {
				m.fileCursor++
				m.refresh(tabFiles)
				return m, nil
			}
		case "enter", " ":
			if m.activeTab == tabCommits && len(m.detail.Commits) > 0 {
				return m, m.toggleCommit(m.commitCursor)
			}
			if m.activeTab == tabFiles && len(m.detail.FileChanges) > 0 {
				return m, m.toggleFile(m.detail.FileChanges[m.fileCursor].Path)
			}
		}
		var cmd tea.Cmd
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd

	case diffLoadedMsg:
		delete(m.loading, msg.index)
		if msg.err != nil {
			m.diffErrs[msg.index] = msg.err
		} else {
			m.diffs[msg.index] = msg.diff
		}
		m.refresh(tabCommits)
		return m, nil

	case fileDiffLoadedMsg:
		delete(m.fileLoading, msg.path)
		if msg.err != nil {
			m.fileDiffErrs[msg.path] = msg.err
		} else {
			m.fileDiffs[msg.path] = msg.diff
		}
		m.refresh(tabFiles)
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.initViewports()
		return m, nil
	}
	return m, nil
}

// toggleCommit expands or collapses commit i, fetching its diff the first
// time it is opened.
func (m *Model) toggleCommit(i int) tea.Cmd {
	if m.loadDiff == nil {
		return nil
	}
	if m.expanded[i] {
		delete(m.expanded, i)
		m.refresh(tabCommits)
		return nil
	}
	m.expanded[i] = true
	_, have := m.diffs[i]
	if have || m.loading[i] {
		m.refresh(tabCommits)
		return nil
	}
	delete(m.diffErrs, i)
	m.loading[i] = true
	m.refresh(tabCommits)

	hash, load := m.detail.Commits[i].Hash, m.loadDiff
	return func() tea.Msg {
		diff, err := load(context.Background(), hash)
		return diffLoadedMsg{index: i, diff: diff, err: err}
	}
}

// toggleFile expands or collapses the diff for path, fetching it the first
// time the file is opened.
func (m *Model) toggleFile(path string) tea.Cmd {
	if m.loadFileDiff == nil {
		return nil
	}
	if m.fileExpanded[path] {
		delete(m.fileExpanded, path)
		m.refresh(tabFiles)
		return nil
	}
	m.fileExpanded[path] = true
	_, have := m.fileDiffs[path]
	if have || m.fileLoading[path] {
		m.refresh(tabFiles)
		return nil
	}
	delete(m.fileDiffErrs, path)
	m.fileLoading[path] = true
	m.refresh(tabFiles)

	load := m.loadFileDiff
	return func() tea.Msg {
		diff, err := load(context.Background(), path)
		return fileDiffLoadedMsg{path: path, diff: diff, err: err}
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	s := m.detail.Session
	title := titleStyle.Width(m.width).Render(fmt.Sprintf("  codesession  #%d %s", s.ID, s.Name))

	var tabParts []string
	for i := tabID(0); i < tabCount; i++ {
		label := fmt.Sprintf(" %d %s ", i+1, tabNames[i])
		if i == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
		if i < tabCount-1 {
			tabParts = append(tabParts, tabSepStyle.Render("│"))
		}
	}
	tabRow := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, tabParts...))

	content := m.viewports[m.activeTab].View()

	hint := "  ←/→ tab  ↑/↓ scroll  1-6 jump  q quit"
	if m.activeTab == tabTimeline {
		dir := "newest first"
		if m.sortAsc {
			dir = "oldest first"
		}
		hint += "  s sort (" + dir + ")"
	}
	if (m.activeTab == tabCommits && m.loadDiff != nil) || (m.activeTab == tabFiles && m.loadFileDiff != nil) {
		hint += "  ↑/↓ select  enter diff"
	}
	pct := fmt.Sprintf("%3.0f%%", m.viewports[m.activeTab].ScrollPercent()*100)
	pad := m.width - lipgloss.Width(hint) - len(pct) - 2
	if pad < 1 {
		pad = 1
	}
	statusBar := statusBarStyle.Width(m.width).Render(
		hint + strings.Repeat(" ", pad) + pct,
	)

	return lipgloss.JoinVertical(lipgloss.Left, title, tabRow, content, statusBar)
}

// ── Viewport management ───────────────────────────────────────────────────────

func (m *Model) initViewports() {
	// title(1) + tabRow(1) + statusBar(1) = 3 fixed rows
	vpHeight := m.height - 3
	if vpHeight < 1 {
		vpHeight = 1
	}
	for i := tabID(0); i < tabCount; i++ {
		vp := viewport.New(m.width, vpHeight)
		vp.SetContent(m.renderTab(i))
		m.viewports[i] = vp
	}
}

func (m *Model) refresh(t tabID) {
	if !m.ready {
		return
	}
	m.viewports[t].SetContent(m.renderTab(t))
}

// ── Tab renderers ─────────────────────────────────────────────────────────────

func (m *Model) renderTab(t tabID) string {
	switch t {
	case tabSummary:
		return m.renderSummary()
	case tabNotes:
		return m.renderNotes()
	case tabFiles:
		return m.renderFiles()
	case tabCommits:
		return m.renderCommits()
	case tabAI:
		return m.renderAI()
	case tabTimeline:
		return m.renderTimeline()
	}
	return ""
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func none() string {
	return dimStyle.Render("  (none)") + "\n"
}

func (m *Model) renderSummary() string {
	s := m.detail.Session
	var sb strings.Builder
	sb.WriteString(heading("Session Summary"))

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-14s", label)) + "  " + value + "\n")
	}
	row("Name:", s.Name)
	row("Status:", string(s.Status))
	row("Work Dir:", s.WorkDir)
	if s.RepoRoot != "" && s.RepoRoot != s.WorkDir {
		row("Repository:", s.RepoRoot)
	}
	if s.GitBranch != "" {
		row("Branch:", s.GitBranch)
	}
	if s.GitHead != "" {
		row("Start Commit:", ShortHash(s.GitHead))
	}
	row("Started:", s.StartTime.Local().Format("2006-01-02 15:04:05 MST"))
	if s.EndTime != nil {
		row("Ended:", s.EndTime.Local().Format("2006-01-02 15:04:05 MST"))
	}
	row("Duration:", FormatDuration(s.Elapsed(m.now())))

	sb.WriteString(heading("Counts"))
	row("Files:", fmt.Sprintf("%d", s.FileCount))
	row("Commits:", fmt.Sprintf("%d", s.Commits))
	row("AI Calls:", fmt.Sprintf("%d", len(m.detail.AIUsage)))
	row("AI Tokens:", fmt.Sprintf("%d", s.AITokens))
	row("AI Cost:", FormatCost(s.AICost))

	if s.Notes != "" {
		sb.WriteString(heading("End Notes"))
		sb.WriteString(indent(s.Notes, "  ") + "\n")
	}
	return sb.String()
}

func (m *Model) renderNotes() string {
	notes := m.detail.Notes
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Notes (%d)", len(notes))))
	if len(notes) == 0 {
		sb.WriteString(none())
		return sb.String()
	}
	for _, n := range notes {
		ts := timeStyle.Render(n.Timestamp.Local().Format("15:04:05"))
		sb.WriteString(fmt.Sprintf("  %s  %s\n\n", ts, n.Message))
	}
	return sb.String()
}

func (m *Model) renderFiles() string {
	changes := m.detail.FileChanges
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("File Changes (%d events, %d files)", len(changes), m.detail.Session.FileCount)))
	if len(changes) == 0 {
		sb.WriteString(none())
		return sb.String()
	}
	for i, fc := range changes {
		ts := timeStyle.Render(fc.Timestamp.Local().Format("15:04:05"))
		badge := kindFileStyle.Render(fmt.Sprintf("%-9s", fc.Kind))
		row := fmt.Sprintf("  %s  %s %s", ts, badge, stripWorkDir(fc.Path, m.detail.Session.WorkDir))
		if m.loadFileDiff == nil {
			sb.WriteString(row + "\n")
			continue
		}
		if i == m.fileCursor {
			row = selectedRowStyle.Width(m.width - 2).Render(row)
		}
		sb.WriteString(row + "\n")

		// only the selected event row shows the expanded diff
		if i != m.fileCursor || !m.fileExpanded[fc.Path] {
			continue
		}
		switch {
		case m.fileLoading[fc.Path]:
			sb.WriteString(dimStyle.Render("      loading diff…") + "\n")
		case m.fileDiffErrs[fc.Path] != nil:
			sb.WriteString(errStyle.Render("      "+m.fileDiffErrs[fc.Path].Error()) + "\n")
		case m.fileDiffs[fc.Path] == "":
			sb.WriteString(dimStyle.Render("      (no changes since session start)") + "\n")
		default:
			sb.WriteString(renderDiff(m.fileDiffs[fc.Path], m.width))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m *Model) renderCommits() string {
	commits := m.detail.Commits
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Commits (%d)", len(commits))))
	if len(commits) == 0 {
		sb.WriteString(none())
		return sb.String()
	}
	for i, c := range commits {
		ts := timeStyle.Render(c.Timestamp.Local().Format("15:04:05"))
		toggle := "    "
		if m.loadDiff != nil {
			toggle = dimStyle.Render("  ▶ ")
			if m.expanded[i] {
				toggle = dimStyle.Render("  ▼ ")
			}
		}
		row := fmt.Sprintf("%s%s  %s  %s", toggle, ts, kindCommitStyle.Render(ShortHash(c.Hash)), c.Message)
		if i == m.commitCursor {
			row = selectedRowStyle.Width(m.width - 2).Render(row)
		}
		sb.WriteString(row + "\n")

		if !m.expanded[i] {
			continue
		}
		switch {
		case m.loading[i]:
			sb.WriteString(dimStyle.Render("      loading diff…") + "\n")
		case m.diffErrs[i] != nil:
			sb.WriteString(errStyle.Render("      "+m.diffErrs[i].Error()) + "\n")
		case m.diffs[i] == "":
			sb.WriteString(dimStyle.Render("      (empty diff)") + "\n")
		default:
			sb.WriteString(renderDiff(m.diffs[i], m.width))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// renderDiff colorises a unified diff string.
func renderDiff(diff string, width int) string {
	var sb strings.Builder
	n := width - 4
	if n < 1 {
		n = 1
	}
	border := dimStyle.Render("  " + strings.Repeat("─", n))
	sb.WriteString(border + "\n")
	for _, line := range strings.Split(diff, "\n") {
		var rendered string
		switch {
		case strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---"):
			rendered = diffMetaStyle.Render("  " + line)
		case strings.HasPrefix(line, "+"):
			rendered = diffAddStyle.Render("  " + line)
		case strings.HasPrefix(line, "-"):
			rendered = diffDelStyle.Render("  " + line)
		case strings.HasPrefix(line, "@@"):
			rendered = diffMetaStyle.Render("  " + line)
		default:
			rendered = dimStyle.Render("  " + line)
		}
		sb.WriteString(rendered + "\n")
	}
	sb.WriteString(border + "\n")
	return sb.String()
}

func (m *Model) renderAI() string {
	usage := m.detail.AIUsage
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("AI Usage (%d calls, %s)", len(usage), FormatCost(m.detail.Session.AICost))))
	if len(usage) == 0 {
		sb.WriteString(none())
		return sb.String()
	}
	for _, u := range usage {
		ts := timeStyle.Render(u.Timestamp.Local().Format("15:04:05"))
		tokens := fmt.Sprintf("%d tok", u.Tokens)
		if u.PromptTokens != nil && u.CompletionTokens != nil {
			tokens = fmt.Sprintf("%d tok (%d in / %d out)", u.Tokens, *u.PromptTokens, *u.CompletionTokens)
		}
		sb.WriteString(fmt.Sprintf("  %s  %s  %-28s %s\n",
			ts, kindAIStyle.Render(fmt.Sprintf("%-10s", FormatCost(u.Cost))), u.Provider+"/"+u.Model, dimStyle.Render(tokens)))
	}
	return sb.String()
}

func (m *Model) renderTimeline() string {
	var sb strings.Builder

	dir := "newest first"
	if m.sortAsc {
		dir = "oldest first"
	}
	sb.WriteString(heading(fmt.Sprintf("Timeline (%s)", dir)))

	events := sortedTimeline(m.timeline, m.sortAsc)
	if len(events) == 0 {
		sb.WriteString(dimStyle.Render("  (no events in this session)") + "\n")
		return sb.String()
	}

	for _, ev := range events {
		ts := timeStyle.Render(ev.ts.Local().Format("15:04:05"))
		var style lipgloss.Style
		switch ev.kind {
		case kindNote:
			style = kindNoteStyle
		case kindFile:
			style = kindFileStyle
		case kindCommit:
			style = kindCommitStyle
		case kindAI:
			style = kindAIStyle
		}
		sb.WriteString(ts + style.Render(fmt.Sprintf("  %-8s", string(ev.kind))) + "  " + ev.text + "\n")
	}
	return sb.String()
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func buildTimeline(d *session.Detail) []timelineEvent {
	var events []timelineEvent
	for _, n := range d.Notes {
		events = append(events, timelineEvent{ts: n.Timestamp, kind: kindNote, text: n.Message})
	}
	for _, fc := range d.FileChanges {
		events = append(events, timelineEvent{ts: fc.Timestamp, kind: kindFile,
			text: string(fc.Kind) + " " + stripWorkDir(fc.Path, d.Session.WorkDir)})
	}
	for _, c := range d.Commits {
		events = append(events, timelineEvent{ts: c.Timestamp, kind: kindCommit, text: ShortHash(c.Hash) + " " + c.Message})
	}
	for _, u := range d.AIUsage {
		events = append(events, timelineEvent{ts: u.Timestamp, kind: kindAI,
			text: fmt.Sprintf("%s %s (%d tokens)", u.Model, FormatCost(u.Cost), u.Tokens)})
	}
	return events
}

func sortedTimeline(in []timelineEvent, asc bool) []timelineEvent {
	events := make([]timelineEvent, len(in))
	copy(events, in)
	if asc {
		sort.SliceStable(events, func(i, j int) bool { return events[i].ts.Before(events[j].ts) })
	} else {
		sort.SliceStable(events, func(i, j int) bool { return events[i].ts.After(events[j].ts) })
	}
	return events
}

// stripWorkDir removes the workDir prefix from path, returning a relative path.
// If path doesn't start with workDir, it's returned unchanged.
func stripWorkDir(path, workDir string) string {
	if workDir == "" {
		return path
	}
	prefix := workDir
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if strings.HasPrefix(path, prefix) {
		return path[len(prefix):]
	}
	return path
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}

// Run starts the TUI for d.
func Run(d *session.Detail, loadDiff, loadFileDiff DiffFunc) error {
	p := tea.NewProgram(New(d, loadDiff).WithFileDiff(loadFileDiff), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
