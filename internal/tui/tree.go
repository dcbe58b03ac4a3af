package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/lotas/tabtree/internal/tree"
	"github.com/lotas/tabtree/internal/types"
)

// Row is one rendered line of the tree.
type Row struct {
	Node        *tree.Node
	Tab         types.Tab
	State       tree.State
	Depth       int
	HasChildren bool
}

// RowsOf lists the nodes of w that are not hidden by a collapsed ancestor.
// With all set, hidden nodes are listed too.
func RowsOf(w *tree.Window, all bool) []Row {
	if w == nil {
		return nil
	}
	nodes := w.VisibleTabs()
	if all {
		nodes = w.Tabs()
	}
	rows := make([]Row, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, Row{
			Node:        n,
			Tab:         n.Tab(),
			State:       n.State(),
			Depth:       len(n.Ancestors()),
			HasChildren: len(n.Children()) > 0,
		})
	}
	return rows
}

// TreeModel manages the cursor and scrolling over the tree rows.
type TreeModel struct {
	Rows   []Row
	Query  string // fuzzy filter over title and URL
	Cursor int
	Offset int // scroll offset
	Width  int
	Height int
}

// VisibleRows returns the rows matching the filter.
func (m TreeModel) VisibleRows() []Row {
	q := strings.TrimSpace(m.Query)
	if q == "" {
		return m.Rows
	}
	labels := make([]string, len(m.Rows))
	for i, r := range m.Rows {
		labels[i] = r.Tab.Title + " " + r.Tab.URL
	}
	ranks := fuzzy.RankFindNormalizedFold(q, labels)
	keep := make(map[int]bool, len(ranks))
	for _, rank := range ranks {
		keep[rank.OriginalIndex] = true
	}
	var out []Row
	for i, r := range m.Rows {
		if keep[i] {
			out = append(out, r)
		}
	}
	return out
}

// SetRows replaces the rows and keeps the cursor on the same node if it is
// still listed.
func (m *TreeModel) SetRows(rows []Row) {
	var current *tree.Node
	if r := m.SelectedRow(); r != nil {
		current = r.Node
	}
	m.Rows = rows
	m.Select(current)
}

// Select moves the cursor to node, or clamps it when node is not listed.
func (m *TreeModel) Select(node *tree.Node) {
	visible := m.VisibleRows()
	for i, r := range visible {
		if node != nil && r.Node == node {
			m.Cursor = i
			m.scroll()
			return
		}
	}
	if m.Cursor >= len(visible) {
		m.Cursor = len(visible) - 1
	}
	if m.Cursor < 0 {
		m.Cursor = 0
	}
	m.scroll()
}

// SetQuery changes the filter and resets the cursor.
func (m *TreeModel) SetQuery(q string) {
	m.Query = q
	m.Cursor = 0
	m.Offset = 0
}

// SelectedRow returns the row under the cursor, or nil.
func (m TreeModel) SelectedRow() *Row {
	rows := m.VisibleRows()
	if m.Cursor >= 0 && m.Cursor < len(rows) {
		return &rows[m.Cursor]
	}
	return nil
}

// MoveUp moves the cursor up.
func (m *TreeModel) MoveUp() {
	if m.Cursor > 0 {
		m.Cursor--
	}
	m.scroll()
}

// MoveDown moves the cursor down.
func (m *TreeModel) MoveDown() {
	if m.Cursor < len(m.VisibleRows())-1 {
		m.Cursor++
	}
	m.scroll()
}

func (m *TreeModel) scroll() {
	visibleRows := max(m.Height-2, 1) // account for padding
	if m.Cursor < m.Offset {
		m.Offset = m.Cursor
	}
	if m.Cursor >= m.Offset+visibleRows {
		m.Offset = m.Cursor - visibleRows + 1
	}
}

var (
	cursorStyle  = lipgloss.NewStyle().Bold(true).Reverse(true)
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	unreadStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	soundStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	pinnedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("135"))
	loadingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
)

// RenderRow renders one row without cursor highlight, truncated to width.
func RenderRow(r Row, width int) string {
	indent := strings.Repeat("  ", r.Depth)
	icon := "  "
	if r.HasChildren {
		icon = "▼ "
		if r.State.Has(tree.StateSubtreeCollapsed) {
			icon = "▶ "
		}
	}

	var markers []string
	if r.State.Has(tree.StatePinned) {
		markers = append(markers, pinnedStyle.Render("⚲"))
	}
	switch {
	case r.State.Has(tree.StateSoundPlaying):
		markers = append(markers, soundStyle.Render("♪"))
	case r.State.Has(tree.StateHasSoundPlayingMember):
		markers = append(markers, soundStyle.Render("♫"))
	}
	if r.State.Has(tree.StateMuted) || r.State.Has(tree.StateHasMutedMember) {
		markers = append(markers, mutedStyle.Render("×"))
	}
	if r.State.Has(tree.StateUnread) {
		markers = append(markers, unreadStyle.Render("•"))
	}
	marker := ""
	if len(markers) > 0 {
		marker = strings.Join(markers, "") + " "
	}

	label := r.Tab.Title
	if label == "" {
		label = r.Tab.URL
	}
	room := max(width-lipgloss.Width(indent+icon+marker)-1, 10)
	if runes := []rune(label); len(runes) > room {
		label = string(runes[:room-1]) + "…"
	}
	switch {
	case r.State.Has(tree.StateActive):
		label = activeStyle.Render(label)
	case r.State.Has(tree.StateLoading):
		label = loadingStyle.Render(label)
	case r.State.Has(tree.StateDiscarded):
		label = mutedStyle.Render(label)
	}
	return indent + icon + marker + label
}

// View renders the tree.
func (m TreeModel) View() string {
	rows := m.VisibleRows()
	if len(rows) == 0 {
		if m.Query != "" {
			return "No tabs match."
		}
		return "No tabs."
	}

	visibleRows := m.Height
	if visibleRows < 1 {
		visibleRows = 20
	}
	end := min(m.Offset+visibleRows, len(rows))

	var b strings.Builder
	for i := m.Offset; i < end; i++ {
		line := RenderRow(rows[i], m.Width)
		if i == m.Cursor {
			if pad := m.Width - lipgloss.Width(line); pad > 0 {
				line += strings.Repeat(" ", pad)
			}
			line = cursorStyle.Render(line)
		}
		b.WriteString(line)
		if i < end-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}
