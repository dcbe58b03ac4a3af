package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/tabtree/internal/types"
)

// DetailModel shows information about the selected tab.
type DetailModel struct {
	Width  int
	Height int
}

func (m DetailModel) wrap(s string) []string {
	width := max(m.Width-2, 10)
	var lines []string
	runes := []rune(s)
	for len(runes) > width {
		lines = append(lines, string(runes[:width]))
		runes = runes[width:]
	}
	return append(lines, string(runes))
}

// ViewRow renders the row's tab, its tree position and its durable
// identity. An identity still resolving is shown as pending.
func (m DetailModel) ViewRow(r *Row, uid *types.UniqueID) string {
	if r == nil {
		return ""
	}

	labelStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	warnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)

	var b strings.Builder
	section := func(label string, lines ...string) {
		b.WriteString(labelStyle.Render(label) + "\n")
		for _, l := range lines {
			b.WriteString(l + "\n")
		}
		b.WriteString("\n")
	}

	title := r.Tab.Title
	if title == "" {
		title = "(untitled)"
	}
	section("Title", m.wrap(title)...)
	section("URL", m.wrap(r.Tab.URL)...)
	section("Tab", fmt.Sprintf("%s · tab %d · window %d · index %d", r.Node.ID(), r.Tab.ID, r.Tab.WindowID, r.Tab.Index))

	var tree []string
	if p := r.Node.Parent(); p != nil {
		tree = append(tree, "parent "+p.ID())
	} else {
		tree = append(tree, "root")
	}
	if n := len(r.Node.Children()); n > 0 {
		tree = append(tree, fmt.Sprintf("%d children, %d descendants", n, len(r.Node.Descendants())))
	}
	section("Tree", tree...)

	if uid == nil {
		section("Identity", "resolving…")
	} else if uid.ID != "" {
		lines := m.wrap(uid.ID)
		switch {
		case uid.Duplicated:
			lines = append(lines, warnStyle.Render(fmt.Sprintf("duplicate of %s (tab %d)", uid.OriginalID, uid.OriginalTabID)))
		case uid.Restored:
			lines = append(lines, fmt.Sprintf("restored from tab %d", uid.OriginalTabID))
		}
		section("Identity", lines...)
	}

	if names := r.State.Names(); len(names) > 0 {
		section("State", m.wrap(strings.Join(names, " "))...)
	}
	return strings.TrimRight(b.String(), "\n")
}
