// Package tui renders a live tab tree in the terminal. It reads the tree
// from a tree.Registry and turns keys into registry commands; the tree
// itself changes only through registry events.
package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/tabtree/internal/applog"
	"github.com/lotas/tabtree/internal/tree"
	"github.com/lotas/tabtree/internal/types"
)

// commandTimeout bounds every browser call started from a key.
const commandTimeout = 10 * time.Second

// NewTabURL is opened by the open-child key.
const NewTabURL = "about:newtab"

// --- Messages ---

type treeChangedMsg struct{}

type opDoneMsg struct {
	op     string
	status string
	err    error
}

type identityMsg struct {
	node *tree.Node
	uid  types.UniqueID
}

// Options wire the model to its surroundings.
type Options struct {
	// Title names the source in the top bar.
	Title string
	// Live enables commands that reach the browser.
	Live bool
	// Connected reports the extension connection; nil means never.
	Connected func() bool
	// Save stores the window's tree and returns the snapshot rev. Nil
	// disables the save key.
	Save func(ctx context.Context, w *tree.Window) (int, error)
}

// --- Model ---

type Model struct {
	reg     *tree.Registry
	opts    Options
	window  int
	changes chan struct{}
	cancel  func()

	tree      TreeModel
	detail    DetailModel
	uids      map[*tree.Node]types.UniqueID
	filtering bool
	status    string
	width     int
	height    int
}

// NewModel subscribes to reg. The subscription ends when the model quits.
func NewModel(reg *tree.Registry, opts Options) Model {
	m := Model{
		reg:     reg,
		opts:    opts,
		changes: make(chan struct{}, 1),
		uids:    make(map[*tree.Node]types.UniqueID),
	}
	changes := m.changes
	m.cancel = reg.Subscribe(func(tree.Event) {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitForChange(m.changes),
		func() tea.Msg { return treeChangedMsg{} },
	)
}

// waitForChange coalesces registry events into one redraw.
func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return treeChangedMsg{}
	}
}

func (m *Model) currentWindow() *tree.Window {
	if w := m.reg.Window(m.window); w != nil {
		return w
	}
	ws := m.reg.Windows()
	if len(ws) == 0 {
		return nil
	}
	m.window = ws[0].ID()
	return ws[0]
}

func (m *Model) refresh() {
	m.tree.SetRows(RowsOf(m.currentWindow(), m.tree.Query != ""))
	for n := range m.uids {
		if n.Removed() {
			delete(m.uids, n)
		}
	}
}

func (m Model) identityCmd() tea.Cmd {
	r := m.tree.SelectedRow()
	if r == nil {
		return nil
	}
	if _, ok := m.uids[r.Node]; ok {
		return nil
	}
	node := r.Node
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		uid, err := node.UniqueID(ctx)
		if err != nil {
			return nil
		}
		return identityMsg{node: node, uid: uid}
	}
}

func (m Model) run(op string, fn func(ctx context.Context) (string, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		status, err := fn(ctx)
		if err != nil {
			applog.Error("tui."+op, err)
		}
		return opDoneMsg{op: op, status: status, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		treeWidth := m.width * TreeWidthPct / 100
		paneHeight := m.height - 5 // top bar + bottom bar + borders
		m.tree.Width = treeWidth
		m.tree.Height = paneHeight
		m.detail.Width = m.width - treeWidth - 4
		m.detail.Height = paneHeight
		return m, nil

	case treeChangedMsg:
		m.refresh()
		return m, tea.Batch(waitForChange(m.changes), m.identityCmd())

	case identityMsg:
		m.uids[msg.node] = msg.uid
		return m, nil

	case opDoneMsg:
		switch {
		case msg.err != nil:
			m.status = fmt.Sprintf("%s failed: %v", msg.op, msg.err)
		default:
			m.status = msg.status
		}
		return m, nil

	case tea.KeyMsg:
		if m.filtering {
			return m.updateFilter(msg)
		}
		return m.updateKey(msg)
	}
	return m, nil
}

func (m Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.filtering = false
		m.tree.SetQuery("")
	case tea.KeyEnter:
		m.filtering = false
	case tea.KeyBackspace:
		if r := []rune(m.tree.Query); len(r) > 0 {
			m.tree.SetQuery(string(r[:len(r)-1]))
		}
	case tea.KeyCtrlC:
		m.cancel()
		return m, tea.Quit
	case tea.KeyRunes, tea.KeySpace:
		m.tree.SetQuery(m.tree.Query + string(msg.Runes))
	}
	m.refresh()
	return m, m.identityCmd()
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q", "ctrl+c":
		m.cancel()
		return m, tea.Quit
	case "up", "k":
		m.tree.MoveUp()
		return m, m.identityCmd()
	case "down", "j":
		m.tree.MoveDown()
		return m, m.identityCmd()
	case "/":
		m.filtering = true
		return m, nil
	case "esc":
		m.tree.SetQuery("")
		m.refresh()
		return m, nil
	case "w":
		m.nextWindow()
		m.refresh()
		return m, m.identityCmd()
	case "s":
		if m.opts.Save == nil {
			return m, nil
		}
		w := m.currentWindow()
		if w == nil {
			return m, nil
		}
		return m, m.run("save", func(ctx context.Context) (string, error) {
			rev, err := m.opts.Save(ctx, w)
			return fmt.Sprintf("saved snapshot rev %d", rev), err
		})
	case "r":
		if !m.opts.Live {
			return m, nil
		}
		return m, m.run("refresh", func(ctx context.Context) (string, error) {
			return "refreshed", m.reg.Refresh(ctx)
		})
	}

	r := m.tree.SelectedRow()
	if r == nil {
		return m, nil
	}
	node := r.Node

	switch key {
	case " ":
		if node.State().Has(tree.StateSubtreeCollapsed) {
			m.reg.Expand(node)
		} else if len(node.Children()) > 0 {
			m.reg.Collapse(node)
		}
		return m, nil
	}

	if !m.opts.Live {
		switch key {
		case "enter", "x", "o", "tab", "shift+tab", "K", "J":
			m.status = "read-only: no browser connected"
		}
		return m, nil
	}

	switch key {
	case "enter":
		return m, m.run("focus", func(ctx context.Context) (string, error) {
			return "", m.reg.Focus(ctx, node, false)
		})
	case "x":
		return m, m.run("close", func(ctx context.Context) (string, error) {
			return "", m.reg.CloseTabs(ctx, []*tree.Node{node})
		})
	case "o":
		return m, m.run("open", func(ctx context.Context) (string, error) {
			_, err := m.reg.OpenTab(ctx, tree.OpenOptions{URL: NewTabURL, Parent: node, Background: true})
			return "", err
		})
	case "tab":
		m.report("indent", m.reg.Indent(node))
	case "shift+tab":
		m.report("outdent", m.reg.Outdent(node))
	case "K":
		m.report("move", m.reg.MoveUp(node))
	case "J":
		m.report("move", m.reg.MoveDown(node))
	}
	return m, nil
}

func (m *Model) report(op string, err error) {
	if err != nil {
		applog.Error("tui."+op, err)
		m.status = fmt.Sprintf("%s failed: %v", op, err)
		return
	}
	m.status = ""
}

func (m *Model) nextWindow() {
	ws := m.reg.Windows()
	for i, w := range ws {
		if w.ID() == m.window {
			m.window = ws[(i+1)%len(ws)].ID()
			return
		}
	}
	if len(ws) > 0 {
		m.window = ws[0].ID()
	}
}

func (m Model) View() string {
	ws := m.reg.Windows()
	ids := make([]int, len(ws))
	tabs := 0
	for i, w := range ws {
		ids[i] = w.ID()
		if w.ID() == m.window {
			tabs = w.Len()
		}
	}
	connected := m.opts.Connected != nil && m.opts.Connected()
	topBar := renderTopBar(m.opts.Title, ids, m.window, tabs, connected, m.width)

	treeBorder := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Width(m.tree.Width).
		Height(m.tree.Height)

	detailBorder := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.detail.Width).
		Height(m.detail.Height)

	var detailContent string
	if r := m.tree.SelectedRow(); r != nil {
		var uid *types.UniqueID
		if id, ok := m.uids[r.Node]; ok {
			uid = &id
		}
		detailContent = m.detail.ViewRow(r, uid)
	}
	panes := lipgloss.JoinHorizontal(lipgloss.Top,
		treeBorder.Render(m.tree.View()),
		detailBorder.Render(detailContent),
	)

	bottomBarStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	var bottomText string
	switch {
	case m.filtering:
		bottomText = "/" + m.tree.Query + "▏ enter keep · esc clear"
	case m.status != "":
		bottomText = m.status
	default:
		bottomText = "↑↓/jk navigate · space collapse · / filter · w window"
		if m.opts.Live {
			bottomText += " · enter focus · tab/S-tab indent · K/J move · o open · x close · r refresh"
		}
		if m.opts.Save != nil {
			bottomText += " · s save"
		}
		bottomText += " · q quit"
		if m.tree.Query != "" {
			bottomText += "  [filter: " + m.tree.Query + "]"
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, topBar, panes, bottomBarStyle.Render(bottomText))
}
