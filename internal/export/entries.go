// Package export renders a tab tree as JSON or as a Markdown outline.
package export

import (
	"context"

	"github.com/lotas/tabtree/internal/storage"
	"github.com/lotas/tabtree/internal/tree"
)

// Entry is one tab of a tree in flat order. Parent is the position of the
// parent entry, or -1 for a root.
type Entry struct {
	Position  int
	Parent    int
	Depth     int
	UniqueID  string
	URL       string
	Title     string
	States    []string
	Pinned    bool
	Collapsed bool
}

// FromWindow lists the nodes of w. Identities still resolving when ctx is
// done are left empty.
func FromWindow(ctx context.Context, w *tree.Window) []Entry {
	nodes := w.Tabs()
	pos := make(map[*tree.Node]int, len(nodes))
	for i, n := range nodes {
		pos[n] = i
	}

	out := make([]Entry, 0, len(nodes))
	for i, n := range nodes {
		tab := n.Tab()
		state := n.State()
		e := Entry{
			Position:  i,
			Parent:    -1,
			Depth:     len(n.Ancestors()),
			URL:       tab.URL,
			Title:     tab.Title,
			States:    state.Names(),
			Pinned:    tab.Pinned,
			Collapsed: state.Has(tree.StateSubtreeCollapsed),
		}
		if p := n.Parent(); p != nil {
			if at, ok := pos[p]; ok {
				e.Parent = at
			}
		}
		if id, err := n.UniqueID(ctx); err == nil {
			e.UniqueID = id.ID
		}
		out = append(out, e)
	}
	return out
}

// FromSnapshot lists the nodes of a saved tree.
func FromSnapshot(nodes []storage.SnapshotNode) []Entry {
	out := make([]Entry, 0, len(nodes))
	for i, n := range nodes {
		e := Entry{
			Position:  i,
			Parent:    n.Parent,
			UniqueID:  n.UniqueID,
			URL:       n.URL,
			Title:     n.Title,
			Pinned:    n.Pinned,
			Collapsed: n.Collapsed,
		}
		if n.Parent >= 0 && n.Parent < i {
			e.Depth = out[n.Parent].Depth + 1
		} else {
			e.Parent = -1
		}
		out = append(out, e)
	}
	return out
}

// Snapshot converts entries for storage.
func Snapshot(entries []Entry) []storage.SnapshotNode {
	out := make([]storage.SnapshotNode, len(entries))
	for i, e := range entries {
		out[i] = storage.SnapshotNode{
			Position:  i,
			Parent:    e.Parent,
			UniqueID:  e.UniqueID,
			URL:       e.URL,
			Title:     e.Title,
			Pinned:    e.Pinned,
			Collapsed: e.Collapsed,
		}
	}
	return out
}
