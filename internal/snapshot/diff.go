package snapshot

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/lotas/tabtree/internal/storage"
)

// DiffEntry represents a single tab in a diff result.
type DiffEntry struct {
	URL    string
	Title  string
	Parent string // URL of the parent tab, or empty for a root
	// OldParent is set for reparented tabs.
	OldParent string
}

// DiffResult holds the result of comparing two trees.
type DiffResult struct {
	RevFrom    int
	RevTo      int
	Added      []DiffEntry // in the newer tree only
	Removed    []DiffEntry // in the older tree only
	Reparented []DiffEntry // in both, under a different parent
}

// Empty reports whether the trees hold the same tabs under the same parents.
func (d *DiffResult) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Reparented) == 0
}

// nodeKey identifies a tab across snapshots: its durable id, or its URL for
// tabs saved without one.
func nodeKey(n storage.SnapshotNode) string {
	if n.UniqueID != "" {
		return n.UniqueID
	}
	return "url:" + n.URL
}

type indexed struct {
	node   storage.SnapshotNode
	parent string // key of the parent
	pURL   string
}

func index(nodes []storage.SnapshotNode) (map[string]indexed, []string) {
	m := make(map[string]indexed, len(nodes))
	order := make([]string, 0, len(nodes))
	for i, n := range nodes {
		e := indexed{node: n}
		if n.Parent >= 0 && n.Parent < i {
			e.parent = nodeKey(nodes[n.Parent])
			e.pURL = nodes[n.Parent].URL
		}
		k := nodeKey(n)
		if _, dup := m[k]; dup {
			continue
		}
		m[k] = e
		order = append(order, k)
	}
	return m, order
}

// Diff compares an older tree against a newer one. Tabs are matched by
// durable id, falling back to URL. Entries are listed in tree order.
func Diff(from, to []storage.SnapshotNode) *DiffResult {
	old, oldOrder := index(from)
	cur, curOrder := index(to)

	result := &DiffResult{}
	for _, k := range curOrder {
		e := cur[k]
		prev, ok := old[k]
		switch {
		case !ok:
			result.Added = append(result.Added, DiffEntry{URL: e.node.URL, Title: e.node.Title, Parent: e.pURL})
		case prev.parent != e.parent:
			result.Reparented = append(result.Reparented, DiffEntry{
				URL:       e.node.URL,
				Title:     e.node.Title,
				Parent:    e.pURL,
				OldParent: prev.pURL,
			})
		}
	}
	for _, k := range oldOrder {
		if _, ok := cur[k]; !ok {
			e := old[k]
			result.Removed = append(result.Removed, DiffEntry{URL: e.node.URL, Title: e.node.Title, Parent: e.pURL})
		}
	}
	return result
}

// DiffRevs compares two stored snapshots of profile. A zero revTo means
// the latest snapshot.
func DiffRevs(db *sql.DB, profile string, revFrom, revTo int) (*DiffResult, error) {
	from, err := storage.GetSnapshot(db, profile, revFrom)
	if err != nil {
		return nil, err
	}
	var to *storage.SnapshotFull
	if revTo == 0 {
		to, err = storage.GetLatestSnapshot(db, profile)
	} else {
		to, err = storage.GetSnapshot(db, profile, revTo)
	}
	if err != nil {
		return nil, err
	}
	if to == nil {
		return nil, fmt.Errorf("no snapshots for profile %q", profile)
	}
	d := Diff(from.Nodes, to.Nodes)
	d.RevFrom, d.RevTo = from.Rev, to.Rev
	return d, nil
}

// FormatDiff returns a human-readable string representation of a DiffResult.
func FormatDiff(d *DiffResult) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Diff #%d → #%d\n", d.RevFrom, d.RevTo)
	fmt.Fprintf(&sb, "Added: %d  Removed: %d  Reparented: %d\n", len(d.Added), len(d.Removed), len(d.Reparented))

	under := func(parent string) string {
		if parent == "" {
			return ""
		}
		return " [under " + parent + "]"
	}

	if len(d.Added) > 0 {
		sb.WriteString("\n+ Added:\n")
		for _, e := range d.Added {
			fmt.Fprintf(&sb, "  + %s%s\n", e.URL, under(e.Parent))
		}
	}
	if len(d.Removed) > 0 {
		sb.WriteString("\n- Removed:\n")
		for _, e := range d.Removed {
			fmt.Fprintf(&sb, "  - %s%s\n", e.URL, under(e.Parent))
		}
	}
	if len(d.Reparented) > 0 {
		sb.WriteString("\n~ Reparented:\n")
		for _, e := range d.Reparented {
			from, to := e.OldParent, e.Parent
			if from == "" {
				from = "(root)"
			}
			if to == "" {
				to = "(root)"
			}
			fmt.Fprintf(&sb, "  ~ %s: %s → %s\n", e.URL, from, to)
		}
	}

	if d.Empty() {
		sb.WriteString("\nNo changes.\n")
	}
	return sb.String()
}
