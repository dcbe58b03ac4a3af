// Package snapshot saves, compares and reopens window trees stored in the
// database.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lotas/tabtree/internal/applog"
	"github.com/lotas/tabtree/internal/storage"
	"github.com/lotas/tabtree/internal/tree"
)

// Create persists nodes as a new snapshot of profile. It first checks the
// latest snapshot for the profile and skips saving when it holds the same
// tabs under the same parents. Returns the rev number, whether a new
// snapshot was created, the diff against the previous snapshot (nil if
// first), and error.
func Create(db *sql.DB, profile string, windowID int, nodes []storage.SnapshotNode, label string) (rev int, created bool, diff *DiffResult, err error) {
	latest, err := storage.GetLatestSnapshot(db, profile)
	if err != nil {
		return 0, false, nil, fmt.Errorf("get latest snapshot: %w", err)
	}

	if latest != nil {
		diff = Diff(latest.Nodes, nodes)
		diff.RevFrom = latest.Rev
		if diff.Empty() && len(latest.Nodes) == len(nodes) {
			applog.Info("snapshot.skipped", "profile", profile, "rev", latest.Rev)
			return latest.Rev, false, nil, nil
		}
	}

	newRev, err := storage.CreateSnapshot(db, profile, windowID, nodes, label)
	if err != nil {
		return 0, false, nil, err
	}
	applog.Info("snapshot.created", "rev", newRev, "tabs", len(nodes), "profile", profile)
	if diff != nil {
		diff.RevTo = newRev
	}
	return newRev, true, diff, nil
}

// Restore reopens the tabs of snap in window windowID through reg, rebuilding
// parent links and collapsed subtrees. Tabs open in the background. It
// returns how many tabs were opened; on error the tabs opened so far stay.
func Restore(ctx context.Context, reg *tree.Registry, snap *storage.SnapshotFull, windowID int) (int, error) {
	applog.Info("snapshot.restore.start", "rev", snap.Rev, "profile", snap.Profile, "window", windowID)

	opened := make([]*tree.Node, len(snap.Nodes))
	var collapsed []*tree.Node
	for i, sn := range snap.Nodes {
		opts := tree.OpenOptions{WindowID: windowID, URL: sn.URL, Background: true}
		if sn.Parent >= 0 && sn.Parent < i {
			opts.Parent = opened[sn.Parent]
		}
		n, err := reg.OpenTab(ctx, opts)
		if err != nil {
			return i, fmt.Errorf("restore %s: %w", sn.URL, err)
		}
		opened[i] = n
		if sn.Collapsed {
			collapsed = append(collapsed, n)
		}
	}
	for _, n := range collapsed {
		reg.Collapse(n)
	}

	applog.Info("snapshot.restore.done", "rev", snap.Rev, "tabs", len(opened))
	return len(opened), nil
}
