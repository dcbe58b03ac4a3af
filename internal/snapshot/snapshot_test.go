package snapshot

import (
	"context"
	"database/sql"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/lotas/tabtree/internal/browser/browsertest"
	"github.com/lotas/tabtree/internal/storage"
	"github.com/lotas/tabtree/internal/tree"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	db, err := storage.OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// sampleTree is p > (c > g), q with c collapsed.
func sampleTree() []storage.SnapshotNode {
	return []storage.SnapshotNode{
		{Parent: -1, UniqueID: "tab-p", URL: "https://p.example", Title: "P"},
		{Parent: 0, UniqueID: "tab-c", URL: "https://c.example", Title: "C", Collapsed: true},
		{Parent: 1, UniqueID: "tab-g", URL: "https://g.example", Title: "G"},
		{Parent: -1, UniqueID: "tab-q", URL: "https://q.example", Title: "Q"},
	}
}

func TestCreateFirstSnapshot(t *testing.T) {
	db := testDB(t)

	rev, created, diff, err := Create(db, "default", 1, sampleTree(), "first")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !created || rev != 1 {
		t.Errorf("rev=%d created=%v, want rev 1 created", rev, created)
	}
	if diff != nil {
		t.Errorf("expected no diff for the first snapshot, got %+v", diff)
	}

	snap, err := storage.GetSnapshot(db, "default", 1)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snap.Name != "first" || len(snap.Nodes) != 4 {
		t.Errorf("snapshot = %+v", snap.SnapshotSummary)
	}
}

func TestCreateSkipsUnchanged(t *testing.T) {
	db := testDB(t)

	if _, _, _, err := Create(db, "default", 1, sampleTree(), ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	rev, created, _, err := Create(db, "default", 1, sampleTree(), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created || rev != 1 {
		t.Errorf("rev=%d created=%v, want the existing rev 1", rev, created)
	}

	// Moving g to the root level is a change.
	nodes := sampleTree()
	nodes[2].Parent = -1
	rev, created, diff, err := Create(db, "default", 1, nodes, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !created || rev != 2 {
		t.Errorf("rev=%d created=%v, want rev 2 created", rev, created)
	}
	if diff == nil || diff.RevFrom != 1 || diff.RevTo != 2 || len(diff.Reparented) != 1 {
		t.Fatalf("diff = %+v", diff)
	}
	if e := diff.Reparented[0]; e.URL != "https://g.example" || e.OldParent != "https://c.example" || e.Parent != "" {
		t.Errorf("reparented = %+v", e)
	}
}

func TestDiff(t *testing.T) {
	from := sampleTree()
	to := []storage.SnapshotNode{
		{Parent: -1, UniqueID: "tab-p", URL: "https://p.example", Title: "P"},
		{Parent: 0, UniqueID: "tab-g", URL: "https://g.example", Title: "G"},
		{Parent: -1, UniqueID: "tab-q", URL: "https://q.example/moved", Title: "Q"},
		{Parent: 2, URL: "https://new.example", Title: "New"},
	}

	d := Diff(from, to)
	if len(d.Added) != 1 || d.Added[0].URL != "https://new.example" || d.Added[0].Parent != "https://q.example/moved" {
		t.Errorf("added = %+v", d.Added)
	}
	if len(d.Removed) != 1 || d.Removed[0].URL != "https://c.example" {
		t.Errorf("removed = %+v", d.Removed)
	}
	if len(d.Reparented) != 1 || d.Reparented[0].URL != "https://g.example" || d.Reparented[0].Parent != "https://p.example" {
		t.Errorf("reparented = %+v", d.Reparented)
	}
	if d.Empty() {
		t.Error("expected a non-empty diff")
	}
}

func TestDiffMatchesByURLWithoutIDs(t *testing.T) {
	from := []storage.SnapshotNode{{Parent: -1, URL: "a"}, {Parent: -1, URL: "b"}}
	to := []storage.SnapshotNode{{Parent: -1, URL: "b"}, {Parent: -1, URL: "a"}}
	if d := Diff(from, to); !d.Empty() {
		t.Errorf("expected an empty diff for reordered roots, got %+v", d)
	}
}

func TestDiffRevs(t *testing.T) {
	db := testDB(t)

	storage.CreateSnapshot(db, "default", 1, sampleTree()[:1], "")
	storage.CreateSnapshot(db, "default", 1, sampleTree(), "")

	d, err := DiffRevs(db, "default", 1, 0)
	if err != nil {
		t.Fatalf("DiffRevs: %v", err)
	}
	if d.RevFrom != 1 || d.RevTo != 2 {
		t.Errorf("revs = %d → %d, want 1 → 2", d.RevFrom, d.RevTo)
	}
	if len(d.Added) != 3 || len(d.Removed) != 0 {
		t.Errorf("added %d removed %d, want 3 and 0", len(d.Added), len(d.Removed))
	}

	if _, err := DiffRevs(db, "default", 7, 0); err == nil {
		t.Error("expected error for a missing rev")
	}
}

func TestFormatDiff(t *testing.T) {
	d := &DiffResult{
		RevFrom:    1,
		RevTo:      2,
		Added:      []DiffEntry{{URL: "https://new.example", Parent: "https://p.example"}},
		Removed:    []DiffEntry{{URL: "https://old.example"}},
		Reparented: []DiffEntry{{URL: "https://g.example", OldParent: "https://c.example"}},
	}
	out := FormatDiff(d)
	for _, want := range []string{
		"Diff #1 → #2",
		"Added: 1  Removed: 1  Reparented: 1",
		"+ https://new.example [under https://p.example]",
		"- https://old.example\n",
		"~ https://g.example: https://c.example → (root)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatDiff() missing %q:\n%s", want, out)
		}
	}

	if out := FormatDiff(&DiffResult{}); !strings.Contains(out, "No changes.") {
		t.Errorf("empty diff = %q", out)
	}
}

func TestRestore(t *testing.T) {
	svc := browsertest.New()
	reg := tree.New(svc, tree.WithAnimationDelay(0))
	t.Cleanup(reg.Close)

	snap := &storage.SnapshotFull{
		SnapshotSummary: storage.SnapshotSummary{Rev: 3, Profile: "default"},
		Nodes:           sampleTree(),
	}
	n, err := Restore(context.Background(), reg, snap, 1)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	reg.Wait()
	if n != 4 {
		t.Errorf("opened %d tabs, want 4", n)
	}

	w := reg.Window(1)
	if w == nil {
		t.Fatal("window 1 was not created")
	}
	var got []string
	for _, node := range w.Tabs() {
		got = append(got, node.Tab().URL)
	}
	want := []string{"https://p.example", "https://c.example", "https://g.example", "https://q.example"}
	if !slices.Equal(got, want) {
		t.Errorf("local order = %v, want %v", got, want)
	}
	var browser []string
	for _, tab := range svc.Tabs(1) {
		browser = append(browser, tab.URL)
	}
	if !slices.Equal(browser, want) {
		t.Errorf("browser order = %v, want %v", browser, want)
	}

	tabs := w.Tabs()
	p, c, g, q := tabs[0], tabs[1], tabs[2], tabs[3]
	if c.Parent() != p || g.Parent() != c || q.Parent() != nil {
		t.Errorf("parents: c=%v g=%v q=%v", c.Parent(), g.Parent(), q.Parent())
	}
	if !c.State().Has(tree.StateSubtreeCollapsed) || !g.State().Has(tree.StateCollapsedByAncestor) {
		t.Error("collapsed subtree was not restored")
	}
}
