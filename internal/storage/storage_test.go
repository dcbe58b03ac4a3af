package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

// testDB creates a temporary database for testing.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// sampleTree is p > (c1 > g, c2), q.
func sampleTree() []SnapshotNode {
	return []SnapshotNode{
		{Parent: -1, UniqueID: "tab-a", URL: "https://p.example", Title: "P", Collapsed: true},
		{Parent: 0, UniqueID: "tab-b", URL: "https://c1.example", Title: "C1"},
		{Parent: 1, UniqueID: "tab-c", URL: "https://g.example", Title: "G"},
		{Parent: 0, UniqueID: "tab-d", URL: "https://c2.example", Title: "C2"},
		{Parent: -1, UniqueID: "tab-e", URL: "https://q.example", Title: "Q", Pinned: true},
	}
}

func TestOpenDB(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sub", "dir", "tabtree.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database file not found: %v", err)
	}

	_, err = db.Exec(`INSERT INTO snapshots (rev, profile, tab_count) VALUES (1, 'default', 5)`)
	if err != nil {
		t.Fatalf("insert into snapshots: %v", err)
	}
	_, err = db.Exec(`INSERT INTO tab_values (scope, tab_id, key, value) VALUES ('default', 1, 'k', '1')`)
	if err != nil {
		t.Fatalf("insert into tab_values: %v", err)
	}
}

func TestOpenDB_FreshDB_AllMigrations(t *testing.T) {
	db := testDB(t)

	var count int
	db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	if count != len(migrations) {
		t.Errorf("expected %d migrations recorded, got %d", len(migrations), count)
	}
}

func TestOpenDB_IdempotentMigrations(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "idempotent.db")

	db1, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("first OpenDB: %v", err)
	}
	if _, err := CreateSnapshot(db1, "default", 1, sampleTree(), ""); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	db1.Close()

	// Second open must not re-run migrations.
	db2, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("second OpenDB: %v", err)
	}
	defer db2.Close()

	snap, err := GetLatestSnapshot(db2, "default")
	if err != nil {
		t.Fatalf("GetLatestSnapshot: %v", err)
	}
	if snap == nil || snap.Rev != 1 {
		t.Error("expected existing snapshot to survive reopening")
	}
}

func TestDefaultDBPath(t *testing.T) {
	p, err := DefaultDBPath()
	if err != nil {
		t.Fatalf("DefaultDBPath: %v", err)
	}
	if filepath.Base(p) != "tabtree.db" {
		t.Errorf("expected filename tabtree.db, got %s", filepath.Base(p))
	}
	if !filepath.IsAbs(p) {
		t.Errorf("expected absolute path, got %s", p)
	}
}

func TestCreateAndListSnapshots(t *testing.T) {
	db := testDB(t)

	rev, err := CreateSnapshot(db, "default", 1, sampleTree(), "")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if rev != 1 {
		t.Errorf("expected rev 1, got %d", rev)
	}

	rev2, err := CreateSnapshot(db, "default", 2, sampleTree()[:1], "with label")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if rev2 != 2 {
		t.Errorf("expected rev 2, got %d", rev2)
	}

	// Different profile starts at rev 1.
	rev3, err := CreateSnapshot(db, "work", 1, nil, "")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if rev3 != 1 {
		t.Errorf("expected rev 1 for different profile, got %d", rev3)
	}

	list, err := ListSnapshots(db)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(list))
	}
	for _, s := range list {
		switch {
		case s.Profile == "default" && s.Rev == 1:
			if s.Name != "" || s.TabCount != 5 || s.WindowID != 1 {
				t.Errorf("rev 1 = %+v", s)
			}
		case s.Profile == "default" && s.Rev == 2:
			if s.Name != "with label" || s.TabCount != 1 || s.WindowID != 2 {
				t.Errorf("rev 2 = %+v", s)
			}
		}
	}

	work, err := ListSnapshotsByProfile(db, "work")
	if err != nil {
		t.Fatalf("ListSnapshotsByProfile: %v", err)
	}
	if len(work) != 1 || work[0].Profile != "work" {
		t.Errorf("work snapshots = %+v", work)
	}
}

func TestCreateSnapshot_RejectsForwardParent(t *testing.T) {
	db := testDB(t)

	tests := []struct {
		name  string
		nodes []SnapshotNode
	}{
		{"self", []SnapshotNode{{Parent: 0, URL: "a"}}},
		{"forward", []SnapshotNode{{Parent: 1, URL: "a"}, {Parent: -1, URL: "b"}}},
		{"below root marker", []SnapshotNode{{Parent: -2, URL: "a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := CreateSnapshot(db, "default", 1, tt.nodes, ""); err == nil {
				t.Error("expected error")
			}
		})
	}

	list, _ := ListSnapshots(db)
	if len(list) != 0 {
		t.Errorf("expected nothing stored, got %d snapshots", len(list))
	}
}

func TestGetSnapshot(t *testing.T) {
	db := testDB(t)

	rev, err := CreateSnapshot(db, "default", 3, sampleTree(), "my label")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	snap, err := GetSnapshot(db, "default", rev)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snap.Name != "my label" || snap.WindowID != 3 || snap.TabCount != 5 {
		t.Errorf("summary = %+v", snap.SnapshotSummary)
	}
	if len(snap.Nodes) != 5 {
		t.Fatalf("expected 5 nodes, got %d", len(snap.Nodes))
	}

	want := sampleTree()
	for i, n := range snap.Nodes {
		w := want[i]
		w.Position = i
		if n != w {
			t.Errorf("node %d = %+v, want %+v", i, n, w)
		}
	}

	_, err = GetSnapshot(db, "default", 99)
	if err == nil {
		t.Fatal("expected error for non-existent rev")
	}
}

func TestGetLatestSnapshot(t *testing.T) {
	db := testDB(t)

	snap, err := GetLatestSnapshot(db, "default")
	if err != nil {
		t.Fatalf("GetLatestSnapshot: %v", err)
	}
	if snap != nil {
		t.Fatal("expected nil for empty DB")
	}

	CreateSnapshot(db, "default", 1, sampleTree()[:1], "")
	CreateSnapshot(db, "default", 1, sampleTree(), "")

	snap, err = GetLatestSnapshot(db, "default")
	if err != nil {
		t.Fatalf("GetLatestSnapshot: %v", err)
	}
	if snap.Rev != 2 || len(snap.Nodes) != 5 {
		t.Errorf("expected latest rev 2 with 5 nodes, got rev %d with %d", snap.Rev, len(snap.Nodes))
	}

	snap, err = GetLatestSnapshot(db, "work")
	if err != nil {
		t.Fatalf("GetLatestSnapshot: %v", err)
	}
	if snap != nil {
		t.Fatal("expected nil for profile with no snapshots")
	}
}

func TestDeleteSnapshot(t *testing.T) {
	db := testDB(t)

	rev, err := CreateSnapshot(db, "default", 1, sampleTree(), "")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	if err := DeleteSnapshot(db, "default", rev); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}

	list, _ := ListSnapshots(db)
	if len(list) != 0 {
		t.Fatalf("expected 0 snapshots after delete, got %d", len(list))
	}

	var nodes int
	db.QueryRow("SELECT COUNT(*) FROM snapshot_nodes").Scan(&nodes)
	if nodes != 0 {
		t.Errorf("expected nodes to cascade, %d left", nodes)
	}

	if err := DeleteSnapshot(db, "default", rev); err == nil {
		t.Fatal("expected error deleting non-existent snapshot")
	}
}
