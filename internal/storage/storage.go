package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SnapshotSummary holds the metadata for a tree snapshot.
type SnapshotSummary struct {
	ID        int64
	Rev       int
	Name      string // optional label
	Profile   string
	WindowID  int
	CreatedAt time.Time
	TabCount  int
}

// SnapshotNode is one tab of a saved tree, in flat order. Parent is the
// position of the parent node, or -1 for a root.
type SnapshotNode struct {
	Position  int
	Parent    int
	UniqueID  string
	URL       string
	Title     string
	Pinned    bool
	Collapsed bool
}

// SnapshotFull is a snapshot with its nodes in flat order.
type SnapshotFull struct {
	SnapshotSummary
	Nodes []SnapshotNode
}

// migration is a numbered schema change. Migrations are applied in order
// and tracked in the schema_migrations table so each runs exactly once.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "create tab_values table",
		SQL: `
CREATE TABLE tab_values (
    scope       TEXT NOT NULL,
    tab_id      INTEGER NOT NULL,
    key         TEXT NOT NULL,
    value       TEXT NOT NULL,
    updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (scope, tab_id, key)
);`,
	},
	{
		Version:     2,
		Description: "create tree snapshot tables",
		SQL: `
CREATE TABLE snapshots (
    id          INTEGER PRIMARY KEY,
    rev         INTEGER NOT NULL,
    name        TEXT,
    profile     TEXT NOT NULL,
    window_id   INTEGER NOT NULL DEFAULT 0,
    created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
    tab_count   INTEGER NOT NULL,
    UNIQUE(profile, rev)
);
CREATE TABLE snapshot_nodes (
    snapshot_id     INTEGER NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
    position        INTEGER NOT NULL,
    parent_position INTEGER NOT NULL DEFAULT -1,
    unique_id       TEXT NOT NULL DEFAULT '',
    url             TEXT NOT NULL,
    title           TEXT NOT NULL,
    pinned          BOOLEAN DEFAULT FALSE,
    collapsed       BOOLEAN DEFAULT FALSE,
    PRIMARY KEY (snapshot_id, position)
);`,
	},
}

// OpenDB opens (or creates) a SQLite database at the given path.
// It creates parent directories if needed, enables foreign keys and WAL mode,
// and runs any pending migrations.
func OpenDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// Enable WAL mode for better concurrency.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// runMigrations ensures the schema_migrations table exists and applies any
// migrations not recorded there yet.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// DefaultDBPath returns the default database file path:
// ~/.local/share/tabtree/tabtree.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "tabtree", "tabtree.db"), nil
}

// CreateSnapshot stores a window's tree in a single transaction. The rev
// number is auto-assigned per profile. Label is optional (empty string = no
// label). Every node's parent must precede it. Returns the assigned rev.
func CreateSnapshot(db *sql.DB, profile string, windowID int, nodes []SnapshotNode, label string) (int, error) {
	for i, n := range nodes {
		if n.Parent >= i || n.Parent < -1 {
			return 0, fmt.Errorf("node %d (%q) has invalid parent %d", i, n.URL, n.Parent)
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var rev int
	err = tx.QueryRow("SELECT COALESCE(MAX(rev), 0) + 1 FROM snapshots WHERE profile = ?", profile).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("compute next rev: %w", err)
	}

	var nameVal any
	if label != "" {
		nameVal = label
	}

	res, err := tx.Exec(
		"INSERT INTO snapshots (rev, name, profile, window_id, tab_count) VALUES (?, ?, ?, ?, ?)",
		rev, nameVal, profile, windowID, len(nodes),
	)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	snapID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get snapshot id: %w", err)
	}

	for i, n := range nodes {
		_, err := tx.Exec(
			`INSERT INTO snapshot_nodes (snapshot_id, position, parent_position, unique_id, url, title, pinned, collapsed)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			snapID, i, n.Parent, n.UniqueID, n.URL, n.Title, n.Pinned, n.Collapsed,
		)
		if err != nil {
			return 0, fmt.Errorf("insert node %q: %w", n.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return rev, nil
}

const summaryColumns = "id, rev, name, profile, window_id, created_at, tab_count"

func scanSummaries(rows *sql.Rows) ([]SnapshotSummary, error) {
	defer rows.Close()
	var result []SnapshotSummary
	for rows.Next() {
		var s SnapshotSummary
		var name sql.NullString
		if err := rows.Scan(&s.ID, &s.Rev, &name, &s.Profile, &s.WindowID, &s.CreatedAt, &s.TabCount); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		s.Name = name.String
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return result, nil
}

// ListSnapshots returns all snapshots ordered by creation time descending.
func ListSnapshots(db *sql.DB) ([]SnapshotSummary, error) {
	rows, err := db.Query("SELECT " + summaryColumns + " FROM snapshots ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	return scanSummaries(rows)
}

// ListSnapshotsByProfile returns snapshots for a specific profile, ordered by
// creation time descending.
func ListSnapshotsByProfile(db *sql.DB, profile string) ([]SnapshotSummary, error) {
	rows, err := db.Query(
		"SELECT "+summaryColumns+" FROM snapshots WHERE profile = ? ORDER BY created_at DESC, id DESC",
		profile,
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	return scanSummaries(rows)
}

// GetSnapshot loads a full snapshot by profile and rev number.
func GetSnapshot(db *sql.DB, profile string, rev int) (*SnapshotFull, error) {
	snap := &SnapshotFull{}

	var name sql.NullString
	err := db.QueryRow(
		"SELECT "+summaryColumns+" FROM snapshots WHERE profile = ? AND rev = ?",
		profile, rev,
	).Scan(&snap.ID, &snap.Rev, &name, &snap.Profile, &snap.WindowID, &snap.CreatedAt, &snap.TabCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("snapshot rev %d not found for profile %q", rev, profile)
		}
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	snap.Name = name.String

	rows, err := db.Query(
		`SELECT position, parent_position, unique_id, url, title, pinned, collapsed
		 FROM snapshot_nodes WHERE snapshot_id = ? ORDER BY position`,
		snap.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var n SnapshotNode
		if err := rows.Scan(&n.Position, &n.Parent, &n.UniqueID, &n.URL, &n.Title, &n.Pinned, &n.Collapsed); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		snap.Nodes = append(snap.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return snap, nil
}

// GetLatestSnapshot returns the most recent snapshot for a profile.
// Returns nil, nil if no snapshots exist for the profile.
func GetLatestSnapshot(db *sql.DB, profile string) (*SnapshotFull, error) {
	var rev int
	err := db.QueryRow(
		"SELECT rev FROM snapshots WHERE profile = ? ORDER BY rev DESC LIMIT 1",
		profile,
	).Scan(&rev)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest rev: %w", err)
	}
	return GetSnapshot(db, profile, rev)
}

// DeleteSnapshot removes a snapshot by profile and rev. Nodes are cascade-deleted.
// Returns an error if the snapshot does not exist.
func DeleteSnapshot(db *sql.DB, profile string, rev int) error {
	res, err := db.Exec("DELETE FROM snapshots WHERE profile = ? AND rev = ?", profile, rev)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("snapshot rev %d not found for profile %q", rev, profile)
	}
	return nil
}
