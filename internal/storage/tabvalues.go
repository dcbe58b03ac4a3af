package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/lotas/tabtree/internal/browser"
)

// TabValues is a browser.SessionStore kept in SQLite. Values are JSON
// encoded and partitioned by scope, usually the Firefox profile name, so
// tab ids of different profiles never collide.
type TabValues struct {
	db    *sql.DB
	scope string
}

var _ browser.SessionStore = (*TabValues)(nil)

// NewTabValues returns the store for scope.
func NewTabValues(db *sql.DB, scope string) *TabValues {
	return &TabValues{db: db, scope: scope}
}

func (v *TabValues) GetTabValue(ctx context.Context, tabID int, key string, out any) (bool, error) {
	var raw string
	err := v.db.QueryRowContext(ctx,
		"SELECT value FROM tab_values WHERE scope = ? AND tab_id = ? AND key = ?",
		v.scope, tabID, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s for tab %d: %w", key, tabID, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode %s for tab %d: %w", key, tabID, err)
	}
	return true, nil
}

func (v *TabValues) SetTabValue(ctx context.Context, tabID int, key string, val any) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encode %s for tab %d: %w", key, tabID, err)
	}
	_, err = v.db.ExecContext(ctx,
		`INSERT INTO tab_values (scope, tab_id, key, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT (scope, tab_id, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		v.scope, tabID, key, string(raw),
	)
	if err != nil {
		return fmt.Errorf("set %s for tab %d: %w", key, tabID, err)
	}
	return nil
}

func (v *TabValues) RemoveTabValue(ctx context.Context, tabID int, key string) error {
	_, err := v.db.ExecContext(ctx,
		"DELETE FROM tab_values WHERE scope = ? AND tab_id = ? AND key = ?",
		v.scope, tabID, key,
	)
	if err != nil {
		return fmt.Errorf("remove %s for tab %d: %w", key, tabID, err)
	}
	return nil
}

// SetRaw stores an already encoded value, as read from a session file.
func (v *TabValues) SetRaw(ctx context.Context, tabID int, key string, raw json.RawMessage) error {
	if !json.Valid(raw) {
		return fmt.Errorf("set %s for tab %d: invalid JSON", key, tabID)
	}
	_, err := v.db.ExecContext(ctx,
		`INSERT INTO tab_values (scope, tab_id, key, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT (scope, tab_id, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		v.scope, tabID, key, string(raw),
	)
	if err != nil {
		return fmt.Errorf("set %s for tab %d: %w", key, tabID, err)
	}
	return nil
}

// Reset drops every value in the scope.
func (v *TabValues) Reset(ctx context.Context) error {
	if _, err := v.db.ExecContext(ctx, "DELETE FROM tab_values WHERE scope = ?", v.scope); err != nil {
		return fmt.Errorf("reset %s: %w", v.scope, err)
	}
	return nil
}
