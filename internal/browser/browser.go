// Package browser defines the external tab service the tree engine talks to.
package browser

import (
	"context"
	"errors"
	"strings"

	"github.com/lotas/tabtree/internal/types"
)

var (
	// ErrTabVanished is returned when a call references a tab that no longer
	// exists. Callers treat it as a soft failure.
	ErrTabVanished = errors.New("tab vanished")

	// ErrNotConnected is returned when no extension is connected.
	ErrNotConnected = errors.New("extension not connected")
)

// TabService is the host-provided tab API. Every call may fail with an error
// wrapping ErrTabVanished.
type TabService interface {
	Create(ctx context.Context, props types.CreateProperties) (types.Tab, error)
	Remove(ctx context.Context, tabIDs []int) error
	Move(ctx context.Context, tabIDs []int, windowID, index int) error
	Update(ctx context.Context, tabID int, change types.ChangeInfo) (types.Tab, error)
	Get(ctx context.Context, tabID int) (types.Tab, error)
	Query(ctx context.Context, q types.QueryInfo) ([]types.Tab, error)
}

// SessionStore is the durable per-tab key/value storage that survives
// browser restarts (sessions.getTabValue and friends).
type SessionStore interface {
	// GetTabValue decodes the value stored under key into v. It reports
	// false when nothing is stored.
	GetTabValue(ctx context.Context, tabID int, key string, v any) (bool, error)
	SetTabValue(ctx context.Context, tabID int, key string, v any) error
	RemoveTabValue(ctx context.Context, tabID int, key string) error
}

// Service is the full surface implemented by the extension bridge.
type Service interface {
	TabService
	SessionStore
}

// IsVanished reports whether err means the referenced tab no longer exists.
// Errors coming back from the browser as plain text are recognised by the
// "Invalid tab ID" message the browser uses.
func IsVanished(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTabVanished) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Invalid tab ID") || strings.Contains(msg, "No tab with id")
}
