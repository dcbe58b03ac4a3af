// Package uniqueid assigns tabs a durable identity that survives browser
// restarts and tells duplicated tabs from session-restored ones.
package uniqueid

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/lotas/tabtree/internal/applog"
	"github.com/lotas/tabtree/internal/browser"
	"github.com/lotas/tabtree/internal/types"
)

// Key is the session storage key of the persisted record.
const Key = "data-persistent-id"

// LiveTabs looks up the identity held by a live tab.
type LiveTabs interface {
	// IdentityOf returns the identity of the live node whose external id is
	// apiTabID, and false when there is no such node.
	IdentityOf(ctx context.Context, apiTabID int) (string, bool)
}

// Options tune a single resolution.
type Options struct {
	// ForceNew mints a fresh identity even when one is stored.
	ForceNew bool
}

// Resolver resolves and persists identities. Results are memoized per
// external id until Forget.
type Resolver struct {
	store browser.SessionStore
	live  LiveTabs
	now   func() time.Time
	rand  func(n int) int

	mu   sync.Mutex
	memo map[int]types.UniqueID
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock sets the time source used in minted ids.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithRand sets the random source; fn returns a value in [0, n).
func WithRand(fn func(n int) int) Option {
	return func(r *Resolver) { r.rand = fn }
}

// New returns a Resolver persisting into store and consulting live.
func New(store browser.SessionStore, live LiveTabs, opts ...Option) *Resolver {
	r := &Resolver{
		store: store,
		live:  live,
		now:   time.Now,
		rand:  rand.IntN,
		memo:  make(map[int]types.UniqueID),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the identity of the tab with external id apiTabID.
//
// A stored record whose identity is held by another live tab marks a
// duplicate: a fresh identity is minted and the original one is reported.
// A stored record nobody else holds marks a restored tab: the record is
// rewritten for the current external id and the stored identity is kept.
// Otherwise a new identity is minted and stored.
func (r *Resolver) Resolve(ctx context.Context, apiTabID int, opts Options) (types.UniqueID, error) {
	if !opts.ForceNew {
		r.mu.Lock()
		id, ok := r.memo[apiTabID]
		r.mu.Unlock()
		if ok {
			return id, nil
		}
	}

	id, err := r.resolve(ctx, apiTabID, opts)
	if err != nil {
		return types.UniqueID{}, err
	}

	r.mu.Lock()
	r.memo[apiTabID] = id
	r.mu.Unlock()
	return id, nil
}

func (r *Resolver) resolve(ctx context.Context, apiTabID int, opts Options) (types.UniqueID, error) {
	result := types.UniqueID{OriginalTabID: types.NoTab}

	if !opts.ForceNew {
		var old types.PersistentID
		found, err := r.store.GetTabValue(ctx, apiTabID, Key, &old)
		if err != nil {
			if !browser.IsVanished(err) {
				return types.UniqueID{}, fmt.Errorf("read %s: %w", Key, err)
			}
			applog.Error("uniqueid.get", err, "tab", apiTabID)
			found = false
		}
		if found && !old.Valid() {
			applog.Info("uniqueid.broken", "tab", apiTabID)
			found = false
		}

		if found {
			if old.TabID != apiTabID && r.live != nil {
				if holder, ok := r.live.IdentityOf(ctx, old.TabID); ok && holder == old.ID {
					result.OriginalID = old.ID
					result.OriginalTabID = old.TabID
					result.Duplicated = true
					applog.Info("uniqueid.duplicated", "tab", apiTabID, "original", old.TabID)
					return r.mint(ctx, apiTabID, result)
				}
			}

			// Nobody else holds the identity: the tab came back from a
			// session restore under a new external id.
			r.persist(ctx, apiTabID, types.PersistentID{ID: old.ID, TabID: apiTabID})
			applog.Info("uniqueid.restored", "tab", apiTabID, "id", old.ID, "from", old.TabID)
			return types.UniqueID{
				ID:            old.ID,
				OriginalTabID: old.TabID,
				Restored:      true,
			}, nil
		}
	}

	return r.mint(ctx, apiTabID, result)
}

func (r *Resolver) mint(ctx context.Context, apiTabID int, result types.UniqueID) (types.UniqueID, error) {
	result.ID = fmt.Sprintf("tab-%s-%s-%d-%d",
		adjectives[r.rand(len(adjectives))],
		nouns[r.rand(len(nouns))],
		r.now().UnixMilli(),
		r.rand(1000),
	)
	r.persist(ctx, apiTabID, types.PersistentID{ID: result.ID, TabID: apiTabID})
	applog.Debug("uniqueid.minted", "tab", apiTabID, "id", result.ID)
	return result, nil
}

// persist stores the record. A vanished tab is logged and ignored.
func (r *Resolver) persist(ctx context.Context, apiTabID int, rec types.PersistentID) {
	if err := r.store.SetTabValue(ctx, apiTabID, Key, rec); err != nil {
		applog.Error("uniqueid.set", err, "tab", apiTabID)
	}
}

// Forget drops the memoized identity of a removed tab.
func (r *Resolver) Forget(apiTabID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.memo, apiTabID)
}

// Rekey moves a memoized identity to a replacement external id.
func (r *Resolver) Rekey(oldID, newID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.memo[oldID]; ok {
		delete(r.memo, oldID)
		r.memo[newID] = id
	}
}

var adjectives = []string{
	"amber", "ancient", "bold", "brave", "bright", "calm", "clever", "cosmic",
	"crisp", "curious", "dapper", "eager", "early", "fancy", "gentle", "glad",
	"golden", "happy", "hidden", "humble", "jolly", "keen", "kind", "lively",
	"lucky", "mellow", "misty", "noble", "patient", "proud", "quiet", "rapid",
	"rustic", "shiny", "silent", "silver", "snowy", "steady", "sunny", "swift",
	"tidy", "vivid", "warm", "wild", "wise", "young", "zesty",
}

var nouns = []string{
	"acorn", "badger", "beacon", "bison", "breeze", "brook", "canyon", "cedar",
	"comet", "coral", "crane", "dune", "ember", "falcon", "fern", "fjord",
	"forest", "fox", "glacier", "harbor", "heron", "island", "lagoon", "lantern",
	"maple", "meadow", "moose", "nebula", "orchid", "otter", "owl", "panda",
	"pebble", "pine", "planet", "prairie", "raven", "reef", "river", "rocket",
	"sparrow", "summit", "thistle", "tiger", "tulip", "valley", "willow", "zephyr",
}
