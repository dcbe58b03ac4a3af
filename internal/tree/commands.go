package tree

import (
	"context"
	"fmt"

	"github.com/lotas/tabtree/internal/applog"
	"github.com/lotas/tabtree/internal/browser"
	"github.com/lotas/tabtree/internal/types"
	"github.com/lotas/tabtree/internal/uniqueid"
)

// OpenOptions describe where OpenTab puts the new tab.
type OpenOptions struct {
	WindowID int
	URL      string
	// Parent makes the new tab its last child, or the child next to
	// InsertBefore/InsertAfter when those are its children.
	Parent       *Node
	InsertBefore *Node
	InsertAfter  *Node
	// Background leaves the current tab active.
	Background bool
}

// OpenTab creates a browser tab at the position implied by opts and links it
// into the tree.
func (r *Registry) OpenTab(ctx context.Context, opts OpenOptions) (*Node, error) {
	var (
		w      *Window
		index  int
		opener int
		tok    Token
	)
	r.update(func() {
		windowID := opts.WindowID
		if p := opts.Parent; p != nil && !p.removed && p.window != nil {
			windowID = p.window.id
			opener = p.tab.ID
		}
		w = r.ensureWindow(windowID)
		switch {
		case w.live(opts.InsertBefore):
			index = opts.InsertBefore.flatIndex()
		case w.live(opts.InsertAfter):
			index = opts.InsertAfter.lastDescendant().flatIndex() + 1
		case w.live(opts.Parent):
			index = opts.Parent.lastDescendant().flatIndex() + 1
		default:
			index = len(w.order)
		}
		tok = w.log.Begin(KindOpening)
	})

	tab, err := r.svc.Create(ctx, types.CreateProperties{
		WindowID:    w.id,
		URL:         opts.URL,
		Index:       &index,
		Active:      !opts.Background,
		OpenerTabID: opener,
	})
	if err != nil {
		w.log.Cancel(tok)
		return nil, fmt.Errorf("open tab: %w", err)
	}
	n := r.HandleCreated(tab)
	w.log.Settle(tok)

	if opts.Parent != nil {
		err := r.Attach(n, opts.Parent, AttachOptions{
			InsertBefore: opts.InsertBefore,
			InsertAfter:  opts.InsertAfter,
		})
		if err != nil {
			return n, fmt.Errorf("open tab: %w", err)
		}
	}
	applog.Info("tab.open", "tab", tab.ID, "window", w.id, "index", index)
	return n, nil
}

// CloseTabs asks the browser to close nodes. The tree changes when the
// removal events arrive. A tab that is already gone is not an error.
func (r *Registry) CloseTabs(ctx context.Context, nodes []*Node) error {
	var ids []int
	tokens := make(map[*Window]Token)
	r.update(func() {
		for _, n := range nodes {
			if n == nil || n.removed || n.window == nil {
				continue
			}
			ids = append(ids, n.tab.ID)
			if tok, ok := tokens[n.window]; ok {
				n.window.log.Extend(tok, KindClosing, n.tab.ID)
			} else {
				tokens[n.window] = n.window.log.Begin(KindClosing, n.tab.ID)
			}
		}
	})
	if len(ids) == 0 {
		return nil
	}

	err := r.svc.Remove(ctx, ids)
	for w, tok := range tokens {
		if err != nil {
			w.log.Cancel(tok)
		} else {
			w.log.Settle(tok)
		}
	}
	if err != nil {
		if browser.IsVanished(err) {
			applog.Info("tabs.remove.vanished", "tabs", len(ids))
			return nil
		}
		return fmt.Errorf("close tabs: %w", err)
	}
	applog.Info("tabs.remove", "tabs", len(ids))
	return nil
}

// Focus activates node. A silent focus keeps collapsed ancestors collapsed.
func (r *Registry) Focus(ctx context.Context, node *Node, silently bool) error {
	var (
		w     *Window
		tabID int
		tok   Token
	)
	kind := KindFocus
	if silently {
		kind = KindSilentFocus
	}
	r.update(func() {
		if node == nil || node.removed || node.window == nil {
			return
		}
		w, tabID = node.window, node.tab.ID
		tok = w.log.Begin(kind, tabID)
	})
	if w == nil {
		return ErrUnknownTab
	}

	active := true
	if _, err := r.svc.Update(ctx, tabID, types.ChangeInfo{Active: &active}); err != nil {
		w.log.Cancel(tok)
		if browser.IsVanished(err) {
			applog.Info("tabs.focus.vanished", "tab", tabID)
			return nil
		}
		return fmt.Errorf("focus tab %d: %w", tabID, err)
	}
	w.log.Settle(tok)
	return nil
}

// Refresh seeds the registry with every tab the browser reports.
func (r *Registry) Refresh(ctx context.Context) error {
	tabs, err := r.svc.Query(ctx, types.QueryInfo{})
	if err != nil {
		return fmt.Errorf("query tabs: %w", err)
	}
	r.Seed(tabs)
	return nil
}

// ResetIdentity replaces node's durable identity with a freshly minted one.
func (r *Registry) ResetIdentity(ctx context.Context, node *Node) (types.UniqueID, error) {
	if r.resolver == nil {
		return types.UniqueID{}, fmt.Errorf("reset identity: no session store")
	}
	tabID := node.APITabID()
	id, err := r.resolver.Resolve(ctx, tabID, uniqueid.Options{ForceNew: true})
	if err != nil {
		return types.UniqueID{}, fmt.Errorf("reset identity: %w", err)
	}
	p := &pendingID{done: make(chan struct{}), val: id}
	close(p.done)
	r.mu.Lock()
	node.uid = p
	r.mu.Unlock()
	return id, nil
}
