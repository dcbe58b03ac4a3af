package tree

import (
	"context"

	"github.com/lotas/tabtree/internal/applog"
	"github.com/lotas/tabtree/internal/types"
)

// The Handle methods apply browser tab events. Each first checks the window's
// reconciliation log: an event that confirms an outstanding local operation
// is an echo and only refreshes bookkeeping, anything else is a foreign
// change that the tree must absorb.

// HandleCreated adds a tab the browser opened. A tab that is already known
// (because OpenTab registered it first) is refreshed instead. A foreign tab
// with a live opener becomes the opener's last child; otherwise it joins the
// subtree it was dropped into.
func (r *Registry) HandleCreated(tab types.Tab) *Node {
	var n *Node
	r.update(func() {
		if n = r.byAPI[tab.ID]; n != nil {
			// The local index is newer than the one the event carries.
			tab.Index, tab.WindowID = n.tab.Index, n.tab.WindowID
			n.tab = tab
			n.applyTab()
			return
		}
		w := r.ensureWindow(tab.WindowID)
		echo := w.log.Confirm(KindOpening, types.NoTab)
		n = newNode(r, tab)
		w.insertAt(n, tab.Index)
		r.resolveIdentity(n, false)
		if tab.Active {
			for _, m := range w.order {
				if m != n {
					m.state.set(StateActive, false)
					m.tab.Active = false
				}
			}
		}
		r.emit(Event{Type: EventCreated, WindowID: w.id, Node: n, Index: n.tab.Index})
		applog.Info("tab.created", "tab", tab.ID, "window", w.id, "index", n.tab.Index, "echo", echo)
		if echo {
			return
		}

		if opener := r.byAPI[tab.OpenerTabID]; tab.OpenerTabID != 0 && w.live(opener) && opener != n {
			if err := r.attach(n, opener, AttachOptions{Delayed: true}); err != nil {
				applog.Error("tab.created.attach", err, "tab", tab.ID, "opener", tab.OpenerTabID)
			}
			return
		}
		w.adoptByPosition(n, nil)
	})
	return n
}

// HandleRemoved destroys the node of a closed tab. Its children are
// promoted to its parent.
func (r *Registry) HandleRemoved(tabID, windowID int, windowClosing bool) {
	r.update(func() {
		n := r.byAPI[tabID]
		if n == nil {
			delete(r.limbo, tabID)
			return
		}
		echo := n.window.log.Confirm(KindClosing, tabID)
		applog.Info("tab.removed", "tab", tabID, "window", windowID, "echo", echo, "window_closing", windowClosing)
		r.destroy(n)
		if windowClosing && len(n.window.order) == 0 {
			delete(r.windows, n.window.id)
		}
	})
}

// HandleMoved applies a browser reorder. An echo of a local move only
// restamps indexes. A foreign move relocates the node, re-parents it after
// the node that now follows it, and carries its descendants along.
func (r *Registry) HandleMoved(tabID, windowID, fromIndex, toIndex int) {
	r.update(func() {
		n := r.byAPI[tabID]
		if n == nil || n.window.id != windowID {
			return
		}
		w := n.window
		if w.log.Confirm(KindAlreadyMoved, tabID) || n.flatIndex() == toIndex {
			applog.Debug("tab.moved.echo", "tab", tabID, "to", toIndex)
			return
		}
		applog.Info("tab.moved", "tab", tabID, "window", windowID, "from", fromIndex, "to", toIndex)

		prev, next := n.prev(), n.next()
		oldFrom := n.flatIndex()
		w.spliceAt(n, toIndex)
		w.restamp(min(oldFrom, toIndex), max(oldFrom, toIndex))
		r.emit(Event{Type: EventMoved, WindowID: w.id, Node: n, OldPrevious: prev, OldNext: next, Index: n.tab.Index})

		desc := n.descendants()
		inSubtree := make(map[*Node]bool, len(desc))
		for _, d := range desc {
			inSubtree[d] = true
		}
		if oldParent := n.parentNode(); oldParent != nil {
			oldParent.removeChild(n)
			n.parentID = ""
			r.updateParentState(oldParent)
		}
		w.adoptByPosition(n, inSubtree)
		w.refreshCollapsed(n)

		if len(desc) > 0 {
			_, job := w.move(desc, n, true, MoveOptions{})
			if job != nil {
				r.spawn(func(ctx context.Context) { r.runMove(ctx, job) })
			}
		}
	})
}

// adoptByPosition gives a parentless node the parent implied by its flat
// position: it becomes the previous sibling of the first following node
// outside skip. Nodes followed by a root, or by nothing, stay roots.
func (w *Window) adoptByPosition(n *Node, skip map[*Node]bool) {
	next := n.next()
	for next != nil && skip[next] {
		next = next.next()
	}
	if next == nil {
		return
	}
	parent := next.parentNode()
	if parent == nil || parent == n || skip[parent] {
		return
	}
	n.parentID = parent.id
	parent.insertChild(n, parent.childIndex(next))
	w.refreshCollapsed(n)
	w.reg.emit(Event{Type: EventAttached, WindowID: w.id, Node: n, Parent: parent, NextSibling: next})
	w.reg.updateParentState(parent)
}

// spliceAt moves n to flat index at, clamped to the window.
func (w *Window) spliceAt(n *Node, at int) {
	i := n.flatIndex()
	w.order = append(w.order[:i], w.order[i+1:]...)
	if at < 0 || at > len(w.order) {
		at = len(w.order)
	}
	w.order = append(w.order, nil)
	copy(w.order[at+1:], w.order[at:])
	w.order[at] = n
}

// HandleUpdated applies changed tab properties.
func (r *Registry) HandleUpdated(tabID int, change types.ChangeInfo) {
	r.update(func() {
		n := r.byAPI[tabID]
		if n == nil {
			return
		}
		before := n.state
		change.Apply(&n.tab)
		n.applyTab()
		if change.Title != nil && !n.state.Has(StateActive) {
			n.state.set(StateUnread, true)
		}
		if n.state == before && change.URL == nil && change.Title == nil {
			return
		}
		r.emit(Event{Type: EventUpdated, WindowID: n.window.id, Node: n})
		const member = StateSoundPlaying | StateMuted
		if before&member != n.state&member {
			r.updateParentState(n.parentNode())
		}
	})
}

// HandleActivated marks tabID as the window's active tab. A foreign
// activation of a tab hidden in a collapsed subtree expands its ancestors;
// a silent focus leaves them as they are.
func (r *Registry) HandleActivated(tabID, windowID int) {
	r.update(func() {
		n := r.byAPI[tabID]
		if n == nil || n.window.id != windowID {
			return
		}
		w := n.window
		silent := w.log.Confirm(KindSilentFocus, tabID)
		echo := silent || w.log.Confirm(KindFocus, tabID)
		for _, m := range w.order {
			m.state.set(StateActive, m == n)
			m.tab.Active = m == n
		}
		n.state.set(StateUnread, false)
		r.emit(Event{Type: EventActivated, WindowID: w.id, Node: n})
		applog.Debug("tab.activated", "tab", tabID, "echo", echo, "silent", silent)

		if silent || !n.state.Has(StateCollapsedByAncestor) {
			return
		}
		for _, a := range n.ancestors() {
			if !a.state.Has(StateSubtreeCollapsed) {
				continue
			}
			a.state.set(StateSubtreeCollapsed, false)
			r.emit(Event{Type: EventCollapsedChanged, WindowID: w.id, Node: a})
		}
		for _, d := range n.root().subtree() {
			d.state.set(StateCollapsedByAncestor, d.hiddenByAncestor())
		}
	})
}

// HandleDetached takes a tab out of its window when the browser moves it
// elsewhere. The node waits for the matching HandleAttached. Tabs already
// transferred by TransferTab are echoes.
func (r *Registry) HandleDetached(tabID, oldWindowID int) {
	r.update(func() {
		n := r.byAPI[tabID]
		if n == nil || n.window.id != oldWindowID {
			return
		}
		parent := r.extract(n)
		r.updateParentState(parent)
		r.limbo[tabID] = n
		r.emit(Event{Type: EventDetached, WindowID: oldWindowID, Node: n, OldParent: parent})
		applog.Info("tab.detached", "tab", tabID, "window", oldWindowID)
	})
}

// HandleAttached places a tab that entered newWindowID.
func (r *Registry) HandleAttached(tabID, newWindowID, newIndex int) {
	r.update(func() {
		n := r.limbo[tabID]
		if n == nil {
			live := r.byAPI[tabID]
			if live == nil || live.window.id == newWindowID {
				return
			}
			// Attached without a preceding detach.
			r.transfer(live, newWindowID, newIndex)
			return
		}
		delete(r.limbo, tabID)
		old := n.window.id
		w := r.ensureWindow(newWindowID)
		w.insertAt(n, newIndex)
		w.adoptByPosition(n, nil)
		r.emit(Event{Type: EventWindowChanged, WindowID: w.id, OldWindowID: old, Node: n, Index: n.tab.Index})
		applog.Info("tab.attached", "tab", tabID, "window", newWindowID, "index", n.tab.Index)
		if src := r.windows[old]; src != nil && len(src.order) == 0 {
			delete(r.windows, old)
		}
	})
}

// HandleReplaced rebinds a node whose tab the browser replaced under a new
// external id. The node id and the durable identity are kept.
func (r *Registry) HandleReplaced(addedTabID, removedTabID int) {
	r.update(func() {
		n := r.byAPI[removedTabID]
		if n == nil {
			return
		}
		delete(r.byAPI, removedTabID)
		n.window.log.Forget(removedTabID)
		n.tab.ID = addedTabID
		r.byAPI[addedTabID] = n
		if r.resolver != nil {
			r.resolver.Rekey(removedTabID, addedTabID)
		}
		r.emit(Event{Type: EventUpdated, WindowID: n.window.id, Node: n})
		applog.Info("tab.replaced", "tab", addedTabID, "removed", removedTabID)
	})
}
