package tree

import (
	"context"
	"fmt"

	"github.com/lotas/tabtree/internal/applog"
)

// AttachOptions place a child among its new siblings. With neither
// reference set the child becomes the last child.
type AttachOptions struct {
	InsertBefore *Node
	InsertAfter  *Node
	// Broadcasted marks a change already applied to the browser elsewhere;
	// no browser call is made.
	Broadcasted bool
	// Delayed waits for the open animation before moving browser tabs.
	Delayed bool
}

// DetachOptions tune Detach.
type DetachOptions struct {
	Broadcasted bool
}

// Attach makes child the child of parent. The child's whole subtree is
// moved in the flat order so parent's subtree stays one contiguous block;
// the browser move is enqueued, not awaited.
func (r *Registry) Attach(child, parent *Node, opts AttachOptions) error {
	var err error
	r.update(func() {
		err = r.attach(child, parent, opts)
	})
	return err
}

func (r *Registry) attach(child, parent *Node, opts AttachOptions) error {
	if child == nil || parent == nil || child.removed || parent.removed || child.window == nil {
		return ErrUnknownTab
	}
	w := child.window
	if parent.window != w {
		return fmt.Errorf("attach %s to %s: %w", child.id, parent.id, ErrCrossWindow)
	}
	if child == parent || child.isAncestorOf(parent) {
		return fmt.Errorf("attach %s to %s: %w", child.id, parent.id, ErrCycle)
	}

	tok := w.log.Begin(KindSubtreeMoving)

	at := -1
	if ref := opts.InsertBefore; ref != nil && ref != child && ref.parentNode() == parent {
		at = parent.childIndex(ref)
	} else if ref := opts.InsertAfter; ref != nil && ref != child && ref.parentNode() == parent {
		at = parent.childIndex(ref) + 1
	}

	oldParent := child.parentNode()
	if oldParent != nil {
		if oldParent == parent && at > parent.childIndex(child) {
			at--
		}
		oldParent.removeChild(child)
	}
	child.parentID = parent.id
	parent.insertChild(child, at)
	w.refreshCollapsed(child)

	applog.Info("tree.attach", "child", child.id, "parent", parent.id)

	pos := parent.childIndex(child)
	var job *moveJob
	block := child.subtree()
	mopts := MoveOptions{Broadcasted: opts.Broadcasted, Delayed: opts.Delayed}
	if pos+1 < len(parent.children) {
		_, job = w.move(block, parent.children[pos+1], false, mopts)
	} else {
		anchor := parent
		if pos > 0 {
			anchor = parent.children[pos-1].lastDescendant()
		}
		_, job = w.move(block, anchor, true, mopts)
	}
	r.runOrSettle(job, w, tok)

	e := Event{Type: EventAttached, WindowID: w.id, Node: child, Parent: parent, OldParent: oldParent}
	if pos > 0 {
		e.PreviousSibling = parent.children[pos-1]
	}
	if pos+1 < len(parent.children) {
		e.NextSibling = parent.children[pos+1]
	}
	r.emit(e)

	r.updateParentState(parent)
	if oldParent != nil && oldParent != parent {
		r.updateParentState(oldParent)
	}
	return nil
}

// Detach makes node a root. Its subtree is moved right after the subtree of
// its former top-level ancestor so no other subtree is split.
func (r *Registry) Detach(node *Node, opts DetachOptions) error {
	var err error
	r.update(func() {
		err = r.detach(node, opts)
	})
	return err
}

func (r *Registry) detach(node *Node, opts DetachOptions) error {
	if node == nil || node.removed || node.window == nil {
		return ErrUnknownTab
	}
	parent := node.parentNode()
	if parent == nil {
		return nil
	}
	w := node.window
	root := node.root()
	tok := w.log.Begin(KindSubtreeMoving)

	parent.removeChild(node)
	node.parentID = ""
	w.refreshCollapsed(node)
	applog.Info("tree.detach", "node", node.id, "parent", parent.id)

	anchor := root.lastDescendant()
	_, job := w.move(node.subtree(), anchor, true, MoveOptions{Broadcasted: opts.Broadcasted})
	r.runOrSettle(job, w, tok)

	r.emit(Event{Type: EventDetached, WindowID: w.id, Node: node, OldParent: parent})
	r.updateParentState(parent)
	return nil
}

// Collapse hides node's descendants.
func (r *Registry) Collapse(node *Node) {
	r.setCollapsed(node, true)
}

// Expand shows node's descendants, except those under a collapsed
// descendant.
func (r *Registry) Expand(node *Node) {
	r.setCollapsed(node, false)
}

func (r *Registry) setCollapsed(node *Node, collapsed bool) {
	r.update(func() {
		if node == nil || node.removed || node.window == nil {
			return
		}
		if node.state.Has(StateSubtreeCollapsed) == collapsed {
			return
		}
		node.state.set(StateSubtreeCollapsed, collapsed)
		for _, d := range node.descendants() {
			d.state.set(StateCollapsedByAncestor, d.hiddenByAncestor())
		}
		applog.Debug("tree.collapse", "node", node.id, "collapsed", collapsed)
		r.emit(Event{Type: EventCollapsedChanged, WindowID: node.window.id, Node: node, Collapsed: collapsed})
	})
}

func (n *Node) hiddenByAncestor() bool {
	for _, a := range n.ancestors() {
		if a.state.Has(StateSubtreeCollapsed) {
			return true
		}
	}
	return false
}

// refreshCollapsed recomputes the hidden flag of n's subtree after n got a
// new parent.
func (w *Window) refreshCollapsed(n *Node) {
	n.state.set(StateCollapsedByAncestor, n.hiddenByAncestor())
	for _, d := range n.descendants() {
		d.state.set(StateCollapsedByAncestor, d.hiddenByAncestor())
	}
}

// updateParentState recomputes the member flags of p and its ancestors.
// The walk is iterative and stops on a node it already visited.
func (r *Registry) updateParentState(p *Node) {
	seen := make(map[*Node]bool)
	for ; p != nil && !p.removed && !seen[p]; p = p.parentNode() {
		seen[p] = true
		var sound, muted bool
		for _, c := range p.children {
			if c.state.Has(StateSoundPlaying) || c.state.Has(StateHasSoundPlayingMember) {
				sound = true
			}
			if c.state.Has(StateMuted) || c.state.Has(StateHasMutedMember) {
				muted = true
			}
		}
		before := p.state
		p.state.set(StateHasSoundPlayingMember, sound)
		p.state.set(StateHasMutedMember, muted)
		if p.state != before {
			r.emit(Event{Type: EventUpdated, WindowID: p.window.id, Node: p})
		}
	}
}

// destroy removes n for good. Its children take its place under its parent.
func (r *Registry) destroy(n *Node) {
	w := n.window
	parent := r.extract(n)
	n.removed = true
	close(n.closed)
	w.log.Forget(n.tab.ID)
	if r.resolver != nil {
		r.resolver.Forget(n.tab.ID)
	}
	r.emit(Event{Type: EventRemoved, WindowID: w.id, Node: n, Parent: parent})
	r.updateParentState(parent)
}

// extract takes n out of its window, handing its children to its parent,
// and returns that parent.
func (r *Registry) extract(n *Node) *Node {
	w := n.window
	parent := n.parentNode()
	children := append([]*Node(nil), n.children...)

	if parent != nil {
		at := parent.childIndex(n)
		parent.removeChild(n)
		for i, c := range children {
			c.parentID = parent.id
			parent.insertChild(c, at+i)
		}
	} else {
		for _, c := range children {
			c.parentID = ""
		}
	}
	n.children = nil
	n.parentID = ""
	for _, c := range children {
		w.refreshCollapsed(c)
	}
	n.state.set(StateCollapsedByAncestor, false)
	w.unlink(n)
	return parent
}

// TransferTab moves node and its subtree to another window at index,
// detaching it from its parent. Ownership changes inside one critical
// section; the browser move is enqueued.
func (r *Registry) TransferTab(node *Node, windowID, index int) error {
	var err error
	r.update(func() {
		if node == nil || node.removed || node.window == nil {
			err = ErrUnknownTab
			return
		}
		if node.window.id == windowID {
			err = fmt.Errorf("transfer %s: already in window %d", node.id, windowID)
			return
		}
		block := r.transfer(node, windowID, index)
		ids := make([]int, len(block))
		for i, n := range block {
			ids[i] = n.tab.ID
		}
		dst := node.window
		tok := dst.log.Begin(KindMoving, ids...)
		r.spawn(func(ctx context.Context) {
			if err := r.svc.Move(ctx, ids, windowID, index); err != nil {
				applog.Error("tabs.move.window", err, "tabs", len(ids), "window", windowID)
				dst.log.Cancel(tok)
				return
			}
			dst.log.Settle(tok)
		})
	})
	return err
}

// transfer relocates node's subtree into window windowID at index and
// returns the moved nodes in flat order.
func (r *Registry) transfer(node *Node, windowID, index int) []*Node {
	src := node.window
	oldWindowID := src.id
	block := node.subtree()

	if parent := node.parentNode(); parent != nil {
		parent.removeChild(node)
		node.parentID = ""
		r.updateParentState(parent)
	}
	for _, n := range block {
		src.unlink(n)
	}

	dst := r.ensureWindow(windowID)
	for i, n := range block {
		dst.insertAt(n, index+i)
	}
	// Node ids embed the window id; rebind child relations to the new ids.
	for _, n := range block {
		for _, c := range n.children {
			c.parentID = n.id
		}
	}
	node.state.set(StateCollapsedByAncestor, false)

	for _, n := range block {
		r.emit(Event{Type: EventWindowChanged, WindowID: windowID, OldWindowID: oldWindowID, Node: n, Index: n.tab.Index})
	}
	applog.Info("tree.transfer", "node", node.id, "from", oldWindowID, "to", windowID, "tabs", len(block))
	if len(src.order) == 0 {
		delete(r.windows, src.id)
	}
	return block
}
