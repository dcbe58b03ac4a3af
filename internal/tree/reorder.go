package tree

import "context"

// Indent makes node the last child of its previous sibling. A node without
// a previous sibling stays where it is.
func (r *Registry) Indent(node *Node) error {
	var err error
	r.update(func() {
		if node == nil || node.removed || node.window == nil {
			err = ErrUnknownTab
			return
		}
		prev := node.prevSibling()
		if prev == nil {
			return
		}
		err = r.attach(node, prev, AttachOptions{})
	})
	return err
}

// Outdent moves node one level up, right after its former parent. A child
// of a root becomes a root.
func (r *Registry) Outdent(node *Node) error {
	var err error
	r.update(func() {
		if node == nil || node.removed || node.window == nil {
			err = ErrUnknownTab
			return
		}
		parent := node.parentNode()
		if parent == nil {
			return
		}
		if gp := parent.parentNode(); gp != nil {
			err = r.attach(node, gp, AttachOptions{InsertAfter: parent})
			return
		}
		err = r.detach(node, DetachOptions{})
	})
	return err
}

// MoveUp swaps node's subtree with the previous sibling's.
func (r *Registry) MoveUp(node *Node) error {
	return r.shift(node, false)
}

// MoveDown swaps node's subtree with the next sibling's.
func (r *Registry) MoveDown(node *Node) error {
	return r.shift(node, true)
}

func (r *Registry) shift(node *Node, down bool) error {
	var err error
	r.update(func() {
		if node == nil || node.removed || node.window == nil {
			err = ErrUnknownTab
			return
		}
		sib := node.prevSibling()
		if down {
			sib = node.nextSibling()
		}
		if sib == nil {
			return
		}
		if parent := node.parentNode(); parent != nil {
			opts := AttachOptions{InsertBefore: sib}
			if down {
				opts = AttachOptions{InsertAfter: sib}
			}
			err = r.attach(node, parent, opts)
			return
		}

		ref := sib
		if down {
			ref = sib.lastDescendant()
		}
		_, job := node.window.move(node.subtree(), ref, down, MoveOptions{})
		if job != nil {
			r.spawn(func(ctx context.Context) { r.runMove(ctx, job) })
		}
	})
	return err
}
