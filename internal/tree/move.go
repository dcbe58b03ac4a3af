package tree

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lotas/tabtree/internal/applog"
	"github.com/lotas/tabtree/internal/browser"
	"github.com/lotas/tabtree/internal/types"
)

// MoveOptions tune MoveBefore and MoveAfter.
type MoveOptions struct {
	// Delayed waits for the open animation before the browser call.
	Delayed bool
	// Broadcasted applies the move locally only.
	Broadcasted bool
}

// MoveBefore places tabs, in order, right before ref. The local order is
// updated at once; the browser call runs in the background. It returns the
// tabs it moved, or nil when they were already in place.
func (r *Registry) MoveBefore(tabs []*Node, ref *Node, opts MoveOptions) []*Node {
	return r.moveTabs(tabs, ref, false, opts)
}

// MoveAfter places tabs, in order, right after ref.
func (r *Registry) MoveAfter(tabs []*Node, ref *Node, opts MoveOptions) []*Node {
	return r.moveTabs(tabs, ref, true, opts)
}

func (r *Registry) moveTabs(tabs []*Node, ref *Node, after bool, opts MoveOptions) []*Node {
	var moved []*Node
	r.update(func() {
		if ref == nil || ref.removed || ref.window == nil {
			return
		}
		var job *moveJob
		moved, job = ref.window.move(tabs, ref, after, opts)
		if job != nil {
			r.spawn(func(ctx context.Context) { r.runMove(ctx, job) })
		}
	})
	return moved
}

type moveJob struct {
	w       *Window
	ids     []int
	refID   int
	after   bool
	delayed bool
	tok     Token
	extra   []Token
}

// move applies a reorder to the local flat order and returns the browser
// job that mirrors it. The registry lock must be held.
func (w *Window) move(tabs []*Node, ref *Node, after bool, opts MoveOptions) ([]*Node, *moveJob) {
	if !w.live(ref) {
		return nil, nil
	}
	set := make(map[*Node]bool, len(tabs))
	var list []*Node
	for _, t := range tabs {
		if w.live(t) && t != ref && !set[t] {
			set[t] = true
			list = append(list, t)
		}
	}
	if len(list) == 0 || w.inPlace(list, ref, after) {
		return nil, nil
	}

	lo, hi := ref.flatIndex(), ref.flatIndex()
	for _, t := range list {
		lo, hi = min(lo, t.flatIndex()), max(hi, t.flatIndex())
	}

	target := ref
	if after {
		target = nil
		for i := ref.flatIndex() + 1; i < len(w.order); i++ {
			if !set[w.order[i]] {
				target = w.order[i]
				break
			}
		}
	}

	type change struct{ node, prev, next *Node }
	var changes []change
	for _, t := range list {
		if t.next() == target {
			continue
		}
		changes = append(changes, change{t, t.prev(), t.next()})
		w.splice(t, target)
	}
	for _, t := range list {
		i := t.flatIndex()
		lo, hi = min(lo, i), max(hi, i)
	}
	w.restamp(lo, hi)

	for _, c := range changes {
		w.reg.emit(Event{
			Type:        EventMoved,
			WindowID:    w.id,
			Node:        c.node,
			OldPrevious: c.prev,
			OldNext:     c.next,
			Index:       c.node.tab.Index,
		})
	}
	applog.Debug("tree.move", "window", w.id, "tabs", len(list), "ref", ref.id, "after", after)

	if opts.Broadcasted {
		return list, nil
	}
	ids := make([]int, len(list))
	for i, t := range list {
		ids[i] = t.tab.ID
	}
	tok := w.log.Begin(KindMoving, ids...)
	w.log.Extend(tok, KindAlreadyMoved, ids...)
	return list, &moveJob{
		w:       w,
		ids:     ids,
		refID:   ref.tab.ID,
		after:   after,
		delayed: opts.Delayed,
		tok:     tok,
	}
}

// inPlace reports whether list already sits contiguously right before (or
// after) ref.
func (w *Window) inPlace(list []*Node, ref *Node, after bool) bool {
	start := ref.flatIndex() - len(list)
	if after {
		start = ref.flatIndex() + 1
	}
	if start < 0 || start+len(list) > len(w.order) {
		return false
	}
	for i, t := range list {
		if w.order[start+i] != t {
			return false
		}
	}
	return true
}

// runOrSettle starts job, settling tok once it finished. A nil job means no
// browser call was needed and tok is settled now.
func (r *Registry) runOrSettle(job *moveJob, w *Window, tok Token) {
	if job == nil {
		w.log.Settle(tok)
		return
	}
	job.extra = append(job.extra, tok)
	r.spawn(func(ctx context.Context) { r.runMove(ctx, job) })
}

// runMove mirrors a local reorder into the browser. Positions are read from
// the browser, not the local model, since the two may have diverged.
func (r *Registry) runMove(ctx context.Context, j *moveJob) {
	defer func() {
		for _, tok := range j.extra {
			j.w.log.Settle(tok)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	if j.delayed && r.delay > 0 {
		g.Go(func() error {
			t := time.NewTimer(r.delay)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	var refTab, first types.Tab
	g.Go(func() error {
		var err error
		refTab, err = r.svc.Get(gctx, j.refID)
		return err
	})
	g.Go(func() error {
		var err error
		first, err = r.svc.Get(gctx, j.ids[0])
		return err
	})
	if err := g.Wait(); err != nil {
		r.moveFailed(j, err)
		return
	}

	to := TargetIndex(first.Index, refTab.Index, j.after)
	if err := r.svc.Move(ctx, j.ids, refTab.WindowID, to); err != nil {
		r.moveFailed(j, err)
		return
	}
	j.w.log.Settle(j.tok)
	applog.Debug("tabs.move", "window", refTab.WindowID, "tabs", len(j.ids), "index", to)
}

func (r *Registry) moveFailed(j *moveJob, err error) {
	j.w.log.Cancel(j.tok)
	if browser.IsVanished(err) {
		applog.Info("tabs.move.vanished", "tabs", len(j.ids), "ref", j.refID)
		return
	}
	applog.Error("tabs.move", err, "tabs", len(j.ids), "ref", j.refID)
}

// TargetIndex converts the first moved tab's index and the reference's
// index into the index the browser's move call expects. The browser lifts
// the tab out before inserting it and places the rest of a block right after
// it, so only the first tab's side of the reference matters.
func TargetIndex(from, to int, after bool) int {
	switch {
	case !after && from < to:
		return to - 1
	case after && from > to:
		return to + 1
	}
	return to
}
