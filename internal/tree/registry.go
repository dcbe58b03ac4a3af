// Package tree keeps a parent/child hierarchy over the browser's flat tab
// list and reconciles it with the browser's tab events.
package tree

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/lotas/tabtree/internal/applog"
	"github.com/lotas/tabtree/internal/browser"
	"github.com/lotas/tabtree/internal/types"
	"github.com/lotas/tabtree/internal/uniqueid"
)

var (
	// ErrCycle is returned when an attach would make a node its own ancestor.
	ErrCycle = errors.New("attach would create a cycle")
	// ErrCrossWindow is returned when nodes of different windows are combined.
	ErrCrossWindow = errors.New("nodes belong to different windows")
	// ErrUnknownTab is returned for nodes that are not (or no longer) live.
	ErrUnknownTab = errors.New("unknown tab")
)

// DefaultAnimationDelay is the grace interval a delayed move waits for the
// tab-open animation before touching the browser.
const DefaultAnimationDelay = 100 * time.Millisecond

// DefaultIdentityWait bounds how long IdentityOf waits for another node's
// identity to resolve.
const DefaultIdentityWait = 2 * time.Second

// Registry owns every window's nodes. A single lock guards all windows so
// cross-window transfers are atomic; the lock is never held across a call
// into the browser.
type Registry struct {
	mu        sync.Mutex
	windows   map[int]*Window
	byAPI     map[int]*Node
	limbo     map[int]*Node // detached from one window, not yet attached
	listeners map[int]func(Event)
	nextLis   int
	pending   []Event

	svc      browser.TabService
	resolver *uniqueid.Resolver
	delay    time.Duration
	idWait   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithSessionStore enables durable identities persisted into store.
func WithSessionStore(store browser.SessionStore, opts ...uniqueid.Option) Option {
	return func(r *Registry) {
		r.resolver = uniqueid.New(store, r, opts...)
	}
}

// WithAnimationDelay sets the grace interval used by delayed moves.
func WithAnimationDelay(d time.Duration) Option {
	return func(r *Registry) { r.delay = d }
}

// WithIdentityWait bounds how long a resolving identity waits on the
// identity of the tab its stored record points at.
func WithIdentityWait(d time.Duration) Option {
	return func(r *Registry) { r.idWait = d }
}

// New returns an empty registry driving svc.
func New(svc browser.TabService, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		windows:   make(map[int]*Window),
		byAPI:     make(map[int]*Node),
		limbo:     make(map[int]*Node),
		listeners: make(map[int]func(Event)),
		svc:       svc,
		delay:     DefaultAnimationDelay,
		idWait:    DefaultIdentityWait,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Subscribe registers fn for every event. Listeners run on the mutating
// goroutine after the registry lock is released, so they may call back into
// the registry.
func (r *Registry) Subscribe(fn func(Event)) (cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextLis
	r.nextLis++
	r.listeners[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners, id)
	}
}

// Wait blocks until every background reconciliation has finished.
func (r *Registry) Wait() {
	r.bg.Wait()
}

// Close cancels background work and waits for it.
func (r *Registry) Close() {
	r.cancel()
	r.bg.Wait()
}

// Window returns the window with id, or nil.
func (r *Registry) Window(id int) *Window {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.windows[id]
}

// EnsureWindow returns the window with id, creating it if needed.
func (r *Registry) EnsureWindow(id int) *Window {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureWindow(id)
}

// Windows returns all windows ordered by id.
func (r *Registry) Windows() []*Window {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Window, 0, len(r.windows))
	for _, w := range r.windows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// CloseWindow tears down a window and destroys its nodes without events.
func (r *Registry) CloseWindow(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.windows[id]
	if w == nil {
		return
	}
	for _, n := range w.order {
		delete(r.byAPI, n.tab.ID)
		n.removed = true
		close(n.closed)
		if r.resolver != nil {
			r.resolver.Forget(n.tab.ID)
		}
	}
	delete(r.windows, id)
	applog.Info("window.closed", "window", id)
}

// Tab returns the live node with external id apiTabID, or nil.
func (r *Registry) Tab(apiTabID int) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byAPI[apiTabID]
}

// Lookup returns the live node with node id, or nil.
func (r *Registry) Lookup(id string) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.windows {
		if n := w.byID[id]; n != nil {
			return n
		}
	}
	return nil
}

// IdentityOf returns the durable identity of the live node with external id
// apiTabID, waiting for it to resolve. A node still unresolved after the
// identity wait counts as holding no identity, so two records pointing at
// each other's tabs cannot block both resolutions.
func (r *Registry) IdentityOf(ctx context.Context, apiTabID int) (string, bool) {
	n := r.Tab(apiTabID)
	if n == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, r.idWait)
	defer cancel()
	id, err := n.UniqueID(ctx)
	if err != nil || id.ID == "" {
		return "", false
	}
	return id.ID, true
}

// update runs fn under the lock and delivers the events it queued.
func (r *Registry) update(fn func()) {
	r.mu.Lock()
	fn()
	events := r.pending
	r.pending = nil
	ids := make([]int, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]func(Event), len(ids))
	for i, id := range ids {
		listeners[i] = r.listeners[id]
	}
	r.mu.Unlock()

	for _, e := range events {
		for _, fn := range listeners {
			fn(e)
		}
	}
}

func (r *Registry) emit(e Event) {
	r.pending = append(r.pending, e)
}

func (r *Registry) ensureWindow(id int) *Window {
	w := r.windows[id]
	if w == nil {
		w = &Window{reg: r, id: id, byID: make(map[string]*Node)}
		r.windows[id] = w
		applog.Debug("window.created", "window", id)
	}
	return w
}

// spawn runs fn in the background, tracked by Wait.
func (r *Registry) spawn(fn func(ctx context.Context)) {
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		fn(r.ctx)
	}()
}

// resolveIdentity starts resolving a node's durable identity.
func (r *Registry) resolveIdentity(n *Node, forceNew bool) {
	p := &pendingID{done: make(chan struct{})}
	n.uid = p
	if r.resolver == nil {
		close(p.done)
		return
	}
	apiTabID := n.tab.ID
	r.spawn(func(ctx context.Context) {
		id, err := r.resolver.Resolve(ctx, apiTabID, uniqueid.Options{ForceNew: forceNew})
		if err != nil {
			applog.Error("uniqueid.resolve", err, "tab", apiTabID)
		}
		p.val, p.err = id, err
		close(p.done)
	})
}

// Window is the per-window container: the flat tab order as known locally,
// with the tree relations between its nodes.
type Window struct {
	reg   *Registry
	id    int
	order []*Node
	byID  map[string]*Node
	log   Log
}

// ID returns the browser window id.
func (w *Window) ID() int { return w.id }

// Log returns the window's reconciliation log.
func (w *Window) Log() *Log { return &w.log }

// Tabs returns the window's nodes in flat order.
func (w *Window) Tabs() []*Node {
	w.reg.mu.Lock()
	defer w.reg.mu.Unlock()
	return append([]*Node(nil), w.order...)
}

// Roots returns the top-level nodes in flat order.
func (w *Window) Roots() []*Node {
	w.reg.mu.Lock()
	defer w.reg.mu.Unlock()
	return w.roots()
}

// VisibleTabs returns the nodes not hidden by a collapsed ancestor.
func (w *Window) VisibleTabs() []*Node {
	w.reg.mu.Lock()
	defer w.reg.mu.Unlock()
	var out []*Node
	for _, n := range w.order {
		if !n.state.Has(StateCollapsedByAncestor) {
			out = append(out, n)
		}
	}
	return out
}

// Len returns the number of nodes.
func (w *Window) Len() int {
	w.reg.mu.Lock()
	defer w.reg.mu.Unlock()
	return len(w.order)
}

// Get returns the node with node id in this window, or nil.
func (w *Window) Get(id string) *Node {
	w.reg.mu.Lock()
	defer w.reg.mu.Unlock()
	return w.byID[id]
}

// Active returns the active node, or nil.
func (w *Window) Active() *Node {
	w.reg.mu.Lock()
	defer w.reg.mu.Unlock()
	for _, n := range w.order {
		if n.state.Has(StateActive) {
			return n
		}
	}
	return nil
}

func (w *Window) roots() []*Node {
	var out []*Node
	for _, n := range w.order {
		if n.parentID == "" {
			out = append(out, n)
		}
	}
	return out
}

// insertAt places a new node into the flat order and indexes.
func (w *Window) insertAt(n *Node, at int) {
	if at < 0 || at > len(w.order) {
		at = len(w.order)
	}
	w.order = append(w.order, nil)
	copy(w.order[at+1:], w.order[at:])
	w.order[at] = n
	n.window = w
	n.tab.WindowID = w.id
	n.id = makeNodeID(w.id, n.tab.ID)
	w.byID[n.id] = n
	w.reg.byAPI[n.tab.ID] = n
	w.restamp(at, len(w.order)-1)
}

// unlink removes a node from the flat order and indexes. Tree relations are
// left to the caller.
func (w *Window) unlink(n *Node) int {
	i := n.flatIndex()
	if i < 0 {
		return -1
	}
	w.order = append(w.order[:i], w.order[i+1:]...)
	delete(w.byID, n.id)
	if w.reg.byAPI[n.tab.ID] == n {
		delete(w.reg.byAPI, n.tab.ID)
	}
	if i < len(w.order) {
		w.restamp(i, len(w.order)-1)
	}
	return i
}

// splice moves n so it sits right before target; a nil target means the end.
func (w *Window) splice(n, target *Node) {
	i := n.flatIndex()
	w.order = append(w.order[:i], w.order[i+1:]...)
	at := len(w.order)
	if target != nil {
		at = target.flatIndex()
	}
	w.order = append(w.order, nil)
	copy(w.order[at+1:], w.order[at:])
	w.order[at] = n
}

// restamp writes the advisory index of every node in [from, to].
func (w *Window) restamp(from, to int) {
	if from < 0 {
		from = 0
	}
	for i := from; i <= to && i < len(w.order); i++ {
		w.order[i].tab.Index = i
	}
}

// live reports whether n is a live node of w.
func (w *Window) live(n *Node) bool {
	return n != nil && !n.removed && n.window == w
}

// Seed adds every tab not yet known, in index order, and starts identity
// resolution. It takes the initial tabs.query result or an offline session
// file.
func (r *Registry) Seed(tabs []types.Tab) {
	sorted := append([]types.Tab(nil), tabs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].WindowID != sorted[j].WindowID {
			return sorted[i].WindowID < sorted[j].WindowID
		}
		return sorted[i].Index < sorted[j].Index
	})
	r.update(func() {
		for _, t := range sorted {
			if r.byAPI[t.ID] != nil {
				continue
			}
			w := r.ensureWindow(t.WindowID)
			n := newNode(r, t)
			w.insertAt(n, t.Index)
			r.resolveIdentity(n, false)
			r.emit(Event{Type: EventCreated, WindowID: w.id, Node: n, Index: n.tab.Index})
		}
	})
	applog.Info("registry.seeded", "tabs", len(tabs))
}
