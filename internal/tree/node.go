package tree

import (
	"context"
	"fmt"
	"strings"

	"github.com/lotas/tabtree/internal/types"
)

// State is a set of independent node flags.
type State uint32

const (
	StateActive State = 1 << iota
	StatePinned
	StateAudible
	StateMuted
	StateSoundPlaying
	StateSubtreeCollapsed
	StateCollapsedByAncestor
	StateDiscarded
	StateLoading
	StateComplete
	StateGroupTab
	StatePrivateBrowsing
	StateUnread
	StateHasSoundPlayingMember
	StateHasMutedMember
)

var stateNames = []string{
	"active",
	"pinned",
	"audible",
	"muted",
	"sound-playing",
	"subtree-collapsed",
	"collapsed",
	"discarded",
	"loading",
	"complete",
	"group-tab",
	"private-browsing",
	"unread",
	"has-sound-playing-member",
	"has-muted-member",
}

// Has reports whether every flag in f is set.
func (s State) Has(f State) bool { return s&f == f }

// Names returns the flag names in declaration order.
func (s State) Names() []string {
	var out []string
	for i, name := range stateNames {
		if s&(1<<i) != 0 {
			out = append(out, name)
		}
	}
	return out
}

func (s State) String() string { return strings.Join(s.Names(), " ") }

func (s *State) set(f State, on bool) {
	if on {
		*s |= f
	} else {
		*s &^= f
	}
}

// Node is one browser tab mirrored locally. All exported methods are safe
// for concurrent use; they read under the registry lock.
type Node struct {
	reg      *Registry
	window   *Window
	id       string
	tab      types.Tab
	state    State
	parentID string // non-owning; resolved through window.byID
	children []*Node
	removed  bool

	uid    *pendingID
	closed chan struct{}
}

type pendingID struct {
	done chan struct{}
	val  types.UniqueID
	err  error
}

func makeNodeID(windowID, apiTabID int) string {
	return fmt.Sprintf("tab-%d-%d", windowID, apiTabID)
}

func newNode(reg *Registry, tab types.Tab) *Node {
	n := &Node{
		reg:    reg,
		tab:    tab,
		closed: make(chan struct{}),
	}
	n.applyTab()
	return n
}

// applyTab derives the state flags carried by the external tab record.
func (n *Node) applyTab() {
	t := n.tab
	n.state.set(StateActive, t.Active)
	n.state.set(StatePinned, t.Pinned)
	n.state.set(StateAudible, t.Audible)
	n.state.set(StateMuted, t.Muted)
	n.state.set(StateSoundPlaying, t.Audible && !t.Muted)
	n.state.set(StateDiscarded, t.Discarded)
	n.state.set(StatePrivateBrowsing, t.Incognito)
	n.state.set(StateGroupTab, t.IsGroupTab())
	switch t.Status {
	case "loading":
		n.state.set(StateLoading, true)
		n.state.set(StateComplete, false)
	case "complete":
		n.state.set(StateLoading, false)
		n.state.set(StateComplete, true)
	}
}

// ID returns the process-local node id. It changes only when the node moves
// to another window.
func (n *Node) ID() string {
	n.reg.mu.Lock()
	defer n.reg.mu.Unlock()
	return n.id
}

// APITabID returns the current external tab id. It is replaced when the
// browser reassigns ids, so callers must not cache it.
func (n *Node) APITabID() int {
	n.reg.mu.Lock()
	defer n.reg.mu.Unlock()
	return n.tab.ID
}

// WindowID returns the id of the window that owns the node.
func (n *Node) WindowID() int {
	n.reg.mu.Lock()
	defer n.reg.mu.Unlock()
	return n.tab.WindowID
}

// Index returns the advisory flat index last stamped on the node.
func (n *Node) Index() int {
	n.reg.mu.Lock()
	defer n.reg.mu.Unlock()
	return n.tab.Index
}

// Tab returns a copy of the external tab record.
func (n *Node) Tab() types.Tab {
	n.reg.mu.Lock()
	defer n.reg.mu.Unlock()
	return n.tab
}

// State returns the node's flags.
func (n *Node) State() State {
	n.reg.mu.Lock()
	defer n.reg.mu.Unlock()
	return n.state
}

// Removed reports whether the node was destroyed.
func (n *Node) Removed() bool {
	n.reg.mu.Lock()
	defer n.reg.mu.Unlock()
	return n.removed
}

// Closed is closed when the node is destroyed.
func (n *Node) Closed() <-chan struct{} { return n.closed }

// Parent returns the parent node or nil for a root.
func (n *Node) Parent() *Node {
	n.reg.mu.Lock()
	defer n.reg.mu.Unlock()
	return n.parentNode()
}

// Children returns a copy of the ordered children.
func (n *Node) Children() []*Node {
	n.reg.mu.Lock()
	defer n.reg.mu.Unlock()
	return append([]*Node(nil), n.children...)
}

// Descendants returns all descendants in tree order.
func (n *Node) Descendants() []*Node {
	n.reg.mu.Lock()
	defer n.reg.mu.Unlock()
	return n.descendants()
}

// Ancestors returns the parent chain, nearest first.
func (n *Node) Ancestors() []*Node {
	n.reg.mu.Lock()
	defer n.reg.mu.Unlock()
	return n.ancestors()
}

// Next returns the next node in the window's flat order.
func (n *Node) Next() *Node {
	n.reg.mu.Lock()
	defer n.reg.mu.Unlock()
	return n.next()
}

// Previous returns the previous node in the window's flat order.
func (n *Node) Previous() *Node {
	n.reg.mu.Lock()
	defer n.reg.mu.Unlock()
	return n.prev()
}

// NextSibling returns the next node sharing the parent, roots included.
func (n *Node) NextSibling() *Node {
	n.reg.mu.Lock()
	defer n.reg.mu.Unlock()
	return n.nextSibling()
}

// PreviousSibling returns the previous node sharing the parent.
func (n *Node) PreviousSibling() *Node {
	n.reg.mu.Lock()
	defer n.reg.mu.Unlock()
	return n.prevSibling()
}

// UniqueID waits for the node's durable identity.
func (n *Node) UniqueID(ctx context.Context) (types.UniqueID, error) {
	n.reg.mu.Lock()
	p := n.uid
	n.reg.mu.Unlock()
	if p == nil {
		return types.UniqueID{}, nil
	}
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		return types.UniqueID{}, ctx.Err()
	}
}

func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	return n.id
}

// --- lock-held helpers ---

func (n *Node) parentNode() *Node {
	if n.parentID == "" || n.window == nil {
		return nil
	}
	return n.window.byID[n.parentID]
}

func (n *Node) siblings() []*Node {
	if p := n.parentNode(); p != nil {
		return p.children
	}
	if n.window == nil {
		return nil
	}
	return n.window.roots()
}

func (n *Node) nextSibling() *Node {
	sibs := n.siblings()
	for i, s := range sibs {
		if s == n && i+1 < len(sibs) {
			return sibs[i+1]
		}
	}
	return nil
}

func (n *Node) prevSibling() *Node {
	sibs := n.siblings()
	for i, s := range sibs {
		if s == n && i > 0 {
			return sibs[i-1]
		}
	}
	return nil
}

func (n *Node) flatIndex() int {
	if n.window == nil {
		return -1
	}
	for i, m := range n.window.order {
		if m == n {
			return i
		}
	}
	return -1
}

func (n *Node) next() *Node {
	i := n.flatIndex()
	if i < 0 || i+1 >= len(n.window.order) {
		return nil
	}
	return n.window.order[i+1]
}

func (n *Node) prev() *Node {
	i := n.flatIndex()
	if i <= 0 {
		return nil
	}
	return n.window.order[i-1]
}

// ancestors walks toward the root. The visited set stops the walk on a
// corrupted chain instead of looping.
func (n *Node) ancestors() []*Node {
	var out []*Node
	seen := map[*Node]bool{n: true}
	for p := n.parentNode(); p != nil && !seen[p]; p = p.parentNode() {
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func (n *Node) root() *Node {
	anc := n.ancestors()
	if len(anc) == 0 {
		return n
	}
	return anc[len(anc)-1]
}

func (n *Node) isAncestorOf(m *Node) bool {
	for _, a := range m.ancestors() {
		if a == n {
			return true
		}
	}
	return false
}

func (n *Node) descendants() []*Node {
	var out []*Node
	stack := make([]*Node, 0, len(n.children))
	for i := len(n.children) - 1; i >= 0; i-- {
		stack = append(stack, n.children[i])
	}
	seen := map[*Node]bool{n: true}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
		for i := len(c.children) - 1; i >= 0; i-- {
			stack = append(stack, c.children[i])
		}
	}
	return out
}

// subtree returns n followed by its descendants in flat order.
func (n *Node) subtree() []*Node {
	set := map[*Node]bool{n: true}
	for _, d := range n.descendants() {
		set[d] = true
	}
	out := make([]*Node, 0, len(set))
	for _, m := range n.window.order {
		if set[m] {
			out = append(out, m)
		}
	}
	return out
}

// lastDescendant returns the last node of n's subtree in flat order.
func (n *Node) lastDescendant() *Node {
	sub := n.subtree()
	return sub[len(sub)-1]
}

func (n *Node) childIndex(c *Node) int {
	for i, m := range n.children {
		if m == c {
			return i
		}
	}
	return -1
}

func (n *Node) removeChild(c *Node) {
	if i := n.childIndex(c); i >= 0 {
		n.children = append(n.children[:i], n.children[i+1:]...)
	}
}

func (n *Node) insertChild(c *Node, at int) {
	if at < 0 || at > len(n.children) {
		at = len(n.children)
	}
	n.children = append(n.children, nil)
	copy(n.children[at+1:], n.children[at:])
	n.children[at] = c
}
