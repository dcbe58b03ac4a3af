package tree

import (
	"testing"

	"github.com/lotas/tabtree/internal/browser/browsertest"
)

// fixture seeds a registry from a fake browser whose window 1 holds one tab
// per url. Browser events are fed back into the registry.
func fixture(t *testing.T, urls []string, opts ...Option) (*Registry, *browsertest.Service) {
	t.Helper()
	svc := browsertest.New()
	for _, u := range urls {
		svc.AddTab(1, u)
	}
	reg := New(svc, append([]Option{WithAnimationDelay(0)}, opts...)...)
	svc.OnEvent = func(e browsertest.Event) { dispatch(reg, e) }
	reg.Seed(svc.Tabs(1))
	t.Cleanup(reg.Close)
	return reg, svc
}

func dispatch(reg *Registry, e browsertest.Event) {
	switch e.Type {
	case "created":
		reg.HandleCreated(e.Tab)
	case "removed":
		reg.HandleRemoved(e.TabID, e.WindowID, false)
	case "moved":
		reg.HandleMoved(e.TabID, e.WindowID, e.FromIndex, e.ToIndex)
	case "updated":
		reg.HandleUpdated(e.TabID, e.Change)
	case "activated":
		reg.HandleActivated(e.TabID, e.WindowID)
	case "detached":
		reg.HandleDetached(e.TabID, e.WindowID)
	case "attached":
		reg.HandleAttached(e.TabID, e.WindowID, e.ToIndex)
	}
}

// find returns the node whose tab has url.
func find(t *testing.T, reg *Registry, url string) *Node {
	t.Helper()
	for _, w := range reg.Windows() {
		for _, n := range w.Tabs() {
			if n.Tab().URL == url {
				return n
			}
		}
	}
	t.Fatalf("no tab with url %q", url)
	return nil
}

// urls lists a window's tab urls in flat order.
func urls(w *Window) []string {
	var out []string
	for _, n := range w.Tabs() {
		out = append(out, n.Tab().URL)
	}
	return out
}

// browserURLs lists the fake browser's window in its own order.
func browserURLs(svc *browsertest.Service, windowID int) []string {
	var out []string
	for _, tab := range svc.Tabs(windowID) {
		out = append(out, tab.URL)
	}
	return out
}

func mustAttach(t *testing.T, reg *Registry, child, parent *Node) {
	t.Helper()
	if err := reg.Attach(child, parent, AttachOptions{}); err != nil {
		t.Fatalf("Attach(%s, %s): %v", child, parent, err)
	}
}
