package tree

import (
	"slices"
	"testing"

	"github.com/lotas/tabtree/internal/types"
)

func TestSeedOrdersByIndex(t *testing.T) {
	reg := New(nil)
	defer reg.Close()
	reg.Seed([]types.Tab{
		{ID: 3, WindowID: 1, Index: 2, URL: "c"},
		{ID: 1, WindowID: 1, Index: 0, URL: "a"},
		{ID: 9, WindowID: 2, Index: 0, URL: "z"},
		{ID: 2, WindowID: 1, Index: 1, URL: "b"},
	})

	if got, want := urls(reg.Window(1)), []string{"a", "b", "c"}; !slices.Equal(got, want) {
		t.Errorf("window 1 = %v, want %v", got, want)
	}
	ws := reg.Windows()
	if len(ws) != 2 || ws[0].ID() != 1 || ws[1].ID() != 2 {
		t.Errorf("Windows() = %v", ws)
	}
	b := reg.Tab(2)
	if b.ID() != "tab-1-2" || reg.Lookup("tab-1-2") != b || reg.Window(1).Get("tab-1-2") != b {
		t.Errorf("lookup by node id failed for %s", b.ID())
	}
}

func TestSubscribeAndCancel(t *testing.T) {
	reg := New(nil)
	defer reg.Close()

	var got []EventType
	cancel := reg.Subscribe(func(e Event) { got = append(got, e.Type) })
	reg.Seed([]types.Tab{{ID: 1, WindowID: 1}})
	cancel()
	reg.Seed([]types.Tab{{ID: 2, WindowID: 1, Index: 1}})

	if !slices.Equal(got, []EventType{EventCreated}) {
		t.Errorf("events = %v, want [created]", got)
	}
}

func TestListenerMayCallBack(t *testing.T) {
	reg := New(nil)
	defer reg.Close()

	var parent *Node
	reg.Subscribe(func(e Event) {
		if e.Type == EventCreated {
			parent = e.Node.Parent() // takes the lock
		}
	})
	reg.Seed([]types.Tab{{ID: 1, WindowID: 1}})
	if parent != nil {
		t.Errorf("root has parent %v", parent)
	}
}

func TestCloseWindow(t *testing.T) {
	reg := New(nil)
	defer reg.Close()
	reg.Seed([]types.Tab{{ID: 1, WindowID: 1}, {ID: 2, WindowID: 2}})
	a := reg.Tab(1)

	reg.CloseWindow(1)

	if reg.Window(1) != nil || reg.Tab(1) != nil {
		t.Error("window 1 still registered")
	}
	if !a.Removed() {
		t.Error("node of a closed window not removed")
	}
	if reg.Tab(2) == nil {
		t.Error("other window affected")
	}
}

func TestStateNames(t *testing.T) {
	tests := []struct {
		tab  types.Tab
		want string
	}{
		{types.Tab{Status: "loading"}, "loading"},
		{types.Tab{Active: true, Status: "complete"}, "active complete"},
		{types.Tab{Audible: true, Muted: true}, "audible muted"},
		{types.Tab{Audible: true, Pinned: true}, "pinned audible sound-playing"},
		{types.Tab{URL: types.GroupTabURL + "?title=x"}, "group-tab"},
	}
	for _, tt := range tests {
		n := newNode(New(nil), tt.tab)
		if got := n.state.String(); got != tt.want {
			t.Errorf("state of %+v = %q, want %q", tt.tab, got, tt.want)
		}
	}
}
