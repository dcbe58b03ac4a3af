package tree

import (
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/lotas/tabtree/internal/browser"
)

func TestMoveAfter(t *testing.T) {
	reg, svc := fixture(t, []string{"a", "b", "c", "d"})
	a, d := find(t, reg, "a"), find(t, reg, "d")

	moved := reg.MoveAfter([]*Node{d}, a, MoveOptions{})
	if len(moved) != 1 || moved[0] != d {
		t.Fatalf("MoveAfter returned %v, want [d]", moved)
	}

	w := reg.Window(1)
	if got, want := urls(w), []string{"a", "d", "b", "c"}; !slices.Equal(got, want) {
		t.Fatalf("local order = %v, want %v", got, want)
	}
	for i, n := range w.Tabs() {
		if n.Index() != i {
			t.Errorf("%s.Index() = %d, want %d", n.Tab().URL, n.Index(), i)
		}
	}

	reg.Wait()
	if got, want := browserURLs(svc, 1), []string{"a", "d", "b", "c"}; !slices.Equal(got, want) {
		t.Errorf("browser order = %v, want %v", got, want)
	}
	if n := w.Log().Count(KindAlreadyMoved) + w.Log().Count(KindMoving); n != 0 {
		t.Errorf("%d log entries left after the move settled", n)
	}
}

func TestMoveBeforeIsVisibleBeforeBrowserCall(t *testing.T) {
	reg, svc := fixture(t, []string{"a", "b", "c", "d"})
	gate := make(chan struct{})
	svc.MoveGate = gate
	a, d := find(t, reg, "a"), find(t, reg, "d")

	reg.MoveBefore([]*Node{a}, d, MoveOptions{})

	if next := a.Next(); next != d {
		t.Errorf("a.Next() = %v, want d", next)
	}
	if got, want := browserURLs(svc, 1), []string{"a", "b", "c", "d"}; !slices.Equal(got, want) {
		t.Errorf("browser moved before the gate opened: %v", got)
	}
	w := reg.Window(1)
	if !w.Log().Pending(KindAlreadyMoved, a.APITabID()) {
		t.Error("no already-moved entry while the browser call is outstanding")
	}

	close(gate)
	reg.Wait()

	if got, want := browserURLs(svc, 1), []string{"b", "c", "a", "d"}; !slices.Equal(got, want) {
		t.Errorf("browser order = %v, want %v", got, want)
	}
	if w.Log().Pending(KindAlreadyMoved, a.APITabID()) {
		t.Error("already-moved entry left after the echo")
	}
}

func TestMoveBlock(t *testing.T) {
	tests := []struct {
		name      string
		tabs      []string
		block     []string
		ref       string
		after     bool
		want      []string
		wantIndex int
	}{
		{"before, from the left", []string{"x", "y", "a", "b", "r"}, []string{"x", "y"}, "r", false, []string{"a", "b", "x", "y", "r"}, 3},
		{"before, three from the left", []string{"x", "y", "z", "a", "b", "r"}, []string{"x", "y", "z"}, "r", false, []string{"a", "b", "x", "y", "z", "r"}, 4},
		{"before, from the right", []string{"r", "a", "x", "y"}, []string{"x", "y"}, "r", false, []string{"x", "y", "r", "a"}, 0},
		{"before, split around ref", []string{"y", "a", "r", "x"}, []string{"x", "y"}, "r", false, []string{"a", "x", "y", "r"}, 2},
		{"after, from the left", []string{"x", "y", "r", "a"}, []string{"x", "y"}, "r", true, []string{"r", "x", "y", "a"}, 2},
		{"after, from the right", []string{"r", "a", "x", "y"}, []string{"x", "y"}, "r", true, []string{"r", "x", "y", "a"}, 1},
		{"after, gap inside block", []string{"x", "a", "y", "r", "b"}, []string{"x", "y"}, "r", true, []string{"a", "r", "x", "y", "b"}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, svc := fixture(t, tt.tabs)
			var block []*Node
			for _, u := range tt.block {
				block = append(block, find(t, reg, u))
			}
			ref := find(t, reg, tt.ref)

			if tt.after {
				reg.MoveAfter(block, ref, MoveOptions{})
			} else {
				reg.MoveBefore(block, ref, MoveOptions{})
			}
			reg.Wait()

			if got := urls(reg.Window(1)); !slices.Equal(got, tt.want) {
				t.Errorf("local order = %v, want %v", got, tt.want)
			}
			if got := browserURLs(svc, 1); !slices.Equal(got, tt.want) {
				t.Errorf("browser order = %v, want %v", got, tt.want)
			}
			calls := svc.Calls("move")
			if len(calls) != 1 || calls[0].Index != tt.wantIndex {
				t.Errorf("move calls = %+v, want one at index %d", calls, tt.wantIndex)
			}
		})
	}
}

func TestMoveAlreadyInPlace(t *testing.T) {
	reg, svc := fixture(t, []string{"a", "b", "c"})
	a, b, c := find(t, reg, "a"), find(t, reg, "b"), find(t, reg, "c")

	var mu sync.Mutex
	var events []Event
	reg.Subscribe(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	if moved := reg.MoveBefore([]*Node{a}, b, MoveOptions{}); moved != nil {
		t.Errorf("MoveBefore = %v, want nil", moved)
	}
	if moved := reg.MoveAfter([]*Node{c}, b, MoveOptions{}); moved != nil {
		t.Errorf("MoveAfter = %v, want nil", moved)
	}
	if moved := reg.MoveAfter([]*Node{b}, b, MoveOptions{}); moved != nil {
		t.Errorf("moving a tab next to itself = %v, want nil", moved)
	}
	reg.Wait()

	if calls := svc.Calls("move"); len(calls) != 0 {
		t.Errorf("got %d browser moves, want none", len(calls))
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 0 {
		t.Errorf("got %d events, want none", len(events))
	}
}

func TestMoveEmitsNeighbours(t *testing.T) {
	reg, _ := fixture(t, []string{"a", "b", "c"})
	a, b, c := find(t, reg, "a"), find(t, reg, "b"), find(t, reg, "c")

	var got []Event
	reg.Subscribe(func(e Event) { got = append(got, e) })
	reg.MoveAfter([]*Node{a}, c, MoveOptions{Broadcasted: true})

	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	e := got[0]
	if e.Type != EventMoved || e.Node != a || e.OldNext != b || e.OldPrevious != nil || e.Index != 2 {
		t.Errorf("event = %+v", e)
	}
}

func TestMoveBroadcastedSkipsBrowser(t *testing.T) {
	reg, svc := fixture(t, []string{"a", "b"})
	a, b := find(t, reg, "a"), find(t, reg, "b")

	reg.MoveAfter([]*Node{a}, b, MoveOptions{Broadcasted: true})
	reg.Wait()

	if got := svc.Calls("move"); len(got) != 0 {
		t.Errorf("got %d browser moves, want none", len(got))
	}
	if got, want := urls(reg.Window(1)), []string{"b", "a"}; !slices.Equal(got, want) {
		t.Errorf("local order = %v, want %v", got, want)
	}
}

func TestMoveFailureIsSwallowed(t *testing.T) {
	reg, svc := fixture(t, []string{"a", "b", "c"})
	svc.FailMove = fmt.Errorf("Invalid tab ID: 3: %w", browser.ErrTabVanished)
	a, c := find(t, reg, "a"), find(t, reg, "c")

	reg.MoveAfter([]*Node{a}, c, MoveOptions{})
	reg.Wait()

	w := reg.Window(1)
	if w.Log().Count(KindMoving) != 0 || w.Log().Count(KindAlreadyMoved) != 0 {
		t.Error("failed move left log entries")
	}
	if got, want := urls(w), []string{"b", "c", "a"}; !slices.Equal(got, want) {
		t.Errorf("local order = %v, want %v", got, want)
	}
}

func TestMoveDelayedWaitsForAnimation(t *testing.T) {
	reg, svc := fixture(t, []string{"a", "b"}, WithAnimationDelay(100*time.Millisecond))
	a, b := find(t, reg, "a"), find(t, reg, "b")

	reg.MoveAfter([]*Node{a}, b, MoveOptions{Delayed: true})
	if got := svc.Calls("move"); len(got) != 0 {
		t.Fatalf("browser moved before the animation delay")
	}
	reg.Wait()
	if got := svc.Calls("move"); len(got) != 1 {
		t.Errorf("got %d browser moves, want 1", len(got))
	}
}

func TestTargetIndex(t *testing.T) {
	tests := []struct {
		name     string
		from, to int
		after    bool
		want     int
	}{
		{"before, from the left", 0, 3, false, 2},
		{"before, from the right", 3, 1, false, 1},
		{"after, from the left", 0, 3, true, 3},
		{"after, from the right", 3, 0, true, 1},
		{"after, from the left past ref", 0, 2, true, 2},
		{"before, in place", 2, 2, false, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TargetIndex(tt.from, tt.to, tt.after); got != tt.want {
				t.Errorf("TargetIndex(%d, %d, %v) = %d, want %d", tt.from, tt.to, tt.after, got, tt.want)
			}
		})
	}
}
