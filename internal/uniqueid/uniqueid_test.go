package uniqueid

import (
	"context"
	"regexp"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/lotas/tabtree/internal/browser/browsertest"
	"github.com/lotas/tabtree/internal/types"
)

type liveMap map[int]string

func (m liveMap) IdentityOf(_ context.Context, apiTabID int) (string, bool) {
	id, ok := m[apiTabID]
	return id, ok
}

var idPattern = regexp.MustCompile(`^tab-[a-z]+-[a-z]+-\d+-\d{1,3}$`)

func fixedClock() time.Time { return time.UnixMilli(1700000000000) }

func stored(t *testing.T, svc *browsertest.Service, tabID int) types.PersistentID {
	t.Helper()
	var rec types.PersistentID
	raw := svc.RawValue(tabID, Key)
	if raw == "" {
		t.Fatalf("tab %d has no %s", tabID, Key)
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return rec
}

func TestResolveMintsAndPersists(t *testing.T) {
	svc := browsertest.New()
	tab := svc.AddTab(1, "a")
	r := New(svc, nil, WithClock(fixedClock), WithRand(func(n int) int { return n - 1 }))

	id, err := r.Resolve(context.Background(), tab.ID, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := "tab-zesty-zephyr-1700000000000-999"; id.ID != want {
		t.Errorf("ID = %q, want %q", id.ID, want)
	}
	if !idPattern.MatchString(id.ID) {
		t.Errorf("ID %q does not match %v", id.ID, idPattern)
	}
	if id.OriginalID != "" || id.OriginalTabID != types.NoTab || id.Duplicated || id.Restored {
		t.Errorf("fresh identity = %+v", id)
	}
	if rec := stored(t, svc, tab.ID); rec.ID != id.ID || rec.TabID != tab.ID {
		t.Errorf("stored record = %+v", rec)
	}
}

func TestResolveIsMemoized(t *testing.T) {
	svc := browsertest.New()
	tab := svc.AddTab(1, "a")
	r := New(svc, nil)

	first, err := r.Resolve(context.Background(), tab.ID, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// A record written behind the resolver's back is not consulted again.
	svc.SetRawValue(tab.ID, Key, `{"id":"other","tabId":1}`)
	second, err := r.Resolve(context.Background(), tab.ID, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first != second {
		t.Errorf("second Resolve = %+v, want %+v", second, first)
	}

	r.Forget(tab.ID)
	third, _ := r.Resolve(context.Background(), tab.ID, Options{})
	if third.ID != "other" {
		t.Errorf("after Forget ID = %q, want the stored one", third.ID)
	}
}

func TestResolveForceNew(t *testing.T) {
	svc := browsertest.New()
	tab := svc.AddTab(1, "a")
	svc.SetRawValue(tab.ID, Key, `{"id":"tab-old","tabId":1}`)
	r := New(svc, nil, WithRand(func(int) int { return 0 }))

	id, err := r.Resolve(context.Background(), tab.ID, Options{ForceNew: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.ID == "tab-old" || id.Restored {
		t.Errorf("ForceNew returned %+v", id)
	}
	if rec := stored(t, svc, tab.ID); rec.ID != id.ID {
		t.Errorf("stored %q, want %q", rec.ID, id.ID)
	}
}

func TestResolveDuplicate(t *testing.T) {
	svc := browsertest.New()
	a := svc.AddTab(1, "a")
	b := svc.AddTab(1, "b")
	// b carries a copy of a's record, and a is still alive with that id.
	svc.SetRawValue(b.ID, Key, `{"id":"tab-brave-otter-1-2","tabId":1}`)
	live := liveMap{a.ID: "tab-brave-otter-1-2"}
	r := New(svc, live)

	id, err := r.Resolve(context.Background(), b.ID, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !id.Duplicated || id.Restored {
		t.Errorf("flags = %+v, want duplicated", id)
	}
	if id.OriginalID != "tab-brave-otter-1-2" || id.OriginalTabID != a.ID {
		t.Errorf("original = %q/%d", id.OriginalID, id.OriginalTabID)
	}
	if id.ID == id.OriginalID {
		t.Error("duplicate kept the original id")
	}
	if rec := stored(t, svc, b.ID); rec.ID != id.ID || rec.TabID != b.ID {
		t.Errorf("stored record = %+v", rec)
	}
}

func TestResolveRestored(t *testing.T) {
	svc := browsertest.New()
	tab := svc.AddTab(1, "a")
	// Written in a previous session, when the tab had external id 41.
	svc.SetRawValue(tab.ID, Key, `{"id":"tab-calm-fern-5-6","tabId":41}`)
	r := New(svc, liveMap{})

	id, err := r.Resolve(context.Background(), tab.ID, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := types.UniqueID{ID: "tab-calm-fern-5-6", OriginalTabID: 41, Restored: true}
	if id != want {
		t.Errorf("Resolve = %+v, want %+v", id, want)
	}
	if rec := stored(t, svc, tab.ID); rec.TabID != tab.ID {
		t.Errorf("record not rewritten for the current tab: %+v", rec)
	}
}

func TestResolveSameTabIsNotDuplicate(t *testing.T) {
	svc := browsertest.New()
	tab := svc.AddTab(1, "a")
	svc.SetRawValue(tab.ID, Key, `{"id":"tab-x","tabId":1}`)
	r := New(svc, liveMap{tab.ID: "tab-x"})

	id, err := r.Resolve(context.Background(), tab.ID, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.ID != "tab-x" || id.Duplicated {
		t.Errorf("Resolve = %+v", id)
	}
}

func TestResolveIgnoresBrokenRecords(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing tab id", `{"id":"tab-x"}`},
		{"empty id", `{"id":"","tabId":1}`},
		{"null", `null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := browsertest.New()
			tab := svc.AddTab(1, "a")
			svc.SetRawValue(tab.ID, Key, tt.raw)
			r := New(svc, nil)

			id, err := r.Resolve(context.Background(), tab.ID, Options{})
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if id.Restored || id.Duplicated || !idPattern.MatchString(id.ID) {
				t.Errorf("Resolve = %+v, want a fresh identity", id)
			}
		})
	}
}

func TestResolveVanishedTab(t *testing.T) {
	svc := browsertest.New()
	r := New(svc, nil)

	id, err := r.Resolve(context.Background(), 42, Options{})
	if err != nil {
		t.Fatalf("Resolve on a vanished tab = %v, want nil", err)
	}
	if id.ID == "" {
		t.Error("no identity minted for a vanished tab")
	}
}

func TestRekey(t *testing.T) {
	svc := browsertest.New()
	tab := svc.AddTab(1, "a")
	r := New(svc, nil)
	first, _ := r.Resolve(context.Background(), tab.ID, Options{})

	r.Rekey(tab.ID, 500)
	got, err := r.Resolve(context.Background(), 500, Options{})
	if err != nil || got != first {
		t.Errorf("Resolve(500) = %+v, %v; want %+v", got, err, first)
	}
}
