// Package browsertest provides an in-memory browser.Service for tests.
package browsertest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/lotas/tabtree/internal/browser"
	"github.com/lotas/tabtree/internal/types"
)

// Event is a notification the fake browser emits after a call changed its
// state, mirroring tabs.onCreated, tabs.onMoved and friends.
type Event struct {
	Type      string // created, removed, moved, updated, activated, detached, attached
	Tab       types.Tab
	TabID     int
	WindowID  int
	FromIndex int
	ToIndex   int
	Change    types.ChangeInfo
}

// Call records one invocation of the service.
type Call struct {
	Method   string
	TabIDs   []int
	WindowID int
	Index    int
}

// Service is a fake browser with ordered windows and per-tab session values.
// It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	nextID  int
	windows map[int][]types.Tab
	values  map[int]map[string][]byte
	calls   []Call

	// OnEvent receives events after the call that caused them released the
	// fake's lock. Nil drops events.
	OnEvent func(Event)

	// MoveGate, when set, makes Move wait for a receive before applying.
	MoveGate chan struct{}

	// FailMove, when set, is returned by Move without applying anything.
	FailMove error
}

// New returns an empty fake browser. External ids start at 1.
func New() *Service {
	return &Service{
		nextID:  1,
		windows: make(map[int][]types.Tab),
		values:  make(map[int]map[string][]byte),
	}
}

var _ browser.Service = (*Service)(nil)

// AddTab appends a tab to a window without emitting events.
func (s *Service) AddTab(windowID int, url string) types.Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab := types.Tab{ID: s.nextID, WindowID: windowID, URL: url, Title: url, Status: "complete"}
	s.nextID++
	s.windows[windowID] = append(s.windows[windowID], tab)
	s.reindex(windowID)
	return s.windows[windowID][len(s.windows[windowID])-1]
}

// Tabs returns a copy of a window's tabs in order.
func (s *Service) Tabs(windowID int) []types.Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Tab(nil), s.windows[windowID]...)
}

// Order returns the external ids of a window in order.
func (s *Service) Order(windowID int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, len(s.windows[windowID]))
	for i, t := range s.windows[windowID] {
		ids[i] = t.ID
	}
	return ids
}

// Calls returns the recorded calls, optionally filtered by method.
func (s *Service) Calls(method string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// SetRawValue stores a session value as raw JSON, bypassing validation.
func (s *Service) SetRawValue(tabID int, key, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[tabID] == nil {
		s.values[tabID] = make(map[string][]byte)
	}
	s.values[tabID][key] = []byte(raw)
}

// RawValue returns the JSON stored under key, or "".
func (s *Service) RawValue(tabID int, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.values[tabID][key])
}

func (s *Service) Create(ctx context.Context, props types.CreateProperties) (types.Tab, error) {
	s.mu.Lock()
	tab := types.Tab{
		ID:          s.nextID,
		WindowID:    props.WindowID,
		URL:         props.URL,
		Title:       props.URL,
		Status:      "loading",
		Active:      props.Active,
		OpenerTabID: props.OpenerTabID,
	}
	s.nextID++
	tabs := s.windows[props.WindowID]
	at := len(tabs)
	if props.Index != nil && *props.Index >= 0 && *props.Index < at {
		at = *props.Index
	}
	tabs = append(tabs, types.Tab{})
	copy(tabs[at+1:], tabs[at:])
	tabs[at] = tab
	s.windows[props.WindowID] = tabs
	s.reindex(props.WindowID)
	tab = tabs[at]
	s.calls = append(s.calls, Call{Method: "create", TabIDs: []int{tab.ID}, WindowID: props.WindowID, Index: at})
	s.mu.Unlock()

	s.emit(Event{Type: "created", Tab: tab, TabID: tab.ID, WindowID: tab.WindowID, ToIndex: tab.Index})
	return tab, nil
}

func (s *Service) Remove(ctx context.Context, tabIDs []int) error {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: "remove", TabIDs: tabIDs})
	var events []Event
	for _, id := range tabIDs {
		wid, i, ok := s.find(id)
		if !ok {
			s.mu.Unlock()
			return fmt.Errorf("Invalid tab ID: %d: %w", id, browser.ErrTabVanished)
		}
		s.windows[wid] = append(s.windows[wid][:i], s.windows[wid][i+1:]...)
		s.reindex(wid)
		delete(s.values, id)
		events = append(events, Event{Type: "removed", TabID: id, WindowID: wid})
	}
	s.mu.Unlock()

	for _, e := range events {
		s.emit(e)
	}
	return nil
}

// Move moves the tabs one at a time, as a browser does for a multi-tab move:
// the first is lifted out and lands at index, each following tab lands right
// after the one before it. Index -1 means the end of the window. Tabs must
// share one window.
func (s *Service) Move(ctx context.Context, tabIDs []int, windowID, index int) error {
	if s.MoveGate != nil {
		select {
		case <-s.MoveGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: "move", TabIDs: append([]int(nil), tabIDs...), WindowID: windowID, Index: index})
	if s.FailMove != nil {
		err := s.FailMove
		s.mu.Unlock()
		return err
	}
	wid := windowID
	for _, id := range tabIDs {
		w, _, ok := s.find(id)
		if !ok {
			s.mu.Unlock()
			return fmt.Errorf("Invalid tab ID: %d: %w", id, browser.ErrTabVanished)
		}
		wid = w
	}
	if windowID != 0 && windowID != wid {
		events := s.transfer(tabIDs, wid, windowID, index)
		s.mu.Unlock()
		for _, e := range events {
			s.emit(e)
		}
		return nil
	}

	var events []Event
	for n, id := range tabIDs {
		tabs := s.windows[wid]
		from := indexOf(tabs, id)
		tab := tabs[from]
		tabs = slices.Delete(tabs, from, from+1)
		at := index
		if n > 0 {
			at = indexOf(tabs, tabIDs[n-1]) + 1
		}
		if at < 0 || at > len(tabs) {
			at = len(tabs)
		}
		s.windows[wid] = slices.Insert(tabs, at, tab)
		s.reindex(wid)
		if at != from {
			events = append(events, Event{Type: "moved", TabID: id, WindowID: wid, FromIndex: from, ToIndex: at})
		}
	}
	s.mu.Unlock()

	for _, e := range events {
		s.emit(e)
	}
	return nil
}

func (s *Service) Update(ctx context.Context, tabID int, change types.ChangeInfo) (types.Tab, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: "update", TabIDs: []int{tabID}})
	wid, i, ok := s.find(tabID)
	if !ok {
		s.mu.Unlock()
		return types.Tab{}, fmt.Errorf("Invalid tab ID: %d: %w", tabID, browser.ErrTabVanished)
	}
	var events []Event
	if change.Active != nil && *change.Active {
		for j := range s.windows[wid] {
			s.windows[wid][j].Active = j == i
		}
		events = append(events, Event{Type: "activated", TabID: tabID, WindowID: wid})
		change.Active = nil
	}
	change.Apply(&s.windows[wid][i])
	if change != (types.ChangeInfo{}) {
		events = append(events, Event{Type: "updated", TabID: tabID, WindowID: wid, Change: change})
	}
	tab := s.windows[wid][i]
	s.mu.Unlock()

	for _, e := range events {
		s.emit(e)
	}
	return tab, nil
}

func (s *Service) Get(ctx context.Context, tabID int) (types.Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "get", TabIDs: []int{tabID}})
	wid, i, ok := s.find(tabID)
	if !ok {
		return types.Tab{}, fmt.Errorf("Invalid tab ID: %d: %w", tabID, browser.ErrTabVanished)
	}
	return s.windows[wid][i], nil
}

func (s *Service) Query(ctx context.Context, q types.QueryInfo) ([]types.Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "query", WindowID: q.WindowID})
	var out []types.Tab
	for wid, tabs := range s.windows {
		if q.WindowID != 0 && wid != q.WindowID {
			continue
		}
		for _, t := range tabs {
			if q.Active != nil && t.Active != *q.Active {
				continue
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Service) GetTabValue(ctx context.Context, tabID int, key string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, _, ok := s.find(tabID); !ok {
		return false, fmt.Errorf("Invalid tab ID: %d: %w", tabID, browser.ErrTabVanished)
	}
	raw, ok := s.values[tabID][key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Service) SetTabValue(ctx context.Context, tabID int, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, _, ok := s.find(tabID); !ok {
		return fmt.Errorf("Invalid tab ID: %d: %w", tabID, browser.ErrTabVanished)
	}
	if s.values[tabID] == nil {
		s.values[tabID] = make(map[string][]byte)
	}
	s.values[tabID][key] = raw
	return nil
}

func (s *Service) RemoveTabValue(ctx context.Context, tabID int, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values[tabID], key)
	return nil
}

// Duplicate copies a tab, including its session values, to the position
// right after it. Like a browser duplicate, the copy carries the source's
// stored values.
func (s *Service) Duplicate(tabID int) (types.Tab, error) {
	s.mu.Lock()
	wid, i, ok := s.find(tabID)
	if !ok {
		s.mu.Unlock()
		return types.Tab{}, fmt.Errorf("Invalid tab ID: %d: %w", tabID, browser.ErrTabVanished)
	}
	tab := s.windows[wid][i]
	tab.ID = s.nextID
	tab.Active = false
	s.nextID++
	tabs := append(s.windows[wid], types.Tab{})
	copy(tabs[i+2:], tabs[i+1:])
	tabs[i+1] = tab
	s.windows[wid] = tabs
	s.reindex(wid)
	for k, v := range s.values[tabID] {
		if s.values[tab.ID] == nil {
			s.values[tab.ID] = make(map[string][]byte)
		}
		s.values[tab.ID][k] = append([]byte(nil), v...)
	}
	tab = tabs[i+1]
	s.mu.Unlock()

	s.emit(Event{Type: "created", Tab: tab, TabID: tab.ID, WindowID: wid, ToIndex: tab.Index})
	return tab, nil
}

// transfer moves tabs from window src to dst, emitting a detached/attached
// pair per tab like a browser does.
func (s *Service) transfer(tabIDs []int, src, dst, index int) []Event {
	var events []Event
	at := index
	for _, id := range tabIDs {
		_, i, _ := s.find(id)
		tab := s.windows[src][i]
		s.windows[src] = append(s.windows[src][:i], s.windows[src][i+1:]...)
		events = append(events, Event{Type: "detached", TabID: id, WindowID: src, FromIndex: i})

		tabs := s.windows[dst]
		if at < 0 || at > len(tabs) {
			at = len(tabs)
		}
		tab.WindowID = dst
		tabs = append(tabs, types.Tab{})
		copy(tabs[at+1:], tabs[at:])
		tabs[at] = tab
		s.windows[dst] = tabs
		events = append(events, Event{Type: "attached", TabID: id, WindowID: dst, ToIndex: at})
		at++
	}
	s.reindex(src)
	s.reindex(dst)
	return events
}

func (s *Service) find(tabID int) (windowID, index int, ok bool) {
	for wid, tabs := range s.windows {
		for i, t := range tabs {
			if t.ID == tabID {
				return wid, i, true
			}
		}
	}
	return 0, 0, false
}

func indexOf(tabs []types.Tab, tabID int) int {
	return slices.IndexFunc(tabs, func(t types.Tab) bool { return t.ID == tabID })
}

func (s *Service) reindex(windowID int) {
	for i := range s.windows[windowID] {
		s.windows[windowID][i].Index = i
	}
}

func (s *Service) emit(e Event) {
	if s.OnEvent != nil {
		s.OnEvent(e)
	}
}
