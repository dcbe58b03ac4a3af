package server

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/lotas/tabtree/internal/applog"
	"github.com/lotas/tabtree/internal/tree"
	"github.com/lotas/tabtree/internal/types"
)

// ParseTab converts a raw JSON tab into a Tab. Legacy group tab URLs are
// rewritten to the current one.
func ParseTab(raw json.RawMessage) (types.Tab, error) {
	var tab types.Tab
	if len(raw) == 0 {
		return tab, fmt.Errorf("parse tab: empty")
	}
	if err := json.Unmarshal(raw, &tab); err != nil {
		return tab, fmt.Errorf("parse tab: %w", err)
	}
	if rest, ok := strings.CutPrefix(tab.URL, types.LegacyGroupTabURL); ok {
		tab.URL = types.GroupTabURL + rest
	}
	return tab, nil
}

// ParseTabs converts a raw JSON tab list, as sent with snapshots and query
// responses.
func ParseTabs(raw json.RawMessage) ([]types.Tab, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(raw, &raws); err != nil {
		return nil, fmt.Errorf("parse tabs: %w", err)
	}
	tabs := make([]types.Tab, 0, len(raws))
	for _, r := range raws {
		tab, err := ParseTab(r)
		if err != nil {
			return nil, err
		}
		tabs = append(tabs, tab)
	}
	return tabs, nil
}

// ParseChanges converts a tabs.onUpdated change set.
func ParseChanges(raw json.RawMessage) (types.ChangeInfo, error) {
	var c types.ChangeInfo
	if len(raw) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("parse changes: %w", err)
	}
	if c.URL != nil {
		if rest, ok := strings.CutPrefix(*c.URL, types.LegacyGroupTabURL); ok {
			u := types.GroupTabURL + rest
			c.URL = &u
		}
	}
	return c, nil
}

// Apply feeds one extension event into the registry.
func Apply(reg *tree.Registry, msg IncomingMsg) error {
	switch msg.Type {
	case "snapshot":
		tabs, err := ParseTabs(msg.Tabs)
		if err != nil {
			return err
		}
		reg.Seed(tabs)
	case "tab.created":
		tab, err := ParseTab(msg.Tab)
		if err != nil {
			return err
		}
		reg.HandleCreated(tab)
	case "tab.removed":
		reg.HandleRemoved(msg.TabID, msg.WindowID, msg.Closing)
	case "tab.moved":
		reg.HandleMoved(msg.TabID, msg.WindowID, msg.FromIndex, msg.ToIndex)
	case "tab.updated":
		c, err := ParseChanges(msg.Changes)
		if err != nil {
			return err
		}
		reg.HandleUpdated(msg.TabID, c)
	case "tab.activated":
		reg.HandleActivated(msg.TabID, msg.WindowID)
	case "tab.detached":
		reg.HandleDetached(msg.TabID, msg.WindowID)
	case "tab.attached":
		reg.HandleAttached(msg.TabID, msg.WindowID, msg.ToIndex)
	case "tab.replaced":
		reg.HandleReplaced(msg.TabID, msg.RemovedTabID)
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	return nil
}

// Run applies events from s to reg, in arrival order, until ctx is done.
// Responses queued behind events are delivered once those events are
// applied, so a caller never sees the result of a call before the events
// the browser sent ahead of it. Registry listeners run on this goroutine and
// must not wait on browser calls.
func Run(ctx context.Context, s *Server, reg *tree.Registry) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.Messages():
			if msg.Type == "response" {
				s.deliver(msg)
				continue
			}
			if err := Apply(reg, msg); err != nil {
				applog.Error("ws.apply", err, "type", msg.Type)
			}
			s.applied()
		}
	}
}
