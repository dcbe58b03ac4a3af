package server

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/lotas/tabtree/internal/browser"
	"github.com/lotas/tabtree/internal/types"
)

var _ browser.Service = (*Server)(nil)

func (s *Server) Create(ctx context.Context, props types.CreateProperties) (types.Tab, error) {
	resp, err := s.Call(ctx, OutgoingMsg{Action: "tabs.create", Props: props})
	if err != nil {
		return types.Tab{}, err
	}
	return ParseTab(resp.Tab)
}

func (s *Server) Remove(ctx context.Context, tabIDs []int) error {
	_, err := s.Call(ctx, OutgoingMsg{Action: "tabs.remove", TabIDs: tabIDs})
	return err
}

func (s *Server) Move(ctx context.Context, tabIDs []int, windowID, index int) error {
	_, err := s.Call(ctx, OutgoingMsg{Action: "tabs.move", TabIDs: tabIDs, WindowID: windowID, Index: &index})
	return err
}

func (s *Server) Update(ctx context.Context, tabID int, change types.ChangeInfo) (types.Tab, error) {
	resp, err := s.Call(ctx, OutgoingMsg{Action: "tabs.update", TabID: tabID, Changes: change})
	if err != nil {
		return types.Tab{}, err
	}
	return ParseTab(resp.Tab)
}

func (s *Server) Get(ctx context.Context, tabID int) (types.Tab, error) {
	resp, err := s.Call(ctx, OutgoingMsg{Action: "tabs.get", TabID: tabID})
	if err != nil {
		return types.Tab{}, err
	}
	return ParseTab(resp.Tab)
}

func (s *Server) Query(ctx context.Context, q types.QueryInfo) ([]types.Tab, error) {
	resp, err := s.Call(ctx, OutgoingMsg{Action: "tabs.query", Query: q})
	if err != nil {
		return nil, err
	}
	return ParseTabs(resp.Tabs)
}

func (s *Server) GetTabValue(ctx context.Context, tabID int, key string, v any) (bool, error) {
	resp, err := s.Call(ctx, OutgoingMsg{Action: "sessions.getTabValue", TabID: tabID, Key: key})
	if err != nil {
		return false, err
	}
	if len(resp.Value) == 0 || string(resp.Value) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(resp.Value, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Server) SetTabValue(ctx context.Context, tabID int, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = s.Call(ctx, OutgoingMsg{Action: "sessions.setTabValue", TabID: tabID, Key: key, Value: raw})
	return err
}

func (s *Server) RemoveTabValue(ctx context.Context, tabID int, key string) error {
	_, err := s.Call(ctx, OutgoingMsg{Action: "sessions.removeTabValue", TabID: tabID, Key: key})
	return err
}
