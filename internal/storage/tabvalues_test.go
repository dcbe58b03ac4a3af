package storage

import (
	"context"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/lotas/tabtree/internal/types"
)

func TestTabValues_RoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	v := NewTabValues(db, "default")

	var got types.PersistentID
	ok, err := v.GetTabValue(ctx, 7, "data-persistent-id", &got)
	if err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	want := types.PersistentID{ID: "tab-a", TabID: 7}
	if err := v.SetTabValue(ctx, 7, "data-persistent-id", want); err != nil {
		t.Fatalf("SetTabValue: %v", err)
	}
	ok, err = v.GetTabValue(ctx, 7, "data-persistent-id", &got)
	if err != nil || !ok {
		t.Fatalf("GetTabValue: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	// Overwrite.
	want.ID = "tab-b"
	if err := v.SetTabValue(ctx, 7, "data-persistent-id", want); err != nil {
		t.Fatalf("SetTabValue: %v", err)
	}
	v.GetTabValue(ctx, 7, "data-persistent-id", &got)
	if got.ID != "tab-b" {
		t.Errorf("expected overwrite, got %+v", got)
	}

	if err := v.RemoveTabValue(ctx, 7, "data-persistent-id"); err != nil {
		t.Fatalf("RemoveTabValue: %v", err)
	}
	ok, _ = v.GetTabValue(ctx, 7, "data-persistent-id", &got)
	if ok {
		t.Error("expected value to be removed")
	}
}

func TestTabValues_Scopes(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := NewTabValues(db, "a")
	b := NewTabValues(db, "b")

	a.SetTabValue(ctx, 1, "k", "from a")
	b.SetTabValue(ctx, 1, "k", "from b")

	var s string
	a.GetTabValue(ctx, 1, "k", &s)
	if s != "from a" {
		t.Errorf("scope a = %q", s)
	}

	if err := a.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if ok, _ := a.GetTabValue(ctx, 1, "k", &s); ok {
		t.Error("expected scope a to be empty after reset")
	}
	if ok, _ := b.GetTabValue(ctx, 1, "k", &s); !ok || s != "from b" {
		t.Errorf("scope b = %q, %v", s, ok)
	}
}

func TestTabValues_SetRaw(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	v := NewTabValues(db, "default")

	if err := v.SetRaw(ctx, 3, "k", json.RawMessage(`{"id":"tab-x","tabId":3}`)); err != nil {
		t.Fatalf("SetRaw: %v", err)
	}
	var got types.PersistentID
	if ok, err := v.GetTabValue(ctx, 3, "k", &got); !ok || err != nil {
		t.Fatalf("GetTabValue: ok=%v err=%v", ok, err)
	}
	if got.ID != "tab-x" || got.TabID != 3 {
		t.Errorf("got %+v", got)
	}

	if err := v.SetRaw(ctx, 3, "k", json.RawMessage(`{broken`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestTabValues_DecodeError(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	v := NewTabValues(db, "default")

	v.SetTabValue(ctx, 1, "k", "a string")
	var got types.PersistentID
	if _, err := v.GetTabValue(ctx, 1, "k", &got); err == nil {
		t.Error("expected decode error")
	}
}
