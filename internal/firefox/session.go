package firefox

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/pierrec/lz4/v4"

	"github.com/lotas/tabtree/internal/types"
)

// TreeStyleTabID is the extension id Tree Style Tab stores its values under.
const TreeStyleTabID = "treestyletab@piro.sakura.ne.jp"

// mozlz4 header: 8-byte magic "mozLz40\x00"
var mozLz4Magic = []byte("mozLz40\x00")

// DecompressMozLz4 decompresses data in Mozilla's mozlz4 format.
// The format is: 8-byte magic "mozLz40\x00" + 4-byte LE uint32 uncompressed size + lz4 block data.
func DecompressMozLz4(data []byte) ([]byte, error) {
	const headerSize = 12 // 8 magic + 4 size

	if len(data) < headerSize {
		return nil, fmt.Errorf("mozlz4: data too short (%d bytes)", len(data))
	}
	if !bytes.Equal(data[:len(mozLz4Magic)], mozLz4Magic) {
		return nil, fmt.Errorf("mozlz4: invalid header magic")
	}

	uncompressedSize := binary.LittleEndian.Uint32(data[8:12])

	dst := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(data[headerSize:], dst)
	if err != nil {
		return nil, fmt.Errorf("mozlz4: decompress failed: %w", err)
	}
	return dst[:n], nil
}

// Raw JSON types for Firefox session file parsing.
type rawEntry struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type rawTab struct {
	Entries []rawEntry        `json:"entries"`
	Index   int               `json:"index"`
	Pinned  bool              `json:"pinned"`
	Muted   bool              `json:"muted"`
	UserCtx int               `json:"userContextId"`
	ExtData map[string]string `json:"extData"`
}

type rawWindow struct {
	Tabs     []rawTab `json:"tabs"`
	Selected int      `json:"selected"` // 1-based
}

type rawSession struct {
	Windows []rawWindow `json:"windows"`
}

// SessionTab is a restored tab with the values extensions stored for it
// through the sessions API, keyed without the extension prefix.
type SessionTab struct {
	Tab    types.Tab
	Values map[string]json.RawMessage
}

// Session is the tab state of a profile as Firefox wrote it to disk.
// Session files carry no tab or window ids; ParseSession numbers windows
// from 1 and AssignTabIDs hands out tab ids.
type Session struct {
	Windows [][]SessionTab
}

// ParseSession parses raw JSON session data. Values stored by extensionID
// are collected per tab; other extensions' data is ignored.
func ParseSession(data []byte, extensionID string) (*Session, error) {
	var raw rawSession
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse session JSON: %w", err)
	}

	prefix := "extension:" + extensionID + ":"
	s := &Session{}
	for winIdx, window := range raw.Windows {
		windowID := winIdx + 1
		var tabs []SessionTab
		for i, rt := range window.Tabs {
			if len(rt.Entries) == 0 {
				continue
			}

			// index is 1-based; current page is entries[index-1].
			entryIdx := rt.Index - 1
			if entryIdx < 0 || entryIdx >= len(rt.Entries) {
				entryIdx = len(rt.Entries) - 1
			}
			entry := rt.Entries[entryIdx]

			st := SessionTab{
				Tab: types.Tab{
					WindowID:  windowID,
					Index:     len(tabs),
					URL:       entry.URL,
					Title:     entry.Title,
					Active:    i+1 == window.Selected,
					Pinned:    rt.Pinned,
					Muted:     rt.Muted,
					Discarded: true,
				},
			}
			if rt.UserCtx > 0 {
				st.Tab.CookieStoreID = fmt.Sprintf("firefox-container-%d", rt.UserCtx)
			}
			if rest, ok := strings.CutPrefix(st.Tab.URL, types.LegacyGroupTabURL); ok {
				st.Tab.URL = types.GroupTabURL + rest
			}
			for k, v := range rt.ExtData {
				key, ok := strings.CutPrefix(k, prefix)
				if !ok {
					continue
				}
				if st.Values == nil {
					st.Values = make(map[string]json.RawMessage)
				}
				st.Values[key] = json.RawMessage(v)
			}
			tabs = append(tabs, st)
		}
		s.Windows = append(s.Windows, tabs)
	}
	return s, nil
}

// AssignTabIDs gives every tab an external id. A tab keeps the id recorded
// in its persisted identity under key when no earlier tab claimed it, so
// tabs sharing a record are told apart the way a live browser would: the
// first one holds the identity, the rest read as duplicates. Every other
// tab gets a fresh id above all recorded ones.
func (s *Session) AssignTabIDs(key string) {
	claimed := make(map[int]bool)
	maxID := 0
	var fresh []*SessionTab
	for w := range s.Windows {
		for i := range s.Windows[w] {
			st := &s.Windows[w][i]
			var rec types.PersistentID
			if raw, ok := st.Values[key]; ok && json.Unmarshal(raw, &rec) == nil && rec.Valid() && rec.TabID > 0 && !claimed[rec.TabID] {
				st.Tab.ID = rec.TabID
				claimed[rec.TabID] = true
				maxID = max(maxID, rec.TabID)
				continue
			}
			fresh = append(fresh, st)
		}
	}
	for _, st := range fresh {
		maxID++
		st.Tab.ID = maxID
	}
}

// Tabs returns every tab of every window.
func (s *Session) Tabs() []types.Tab {
	var out []types.Tab
	for _, w := range s.Windows {
		for _, st := range w {
			out = append(out, st.Tab)
		}
	}
	return out
}

// RawStore takes per-tab values that are already JSON encoded.
type RawStore interface {
	SetRaw(ctx context.Context, tabID int, key string, raw json.RawMessage) error
}

// Import copies every tab's values into store and returns how many were
// written. Tab ids must be assigned first.
func (s *Session) Import(ctx context.Context, store RawStore) (int, error) {
	n := 0
	for _, w := range s.Windows {
		for _, st := range w {
			for key, raw := range st.Values {
				if err := store.SetRaw(ctx, st.Tab.ID, key, raw); err != nil {
					return n, err
				}
				n++
			}
		}
	}
	return n, nil
}

// sessionFile returns the newest session file of a profile: recovery.jsonlz4
// (active session) or previous.jsonlz4 (last closed session).
func sessionFile(profileDir string) (string, bool) {
	backupDir := filepath.Join(profileDir, "sessionstore-backups")
	for _, name := range []string{"recovery.jsonlz4", "previous.jsonlz4"} {
		p := filepath.Join(backupDir, name)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// ReadSessionFile reads and parses the session file of the given profile
// directory.
func ReadSessionFile(profileDir, extensionID string) (*Session, error) {
	path, ok := sessionFile(profileDir)
	if !ok {
		return nil, fmt.Errorf("no session file found in %s", filepath.Join(profileDir, "sessionstore-backups"))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	decompressed, err := DecompressMozLz4(data)
	if err != nil {
		return nil, fmt.Errorf("decompress session file: %w", err)
	}
	return ParseSession(decompressed, extensionID)
}
