package export

import (
	"time"

	json "github.com/goccy/go-json"
)

type jsonExport struct {
	Profile    string     `json:"profile"`
	WindowID   int        `json:"window_id,omitempty"`
	ExportedAt time.Time  `json:"exported_at"`
	Tabs       []*jsonTab `json:"tabs"`
}

type jsonTab struct {
	ID        string     `json:"id,omitempty"`
	Title     string     `json:"title"`
	URL       string     `json:"url"`
	States    []string   `json:"states,omitempty"`
	Pinned    bool       `json:"pinned,omitempty"`
	Collapsed bool       `json:"collapsed,omitempty"`
	Children  []*jsonTab `json:"children,omitempty"`
}

// JSON formats a tree as a JSON document with children nested under their
// parents.
func JSON(profile string, windowID int, entries []Entry) (string, error) {
	out := jsonExport{
		Profile:    profile,
		WindowID:   windowID,
		ExportedAt: time.Now(),
		Tabs:       make([]*jsonTab, 0),
	}

	built := make([]*jsonTab, len(entries))
	for i, e := range entries {
		t := &jsonTab{
			ID:        e.UniqueID,
			Title:     e.Title,
			URL:       e.URL,
			States:    e.States,
			Pinned:    e.Pinned,
			Collapsed: e.Collapsed,
		}
		built[i] = t
		if e.Parent >= 0 && e.Parent < i {
			p := built[e.Parent]
			p.Children = append(p.Children, t)
			continue
		}
		out.Tabs = append(out.Tabs, t)
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}
