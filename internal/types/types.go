package types

import "strings"

// NoTab is the external id used when a tab id is unknown or absent.
const NoTab = -1

// GroupTabURL is the prefix of the extension page used as a "group tab".
const GroupTabURL = "about:treestyletab-group"

// LegacyGroupTabURL is rewritten to GroupTabURL when seen.
const LegacyGroupTabURL = "about:treestyletab-legacy-group"

// Tab is a browser tab as reported by the external tab service.
type Tab struct {
	ID            int    `json:"id"`
	WindowID      int    `json:"windowId"`
	Index         int    `json:"index"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	Status        string `json:"status,omitempty"` // "loading" or "complete"
	Active        bool   `json:"active"`
	Pinned        bool   `json:"pinned"`
	Audible       bool   `json:"audible"`
	Muted         bool   `json:"muted"`
	Discarded     bool   `json:"discarded"`
	Incognito     bool   `json:"incognito"`
	OpenerTabID   int    `json:"openerTabId,omitempty"`
	CookieStoreID string `json:"cookieStoreId,omitempty"`
}

// IsGroupTab reports whether the tab shows the group tab page.
func (t Tab) IsGroupTab() bool {
	return strings.HasPrefix(t.URL, GroupTabURL)
}

// ChangeInfo is a partial tab update. Nil fields are unchanged.
type ChangeInfo struct {
	URL       *string `json:"url,omitempty"`
	Title     *string `json:"title,omitempty"`
	Status    *string `json:"status,omitempty"`
	Pinned    *bool   `json:"pinned,omitempty"`
	Audible   *bool   `json:"audible,omitempty"`
	Muted     *bool   `json:"muted,omitempty"`
	Discarded *bool   `json:"discarded,omitempty"`
	Incognito *bool   `json:"incognito,omitempty"`
	Active    *bool   `json:"active,omitempty"`
}

// Apply copies the set fields of c onto t.
func (c ChangeInfo) Apply(t *Tab) {
	if c.URL != nil {
		t.URL = *c.URL
	}
	if c.Title != nil {
		t.Title = *c.Title
	}
	if c.Status != nil {
		t.Status = *c.Status
	}
	if c.Pinned != nil {
		t.Pinned = *c.Pinned
	}
	if c.Audible != nil {
		t.Audible = *c.Audible
	}
	if c.Muted != nil {
		t.Muted = *c.Muted
	}
	if c.Discarded != nil {
		t.Discarded = *c.Discarded
	}
	if c.Incognito != nil {
		t.Incognito = *c.Incognito
	}
	if c.Active != nil {
		t.Active = *c.Active
	}
}

// CreateProperties describes a tab to open.
type CreateProperties struct {
	WindowID      int    `json:"windowId"`
	URL           string `json:"url,omitempty"`
	Index         *int   `json:"index,omitempty"`
	Active        bool   `json:"active"`
	OpenerTabID   int    `json:"openerTabId,omitempty"`
	CookieStoreID string `json:"cookieStoreId,omitempty"`
}

// QueryInfo filters tabs.query. Zero values match everything.
type QueryInfo struct {
	WindowID int   `json:"windowId,omitempty"`
	Active   *bool `json:"active,omitempty"`
}

// UniqueID is the durable identity of a tab across browser sessions.
type UniqueID struct {
	ID            string `json:"id"`
	OriginalID    string `json:"originalId,omitempty"`
	OriginalTabID int    `json:"originalTabId"`
	Duplicated    bool   `json:"duplicated"`
	Restored      bool   `json:"restored"`
}

// PersistentID is the record stored in the browser's per-tab session storage.
// TabID is the external id the record was written for; a mismatch with the
// tab it is read from marks a duplicated or restored tab.
type PersistentID struct {
	ID    string `json:"id"`
	TabID int    `json:"tabId"`
}

// Valid reports whether the record carries both fields. Records written by
// older versions lack the tab id and are ignored.
func (p *PersistentID) Valid() bool {
	return p != nil && p.ID != "" && p.TabID != 0
}

// Profile represents a Firefox profile.
type Profile struct {
	Name        string
	Path        string // absolute path to profile directory
	IsDefault   bool
	IsRelative  bool
	SessionFile string // newest session file of the profile
	// HasExtension reports whether the tree extension is installed and
	// enabled in the profile.
	HasExtension bool
}
