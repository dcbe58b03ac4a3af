package firefox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lotas/tabtree/internal/types"
)

// writeProfile creates a profile directory with a session file and, when
// addons is not empty, an extensions.json listing them.
func writeProfile(t *testing.T, dir, addons string) {
	t.Helper()
	backups := filepath.Join(dir, "sessionstore-backups")
	if err := os.MkdirAll(backups, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(backups, "recovery.jsonlz4"), []byte("dummy"), 0644); err != nil {
		t.Fatal(err)
	}
	if addons != "" {
		if err := os.WriteFile(filepath.Join(dir, "extensions.json"), []byte(addons), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestParseProfilesINI(t *testing.T) {
	dir := t.TempDir()
	absProfileDir := t.TempDir()
	iniContent := `[General]
StartWithLastProfile=1
Version=2

; written by Firefox
[Profile0]
Name=default-release
IsRelative=1
Path=abc123.default-release
Default=1

[Profile1]
Name=dev-edition
IsRelative=0
Path=` + absProfileDir + `
Default=0

[Profile2]
Name=never-started
IsRelative=1
Path=zzz.never-started

[Install308046B0AF4A39CB]
Default=abc123.default-release
Locked=1
`
	iniPath := filepath.Join(dir, "profiles.ini")
	if err := os.WriteFile(iniPath, []byte(iniContent), 0644); err != nil {
		t.Fatal(err)
	}

	writeProfile(t, filepath.Join(dir, "abc123.default-release"),
		`{"addons":[{"id":"`+TreeStyleTabID+`","active":true},{"id":"other@example","active":true}]}`)
	writeProfile(t, absProfileDir, `{"addons":[{"id":"`+TreeStyleTabID+`","active":false}]}`)

	profiles, err := ParseProfilesINI(iniPath, dir, TreeStyleTabID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles with a session, got %d", len(profiles))
	}

	// First profile: relative path
	p := profiles[0]
	if p.Name != "default-release" {
		t.Errorf("expected name 'default-release', got %q", p.Name)
	}
	if p.Path != filepath.Join(dir, "abc123.default-release") {
		t.Errorf("expected resolved path, got %q", p.Path)
	}
	if want := filepath.Join(p.Path, "sessionstore-backups", "recovery.jsonlz4"); p.SessionFile != want {
		t.Errorf("SessionFile = %q, want %q", p.SessionFile, want)
	}
	if !p.IsDefault || !p.HasExtension {
		t.Errorf("profile 0 = %+v, want default with the extension", p)
	}

	// Second profile: absolute path, extension disabled
	p = profiles[1]
	if p.Name != "dev-edition" || p.Path != absProfileDir {
		t.Errorf("profile 1 = %+v", p)
	}
	if p.IsDefault || p.HasExtension {
		t.Errorf("profile 1 = %+v, want neither default nor extension", p)
	}
}

func TestParseProfilesINIMissing(t *testing.T) {
	if _, err := ParseProfilesINI(filepath.Join(t.TempDir(), "profiles.ini"), "", TreeStyleTabID); err == nil {
		t.Error("expected error for a missing profiles.ini")
	}
}

func TestFindFirefoxDir(t *testing.T) {
	dir := FindFirefoxDir()
	if dir == "" {
		t.Skip("no Firefox directory found on this system")
	}
	t.Logf("found Firefox dir: %s", dir)
}

func TestFindProfile(t *testing.T) {
	profiles := []types.Profile{
		{Name: "work"},
		{Name: "default-release", IsDefault: true},
	}

	tests := []struct {
		name     string
		profiles []types.Profile
		query    string
		want     string
		wantErr  bool
	}{
		{"by name", profiles, "work", "work", false},
		{"default", profiles, "", "default-release", false},
		{"unknown name", profiles, "nope", "", true},
		{"single profile is default", profiles[:1], "", "work", false},
		{"no default", []types.Profile{{Name: "a"}, {Name: "b"}}, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := FindProfile(tt.profiles, tt.query)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if p.Name != tt.want {
				t.Errorf("got %q, want %q", p.Name, tt.want)
			}
		})
	}
}
