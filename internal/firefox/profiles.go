package firefox

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/lotas/tabtree/internal/types"
)

// FindFirefoxDir returns the platform-specific Firefox profile directory.
func FindFirefoxDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	switch runtime.GOOS {
	case "linux":
		return filepath.Join(home, ".mozilla", "firefox")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Firefox")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Mozilla", "Firefox")
		}
	}
	return ""
}

// iniSection is one [section] of profiles.ini with its key=value pairs.
type iniSection struct {
	name string
	keys map[string]string
}

func readINI(r io.Reader) ([]iniSection, error) {
	var sections []iniSection
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			sections = append(sections, iniSection{name: line[1 : len(line)-1], keys: make(map[string]string)})
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || len(sections) == 0 {
			continue
		}
		sections[len(sections)-1].keys[key] = value
	}
	return sections, scanner.Err()
}

// ParseProfilesINI reads profiles.ini and returns the profiles whose session
// can be read, noting which have extensionID enabled.
func ParseProfilesINI(iniPath, firefoxDir, extensionID string) ([]types.Profile, error) {
	f, err := os.Open(iniPath)
	if err != nil {
		return nil, fmt.Errorf("open profiles.ini: %w", err)
	}
	defer f.Close()

	sections, err := readINI(f)
	if err != nil {
		return nil, fmt.Errorf("scan profiles.ini: %w", err)
	}

	var profiles []types.Profile
	for _, sec := range sections {
		if !strings.HasPrefix(sec.name, "Profile") {
			continue
		}
		p := types.Profile{
			Name:       sec.keys["Name"],
			Path:       sec.keys["Path"],
			IsRelative: sec.keys["IsRelative"] == "1",
			IsDefault:  sec.keys["Default"] == "1",
		}
		if p.IsRelative {
			p.Path = filepath.Join(firefoxDir, p.Path)
		}
		file, ok := sessionFile(p.Path)
		if !ok {
			continue
		}
		p.SessionFile = file
		p.HasExtension = extensionEnabled(p.Path, extensionID)
		profiles = append(profiles, p)
	}
	return profiles, nil
}

type addon struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
}

// extensionEnabled reports whether extensions.json of a profile lists
// extensionID as an active add-on.
func extensionEnabled(profileDir, extensionID string) bool {
	data, err := os.ReadFile(filepath.Join(profileDir, "extensions.json"))
	if err != nil {
		return false
	}
	var doc struct {
		Addons []addon `json:"addons"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	return slices.ContainsFunc(doc.Addons, func(a addon) bool {
		return a.ID == extensionID && a.Active
	})
}

// DiscoverProfiles finds and parses Firefox profiles on this system.
func DiscoverProfiles(extensionID string) ([]types.Profile, error) {
	dir := FindFirefoxDir()
	if dir == "" {
		return nil, fmt.Errorf("could not find Firefox directory for %s", runtime.GOOS)
	}
	return ParseProfilesINI(filepath.Join(dir, "profiles.ini"), dir, extensionID)
}

// FindProfile picks a profile by name, or the default one when name is
// empty. A single usable profile counts as the default.
func FindProfile(profiles []types.Profile, name string) (types.Profile, error) {
	if name != "" {
		for _, p := range profiles {
			if p.Name == name {
				return p, nil
			}
		}
		return types.Profile{}, fmt.Errorf("profile %q not found", name)
	}
	for _, p := range profiles {
		if p.IsDefault {
			return p, nil
		}
	}
	if len(profiles) == 1 {
		return profiles[0], nil
	}
	return types.Profile{}, fmt.Errorf("no default profile among %d, pass one by name", len(profiles))
}
