package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// SettingsDirName is the per-project praxis directory.
const SettingsDirName = ".praxis"

// settingsFiles are merged in order; later files win.
var settingsFiles = []string{"settings.json", "settings.local.json"}

// Settings are per-project overrides read from .praxis/settings.json and
// .praxis/settings.local.json (JSON5, $include supported). The local file is
// meant to stay out of version control.
type Settings struct {
	Permissions        SettingsPermissions `yaml:"permissions"`
	Env                map[string]string   `yaml:"env"`
	Model              string              `yaml:"model"`
	SystemPromptAppend string              `yaml:"system_prompt_append"`
}

// SettingsPermissions seeds the permission engine with pre-approved or
// always-denied keys, e.g. "Read" or "Bash(git status)".
type SettingsPermissions struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// LoadSettings loads project settings for dir, merging the shared file with
// the local override. Missing files are fine; a present but malformed file
// is an error.
func LoadSettings(dir string) (*Settings, error) {
	merged := map[string]any{}
	found := false

	for _, name := range settingsFiles {
		path := filepath.Join(dir, SettingsDirName, name)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}
		merged = mergeMaps(merged, raw)
		found = true
	}

	if !found {
		return &Settings{}, nil
	}

	settings, err := decodeRaw[Settings](merged)
	if err != nil {
		return nil, err
	}
	return settings, nil
}
