package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// scaffold mirrors Config with yaml tags so the generated starter file
// uses the same keys Load reads back.
type scaffold struct {
	StatePath    string          `yaml:"state_path"`
	MediaDir     string          `yaml:"media_dir"`
	AuditLog     string          `yaml:"audit_log"`
	LogFile      string          `yaml:"log_file,omitempty"`
	RootPath     []string        `yaml:"root_path"`
	ItemDelay    string          `yaml:"item_delay"`
	IncludeMedia bool            `yaml:"include_media"`
	Source       scaffoldAdapter `yaml:"source"`
	Dest         scaffoldAdapter `yaml:"dest"`
}

type scaffoldAdapter struct {
	Type     string            `yaml:"type"`
	Settings map[string]string `yaml:"settings,omitempty"`
}

// WriteScaffold writes a starter configuration file with the defaults
// filled in. An existing file is never overwritten.
func WriteScaffold(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	def := Default()
	data, err := yaml.Marshal(scaffold{
		StatePath:    def.StatePath,
		MediaDir:     def.MediaDir,
		AuditLog:     def.AuditLog,
		RootPath:     []string{"Mirror"},
		ItemDelay:    def.ItemDelay.String(),
		IncludeMedia: def.IncludeMedia,
	})
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	header := "# docmirror configuration\n# Set source.type and dest.type to registered adapter names,\n# then run 'dm preview'.\n"
	data = append([]byte(header), data...)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
