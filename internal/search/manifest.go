package search

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const manifestFile = "aliases.yaml"

// manifest records which concrete index each alias points at
type manifest struct {
	Aliases map[string]string `yaml:"aliases"`
}

func readManifest(dir string) (*manifest, error) {
	m := &manifest{Aliases: map[string]string{}}

	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Aliases == nil {
		m.Aliases = map[string]string{}
	}
	return m, nil
}

// write replaces the manifest file atomically
func (m *manifest) write(dir string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	tmp := filepath.Join(dir, manifestFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, manifestFile)); err != nil {
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}
