package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileSource reads a JSON array of sites from disk
type FileSource struct {
	path string
}

// NewFileSource creates a source for path
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Name implements Source
func (f *FileSource) Name() string { return "file" }

// Load implements Source
func (f *FileSource) Load(ctx context.Context) ([]SiteConfig, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sites file: %w", err)
	}

	var sites []SiteConfig
	if err := json.Unmarshal(data, &sites); err != nil {
		return nil, fmt.Errorf("failed to parse sites file %s: %w", f.path, err)
	}
	return sites, nil
}
