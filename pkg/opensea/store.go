package opensea

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ContentStore persists downloaded files by name.
type ContentStore interface {
	Put(ctx context.Context, name string, data []byte) error
}

// DirStore writes files into a local directory, creating it on first use.
type DirStore struct {
	Dir string
}

// Put implements ContentStore.
func (s DirStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", s.Dir, err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir, filepath.Base(name)), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// LoadMetadataDir reads every *.json metadata document in dir, ordered by
// file name.
func LoadMetadataDir(dir string) ([]Metadata, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read metadata dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	metas := make([]Metadata, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		var m Metadata
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		metas = append(metas, m)
	}
	return metas, nil
}
