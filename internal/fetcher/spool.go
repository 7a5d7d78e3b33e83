package fetcher

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Spool is a directory of per-source JSON files waiting to be published.
type Spool struct {
	Dir string
}

// Write stores records as a JSON array under name. The file appears
// atomically so a concurrent publish never reads half of it.
func (s Spool) Write(name string, records any) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create spool dir: %w", err)
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	path := filepath.Join(s.Dir, name)
	tmp, err := os.CreateTemp(s.Dir, ".tmp-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return path, nil
}
