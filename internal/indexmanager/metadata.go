package indexmanager

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gcorroto/semantic-codebase-index/internal/codeerr"
)

// loadMetadata reads index-metadata.json from storageDir, returning an
// empty metadata set if the file doesn't exist yet.
func loadMetadata(storageDir string) (*indexMetadata, error) {
	path := filepath.Join(storageDir, "index-metadata.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &indexMetadata{Files: map[string]fileMeta{}}, nil
	}
	if err != nil {
		return nil, codeerr.Storage("read index metadata", err)
	}

	var m indexMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, codeerr.Storage("parse index metadata", err)
	}
	if m.Files == nil {
		m.Files = map[string]fileMeta{}
	}
	return &m, nil
}

// save writes index-metadata.json atomically (temp file + rename).
func (m *indexMetadata) save(storageDir string) error {
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return codeerr.Storage("create storage directory", err)
	}
	path := filepath.Join(storageDir, "index-metadata.json")
	tmp := path + ".tmp"

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return codeerr.Storage("marshal index metadata", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return codeerr.Storage("write index metadata", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return codeerr.Storage("install index metadata", err)
	}
	return nil
}
