package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gcorroto/semantic-codebase-index/internal/codeerr"
)

// Registry is the host-global ProjectCard directory, persisted to
// global_registry.json (spec.md §6's on-disk layout).
type Registry struct {
	mu    sync.Mutex
	path  string
	cards map[string]ProjectCard
}

// Open loads an existing registry file, or starts an empty one if it
// doesn't exist yet.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path, cards: map[string]ProjectCard{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, codeerr.Storage("read project registry", err)
	}

	var cards []ProjectCard
	if err := json.Unmarshal(data, &cards); err != nil {
		return nil, codeerr.Storage("parse project registry", err)
	}
	for _, c := range cards {
		r.cards[c.ProjectID] = c
	}
	return r, nil
}

// DefaultPath returns the host-global registry path under homeDir.
func DefaultPath(homeDir string) string {
	return filepath.Join(homeDir, ".memorybank", "global_registry.json")
}

// Register upserts a ProjectCard by projectId, enforcing host-wide
// uniqueness of the id (a second Register with the same id overwrites).
func (r *Registry) Register(card ProjectCard) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if card.LastActive.IsZero() {
		card.LastActive = time.Now()
	}
	r.cards[card.ProjectID] = card
	return r.saveLocked()
}

// Get returns the card for projectId, if known.
func (r *Registry) Get(projectID string) (ProjectCard, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[projectID]
	return c, ok
}

// List returns every known ProjectCard.
func (r *Registry) List() []ProjectCard {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProjectCard, 0, len(r.cards))
	for _, c := range r.cards {
		out = append(out, c)
	}
	return out
}

// FindByPath returns the card whose Path matches, if any.
func (r *Registry) FindByPath(path string) (ProjectCard, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cards {
		if c.Path == path {
			return c, true
		}
	}
	return ProjectCard{}, false
}

// Touch updates projectId's lastActive to now, returning false if the
// project isn't registered.
func (r *Registry) Touch(projectID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.cards[projectID]
	if !ok {
		return false, nil
	}
	c.LastActive = time.Now()
	r.cards[projectID] = c
	return true, r.saveLocked()
}

func (r *Registry) saveLocked() error {
	cards := make([]ProjectCard, 0, len(r.cards))
	for _, c := range r.cards {
		cards = append(cards, c)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return codeerr.Storage("create registry directory", err)
	}

	data, err := json.MarshalIndent(cards, "", "  ")
	if err != nil {
		return codeerr.Storage("marshal project registry", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return codeerr.Storage("write project registry", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return codeerr.Storage("install project registry", err)
	}
	return nil
}
