// Package registry persists the host-global directory of known projects
// (spec.md §3's ProjectCard), backing cross-project discovery and the
// coordination substrate's fromProject delegation.
package registry

import "time"

// ProjectCard describes one project known to this host.
type ProjectCard struct {
	ProjectID        string    `json:"projectId"`
	Path             string    `json:"path"`
	Description      string    `json:"description,omitempty"`
	Tags             []string  `json:"tags,omitempty"`
	Responsibilities []string  `json:"responsibilities,omitempty"`
	Owns             []string  `json:"owns,omitempty"`
	Exports          []string  `json:"exports,omitempty"`
	ProjectType      string    `json:"projectType"`
	LastActive       time.Time `json:"lastActive"`
}
