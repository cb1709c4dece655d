package indexmanager

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	nonProjectIDChar = regexp.MustCompile(`[^a-z0-9_-]`)
	repeatedDash     = regexp.MustCompile(`-+`)
)

// DeriveProjectID implements spec.md §4.6's derivation: lowercase basename,
// non-[a-z0-9_-] characters replaced with '-', runs of '-' collapsed,
// leading/trailing '-' stripped; an empty result becomes "default".
func DeriveProjectID(rootPath string) string {
	base := strings.ToLower(filepath.Base(rootPath))
	base = nonProjectIDChar.ReplaceAllString(base, "-")
	base = repeatedDash.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-")
	if base == "" {
		return "default"
	}
	return base
}
