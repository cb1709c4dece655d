package registry

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	goModuleRegex = regexp.MustCompile(`^module\s+(.+)$`)
	tomlNameRegex = regexp.MustCompile(`^\s*name\s*=\s*["']([^"']+)["']`)
)

// DetectProjectType inspects rootPath for go.mod, package.json, or
// pyproject.toml, in that order, and falls back to "unknown" if none match.
func DetectProjectType(rootPath string) string {
	if detectGoMod(rootPath) != "" {
		return "go"
	}
	if detectPackageJSON(rootPath) != "" {
		return "node"
	}
	if detectPyproject(rootPath) != "" {
		return "python"
	}
	return "unknown"
}

func detectGoMod(rootPath string) string {
	file, err := os.Open(filepath.Join(rootPath, "go.mod"))
	if err != nil {
		return ""
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if matches := goModuleRegex.FindStringSubmatch(line); len(matches) > 1 {
			return filepath.Base(matches[1])
		}
	}
	return ""
}

func detectPackageJSON(rootPath string) string {
	data, err := os.ReadFile(filepath.Join(rootPath, "package.json"))
	if err != nil {
		return ""
	}

	var pkg struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil || pkg.Name == "" {
		return ""
	}

	name := pkg.Name
	if strings.HasPrefix(name, "@") {
		if parts := strings.Split(name, "/"); len(parts) > 1 {
			name = parts[len(parts)-1]
		}
	}
	return name
}

func detectPyproject(rootPath string) string {
	file, err := os.Open(filepath.Join(rootPath, "pyproject.toml"))
	if err != nil {
		return ""
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	inProjectSection := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "[") {
			inProjectSection = strings.TrimSpace(line) == "[project]"
			continue
		}
		if inProjectSection {
			if matches := tomlNameRegex.FindStringSubmatch(line); len(matches) > 1 {
				return matches[1]
			}
		}
	}
	return ""
}
