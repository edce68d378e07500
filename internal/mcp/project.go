package mcp

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	goModuleRe = regexp.MustCompile(`^module\s+(\S+)`)
	tomlNameRe = regexp.MustCompile(`^\s*name\s*=\s*["']([^"']+)["']`)
)

// ProjectDetector detects project metadata from manifest files.
type ProjectDetector struct {
	rootPath string
	logger   *slog.Logger
}

// NewProjectDetector creates a new project detector.
func NewProjectDetector(rootPath string, logger *slog.Logger) *ProjectDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProjectDetector{rootPath: rootPath, logger: logger}
}

// Detect returns project information. Detection order: go.mod, Cargo.toml,
// package.json, pyproject.toml, then the directory name.
func (d *ProjectDetector) Detect() *ProjectInfo {
	info := &ProjectInfo{
		RootPath: d.rootPath,
		Name:     filepath.Base(d.rootPath),
		Type:     "unknown",
	}

	detectors := []struct {
		kind   string
		detect func() string
	}{
		{"go", d.detectGoMod},
		{"rust", func() string { return d.tomlName("Cargo.toml", "[package]") }},
		{"node", d.detectPackageJSON},
		{"python", func() string { return d.tomlName("pyproject.toml", "[project]") }},
	}
	for _, det := range detectors {
		if name := det.detect(); name != "" {
			info.Name = name
			info.Type = det.kind
			d.logger.Debug("project_detected", slog.String("type", det.kind), slog.String("name", name))
			return info
		}
	}
	return info
}

// detectGoMod returns the last segment of the module path.
func (d *ProjectDetector) detectGoMod() string {
	file, err := os.Open(filepath.Join(d.rootPath, "go.mod"))
	if err != nil {
		return ""
	}
	defer func() { _ = file.Close() }()

	sc := bufio.NewScanner(file)
	for sc.Scan() {
		if m := goModuleRe.FindStringSubmatch(strings.TrimSpace(sc.Text())); m != nil {
			return filepath.Base(m[1])
		}
	}
	return ""
}

// detectPackageJSON returns the package name without its npm scope.
func (d *ProjectDetector) detectPackageJSON() string {
	data, err := os.ReadFile(filepath.Join(d.rootPath, "package.json"))
	if err != nil {
		return ""
	}
	var pkg struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return ""
	}
	if i := strings.LastIndexByte(pkg.Name, '/'); strings.HasPrefix(pkg.Name, "@") && i >= 0 {
		return pkg.Name[i+1:]
	}
	return pkg.Name
}

// tomlName reads name = "..." from the given section of a TOML manifest.
func (d *ProjectDetector) tomlName(file, section string) string {
	f, err := os.Open(filepath.Join(d.rootPath, file))
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()

	in := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "[") {
			in = line == section
			continue
		}
		if in {
			if m := tomlNameRe.FindStringSubmatch(line); m != nil {
				return m[1]
			}
		}
	}
	return ""
}
