package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Load reads the JSON settings file at path and returns a validated
// [AppSettings]. If the file does not exist, it returns
// [DefaultAppSettings] and writes it to path so subsequent loads find a
// well-formed file (spec §6: the settings file is created on first run).
func Load(path string) (AppSettings, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		def := DefaultAppSettings()
		if werr := Save(path, def); werr != nil {
			slog.Warn("config: failed writing default settings", "path", path, "err", werr)
		}
		return def, nil
	}
	if err != nil {
		return AppSettings{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	settings, err := LoadFromReader(f)
	if err != nil {
		return AppSettings{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return settings, nil
}

// LoadFromReader decodes JSON settings from r and validates the result.
// Useful in tests where settings are constructed from string literals.
func LoadFromReader(r io.Reader) (AppSettings, error) {
	var s AppSettings
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return AppSettings{}, fmt.Errorf("config: decode json: %w", err)
	}
	if err := s.Validate(); err != nil {
		return AppSettings{}, err
	}
	return s, nil
}

// Save writes settings to path as pretty-printed JSON, replacing the file
// atomically (write to a temp file in the same directory, then rename) so a
// reader never observes a partially written file.
func Save(path string, settings AppSettings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("config: refusing to save invalid settings: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.json.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(settings); err != nil {
		tmp.Close()
		return fmt.Errorf("config: encode json: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("config: rename into place: %w", err)
	}
	return nil
}

// toolGroupMappingYAML holds the decoded form of the embedded static
// tool-name -> group mapping (spec §3 ToolGroupMapping). Unlike AppSettings
// this almost never changes at runtime, so it is declared in YAML and
// decoded once at process start, mirroring the teacher's declarative
// schema-by-YAML-tags style.
type toolGroupMappingYAML struct {
	Groups map[string][]string `yaml:"groups"`
}

// ToolGroupMapping maps a tool name (as reported by the tool-server's
// tools/list) to the coarse permission group it belongs to.
type ToolGroupMapping struct {
	byTool map[string]ToolGroup
}

// GroupFor returns the group tool belongs to, and whether it was found.
// Mapping keys are stored canonicalized (lowercased, with space, dash and
// underscore separators replaced by dots), so tool is looked up in that
// form. The permission gate treats a tool absent from the mapping as part
// of the system group and always prompts for it.
func (m ToolGroupMapping) GroupFor(tool string) (ToolGroup, bool) {
	g, ok := m.byTool[tool]
	return g, ok
}

// LoadToolGroupMappingFile opens path and decodes it with
// [LoadToolGroupMapping]. Operators use this to point the supervisor at a
// custom mapping file instead of the embedded default.
func LoadToolGroupMappingFile(path string) (ToolGroupMapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return ToolGroupMapping{}, fmt.Errorf("config: open tool group mapping %q: %w", path, err)
	}
	defer f.Close()
	return LoadToolGroupMapping(f)
}

// LoadToolGroupMapping decodes a YAML tool-group mapping document. It is
// exported (rather than baked in via go:embed) so operators can override
// the mapping file the same way they override settings.json, while the
// default copy ships alongside the binary.
func LoadToolGroupMapping(r io.Reader) (ToolGroupMapping, error) {
	var doc toolGroupMappingYAML
	dec := yamlDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return ToolGroupMapping{}, fmt.Errorf("config: decode tool group mapping: %w", err)
	}

	byTool := make(map[string]ToolGroup)
	separators := strings.NewReplacer(" ", ".", "-", ".", "_", ".")
	for groupName, tools := range doc.Groups {
		group := ToolGroup(groupName)
		if !isKnownGroup(group) {
			return ToolGroupMapping{}, fmt.Errorf("config: tool group mapping: unknown group %q", groupName)
		}
		for _, tool := range tools {
			key := separators.Replace(strings.ToLower(strings.TrimSpace(tool)))
			if existing, dup := byTool[key]; dup {
				return ToolGroupMapping{}, fmt.Errorf("config: tool group mapping: tool %q assigned to both %q and %q", tool, existing, group)
			}
			byTool[key] = group
		}
	}
	return ToolGroupMapping{byTool: byTool}, nil
}

func isKnownGroup(g ToolGroup) bool {
	for _, known := range AllGroups {
		if g == known {
			return true
		}
	}
	return false
}
