// Package manifest parses and validates plugin manifests.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/xeipuuv/gojsonschema"

	"github.com/dshills/plughost/internal/plugin/security"
)

// FileName is the manifest file name inside a plugin package directory.
const FileName = "manifest.json"

// Manifest describes a plugin's identity, entry point and requirements.
type Manifest struct {
	// Identity
	ID          string `json:"id"`          // Unique, stable identifier
	Name        string `json:"name"`        // Human-readable name
	Version     string `json:"version"`     // Dot/dash/plus separated version
	Description string `json:"description"` // Short description
	Author      string `json:"author"`      // Author name or org

	// Entry point, relative to the package directory (e.g. "main.lua")
	Main string `json:"main"`

	// Requested permissions
	Permissions []string `json:"permissions"`

	// Defaults applied to the plugin config
	DefaultConfig map[string]any `json:"defaultConfig"`

	// Semver constraint on the host version (e.g. ">=1.2.0")
	HostVersion string `json:"hostVersion"`
}

// Required manifest fields, in reporting order.
var requiredFields = []string{"id", "name", "version", "main"}

var schemaLoader = gojsonschema.NewStringLoader(Schema)

// Parse parses and validates raw manifest bytes.
//
// A JSON syntax failure returns a *ParseError. Any structural problem or
// missing required field returns a *ValidationError listing every problem.
func Parse(data []byte) (*Manifest, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Message: err.Error(), Err: err}
	}

	verr := &ValidationError{}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("manifest: schema validation: %w", err)
	}
	if !result.Valid() {
		for _, re := range result.Errors() {
			verr.Problems = append(verr.Problems, re.String())
		}
	}

	// A present field of the wrong type is already a schema problem.
	fields, _ := raw.(map[string]any)
	for _, name := range requiredFields {
		v, ok := fields[name]
		if s, isString := v.(string); !ok || (isString && strings.TrimSpace(s) == "") {
			verr.MissingFields = append(verr.MissingFields, name)
		}
	}
	if verr.HasProblems() {
		return nil, verr
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ParseError{Message: err.Error(), Err: err}
	}
	m.ID = strings.TrimSpace(m.ID)
	m.Name = strings.TrimSpace(m.Name)
	m.Version = strings.TrimSpace(m.Version)
	m.Main = strings.TrimSpace(m.Main)

	if m.HostVersion != "" {
		if _, err := semver.NewConstraint(m.HostVersion); err != nil {
			verr.Problems = append(verr.Problems, fmt.Sprintf("hostVersion: %v", err))
			return nil, verr
		}
	}

	return &m, nil
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

// LoadDir loads the manifest of a plugin package directory.
func LoadDir(dir string) (*Manifest, error) {
	return Load(filepath.Join(dir, FileName))
}

// HasPermission returns true if the manifest declares the permission.
func (m *Manifest) HasPermission(name string) bool {
	want := security.Normalize(name)
	for _, p := range m.Permissions {
		if security.Normalize(p) == want {
			return true
		}
	}
	return false
}

// Engine returns the script engine name implied by the entry script
// extension ("lua" or "js"), or the bare extension for unknown types.
func (m *Manifest) Engine() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(m.Main)), ".")
}

// MainPath returns the absolute entry script path inside dir. Entry points
// that resolve outside the package directory are rejected.
func (m *Manifest) MainPath(dir string) (string, error) {
	if filepath.IsAbs(m.Main) {
		return "", fmt.Errorf("%w: %s", ErrInvalidMain, m.Main)
	}
	base, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	full := filepath.Join(base, filepath.FromSlash(m.Main))
	rel, err := filepath.Rel(base, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %s", ErrInvalidMain, m.Main)
	}
	return full, nil
}

// CheckHostVersion reports whether hostVersion satisfies the manifest's
// hostVersion constraint. An empty constraint always passes.
func (m *Manifest) CheckHostVersion(hostVersion string) error {
	if m.HostVersion == "" {
		return nil
	}
	c, err := semver.NewConstraint(m.HostVersion)
	if err != nil {
		return fmt.Errorf("manifest %s: invalid hostVersion %q: %w", m.ID, m.HostVersion, err)
	}
	v, err := semver.NewVersion(hostVersion)
	if err != nil {
		return fmt.Errorf("invalid host version %q: %w", hostVersion, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: %s requires host %s, have %s", ErrIncompatibleHost, m.ID, m.HostVersion, hostVersion)
	}
	return nil
}

// String returns a string representation of the manifest.
func (m *Manifest) String() string {
	return fmt.Sprintf("%s v%s", m.ID, m.Version)
}

// Clone creates a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	clone := *m

	if m.Permissions != nil {
		clone.Permissions = make([]string, len(m.Permissions))
		copy(clone.Permissions, m.Permissions)
	}

	if m.DefaultConfig != nil {
		clone.DefaultConfig = deepCopyMap(m.DefaultConfig)
	}

	return &clone
}

func deepCopyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
	return dst
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
