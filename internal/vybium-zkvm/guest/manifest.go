package guest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the guest package manifest name.
const ManifestFile = "guest.yaml"

// Toolchain names accepted in manifests.
const (
	ToolchainAsm     = "asm"
	ToolchainCommand = "command"
)

var (
	ErrManifest       = errors.New("guest: invalid manifest")
	ErrInvalidKind    = errors.New("guest: invalid target kind")
	ErrTargetNotFound = errors.New("guest: no matching target")
	ErrAmbiguous      = errors.New("guest: ambiguous target")
	ErrNotExecutable  = errors.New("guest: target does not produce an executable")
)

// TargetKind is the kind of a build target.
type TargetKind string

const (
	KindBin     TargetKind = "bin"
	KindExample TargetKind = "example"
	KindLib     TargetKind = "lib"
)

// ParseTargetKind validates a kind string.
func ParseTargetKind(s string) (TargetKind, error) {
	switch k := TargetKind(s); k {
	case KindBin, KindExample, KindLib:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q (want bin, example or lib)", ErrInvalidKind, s)
}

// Target is one buildable unit of a guest package.
type Target struct {
	Name string     `yaml:"name"`
	Kind TargetKind `yaml:"kind"`
	Path string     `yaml:"path"`
}

// Manifest describes a guest package.
type Manifest struct {
	Name      string   `yaml:"name"`
	Toolchain string   `yaml:"toolchain"`
	Command   []string `yaml:"command,omitempty"`
	Targets   []Target `yaml:"targets"`

	dir string
}

// Dir is the package directory the manifest was loaded from.
func (m *Manifest) Dir() string {
	return m.dir
}

// LoadManifest reads guest.yaml from dir.
func LoadManifest(dir string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifest, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrManifest, dir, err)
	}
	m.dir = dir
	if m.Toolchain == "" {
		m.Toolchain = ToolchainAsm
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest for structural errors.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: missing package name", ErrManifest)
	}
	switch m.Toolchain {
	case ToolchainAsm:
	case ToolchainCommand:
		if len(m.Command) == 0 {
			return fmt.Errorf("%w: command toolchain needs a command", ErrManifest)
		}
	default:
		return fmt.Errorf("%w: unknown toolchain %q", ErrManifest, m.Toolchain)
	}
	if len(m.Targets) == 0 {
		return fmt.Errorf("%w: package %s has no targets", ErrManifest, m.Name)
	}
	seen := make(map[string]bool)
	for _, t := range m.Targets {
		if _, err := ParseTargetKind(string(t.Kind)); err != nil {
			return fmt.Errorf("%w: target %s: %v", ErrManifest, t.Name, err)
		}
		key := string(t.Kind) + "/" + t.Name
		if t.Name == "" || seen[key] {
			return fmt.Errorf("%w: missing or duplicate target name %q", ErrManifest, t.Name)
		}
		seen[key] = true
	}
	return nil
}

// TargetFilter narrows target selection.
type TargetFilter struct {
	Name string
	Kind TargetKind
}

// Resolve selects exactly one target. Without a filter the package must have
// exactly one bin target.
func (m *Manifest) Resolve(filter *TargetFilter) (Target, error) {
	var candidates []Target
	for _, t := range m.Targets {
		switch {
		case filter == nil:
			if t.Kind == KindBin {
				candidates = append(candidates, t)
			}
		case (filter.Name == "" || filter.Name == t.Name) && (filter.Kind == "" || filter.Kind == t.Kind):
			candidates = append(candidates, t)
		}
	}

	switch len(candidates) {
	case 0:
		return Target{}, fmt.Errorf("%w in package %s", ErrTargetNotFound, m.Name)
	case 1:
	default:
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = string(c.Kind) + ":" + c.Name
		}
		return Target{}, fmt.Errorf("%w: %v match; pass a target filter", ErrAmbiguous, names)
	}

	t := candidates[0]
	if t.Kind == KindLib {
		return Target{}, fmt.Errorf("%w: %s is a library", ErrNotExecutable, t.Name)
	}
	return t, nil
}
