package pkgs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// MetadataFile is the per-release descriptor written into every installed package.
const MetadataFile = "PACKAGE.yaml"

// ErrNotInstalled is returned by Load when no installed release matches the identifier.
var ErrNotInstalled = errors.New("pkgs: package not installed")

// Package describes one installed package release. It is never mutated after
// Load; an update produces a new *Package.
type Package struct {
	Ident    Ident             `json:"ident"`
	Path     string            `json:"path"`
	Exposes  []string          `json:"exposes,omitempty"`
	SvcUser  string            `json:"svc_user,omitempty"`
	SvcGroup string            `json:"svc_group,omitempty"`
	Run      string            `json:"run"`
	Env      []string          `json:"env,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// metadata mirrors PACKAGE.yaml.
type metadata struct {
	Exposes  []string          `yaml:"exposes"`
	SvcUser  string            `yaml:"svc_user"`
	SvcGroup string            `yaml:"svc_group"`
	Run      string            `yaml:"run"`
	Env      []string          `yaml:"env"`
	Metadata map[string]string `yaml:"metadata"`
}

func (p *Package) String() string { return p.Ident.String() }

// InstallRoot returns <fsRoot>/pkgs.
func InstallRoot(fsRoot string) string { return filepath.Join(fsRoot, "pkgs") }

// InstallPath returns the directory of a fully qualified identifier.
func InstallPath(fsRoot string, id Ident) string {
	return filepath.Join(InstallRoot(fsRoot), id.Origin, id.Name, id.Version, id.Release)
}

// Load reads the installed package for id from fsRoot. A partially qualified
// identifier resolves to the newest installed release that satisfies it.
func Load(id Ident, fsRoot string) (*Package, error) {
	if !id.FullyQualified() {
		latest, err := latestInstalled(id, fsRoot)
		if err != nil {
			return nil, err
		}
		id = latest
	}
	dir := InstallPath(fsRoot, id)
	b, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotInstalled, id)
		}
		return nil, err
	}
	var md metadata
	if err := yaml.Unmarshal(b, &md); err != nil {
		return nil, fmt.Errorf("pkgs: parse %s metadata: %w", id, err)
	}
	if md.Run == "" {
		return nil, fmt.Errorf("pkgs: %s declares no run command", id)
	}
	return &Package{
		Ident:    id,
		Path:     dir,
		Exposes:  md.Exposes,
		SvcUser:  md.SvcUser,
		SvcGroup: md.SvcGroup,
		Run:      md.Run,
		Env:      md.Env,
		Metadata: md.Metadata,
	}, nil
}

// WriteMetadata writes PACKAGE.yaml for p into dir. Used when assembling artifacts.
func WriteMetadata(dir string, p *Package) error {
	b, err := MarshalMetadata(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, MetadataFile), b, 0o644)
}

// MarshalMetadata renders the PACKAGE.yaml content for p.
func MarshalMetadata(p *Package) ([]byte, error) {
	return yaml.Marshal(metadata{
		Exposes:  p.Exposes,
		SvcUser:  p.SvcUser,
		SvcGroup: p.SvcGroup,
		Run:      p.Run,
		Env:      p.Env,
		Metadata: p.Metadata,
	})
}

// Installed lists every installed release of the package named by id, oldest first.
func Installed(id Ident, fsRoot string) ([]Ident, error) {
	base := filepath.Join(InstallRoot(fsRoot), id.Origin, id.Name)
	versions, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Ident
	for _, v := range versions {
		if !v.IsDir() {
			continue
		}
		releases, err := os.ReadDir(filepath.Join(base, v.Name()))
		if err != nil {
			return nil, err
		}
		for _, r := range releases {
			if !r.IsDir() {
				continue
			}
			cand := Ident{Origin: id.Origin, Name: id.Name, Version: v.Name(), Release: r.Name()}
			if cand.Satisfies(id) {
				out = append(out, cand)
			}
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Compare(out[b]) < 0 })
	return out, nil
}

func latestInstalled(id Ident, fsRoot string) (Ident, error) {
	all, err := Installed(id, fsRoot)
	if err != nil {
		return Ident{}, err
	}
	if len(all) == 0 {
		return Ident{}, fmt.Errorf("%w: %s", ErrNotInstalled, id)
	}
	return all[len(all)-1], nil
}
