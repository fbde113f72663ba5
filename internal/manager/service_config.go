package manager

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/loykin/fleetsup/internal/census"
	"github.com/loykin/fleetsup/internal/gossip"
	"github.com/loykin/fleetsup/internal/pkgs"
)

// CensusFile is written into every service directory on reconfigure.
const CensusFile = "census.toml"

// ServiceConfig is the census view rendered for a service to consume.
type ServiceConfig struct {
	ServiceGroup string         `toml:"service_group"`
	Package      string         `toml:"package"`
	PackagePath  string         `toml:"package_path"`
	Exposes      []string       `toml:"exposes,omitempty"`
	Binds        []string       `toml:"binds,omitempty"`
	Me           *CensusMember  `toml:"me,omitempty"`
	Leader       *CensusMember  `toml:"leader,omitempty"`
	Members      []CensusMember `toml:"members"`
}

type CensusMember struct {
	MemberID  string   `toml:"member_id"`
	Hostname  string   `toml:"hostname"`
	IP        string   `toml:"ip"`
	Exposes   []uint32 `toml:"exposes,omitempty"`
	Leader    bool     `toml:"leader"`
	Follower  bool     `toml:"follower"`
	Alive     bool     `toml:"alive"`
	Suspect   bool     `toml:"suspect"`
	Confirmed bool     `toml:"confirmed"`
}

func censusMember(e census.Entry) CensusMember {
	return CensusMember{
		MemberID:  e.MemberID,
		Hostname:  e.Hostname,
		IP:        e.IP,
		Exposes:   e.Exposes,
		Leader:    e.Leader,
		Follower:  e.Follower,
		Alive:     e.Alive,
		Suspect:   e.Suspect,
		Confirmed: e.Confirmed,
	}
}

// NewServiceConfig derives the config for sg from list. memberID selects the
// local entry reported as "me".
func NewServiceConfig(sg gossip.ServiceGroup, pkg *pkgs.Package, memberID string, binds []string, list *census.List) ServiceConfig {
	sc := ServiceConfig{
		ServiceGroup: sg.String(),
		Package:      pkg.Ident.String(),
		PackagePath:  pkg.Path,
		Exposes:      pkg.Exposes,
		Binds:        binds,
		Members:      []CensusMember{},
	}
	for _, e := range list.GroupEntries(sg) {
		m := censusMember(e)
		sc.Members = append(sc.Members, m)
		if e.MemberID == memberID {
			me := m
			sc.Me = &me
		}
		if e.Leader {
			leader := m
			sc.Leader = &leader
		}
	}
	return sc
}

func (sc ServiceConfig) Marshal() ([]byte, error) {
	return toml.Marshal(sc)
}

// writeIfChanged writes b to dir/CensusFile and reports whether the content differs
// from what was there before.
func writeIfChanged(dir string, b []byte) (bool, error) {
	path := filepath.Join(dir, CensusFile)
	old, err := os.ReadFile(filepath.Clean(path))
	if err == nil && bytes.Equal(old, b) {
		return false, nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o640); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
