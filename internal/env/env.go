// Package env composes the environment a service process is started with.
package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env layers supervisor-wide variables over a base environment.
type Env struct {
	Var  Var // supervisor-wide overrides
	base Var
}

func New() *Env { return &Env{Var: make(Var)} }

// FromOS snapshots the supervisor's own environment as the base.
func (e *Env) FromOS() {
	e.base = Parse(os.Environ())
}

// Set sets a supervisor-wide variable.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Merge returns base, then e.Var, then perService ("K=V") with ${VAR}
// references expanded against the merged set. The result is sorted by key.
func (e *Env) Merge(perService []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(Var, len(e.base)+len(e.Var)+len(perService))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.Var {
		if k != "" {
			m[k] = v
		}
	}
	for k, v := range Parse(perService) {
		m[k] = v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+os.Expand(m[k], func(name string) string { return m[name] }))
	}
	return out
}

// Parse splits "K=V" entries, skipping ones with an empty key.
func Parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}
