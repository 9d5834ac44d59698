package envforge

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

////////////////////////////////////////////////////////////////////////////////
// Environment profile: the ordered variable set a provisioned environment runs
// under. Built once per run and never mutated; the launcher and the rendered
// artifacts both read from the same record.
////////////////////////////////////////////////////////////////////////////////

// EnvEntry is one variable operation. Append entries extend whatever value the
// host process already carries; replace entries overwrite it.
type EnvEntry struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Append bool   `json:"append,omitempty"`
}

type EnvProfile struct {
	entries []EnvEntry
}

// buildEnvProfile assembles the profile from the manifest in a fixed order:
// explicit variables first, then search-path appends in manifest order, then
// the board-support and cache variables. Append directories are resolved
// against the workspace root so the profile is position-independent.
func buildEnvProfile(spec EnvironmentSpec, params BuildParameters, workspace WorkspaceStore) EnvProfile {
	entries := make([]EnvEntry, 0, len(spec.EnvVars)+len(spec.PathAppends)+2)
	for _, v := range spec.EnvVars {
		entries = append(entries, EnvEntry{
			Name:   v.Name,
			Value:  v.Value,
			Append: false,
		})
	}
	for _, pa := range spec.PathAppends {
		entries = append(entries, EnvEntry{
			Name:   pa.Variable,
			Value:  filepath.Join(workspace.Root(), filepath.FromSlash(pa.Dir)),
			Append: true,
		})
	}
	if spec.BoardFilesVar != "" && spec.BoardFilesDir != "" {
		entries = append(entries, EnvEntry{
			Name:   spec.BoardFilesVar,
			Value:  filepath.Join(workspace.Root(), filepath.FromSlash(spec.BoardFilesDir)),
			Append: false,
		})
	}
	if spec.CacheVar != "" {
		entries = append(entries, EnvEntry{
			Name:   spec.CacheVar,
			Value:  filepath.Join(params.BuildPath, spec.CacheSubdir),
			Append: false,
		})
	}
	return EnvProfile{entries: entries}
}

func (p EnvProfile) Entries() []EnvEntry {
	out := make([]EnvEntry, len(p.entries))
	copy(out, p.entries)
	return out
}

// mergeVar folds every entry for name over an existing value. The second
// return reports whether any entry touched the variable at all.
func (p EnvProfile) mergeVar(name, existing string) (string, bool) {
	value := existing
	touched := false
	for _, e := range p.entries {
		if e.Name != name {
			continue
		}
		touched = true
		if !e.Append || value == "" {
			value = e.Value
			continue
		}
		value = value + string(filepath.ListSeparator) + e.Value
	}
	return value, touched
}

// Environ merges the profile into a base environment. Variables already in
// the base keep their position; appended directories land after whatever the
// base already carried. Variables the base never had are added at the end in
// profile order.
func (p EnvProfile) Environ(base []string) []string {
	out := make([]string, 0, len(base)+len(p.entries))
	applied := map[string]bool{}
	for _, kv := range base {
		name, val, ok := strings.Cut(kv, "=")
		if !ok {
			out = append(out, kv)
			continue
		}
		merged, touched := p.mergeVar(name, val)
		if !touched {
			out = append(out, kv)
			continue
		}
		out = append(out, name+"="+merged)
		applied[name] = true
	}
	for _, name := range p.variableNames() {
		if applied[name] {
			continue
		}
		value, _ := p.mergeVar(name, "")
		out = append(out, name+"="+value)
		applied[name] = true
	}
	return out
}

// Lookup returns the profile's own value for name, ignoring any host value.
func (p EnvProfile) Lookup(name string) (string, bool) {
	return p.mergeVar(name, "")
}

// variableNames yields distinct variable names in first-appearance order.
func (p EnvProfile) variableNames() []string {
	seen := map[string]int{}
	for i, e := range p.entries {
		if _, ok := seen[e.Name]; !ok {
			seen[e.Name] = i
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return seen[names[i]] < seen[names[j]]
	})
	return names
}

// renderProfileScript emits a sourceable shell file equivalent to the
// profile. Appended variables keep any value the sourcing shell already
// exported in front of the profile's directories.
func renderProfileScript(p EnvProfile) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	for _, name := range p.variableNames() {
		value, _ := p.mergeVar(name, "")
		if p.firstEntryAppends(name) {
			fmt.Fprintf(&b, "export %s=\"${%s:+$%s:}%s\"\n", name, name, name, value)
			continue
		}
		fmt.Fprintf(&b, "export %s=\"%s\"\n", name, value)
	}
	return b.String()
}

func (p EnvProfile) firstEntryAppends(name string) bool {
	for _, e := range p.entries {
		if e.Name == name {
			return e.Append
		}
	}
	return false
}
