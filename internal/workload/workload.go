// Package workload manages the population of modules the governor
// certifies. Modules come from three places: builtin synthetic
// workloads (self-executed via the explorer binary), YAML manifests in
// the workload directory, and Go source snippets interpreted at run
// time. The registry is safe for concurrent use; the manifest watcher
// keeps it in sync with the directory between cycles.
package workload

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"explorer/internal/logging"
	"explorer/internal/sandbox"
)

// Module is one executable unit. Exactly one of Command, Source, or
// Builtin selects how it runs.
type Module struct {
	// Name keys the module in the registry and in every log line.
	Name string `yaml:"name" json:"name"`

	// Command runs an external binary with Args.
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`

	// Source names a Go file interpreted in the sandboxed child.
	Source string `yaml:"source,omitempty" json:"source,omitempty"`

	// Builtin names one of the synthetic workloads.
	Builtin string `yaml:"builtin,omitempty" json:"builtin,omitempty"`

	// Dir and Env pass through to the sandbox.
	Dir string   `yaml:"dir,omitempty" json:"dir,omitempty"`
	Env []string `yaml:"env,omitempty" json:"env,omitempty"`

	// Timeout overrides the sandbox default for this module, as a
	// duration string.
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Validate checks the module definition without touching the
// filesystem.
func (m Module) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("module name is required")
	}
	if strings.ContainsAny(m.Name, " \t\n/\\") {
		return fmt.Errorf("module name %q contains whitespace or path separators", m.Name)
	}
	modes := 0
	if m.Command != "" {
		modes++
	}
	if m.Source != "" {
		modes++
	}
	if m.Builtin != "" {
		modes++
	}
	if modes != 1 {
		return fmt.Errorf("module %s: exactly one of command, source, builtin required", m.Name)
	}
	if m.Builtin != "" && !IsBuiltin(m.Builtin) {
		return fmt.Errorf("module %s: unknown builtin %q (have %s)",
			m.Name, m.Builtin, strings.Join(Builtins(), ", "))
	}
	if m.Timeout != "" {
		if _, err := time.ParseDuration(m.Timeout); err != nil {
			return fmt.Errorf("module %s: bad timeout %q: %w", m.Name, m.Timeout, err)
		}
	}
	return nil
}

// ManifestSuffix is what the loader and watcher look for.
const ManifestSuffix = ".workload.yaml"

// Registry holds the current module population.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
	// manifest path -> module name, so a deleted manifest can evict
	// the module it declared.
	manifests map[string]string
	selfExe   string
}

// NewRegistry returns an empty registry. The explorer binary's own
// path is resolved once here; builtin and source modules re-enter
// through it.
func NewRegistry() (*Registry, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve own executable: %w", err)
	}
	return &Registry{
		modules:   make(map[string]Module),
		manifests: make(map[string]string),
		selfExe:   exe,
	}, nil
}

// Register validates and adds a module, replacing any module of the
// same name.
func (r *Registry) Register(m Module) error {
	if err := m.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	_, replaced := r.modules[m.Name]
	r.modules[m.Name] = m
	r.mu.Unlock()

	if replaced {
		logging.Workload("Module replaced: %s", m.Name)
	} else {
		logging.Workload("Module registered: %s", m.Name)
	}
	logging.Audit().WorkloadChange(m.Name, true)
	return nil
}

// RegisterBuiltins registers the named synthetic workloads under their
// own names.
func (r *Registry) RegisterBuiltins(names []string) error {
	for _, name := range names {
		if err := r.Register(Module{Name: name, Builtin: name}); err != nil {
			return err
		}
	}
	return nil
}

// Remove evicts a module by name.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	_, ok := r.modules[name]
	if ok {
		delete(r.modules, name)
	}
	r.mu.Unlock()

	if ok {
		logging.Workload("Module removed: %s", name)
		logging.Audit().WorkloadChange(name, false)
	}
	return ok
}

// Get looks up a module by name.
func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// List returns the population sorted by name.
func (r *Registry) List() []Module {
	r.mu.RLock()
	out := make([]Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the population size.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

// Entry builds the sandbox entry for a module.
func (r *Registry) Entry(m Module) sandbox.Entry {
	entry := sandbox.Entry{
		Module: m.Name,
		Dir:    m.Dir,
		Env:    m.Env,
	}
	switch {
	case m.Builtin != "":
		entry.Binary = r.selfExe
		entry.Args = []string{"workload", "run", m.Builtin}
	case m.Source != "":
		entry.Binary = r.selfExe
		entry.Args = []string{"workload", "eval", m.Source}
	default:
		entry.Binary = m.Command
		entry.Args = m.Args
	}
	if m.Timeout != "" {
		if d, err := time.ParseDuration(m.Timeout); err == nil {
			entry.Timeout = d
		}
	}
	return entry
}

// LoadManifest parses one manifest file and registers its module. The
// manifest path is remembered so deletion can evict the module later.
func (r *Registry) LoadManifest(path string) (Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Module{}, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var m Module
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Module{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	// Relative source paths resolve against the manifest's directory.
	if m.Source != "" && !filepath.IsAbs(m.Source) {
		m.Source = filepath.Join(filepath.Dir(path), m.Source)
	}
	if err := r.Register(m); err != nil {
		return Module{}, err
	}

	r.mu.Lock()
	if prev, ok := r.manifests[path]; ok && prev != m.Name {
		// The manifest was renamed in place; the old module is now
		// orphaned.
		delete(r.modules, prev)
		logging.Workload("Module removed (manifest renamed it): %s", prev)
	}
	r.manifests[path] = m.Name
	r.mu.Unlock()
	return m, nil
}

// RemoveByManifest evicts whatever module the manifest at path
// declared.
func (r *Registry) RemoveByManifest(path string) (string, bool) {
	r.mu.Lock()
	name, ok := r.manifests[path]
	if ok {
		delete(r.manifests, path)
	}
	r.mu.Unlock()

	if !ok {
		return "", false
	}
	return name, r.Remove(name)
}

// LoadDir loads every manifest in dir. A missing directory is empty,
// not an error; a bad manifest is logged and skipped so one broken
// file cannot hold the rest of the population hostage.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logging.WorkloadDebug("Workload dir does not exist: %s", dir)
			return 0, nil
		}
		return 0, fmt.Errorf("read workload dir %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ManifestSuffix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if _, err := r.LoadManifest(path); err != nil {
			logging.Get(logging.CategoryWorkload).Warn("Skipping manifest %s: %v", entry.Name(), err)
			continue
		}
		loaded++
	}
	logging.Workload("Loaded %d manifest(s) from %s", loaded, dir)
	return loaded, nil
}
