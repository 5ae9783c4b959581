// Package library tracks installed plugin packages.
//
// Installed packages live in <dir>/<id>/ and are listed in
// <dir>/library.json. The library only holds code; which profiles use a
// plugin is recorded by the association index.
package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/plughost/internal/fsutil"
	"github.com/dshills/plughost/internal/plugin/manifest"
	"github.com/dshills/plughost/internal/plugin/security"
)

// IndexFileName is the library index inside the plugins directory.
const IndexFileName = "library.json"

// Source records how a plugin entered the library.
type Source string

// Plugin sources.
const (
	SourceBuiltin  Source = "builtin"
	SourceExternal Source = "external"
	SourceMigrated Source = "migrated"
)

// Entry is one installed plugin.
type Entry struct {
	ID          string    `json:"id"`
	Version     string    `json:"version"`
	InstalledAt time.Time `json:"installedAt"`
	Source      Source    `json:"source"`
}

type indexFile struct {
	Plugins []Entry `json:"plugins"`
}

// ReferenceFinder reports which profiles use a plugin.
type ReferenceFinder interface {
	ProfilesReferencing(pluginID string) []string
}

// UpdateFunc is called after a plugin's package changed on disk.
type UpdateFunc func(pluginID string)

// Options configure a Library.
type Options struct {
	// Dir is the plugins directory. Required.
	Dir string

	// HostVersion is checked against manifest hostVersion constraints.
	// Empty skips the check.
	HostVersion string

	// References guards Uninstall. Nil means no plugin is referenced.
	References ReferenceFinder

	Logger zerolog.Logger
}

// Library is the set of installed plugin packages.
type Library struct {
	mu          sync.RWMutex
	dir         string
	hostVersion string
	refs        ReferenceFinder
	entries     map[string]Entry
	listeners   []UpdateFunc
	log         zerolog.Logger
}

// Open loads the library index from opts.Dir. A missing index is an
// empty library.
func Open(opts Options) (*Library, error) {
	if opts.Dir == "" {
		return nil, errors.New("library: directory is required")
	}
	l := &Library{
		dir:         opts.Dir,
		hostVersion: opts.HostVersion,
		refs:        opts.References,
		entries:     make(map[string]Entry),
		log:         opts.Logger.With().Str("component", "library").Logger(),
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Library) load() error {
	data, err := os.ReadFile(filepath.Join(l.dir, IndexFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("library: read index: %w", err)
	}
	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("library: parse index: %w", err)
	}
	for _, e := range idx.Plugins {
		if e.ID != "" {
			l.entries[e.ID] = e
		}
	}
	return nil
}

// saveLocked writes the index. Caller holds mu.
func (l *Library) saveLocked() error {
	idx := indexFile{Plugins: make([]Entry, 0, len(l.entries))}
	for _, e := range l.entries {
		idx.Plugins = append(idx.Plugins, e)
	}
	sort.Slice(idx.Plugins, func(i, j int) bool { return idx.Plugins[i].ID < idx.Plugins[j].ID })
	return fsutil.WriteJSON(filepath.Join(l.dir, IndexFileName), idx)
}

// SetReferenceFinder replaces the uninstall guard.
func (l *Library) SetReferenceFinder(refs ReferenceFinder) {
	l.mu.Lock()
	l.refs = refs
	l.mu.Unlock()
}

// OnUpdate registers fn for package updates.
func (l *Library) OnUpdate(fn UpdateFunc) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

func (l *Library) notify(pluginID string) {
	l.mu.RLock()
	listeners := append([]UpdateFunc(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		fn(pluginID)
	}
}

// Dir returns the plugins directory.
func (l *Library) Dir() string { return l.dir }

// PluginDir returns the package directory of id.
func (l *Library) PluginDir(id string) string {
	return filepath.Join(l.dir, id)
}

// Get returns the entry for id.
func (l *Library) Get(id string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[id]
	return e, ok
}

// IsInstalled reports whether id is installed.
func (l *Library) IsInstalled(id string) bool {
	_, ok := l.Get(id)
	return ok
}

// List returns all entries sorted by id.
func (l *Library) List() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns installed plugin ids, sorted.
func (l *Library) IDs() []string {
	entries := l.List()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

// Manifest loads the manifest of an installed plugin.
func (l *Library) Manifest(id string) (*manifest.Manifest, error) {
	if !l.IsInstalled(id) {
		return nil, &ConflictError{Kind: NotInstalled, PluginID: id}
	}
	return manifest.LoadDir(l.PluginDir(id))
}

// ValidateID rejects ids that cannot name a package directory.
func ValidateID(id string) error {
	switch {
	case strings.TrimSpace(id) != id, id == "", id == ".", id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case strings.ContainsAny(id, `/\:`), strings.HasPrefix(id, "."):
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// readPackage loads and checks the manifest in srcDir.
func (l *Library) readPackage(id, srcDir string) (*manifest.Manifest, error) {
	info, err := os.Stat(srcDir)
	if err != nil {
		return nil, fmt.Errorf("library: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, srcDir)
	}
	m, err := manifest.LoadDir(srcDir)
	if err != nil {
		return nil, err
	}
	if m.ID != id {
		return nil, fmt.Errorf("%w: expected %q, got %q", ErrIDMismatch, id, m.ID)
	}
	if l.hostVersion != "" {
		if err := m.CheckHostVersion(l.hostVersion); err != nil {
			return nil, err
		}
	}
	if _, err := m.MainPath(srcDir); err != nil {
		return nil, err
	}
	for _, p := range m.Permissions {
		if !security.IsKnownPermission(p) {
			l.log.Warn().Str("plugin", id).Str("permission", p).Msg("Manifest declares an unknown permission")
		}
	}
	return m, nil
}

// stage copies srcDir to a hidden directory inside the library.
func (l *Library) stage(id, srcDir string) (string, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", fmt.Errorf("library: %w", err)
	}
	tmp, err := os.MkdirTemp(l.dir, ".staging-"+id+"-")
	if err != nil {
		return "", fmt.Errorf("library: %w", err)
	}
	if err := os.CopyFS(tmp, os.DirFS(srcDir)); err != nil {
		os.RemoveAll(tmp)
		return "", fmt.Errorf("library: copy package: %w", err)
	}
	return tmp, nil
}

// Install copies the package in srcDir to the library as id.
func (l *Library) Install(id, srcDir string, source Source) (Entry, error) {
	if err := ValidateID(id); err != nil {
		return Entry{}, err
	}
	if source == "" {
		source = SourceExternal
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[id]; ok {
		return Entry{}, &ConflictError{Kind: AlreadyInstalled, PluginID: id}
	}
	m, err := l.readPackage(id, srcDir)
	if err != nil {
		return Entry{}, err
	}

	tmp, err := l.stage(id, srcDir)
	if err != nil {
		return Entry{}, err
	}
	dst := l.PluginDir(id)
	if err := os.RemoveAll(dst); err != nil {
		os.RemoveAll(tmp)
		return Entry{}, fmt.Errorf("library: clear %s: %w", dst, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.RemoveAll(tmp)
		return Entry{}, fmt.Errorf("library: install %s: %w", id, err)
	}

	e := Entry{ID: id, Version: m.Version, InstalledAt: time.Now().UTC(), Source: source}
	l.entries[id] = e
	if err := l.saveLocked(); err != nil {
		delete(l.entries, id)
		os.RemoveAll(dst)
		return Entry{}, err
	}
	l.log.Info().Str("plugin", id).Str("version", m.Version).Str("source", string(source)).Msg("Plugin installed")
	return e, nil
}

// Uninstall removes an installed plugin. Without force, a plugin still
// referenced by a profile is kept and a HasReferences conflict returned.
func (l *Library) Uninstall(id string, force bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[id]; !ok {
		return &ConflictError{Kind: NotInstalled, PluginID: id}
	}
	if !force && l.refs != nil {
		if profiles := l.refs.ProfilesReferencing(id); len(profiles) > 0 {
			return &ConflictError{Kind: HasReferences, PluginID: id, Profiles: profiles}
		}
	}

	dir := l.PluginDir(id)
	trash := dir + ".removed"
	_ = os.RemoveAll(trash)
	if err := os.Rename(dir, trash); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("library: remove %s: %w", id, err)
	}
	prev := l.entries[id]
	delete(l.entries, id)
	if err := l.saveLocked(); err != nil {
		l.entries[id] = prev
		_ = os.Rename(trash, dir)
		return err
	}
	if err := os.RemoveAll(trash); err != nil {
		l.log.Warn().Err(err).Str("plugin", id).Msg("Failed to delete removed package")
	}
	l.log.Info().Str("plugin", id).Bool("force", force).Msg("Plugin uninstalled")
	return nil
}

// UpdateInfo describes an available update.
type UpdateInfo struct {
	ID               string
	InstalledVersion string
	CandidateVersion string
}

// CheckForUpdate reports whether candidateDir holds a strictly newer
// version of id.
func (l *Library) CheckForUpdate(id, candidateDir string) (UpdateInfo, bool, error) {
	cur, ok := l.Get(id)
	if !ok {
		return UpdateInfo{}, false, &ConflictError{Kind: NotInstalled, PluginID: id}
	}
	m, err := l.readPackage(id, candidateDir)
	if err != nil {
		return UpdateInfo{}, false, err
	}
	info := UpdateInfo{ID: id, InstalledVersion: cur.Version, CandidateVersion: m.Version}
	return info, CompareVersions(m.Version, cur.Version) > 0, nil
}

// Update replaces the package of id with candidateDir when the candidate
// is strictly newer. Profile configuration is not touched. Update
// listeners are notified on success.
func (l *Library) Update(id, candidateDir string) (Entry, error) {
	e, err := l.update(id, candidateDir)
	if err != nil {
		return Entry{}, err
	}
	l.notify(id)
	return e, nil
}

func (l *Library) update(id, candidateDir string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.entries[id]
	if !ok {
		return Entry{}, &ConflictError{Kind: NotInstalled, PluginID: id}
	}
	m, err := l.readPackage(id, candidateDir)
	if err != nil {
		return Entry{}, err
	}
	if CompareVersions(m.Version, cur.Version) <= 0 {
		return Entry{}, fmt.Errorf("%w: %s <= %s", ErrNotNewer, m.Version, cur.Version)
	}

	tmp, err := l.stage(id, candidateDir)
	if err != nil {
		return Entry{}, err
	}
	dst := l.PluginDir(id)
	backup := dst + ".old"
	_ = os.RemoveAll(backup)
	if err := os.Rename(dst, backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		os.RemoveAll(tmp)
		return Entry{}, fmt.Errorf("library: update %s: %w", id, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Rename(backup, dst)
		os.RemoveAll(tmp)
		return Entry{}, fmt.Errorf("library: update %s: %w", id, err)
	}

	prev := cur
	cur.Version = m.Version
	l.entries[id] = cur
	if err := l.saveLocked(); err != nil {
		l.entries[id] = prev
		os.RemoveAll(dst)
		_ = os.Rename(backup, dst)
		return Entry{}, err
	}
	_ = os.RemoveAll(backup)
	l.log.Info().Str("plugin", id).Str("version", m.Version).Msg("Plugin updated")
	return cur, nil
}

// ReconcileResult lists what Reconcile changed.
type ReconcileResult struct {
	Installed []string // bundled packages installed
	Migrated  []string // package dirs registered from disk
	Dropped   []string // index entries whose package dir is gone
}

// Reconcile brings the index in line with disk. Packages in builtinDir
// that are not installed are installed with SourceBuiltin; package
// directories already in the library but missing from the index are
// registered with SourceMigrated; entries whose directory vanished are
// dropped. Problems with single packages are logged and skipped.
func (l *Library) Reconcile(builtinDir string) (ReconcileResult, error) {
	var res ReconcileResult

	if builtinDir != "" {
		for _, dir := range packageDirs(builtinDir) {
			m, err := manifest.LoadDir(dir)
			if err != nil {
				l.log.Warn().Err(err).Str("dir", dir).Msg("Skipping bundled package")
				continue
			}
			if l.IsInstalled(m.ID) {
				continue
			}
			if _, err := l.Install(m.ID, dir, SourceBuiltin); err != nil {
				l.log.Warn().Err(err).Str("plugin", m.ID).Msg("Bundled package not installed")
				continue
			}
			res.Installed = append(res.Installed, m.ID)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	changed := false
	for _, dir := range packageDirs(l.dir) {
		id := filepath.Base(dir)
		if _, ok := l.entries[id]; ok {
			continue
		}
		m, err := manifest.LoadDir(dir)
		if err != nil || m.ID != id {
			l.log.Warn().Err(err).Str("dir", dir).Msg("Skipping unregistered package")
			continue
		}
		info, _ := os.Stat(dir)
		installed := time.Now().UTC()
		if info != nil {
			installed = info.ModTime().UTC()
		}
		l.entries[id] = Entry{ID: id, Version: m.Version, InstalledAt: installed, Source: SourceMigrated}
		res.Migrated = append(res.Migrated, id)
		changed = true
	}
	for id := range l.entries {
		if info, err := os.Stat(l.PluginDir(id)); err != nil || !info.IsDir() {
			delete(l.entries, id)
			res.Dropped = append(res.Dropped, id)
			changed = true
		}
	}
	sort.Strings(res.Dropped)

	if changed {
		if err := l.saveLocked(); err != nil {
			return res, err
		}
	}
	return res, nil
}

// packageDirs returns the visible subdirectories of dir that contain a
// manifest, sorted.
func packageDirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || strings.HasSuffix(e.Name(), ".old") || strings.HasSuffix(e.Name(), ".removed") {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if _, err := os.Stat(filepath.Join(p, manifest.FileName)); err == nil {
			out = append(out, p)
		}
	}
	return out
}
