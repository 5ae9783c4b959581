// Package association records which plugins each profile uses.
//
// The index is persisted to a single JSON file:
//
//	{
//	  "profiles": {"<profileId>": [{"pluginId": "...", "enabled": true, "addedAt": "..."}]},
//	  "original": {"<profileId>": ["<pluginId>", ...]}
//	}
//
// Entries keep insertion order. The optional original set is the plugin
// list a profile started from, used to report drift.
package association

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/plughost/internal/fsutil"
)

// FileName is the default index file name.
const FileName = "associations.json"

// Errors.
var (
	ErrNotAssociated = errors.New("association: plugin not associated with profile")
	ErrInvalidID     = errors.New("association: empty id")
)

// Entry is one plugin reference in a profile.
type Entry struct {
	PluginID string    `json:"pluginId"`
	Enabled  bool      `json:"enabled"`
	AddedAt  time.Time `json:"addedAt"`
}

type indexFile struct {
	Profiles map[string][]Entry  `json:"profiles"`
	Original map[string][]string `json:"original,omitempty"`
}

// ChangeKind classifies a Change.
type ChangeKind int

// Change kinds.
const (
	ChangeAdded ChangeKind = iota + 1
	ChangeRemoved
	ChangeEnabled
	ChangeDisabled
	ChangeProfileRemoved
)

// String returns the kind name.
func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	case ChangeEnabled:
		return "enabled"
	case ChangeDisabled:
		return "disabled"
	case ChangeProfileRemoved:
		return "profile-removed"
	default:
		return "unknown"
	}
}

// Change describes one index mutation.
type Change struct {
	Kind      ChangeKind
	ProfileID string
	PluginIDs []string
}

// ChangeFunc receives index mutations after they are persisted.
type ChangeFunc func(Change)

// Drift compares a profile's current plugins with its original set.
type Drift struct {
	Added   []string // present now, not in the original set
	Removed []string // in the original set, not present now
}

// Index is the profile to plugin association table.
type Index struct {
	mu        sync.RWMutex
	path      string
	profiles  map[string][]Entry
	original  map[string][]string
	listeners []ChangeFunc
	log       zerolog.Logger
}

// Open loads the index at path. A missing file is an empty index.
func Open(path string, log zerolog.Logger) (*Index, error) {
	idx := &Index{
		path:     path,
		profiles: make(map[string][]Entry),
		original: make(map[string][]string),
		log:      log.With().Str("component", "associations").Logger(),
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("association: read %s: %w", path, err)
	}
	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("association: parse %s: %w", path, err)
	}
	for profile, entries := range f.Profiles {
		seen := make(map[string]bool, len(entries))
		for _, e := range entries {
			if e.PluginID == "" || seen[e.PluginID] {
				continue
			}
			seen[e.PluginID] = true
			idx.profiles[profile] = append(idx.profiles[profile], e)
		}
	}
	for profile, ids := range f.Original {
		idx.original[profile] = slices.Clone(ids)
	}
	return idx, nil
}

// Path returns the index file path.
func (x *Index) Path() string { return x.path }

// OnChange registers fn for mutations.
func (x *Index) OnChange(fn ChangeFunc) {
	x.mu.Lock()
	x.listeners = append(x.listeners, fn)
	x.mu.Unlock()
}

func (x *Index) notify(c Change) {
	x.mu.RLock()
	listeners := slices.Clone(x.listeners)
	x.mu.RUnlock()
	for _, fn := range listeners {
		fn(c)
	}
}

func (x *Index) saveLocked() error {
	f := indexFile{Profiles: x.profiles, Original: x.original}
	if err := fsutil.WriteJSON(x.path, f); err != nil {
		return fmt.Errorf("association: save: %w", err)
	}
	return nil
}

// profileState is the saved state of one profile, restored when a
// mutation cannot be persisted.
type profileState struct {
	profile     string
	entries     []Entry
	hadEntries  bool
	original    []string
	hadOriginal bool
}

func (x *Index) captureLocked(profile string) profileState {
	entries, hadEntries := x.profiles[profile]
	original, hadOriginal := x.original[profile]
	return profileState{
		profile:     profile,
		entries:     slices.Clone(entries),
		hadEntries:  hadEntries,
		original:    slices.Clone(original),
		hadOriginal: hadOriginal,
	}
}

// commitLocked persists the index, restoring prev when the write fails.
func (x *Index) commitLocked(prev profileState) error {
	err := x.saveLocked()
	if err == nil {
		return nil
	}
	if prev.hadEntries {
		x.profiles[prev.profile] = prev.entries
	} else {
		delete(x.profiles, prev.profile)
	}
	if prev.hadOriginal {
		x.original[prev.profile] = prev.original
	} else {
		delete(x.original, prev.profile)
	}
	return err
}

func (x *Index) findLocked(profile, pluginID string) int {
	return slices.IndexFunc(x.profiles[profile], func(e Entry) bool {
		return e.PluginID == pluginID
	})
}

func validIDs(ids ...string) error {
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return ErrInvalidID
		}
	}
	return nil
}

// Add associates pluginID with profile. It reports false when the pair
// already exists.
func (x *Index) Add(profile, pluginID string, enabled bool) (bool, error) {
	added, err := x.AddMany(profile, []string{pluginID}, enabled)
	return len(added) == 1, err
}

// AddMany associates every id with profile and returns the ids that were
// not yet associated.
func (x *Index) AddMany(profile string, pluginIDs []string, enabled bool) ([]string, error) {
	if err := validIDs(append([]string{profile}, pluginIDs...)...); err != nil {
		return nil, err
	}

	x.mu.Lock()
	prev := x.captureLocked(profile)
	var added []string
	now := time.Now().UTC()
	for _, id := range pluginIDs {
		if x.findLocked(profile, id) >= 0 {
			continue
		}
		x.profiles[profile] = append(x.profiles[profile], Entry{PluginID: id, Enabled: enabled, AddedAt: now})
		added = append(added, id)
	}
	if len(added) == 0 {
		x.mu.Unlock()
		return nil, nil
	}
	err := x.commitLocked(prev)
	x.mu.Unlock()
	if err != nil {
		return nil, err
	}

	x.log.Debug().Str("profile", profile).Strs("plugins", added).Msg("Plugins associated")
	x.notify(Change{Kind: ChangeAdded, ProfileID: profile, PluginIDs: added})
	return added, nil
}

// Remove drops the association. It reports false when none existed.
func (x *Index) Remove(profile, pluginID string) (bool, error) {
	removed, err := x.RemoveMany(profile, []string{pluginID})
	return len(removed) == 1, err
}

// RemoveMany drops the associations of every id and returns those that
// existed.
func (x *Index) RemoveMany(profile string, pluginIDs []string) ([]string, error) {
	x.mu.Lock()
	prev := x.captureLocked(profile)
	var removed []string
	for _, id := range pluginIDs {
		if i := x.findLocked(profile, id); i >= 0 {
			x.profiles[profile] = slices.Delete(x.profiles[profile], i, i+1)
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 {
		x.mu.Unlock()
		return nil, nil
	}
	if len(x.profiles[profile]) == 0 {
		delete(x.profiles, profile)
	}
	err := x.commitLocked(prev)
	x.mu.Unlock()
	if err != nil {
		return nil, err
	}

	x.notify(Change{Kind: ChangeRemoved, ProfileID: profile, PluginIDs: removed})
	return removed, nil
}

// SetEnabled toggles an association. Setting the current value is a
// no-op without notification.
func (x *Index) SetEnabled(profile, pluginID string, enabled bool) error {
	x.mu.Lock()
	i := x.findLocked(profile, pluginID)
	if i < 0 {
		x.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrNotAssociated, profile, pluginID)
	}
	if x.profiles[profile][i].Enabled == enabled {
		x.mu.Unlock()
		return nil
	}
	prev := x.captureLocked(profile)
	x.profiles[profile][i].Enabled = enabled
	err := x.commitLocked(prev)
	x.mu.Unlock()
	if err != nil {
		return err
	}

	kind := ChangeDisabled
	if enabled {
		kind = ChangeEnabled
	}
	x.notify(Change{Kind: kind, ProfileID: profile, PluginIDs: []string{pluginID}})
	return nil
}

// Entries returns a profile's associations in insertion order.
func (x *Index) Entries(profile string) []Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return slices.Clone(x.profiles[profile])
}

// Entry returns one association.
func (x *Index) Entry(profile, pluginID string) (Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if i := x.findLocked(profile, pluginID); i >= 0 {
		return x.profiles[profile][i], true
	}
	return Entry{}, false
}

// Plugins returns every plugin id associated with profile, in order.
func (x *Index) Plugins(profile string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ids := make([]string, 0, len(x.profiles[profile]))
	for _, e := range x.profiles[profile] {
		ids = append(ids, e.PluginID)
	}
	return ids
}

// EnabledPlugins returns the enabled plugin ids of profile, in order.
func (x *Index) EnabledPlugins(profile string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var ids []string
	for _, e := range x.profiles[profile] {
		if e.Enabled {
			ids = append(ids, e.PluginID)
		}
	}
	return ids
}

// ProfilesReferencing returns the profiles associated with pluginID,
// sorted.
func (x *Index) ProfilesReferencing(pluginID string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []string
	for profile := range x.profiles {
		if x.findLocked(profile, pluginID) >= 0 {
			out = append(out, profile)
		}
	}
	sort.Strings(out)
	return out
}

// Profiles returns every profile with associations or an original set,
// sorted.
func (x *Index) Profiles() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	seen := make(map[string]bool, len(x.profiles)+len(x.original))
	for p := range x.profiles {
		seen[p] = true
	}
	for p := range x.original {
		seen[p] = true
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// RemoveProfile drops all associations and the original set of profile.
// It reports whether anything was removed.
func (x *Index) RemoveProfile(profile string) (bool, error) {
	x.mu.Lock()
	prev := x.captureLocked(profile)
	if !prev.hadEntries && !prev.hadOriginal {
		x.mu.Unlock()
		return false, nil
	}
	entries := prev.entries
	delete(x.profiles, profile)
	delete(x.original, profile)
	err := x.commitLocked(prev)
	x.mu.Unlock()
	if err != nil {
		return false, err
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.PluginID
	}
	x.notify(Change{Kind: ChangeProfileRemoved, ProfileID: profile, PluginIDs: ids})
	return true, nil
}

// SetOriginal records the plugin set a profile started from. Duplicates
// are dropped; order is kept.
func (x *Index) SetOriginal(profile string, pluginIDs []string) error {
	if err := validIDs(append([]string{profile}, pluginIDs...)...); err != nil {
		return err
	}
	var ids []string
	seen := make(map[string]bool, len(pluginIDs))
	for _, id := range pluginIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if ids == nil {
		ids = []string{}
	}
	prev := x.captureLocked(profile)
	x.original[profile] = ids
	return x.commitLocked(prev)
}

// Original returns the original plugin set of profile and whether one
// was recorded.
func (x *Index) Original(profile string) ([]string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ids, ok := x.original[profile]
	return slices.Clone(ids), ok
}

// Drift reports how a profile's plugins differ from its original set.
// Without an original set every current plugin counts as added.
func (x *Index) Drift(profile string) Drift {
	x.mu.RLock()
	defer x.mu.RUnlock()

	current := make(map[string]bool)
	for _, e := range x.profiles[profile] {
		current[e.PluginID] = true
	}
	orig := make(map[string]bool)
	var d Drift
	for _, id := range x.original[profile] {
		orig[id] = true
		if !current[id] {
			d.Removed = append(d.Removed, id)
		}
	}
	for _, e := range x.profiles[profile] {
		if !orig[e.PluginID] {
			d.Added = append(d.Added, e.PluginID)
		}
	}
	return d
}

// Missing returns the plugins associated with profile that installed
// does not report as installed.
func (x *Index) Missing(profile string, installed func(pluginID string) bool) []string {
	var out []string
	for _, id := range x.Plugins(profile) {
		if !installed(id) {
			out = append(out, id)
		}
	}
	return out
}
