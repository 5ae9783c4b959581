// Package settings implements the persisted per-plugin configuration store.
//
// A Store holds a JSON object tree addressed by dot-separated paths. Reads
// go through gjson and writes through sjson, so the in-memory form is always
// the same compact JSON document that is written to disk.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrInvalidPath is returned for empty paths or paths with empty segments.
var ErrInvalidPath = errors.New("settings: invalid path")

// ChangeFunc is called after a value is set or removed. Removed values are
// reported as nil.
type ChangeFunc func(path string, value any)

// Store is the configuration of one plugin within one profile.
type Store struct {
	mu        sync.RWMutex
	pluginID  string
	enabled   bool
	doc       []byte
	listeners []ChangeFunc
}

// New creates an empty, enabled store.
func New(pluginID string) *Store {
	return &Store{
		pluginID: pluginID,
		enabled:  true,
		doc:      []byte("{}"),
	}
}

// PluginID returns the owning plugin.
func (s *Store) PluginID() string {
	return s.pluginID
}

// Enabled reports whether the plugin is enabled in this profile.
func (s *Store) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// SetEnabled sets the enabled flag.
func (s *Store) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// OnChange registers a listener for Set and Remove.
func (s *Store) OnChange(fn ChangeFunc) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Result returns the raw gjson result at path. Missing paths return a
// result whose Exists method reports false.
func (s *Store) Result(path string) gjson.Result {
	parts, err := splitPath(path)
	if err != nil {
		return gjson.Result{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return gjson.GetBytes(s.doc, readPath(parts))
}

// Value returns the decoded value at path. Objects decode to
// map[string]any, arrays to []any and numbers to float64.
func (s *Store) Value(path string) (any, bool) {
	r := s.Result(path)
	if !r.Exists() {
		return nil, false
	}
	return r.Value(), true
}

// Get decodes the value at path into T. Missing paths and values that do
// not decode into T return def.
func Get[T any](s *Store, path string, def T) T {
	r := s.Result(path)
	if !r.Exists() {
		return def
	}
	var v T
	if err := json.Unmarshal([]byte(r.Raw), &v); err != nil {
		return def
	}
	return v
}

// GetString returns the string at path, or def if absent or not a string.
func (s *Store) GetString(path, def string) string {
	r := s.Result(path)
	if r.Type != gjson.String {
		return def
	}
	return r.Str
}

// GetBool returns the boolean at path, or def.
func (s *Store) GetBool(path string, def bool) bool {
	r := s.Result(path)
	if r.Type != gjson.True && r.Type != gjson.False {
		return def
	}
	return r.Bool()
}

// GetInt returns the integer at path, or def.
func (s *Store) GetInt(path string, def int64) int64 {
	r := s.Result(path)
	if r.Type != gjson.Number {
		return def
	}
	return r.Int()
}

// GetFloat returns the number at path, or def.
func (s *Store) GetFloat(path string, def float64) float64 {
	r := s.Result(path)
	if r.Type != gjson.Number {
		return def
	}
	return r.Num
}

// ContainsKey reports whether a value (including null) exists at path.
func (s *Store) ContainsKey(path string) bool {
	return s.Result(path).Exists()
}

// Set stores value at path, creating intermediate objects. A non-object
// value found on the way is replaced by an object.
func (s *Store) Set(path string, value any) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	doc, err := setValue(s.doc, parts, value)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("settings: set %q: %w", path, err)
	}
	s.doc = doc
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(path, value)
	}
	return nil
}

// Remove deletes the value at path. Removing a missing path is a no-op.
func (s *Store) Remove(path string) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !gjson.GetBytes(s.doc, readPath(parts)).Exists() {
		s.mu.Unlock()
		return nil
	}
	doc, err := sjson.DeleteBytes(s.doc, writePath(parts))
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("settings: remove %q: %w", path, err)
	}
	s.doc = doc
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(path, nil)
	}
	return nil
}

// Keys returns the top-level keys in insertion order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	gjson.ParseBytes(s.doc).ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	return keys
}

// Snapshot returns a decoded copy of the whole tree.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any)
	_ = json.Unmarshal(s.doc, &out)
	return out
}

// JSON returns a copy of the compact JSON document.
func (s *Store) JSON() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.doc...)
}

// ApplyDefaults sets each top-level default whose key is absent. Existing
// values are kept, even when falsy. It returns the number of keys filled.
func (s *Store) ApplyDefaults(defaults map[string]any) int {
	if len(defaults) == 0 {
		return 0
	}

	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	s.mu.Lock()
	defer s.mu.Unlock()

	filled := 0
	for _, k := range keys {
		parts := []string{k}
		if gjson.GetBytes(s.doc, readPath(parts)).Exists() {
			continue
		}
		doc, err := sjson.SetBytes(s.doc, writePath(parts), defaults[k])
		if err != nil {
			continue
		}
		s.doc = doc
		filled++
	}
	return filled
}

func (s *Store) snapshotListeners() []ChangeFunc {
	if len(s.listeners) == 0 {
		return nil
	}
	out := make([]ChangeFunc, len(s.listeners))
	copy(out, s.listeners)
	return out
}

func setValue(doc []byte, parts []string, value any) ([]byte, error) {
	for i := 1; i < len(parts); i++ {
		r := gjson.GetBytes(doc, readPath(parts[:i]))
		if r.Exists() && !r.IsObject() {
			var err error
			doc, err = sjson.DeleteBytes(doc, writePath(parts[:i]))
			if err != nil {
				return nil, err
			}
			break
		}
	}
	return sjson.SetBytes(doc, writePath(parts), value)
}

func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, ErrInvalidPath
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return parts, nil
}

// readPath builds a gjson path that treats every segment as a literal key.
func readPath(parts []string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = escapeSegment(p)
	}
	return strings.Join(escaped, ".")
}

// writePath builds an sjson path. All-digit segments get the ':' prefix so
// sjson creates object keys instead of arrays.
func writePath(parts []string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		if isDigits(p) {
			escaped[i] = ":" + p
		} else {
			escaped[i] = escapeSegment(p)
		}
	}
	return strings.Join(escaped, ".")
}

const specialChars = `\*?|#@!=<>%:~`

func escapeSegment(seg string) string {
	if !strings.ContainsAny(seg, specialChars) {
		return seg
	}
	var b strings.Builder
	for _, r := range seg {
		if strings.ContainsRune(specialChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
