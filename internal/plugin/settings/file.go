package settings

import (
	"encoding/json"
	"os"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/dshills/plughost/internal/fsutil"
)

// FileName is the config file name inside a plugin config directory.
const FileName = "config.json"

type fileFormat struct {
	PluginID string          `json:"pluginId"`
	Enabled  *bool           `json:"enabled"`
	Settings json.RawMessage `json:"settings"`
}

// SaveToFile writes the store as pretty-printed JSON, atomically.
func (s *Store) SaveToFile(path string) error {
	s.mu.RLock()
	enabled := s.enabled
	f := fileFormat{
		PluginID: s.pluginID,
		Enabled:  &enabled,
		Settings: append(json.RawMessage(nil), s.doc...),
	}
	s.mu.RUnlock()

	return fsutil.WriteJSON(path, f)
}

// LoadFromFile reads a store saved by SaveToFile. A missing or malformed
// file yields a fresh, empty, enabled store.
func LoadFromFile(path, pluginID string) *Store {
	s := New(pluginID)

	data, err := os.ReadFile(path)
	if err != nil || !gjson.ValidBytes(data) {
		return s
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return s
	}

	if f.Enabled != nil {
		s.enabled = *f.Enabled
	}
	if gjson.ParseBytes(f.Settings).IsObject() {
		s.doc = pretty.Ugly(f.Settings)
	}
	return s
}
