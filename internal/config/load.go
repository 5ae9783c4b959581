package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/plughost/internal/config/loader"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "PLUGHOST_"

// envMapping holds the variables whose names do not follow the
// PLUGHOST_<SECTION>_<SETTING> rule.
var envMapping = map[string]string{
	"PLUGHOST_DATA_DIR":  "paths.dataDir",
	"PLUGHOST_LOG_LEVEL": "log.level",
	"PLUGHOST_TIMEOUT":   "runtime.timeout",
}

// Load reads path over the defaults and applies environment overrides.
// An empty path or a missing file yields the defaults. A leading ~ is
// expanded to the home directory.
func Load(path string) (*Config, error) {
	layers := make(map[string]any)

	if path != "" {
		fileCfg, err := loader.NewFileLoader(expandHome(path)).Load()
		if err != nil {
			return nil, err
		}
		layers = loader.DeepMerge(layers, fileCfg)
	}

	envCfg, err := loader.NewEnvLoader(EnvPrefix, envMapping).Load()
	if err != nil {
		return nil, err
	}
	layers = loader.DeepMerge(layers, envCfg)

	cfg, err := FromMap(layers)
	if err != nil {
		return nil, err
	}
	cfg.Paths.DataDir = expandHome(cfg.Paths.DataDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromMap decodes a settings tree over the defaults.
func FromMap(m map[string]any) (*Config, error) {
	cfg := Default()
	if len(m) == 0 {
		return cfg, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok || (rest != "" && rest[0] != '/' && rest[0] != filepath.Separator) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
