// Package settings loads pi-trace's key/value configuration file (§6),
// merging a committed base file with a gitignored local override.
package settings

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/nicobailon/pi-rewind-hook/internal/ownpaths"
)

// Settings is the pi-trace configuration (.pi-trace/settings.json).
type Settings struct {
	// SilentCheckpoints suppresses per-checkpoint status updates.
	SilentCheckpoints bool `json:"silent_checkpoints"`

	// TraceHook installs a commit hook that writes raw, unresolved notes
	// on any commit (see §9's discussion of the hook's limitations).
	TraceHook bool `json:"trace_hook"`

	// LogLevel sets logging verbosity (debug, info, warn, error). Can be
	// overridden by the PI_TRACE_LOG_LEVEL environment variable.
	LogLevel string `json:"log_level,omitempty"`

	// Telemetry controls anonymous command-usage counting.
	// nil = not asked yet, true = opted in, false = opted out.
	Telemetry *bool `json:"telemetry,omitempty"`
}

// Load reads .pi-trace/settings.json, then applies any override from
// .pi-trace/settings.local.json. Returns zero-value defaults if neither
// file exists (category 1, environment error: degrade, never fail the caller).
func Load() (*Settings, error) {
	basePath, err := ownpaths.SettingsPath()
	if err != nil {
		return &Settings{}, nil //nolint:nilerr // not a repo: degrade to defaults
	}
	localPath, err := ownpaths.LocalSettingsPath()
	if err != nil {
		localPath = ""
	}

	s, err := loadFromFile(basePath)
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	if localPath != "" {
		localData, err := os.ReadFile(localPath) //nolint:gosec // fixed relative path under repo state dir
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading local settings file: %w", err)
			}
		} else if err := mergeJSON(s, localData); err != nil {
			return nil, fmt.Errorf("merging local settings: %w", err)
		}
	}

	return s, nil
}

func loadFromFile(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path) //nolint:gosec // fixed relative path under repo state dir
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("%w", err)
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing settings file: %w", err)
	}
	return s, nil
}

func mergeJSON(s *Settings, data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing JSON: %w", err)
	}

	if v, ok := raw["silent_checkpoints"]; ok {
		if err := json.Unmarshal(v, &s.SilentCheckpoints); err != nil {
			return fmt.Errorf("parsing silent_checkpoints field: %w", err)
		}
	}
	if v, ok := raw["trace_hook"]; ok {
		if err := json.Unmarshal(v, &s.TraceHook); err != nil {
			return fmt.Errorf("parsing trace_hook field: %w", err)
		}
	}
	if v, ok := raw["log_level"]; ok {
		var ll string
		if err := json.Unmarshal(v, &ll); err != nil {
			return fmt.Errorf("parsing log_level field: %w", err)
		}
		if ll != "" {
			s.LogLevel = ll
		}
	}
	if v, ok := raw["telemetry"]; ok {
		var t bool
		if err := json.Unmarshal(v, &t); err != nil {
			return fmt.Errorf("parsing telemetry field: %w", err)
		}
		s.Telemetry = &t
	}

	return nil
}

// LogLevelGetter reads log_level from settings for logging.SetLogLevelGetter,
// returning "" on any error so the caller falls back to its own default.
func LogLevelGetter() string {
	s, err := Load()
	if err != nil {
		return ""
	}
	return s.LogLevel
}

// Write persists settings to .pi-trace/settings.json (the committed, shared file).
func Write(s *Settings) error {
	if _, err := ownpaths.EnsureStateDir(); err != nil {
		return err
	}
	path, err := ownpaths.SettingsPath()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // not secret, committed file
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}
