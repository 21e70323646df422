package timer

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"pomodoro/timerd/internal/model"
)

// DefaultPresets returns the built-in profiles available at first run.
func DefaultPresets() []model.TimerProfile {
	return []model.TimerProfile{
		{ID: "classic", Name: "Classic", WorkDuration: 25, BreakDuration: 5, BuiltIn: true},
		{ID: "deep-work", Name: "Deep Work", WorkDuration: 50, BreakDuration: 10, BuiltIn: true},
		{ID: "short-sprint", Name: "Short Sprint", WorkDuration: 15, BreakDuration: 3, BuiltIn: true},
	}
}

type presetsFile struct {
	Profiles []model.TimerProfile `yaml:"profiles"`
}

// LoadPresets reads built-in profiles from a YAML file.
// An empty path or a missing file yields DefaultPresets.
func LoadPresets(path string) ([]model.TimerProfile, error) {
	if path == "" {
		return DefaultPresets(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultPresets(), nil
		}
		return nil, fmt.Errorf("read presets file: %w", err)
	}
	return ParsePresets(raw)
}

// ParsePresets decodes and validates a presets document.
func ParsePresets(raw []byte) ([]model.TimerProfile, error) {
	var file presetsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse presets yaml: %w", err)
	}
	if len(file.Profiles) == 0 {
		return nil, errors.New("presets file defines no profiles")
	}

	seen := make(map[string]struct{}, len(file.Profiles))
	presets := make([]model.TimerProfile, 0, len(file.Profiles))
	for i, p := range file.Profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("preset %d: id is required", i)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("preset %d: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = struct{}{}

		name, err := ValidateProfile(p.Name, p.WorkDuration, p.BreakDuration)
		if err != nil {
			return nil, fmt.Errorf("preset %q: %w", p.ID, err)
		}
		p.Name = name
		p.BuiltIn = true
		presets = append(presets, p)
	}
	return presets, nil
}
