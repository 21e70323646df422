package timer

import (
	"context"
	"encoding/json"
	"fmt"

	"pomodoro/timerd/internal/model"
)

const documentVersion = 1

// StoreKey is the Store key holding an installation's timer document.
func StoreKey(installationID string) string {
	return "timer:" + installationID
}

type document struct {
	Version  int                     `json:"version"`
	State    model.TimerSessionState `json:"state"`
	Profiles []model.TimerProfile    `json:"profiles"`
}

func (e *Engine) persistLocked(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	raw, err := json.Marshal(document{
		Version:  documentVersion,
		State:    e.state,
		Profiles: e.profiles,
	})
	if err != nil {
		return fmt.Errorf("encode timer document: %w", err)
	}
	if err := e.store.Save(ctx, StoreKey(e.installationID), raw); err != nil {
		return fmt.Errorf("save timer document: %w", err)
	}
	return nil
}

// restoreLocked loads the saved document. A missing document leaves the
// defaults in place; an unreadable one is reported and ignored.
func (e *Engine) restoreLocked(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	raw, ok, err := e.store.Load(ctx, StoreKey(e.installationID))
	if err != nil {
		return fmt.Errorf("load timer document: %w", err)
	}
	if !ok {
		return nil
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode timer document: %w", err)
	}

	profiles := cloneProfiles(e.presets)
	for _, p := range doc.Profiles {
		if p.BuiltIn {
			continue
		}
		if _, _, exists := findProfile(profiles, p.ID); exists {
			continue
		}
		if _, err := ValidateProfile(p.Name, p.WorkDuration, p.BreakDuration); err != nil {
			e.logger.Warn("dropping invalid saved profile", "installation", e.installationID, "profile", p.ID, "err", err)
			continue
		}
		profiles = append(profiles, p)
	}

	e.profiles = profiles
	e.state = normalizeState(doc.State, profiles)
	return nil
}

// normalizeState repairs a restored state so the engine invariants hold.
func normalizeState(state model.TimerSessionState, profiles []model.TimerProfile) model.TimerSessionState {
	if !state.Mode.Valid() {
		state.Mode = model.ModeFocus
	}
	if _, _, ok := findProfile(profiles, state.ActiveProfileID); !ok {
		state.ActiveProfileID = profiles[0].ID
	}
	active, _, _ := findProfile(profiles, state.ActiveProfileID)
	state.DurationSeconds = active.DurationSeconds(state.Mode)

	switch {
	case state.IsRunning && state.StartTimestamp != nil:
		state.PausedRemainingSeconds = nil
		if state.RunDurationSeconds <= 0 {
			state.RunDurationSeconds = state.DurationSeconds
		}
		if state.PhaseStartedAt == nil {
			started := *state.StartTimestamp
			state.PhaseStartedAt = &started
		}
		if state.PhaseDurationSeconds <= 0 {
			state.PhaseDurationSeconds = state.DurationSeconds
		}
	case state.PausedRemainingSeconds != nil:
		state.IsRunning = false
		state.StartTimestamp = nil
		state.RunDurationSeconds = 0
		if state.PhaseStartedAt != nil && state.PhaseDurationSeconds <= 0 {
			state.PhaseDurationSeconds = state.DurationSeconds
		}
		if *state.PausedRemainingSeconds < 0 {
			zero := 0
			state.PausedRemainingSeconds = &zero
		}
	default:
		state.IsRunning = false
		state.StartTimestamp = nil
		state.PhaseStartedAt = nil
		state.PhaseDurationSeconds = 0
		state.RunDurationSeconds = 0
	}
	return state
}
