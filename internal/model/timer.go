package model

import "time"

type Mode string

const (
	ModeFocus Mode = "focus"
	ModeBreak Mode = "break"
)

func (m Mode) Valid() bool {
	return m == ModeFocus || m == ModeBreak
}

// Opposite returns the mode entered after a phase in m completes.
func (m Mode) Opposite() Mode {
	if m == ModeFocus {
		return ModeBreak
	}
	return ModeFocus
}

const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusPaused  = "paused"
)

const SessionKindFocus = "focus"

const MaxProfileNameLength = 20

type TimerProfile struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	WorkDuration  int    `json:"workDuration" yaml:"workDuration"`
	BreakDuration int    `json:"breakDuration" yaml:"breakDuration"`
	BuiltIn       bool   `json:"builtIn" yaml:"-"`
}

// DurationSeconds returns the phase length in seconds for mode.
func (p TimerProfile) DurationSeconds(mode Mode) int {
	if mode == ModeBreak {
		return p.BreakDuration * 60
	}
	return p.WorkDuration * 60
}

// TimerSessionState is the single mutable timer of an installation.
//
// Exactly one of these holds: IsRunning with StartTimestamp set, paused with
// PausedRemainingSeconds set, or idle with both absent.
type TimerSessionState struct {
	Mode                   Mode       `json:"mode"`
	DurationSeconds        int        `json:"durationSeconds"`
	RunDurationSeconds     int        `json:"runDurationSeconds"`
	StartTimestamp         *time.Time `json:"startTimestamp,omitempty"`
	PhaseStartedAt         *time.Time `json:"phaseStartedAt,omitempty"`
	PhaseDurationSeconds   int        `json:"phaseDurationSeconds,omitempty"`
	IsRunning              bool       `json:"isRunning"`
	PausedRemainingSeconds *int       `json:"pausedRemainingSeconds,omitempty"`
	ActiveProfileID        string     `json:"activeProfileId"`
}

func (s TimerSessionState) Status() string {
	switch {
	case s.IsRunning:
		return StatusRunning
	case s.PausedRemainingSeconds != nil:
		return StatusPaused
	default:
		return StatusIdle
	}
}

// Clone returns a copy that shares no pointers with s.
func (s TimerSessionState) Clone() TimerSessionState {
	out := s
	if s.StartTimestamp != nil {
		t := *s.StartTimestamp
		out.StartTimestamp = &t
	}
	if s.PhaseStartedAt != nil {
		t := *s.PhaseStartedAt
		out.PhaseStartedAt = &t
	}
	if s.PausedRemainingSeconds != nil {
		v := *s.PausedRemainingSeconds
		out.PausedRemainingSeconds = &v
	}
	return out
}

type CompletedSession struct {
	ID                   string    `json:"id"`
	InstallationID       string    `json:"installationId"`
	Kind                 string    `json:"kind"`
	StartTimestamp       time.Time `json:"startTimestamp"`
	DurationSeconds      int       `json:"durationSeconds"`
	CompletedAtTimestamp time.Time `json:"completedAtTimestamp"`
}
