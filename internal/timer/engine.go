package timer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pomodoro/timerd/internal/model"
)

var (
	// ErrTimerRunning is returned for operations that require a stopped timer.
	ErrTimerRunning = errors.New("timer is running")
	// ErrInvalidMode is returned for a mode other than focus or break.
	ErrInvalidMode = errors.New("mode must be focus or break")
)

// Deps are the collaborators of an Engine.
type Deps struct {
	Store      Store
	Scheduler  Scheduler
	SessionLog SessionLog
	Presets    []model.TimerProfile
	Clock      func() time.Time
	Logger     *slog.Logger
}

// Result carries the state after a transition along with any collaborator
// failure. The in-memory transition is applied even when an error is set.
type Result struct {
	State      model.TimerSessionState
	PersistErr error
	NotifyErr  error
	LogErr     error
}

// Err joins all collaborator failures, or returns nil.
func (r Result) Err() error {
	return errors.Join(r.PersistErr, r.NotifyErr, r.LogErr)
}

// Warnings renders collaborator failures for display.
func (r Result) Warnings() []string {
	var warnings []string
	if r.PersistErr != nil {
		warnings = append(warnings, "timer state could not be saved")
	}
	if r.NotifyErr != nil {
		warnings = append(warnings, "reminder notification could not be updated")
	}
	if r.LogErr != nil {
		warnings = append(warnings, "completed session could not be recorded")
	}
	return warnings
}

// Engine owns the timer state and profile set of one installation.
// Callers must open exactly one Engine per installation and share it.
type Engine struct {
	mu             sync.Mutex
	installationID string
	store          Store
	scheduler      Scheduler
	sessionLog     SessionLog
	presets        []model.TimerProfile
	clock          func() time.Time
	logger         *slog.Logger

	state    model.TimerSessionState
	profiles []model.TimerProfile
	// completing is the completion latch. Set when a phase completes and
	// cleared only by the next Start.
	completing bool
}

// Open restores the engine for installationID from the store. Restore
// failures are logged and the engine starts from defaults.
func Open(ctx context.Context, installationID string, deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if len(deps.Presets) == 0 {
		deps.Presets = DefaultPresets()
	}

	engine := &Engine{
		installationID: installationID,
		store:          deps.Store,
		scheduler:      deps.Scheduler,
		sessionLog:     deps.SessionLog,
		presets:        cloneProfiles(deps.Presets),
		clock:          deps.Clock,
		logger:         deps.Logger.With("installation", installationID),
	}
	engine.profiles = cloneProfiles(engine.presets)
	engine.state = model.TimerSessionState{
		Mode:            model.ModeFocus,
		ActiveProfileID: engine.profiles[0].ID,
	}
	engine.recomputeDurationLocked()

	engine.mu.Lock()
	defer engine.mu.Unlock()

	if err := engine.restoreLocked(ctx); err != nil {
		engine.logger.Error("restore timer state", "err", err)
		return engine
	}

	if engine.state.IsRunning {
		now := engine.clock()
		if remaining := engine.remainingLocked(now); remaining > 0 {
			if err := engine.scheduleLocked(ctx, remaining, now); err != nil {
				engine.logger.Warn("re-arm notification", "err", err)
			}
		}
	}
	return engine
}

// InstallationID identifies the installation this engine belongs to.
func (e *Engine) InstallationID() string {
	return e.installationID
}

// State returns a snapshot of the timer state.
func (e *Engine) State() model.TimerSessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Profiles returns the profile set in stable order.
func (e *Engine) Profiles() []model.TimerProfile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneProfiles(e.profiles)
}

// ActiveProfile returns the profile referenced by the state.
func (e *Engine) ActiveProfile() model.TimerProfile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeProfileLocked()
}

// RemainingSeconds is computed from the absolute start instant only, so it
// does not depend on how often it was queried before.
func (e *Engine) RemainingSeconds(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remainingLocked(now)
}

// Start begins a fresh phase from Idle or resumes from Paused.
func (e *Engine) Start(ctx context.Context) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.IsRunning {
		return Result{State: e.state.Clone()}
	}

	now := e.clock()
	effective := e.state.DurationSeconds
	if e.state.PausedRemainingSeconds != nil {
		effective = *e.state.PausedRemainingSeconds
		e.state.PausedRemainingSeconds = nil
	}
	if e.state.PhaseStartedAt == nil {
		phaseStart := now
		e.state.PhaseStartedAt = &phaseStart
		e.state.PhaseDurationSeconds = e.state.DurationSeconds
	}

	started := now
	e.state.StartTimestamp = &started
	e.state.IsRunning = true
	e.state.RunDurationSeconds = effective
	e.completing = false

	var res Result
	res.NotifyErr = e.scheduleLocked(ctx, effective, now)
	res.PersistErr = e.persistLocked(ctx)
	return e.finishLocked("start", res)
}

// Pause freezes the countdown at the current remaining time.
func (e *Engine) Pause(ctx context.Context) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.IsRunning {
		return Result{State: e.state.Clone()}
	}

	remaining := e.remainingLocked(e.clock())
	e.state.PausedRemainingSeconds = &remaining
	e.state.StartTimestamp = nil
	e.state.IsRunning = false
	e.state.RunDurationSeconds = 0
	// Picks up an active profile deleted during the run.
	e.recomputeDurationLocked()

	var res Result
	res.NotifyErr = e.cancelLocked(ctx)
	res.PersistErr = e.persistLocked(ctx)
	return e.finishLocked("pause", res)
}

// Reset returns to an idle focus phase of full length from any state.
func (e *Engine) Reset(ctx context.Context) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.clearRunLocked()
	e.state.Mode = model.ModeFocus
	e.recomputeDurationLocked()

	var res Result
	res.NotifyErr = e.cancelLocked(ctx)
	res.PersistErr = e.persistLocked(ctx)
	return e.finishLocked("reset", res)
}

// SwitchMode moves to an idle phase of the requested mode.
func (e *Engine) SwitchMode(ctx context.Context, mode model.Mode) (Result, error) {
	if !mode.Valid() {
		return Result{}, ErrInvalidMode
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.IsRunning {
		return Result{State: e.state.Clone()}, ErrTimerRunning
	}

	e.state.Mode = mode
	e.clearRunLocked()
	e.recomputeDurationLocked()

	var res Result
	res.PersistErr = e.persistLocked(ctx)
	return e.finishLocked("switch mode", res), nil
}

// SetActiveProfile selects a profile by id. Unknown ids are ignored.
func (e *Engine) SetActiveProfile(ctx context.Context, id string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.IsRunning {
		return Result{State: e.state.Clone()}, ErrTimerRunning
	}
	if _, _, ok := findProfile(e.profiles, id); !ok {
		return Result{State: e.state.Clone()}, nil
	}

	e.state.ActiveProfileID = id
	e.clearRunLocked()
	e.recomputeDurationLocked()

	var res Result
	res.PersistErr = e.persistLocked(ctx)
	return e.finishLocked("set active profile", res), nil
}

// AddProfile validates and appends a user profile. The active profile and
// the timer state are left alone.
func (e *Engine) AddProfile(ctx context.Context, name string, workDuration, breakDuration int) (model.TimerProfile, Result, error) {
	trimmed, err := ValidateProfile(name, workDuration, breakDuration)
	if err != nil {
		return model.TimerProfile{}, Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	profile := model.TimerProfile{
		ID:            uuid.NewString(),
		Name:          trimmed,
		WorkDuration:  workDuration,
		BreakDuration: breakDuration,
	}
	e.profiles = append(e.profiles, profile)

	var res Result
	res.PersistErr = e.persistLocked(ctx)
	return profile, e.finishLocked("add profile", res), nil
}

// DeleteProfile removes a user profile. Built-in and unknown ids are ignored.
// Deleting the active profile selects the first remaining one. A running
// phase keeps its length until it is paused, cleared or completed.
func (e *Engine) DeleteProfile(ctx context.Context, id string) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	profile, idx, ok := findProfile(e.profiles, id)
	if !ok || profile.BuiltIn {
		return Result{State: e.state.Clone()}
	}

	e.profiles = append(e.profiles[:idx:idx], e.profiles[idx+1:]...)
	if e.state.ActiveProfileID == id {
		e.state.ActiveProfileID = e.profiles[0].ID
		if !e.state.IsRunning {
			e.recomputeDurationLocked()
		}
	}

	var res Result
	res.PersistErr = e.persistLocked(ctx)
	return e.finishLocked("delete profile", res)
}

// CompleteIfDue ends the running phase when its time is up. Of any number
// of calls for the same run, only the first that finds it due completes it.
func (e *Engine) CompleteIfDue(ctx context.Context) (bool, Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	if e.completing || !e.state.IsRunning || e.remainingLocked(now) > 0 {
		return false, Result{State: e.state.Clone()}
	}
	e.completing = true

	phaseStart := *e.state.StartTimestamp
	if e.state.PhaseStartedAt != nil {
		phaseStart = *e.state.PhaseStartedAt
	}
	finishedMode := e.state.Mode
	finishedDuration := e.state.PhaseDurationSeconds
	if finishedDuration <= 0 {
		finishedDuration = e.state.DurationSeconds
	}

	e.clearRunLocked()

	var res Result
	if finishedMode == model.ModeFocus {
		res.LogErr = e.appendSessionLocked(ctx, model.CompletedSession{
			ID:                   SessionID(e.installationID, phaseStart),
			InstallationID:       e.installationID,
			Kind:                 model.SessionKindFocus,
			StartTimestamp:       phaseStart,
			DurationSeconds:      finishedDuration,
			CompletedAtTimestamp: now,
		})
	}

	e.state.Mode = finishedMode.Opposite()
	e.recomputeDurationLocked()

	res.NotifyErr = e.cancelLocked(ctx)
	res.PersistErr = e.persistLocked(ctx)
	return true, e.finishLocked("complete", res)
}

func (e *Engine) finishLocked(op string, res Result) Result {
	if err := res.Err(); err != nil {
		e.logger.Warn("timer collaborator failure", "op", op, "err", err)
	}
	res.State = e.state.Clone()
	return res
}

func (e *Engine) clearRunLocked() {
	e.state.StartTimestamp = nil
	e.state.PhaseStartedAt = nil
	e.state.PhaseDurationSeconds = 0
	e.state.PausedRemainingSeconds = nil
	e.state.IsRunning = false
	e.state.RunDurationSeconds = 0
}

func (e *Engine) activeProfileLocked() model.TimerProfile {
	if p, _, ok := findProfile(e.profiles, e.state.ActiveProfileID); ok {
		return p
	}
	return e.profiles[0]
}

func (e *Engine) recomputeDurationLocked() {
	e.state.DurationSeconds = e.activeProfileLocked().DurationSeconds(e.state.Mode)
}

func (e *Engine) remainingLocked(now time.Time) int {
	switch {
	case e.state.IsRunning && e.state.StartTimestamp != nil:
		remaining := e.state.RunDurationSeconds - elapsedSeconds(*e.state.StartTimestamp, now)
		if remaining < 0 {
			return 0
		}
		return remaining
	case e.state.PausedRemainingSeconds != nil:
		return *e.state.PausedRemainingSeconds
	default:
		return e.state.DurationSeconds
	}
}

func (e *Engine) scheduleLocked(ctx context.Context, afterSeconds int, now time.Time) error {
	if e.scheduler == nil {
		return nil
	}
	if err := e.scheduler.CancelAll(ctx); err != nil {
		return fmt.Errorf("cancel notifications: %w", err)
	}
	after := time.Duration(afterSeconds) * time.Second
	payload := notificationFor(e.state.Mode, now.Add(after))
	if _, err := e.scheduler.ScheduleOneShot(ctx, after, payload); err != nil {
		return fmt.Errorf("schedule notification: %w", err)
	}
	return nil
}

func (e *Engine) cancelLocked(ctx context.Context) error {
	if e.scheduler == nil {
		return nil
	}
	if err := e.scheduler.CancelAll(ctx); err != nil {
		return fmt.Errorf("cancel notifications: %w", err)
	}
	return nil
}

func (e *Engine) appendSessionLocked(ctx context.Context, session model.CompletedSession) error {
	if e.sessionLog == nil {
		return nil
	}
	if err := e.sessionLog.Append(ctx, session); err != nil {
		return fmt.Errorf("append completed session: %w", err)
	}
	return nil
}

// elapsedSeconds truncates to whole seconds. A start instant in the future
// (clock moved backwards) counts as no time elapsed.
func elapsedSeconds(start, now time.Time) int {
	elapsed := now.Sub(start)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / time.Second)
}
