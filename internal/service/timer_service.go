package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	apperrors "pomodoro/timerd/internal/errors"
	"pomodoro/timerd/internal/logging"
	"pomodoro/timerd/internal/model"
	"pomodoro/timerd/internal/notify"
	"pomodoro/timerd/internal/repository"
	"pomodoro/timerd/internal/timer"
)

// TimerService exposes the per-installation timer engines. It opens at most
// one engine per account and keeps it for the life of the process.
type TimerService struct {
	mu        sync.Mutex
	engines   map[string]*timer.Engine
	userRepo  *repository.UserRepository
	kvRepo    *repository.KVRepository
	sessions  *repository.SessionLogRepository
	scheduler *notify.Scheduler
	presets   []model.TimerProfile
	clock     func() time.Time
	logger    *slog.Logger
}

type StateView struct {
	Mode                   model.Mode         `json:"mode"`
	Status                 string             `json:"status"`
	DurationSeconds        int                `json:"durationSeconds"`
	RemainingSeconds       int                `json:"remainingSeconds"`
	StartTimestamp         *time.Time         `json:"startTimestamp,omitempty"`
	PausedRemainingSeconds *int               `json:"pausedRemainingSeconds,omitempty"`
	ActiveProfileID        string             `json:"activeProfileId"`
	ActiveProfile          model.TimerProfile `json:"activeProfile"`
	Completed              bool               `json:"completed,omitempty"`
	Warnings               []string           `json:"warnings,omitempty"`
	ServerTime             time.Time          `json:"serverTime"`
}

type AddProfileInput struct {
	Name          string
	WorkDuration  int
	BreakDuration int
}

func NewTimerService(
	userRepo *repository.UserRepository,
	kvRepo *repository.KVRepository,
	sessions *repository.SessionLogRepository,
	scheduler *notify.Scheduler,
	presets []model.TimerProfile,
	logger *slog.Logger,
) *TimerService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &TimerService{
		engines:   make(map[string]*timer.Engine),
		userRepo:  userRepo,
		kvRepo:    kvRepo,
		sessions:  sessions,
		scheduler: scheduler,
		presets:   presets,
		clock:     time.Now,
		logger:    logger,
	}
}

// SetClock replaces the time source. It only affects engines opened afterwards.
func (s *TimerService) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// RestoreAll opens the engine of every installation with a saved timer so
// that pending reminders are re-armed and overdue runs complete after a restart.
func (s *TimerService) RestoreAll(ctx context.Context) (int, error) {
	keys, err := s.kvRepo.Keys(ctx, timer.StoreKey(""))
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, key := range keys {
		userID := strings.TrimPrefix(key, timer.StoreKey(""))
		engine := s.openEngine(ctx, userID)
		if done, res := engine.CompleteIfDue(ctx); done {
			s.logger.Info("completed overdue phase on restore", "installation", userID, "mode", res.State.Mode)
		}
		restored++
	}
	return restored, nil
}

func (s *TimerService) GetState(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	engine, apiErr := s.engine(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}

	completed, res := engine.CompleteIfDue(ctx)
	view := s.toStateView(engine, res)
	view.Completed = completed
	return &view, nil
}

func (s *TimerService) Start(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	engine, apiErr := s.normalizedEngine(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}

	view := s.toStateView(engine, engine.Start(ctx))
	return &view, nil
}

func (s *TimerService) Pause(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	engine, apiErr := s.normalizedEngine(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}

	view := s.toStateView(engine, engine.Pause(ctx))
	return &view, nil
}

func (s *TimerService) Reset(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	engine, apiErr := s.normalizedEngine(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}

	view := s.toStateView(engine, engine.Reset(ctx))
	return &view, nil
}

// Complete handles a reminder delivered through the client, such as the app
// being opened from the notification. It is safe to call repeatedly.
func (s *TimerService) Complete(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	engine, apiErr := s.engine(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}

	completed, res := engine.CompleteIfDue(ctx)
	view := s.toStateView(engine, res)
	view.Completed = completed
	return &view, nil
}

// HandleNotification is the scheduler's delivery hook.
func (s *TimerService) HandleNotification(ctx context.Context, delivery notify.Delivery) {
	s.mu.Lock()
	engine, ok := s.engines[delivery.InstallationID]
	s.mu.Unlock()
	if !ok {
		s.logger.Warn("reminder for unknown installation", "installation", delivery.InstallationID)
		return
	}

	completed, res := engine.CompleteIfDue(ctx)
	s.logger.Info("reminder delivered",
		"installation", delivery.InstallationID,
		"handle", delivery.Handle,
		"completed", completed,
		"mode", res.State.Mode,
	)
}

func (s *TimerService) SwitchMode(ctx context.Context, userID, mode string) (*StateView, *apperrors.APIError) {
	engine, apiErr := s.normalizedEngine(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}

	res, err := engine.SwitchMode(ctx, model.Mode(mode))
	if err != nil {
		return nil, mapEngineError(err)
	}
	view := s.toStateView(engine, res)
	return &view, nil
}

func (s *TimerService) SetActiveProfile(ctx context.Context, userID, profileID string) (*StateView, *apperrors.APIError) {
	engine, apiErr := s.normalizedEngine(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}

	res, err := engine.SetActiveProfile(ctx, profileID)
	if err != nil {
		return nil, mapEngineError(err)
	}
	view := s.toStateView(engine, res)
	return &view, nil
}

func (s *TimerService) ListProfiles(ctx context.Context, userID string) ([]model.TimerProfile, *apperrors.APIError) {
	engine, apiErr := s.engine(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}
	return engine.Profiles(), nil
}

func (s *TimerService) AddProfile(ctx context.Context, userID string, input AddProfileInput) (*model.TimerProfile, *StateView, *apperrors.APIError) {
	engine, apiErr := s.engine(ctx, userID)
	if apiErr != nil {
		return nil, nil, apiErr
	}

	profile, res, err := engine.AddProfile(ctx, input.Name, input.WorkDuration, input.BreakDuration)
	if err != nil {
		return nil, nil, mapEngineError(err)
	}
	view := s.toStateView(engine, res)
	return &profile, &view, nil
}

func (s *TimerService) DeleteProfile(ctx context.Context, userID, profileID string) (*StateView, *apperrors.APIError) {
	engine, apiErr := s.engine(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}

	view := s.toStateView(engine, engine.DeleteProfile(ctx, profileID))
	return &view, nil
}

func (s *TimerService) GetHistory(ctx context.Context, userID string, limit int) ([]model.CompletedSession, *apperrors.APIError) {
	sessions, err := s.sessions.List(ctx, userID, limit)
	if err != nil {
		s.logger.Error("list completed sessions", "installation", userID, "err", err)
		return nil, apperrors.Internal("failed to get history")
	}
	return sessions, nil
}

// normalizedEngine completes an overdue phase before a command is applied,
// so commands never act on a run that has already ended.
func (s *TimerService) normalizedEngine(ctx context.Context, userID string) (*timer.Engine, *apperrors.APIError) {
	engine, apiErr := s.engine(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}
	engine.CompleteIfDue(ctx)
	return engine, nil
}

func (s *TimerService) engine(ctx context.Context, userID string) (*timer.Engine, *apperrors.APIError) {
	if userID == "" {
		return nil, apperrors.Unauthorized("")
	}

	s.mu.Lock()
	engine, ok := s.engines[userID]
	s.mu.Unlock()
	if ok {
		return engine, nil
	}

	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("installation_not_found", "no timer for this account")
		}
		s.logger.Error("look up account", "installation", userID, "err", err)
		return nil, apperrors.Internal("failed to load timer")
	}

	return s.openEngine(ctx, userID), nil
}

// openEngine restores the engine outside the registry lock and keeps the
// first one registered if two requests race to open the same installation.
func (s *TimerService) openEngine(ctx context.Context, userID string) *timer.Engine {
	s.mu.Lock()
	engine, ok := s.engines[userID]
	clock := s.clock
	s.mu.Unlock()
	if ok {
		return engine
	}

	opened := timer.Open(ctx, userID, timer.Deps{
		Store:      s.kvRepo,
		Scheduler:  s.scheduler.For(userID),
		SessionLog: s.sessions,
		Presets:    s.presets,
		Clock:      clock,
		Logger:     s.logger,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if engine, ok := s.engines[userID]; ok {
		return engine
	}
	s.engines[userID] = opened
	return opened
}

func (s *TimerService) toStateView(engine *timer.Engine, res timer.Result) StateView {
	now := s.now()
	state := res.State
	active := engine.ActiveProfile()

	return StateView{
		Mode:                   state.Mode,
		Status:                 state.Status(),
		DurationSeconds:        state.DurationSeconds,
		RemainingSeconds:       engine.RemainingSeconds(now),
		StartTimestamp:         state.StartTimestamp,
		PausedRemainingSeconds: state.PausedRemainingSeconds,
		ActiveProfileID:        state.ActiveProfileID,
		ActiveProfile:          active,
		Warnings:               res.Warnings(),
		ServerTime:             now.UTC(),
	}
}

func (s *TimerService) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock()
}

func mapEngineError(err error) *apperrors.APIError {
	var verr *timer.ValidationError
	switch {
	case errors.As(err, &verr):
		return apperrors.BadRequest("invalid_profile", verr.Error())
	case errors.Is(err, timer.ErrInvalidMode):
		return apperrors.BadRequest("invalid_mode", "mode must be one of focus, break")
	case errors.Is(err, timer.ErrTimerRunning):
		return apperrors.Conflict("timer_running", "stop the timer before changing mode or profile", nil)
	default:
		return apperrors.Internal("")
	}
}
