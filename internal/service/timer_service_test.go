package service

import (
	"context"
	"database/sql"
	"net/http"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pomodoro/timerd/internal/db"
	"pomodoro/timerd/internal/logging"
	"pomodoro/timerd/internal/model"
	"pomodoro/timerd/internal/notify"
	"pomodoro/timerd/internal/repository"
	"pomodoro/timerd/internal/timer"
)

type fixture struct {
	db        *sql.DB
	users     *repository.UserRepository
	scheduler *notify.Scheduler
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	_, currentFile, _, _ := runtime.Caller(0)
	migrationsDir := filepath.Join(filepath.Dir(currentFile), "..", "..", "migrations")
	require.NoError(t, db.RunMigrations(database, migrationsDir))

	scheduler := notify.NewScheduler(logging.Discard())
	t.Cleanup(scheduler.Close)

	return &fixture{
		db:        database,
		users:     repository.NewUserRepository(database),
		scheduler: scheduler,
		now:       time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) service() *TimerService {
	svc := NewTimerService(
		f.users,
		repository.NewKVRepository(f.db),
		repository.NewSessionLogRepository(f.db),
		f.scheduler,
		timer.DefaultPresets(),
		logging.Discard(),
	)
	svc.SetClock(func() time.Time { return f.now })
	return svc
}

func (f *fixture) createUser(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.users.Create(context.Background(), &model.User{
		ID:           id,
		Email:        id + "@example.com",
		PasswordHash: "x",
		CreatedAt:    f.now,
		UpdatedAt:    f.now,
	}))
}

func TestTimerService_UnknownAccount(t *testing.T) {
	f := newFixture(t)
	svc := f.service()

	_, apiErr := svc.GetState(context.Background(), "missing")
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	_, apiErr = svc.GetState(context.Background(), "")
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestTimerService_GetStateCompletesOverduePhase(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "u1")
	svc := f.service()
	ctx := context.Background()

	started, apiErr := svc.Start(ctx, "u1")
	require.Nil(t, apiErr)
	assert.Equal(t, model.StatusRunning, started.Status)
	_, pending := f.scheduler.Pending("u1")
	assert.True(t, pending)

	f.now = f.now.Add(26 * time.Minute)
	view, apiErr := svc.GetState(ctx, "u1")
	require.Nil(t, apiErr)
	assert.True(t, view.Completed)
	assert.Equal(t, model.ModeBreak, view.Mode)
	assert.Equal(t, model.StatusIdle, view.Status)
	assert.Equal(t, 300, view.RemainingSeconds)
	_, pending = f.scheduler.Pending("u1")
	assert.False(t, pending)

	history, apiErr := svc.GetHistory(ctx, "u1", 0)
	require.Nil(t, apiErr)
	require.Len(t, history, 1)
	assert.Equal(t, 1500, history[0].DurationSeconds)
	assert.True(t, f.now.Add(-26*time.Minute).Equal(history[0].StartTimestamp))
}

func TestTimerService_CommandsNormalizeFirst(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "u1")
	svc := f.service()
	ctx := context.Background()

	_, apiErr := svc.Start(ctx, "u1")
	require.Nil(t, apiErr)
	f.now = f.now.Add(30 * time.Minute)

	// The focus run is over, so the switch acts on an idle timer.
	view, apiErr := svc.SwitchMode(ctx, "u1", "focus")
	require.Nil(t, apiErr)
	assert.Equal(t, model.ModeFocus, view.Mode)
	assert.Equal(t, model.StatusIdle, view.Status)

	history, apiErr := svc.GetHistory(ctx, "u1", 10)
	require.Nil(t, apiErr)
	assert.Len(t, history, 1)
}

func TestTimerService_HandleNotification(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "u1")
	svc := f.service()
	ctx := context.Background()

	_, apiErr := svc.Start(ctx, "u1")
	require.Nil(t, apiErr)
	f.now = f.now.Add(25 * time.Minute)

	delivery := notify.Delivery{InstallationID: "u1", Handle: "h1", DeliveredAt: f.now}
	svc.HandleNotification(ctx, delivery)
	svc.HandleNotification(ctx, delivery)
	svc.HandleNotification(ctx, notify.Delivery{InstallationID: "nobody"})

	view, apiErr := svc.GetState(ctx, "u1")
	require.Nil(t, apiErr)
	assert.False(t, view.Completed, "already completed by the reminder")
	assert.Equal(t, model.ModeBreak, view.Mode)

	history, apiErr := svc.GetHistory(ctx, "u1", 10)
	require.Nil(t, apiErr)
	assert.Len(t, history, 1)
}

func TestTimerService_RestoreAll(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "u1")
	f.createUser(t, "u2")
	ctx := context.Background()

	first := f.service()
	_, apiErr := first.Start(ctx, "u1")
	require.Nil(t, apiErr)
	_, apiErr = first.Start(ctx, "u2")
	require.Nil(t, apiErr)
	f.scheduler.Close()

	// A restarted process with a fresh scheduler.
	f.scheduler = notify.NewScheduler(logging.Discard())
	t.Cleanup(f.scheduler.Close)
	f.now = f.now.Add(10 * time.Minute)

	second := f.service()
	restored, err := second.RestoreAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	for _, id := range []string{"u1", "u2"} {
		_, pending := f.scheduler.Pending(id)
		assert.True(t, pending, id)
	}

	view, apiErr := second.GetState(ctx, "u1")
	require.Nil(t, apiErr)
	assert.Equal(t, model.StatusRunning, view.Status)
	assert.Equal(t, 900, view.RemainingSeconds)
}

func TestTimerService_ProfileErrors(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "u1")
	svc := f.service()
	ctx := context.Background()

	_, _, apiErr := svc.AddProfile(ctx, "u1", AddProfileInput{Name: " ", WorkDuration: 25, BreakDuration: 5})
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "invalid_profile", apiErr.Code)

	_, _, apiErr = svc.AddProfile(ctx, "u1", AddProfileInput{Name: "Zero", WorkDuration: 0, BreakDuration: 5})
	require.NotNil(t, apiErr)
	assert.Equal(t, "invalid_profile", apiErr.Code)

	_, apiErr = svc.Start(ctx, "u1")
	require.Nil(t, apiErr)
	_, apiErr = svc.SetActiveProfile(ctx, "u1", "deep-work")
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "timer_running", apiErr.Code)

	_, apiErr = svc.Pause(ctx, "u1")
	require.Nil(t, apiErr)
	view, apiErr := svc.SetActiveProfile(ctx, "u1", "deep-work")
	require.Nil(t, apiErr)
	assert.Equal(t, "deep-work", view.ActiveProfileID)
	assert.Equal(t, 3000, view.DurationSeconds)
}

func TestTimerService_ConcurrentOpenSharesEngine(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "u1")
	svc := f.service()
	ctx := context.Background()

	const workers = 8
	engines := make([]*timer.Engine, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			engines[i] = svc.openEngine(ctx, "u1")
		}(i)
	}
	wg.Wait()

	for _, engine := range engines {
		assert.Same(t, engines[0], engine)
	}

	_, apiErr := svc.Start(ctx, "u1")
	require.Nil(t, apiErr)
	assert.True(t, engines[0].State().IsRunning)
}
