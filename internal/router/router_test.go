package router_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"pomodoro/timerd/internal/db"
	"pomodoro/timerd/internal/handler"
	"pomodoro/timerd/internal/logging"
	"pomodoro/timerd/internal/notify"
	"pomodoro/timerd/internal/repository"
	"pomodoro/timerd/internal/router"
	"pomodoro/timerd/internal/service"
	"pomodoro/timerd/internal/timer"
)

type authResponse struct {
	Token string `json:"token"`
	User  struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

type stateView struct {
	Mode                   string `json:"mode"`
	Status                 string `json:"status"`
	DurationSeconds        int    `json:"durationSeconds"`
	RemainingSeconds       int    `json:"remainingSeconds"`
	PausedRemainingSeconds *int   `json:"pausedRemainingSeconds"`
	ActiveProfileID        string `json:"activeProfileId"`
	Completed              bool   `json:"completed"`
}

type stateEnvelope struct {
	State stateView `json:"state"`
}

type profile struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	WorkDuration  int    `json:"workDuration"`
	BreakDuration int    `json:"breakDuration"`
	BuiltIn       bool   `json:"builtIn"`
}

type profilesEnvelope struct {
	Profiles []profile `json:"profiles"`
}

type addProfileEnvelope struct {
	Profile profile   `json:"profile"`
	State   stateView `json:"state"`
}

type historyEnvelope struct {
	Sessions []struct {
		ID              string `json:"id"`
		Kind            string `json:"kind"`
		DurationSeconds int    `json:"durationSeconds"`
	} `json:"sessions"`
}

type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testServer struct {
	handler http.Handler
	now     time.Time
}

func (s *testServer) advance(d time.Duration) {
	s.now = s.now.Add(d)
}

func TestTimerLifecycle(t *testing.T) {
	server := setupTestServer(t)
	user := registerUser(t, server, "user1@example.com", "123456")

	initial := getState(t, server, user.Token)
	if initial.State.Status != "idle" || initial.State.Mode != "focus" {
		t.Fatalf("expected idle focus timer, got %s %s", initial.State.Status, initial.State.Mode)
	}
	if initial.State.ActiveProfileID != "classic" || initial.State.DurationSeconds != 1500 {
		t.Fatalf("expected classic 1500s, got %s %d", initial.State.ActiveProfileID, initial.State.DurationSeconds)
	}

	started := postState(t, server, "/api/timer/start", user.Token, nil)
	if started.State.Status != "running" || started.State.RemainingSeconds != 1500 {
		t.Fatalf("expected running with 1500s, got %s %d", started.State.Status, started.State.RemainingSeconds)
	}

	// Mode and profile changes are refused while the timer runs.
	status, raw := requestJSON(t, server.handler, http.MethodPost, "/api/timer/mode", user.Token, map[string]string{"mode": "break"})
	if status != http.StatusConflict {
		t.Fatalf("expected 409 for mode switch while running, got %d", status)
	}
	if code := errorCode(t, raw); code != "timer_running" {
		t.Fatalf("expected timer_running, got %s", code)
	}

	server.advance(10*time.Minute + 30*time.Second)
	paused := postState(t, server, "/api/timer/pause", user.Token, nil)
	if paused.State.Status != "paused" || paused.State.PausedRemainingSeconds == nil || *paused.State.PausedRemainingSeconds != 870 {
		t.Fatalf("expected paused with 870s left, got %+v", paused.State)
	}

	reset := postState(t, server, "/api/timer/reset", user.Token, nil)
	if reset.State.Status != "idle" || reset.State.RemainingSeconds != 1500 {
		t.Fatalf("expected idle with full duration after reset, got %s %d", reset.State.Status, reset.State.RemainingSeconds)
	}

	switched := postState(t, server, "/api/timer/mode", user.Token, map[string]string{"mode": "break"})
	if switched.State.Mode != "break" || switched.State.DurationSeconds != 300 {
		t.Fatalf("expected break of 300s, got %s %d", switched.State.Mode, switched.State.DurationSeconds)
	}

	status, raw = requestJSON(t, server.handler, http.MethodPost, "/api/timer/mode", user.Token, map[string]string{"mode": "nap"})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", status)
	}
	if code := errorCode(t, raw); code != "invalid_mode" {
		t.Fatalf("expected invalid_mode, got %s", code)
	}
}

func TestCompletionRecordsHistory(t *testing.T) {
	server := setupTestServer(t)
	user1 := registerUser(t, server, "user1@example.com", "123456")
	user2 := registerUser(t, server, "user2@example.com", "123456")

	postState(t, server, "/api/timer/start", user1.Token, nil)
	server.advance(25*time.Minute + time.Second)

	completed := postState(t, server, "/api/timer/complete", user1.Token, nil)
	if !completed.State.Completed {
		t.Fatal("expected the focus phase to complete")
	}
	if completed.State.Mode != "break" || completed.State.Status != "idle" {
		t.Fatalf("expected idle break after completion, got %s %s", completed.State.Mode, completed.State.Status)
	}

	// A second signal for the same phase is a no-op.
	again := postState(t, server, "/api/timer/complete", user1.Token, nil)
	if again.State.Completed {
		t.Fatal("expected repeated completion to be ignored")
	}

	history := getHistory(t, server, user1.Token)
	if len(history.Sessions) != 1 {
		t.Fatalf("expected one session for user1, got %d", len(history.Sessions))
	}
	if history.Sessions[0].Kind != "focus" || history.Sessions[0].DurationSeconds != 1500 {
		t.Fatalf("unexpected session %+v", history.Sessions[0])
	}

	if other := getHistory(t, server, user2.Token); len(other.Sessions) != 0 {
		t.Fatalf("expected no sessions for user2, got %d", len(other.Sessions))
	}
}

func TestProfiles(t *testing.T) {
	server := setupTestServer(t)
	user := registerUser(t, server, "user1@example.com", "123456")

	profiles := listProfiles(t, server, user.Token)
	if len(profiles.Profiles) != len(timer.DefaultPresets()) {
		t.Fatalf("expected %d presets, got %d", len(timer.DefaultPresets()), len(profiles.Profiles))
	}

	status, raw := requestJSON(t, server.handler, http.MethodPost, "/api/timer/profiles", user.Token, map[string]interface{}{
		"name":          "  Reading  ",
		"workDuration":  40,
		"breakDuration": 8,
	})
	if status != http.StatusCreated {
		t.Fatalf("expected 201 on add profile, got %d: %s", status, string(raw))
	}
	var added addProfileEnvelope
	if err := json.Unmarshal(raw, &added); err != nil {
		t.Fatalf("unmarshal add profile response: %v", err)
	}
	if added.Profile.Name != "Reading" || added.Profile.BuiltIn {
		t.Fatalf("unexpected profile %+v", added.Profile)
	}

	status, raw = requestJSON(t, server.handler, http.MethodPost, "/api/timer/profiles", user.Token, map[string]interface{}{
		"name":          "A name that is far too long",
		"workDuration":  40,
		"breakDuration": 8,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for long name, got %d", status)
	}
	if code := errorCode(t, raw); code != "invalid_profile" {
		t.Fatalf("expected invalid_profile, got %s", code)
	}

	selected := postState(t, server, "/api/timer/profile", user.Token, map[string]string{"profileId": added.Profile.ID})
	if selected.State.ActiveProfileID != added.Profile.ID || selected.State.DurationSeconds != 2400 {
		t.Fatalf("expected custom profile with 2400s, got %s %d", selected.State.ActiveProfileID, selected.State.DurationSeconds)
	}

	status, raw = requestJSON(t, server.handler, http.MethodDelete, "/api/timer/profiles/"+added.Profile.ID, user.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 on delete profile, got %d", status)
	}
	var deleted stateEnvelope
	if err := json.Unmarshal(raw, &deleted); err != nil {
		t.Fatalf("unmarshal delete response: %v", err)
	}
	if deleted.State.ActiveProfileID != "classic" || deleted.State.DurationSeconds != 1500 {
		t.Fatalf("expected fallback to classic, got %s %d", deleted.State.ActiveProfileID, deleted.State.DurationSeconds)
	}

	if got := listProfiles(t, server, user.Token); len(got.Profiles) != len(timer.DefaultPresets()) {
		t.Fatalf("expected custom profile to be gone, got %d profiles", len(got.Profiles))
	}
}

func TestTimerRequiresAuth(t *testing.T) {
	server := setupTestServer(t)

	status, _ := requestJSON(t, server.handler, http.MethodGet, "/api/timer/state", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
}

func TestCORSPreflight(t *testing.T) {
	server := setupTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/timer/profiles/abc", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "DELETE")
	recorder := httptest.NewRecorder()

	server.handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("unexpected allow-origin header: %s", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	database, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	_, currentFile, _, _ := runtime.Caller(0)
	migrationsDir := filepath.Join(filepath.Dir(currentFile), "..", "..", "migrations")
	if err := db.RunMigrations(database, migrationsDir); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	logger := logging.Discard()
	scheduler := notify.NewScheduler(logger)
	t.Cleanup(scheduler.Close)

	server := &testServer{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}

	userRepo := repository.NewUserRepository(database)
	authService := service.NewAuthService(userRepo, "test-secret", 24*time.Hour, logger)
	timerService := service.NewTimerService(
		userRepo,
		repository.NewKVRepository(database),
		repository.NewSessionLogRepository(database),
		scheduler,
		timer.DefaultPresets(),
		logger,
	)
	timerService.SetClock(func() time.Time { return server.now })

	server.handler = router.New(
		authService,
		handler.NewAuthHandler(authService),
		handler.NewTimerHandler(timerService),
		[]string{"http://localhost:5173"},
		logger,
	)
	return server
}

func registerUser(t *testing.T, server *testServer, email, password string) authResponse {
	t.Helper()
	status, body := requestJSON(t, server.handler, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if status != http.StatusCreated {
		t.Fatalf("register %s failed with status %d: %s", email, status, string(body))
	}
	var resp authResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal register response: %v", err)
	}
	if resp.Token == "" {
		t.Fatalf("empty token for user %s", email)
	}
	return resp
}

func getState(t *testing.T, server *testServer, token string) stateEnvelope {
	t.Helper()
	status, body := requestJSON(t, server.handler, http.MethodGet, "/api/timer/state", token, nil)
	if status != http.StatusOK {
		t.Fatalf("get state failed with status %d: %s", status, string(body))
	}
	var stateResp stateEnvelope
	if err := json.Unmarshal(body, &stateResp); err != nil {
		t.Fatalf("unmarshal state response: %v", err)
	}
	return stateResp
}

func postState(t *testing.T, server *testServer, path, token string, body interface{}) stateEnvelope {
	t.Helper()
	status, raw := requestJSON(t, server.handler, http.MethodPost, path, token, body)
	if status != http.StatusOK {
		t.Fatalf("POST %s failed with status %d: %s", path, status, string(raw))
	}
	var stateResp stateEnvelope
	if err := json.Unmarshal(raw, &stateResp); err != nil {
		t.Fatalf("unmarshal %s response: %v", path, err)
	}
	return stateResp
}

func listProfiles(t *testing.T, server *testServer, token string) profilesEnvelope {
	t.Helper()
	status, body := requestJSON(t, server.handler, http.MethodGet, "/api/timer/profiles", token, nil)
	if status != http.StatusOK {
		t.Fatalf("list profiles failed with status %d: %s", status, string(body))
	}
	var resp profilesEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal profiles response: %v", err)
	}
	return resp
}

func getHistory(t *testing.T, server *testServer, token string) historyEnvelope {
	t.Helper()
	status, body := requestJSON(t, server.handler, http.MethodGet, "/api/timer/history?limit=10", token, nil)
	if status != http.StatusOK {
		t.Fatalf("get history failed with status %d: %s", status, string(body))
	}
	var resp historyEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal history response: %v", err)
	}
	return resp
}

func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	var resp apiErrorEnvelope
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal error response: %v", err)
	}
	return resp.Error.Code
}

func requestJSON(
	t *testing.T,
	server http.Handler,
	method, path, token string,
	body interface{},
) (int, []byte) {
	t.Helper()

	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		payload = raw
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	server.ServeHTTP(recorder, req)
	return recorder.Code, recorder.Body.Bytes()
}
