package timer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"pomodoro/timerd/internal/model"
)

// ValidationError reports a rejected profile field. Nothing is applied when
// it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateProfile checks user-supplied profile input and returns the trimmed name.
func ValidateProfile(name string, workDuration, breakDuration int) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", &ValidationError{Field: "name", Message: "name is required"}
	}
	if utf8.RuneCountInString(trimmed) > model.MaxProfileNameLength {
		return "", &ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("name must be at most %d characters", model.MaxProfileNameLength),
		}
	}
	if workDuration <= 0 {
		return "", &ValidationError{Field: "workDuration", Message: "work duration must be a positive number of minutes"}
	}
	if breakDuration <= 0 {
		return "", &ValidationError{Field: "breakDuration", Message: "break duration must be a positive number of minutes"}
	}
	return trimmed, nil
}

func findProfile(profiles []model.TimerProfile, id string) (model.TimerProfile, int, bool) {
	for i, p := range profiles {
		if p.ID == id {
			return p, i, true
		}
	}
	return model.TimerProfile{}, -1, false
}

func cloneProfiles(profiles []model.TimerProfile) []model.TimerProfile {
	return append([]model.TimerProfile(nil), profiles...)
}
