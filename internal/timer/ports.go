package timer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"time"

	"github.com/oklog/ulid/v2"

	"pomodoro/timerd/internal/model"
)

// Store is durable key-value storage that survives process restarts.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, value []byte) error
}

// Scheduler arms a single fire-once reminder for one installation.
// Scheduling supersedes nothing by itself; the engine always cancels first.
type Scheduler interface {
	ScheduleOneShot(ctx context.Context, after time.Duration, payload Notification) (string, error)
	CancelAll(ctx context.Context) error
}

// SessionLog receives completed focus sessions. The engine never reads it.
// Appending a session whose ID is already logged must be a no-op.
type SessionLog interface {
	Append(ctx context.Context, session model.CompletedSession) error
}

// SessionID derives the log record id of a phase from its installation and
// first start, so completing the same phase again yields the same id.
func SessionID(installationID string, phaseStart time.Time) string {
	sum := sha256.Sum256([]byte(installationID + "|" + phaseStart.UTC().Format(time.RFC3339Nano)))
	return ulid.MustNew(ulid.Timestamp(phaseStart), bytes.NewReader(sum[:])).String()
}

// Notification is the payload handed to the Scheduler.
type Notification struct {
	Mode   model.Mode `json:"mode"`
	Title  string     `json:"title"`
	Body   string     `json:"body"`
	FireAt time.Time  `json:"fireAt"`
}

func notificationFor(mode model.Mode, fireAt time.Time) Notification {
	if mode == model.ModeBreak {
		return Notification{
			Mode:   mode,
			Title:  "Break is over",
			Body:   "Time to get back to focus.",
			FireAt: fireAt,
		}
	}
	return Notification{
		Mode:   mode,
		Title:  "Focus session complete",
		Body:   "Nice work. Take a break.",
		FireAt: fireAt,
	}
}
