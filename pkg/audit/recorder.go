// Package audit records two-factor authentication events for security review.
// Every verification attempt is reported with its outcome and method; secret
// values, candidate codes, and backup-code plaintext never reach the recorder.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Method identifies which second factor was used for an attempt.
type Method string

const (
	MethodTOTP       Method = "totp"
	MethodBackupCode Method = "backup_code"
)

// Event names the auditable actions of the two-factor subsystem.
type Event string

const (
	EventEnrollmentStarted      Event = "twofa.enrollment_started"
	EventEnrollmentConfirmed    Event = "twofa.enrollment_confirmed"
	EventVerification           Event = "twofa.verification"
	EventDisabled               Event = "twofa.disabled"
	EventDisableRefused         Event = "twofa.disable_refused"
	EventBackupCodesRegenerated Event = "twofa.backup_codes_regenerated"
)

// Record is one audit entry.
type Record struct {
	Event     Event
	UserID    uuid.UUID
	Method    Method
	Success   bool
	Timestamp time.Time
}

// Recorder consumes audit records. Implementations must not block the
// authentication path on delivery.
type Recorder interface {
	Record(ctx context.Context, record Record)
}

// SlogRecorder writes audit records through a structured logger.
type SlogRecorder struct {
	logger *slog.Logger
}

// NewSlogRecorder creates a Recorder on the given logger. A nil logger uses
// the default one.
func NewSlogRecorder(logger *slog.Logger) *SlogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogRecorder{logger: logger}
}

func (r *SlogRecorder) Record(ctx context.Context, record Record) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	attrs := []any{
		"event", string(record.Event),
		"userId", record.UserID,
		"success", record.Success,
		"timestamp", record.Timestamp,
	}
	if record.Method != "" {
		attrs = append(attrs, "method", string(record.Method))
	}
	r.logger.InfoContext(ctx, "2fa audit event", attrs...)
}

// NoopRecorder discards every record. Useful in tests.
type NoopRecorder struct{}

func (NoopRecorder) Record(ctx context.Context, record Record) {}
