package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TelemetrySink mirrors execution records to a metrics store.
// Satisfied by *telemetry.Client.
type TelemetrySink interface {
	WriteExecution(subjectType, subjectID, triggeredBy string, success bool, durationMS int64, deviceCount int)
}

// Logger is the minimal logging interface the recorder needs.
type Logger interface {
	Error(msg string, args ...any)
}

// Recorder appends execution records and mirrors them to telemetry.
//
// Record never returns an error: history is an observer and a storage
// failure must not fail the execution it describes. Failures are
// logged and the telemetry mirror still runs.
type Recorder struct {
	repo      *Repository
	telemetry TelemetrySink
	logger    Logger
}

// NewRecorder creates a recorder. telemetry and logger may be nil.
func NewRecorder(repo *Repository, telemetry TelemetrySink, logger Logger) *Recorder {
	return &Recorder{
		repo:      repo,
		telemetry: telemetry,
		logger:    logger,
	}
}

// Record persists one execution record, filling in ID and timestamp
// when unset.
func (r *Recorder) Record(ctx context.Context, rec Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	if err := r.repo.Insert(ctx, rec); err != nil {
		if r.logger != nil {
			r.logger.Error("failed to record execution",
				"subject_id", rec.SubjectID,
				"subject_type", string(rec.SubjectType),
				"error", err,
			)
		}
	}

	if r.telemetry != nil {
		r.telemetry.WriteExecution(
			string(rec.SubjectType),
			rec.SubjectID,
			string(rec.TriggeredBy),
			rec.Success,
			rec.DurationMS,
			len(rec.AffectedDevices),
		)
	}
}

// List exposes filtered history reads.
func (r *Recorder) List(ctx context.Context, filter Filter) ([]Record, error) {
	return r.repo.List(ctx, filter)
}

// Stats exposes per-subject aggregates.
func (r *Recorder) Stats(ctx context.Context, subjectID string) (Stats, error) {
	return r.repo.Stats(ctx, subjectID)
}
