// Package audit records mutations to durable storage and the event bus.
// Audit writes are best-effort: failures are logged and never returned.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	ActionEditsRecorded    = "style.edits_recorded"
	ActionProfileAnalyzed  = "profile.analyzed"
	ActionLearningStrength = "profile.learning_strength"
	ActionProfileReset     = "profile.reset"
	ActionSeedLetterAdded  = "seed_letter.created"
	ActionPatternsStored   = "analytics.patterns_aggregated"
)

// SubjectPrefix prefixes every audit event published on the bus.
const SubjectPrefix = "quill.audit."

// Entry is one audit-log row.
type Entry struct {
	ID         uuid.UUID      `json:"id"`
	Action     string         `json:"action"`
	UserID     string         `json:"user_id,omitempty"`
	ResourceID string         `json:"resource_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewEntry stamps a new entry with an id and the current time.
func NewEntry(action, userID, resourceID string, metadata map[string]any) Entry {
	return Entry{
		ID:         uuid.New(),
		Action:     action,
		UserID:     userID,
		ResourceID: resourceID,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}
}

// Sink persists audit entries.
type Sink interface {
	WriteAudit(ctx context.Context, e Entry) error
}

// Publisher is the subset of the event bus client used for audit events.
type Publisher interface {
	Publish(subject string, data any) error
}

// Logger fans an entry out to the sink and the bus. Either may be nil.
type Logger struct {
	sink   Sink
	pub    Publisher
	logger *slog.Logger
}

func New(sink Sink, pub Publisher, logger *slog.Logger) *Logger {
	return &Logger{sink: sink, pub: pub, logger: logger}
}

// Record writes a new entry for action.
func (l *Logger) Record(ctx context.Context, action, userID, resourceID string, metadata map[string]any) {
	l.Write(ctx, NewEntry(action, userID, resourceID, metadata))
}

// Write persists e and publishes it. A nil Logger is a no-op.
func (l *Logger) Write(ctx context.Context, e Entry) {
	if l == nil {
		return
	}
	if l.sink != nil {
		if err := l.sink.WriteAudit(ctx, e); err != nil {
			l.logger.Warn("failed to write audit entry", "action", e.Action, "resource_id", e.ResourceID, "error", err)
		}
	}
	l.Publish(e)
}

// Publish sends e to the bus only, for callers that persisted it already.
func (l *Logger) Publish(e Entry) {
	if l == nil || l.pub == nil {
		return
	}
	if err := l.pub.Publish(SubjectPrefix+e.Action, e); err != nil {
		l.logger.Warn("failed to publish audit event", "action", e.Action, "error", err)
	}
}
