package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/lexreview/lexreview/internal/review"
)

// Recorder writes review session events to the audit store. It satisfies
// review.Publisher.
type Recorder struct {
	store   *Store
	timeout time.Duration
}

// NewRecorder creates a recorder over store.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store, timeout: 5 * time.Second}
}

// Publish records ev synchronously. Failures are logged and never reach the
// caller.
func (r *Recorder) Publish(ev review.Event) {
	detail, err := json.Marshal(ev.Stats)
	if err != nil {
		zap.L().Warn("audit: encoding stats", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	err = r.store.Log(ctx, Entry{
		Timestamp: ev.Timestamp,
		SessionID: ev.SessionID,
		ItemID:    ev.ItemID,
		Action:    string(ev.Type),
		Status:    string(ev.Status),
		Detail:    string(detail),
	})
	if err != nil {
		zap.L().Warn("audit: recording event",
			zap.String("session_id", ev.SessionID),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}
