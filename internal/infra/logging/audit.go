package logging

import (
	"bloodbank/internal/core"
	"context"

	"github.com/sirupsen/logrus"
)

// AuditRecorder writes core audit entries as structured log lines under the
// "audit" channel.
type AuditRecorder struct {
	entry *logrus.Entry
}

// NewAuditRecorder derives an audit recorder from logger.
func NewAuditRecorder(logger *Logger) *AuditRecorder {
	return &AuditRecorder{entry: logger.Entry().WithField("channel", "audit")}
}

// Record implements core.AuditRecorder.
func (a *AuditRecorder) Record(_ context.Context, e core.AuditEntry) {
	fields := logrus.Fields{
		"operation":   e.Operation,
		"entity":      string(e.Entity),
		"action":      string(e.Action),
		"entity_id":   e.EntityID,
		"status":      string(e.Status),
		"duration_ms": e.Duration.Milliseconds(),
		"occurred_at": e.Timestamp,
	}
	entry := a.entry.WithFields(fields)
	if e.Status == core.AuditStatusError {
		entry.WithField("error", e.Error).Warn("audit")
		return
	}
	entry.Info("audit")
}
