package main

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wagate/server/internal/logger"
	"github.com/wagate/server/internal/models"
	"github.com/wagate/server/internal/session"
)

// auditSink decorates the realtime sink with a persisted event trail and a
// durable copy of the session's lifecycle status.
type auditSink struct {
	next    session.RealtimeSink
	queries *models.Queries
}

func newAuditSink(next session.RealtimeSink, queries *models.Queries) *auditSink {
	return &auditSink{next: next, queries: queries}
}

func (a *auditSink) Publish(sessionID string, category session.EventCategory, payload any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().UnixMilli()
	if err := a.queries.RecordEvent(ctx, uuid.NewString(), sessionID, string(category), now); err != nil {
		logger.Debugf("session %s: event audit write failed: %v", sessionID, err)
	}

	if status, ok := statusForCategory(category); ok {
		if err := a.queries.SetSessionStatus(ctx, sessionID, string(status), now); err != nil {
			logger.Debugf("session %s: status persist failed: %v", sessionID, err)
		}
	}

	return a.next.Publish(sessionID, category, payload)
}

func (a *auditSink) Disconnect(sessionID string) {
	a.next.Disconnect(sessionID)
}

func statusForCategory(category session.EventCategory) (session.Status, bool) {
	switch category {
	case session.EventQR:
		return session.StatusQR, true
	case session.EventReady:
		return session.StatusConnected, true
	case session.EventAuthFailure:
		return session.StatusFailed, true
	case session.EventDisconnected:
		return session.StatusDisconnected, true
	default:
		return "", false
	}
}
