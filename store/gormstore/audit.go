package gormstore

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nutricoach/mfaauth/internal/audit"
)

// AuditSink appends audit events to the audit_events table.
type AuditSink struct {
	db *gorm.DB
}

func NewAuditSink(db *gorm.DB) *AuditSink {
	return &AuditSink{db: db}
}

func (s *AuditSink) Emit(ctx context.Context, event audit.Event) error {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var meta datatypes.JSONMap
	if len(event.Metadata) > 0 {
		meta = make(datatypes.JSONMap, len(event.Metadata))
		for k, v := range event.Metadata {
			meta[k] = v
		}
	}
	return s.db.WithContext(ctx).Create(&auditEventModel{
		ID:        newID(),
		AccountID: event.AccountID,
		ActorID:   event.ActorID,
		EventType: event.EventType,
		Success:   event.Success,
		Error:     event.Error,
		IP:        event.IP,
		Metadata:  meta,
		CreatedAt: ts.UTC(),
	}).Error
}

// ListAuditEvents returns an account's events, newest first.
func (s *AuditSink) ListAuditEvents(ctx context.Context, accountID string, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []auditEventModel
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]audit.Event, 0, len(rows))
	for _, r := range rows {
		meta := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			if s, ok := v.(string); ok {
				meta[k] = s
			}
		}
		out = append(out, audit.Event{
			Timestamp: r.CreatedAt,
			EventType: r.EventType,
			AccountID: r.AccountID,
			ActorID:   r.ActorID,
			IP:        r.IP,
			Success:   r.Success,
			Error:     r.Error,
			Metadata:  meta,
		})
	}
	return out, nil
}
