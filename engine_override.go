package mfaauth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nutricoach/mfaauth/credential"
	"github.com/nutricoach/mfaauth/internal"
)

const maxOverrideReasonLen = 255

// IssueOverride creates a single-use MFA bypass for the target account.
// The caller must hold PermOverrideIssue; the check runs before any read or
// write. Only the token hash is stored.
func (e *Engine) IssueOverride(ctx context.Context, actor Principal, req IssueOverrideRequest) (*IssuedOverride, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if actor.AccountID == "" {
		return nil, ErrUnauthorized
	}
	if !e.roles.Allows(actor.Role, PermOverrideIssue) {
		e.metricInc(MetricPermissionDenied)
		e.logger.Warn("override issuance denied", "actor_id", actor.AccountID, "role", actor.Role, "granted", e.roles.Granted(actor.Role))
		return nil, ErrPermissionDenied
	}

	ttl := req.ExpiresIn
	if ttl == 0 {
		ttl = e.config.Override.DefaultTTL
	}
	if ttl < time.Minute || ttl > e.config.Override.MaxTTL {
		return nil, fmt.Errorf("%w: override lifetime must be between 1m and %s", ErrInvalidRequest, e.config.Override.MaxTTL)
	}
	reason := strings.TrimSpace(req.Reason)
	if len(reason) > maxOverrideReasonLen {
		return nil, fmt.Errorf("%w: reason too long", ErrInvalidRequest)
	}

	target, err := e.loadAccount(ctx, strings.TrimSpace(req.TargetAccountID))
	if err != nil {
		return nil, err
	}

	token, err := internal.NewOverrideToken()
	if err != nil {
		return nil, e.internalError("override_issue", target.ID, err)
	}
	now := e.clock()
	record := &credential.OverrideToken{
		AccountID: target.ID,
		TokenHash: internal.HashToken(token),
		IssuedBy:  actor.AccountID,
		Reason:    reason,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := e.store.CreateOverrideToken(ctx, record); err != nil {
		return nil, e.internalError("override_issue", target.ID, err)
	}

	e.metricInc(MetricOverrideIssued)
	e.emitAudit(ctx, auditEventOverrideIssued, true, target.ID, actor.AccountID, nil, func() map[string]string {
		return map[string]string{
			"override_id": record.ID,
			"reason":      reason,
			"expires_at":  record.ExpiresAt.Format(time.RFC3339),
		}
	})
	return &IssuedOverride{Token: token, ExpiresAt: record.ExpiresAt, ExpiresIn: ttl}, nil
}
