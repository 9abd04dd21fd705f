package mfaauth

import (
	"context"
	"strings"

	"github.com/nutricoach/mfaauth/credential"
)

// ListTrustedDevices returns the account's devices, revoked ones included.
func (e *Engine) ListTrustedDevices(ctx context.Context, accountID string) ([]credential.TrustedDevice, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if accountID == "" {
		return nil, ErrInvalidRequest
	}
	devices, err := e.store.ListTrustedDevices(ctx, accountID)
	if err != nil {
		return nil, e.internalError("devices_list", accountID, err)
	}
	return devices, nil
}

// RevokeTrustedDevice marks the device revoked. Revocation is permanent; a
// later login with the same fingerprint does not reactivate it.
func (e *Engine) RevokeTrustedDevice(ctx context.Context, accountID, deviceID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	deviceID = strings.TrimSpace(deviceID)
	if accountID == "" || deviceID == "" {
		return ErrInvalidRequest
	}
	revoked, err := e.store.RevokeTrustedDevice(ctx, accountID, deviceID, e.clock())
	if err != nil {
		return e.internalError("devices_revoke", accountID, err)
	}
	if !revoked {
		return ErrDeviceNotFound
	}

	e.metricInc(MetricDeviceRevoked)
	e.emitAudit(ctx, auditEventTrustedDeviceRevoked, true, accountID, accountID, nil, func() map[string]string {
		return map[string]string{"device_id": deviceID}
	})
	return nil
}
