package internaldefs

import (
	"github.com/nutricoach/mfaauth"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   mfaauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   mfaauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: mfaauth.MetricLoginSuccess, Name: "mfaauth_login_success_total", Help: "Logins that issued a session."},
	{ID: mfaauth.MetricLoginFailure, Name: "mfaauth_login_failure_total", Help: "Logins rejected for credentials or internal errors."},
	{ID: mfaauth.MetricLoginPasswordOnly, Name: "mfaauth_login_password_only_total", Help: "Logins completed without a second factor."},
	{ID: mfaauth.MetricMFARequired, Name: "mfaauth_mfa_required_total", Help: "Logins answered with requiresMfa."},
	{ID: mfaauth.MetricMFASuccess, Name: "mfaauth_mfa_success_total", Help: "Accepted second-factor proofs."},
	{ID: mfaauth.MetricMFAFailure, Name: "mfaauth_mfa_failure_total", Help: "Rejected second-factor proofs."},
	{ID: mfaauth.MetricMFARateLimited, Name: "mfaauth_mfa_rate_limited_total", Help: "Second-factor attempts refused by the attempt limiter."},
	{ID: mfaauth.MetricOverrideIssued, Name: "mfaauth_override_issued_total", Help: "Override tokens issued."},
	{ID: mfaauth.MetricOverrideRedeemed, Name: "mfaauth_override_redeemed_total", Help: "Override tokens redeemed at login."},
	{ID: mfaauth.MetricOverrideRejected, Name: "mfaauth_override_rejected_total", Help: "Override tokens rejected as invalid or expired."},
	{ID: mfaauth.MetricTOTPEnrollmentStarted, Name: "mfaauth_totp_enrollment_started_total", Help: "TOTP enrollments started."},
	{ID: mfaauth.MetricTOTPEnrollmentConfirmed, Name: "mfaauth_totp_enrollment_confirmed_total", Help: "TOTP enrollments confirmed."},
	{ID: mfaauth.MetricTOTPReplay, Name: "mfaauth_totp_replay_total", Help: "TOTP codes rejected as replays."},
	{ID: mfaauth.MetricBackupCodeUsed, Name: "mfaauth_backup_code_used_total", Help: "Backup codes redeemed."},
	{ID: mfaauth.MetricBackupCodeReused, Name: "mfaauth_backup_code_reused_total", Help: "Backup codes presented after use."},
	{ID: mfaauth.MetricBackupCodesRegenerated, Name: "mfaauth_backup_codes_regenerated_total", Help: "Backup-code batches generated."},
	{ID: mfaauth.MetricPasskeyRegistered, Name: "mfaauth_passkey_registered_total", Help: "Passkeys registered."},
	{ID: mfaauth.MetricPasskeyRevoked, Name: "mfaauth_passkey_revoked_total", Help: "Passkeys revoked."},
	{ID: mfaauth.MetricPasskeyLogin, Name: "mfaauth_passkey_login_total", Help: "Logins completed with a passkey."},
	{ID: mfaauth.MetricPasskeyCounterRegressed, Name: "mfaauth_passkey_counter_regressed_total", Help: "Passkey assertions rejected for a non-increasing counter."},
	{ID: mfaauth.MetricChallengeRejected, Name: "mfaauth_challenge_rejected_total", Help: "WebAuthn challenges missing or expired."},
	{ID: mfaauth.MetricBillingSynced, Name: "mfaauth_billing_synced_total", Help: "Billing syncs that reached the provider."},
	{ID: mfaauth.MetricBillingLocalOnly, Name: "mfaauth_billing_local_only_total", Help: "Billing syncs applied locally only."},
	{ID: mfaauth.MetricBillingFailed, Name: "mfaauth_billing_failed_total", Help: "Billing syncs that failed locally."},
	{ID: mfaauth.MetricPermissionDenied, Name: "mfaauth_permission_denied_total", Help: "Privileged operations refused for missing permission."},
	{ID: mfaauth.MetricDeviceTrusted, Name: "mfaauth_device_trusted_total", Help: "Devices remembered at login or enrollment."},
	{ID: mfaauth.MetricDeviceRevoked, Name: "mfaauth_device_revoked_total", Help: "Trusted devices revoked."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: mfaauth.MetricLoginLatency, Name: "mfaauth_login_latency_seconds", Help: "Login latency histogram."},
}

// HistogramBounds are the upper bounds of the engine's latency buckets in
// seconds. The last bucket is unbounded.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix is the instrument-name form of each bucket bound.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// AuditDroppedName and AuditFailedName name the dispatcher counters.
const (
	AuditDroppedName = "mfaauth_audit_dropped_total"
	AuditFailedName  = "mfaauth_audit_failed_total"
)

// NormalizeBuckets copies raw into a fixed eight-bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
