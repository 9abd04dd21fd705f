package mfaauth

import "errors"

var (
	// ErrInvalidCredentials is the generic login rejection. It never reveals
	// whether the account exists.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidRequest is returned for malformed operation input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnauthorized is returned when an operation needs an authenticated caller.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPermissionDenied is returned when the caller's role lacks the permission.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrAccountNotFound is returned by authenticated and admin operations only.
	ErrAccountNotFound = errors.New("account not found")

	// ErrOverrideInvalid is returned for an unknown or already used override token.
	ErrOverrideInvalid = errors.New("override token invalid")
	// ErrOverrideExpired is returned for an unconsumed override token past its expiry.
	ErrOverrideExpired = errors.New("override token expired")

	// ErrTOTPNotPending is returned when there is no unconfirmed TOTP enrollment.
	ErrTOTPNotPending = errors.New("no pending totp enrollment")
	// ErrTOTPInvalid is returned when an enrollment code does not verify.
	ErrTOTPInvalid = errors.New("invalid totp code")
	// ErrTOTPReplayed is returned when a code's time step was already accepted.
	ErrTOTPReplayed = errors.New("totp code already used")

	// ErrBackupCodeUsed is returned when a backup code was consumed earlier.
	ErrBackupCodeUsed = errors.New("backup code already used")

	// ErrChallengeNotFound is returned when no ceremony challenge is pending.
	ErrChallengeNotFound = errors.New("passkey challenge not found")
	// ErrChallengeExpired is returned when the pending challenge timed out.
	ErrChallengeExpired = errors.New("passkey challenge expired")
	// ErrPasskeyInvalid is returned when an attestation does not verify.
	ErrPasskeyInvalid = errors.New("passkey verification failed")
	// ErrPasskeyCounterRegressed is returned when an assertion carries a sign
	// count below the stored one.
	ErrPasskeyCounterRegressed = errors.New("passkey sign counter regressed")
	// ErrPasskeyAlreadyRegistered is returned when the credential id is taken.
	ErrPasskeyAlreadyRegistered = errors.New("passkey already registered")
	// ErrPasskeyNotFound is returned by revoke for an unknown passkey.
	ErrPasskeyNotFound = errors.New("passkey not found")
	// ErrPasskeyNotConfigured is returned when no relying party is configured.
	ErrPasskeyNotConfigured = errors.New("passkeys not configured")

	// ErrDeviceNotFound is returned when revoking an unknown or revoked device.
	ErrDeviceNotFound = errors.New("trusted device not found")

	// ErrMFARateLimited is returned after too many failed second-factor attempts.
	ErrMFARateLimited = errors.New("mfa attempts rate limited")
	// ErrMFAUnavailable is returned when the attempt limiter cannot be reached.
	ErrMFAUnavailable = errors.New("mfa backend unavailable")

	// ErrEngineNotReady is returned by a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
