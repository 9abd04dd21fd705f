// Package mfaauth implements the multi-factor login protocol of the
// NutriCoach platform.
//
// An [Engine] is built once with [New] and a set of collaborators: a
// credential store, an identity provider, a Redis client for ceremony
// challenges and attempt limits, and optionally a billing projection and an
// audit sink. It then serves these operations concurrently:
//
//   - Login: password, then at most one second-factor proof tried in the
//     order override token, TOTP code, backup code, passkey assertion.
//   - TOTP enrollment: StartTOTPEnrollment and ConfirmTOTPEnrollment.
//   - Passkeys: PasskeyChallenge, StartPasskeyRegistration,
//     FinishPasskeyRegistration and RevokePasskey.
//   - Support: IssueOverride and SyncBilling, gated by role permissions.
//   - Devices and status: ListTrustedDevices, RevokeTrustedDevice, Status.
//
// A login that lacks a valid second factor returns a result with
// RequiresMFA set rather than an error. Replay and expiry conditions return
// distinct errors so clients can tell the user what to do next.
package mfaauth
