package flows

import (
	"bytes"
	"context"
)

// Method names the proof that satisfied a second-factor check.
type Method string

const (
	MethodNone       Method = ""
	MethodPassword   Method = "password"
	MethodOverride   Method = "override"
	MethodTOTP       Method = "totp"
	MethodBackupCode Method = "backup_code"
	MethodPasskey    Method = "passkey"
)

// Proofs carries the second-factor material supplied with a login.
type Proofs struct {
	OverrideToken    string
	Code             string
	BackupCode       string
	PasskeyAssertion []byte
}

// Empty reports whether no proof was supplied.
func (p Proofs) Empty() bool {
	return p.OverrideToken == "" && p.Code == "" && p.BackupCode == "" && !p.hasPasskey()
}

// hasPasskey treats a JSON null assertion as absent.
func (p Proofs) hasPasskey() bool {
	a := bytes.TrimSpace(p.PasskeyAssertion)
	return len(a) > 0 && !bytes.Equal(a, []byte("null"))
}

// ProofDeps verifies one proof kind each. A verifier returns (false, nil)
// when the proof simply does not match, and an error when the attempt must
// stop the login with a specific reason.
type ProofDeps struct {
	VerifyOverride   func(context.Context, string) (bool, error)
	VerifyTOTP       func(context.Context, string) (bool, error)
	VerifyBackupCode func(context.Context, string) (bool, error)
	VerifyPasskey    func(context.Context, []byte) (bool, error)

	// OnMismatch observes each proof that was tried and did not match.
	OnMismatch func(context.Context, Method)
}

type proofAttempt struct {
	method  Method
	present bool
	run     func(context.Context) (bool, error)
}

// RunVerifyProofs tries the supplied proofs in precedence order: override
// token, TOTP code, backup code, passkey assertion. The first proof that
// verifies wins. Each proof is judged alone. MethodNone with a nil error
// means a second factor is still required.
func RunVerifyProofs(ctx context.Context, proofs Proofs, deps ProofDeps) (Method, error) {
	if deps.OnMismatch == nil {
		deps.OnMismatch = func(context.Context, Method) {}
	}

	attempts := []proofAttempt{
		{MethodOverride, proofs.OverrideToken != "" && deps.VerifyOverride != nil, func(ctx context.Context) (bool, error) {
			return deps.VerifyOverride(ctx, proofs.OverrideToken)
		}},
		{MethodTOTP, proofs.Code != "" && deps.VerifyTOTP != nil, func(ctx context.Context) (bool, error) {
			return deps.VerifyTOTP(ctx, proofs.Code)
		}},
		{MethodBackupCode, proofs.BackupCode != "" && deps.VerifyBackupCode != nil, func(ctx context.Context) (bool, error) {
			return deps.VerifyBackupCode(ctx, proofs.BackupCode)
		}},
		{MethodPasskey, proofs.hasPasskey() && deps.VerifyPasskey != nil, func(ctx context.Context) (bool, error) {
			return deps.VerifyPasskey(ctx, proofs.PasskeyAssertion)
		}},
	}

	for _, attempt := range attempts {
		if !attempt.present {
			continue
		}
		if err := ctx.Err(); err != nil {
			return MethodNone, err
		}
		ok, err := attempt.run(ctx)
		if err != nil {
			return MethodNone, err
		}
		if ok {
			return attempt.method, nil
		}
		deps.OnMismatch(ctx, attempt.method)
	}
	return MethodNone, nil
}
