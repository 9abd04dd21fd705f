package flows

import (
	"context"
	"errors"
	"testing"
)

type proofRecorder struct {
	calls []Method
}

func (r *proofRecorder) verifier(m Method, ok bool, err error) func(context.Context, string) (bool, error) {
	return func(context.Context, string) (bool, error) {
		r.calls = append(r.calls, m)
		return ok, err
	}
}

func TestRunVerifyProofsPrecedence(t *testing.T) {
	rec := &proofRecorder{}
	deps := ProofDeps{
		VerifyOverride:   rec.verifier(MethodOverride, false, nil),
		VerifyTOTP:       rec.verifier(MethodTOTP, true, nil),
		VerifyBackupCode: rec.verifier(MethodBackupCode, true, nil),
	}
	method, err := RunVerifyProofs(context.Background(), Proofs{OverrideToken: "t", Code: "123456", BackupCode: "AAAA-BBBB"}, deps)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if method != MethodTOTP {
		t.Fatalf("method = %q, want totp", method)
	}
	if len(rec.calls) != 2 || rec.calls[0] != MethodOverride || rec.calls[1] != MethodTOTP {
		t.Fatalf("calls = %v", rec.calls)
	}
}

func TestRunVerifyProofsSkipsAbsentProofs(t *testing.T) {
	rec := &proofRecorder{}
	deps := ProofDeps{
		VerifyOverride:   rec.verifier(MethodOverride, true, nil),
		VerifyTOTP:       rec.verifier(MethodTOTP, true, nil),
		VerifyBackupCode: rec.verifier(MethodBackupCode, true, nil),
	}
	method, err := RunVerifyProofs(context.Background(), Proofs{BackupCode: "AAAA-BBBB"}, deps)
	if err != nil || method != MethodBackupCode {
		t.Fatalf("method=%q err=%v", method, err)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("calls = %v", rec.calls)
	}
}

func TestRunVerifyProofsNoneMatch(t *testing.T) {
	var mismatches []Method
	deps := ProofDeps{
		VerifyTOTP:       func(context.Context, string) (bool, error) { return false, nil },
		VerifyBackupCode: func(context.Context, string) (bool, error) { return false, nil },
		OnMismatch:       func(_ context.Context, m Method) { mismatches = append(mismatches, m) },
	}
	method, err := RunVerifyProofs(context.Background(), Proofs{Code: "000000", BackupCode: "x"}, deps)
	if err != nil || method != MethodNone {
		t.Fatalf("method=%q err=%v", method, err)
	}
	if len(mismatches) != 2 {
		t.Fatalf("mismatches = %v", mismatches)
	}
}

func TestRunVerifyProofsHardFailureStops(t *testing.T) {
	expired := errors.New("expired")
	rec := &proofRecorder{}
	deps := ProofDeps{
		VerifyOverride: rec.verifier(MethodOverride, false, expired),
		VerifyTOTP:     rec.verifier(MethodTOTP, true, nil),
	}
	method, err := RunVerifyProofs(context.Background(), Proofs{OverrideToken: "t", Code: "123456"}, deps)
	if !errors.Is(err, expired) || method != MethodNone {
		t.Fatalf("method=%q err=%v", method, err)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("totp must not run after a hard failure, calls = %v", rec.calls)
	}
}

func TestRunVerifyProofsPasskey(t *testing.T) {
	var got []byte
	deps := ProofDeps{
		VerifyPasskey: func(_ context.Context, a []byte) (bool, error) { got = a; return true, nil },
	}
	method, err := RunVerifyProofs(context.Background(), Proofs{PasskeyAssertion: []byte(`{"id":"x"}`)}, deps)
	if err != nil || method != MethodPasskey || string(got) != `{"id":"x"}` {
		t.Fatalf("method=%q err=%v got=%s", method, err, got)
	}
}

func TestNullPasskeyAssertionIsNoProof(t *testing.T) {
	called := false
	deps := ProofDeps{
		VerifyPasskey: func(context.Context, []byte) (bool, error) { called = true; return true, nil },
	}
	for _, raw := range []string{"null", " null\n", "  "} {
		proofs := Proofs{PasskeyAssertion: []byte(raw)}
		if !proofs.Empty() {
			t.Fatalf("%q should count as no proof", raw)
		}
		method, err := RunVerifyProofs(context.Background(), proofs, deps)
		if err != nil || method != MethodNone {
			t.Fatalf("%q: method=%q err=%v", raw, method, err)
		}
	}
	if called {
		t.Fatal("passkey verifier must not run for a null assertion")
	}
}
