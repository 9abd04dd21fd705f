// Package passkey runs WebAuthn registration and authentication ceremonies.
//
// Ceremony state leaves this package as an opaque byte slice so callers can
// park it in the challenge ledger between the begin and finish steps.
package passkey

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

var (
	// ErrNotConfigured is returned when RP settings are missing.
	ErrNotConfigured = errors.New("passkey: relying party is not configured")
	// ErrVerification wraps any attestation or assertion that failed checks.
	ErrVerification = errors.New("passkey: ceremony verification failed")
	// ErrSessionCorrupt is returned when stored ceremony state cannot be read.
	ErrSessionCorrupt = errors.New("passkey: ceremony state unreadable")
)

// Config holds the relying party settings.
type Config struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
	Timeout       time.Duration
}

// Service wraps a configured webauthn relying party.
type Service struct {
	webAuthn *webauthn.WebAuthn
}

// New validates cfg and builds a Service.
func New(cfg Config) (*Service, error) {
	if cfg.RPID == "" || cfg.RPDisplayName == "" || len(cfg.RPOrigins) == 0 {
		return nil, ErrNotConfigured
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	w, err := webauthn.New(&webauthn.Config{
		RPDisplayName:         cfg.RPDisplayName,
		RPID:                  cfg.RPID,
		RPOrigins:             cfg.RPOrigins,
		AttestationPreference: protocol.PreferNoAttestation,
		Timeouts: webauthn.TimeoutsConfig{
			Login: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    timeout,
				TimeoutUVD: timeout,
			},
			Registration: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    timeout,
				TimeoutUVD: timeout,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("passkey: create relying party: %w", err)
	}
	return &Service{webAuthn: w}, nil
}

// BeginRegistration returns creation options that exclude the user's
// registered credentials, plus the encoded ceremony state.
func (s *Service) BeginRegistration(user *User) (*protocol.CredentialCreation, []byte, error) {
	exclusions := make([]protocol.CredentialDescriptor, 0, len(user.credentials))
	for _, cred := range user.credentials {
		exclusions = append(exclusions, cred.Descriptor())
	}

	options, session, err := s.webAuthn.BeginRegistration(user,
		webauthn.WithExclusions(exclusions),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationPreferred,
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("passkey: begin registration: %w", err)
	}
	state, err := encodeSession(session)
	if err != nil {
		return nil, nil, err
	}
	return options, state, nil
}

// FinishRegistration verifies an attestation response against state.
func (s *Service) FinishRegistration(user *User, state, attestation []byte) (*webauthn.Credential, error) {
	session, err := decodeSession(state)
	if err != nil {
		return nil, err
	}
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(attestation))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	cred, err := s.webAuthn.CreateCredential(user, *session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	return cred, nil
}

// BeginLogin returns assertion options limited to the user's credentials.
func (s *Service) BeginLogin(user *User) (*protocol.CredentialAssertion, []byte, error) {
	options, session, err := s.webAuthn.BeginLogin(user)
	if err != nil {
		return nil, nil, fmt.Errorf("passkey: begin login: %w", err)
	}
	state, err := encodeSession(session)
	if err != nil {
		return nil, nil, err
	}
	return options, state, nil
}

// FinishLogin verifies an assertion response against state. The returned
// credential's SignCount is the counter the authenticator presented, even when
// it is lower than the stored one; the caller owns the counter policy.
func (s *Service) FinishLogin(user *User, state, assertion []byte) (*webauthn.Credential, error) {
	session, err := decodeSession(state)
	if err != nil {
		return nil, err
	}
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(assertion))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	cred, err := s.webAuthn.ValidateLogin(user, *session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	ApplyPresentedCounter(cred, parsed.Response.AuthenticatorData.Counter)
	return cred, nil
}

// ApplyPresentedCounter records counter as the credential's sign count.
// webauthn.Authenticator.UpdateCounter keeps the stored value on a
// regression and only raises CloneWarning, which would hide the regression
// from a compare against the stored count.
func ApplyPresentedCounter(cred *webauthn.Credential, counter uint32) {
	cred.Authenticator.UpdateCounter(counter)
	cred.Authenticator.SignCount = counter
}

func encodeSession(session *webauthn.SessionData) ([]byte, error) {
	if session == nil || session.Challenge == "" {
		return nil, errors.New("passkey: empty ceremony state")
	}
	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("passkey: encode ceremony state: %w", err)
	}
	return data, nil
}

func decodeSession(state []byte) (*webauthn.SessionData, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal(state, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	if session.Challenge == "" {
		return nil, ErrSessionCorrupt
	}
	return &session, nil
}
