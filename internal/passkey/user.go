package passkey

import (
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/nutricoach/mfaauth/credential"
)

// User adapts an account and its stored passkeys to webauthn.User.
type User struct {
	accountID   string
	email       string
	credentials []webauthn.Credential
}

// NewUser builds the webauthn view of an account.
func NewUser(account *credential.Account, passkeys []credential.Passkey) *User {
	creds := make([]webauthn.Credential, 0, len(passkeys))
	for i := range passkeys {
		creds = append(creds, ToWebAuthn(&passkeys[i]))
	}
	return &User{
		accountID:   account.ID,
		email:       account.Email,
		credentials: creds,
	}
}

// WebAuthnID returns the account id; it carries no personal data.
func (u *User) WebAuthnID() []byte {
	return []byte(u.accountID)
}

func (u *User) WebAuthnName() string {
	return u.email
}

func (u *User) WebAuthnDisplayName() string {
	return u.email
}

func (u *User) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

// ToWebAuthn converts a stored passkey into the library's credential form.
func ToWebAuthn(p *credential.Passkey) webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(p.Transports))
	for _, t := range p.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:              p.CredentialID,
		PublicKey:       p.PublicKey,
		AttestationType: p.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: p.BackupEligible,
			BackupState:    p.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    p.AAGUID,
			SignCount: p.SignCount,
		},
	}
}

// FromWebAuthn converts a freshly registered credential into a stored passkey.
func FromWebAuthn(cred *webauthn.Credential) *credential.Passkey {
	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	return &credential.Passkey{
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		AAGUID:          cred.Authenticator.AAGUID,
		SignCount:       cred.Authenticator.SignCount,
		Transports:      transports,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
	}
}
