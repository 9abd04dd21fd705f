// Package httpapi serves the MFA and login endpoints as JSON over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/rs/cors"

	"github.com/nutricoach/mfaauth"
	"github.com/nutricoach/mfaauth/billing"
	"github.com/nutricoach/mfaauth/credential"
)

// Engine is the subset of *mfaauth.Engine the handlers call.
type Engine interface {
	Authenticate(ctx context.Context, accessToken string) (*mfaauth.Principal, error)
	Login(ctx context.Context, req mfaauth.LoginRequest) (*mfaauth.LoginResult, error)
	StartTOTPEnrollment(ctx context.Context, accountID, friendlyName string) (*mfaauth.TOTPEnrollment, error)
	ConfirmTOTPEnrollment(ctx context.Context, accountID, code, deviceFingerprint, deviceName string) (*mfaauth.TOTPConfirmation, error)
	PasskeyChallenge(ctx context.Context, email string) (*protocol.CredentialAssertion, error)
	StartPasskeyRegistration(ctx context.Context, accountID string) (*protocol.CredentialCreation, error)
	FinishPasskeyRegistration(ctx context.Context, accountID, friendlyName string, attestation []byte) (*mfaauth.PasskeyRegistration, error)
	RevokePasskey(ctx context.Context, accountID, passkeyID string) (*mfaauth.PasskeyRevocation, error)
	SyncBilling(ctx context.Context, actor mfaauth.Principal, targetAccountID string) (*billing.Result, error)
	IssueOverride(ctx context.Context, actor mfaauth.Principal, req mfaauth.IssueOverrideRequest) (*mfaauth.IssuedOverride, error)
	Status(ctx context.Context, accountID string) (*mfaauth.MFAStatus, error)
	ListTrustedDevices(ctx context.Context, accountID string) ([]credential.TrustedDevice, error)
	RevokeTrustedDevice(ctx context.Context, accountID, deviceID string) error
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Options struct {
	AllowedOrigins []string
	Health         map[string]HealthCheck
	Logger         *slog.Logger
}

type Server struct {
	engine Engine
	health map[string]HealthCheck
	logger *slog.Logger
	router *gin.Engine
	cors   *cors.Cors
}

func New(engine Engine, opts Options) *Server {
	registerValidators()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		engine: engine,
		health: opts.Health,
		logger: logger,
		router: gin.New(),
		cors: cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         600,
		}),
	}
	s.router.Use(gin.Recovery(), s.requestContext())
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.GET("/healthz", s.healthz)

	r.POST("/auth/login", s.login)
	r.POST("/auth/passkey/challenge", s.passkeyChallenge)

	authed := r.Group("", s.requireAuth())
	authed.GET("/mfa/status", s.status)
	authed.POST("/mfa/totp/start", s.mfaStart)
	authed.POST("/mfa/totp/confirm", s.mfaConfirm)
	authed.POST("/mfa/passkeys/register/start", s.passkeyRegisterStart)
	authed.POST("/mfa/passkeys/register/finish", s.passkeyRegisterFinish)
	authed.POST("/mfa/passkeys/revoke", s.passkeyRevoke)
	authed.GET("/mfa/devices", s.listDevices)
	authed.POST("/mfa/devices/revoke", s.revokeDevice)
	authed.POST("/billing/sync", s.billingSync)
	authed.POST("/admin/overrides", s.adminIssueOverride)
}

// Handler returns the router wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	return s.cors.Handler(s.router)
}

var _ Engine = (*mfaauth.Engine)(nil)
