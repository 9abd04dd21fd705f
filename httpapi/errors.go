package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nutricoach/mfaauth"
)

type errorBody struct {
	Error errorInfo `json:"error"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// Order matters only where errors wrap each other.
var errorMappings = []errorMapping{
	{mfaauth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "invalid email or password"},
	{mfaauth.ErrUnauthorized, http.StatusUnauthorized, "unauthorized", "authentication required"},
	{mfaauth.ErrPermissionDenied, http.StatusForbidden, "permission_denied", "permission denied"},
	{mfaauth.ErrInvalidRequest, http.StatusBadRequest, "invalid_request", "invalid request"},
	{mfaauth.ErrAccountNotFound, http.StatusNotFound, "account_not_found", "account not found"},
	{mfaauth.ErrOverrideInvalid, http.StatusUnauthorized, "override_invalid", "override token is invalid"},
	{mfaauth.ErrOverrideExpired, http.StatusUnauthorized, "override_expired", "override token has expired"},
	{mfaauth.ErrTOTPNotPending, http.StatusConflict, "totp_not_pending", "no pending authenticator enrollment"},
	{mfaauth.ErrTOTPInvalid, http.StatusBadRequest, "totp_invalid", "verification code is incorrect"},
	{mfaauth.ErrTOTPReplayed, http.StatusUnauthorized, "totp_replayed", "verification code was already used"},
	{mfaauth.ErrBackupCodeUsed, http.StatusUnauthorized, "backup_code_used", "backup code was already used"},
	{mfaauth.ErrChallengeNotFound, http.StatusBadRequest, "challenge_not_found", "no pending passkey challenge"},
	{mfaauth.ErrChallengeExpired, http.StatusBadRequest, "challenge_expired", "passkey challenge has expired"},
	{mfaauth.ErrPasskeyInvalid, http.StatusBadRequest, "passkey_invalid", "passkey response could not be verified"},
	{mfaauth.ErrPasskeyCounterRegressed, http.StatusUnauthorized, "passkey_counter_regressed", "passkey response was rejected"},
	{mfaauth.ErrPasskeyAlreadyRegistered, http.StatusConflict, "passkey_already_registered", "passkey is already registered"},
	{mfaauth.ErrPasskeyNotFound, http.StatusNotFound, "passkey_not_found", "passkey not found"},
	{mfaauth.ErrPasskeyNotConfigured, http.StatusNotImplemented, "passkey_not_configured", "passkeys are not available"},
	{mfaauth.ErrDeviceNotFound, http.StatusNotFound, "device_not_found", "device not found"},
	{mfaauth.ErrMFARateLimited, http.StatusTooManyRequests, "mfa_rate_limited", "too many attempts, try again later"},
	{mfaauth.ErrMFAUnavailable, http.StatusServiceUnavailable, "mfa_unavailable", "verification is temporarily unavailable"},
	{mfaauth.ErrEngineNotReady, http.StatusServiceUnavailable, "engine_not_ready", "service unavailable"},
}

func mapError(err error) (int, errorInfo) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, errorInfo{Code: m.code, Message: m.message}
		}
	}
	return http.StatusInternalServerError, errorInfo{Code: "internal_error", Message: "internal error"}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, info := mapError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, errorBody{Error: info})
}

func (s *Server) abortWithError(c *gin.Context, err error) {
	s.writeError(c, err)
	c.Abort()
}
