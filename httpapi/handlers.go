package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nutricoach/mfaauth"
	"github.com/nutricoach/mfaauth/billing"
	"github.com/nutricoach/mfaauth/credential"
	"github.com/nutricoach/mfaauth/identity"
)

type loginRequest struct {
	Email             string          `json:"email" binding:"required,email"`
	Password          string          `json:"password" binding:"required"`
	OverrideToken     string          `json:"overrideToken"`
	Code              string          `json:"code" binding:"omitempty,otpcode"`
	BackupCode        string          `json:"backupCode"`
	PasskeyAssertion  json.RawMessage `json:"passkeyAssertion"`
	DeviceFingerprint string          `json:"deviceFingerprint"`
	DeviceName        string          `json:"deviceName"`
	RememberDevice    bool            `json:"rememberDevice"`
}

type billingView struct {
	Synced        bool   `json:"synced"`
	CustomerID    string `json:"customerId,omitempty"`
	PremiumLocked bool   `json:"premiumLocked"`
	RevokedGrants int64  `json:"revokedGrants"`
}

func toBillingView(r *billing.Result) *billingView {
	if r == nil {
		return nil
	}
	return &billingView{
		Synced:        r.Synced,
		CustomerID:    r.CustomerID,
		PremiumLocked: r.PremiumLocked,
		RevokedGrants: r.RevokedGrants,
	}
}

type loginResponse struct {
	RequiresMFA bool              `json:"requiresMfa"`
	Method      string            `json:"method,omitempty"`
	Session     *identity.Session `json:"session,omitempty"`
	BackupCodes []string          `json:"backupCodes,omitempty"`
	Billing     *billingView      `json:"billing,omitempty"`
}

// jsonValue returns nil for an absent or JSON null payload.
func jsonValue(raw json.RawMessage) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return trimmed
}

func (s *Server) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: errorInfo{Code: "invalid_request", Message: bindError(err)}})
		return false
	}
	return true
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if !s.bind(c, &req) {
		return
	}
	result, err := s.engine.Login(c.Request.Context(), mfaauth.LoginRequest{
		Email:             req.Email,
		Password:          req.Password,
		OverrideToken:     req.OverrideToken,
		Code:              req.Code,
		BackupCode:        req.BackupCode,
		PasskeyAssertion:  jsonValue(req.PasskeyAssertion),
		DeviceFingerprint: req.DeviceFingerprint,
		DeviceName:        req.DeviceName,
		RememberDevice:    req.RememberDevice,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	if result.RequiresMFA {
		c.JSON(http.StatusUnauthorized, loginResponse{RequiresMFA: true})
		return
	}
	c.JSON(http.StatusOK, loginResponse{
		Method:      result.Method,
		Session:     result.Session,
		BackupCodes: result.BackupCodes,
		Billing:     toBillingView(result.Billing),
	})
}

type passkeyChallengeRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (s *Server) passkeyChallenge(c *gin.Context) {
	var req passkeyChallengeRequest
	if !s.bind(c, &req) {
		return
	}
	// Unknown emails and accounts without passkeys get null options.
	options, err := s.engine.PasskeyChallenge(c.Request.Context(), req.Email)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"options": options})
}

type mfaStartRequest struct {
	FriendlyName string `json:"friendlyName" binding:"max=64"`
}

func (s *Server) mfaStart(c *gin.Context) {
	var req mfaStartRequest
	if c.Request.ContentLength != 0 && !s.bind(c, &req) {
		return
	}
	p := principalFrom(c)
	enrollment, err := s.engine.StartTOTPEnrollment(c.Request.Context(), p.AccountID, req.FriendlyName)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"secret":     enrollment.Secret,
		"otpauthUri": enrollment.OTPAuthURI,
	})
}

type mfaConfirmRequest struct {
	Code              string `json:"code" binding:"required,otpcode"`
	DeviceFingerprint string `json:"deviceFingerprint"`
	DeviceName        string `json:"deviceName"`
}

func (s *Server) mfaConfirm(c *gin.Context) {
	var req mfaConfirmRequest
	if !s.bind(c, &req) {
		return
	}
	p := principalFrom(c)
	confirmation, err := s.engine.ConfirmTOTPEnrollment(c.Request.Context(), p.AccountID, req.Code, req.DeviceFingerprint, req.DeviceName)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"backupCodes": confirmation.BackupCodes,
		"billing":     toBillingView(confirmation.Billing),
	})
}

func (s *Server) passkeyRegisterStart(c *gin.Context) {
	p := principalFrom(c)
	options, err := s.engine.StartPasskeyRegistration(c.Request.Context(), p.AccountID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"options": options})
}

type passkeyRegisterFinishRequest struct {
	FriendlyName string          `json:"friendlyName" binding:"max=64"`
	Attestation  json.RawMessage `json:"attestation" binding:"required"`
}

func (s *Server) passkeyRegisterFinish(c *gin.Context) {
	var req passkeyRegisterFinishRequest
	if !s.bind(c, &req) {
		return
	}
	attestation := jsonValue(req.Attestation)
	if attestation == nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: errorInfo{Code: "invalid_request", Message: "attestation is required"}})
		return
	}
	p := principalFrom(c)
	reg, err := s.engine.FinishPasskeyRegistration(c.Request.Context(), p.AccountID, req.FriendlyName, attestation)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"verified":  true,
		"passkeyId": reg.PasskeyID,
		"billing":   toBillingView(reg.Billing),
	})
}

type passkeyRevokeRequest struct {
	PasskeyID string `json:"passkeyId" binding:"required"`
}

func (s *Server) passkeyRevoke(c *gin.Context) {
	var req passkeyRevokeRequest
	if !s.bind(c, &req) {
		return
	}
	p := principalFrom(c)
	rev, err := s.engine.RevokePasskey(c.Request.Context(), p.AccountID, req.PasskeyID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"revoked":     true,
		"mfaEnrolled": rev.MFAEnrolled,
		"billing":     toBillingView(rev.Billing),
	})
}

type passkeyView struct {
	ID           string     `json:"id"`
	FriendlyName string     `json:"friendlyName"`
	Transports   []string   `json:"transports,omitempty"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

type statusResponse struct {
	MFARequired          bool          `json:"mfaRequired"`
	MFAEnrolled          bool          `json:"mfaEnrolled"`
	MFAVerifiedAt        *time.Time    `json:"mfaVerifiedAt,omitempty"`
	TOTPConfirmed        bool          `json:"totpConfirmed"`
	TOTPPending          bool          `json:"totpPending"`
	Passkeys             []passkeyView `json:"passkeys"`
	BackupCodesRemaining int64         `json:"backupCodesRemaining"`
	PremiumLocked        bool          `json:"premiumLocked"`
	PremiumLockReason    string        `json:"premiumLockReason,omitempty"`
}

func (s *Server) status(c *gin.Context) {
	p := principalFrom(c)
	st, err := s.engine.Status(c.Request.Context(), p.AccountID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	passkeys := make([]passkeyView, 0, len(st.Passkeys))
	for _, pk := range st.Passkeys {
		passkeys = append(passkeys, passkeyView{
			ID:           pk.ID,
			FriendlyName: pk.FriendlyName,
			Transports:   pk.Transports,
			LastUsedAt:   pk.LastUsedAt,
			CreatedAt:    pk.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, statusResponse{
		MFARequired:          st.MFARequired,
		MFAEnrolled:          st.MFAEnrolled,
		MFAVerifiedAt:        st.MFAVerifiedAt,
		TOTPConfirmed:        st.TOTPConfirmed,
		TOTPPending:          st.TOTPPending,
		Passkeys:             passkeys,
		BackupCodesRemaining: st.BackupCodesRemaining,
		PremiumLocked:        st.PremiumLocked,
		PremiumLockReason:    st.PremiumLockReason,
	})
}

type deviceView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	LastSeenAt time.Time  `json:"lastSeenAt"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func toDeviceViews(devices []credential.TrustedDevice) []deviceView {
	out := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceView{
			ID:         d.ID,
			Name:       d.Name,
			LastSeenAt: d.LastSeenAt,
			RevokedAt:  d.RevokedAt,
			CreatedAt:  d.CreatedAt,
		})
	}
	return out
}

func (s *Server) listDevices(c *gin.Context) {
	p := principalFrom(c)
	devices, err := s.engine.ListTrustedDevices(c.Request.Context(), p.AccountID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": toDeviceViews(devices)})
}

type revokeDeviceRequest struct {
	DeviceID string `json:"deviceId" binding:"required"`
}

func (s *Server) revokeDevice(c *gin.Context) {
	var req revokeDeviceRequest
	if !s.bind(c, &req) {
		return
	}
	p := principalFrom(c)
	if err := s.engine.RevokeTrustedDevice(c.Request.Context(), p.AccountID, req.DeviceID); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type billingSyncRequest struct {
	TargetAccountID string `json:"targetAccountId"`
}

// billingSync defaults to the caller's own account.
func (s *Server) billingSync(c *gin.Context) {
	var req billingSyncRequest
	if c.Request.ContentLength != 0 && !s.bind(c, &req) {
		return
	}
	p := principalFrom(c)
	target := req.TargetAccountID
	if target == "" {
		target = p.AccountID
	}
	result, err := s.engine.SyncBilling(c.Request.Context(), p, target)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBillingView(result))
}

type issueOverrideRequest struct {
	TargetAccountID  string `json:"targetAccountId" binding:"required"`
	Reason           string `json:"reason" binding:"max=512"`
	ExpiresInMinutes int    `json:"expiresInMinutes" binding:"min=0,max=1440"`
}

func (s *Server) adminIssueOverride(c *gin.Context) {
	var req issueOverrideRequest
	if !s.bind(c, &req) {
		return
	}
	issued, err := s.engine.IssueOverride(c.Request.Context(), principalFrom(c), mfaauth.IssueOverrideRequest{
		TargetAccountID: req.TargetAccountID,
		Reason:          req.Reason,
		ExpiresIn:       time.Duration(req.ExpiresInMinutes) * time.Minute,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"token":            issued.Token,
		"expiresAt":        issued.ExpiresAt,
		"expiresInMinutes": int64(issued.ExpiresIn / time.Minute),
	})
}

func (s *Server) healthz(c *gin.Context) {
	checks := make(map[string]string, len(s.health))
	healthy := true
	for name, check := range s.health {
		if err := check(c.Request.Context()); err != nil {
			s.logger.Warn("health check failed", "check", name, "error", err)
			checks[name] = "down"
			healthy = false
			continue
		}
		checks[name] = "ok"
	}
	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}
