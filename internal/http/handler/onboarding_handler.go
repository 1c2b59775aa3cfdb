package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/valora-onboarding/internal/service"
)

// OnboardingHandler exposes the invite and temporary-login endpoints.
type OnboardingHandler struct {
	Onboarding *service.OnboardingService
	Login      *service.LoginService
}

// NewOnboardingHandler creates the handler set.
func NewOnboardingHandler(onboarding *service.OnboardingService, login *service.LoginService) *OnboardingHandler {
	return &OnboardingHandler{Onboarding: onboarding, Login: login}
}

// Invite provisions a new organization from its obfuscated invite fields.
func (h *OnboardingHandler) Invite(c *gin.Context) {
	var req struct {
		Name        string `json:"name"`
		DomainName  string `json:"domain_name"`
		AdminName   string `json:"admin_name"`
		AdminEmail  string `json:"admin_email"`
		LoginType   string `json:"login_type"`
		SSOProvider string `json:"sso_provider"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": "Invalid payload."})
		return
	}

	org, err := h.Onboarding.Invite(c.Request.Context(), service.InviteRequest{
		Name:        req.Name,
		DomainName:  req.DomainName,
		AdminName:   req.AdminName,
		AdminEmail:  req.AdminEmail,
		LoginType:   req.LoginType,
		SSOProvider: req.SSOProvider,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Organization created successfully",
		"data": gin.H{
			"id":          org.ID,
			"name":        org.Name,
			"domain_name": org.DomainName,
		},
	})
}

// Organizations lists every organization with its users.
func (h *OnboardingHandler) Organizations(c *gin.Context) {
	summaries, err := h.Onboarding.Organizations(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": summaries})
}

// ValidateInvite checks a presented invite link.
func (h *OnboardingHandler) ValidateInvite(c *gin.Context) {
	err := h.Onboarding.ValidateInvite(
		c.Request.Context(),
		c.Query("domain"),
		c.Query("expires"),
		c.Query("signature"),
	)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Valid"})
}

// TemporaryLogin exchanges the temporary password for an OTP challenge.
func (h *OnboardingHandler) TemporaryLogin(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": "Invalid payload."})
		return
	}

	if err := h.Login.TemporaryLogin(c.Request.Context(), req.Email, req.Password); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "OTP sent successfully"})
}

// ResendOTP re-dispatches the pending challenge code.
func (h *OnboardingHandler) ResendOTP(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": "Invalid payload."})
		return
	}

	if err := h.Login.ResendOTP(c.Request.Context(), req.Email); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "OTP sent successfully"})
}

// VerifyOTP consumes the pending challenge.
func (h *OnboardingHandler) VerifyOTP(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
		OTP   int64  `json:"otp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": "Invalid payload."})
		return
	}

	result, err := h.Login.VerifyOTP(c.Request.Context(), req.Email, req.OTP)
	if err != nil {
		respondError(c, err)
		return
	}
	if result.AlreadyVerified {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "OTP already verified"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": result.OrganizationID})
}

func respondError(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "errors": validationErr.Fields})
		return
	}
	var flowErr *service.FlowError
	if errors.As(err, &flowErr) {
		c.JSON(flowErr.Status, gin.H{"success": false, "message": flowErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Unexpected error. Please try again later."})
}
