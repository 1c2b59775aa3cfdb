package service

import (
	"fmt"
	"net/http"
	"strings"
)

// FlowError is a client-visible failure of an onboarding operation. The
// message is the full detail a caller may see; anything more specific
// (datastore errors, mail transport errors) is logged server-side only.
type FlowError struct {
	Code    string
	Message string
	Status  int
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newFlowError(code, message string, status int) *FlowError {
	return &FlowError{Code: code, Message: message, Status: status}
}

// Shared outcomes. Expired is always distinct from invalid; invalid never
// reveals which half of a credential pair mismatched.
var (
	errInviteExpired      = newFlowError("invitation_expired", "Invitation has expired.", http.StatusUnauthorized)
	errPasswordExpired    = newFlowError("credential_expired", "Password has expired.", http.StatusUnauthorized)
	errOTPExpired         = newFlowError("otp_expired", "OTP has expired.", http.StatusUnauthorized)
	errInvalidCredentials = newFlowError("invalid_credentials", "Invalid credentials", http.StatusUnauthorized)
	errInvalidOTP         = newFlowError("invalid_otp", "Invalid OTP", http.StatusUnauthorized)
	errInvalidLink        = newFlowError("invalid_link", "Invalid or expired URL.", http.StatusUnauthorized)
	errNoCredentials      = newFlowError("not_found", "No temporary credentials found or organization does not exist.", http.StatusNotFound)
)

func notificationError(message string) *FlowError {
	return newFlowError("notification_failed", message, http.StatusInternalServerError)
}

func serverError(message string) *FlowError {
	return newFlowError("server_error", message, http.StatusInternalServerError)
}

// FieldError is one validation violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every violation at once, not just the first.
// Uniqueness conflicts on domain/email are reported through the same shape.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

type fieldErrors []FieldError

func (f *fieldErrors) add(field, message string) {
	*f = append(*f, FieldError{Field: field, Message: message})
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: f}
}
