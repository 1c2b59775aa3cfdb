// Package mail is the outbound notification collaborator. The onboarding
// flow sends two messages: the organization invitation and the OTP notice.
package mail

import (
	"context"
	"fmt"
	"strings"
	"text/template"
)

// Mailer delivers a rendered message to a single recipient.
type Mailer interface {
	Send(ctx context.Context, to string, msg Message) error
}

// Message is a rendered outbound mail.
type Message struct {
	Subject string
	Body    string
}

var (
	invitationTmpl = template.Must(template.New("invitation").Parse(
		`Hi {{.AdminName}},

Your organization has been created. Sign in with the temporary password
below within the next hour:

    {{.TemporaryPassword}}

Follow this link to continue onboarding:

    {{.InviteURL}}
`))

	otpTmpl = template.Must(template.New("otp").Parse(
		`Your one-time verification code is {{.Code}}.

The code expires in one hour. If you did not request it, ignore this mail.
`))
)

// Invitation renders the organization-invite message.
func Invitation(inviteURL, temporaryPassword, adminName string) (Message, error) {
	var b strings.Builder
	err := invitationTmpl.Execute(&b, map[string]string{
		"AdminName":         adminName,
		"TemporaryPassword": temporaryPassword,
		"InviteURL":         inviteURL,
	})
	if err != nil {
		return Message{}, fmt.Errorf("render invitation: %w", err)
	}
	return Message{Subject: "You have been invited", Body: b.String()}, nil
}

// OTPNotice renders the verification-code message.
func OTPNotice(code int64) (Message, error) {
	var b strings.Builder
	if err := otpTmpl.Execute(&b, map[string]int64{"Code": code}); err != nil {
		return Message{}, fmt.Errorf("render otp notice: %w", err)
	}
	return Message{Subject: "Your verification code", Body: b.String()}, nil
}
