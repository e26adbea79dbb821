// Package mail sends account-lifecycle notices over SMTP. Sending is
// best-effort everywhere except the reset and verification link flows,
// where the caller surfaces failures because the message is the only way
// the token reaches the user.
package mail

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/zaidku/LHUMS/internal/config"
	"github.com/zaidku/LHUMS/internal/obs"
)

// Sender delivers mail through a single SMTP relay.
type Sender struct {
	addr string
	host string
	from string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSender builds a sender from SMTP settings. PLAIN auth is used only
// when a username is configured.
func NewSender(cfg config.MailConfig) *Sender {
	s := &Sender{
		addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		host: cfg.Host,
		from: cfg.From,
		send: smtp.SendMail,
	}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return s
}

func (s *Sender) deliver(to, subject, body string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	if err := s.send(s.addr, s.auth, s.from, []string{to}, []byte(b.String())); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	obs.LogEvent(map[string]any{"event": "mail_sent", "to": to, "subject": subject})
	return nil
}

func greeting(name string) string {
	if name == "" {
		return "Hello,"
	}
	return "Hello " + name + ","
}

// SendWelcome greets a newly registered user.
func (s *Sender) SendWelcome(name, email, username string) error {
	body := fmt.Sprintf("%s\n\nYour account %q has been created. You can now sign in.\n", greeting(name), username)
	return s.deliver(email, "Welcome to LHUMS", body)
}

// SendPasswordReset carries the single-use reset link. Failure here must
// abort the flow upstream.
func (s *Sender) SendPasswordReset(name, email, link string) error {
	body := fmt.Sprintf("%s\n\nA password reset was requested for your account. Use the link below within 24 hours:\n\n%s\n\nIf you did not request this, you can ignore this message.\n", greeting(name), link)
	return s.deliver(email, "Password reset request", body)
}

// SendPasswordChanged confirms a completed password change.
func (s *Sender) SendPasswordChanged(name, email string) error {
	body := fmt.Sprintf("%s\n\nYour password was changed. If this was not you, reset your password immediately.\n", greeting(name))
	return s.deliver(email, "Your password was changed", body)
}

// SendEmailVerification carries the single-use verification link for an
// email change. Failure here must abort the flow upstream.
func (s *Sender) SendEmailVerification(name, email, link string) error {
	body := fmt.Sprintf("%s\n\nConfirm this address for your account within 48 hours:\n\n%s\n", greeting(name), link)
	return s.deliver(email, "Verify your email address", body)
}

// SendEmailChanged notifies the previous address after a change completes.
func (s *Sender) SendEmailChanged(name, oldEmail string) error {
	body := fmt.Sprintf("%s\n\nThe email address on your account was changed. If this was not you, contact an administrator.\n", greeting(name))
	return s.deliver(oldEmail, "Your email address was changed", body)
}

// SendAccountLocked warns a user their account hit the lockout threshold.
func (s *Sender) SendAccountLocked(name, email string) error {
	body := fmt.Sprintf("%s\n\nYour account was locked after repeated failed sign-in attempts. It unlocks automatically after 30 minutes, or you can reset your password.\n", greeting(name))
	return s.deliver(email, "Account temporarily locked", body)
}
