// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package email

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"codeberg.org/oliverandrich/account-service/internal/i18n"
)

// DefaultTimeout bounds a single delivery when none is configured.
const DefaultTimeout = 10 * time.Second

// ErrInvalidBaseURL is returned when links cannot be built from the base URL.
var ErrInvalidBaseURL = errors.New("invalid base URL")

// Sender delivers one plain text message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Observer receives the duration and outcome of every delivery.
type Observer func(kind, outcome string, d time.Duration)

// Service renders the account emails and hands them to a Sender.
type Service struct {
	sender  Sender
	observe Observer
	baseURL string
	timeout time.Duration
}

// NewService creates a new email service. Links in messages point at baseURL.
func NewService(sender Sender, baseURL string, timeout time.Duration, observe Observer) (*Service, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Service{
		sender:  sender,
		observe: observe,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: timeout,
	}, nil
}

// VerificationURL builds the link that confirms an email address.
func (s *Service) VerificationURL(token string) string {
	return s.baseURL + "/api/v1/users/verify/" + url.PathEscape(token)
}

// ResetURL builds the link that leads to the password reset.
func (s *Service) ResetURL(token string) string {
	return s.baseURL + "/api/v1/users/reset-password/" + url.PathEscape(token)
}

// SendVerification sends a verification email with the given token.
func (s *Service) SendVerification(ctx context.Context, toEmail, name, token string) error {
	subject := i18n.T(ctx, "email_verification_subject")
	body := i18n.TData(ctx, "email_verification_body", map[string]any{
		"Name":      name,
		"VerifyURL": s.VerificationURL(token),
	})

	return s.send(ctx, "verification", toEmail, subject, body)
}

// SendPasswordReset sends a password reset email. validFor is shown to the
// user as the lifetime of the link.
func (s *Service) SendPasswordReset(ctx context.Context, toEmail, name, token string, validFor time.Duration) error {
	subject := i18n.T(ctx, "email_reset_subject")
	body := i18n.TData(ctx, "email_reset_body", map[string]any{
		"Name":     name,
		"ResetURL": s.ResetURL(token),
		"Minutes":  int(validFor.Round(time.Minute) / time.Minute),
	})

	return s.send(ctx, "password_reset", toEmail, subject, body)
}

func (s *Service) send(ctx context.Context, kind, to, subject, body string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := s.sender.Send(ctx, to, subject, body)

	if s.observe != nil {
		outcome := "sent"
		if err != nil {
			outcome = "failed"
		}
		s.observe(kind, outcome, time.Since(start))
	}

	if err != nil {
		return fmt.Errorf("failed to send %s email: %w", kind, err)
	}
	return nil
}
