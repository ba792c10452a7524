// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth implements the account workflows: registration, email
// verification, login, password reset and profile lookup.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"codeberg.org/oliverandrich/account-service/internal/config"
	"codeberg.org/oliverandrich/account-service/internal/models"
	"codeberg.org/oliverandrich/account-service/internal/repository"
	"codeberg.org/oliverandrich/account-service/internal/services/password"
	"codeberg.org/oliverandrich/account-service/internal/services/session"
	"codeberg.org/oliverandrich/account-service/internal/services/token"
)

// Mailer delivers the account emails.
type Mailer interface {
	SendVerification(ctx context.Context, toEmail, name, token string) error
	SendPasswordReset(ctx context.Context, toEmail, name, token string, validFor time.Duration) error
}

// Recorder counts workflow outcomes.
type Recorder interface {
	RecordWorkflow(workflow, outcome string)
}

// Service runs the account workflows. All dependencies are created once at
// startup and shared between requests.
type Service struct {
	repo     *repository.Repository
	hasher   *password.Hasher
	policy   *password.Policy
	sessions *session.Manager
	mailer   Mailer
	recorder Recorder
	config   *config.AuthConfig
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder reports workflow outcomes, e.g. to prometheus.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(
	repo *repository.Repository,
	hasher *password.Hasher,
	sessions *session.Manager,
	mailer Mailer,
	cfg *config.AuthConfig,
	opts ...Option,
) *Service {
	// Without --password-policy only the bcrypt length limit applies.
	policy := &password.Policy{}
	if cfg.PasswordPolicy {
		policy = password.DefaultPolicy()
		if cfg.MinPasswordLength > 0 {
			policy.MinLength = cfg.MinPasswordLength
		}
	}

	s := &Service{
		repo:     repo,
		hasher:   hasher,
		policy:   policy,
		sessions: sessions,
		mailer:   mailer,
		config:   cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the password policy for use in handlers
func (s *Service) Policy() *password.Policy {
	return s.policy
}

// RegisterParams holds the parameters for user registration
type RegisterParams struct {
	Name     string
	Email    string
	Password string
}

// Register creates an unverified account and mails the verification link.
// If the mail cannot be delivered the account stays, the error wraps
// ErrMailDelivery and ResendVerification can be used to retry.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*models.User, error) {
	name := strings.TrimSpace(params.Name)
	email := models.NormalizeEmail(params.Email)
	if name == "" || email == "" || params.Password == "" {
		s.record("register", "missing_fields")
		return nil, ErrMissingFields
	}

	if !validEmail(email) {
		s.record("register", "invalid_email")
		return nil, ErrInvalidEmail
	}

	if err := s.policy.Validate(params.Password, name, email); err != nil {
		s.record("register", "weak_password")
		return nil, err
	}

	// Check if user already exists
	_, err := s.repo.GetUserByEmail(ctx, email)
	if err == nil {
		s.record("register", "duplicate")
		return nil, ErrEmailAlreadyRegistered
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	plain, digest, err := token.New()
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Name:              name,
		Email:             email,
		Role:              models.RoleUser,
		VerificationToken: &digest,
	}
	user.SetPassword(params.Password)

	if err := s.repo.CreateUser(ctx, user); err != nil {
		// Lost a race against a concurrent registration
		if errors.Is(err, repository.ErrDuplicateEmail) {
			s.record("register", "duplicate")
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if err := s.mailer.SendVerification(ctx, user.Email, user.Name, plain); err != nil {
		slog.Error("register_mail_failed", "user_id", user.ID, "error", err)
		s.record("register", "mail_failed")
		return nil, fmt.Errorf("%w: %w", ErrMailDelivery, err)
	}

	slog.Info("register_success", "user_id", user.ID)
	s.record("register", "success")

	return user, nil
}

// Verify redeems a verification token. A token works exactly once.
func (s *Service) Verify(ctx context.Context, plain string) (*models.User, error) {
	if plain == "" {
		s.record("verify", "missing_token")
		return nil, ErrMissingToken
	}

	if !token.Valid(plain) {
		s.record("verify", "invalid_token")
		return nil, ErrInvalidOrExpiredToken
	}

	digest := token.Digest(plain)
	user, err := s.repo.GetUserByVerificationToken(ctx, digest)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.record("verify", "invalid_token")
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, fmt.Errorf("failed to look up verification token: %w", err)
	}

	if err := s.repo.MarkVerified(ctx, user, digest); err != nil {
		if errors.Is(err, repository.ErrTokenMismatch) {
			s.record("verify", "invalid_token")
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, fmt.Errorf("failed to verify user: %w", err)
	}

	slog.Info("verify_success", "user_id", user.ID)
	s.record("verify", "success")
	return user, nil
}

// LoginResult is a successful login: the user and a signed session token.
type LoginResult struct {
	User      *models.User
	Token     string
	ExpiresAt time.Time
}

// Login authenticates a user and issues a session token. Unknown emails and
// wrong passwords fail identically with ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, plain string) (*LoginResult, error) {
	email = models.NormalizeEmail(email)
	if email == "" || plain == "" {
		s.record("login", "missing_credentials")
		return nil, ErrMissingCredentials
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Constant-time: always perform bcrypt comparison to prevent timing attacks
			s.hasher.CompareDummy(ctx, plain)
			slog.Warn("login_failed", "reason", "user_not_found")
			s.record("login", "invalid_credentials")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !s.hasher.Compare(ctx, user.PasswordHash, plain) {
		slog.Warn("login_failed", "user_id", user.ID, "reason", "invalid_password")
		s.record("login", "invalid_credentials")
		return nil, ErrInvalidCredentials
	}

	signed, expires, err := s.sessions.Issue(user.ID, user.Role)
	if err != nil {
		return nil, err
	}

	slog.Info("login_success", "user_id", user.ID)
	s.record("login", "success")
	return &LoginResult{User: user, Token: signed, ExpiresAt: expires}, nil
}

// CurrentUser loads the profile behind a session.
func (s *Service) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.record("me", "not_found")
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	s.record("me", "success")
	return user, nil
}

// Logout ends a session. Sessions live only in the client's cookie, so
// there is nothing to revoke server side and the call always succeeds.
func (s *Service) Logout(_ context.Context, userID string) {
	if userID != "" {
		slog.Info("logout", "user_id", userID)
	}
	s.record("logout", "success")
}

// ForgotPassword stores a fresh reset token and mails the reset link. A new
// request replaces any earlier token.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)
	if email == "" {
		s.record("forgot_password", "missing_email")
		return ErrMissingEmail
	}

	user, err := s.lookupForMail(ctx, "forgot_password", email)
	if err != nil || user == nil {
		return err
	}

	plain, digest, err := token.New()
	if err != nil {
		return err
	}
	expires := s.now().Add(s.resetTTL())
	if err := s.repo.SetResetToken(ctx, user, digest, expires); err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}

	if err := s.mailer.SendPasswordReset(ctx, user.Email, user.Name, plain, s.resetTTL()); err != nil {
		slog.Error("forgot_password_mail_failed", "user_id", user.ID, "error", err)
		s.record("forgot_password", "mail_failed")
		return fmt.Errorf("%w: %w", ErrMailDelivery, err)
	}

	slog.Info("forgot_password_sent", "user_id", user.ID)
	s.record("forgot_password", "success")
	return nil
}

// ResetPassword redeems a reset token and sets a new password. A token works
// exactly once and only before it expires.
func (s *Service) ResetPassword(ctx context.Context, plain, newPassword string) error {
	if plain == "" || newPassword == "" {
		s.record("reset_password", "missing_fields")
		return ErrMissingFields
	}

	if !token.Valid(plain) {
		s.record("reset_password", "invalid_token")
		return ErrInvalidOrExpiredToken
	}

	now := s.now()
	digest := token.Digest(plain)
	user, err := s.repo.GetUserByActiveResetToken(ctx, digest, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.record("reset_password", "invalid_token")
			return ErrInvalidOrExpiredToken
		}
		return fmt.Errorf("failed to look up reset token: %w", err)
	}

	if err := s.policy.Validate(newPassword, user.Name, user.Email); err != nil {
		s.record("reset_password", "weak_password")
		return err
	}

	user.SetPassword(newPassword)
	if err := s.repo.SetPasswordIfResetToken(ctx, user, digest, now); err != nil {
		if errors.Is(err, repository.ErrTokenMismatch) {
			s.record("reset_password", "invalid_token")
			return ErrInvalidOrExpiredToken
		}
		return fmt.Errorf("failed to reset password: %w", err)
	}

	slog.Info("reset_password_success", "user_id", user.ID)
	s.record("reset_password", "success")
	return nil
}

// ResendVerification issues a new verification token for an unverified
// account, replacing the previous one.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)
	if email == "" {
		s.record("resend_verification", "missing_email")
		return ErrMissingEmail
	}

	user, err := s.lookupForMail(ctx, "resend_verification", email)
	if err != nil || user == nil {
		return err
	}
	if user.IsVerified {
		s.record("resend_verification", "already_verified")
		return ErrAlreadyVerified
	}

	plain, digest, err := token.New()
	if err != nil {
		return err
	}
	if err := s.repo.SetVerificationToken(ctx, user, digest); err != nil {
		// Verified between the lookup and the write
		if errors.Is(err, repository.ErrAlreadyVerified) {
			s.record("resend_verification", "already_verified")
			return ErrAlreadyVerified
		}
		return fmt.Errorf("failed to store verification token: %w", err)
	}

	if err := s.mailer.SendVerification(ctx, user.Email, user.Name, plain); err != nil {
		slog.Error("resend_verification_mail_failed", "user_id", user.ID, "error", err)
		s.record("resend_verification", "mail_failed")
		return fmt.Errorf("%w: %w", ErrMailDelivery, err)
	}

	slog.Info("resend_verification_sent", "user_id", user.ID)
	s.record("resend_verification", "success")
	return nil
}

// PurgeExpiredResetTokens clears reset tokens that have run out.
func (s *Service) PurgeExpiredResetTokens(ctx context.Context) (int64, error) {
	return s.repo.ClearExpiredResetTokens(ctx, s.now())
}

// lookupForMail finds the user for a mail-sending workflow. With
// ConcealUnknownEmail set an unknown address yields (nil, nil) so the caller
// reports success without sending anything.
func (s *Service) lookupForMail(ctx context.Context, workflow, email string) (*models.User, error) {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	s.record(workflow, "unknown_email")
	if s.config.ConcealUnknownEmail {
		slog.Info(workflow+"_unknown_email", "concealed", true)
		return nil, nil
	}
	return nil, ErrUnknownEmail
}

func (s *Service) resetTTL() time.Duration {
	if s.config.ResetTTL > 0 {
		return s.config.ResetTTL
	}
	return 10 * time.Minute
}

func (s *Service) record(workflow, outcome string) {
	if s.recorder != nil {
		s.recorder.RecordWorkflow(workflow, outcome)
	}
}

// validEmail accepts a bare address such as "alice@example.com" and rejects
// display names and other RFC 5322 forms.
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	return at > 0 && strings.Contains(email[at+1:], ".")
}
