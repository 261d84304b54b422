package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/session"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/validator"
)

// SessionStatus describes the session without exposing tokens.
type SessionStatus struct {
	State     session.State `json:"state"`
	LoggedIn  bool          `json:"logged_in"`
	SessionID string        `json:"session_id,omitempty"`
	TokenType string        `json:"token_type,omitempty"`
}

const sessionExpiredMessage = "Your session has expired, please log in again"

// Login authenticates against the backend and starts a session.
func (s *Storefront) Login(ctx context.Context, creds domain.Credentials) (SessionStatus, error) {
	if err := validator.Validate(creds); err != nil {
		return SessionStatus{}, err
	}

	pair, err := s.backend.Login(ctx, creds.Username, creds.Password)
	if err != nil {
		if errors.Is(err, apperrors.ErrUnauthorized) || errors.Is(err, apperrors.ErrInvalidInput) {
			loginsTotal.WithLabelValues("rejected").Inc()
			s.logger.InfoContext(ctx, "login rejected", slog.String("username", creds.Username))
			return SessionStatus{}, unauthorized("Login failed", err)
		}
		loginsTotal.WithLabelValues("error").Inc()
		return SessionStatus{}, fmt.Errorf("login: %w", err)
	}

	if err := s.sessions.Login(ctx, pair); err != nil {
		loginsTotal.WithLabelValues("error").Inc()
		return SessionStatus{}, err
	}
	loginsTotal.WithLabelValues("success").Inc()
	return s.SessionStatus(), nil
}

// Register creates an account. It does not log in.
func (s *Storefront) Register(ctx context.Context, reg domain.Registration) (domain.User, error) {
	if err := validator.Validate(reg); err != nil {
		return domain.User{}, err
	}
	user, err := s.backend.Register(ctx, reg)
	if err != nil {
		return domain.User{}, fmt.Errorf("register: %w", err)
	}
	s.logger.InfoContext(ctx, "account registered", slog.String("username", user.Username))
	return user, nil
}

// Logout ends the session. It is safe to call when already logged out.
func (s *Storefront) Logout(ctx context.Context) SessionStatus {
	s.sessions.Logout(ctx)
	return s.SessionStatus()
}

// Refresh renews the access token now.
func (s *Storefront) Refresh(ctx context.Context) (SessionStatus, error) {
	if s.sessions.State() == session.LoggedOut {
		return SessionStatus{}, apperrors.Unauthorized("You are not logged in")
	}
	if _, err := s.sessions.RefreshAccessToken(ctx); err != nil {
		return SessionStatus{}, sessionError(err)
	}
	return s.SessionStatus(), nil
}

// SessionStatus reports the current session.
func (s *Storefront) SessionStatus() SessionStatus {
	st := s.sessions.State()
	return SessionStatus{
		State:     st,
		LoggedIn:  st != session.LoggedOut,
		SessionID: s.sessions.SessionID(),
		TokenType: s.sessions.TokenType(),
	}
}

// CurrentUser fetches the profile of the logged in user. A rejected token is
// renewed once and the call retried.
func (s *Storefront) CurrentUser(ctx context.Context) (domain.User, error) {
	token := s.sessions.Token()
	if token == "" {
		return domain.User{}, apperrors.Unauthorized("You are not logged in")
	}

	user, err := s.backend.Me(ctx, token)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, apperrors.ErrUnauthorized) {
		return domain.User{}, fmt.Errorf("fetch profile: %w", err)
	}

	s.logger.InfoContext(ctx, "access token rejected, refreshing")
	token, err = s.sessions.RefreshAccessToken(ctx)
	if err != nil {
		return domain.User{}, sessionError(err)
	}
	user, err = s.backend.Me(ctx, token)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch profile: %w", err)
	}
	return user, nil
}

// sessionError maps a failed renewal to what the shopper sees. A renewal that
// failed or was overtaken by a logout means the session is gone.
func sessionError(err error) error {
	if errors.Is(err, session.ErrRefreshFailed) || errors.Is(err, session.ErrSessionEnded) {
		return unauthorized(sessionExpiredMessage, err)
	}
	return err
}

// unauthorized is a 401 with a fixed display message that keeps cause for logs.
func unauthorized(message string, cause error) *apperrors.AppError {
	return apperrors.UnauthorizedCause(message, cause)
}
