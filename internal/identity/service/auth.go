package service

import (
	"context"
	"errors"
	"time"

	"github.com/cobaltline/identity/internal/identity/audit"
	"github.com/cobaltline/identity/internal/identity/domain"
	"github.com/cobaltline/identity/internal/identity/store"
	"github.com/cobaltline/identity/internal/identity/throttle"
	"github.com/cobaltline/identity/pkg/cryptox"
	"github.com/cobaltline/identity/pkg/slogx"
)

// LoginResult bundles everything a successful login produces.
type LoginResult struct {
	User    domain.User
	Session domain.Session
	Tokens  domain.TokenPair
}

// AuthService orchestrates the login flow: throttle, credentials, MFA
// challenge, session creation, and token issuance.
type AuthService struct {
	Store    store.Store
	Tokens   *TokenService
	Sessions *SessionService
	MFA      *MFAService
	Throttle *throttle.LoginThrottle
	Audit    audit.Sink

	// Now overrides the clock for tests. Nil means time.Now.
	Now func() time.Time
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *AuthService) emit(ctx context.Context, e audit.Event) {
	if s.Audit == nil {
		return
	}
	e.Timestamp = s.now()
	s.Audit.Emit(ctx, e)
}

// Login authenticates a user end to end. Unknown usernames burn the same
// hashing work as wrong passwords so the two are indistinguishable by
// timing, and both surface as ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, username, password, mfaCode string, client domain.ClientInfo, rememberMe bool) (LoginResult, error) {
	l := slogx.FromContext(ctx)

	if err := s.Throttle.Check(ctx, username, client.IPAddress); err != nil {
		if errors.Is(err, throttle.ErrTooManyAttempts) {
			s.emit(ctx, audit.Event{
				Action:        "login",
				IP:            client.IPAddress,
				Success:       false,
				FailureReason: "throttled",
				Severity:      audit.SeverityWarning,
				Details:       map[string]string{"username": username},
			})
			return LoginResult{}, ErrTooManyAttempts
		}
		// A throttle backend outage must not take down login.
		l.Warn("login throttle unavailable", "error", err)
	}

	user, err := s.Store.Users().GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			cryptox.DummyVerify(password)
			return LoginResult{}, s.failLogin(ctx, username, "", client.IPAddress, "unknown user")
		}
		return LoginResult{}, err
	}

	cred, err := s.Store.Credentials().GetCredential(ctx, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			cryptox.DummyVerify(password)
			return LoginResult{}, s.failLogin(ctx, username, user.ID, client.IPAddress, "no credential")
		}
		return LoginResult{}, err
	}

	if err := cryptox.VerifyPassword(password, cred.PasswordHash); err != nil {
		return LoginResult{}, s.failLogin(ctx, username, user.ID, client.IPAddress, "wrong password")
	}

	if !user.Active {
		s.emit(ctx, audit.Event{
			Action:        "login",
			UserID:        user.ID,
			IP:            client.IPAddress,
			Success:       false,
			FailureReason: "account disabled",
			Severity:      audit.SeverityWarning,
		})
		return LoginResult{}, ErrAccountDisabled
	}

	// A verified legacy hash is upgraded in place so the weak digest never
	// has to be consulted again.
	if cryptox.NeedsRehash(cred.PasswordHash) {
		if upgraded, err := cryptox.HashPassword(password); err == nil {
			err := s.Store.Credentials().UpsertCredential(ctx, domain.Credential{
				UserID:       user.ID,
				PasswordHash: upgraded,
				UpdatedAt:    s.now(),
			})
			if err != nil {
				l.Error("failed to upgrade legacy password hash", "user_id", user.ID, "error", err)
			} else {
				l.Info("upgraded legacy password hash", "user_id", user.ID)
			}
		}
	}

	mfaEnabled, err := s.MFA.EnabledFor(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	if mfaEnabled {
		if mfaCode == "" {
			return LoginResult{}, ErrMFARequired
		}
		if err := s.MFA.VerifyCode(ctx, user.ID, mfaCode); err != nil {
			if errors.Is(err, ErrInvalidMFACode) {
				if terr := s.Throttle.RecordFailure(ctx, username, client.IPAddress); terr != nil {
					l.Warn("failed to record login failure", "error", terr)
				}
			}
			return LoginResult{}, err
		}
	}

	if err := s.Throttle.Reset(ctx, username, client.IPAddress); err != nil {
		l.Warn("failed to reset login throttle", "error", err)
	}

	session, err := s.Sessions.Create(ctx, user.ID, client, rememberMe)
	if err != nil {
		return LoginResult{}, err
	}

	if mfaEnabled {
		if err := s.Sessions.MarkMFAVerified(ctx, session.ID); err != nil {
			l.Error("failed to stamp MFA verification", "session_id", session.ID, "error", err)
		} else {
			now := s.now()
			session.LastMFAVerification = &now
		}
	}

	tokens, err := s.Tokens.IssuePair(ctx, user, session.ID, client.IPAddress)
	if err != nil {
		return LoginResult{}, err
	}

	s.emit(ctx, audit.Event{
		Action:    "login",
		UserID:    user.ID,
		SessionID: session.ID,
		IP:        client.IPAddress,
		Success:   true,
		Severity:  audit.SeverityInfo,
		Details:   map[string]string{"mfa": boolString(mfaEnabled)},
	})

	return LoginResult{User: user, Session: session, Tokens: tokens}, nil
}

// failLogin records a failed attempt against the throttle, audits it, and
// returns the uniform credential error.
func (s *AuthService) failLogin(ctx context.Context, username, userID, ip, reason string) error {
	l := slogx.FromContext(ctx)

	if err := s.Throttle.RecordFailure(ctx, username, ip); err != nil {
		l.Warn("failed to record login failure", "error", err)
	}

	s.emit(ctx, audit.Event{
		Action:        "login",
		UserID:        userID,
		IP:            ip,
		Success:       false,
		FailureReason: reason,
		Severity:      audit.SeverityWarning,
		Details:       map[string]string{"username": username},
	})

	return ErrInvalidCredentials
}

// Logout revokes the presented refresh token and terminates its session.
// Both halves are idempotent; logging out twice is not an error.
func (s *AuthService) Logout(ctx context.Context, refreshToken, sessionID, ip string) error {
	if refreshToken != "" {
		if _, err := s.Tokens.Revoke(ctx, refreshToken, ip, "Logout"); err != nil {
			return err
		}
	}
	if sessionID != "" {
		if _, err := s.Sessions.Terminate(ctx, sessionID, domain.SessionReasonLogout); err != nil {
			return err
		}
	}
	return nil
}

// ChangePassword verifies the current password, stores a new argon2id hash,
// and revokes every other session and refresh token the user holds.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, keepSessionID, ip string) error {
	cred, err := s.Store.Credentials().GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if err := cryptox.VerifyPassword(currentPassword, cred.PasswordHash); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return err
	}
	err = s.Store.Credentials().UpsertCredential(ctx, domain.Credential{
		UserID:       userID,
		PasswordHash: hash,
		UpdatedAt:    s.now(),
	})
	if err != nil {
		return err
	}

	if err := s.Tokens.RevokeAllForUser(ctx, userID, ip, "Password changed"); err != nil {
		return err
	}
	if _, err := s.Sessions.TerminateOthers(ctx, userID, keepSessionID); err != nil {
		return err
	}

	s.emit(ctx, audit.Event{
		Action:   "password_changed",
		UserID:   userID,
		IP:       ip,
		Success:  true,
		Severity: audit.SeverityWarning,
	})
	return nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
