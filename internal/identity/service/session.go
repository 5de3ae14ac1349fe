package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cobaltline/identity/internal/identity/audit"
	"github.com/cobaltline/identity/internal/identity/domain"
	"github.com/cobaltline/identity/internal/identity/store"
	"github.com/cobaltline/identity/pkg/idx"
	"github.com/cobaltline/identity/pkg/slogx"
)

const (
	DefaultSessionTimeout    = 8 * time.Hour
	DefaultRememberMeTimeout = 24 * time.Hour
	DefaultMaxConcurrent     = 5

	// slidingWindow is how close to expiry a validated session must be
	// before its lifetime is extended.
	slidingWindow = 30 * time.Minute
)

// SessionService owns the session lifecycle: creation with a concurrency
// cap, validation with sliding expiration, and device trust management.
type SessionService struct {
	Store store.Store
	Audit audit.Sink

	SessionTimeout    time.Duration
	RememberMeTimeout time.Duration
	MaxConcurrent     int

	// Now overrides the clock for tests. Nil means time.Now.
	Now func() time.Time
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SessionService) sessionTimeout(rememberMe bool) time.Duration {
	if rememberMe {
		if s.RememberMeTimeout > 0 {
			return s.RememberMeTimeout
		}
		return DefaultRememberMeTimeout
	}
	if s.SessionTimeout > 0 {
		return s.SessionTimeout
	}
	return DefaultSessionTimeout
}

func (s *SessionService) maxConcurrent() int {
	if s.MaxConcurrent > 0 {
		return s.MaxConcurrent
	}
	return DefaultMaxConcurrent
}

func (s *SessionService) emit(ctx context.Context, e audit.Event) {
	if s.Audit == nil {
		return
	}
	e.Timestamp = s.now()
	s.Audit.Emit(ctx, e)
}

// Create starts a session for an authenticated user. When the user is at
// their concurrent-session limit the least recently accessed sessions are
// revoked in the same transaction that inserts the new one.
func (s *SessionService) Create(ctx context.Context, userID string, client domain.ClientInfo, rememberMe bool) (domain.Session, error) {
	now := s.now()

	if client.Fingerprint != "" {
		device, err := s.Store.Devices().GetDevice(ctx, userID, client.Fingerprint)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.Session{}, err
		}
		if err == nil && device.Blocked {
			s.emit(ctx, audit.Event{
				Action:        "session_created",
				UserID:        userID,
				IP:            client.IPAddress,
				Success:       false,
				FailureReason: "device blocked",
				Severity:      audit.SeverityWarning,
				Details:       map[string]string{"fingerprint": client.Fingerprint},
			})
			return domain.Session{}, ErrDeviceBlocked
		}
	}

	session := domain.Session{
		ID:                idx.New().String(),
		UserID:            userID,
		DeviceFingerprint: client.Fingerprint,
		IPAddress:         client.IPAddress,
		UserAgent:         client.UserAgent,
		DeviceType:        classifyDeviceType(client.UserAgent),
		RememberMe:        rememberMe,
		CreatedAt:         now,
		LastAccessedAt:    now,
		ExpiresAt:         now.Add(s.sessionTimeout(rememberMe)),
	}

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if client.Fingerprint != "" {
			if err := tx.Devices().UpsertDeviceSeen(ctx, userID, client.Fingerprint, now); err != nil {
				return err
			}
		}

		// The cap counts live sessions only; rows that expired but were
		// never touched again do not hold a slot.
		active, err := tx.Sessions().CountActiveSessions(ctx, userID, now)
		if err != nil {
			return err
		}
		if active >= s.maxConcurrent() {
			lru, err := tx.Sessions().ListActiveSessions(ctx, userID)
			if err != nil {
				return err
			}

			// Evict least recently accessed live sessions until under the cap.
			over := active - s.maxConcurrent() + 1
			for _, old := range lru {
				if over == 0 {
					break
				}
				if !old.ExpiresAt.After(now) {
					continue
				}
				if _, err := tx.Sessions().RevokeSession(ctx, old.ID, domain.SessionReasonLimitExceeded); err != nil {
					return err
				}
				over--
			}
		}

		return tx.Sessions().CreateSession(ctx, session)
	})
	if err != nil {
		return domain.Session{}, err
	}

	s.emit(ctx, audit.Event{
		Action:    "session_created",
		UserID:    userID,
		SessionID: session.ID,
		IP:        client.IPAddress,
		Success:   true,
		Severity:  audit.SeverityInfo,
		Details:   map[string]string{"device_type": session.DeviceType},
	})

	return session, nil
}

// Validate checks a session on each authenticated request. Expiry is
// enforced lazily, client mismatches flag the session as suspicious, and
// sessions close to expiry get their window extended.
func (s *SessionService) Validate(ctx context.Context, sessionID, ip, userAgent string) (domain.Session, error) {
	now := s.now()
	l := slogx.FromContext(ctx)

	session, err := s.Store.Sessions().GetSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Session{}, ErrSessionNotFound
		}
		return domain.Session{}, err
	}

	if session.Revoked {
		return domain.Session{}, ErrSessionRevoked
	}

	if session.Expired(now) {
		if _, err := s.Store.Sessions().RevokeSession(ctx, session.ID, domain.SessionReasonExpired); err != nil {
			l.Error("failed to revoke expired session", "session_id", session.ID, "error", err)
		}
		return domain.Session{}, ErrSessionExpired
	}

	if !session.Suspicious && (session.IPAddress != ip || session.UserAgent != userAgent) {
		if err := s.Store.Sessions().MarkSessionSuspicious(ctx, session.ID); err != nil {
			return domain.Session{}, err
		}
		session.Suspicious = true
		s.emit(ctx, audit.Event{
			Action:        "session_suspicious",
			UserID:        session.UserID,
			SessionID:     session.ID,
			IP:            ip,
			Success:       false,
			FailureReason: "client fingerprint changed mid-session",
			Severity:      audit.SeverityWarning,
		})
	}

	expiresAt := session.ExpiresAt
	if expiresAt.Sub(now) < slidingWindow {
		expiresAt = now.Add(s.sessionTimeout(session.RememberMe))
	}
	if err := s.Store.Sessions().TouchSession(ctx, session.ID, now, expiresAt); err != nil {
		// The touch only updates rows that are still live. Losing the row
		// here means the session was revoked between the read and the
		// touch, typically by housekeeping.
		if errors.Is(err, store.ErrNotFound) {
			return domain.Session{}, ErrSessionRevoked
		}
		return domain.Session{}, err
	}
	session.LastAccessedAt = now
	session.ExpiresAt = expiresAt

	return session, nil
}

// Terminate revokes a single session. Terminating an already revoked or
// unknown session reports false with no error.
func (s *SessionService) Terminate(ctx context.Context, sessionID, reason string) (bool, error) {
	if reason == "" {
		reason = domain.SessionReasonLogout
	}

	session, err := s.Store.Sessions().GetSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	revoked, err := s.Store.Sessions().RevokeSession(ctx, sessionID, reason)
	if err != nil {
		return false, err
	}
	if revoked {
		s.emit(ctx, audit.Event{
			Action:    "session_terminated",
			UserID:    session.UserID,
			SessionID: sessionID,
			Success:   true,
			Severity:  audit.SeverityInfo,
			Details:   map[string]string{"reason": reason},
		})
	}
	return revoked, nil
}

// TerminateOthers revokes every active session except keepID. Used by the
// "sign out everywhere else" flow.
func (s *SessionService) TerminateOthers(ctx context.Context, userID, keepID string) (int, error) {
	n, err := s.Store.Sessions().RevokeUserSessions(ctx, userID, keepID, domain.SessionReasonLogout)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.emit(ctx, audit.Event{
			Action:    "sessions_terminated_others",
			UserID:    userID,
			SessionID: keepID,
			Success:   true,
			Severity:  audit.SeverityInfo,
		})
	}
	return n, nil
}

// TerminateAll revokes every active session the user holds.
func (s *SessionService) TerminateAll(ctx context.Context, userID, reason string) (int, error) {
	if reason == "" {
		reason = domain.SessionReasonLogout
	}
	n, err := s.Store.Sessions().RevokeUserSessions(ctx, userID, "", reason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.emit(ctx, audit.Event{
			Action:   "sessions_terminated_all",
			UserID:   userID,
			Success:  true,
			Severity: audit.SeverityWarning,
			Details:  map[string]string{"reason": reason},
		})
	}
	return n, nil
}

// ListActive returns the user's live sessions, least recently used first.
func (s *SessionService) ListActive(ctx context.Context, userID string) ([]domain.Session, error) {
	now := s.now()

	sessions, err := s.Store.Sessions().ListActiveSessions(ctx, userID)
	if err != nil {
		return nil, err
	}

	live := sessions[:0]
	for _, session := range sessions {
		if session.Active(now) {
			live = append(live, session)
		}
	}
	return live, nil
}

// TrustDevice marks a fingerprint as belonging to the user.
func (s *SessionService) TrustDevice(ctx context.Context, userID, fingerprint string) error {
	if err := s.Store.Devices().SetDeviceTrusted(ctx, userID, fingerprint, true); err != nil {
		return err
	}
	s.emit(ctx, audit.Event{
		Action:   "device_trusted",
		UserID:   userID,
		Success:  true,
		Severity: audit.SeverityInfo,
		Details:  map[string]string{"fingerprint": fingerprint},
	})
	return nil
}

// BlockDevice blocks a fingerprint and cascades: every active session bound
// to it is revoked and the user's refresh tokens are invalidated, all in one
// transaction.
func (s *SessionService) BlockDevice(ctx context.Context, userID, fingerprint string) error {
	now := s.now()

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Devices().SetDeviceBlocked(ctx, userID, fingerprint, true); err != nil {
			return err
		}
		if _, err := tx.Sessions().RevokeSessionsByFingerprint(ctx, userID, fingerprint, domain.SessionReasonDeviceBlocked); err != nil {
			return err
		}
		return tx.RefreshTokens().RevokeAllUserRefreshTokens(ctx, userID, now, "", domain.SessionReasonDeviceBlocked)
	})
	if err != nil {
		return err
	}

	s.emit(ctx, audit.Event{
		Action:   "device_blocked",
		UserID:   userID,
		Success:  true,
		Severity: audit.SeverityCritical,
		Details:  map[string]string{"fingerprint": fingerprint},
	})
	return nil
}

// MarkMFAVerified stamps the session with the time of a completed MFA
// challenge.
func (s *SessionService) MarkMFAVerified(ctx context.Context, sessionID string) error {
	return s.Store.Sessions().UpdateLastMFAVerification(ctx, sessionID, s.now())
}

// classifyDeviceType buckets a user agent into a coarse device class for
// display in session lists.
func classifyDeviceType(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return "unknown"
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		return "mobile"
	case strings.Contains(ua, "curl") || strings.Contains(ua, "wget") || strings.Contains(ua, "python") || strings.Contains(ua, "go-http-client"):
		return "api_client"
	default:
		return "desktop"
	}
}
