package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cobaltline/identity/internal/identity/audit"
	"github.com/cobaltline/identity/internal/identity/domain"
	"github.com/cobaltline/identity/internal/identity/store"
	"github.com/cobaltline/identity/pkg/cryptox"
	"github.com/cobaltline/identity/pkg/idx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	backupCodeCount  = 10
	backupCodeLength = 12

	// backupCodeAlphabet omits 0/O/1/I so codes survive being read aloud.
	backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 15 * time.Minute
)

// MFAService manages TOTP enrollment and verification. Secrets and backup
// codes are stored encrypted; plaintext leaves the service exactly once, in
// the setup response.
type MFAService struct {
	Store  store.Store
	Box    *cryptox.SecretBox
	Audit  audit.Sink
	Issuer string

	LockoutThreshold int
	LockoutDuration  time.Duration

	// Now overrides the clock for tests. Nil means time.Now.
	Now func() time.Time
}

func (s *MFAService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *MFAService) lockoutThreshold() int {
	if s.LockoutThreshold > 0 {
		return s.LockoutThreshold
	}
	return DefaultLockoutThreshold
}

func (s *MFAService) lockoutDuration() time.Duration {
	if s.LockoutDuration > 0 {
		return s.LockoutDuration
	}
	return DefaultLockoutDuration
}

func (s *MFAService) emit(ctx context.Context, e audit.Event) {
	if s.Audit == nil {
		return
	}
	e.Timestamp = s.now()
	s.Audit.Emit(ctx, e)
}

// EnabledFor reports whether the user has a completed enrollment.
func (s *MFAService) EnabledFor(ctx context.Context, userID string) (bool, error) {
	e, err := s.Store.MFA().GetEnrollment(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return e.Enabled(), nil
}

// BeginEnrollment generates a fresh TOTP secret and backup codes for a user
// without an enabled enrollment. Re-running setup while still pending
// replaces the previous secret.
func (s *MFAService) BeginEnrollment(ctx context.Context, userID string) (domain.MFASetup, error) {
	now := s.now()

	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.MFASetup{}, ErrUserNotFound
		}
		return domain.MFASetup{}, err
	}

	existing, err := s.Store.MFA().GetEnrollment(ctx, userID)
	switch {
	case err == nil && existing.Enabled():
		return domain.MFASetup{}, ErrMFAAlreadyEnabled
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return domain.MFASetup{}, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: user.Username,
		Period:      30,
		SecretSize:  20,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return domain.MFASetup{}, fmt.Errorf("generate TOTP key: %w", err)
	}

	encSecret, err := s.Box.Encrypt(key.Secret())
	if err != nil {
		return domain.MFASetup{}, fmt.Errorf("encrypt TOTP secret: %w", err)
	}

	codes := make([]string, backupCodeCount)
	for i := range codes {
		code, err := generateBackupCode()
		if err != nil {
			return domain.MFASetup{}, fmt.Errorf("generate backup code: %w", err)
		}
		codes[i] = code
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		// Restarting setup discards any previous pending enrollment.
		if err := tx.MFA().DeleteAllBackupCodes(ctx, userID); err != nil {
			return err
		}
		if err := tx.MFA().DeleteEnrollment(ctx, userID); err != nil {
			return err
		}

		enrollment := domain.MFAEnrollment{
			UserID:          userID,
			EncryptedSecret: encSecret,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.MFA().CreateEnrollment(ctx, enrollment); err != nil {
			return err
		}

		for _, code := range codes {
			encCode, err := s.Box.Encrypt(code)
			if err != nil {
				return fmt.Errorf("encrypt backup code: %w", err)
			}
			row := domain.BackupCode{
				ID:            idx.New().String(),
				UserID:        userID,
				EncryptedCode: encCode,
				CreatedAt:     now,
			}
			if err := tx.MFA().CreateBackupCode(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.MFASetup{}, err
	}

	s.emit(ctx, audit.Event{
		Action:   "mfa_enrollment_started",
		UserID:   userID,
		Success:  true,
		Severity: audit.SeverityInfo,
	})

	return domain.MFASetup{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		BackupCodes:     codes,
		Issuer:          s.Issuer,
		Account:         user.Username,
	}, nil
}

// ConfirmEnrollment proves the user captured the secret and flips the
// enrollment to enabled. A wrong code here never counts toward lockout.
func (s *MFAService) ConfirmEnrollment(ctx context.Context, userID, code string) error {
	now := s.now()

	e, err := s.Store.MFA().GetEnrollment(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMFANotEnrolled
		}
		return err
	}
	if e.Enabled() {
		return ErrMFAAlreadyEnabled
	}

	ok, err := s.validateTOTP(e, code, now)
	if err != nil {
		return err
	}
	if !ok {
		s.emit(ctx, audit.Event{
			Action:        "mfa_enrollment_confirmed",
			UserID:        userID,
			Success:       false,
			FailureReason: "invalid code",
			Severity:      audit.SeverityWarning,
		})
		return ErrInvalidMFACode
	}

	if err := s.Store.MFA().EnableEnrollment(ctx, userID, now); err != nil {
		return err
	}

	s.emit(ctx, audit.Event{
		Action:   "mfa_enrollment_confirmed",
		UserID:   userID,
		Success:  true,
		Severity: audit.SeverityInfo,
	})
	return nil
}

// VerifyTOTP checks a time-based code against an enabled enrollment,
// enforcing the failure lockout.
func (s *MFAService) VerifyTOTP(ctx context.Context, userID, code string) error {
	now := s.now()

	e, err := s.enabledEnrollment(ctx, userID, now)
	if err != nil {
		return err
	}

	ok, err := s.validateTOTP(e, code, now)
	if err != nil {
		return err
	}
	if !ok {
		return s.recordFailure(ctx, userID, e, "totp")
	}
	return s.recordSuccess(ctx, userID, e, "totp")
}

// VerifyBackupCode checks a single-use recovery code. A matched code is
// deleted in the same transaction that resets the failure counter.
func (s *MFAService) VerifyBackupCode(ctx context.Context, userID, code string) error {
	now := s.now()

	e, err := s.enabledEnrollment(ctx, userID, now)
	if err != nil {
		return err
	}

	normalized := normalizeBackupCode(code)

	rows, err := s.Store.MFA().ListBackupCodes(ctx, userID)
	if err != nil {
		return err
	}

	var matchedID string
	for _, row := range rows {
		plain, err := s.Box.Decrypt(row.EncryptedCode)
		if err != nil {
			return fmt.Errorf("decrypt backup code: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(plain), []byte(normalized)) == 1 {
			matchedID = row.ID
			break
		}
	}

	if matchedID == "" {
		return s.recordFailure(ctx, userID, e, "backup_code")
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.MFA().DeleteBackupCode(ctx, matchedID); err != nil {
			return err
		}
		return tx.MFA().UpdateAttempts(ctx, userID, 0, nil)
	})
	if err != nil {
		return err
	}

	s.emit(ctx, audit.Event{
		Action:   "mfa_verified",
		UserID:   userID,
		Success:  true,
		Severity: audit.SeverityInfo,
		Details:  map[string]string{"method": "backup_code"},
	})
	return nil
}

// VerifyCode accepts either a TOTP code or a backup code, trying TOTP first.
func (s *MFAService) VerifyCode(ctx context.Context, userID, code string) error {
	err := s.VerifyTOTP(ctx, userID, code)
	if err == nil || !errors.Is(err, ErrInvalidMFACode) {
		return err
	}
	return s.VerifyBackupCode(ctx, userID, code)
}

// Disable removes the enrollment after the user proves both their password
// and a valid second factor.
func (s *MFAService) Disable(ctx context.Context, userID, password, code string) error {
	cred, err := s.Store.Credentials().GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if err := cryptox.VerifyPassword(password, cred.PasswordHash); err != nil {
		return ErrInvalidCredentials
	}

	if err := s.VerifyCode(ctx, userID, code); err != nil {
		return err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.MFA().DeleteAllBackupCodes(ctx, userID); err != nil {
			return err
		}
		return tx.MFA().DeleteEnrollment(ctx, userID)
	})
	if err != nil {
		return err
	}

	s.emit(ctx, audit.Event{
		Action:   "mfa_disabled",
		UserID:   userID,
		Success:  true,
		Severity: audit.SeverityWarning,
	})
	return nil
}

// RemainingBackupCodes reports how many single-use codes the user still holds.
func (s *MFAService) RemainingBackupCodes(ctx context.Context, userID string) (int, error) {
	return s.Store.MFA().CountBackupCodes(ctx, userID)
}

// enabledEnrollment loads the enrollment and gates on state: it must be
// enabled and not locked. An expired lock is cleared lazily on the way in.
func (s *MFAService) enabledEnrollment(ctx context.Context, userID string, now time.Time) (domain.MFAEnrollment, error) {
	e, err := s.Store.MFA().GetEnrollment(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.MFAEnrollment{}, ErrMFANotEnrolled
		}
		return domain.MFAEnrollment{}, err
	}
	if !e.Enabled() {
		return domain.MFAEnrollment{}, ErrMFANotEnrolled
	}
	if e.Locked(now) {
		return domain.MFAEnrollment{}, ErrMFALocked
	}
	if e.LockedUntil != nil {
		// The lock has lapsed; start the attempt budget fresh.
		if err := s.Store.MFA().UpdateAttempts(ctx, userID, 0, nil); err != nil {
			return domain.MFAEnrollment{}, err
		}
		e.FailedAttempts = 0
		e.LockedUntil = nil
	}
	return e, nil
}

func (s *MFAService) validateTOTP(e domain.MFAEnrollment, code string, now time.Time) (bool, error) {
	secret, err := s.Box.Decrypt(e.EncryptedSecret)
	if err != nil {
		return false, fmt.Errorf("decrypt TOTP secret: %w", err)
	}

	ok, err := totp.ValidateCustom(strings.TrimSpace(code), secret, now, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		// ValidateCustom rejects codes of the wrong shape (backup codes,
		// stray input) with an error rather than false; both are just a
		// mismatch here.
		return false, nil
	}
	return ok, nil
}

func (s *MFAService) recordFailure(ctx context.Context, userID string, e domain.MFAEnrollment, method string) error {
	now := s.now()
	attempts := e.FailedAttempts + 1

	var lockedUntil *time.Time
	if attempts >= s.lockoutThreshold() {
		deadline := now.Add(s.lockoutDuration())
		lockedUntil = &deadline
	}

	if err := s.Store.MFA().UpdateAttempts(ctx, userID, attempts, lockedUntil); err != nil {
		return err
	}

	event := audit.Event{
		Action:        "mfa_verified",
		UserID:        userID,
		Success:       false,
		FailureReason: "invalid code",
		Severity:      audit.SeverityWarning,
		Details:       map[string]string{"method": method},
	}
	if lockedUntil != nil {
		event.Action = "mfa_locked"
		event.FailureReason = "attempt limit reached"
		event.Severity = audit.SeverityCritical
	}
	s.emit(ctx, event)

	return ErrInvalidMFACode
}

func (s *MFAService) recordSuccess(ctx context.Context, userID string, e domain.MFAEnrollment, method string) error {
	if e.FailedAttempts > 0 || e.LockedUntil != nil {
		if err := s.Store.MFA().UpdateAttempts(ctx, userID, 0, nil); err != nil {
			return err
		}
	}
	s.emit(ctx, audit.Event{
		Action:   "mfa_verified",
		UserID:   userID,
		Success:  true,
		Severity: audit.SeverityInfo,
		Details:  map[string]string{"method": method},
	})
	return nil
}

func generateBackupCode() (string, error) {
	buf := make([]byte, backupCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = backupCodeAlphabet[int(b)%len(backupCodeAlphabet)]
	}
	return string(buf), nil
}

func normalizeBackupCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
