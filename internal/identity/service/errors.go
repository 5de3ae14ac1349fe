package service

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrAccountDisabled    = errors.New("account_disabled")
	ErrTooManyAttempts    = errors.New("too_many_attempts")

	ErrMFARequired       = errors.New("mfa_required")
	ErrMFANotEnrolled    = errors.New("mfa_not_enrolled")
	ErrMFAAlreadyEnabled = errors.New("mfa_already_enabled")
	ErrMFALocked         = errors.New("mfa_locked")
	ErrInvalidMFACode    = errors.New("invalid_mfa_code")

	ErrTokenInvalid       = errors.New("invalid_refresh_token")
	ErrTokenExpired       = errors.New("refresh_token_expired")
	ErrTokenRevoked       = errors.New("refresh_token_revoked")
	ErrTokenReuseDetected = errors.New("refresh_token_reuse_detected")

	ErrSessionNotFound = errors.New("session_not_found")
	ErrSessionRevoked  = errors.New("session_revoked")
	ErrSessionExpired  = errors.New("session_expired")
	ErrDeviceBlocked   = errors.New("device_blocked")

	ErrRoleNotFound = errors.New("role_not_found")
	ErrUserNotFound = errors.New("user_not_found")
)
