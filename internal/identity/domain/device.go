package domain

import "time"

// DeviceFingerprint tracks a (user, device) pairing across sessions. Sessions
// reference the fingerprint by value only; the record is owned here.
type DeviceFingerprint struct {
	Fingerprint string
	UserID      string
	Trusted     bool
	Blocked     bool
	FirstSeen   time.Time
	LastSeen    time.Time
}
