package models

import (
	"strings"
	"time"
)

// PendingCode is a mailed code waiting to be verified.
type PendingCode struct {
	Address   string
	Code      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the code can no longer be used at now.
func (p *PendingCode) IsExpired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// SendCommand asks for a code to be mailed.
type SendCommand struct {
	Address string
	Locale  string
	IP      string
}

// VerifyResult is what the client needs to start an issuance session.
type VerifyResult struct {
	JWT        string
	SessionURL string
}

// AddressKey folds an address for use as a storage key.
func AddressKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
