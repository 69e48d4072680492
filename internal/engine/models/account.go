package models

import "time"

type AccountStatus string

const (
	AccountUnauthenticated AccountStatus = "unauthenticated"
	AccountAuthenticating  AccountStatus = "authenticating"
	AccountActive          AccountStatus = "active"
	AccountFloodLimited    AccountStatus = "flood_limited"
	AccountBanned          AccountStatus = "banned"
	AccountRevoked         AccountStatus = "revoked"
)

// Terminal reports whether the status requires administrative re-enrollment.
func (s AccountStatus) Terminal() bool {
	return s == AccountBanned || s == AccountRevoked
}

// Account is a credentialed identity on the platform.
//
// Secrets is held in memory only; repositories seal it into a single
// envelope before it reaches the database.
type Account struct {
	ID           string
	Label        string
	Phone        string
	APIID        int
	Status       AccountStatus
	StatusReason string
	ResumeAt     time.Time
	LastUsedAt   time.Time
	ProxyID      string
	Secrets      AccountSecrets
	KeyVersion   uint32
	CreatedAt    time.Time
}

// IsBot reports whether the account logs in with a bot token.
func (a *Account) IsBot() bool {
	return a.Secrets.BotToken != ""
}

// AccountSecrets is the sensitive part of an Account.
type AccountSecrets struct {
	APIHash  string `json:"api_hash"`
	BotToken string `json:"bot_token,omitempty"`
	Session  []byte `json:"session,omitempty"`
}
