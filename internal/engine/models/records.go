package models

import "time"

// Dedup scopes.
func PublishScope(target string) string { return "publish:" + target }
func JoinScope(accountID string) string { return "join:" + accountID }
func FetchScope(target string) string   { return "fetch:" + target }

type DedupRecord struct {
	Scope       string
	Fingerprint string
	FirstSeen   time.Time
}

// JoinEvent records a successful join for the rolling quota window.
type JoinEvent struct {
	ID        string
	AccountID string
	Target    string
	JoinedAt  time.Time
}

// Cursor is an opaque resumption token per (account, target).
type Cursor struct {
	AccountID string
	Target    string
	Token     string
	UpdatedAt time.Time
}

type FetchedItem struct {
	TaskID      string
	Target      string
	ItemID      string
	Text        string
	MediaPath   string
	Fingerprint string
	FetchedAt   time.Time
}

type ChallengeStage string

const (
	StageCode     ChallengeStage = "code"
	StagePassword ChallengeStage = "password"
)

// Challenge is the pending interactive login state of an account.
type Challenge struct {
	AccountID     string
	Stage         ChallengeStage
	PhoneCodeHash string
	KeyVersion    uint32
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

// Record is a key/value entry of the settings store.
type Record struct {
	Key       string
	Value     []byte
	Sensitive bool
	UpdatedAt time.Time
}
