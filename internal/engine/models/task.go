package models

import "time"

type TaskKind string

const (
	TaskPublish TaskKind = "publish"
	TaskJoin    TaskKind = "join"
	TaskFetch   TaskKind = "fetch"
)

func (k TaskKind) Valid() bool {
	return k == TaskPublish || k == TaskJoin || k == TaskFetch
}

type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskDeferred  TaskState = "deferred"
)

func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// CanTransition reports whether from→to is a legal task state change.
// States only move forward, with deferred→pending as the single way back.
func CanTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskRunning
	case TaskRunning:
		return to == TaskSucceeded || to == TaskFailed || to == TaskDeferred
	case TaskDeferred:
		return to == TaskPending
	}
	return false
}

// Result codes recorded on tasks.
const (
	CodeOK              = "ok"
	CodeAlreadyDone     = "already_done"
	CodeAlreadyMember   = "already_member"
	CodeInviteExpired   = "invite_expired"
	CodeJoinRequested   = "join_requested"
	CodeNotFound        = "not_found"
	CodePermission      = "permission_denied"
	CodeFloodWait       = "flood_wait"
	CodeTransient       = "transient"
	CodeQuotaExceeded   = "quota_exceeded"
	CodeNoProxy         = "no_proxy"
	CodeNoAccount       = "no_account"
	CodeCompromised     = "account_compromised"
	CodeUnauthorized    = "session_invalid"
	CodeFetchIncomplete = "fetch_incomplete"
	CodeCancelled       = "cancelled"
	CodeStoreCorruption = "store_corruption"
	CodeInvalid         = "invalid_task"
)

// TaskPayload references what a task acts on.
type TaskPayload struct {
	Text      string `json:"text,omitempty"`
	MediaPath string `json:"media_path,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type Task struct {
	ID             string
	Kind           TaskKind
	Target         string
	Payload        TaskPayload
	Fingerprint    string
	RequestedBy    string
	AccountID      string
	State          TaskState
	Attempts       int
	NextEligibleAt time.Time
	ResultCode     string
	Reason         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
