package api

import (
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
)

// TaskView is the public form of a task.
type TaskView struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Target         string    `json:"target"`
	Text           string    `json:"text,omitempty"`
	MediaPath      string    `json:"media_path,omitempty"`
	Limit          int       `json:"limit,omitempty"`
	Fingerprint    string    `json:"fingerprint,omitempty"`
	RequestedBy    string    `json:"requested_by,omitempty"`
	AccountID      string    `json:"account_id,omitempty"`
	State          string    `json:"state"`
	Attempts       int       `json:"attempts"`
	NextEligibleAt time.Time `json:"next_eligible_at"`
	ResultCode     string    `json:"result_code,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func NewTaskView(t *models.Task) *TaskView {
	return &TaskView{
		ID:             t.ID,
		Kind:           string(t.Kind),
		Target:         t.Target,
		Text:           t.Payload.Text,
		MediaPath:      t.Payload.MediaPath,
		Limit:          t.Payload.Limit,
		Fingerprint:    t.Fingerprint,
		RequestedBy:    t.RequestedBy,
		AccountID:      t.AccountID,
		State:          string(t.State),
		Attempts:       t.Attempts,
		NextEligibleAt: t.NextEligibleAt,
		ResultCode:     t.ResultCode,
		Reason:         t.Reason,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

// AccountView never carries secrets or session material.
type AccountView struct {
	ID           string    `json:"id"`
	Label        string    `json:"label"`
	Phone        string    `json:"phone,omitempty"`
	Bot          bool      `json:"bot"`
	Status       string    `json:"status"`
	StatusReason string    `json:"status_reason,omitempty"`
	ResumeAt     time.Time `json:"resume_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
	ProxyID      string    `json:"proxy_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func NewAccountView(a *models.Account) *AccountView {
	return &AccountView{
		ID:           a.ID,
		Label:        a.Label,
		Phone:        a.Phone,
		Bot:          a.IsBot(),
		Status:       string(a.Status),
		StatusReason: a.StatusReason,
		ResumeAt:     a.ResumeAt,
		LastUsedAt:   a.LastUsedAt,
		ProxyID:      a.ProxyID,
		CreatedAt:    a.CreatedAt,
	}
}

// ProxyView omits the proxy password.
type ProxyView struct {
	ID         string    `json:"id"`
	Addr       string    `json:"addr"`
	Username   string    `json:"username,omitempty"`
	Score      int       `json:"score"`
	Status     string    `json:"status"`
	Failures   int       `json:"failures"`
	Retired    bool      `json:"retired"`
	LastUsedAt time.Time `json:"last_used_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func NewProxyView(p *models.Proxy) *ProxyView {
	return &ProxyView{
		ID:         p.ID,
		Addr:       p.Addr(),
		Username:   p.Username,
		Score:      p.Score,
		Status:     string(p.Status),
		Failures:   p.Failures,
		Retired:    p.Retired,
		LastUsedAt: p.LastUsedAt,
		CreatedAt:  p.CreatedAt,
	}
}

type ItemView struct {
	ItemID      string    `json:"item_id"`
	Target      string    `json:"target"`
	Text        string    `json:"text,omitempty"`
	MediaPath   string    `json:"media_path,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	FetchedAt   time.Time `json:"fetched_at"`
}

func NewItemView(it *models.FetchedItem) *ItemView {
	return &ItemView{
		ItemID:      it.ItemID,
		Target:      it.Target,
		Text:        it.Text,
		MediaPath:   it.MediaPath,
		Fingerprint: it.Fingerprint,
		FetchedAt:   it.FetchedAt,
	}
}

type SubmitTaskRequest struct {
	Kind      string `json:"kind"`
	Target    string `json:"target"`
	Text      string `json:"text,omitempty"`
	MediaPath string `json:"media_path,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	AccountID string `json:"account_id,omitempty"`
}

type TaskResponse struct {
	Task *TaskView `json:"task"`
}

type TaskIDRequest struct {
	ID string `json:"id"`
}

type ListTasksRequest struct {
	States    []string `json:"states,omitempty"`
	Kind      string   `json:"kind,omitempty"`
	AccountID string   `json:"account_id,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

type ListTasksResponse struct {
	Tasks []*TaskView `json:"tasks"`
}

type ListItemsResponse struct {
	Items []*ItemView `json:"items"`
}

type EnrollAccountRequest struct {
	Label    string `json:"label"`
	Phone    string `json:"phone,omitempty"`
	BotToken string `json:"bot_token,omitempty"`
	APIID    int    `json:"api_id"`
	APIHash  string `json:"api_hash"`
	ProxyID  string `json:"proxy_id,omitempty"`
}

type AccountIDRequest struct {
	ID string `json:"id"`
}

type AccountResponse struct {
	Account *AccountView `json:"account"`
}

type ListAccountsRequest struct {
	Statuses []string `json:"statuses,omitempty"`
}

type ListAccountsResponse struct {
	Accounts []*AccountView `json:"accounts"`
}

// AuthResponse reports the login state after Authenticate or
// SubmitChallenge. Challenge is empty once the account is active.
type AuthResponse struct {
	Account   *AccountView `json:"account,omitempty"`
	Challenge string       `json:"challenge,omitempty"`
	ExpiresAt time.Time    `json:"expires_at"`
}

type SubmitChallengeRequest struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

type AddProxyRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type ProxyIDRequest struct {
	ID string `json:"id"`
}

type ProxyResponse struct {
	Proxy *ProxyView `json:"proxy"`
}

type ListProxiesResponse struct {
	Proxies []*ProxyView `json:"proxies"`
}

type SnapshotResponse struct {
	Path string `json:"path"`
}

// SetSettingRequest sets Name to Value; an empty Value clears it.
type SetSettingRequest struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

type SettingsResponse struct {
	Settings map[string]string `json:"settings"`
}

type Empty struct{}

type PingResponse struct {
	Status  string `json:"status"`
	Running int    `json:"running"`
}
