package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/tgfleet/internal/api"
	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/engine/auth"
	"github.com/dmitrijs2005/tgfleet/internal/engine/dispatch"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/proxies"
	"github.com/dmitrijs2005/tgfleet/internal/engine/repositories/tasks"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *Server) SubmitTask(ctx context.Context, req *api.SubmitTaskRequest) (*api.TaskResponse, error) {
	t, err := s.tasks.Submit(ctx, dispatch.SubmitRequest{
		Kind:   models.TaskKind(req.Kind),
		Target: req.Target,
		Payload: models.TaskPayload{
			Text:      req.Text,
			MediaPath: req.MediaPath,
			Limit:     req.Limit,
		},
		RequestedBy: OperatorFrom(ctx),
		AccountID:   req.AccountID,
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &api.TaskResponse{Task: api.NewTaskView(t)}, nil
}

func (s *Server) GetTask(ctx context.Context, req *api.TaskIDRequest) (*api.TaskResponse, error) {
	t, err := s.tasks.Get(ctx, req.ID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &api.TaskResponse{Task: api.NewTaskView(t)}, nil
}

func (s *Server) ListTasks(ctx context.Context, req *api.ListTasksRequest) (*api.ListTasksResponse, error) {
	f := tasks.Filter{Kind: models.TaskKind(req.Kind), AccountID: req.AccountID, Limit: req.Limit}
	for _, st := range req.States {
		f.States = append(f.States, models.TaskState(st))
	}
	list, err := s.tasks.List(ctx, f)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	resp := &api.ListTasksResponse{Tasks: make([]*api.TaskView, 0, len(list))}
	for _, t := range list {
		resp.Tasks = append(resp.Tasks, api.NewTaskView(t))
	}
	return resp, nil
}

func (s *Server) CancelTask(ctx context.Context, req *api.TaskIDRequest) (*api.Empty, error) {
	if err := s.tasks.Cancel(ctx, req.ID); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	s.logger.Info(ctx, "task cancel requested", "task_id", req.ID, "operator", OperatorFrom(ctx))
	return &api.Empty{}, nil
}

func (s *Server) ListItems(ctx context.Context, req *api.TaskIDRequest) (*api.ListItemsResponse, error) {
	items, err := s.tasks.Items(ctx, req.ID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	resp := &api.ListItemsResponse{Items: make([]*api.ItemView, 0, len(items))}
	for _, it := range items {
		resp.Items = append(resp.Items, api.NewItemView(it))
	}
	return resp, nil
}

func (s *Server) EnrollAccount(ctx context.Context, req *api.EnrollAccountRequest) (*api.AccountResponse, error) {
	a, err := s.accounts.Enroll(ctx, auth.EnrollRequest{
		Label:    req.Label,
		Phone:    req.Phone,
		BotToken: req.BotToken,
		APIID:    req.APIID,
		APIHash:  req.APIHash,
		ProxyID:  req.ProxyID,
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &api.AccountResponse{Account: api.NewAccountView(a)}, nil
}

func (s *Server) ReenrollAccount(ctx context.Context, req *api.AccountIDRequest) (*api.AccountResponse, error) {
	if err := s.accounts.Reenroll(ctx, req.ID); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return s.account(ctx, req.ID)
}

func (s *Server) ListAccounts(ctx context.Context, req *api.ListAccountsRequest) (*api.ListAccountsResponse, error) {
	var statuses []models.AccountStatus
	for _, st := range req.Statuses {
		statuses = append(statuses, models.AccountStatus(st))
	}
	list, err := s.accounts.List(ctx, statuses...)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	resp := &api.ListAccountsResponse{Accounts: make([]*api.AccountView, 0, len(list))}
	for _, a := range list {
		resp.Accounts = append(resp.Accounts, api.NewAccountView(a))
	}
	return resp, nil
}

func (s *Server) Authenticate(ctx context.Context, req *api.AccountIDRequest) (*api.AuthResponse, error) {
	sess, err := s.accounts.Authenticate(ctx, req.ID)
	if err == nil {
		sess.Release(ctx, proxies.Success)
	}
	return s.authResponse(ctx, req.ID, err)
}

func (s *Server) SubmitChallenge(ctx context.Context, req *api.SubmitChallengeRequest) (*api.AuthResponse, error) {
	err := s.accounts.SubmitChallenge(ctx, req.ID, req.Value)
	return s.authResponse(ctx, req.ID, err)
}

// authResponse turns the outcome of a login step into a response. A
// pending challenge is a normal answer, not an error.
func (s *Server) authResponse(ctx context.Context, id string, err error) (*api.AuthResponse, error) {
	resp := &api.AuthResponse{}
	var challenge *auth.ChallengeRequiredError
	switch {
	case errors.As(err, &challenge):
		resp.Challenge = string(challenge.Stage)
		resp.ExpiresAt = challenge.ExpiresAt
	case err != nil:
		return nil, s.toStatus(ctx, err)
	}

	a, err := s.accounts.Get(ctx, id)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	resp.Account = api.NewAccountView(a)
	return resp, nil
}

func (s *Server) InvalidateAccount(ctx context.Context, req *api.AccountIDRequest) (*api.AccountResponse, error) {
	sess, err := s.accounts.Acquire(ctx, req.ID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	err = s.accounts.Invalidate(ctx, sess)
	sess.Release(ctx, proxies.Neutral)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	s.logger.Info(ctx, "account invalidated", "account_id", req.ID, "operator", OperatorFrom(ctx))
	return s.account(ctx, req.ID)
}

func (s *Server) account(ctx context.Context, id string) (*api.AccountResponse, error) {
	a, err := s.accounts.Get(ctx, id)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &api.AccountResponse{Account: api.NewAccountView(a)}, nil
}

func (s *Server) AddProxy(ctx context.Context, req *api.AddProxyRequest) (*api.ProxyResponse, error) {
	p, err := s.proxies.Add(ctx, &models.Proxy{
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &api.ProxyResponse{Proxy: api.NewProxyView(p)}, nil
}

func (s *Server) ListProxies(ctx context.Context, _ *api.Empty) (*api.ListProxiesResponse, error) {
	list := s.proxies.List(ctx)
	resp := &api.ListProxiesResponse{Proxies: make([]*api.ProxyView, 0, len(list))}
	for _, p := range list {
		resp.Proxies = append(resp.Proxies, api.NewProxyView(p))
	}
	return resp, nil
}

func (s *Server) RetireProxy(ctx context.Context, req *api.ProxyIDRequest) (*api.Empty, error) {
	if err := s.proxies.Retire(ctx, req.ID); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &api.Empty{}, nil
}

// RevalidateProxy checks the proxy. A failed check is reported as
// Unavailable.
func (s *Server) RevalidateProxy(ctx context.Context, req *api.ProxyIDRequest) (*api.ProxyResponse, error) {
	p, err := s.proxies.Revalidate(ctx, req.ID)
	switch {
	case err == nil:
		return &api.ProxyResponse{Proxy: api.NewProxyView(p)}, nil
	case p != nil:
		return nil, status.Error(codes.Unavailable, err.Error())
	default:
		return nil, s.toStatus(ctx, err)
	}
}

func (s *Server) Snapshot(ctx context.Context, _ *api.Empty) (*api.SnapshotResponse, error) {
	if s.backup == nil {
		return nil, status.Error(codes.FailedPrecondition, "backups are not configured")
	}
	p, err := s.backup.Backup(ctx)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	s.logger.Info(ctx, "backup requested", "path", p, "operator", OperatorFrom(ctx))
	return &api.SnapshotResponse{Path: p}, nil
}

func (s *Server) ListSettings(ctx context.Context, _ *api.Empty) (*api.SettingsResponse, error) {
	if s.settings == nil {
		return nil, status.Error(codes.FailedPrecondition, "settings are not available")
	}
	all, err := s.settings.All(ctx)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &api.SettingsResponse{Settings: all}, nil
}

func (s *Server) SetSetting(ctx context.Context, req *api.SetSettingRequest) (*api.SettingsResponse, error) {
	if s.settings == nil {
		return nil, status.Error(codes.FailedPrecondition, "settings are not available")
	}
	if err := s.settings.Set(ctx, req.Name, req.Value); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	s.logger.Info(ctx, "setting changed", "name", req.Name, "cleared", req.Value == "", "operator", OperatorFrom(ctx))
	return s.ListSettings(ctx, &api.Empty{})
}

func (s *Server) Ping(ctx context.Context, _ *api.Empty) (*api.PingResponse, error) {
	return &api.PingResponse{Status: "OK", Running: s.tasks.Running()}, nil
}

// toStatus maps engine errors onto gRPC codes. Unexpected errors are
// logged and reported as Internal.
func (s *Server) toStatus(ctx context.Context, err error) error {
	var c codes.Code
	switch {
	case errors.Is(err, common.ErrorValidation), errors.Is(err, auth.ErrChallengeRejected):
		c = codes.InvalidArgument
	case errors.Is(err, common.ErrorNotFound):
		c = codes.NotFound
	case errors.Is(err, common.ErrStateConflict),
		errors.Is(err, common.ErrProxyRetired),
		errors.Is(err, common.ErrAccountCompromised),
		errors.Is(err, auth.ErrNoChallenge),
		errors.Is(err, auth.ErrChallengeExpired):
		c = codes.FailedPrecondition
	case errors.Is(err, common.ErrNoIdleAccount), errors.Is(err, common.ErrProxiesExhausted):
		c = codes.Unavailable
	case errors.Is(err, common.ErrStoreCorruption):
		c = codes.DataLoss
	case errors.Is(err, context.Canceled):
		c = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		c = codes.DeadlineExceeded
	default:
		s.logger.Error(ctx, "control call failed", "error", err)
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(c, err.Error())
}
