package api

import (
	"context"

	"google.golang.org/grpc"
)

// ControlClient calls the control service over an existing connection.
type ControlClient struct {
	cc grpc.ClientConnInterface
}

func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *ControlClient, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) SubmitTask(ctx context.Context, in *SubmitTaskRequest, opts ...grpc.CallOption) (*TaskResponse, error) {
	return invoke[TaskResponse](ctx, c, MethodSubmitTask, in, opts)
}

func (c *ControlClient) GetTask(ctx context.Context, in *TaskIDRequest, opts ...grpc.CallOption) (*TaskResponse, error) {
	return invoke[TaskResponse](ctx, c, MethodGetTask, in, opts)
}

func (c *ControlClient) ListTasks(ctx context.Context, in *ListTasksRequest, opts ...grpc.CallOption) (*ListTasksResponse, error) {
	return invoke[ListTasksResponse](ctx, c, MethodListTasks, in, opts)
}

func (c *ControlClient) CancelTask(ctx context.Context, in *TaskIDRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, MethodCancelTask, in, opts)
}

func (c *ControlClient) ListItems(ctx context.Context, in *TaskIDRequest, opts ...grpc.CallOption) (*ListItemsResponse, error) {
	return invoke[ListItemsResponse](ctx, c, MethodListItems, in, opts)
}

func (c *ControlClient) EnrollAccount(ctx context.Context, in *EnrollAccountRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c, MethodEnrollAccount, in, opts)
}

func (c *ControlClient) ReenrollAccount(ctx context.Context, in *AccountIDRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c, MethodReenrollAccount, in, opts)
}

func (c *ControlClient) ListAccounts(ctx context.Context, in *ListAccountsRequest, opts ...grpc.CallOption) (*ListAccountsResponse, error) {
	return invoke[ListAccountsResponse](ctx, c, MethodListAccounts, in, opts)
}

func (c *ControlClient) Authenticate(ctx context.Context, in *AccountIDRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	return invoke[AuthResponse](ctx, c, MethodAuthenticate, in, opts)
}

func (c *ControlClient) SubmitChallenge(ctx context.Context, in *SubmitChallengeRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	return invoke[AuthResponse](ctx, c, MethodSubmitChallenge, in, opts)
}

func (c *ControlClient) InvalidateAccount(ctx context.Context, in *AccountIDRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c, MethodInvalidateAccount, in, opts)
}

func (c *ControlClient) AddProxy(ctx context.Context, in *AddProxyRequest, opts ...grpc.CallOption) (*ProxyResponse, error) {
	return invoke[ProxyResponse](ctx, c, MethodAddProxy, in, opts)
}

func (c *ControlClient) ListProxies(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ListProxiesResponse, error) {
	return invoke[ListProxiesResponse](ctx, c, MethodListProxies, in, opts)
}

func (c *ControlClient) RetireProxy(ctx context.Context, in *ProxyIDRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, MethodRetireProxy, in, opts)
}

func (c *ControlClient) RevalidateProxy(ctx context.Context, in *ProxyIDRequest, opts ...grpc.CallOption) (*ProxyResponse, error) {
	return invoke[ProxyResponse](ctx, c, MethodRevalidateProxy, in, opts)
}

func (c *ControlClient) Snapshot(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*SnapshotResponse, error) {
	return invoke[SnapshotResponse](ctx, c, MethodSnapshot, in, opts)
}

func (c *ControlClient) ListSettings(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*SettingsResponse, error) {
	return invoke[SettingsResponse](ctx, c, MethodListSettings, in, opts)
}

func (c *ControlClient) SetSetting(ctx context.Context, in *SetSettingRequest, opts ...grpc.CallOption) (*SettingsResponse, error) {
	return invoke[SettingsResponse](ctx, c, MethodSetSetting, in, opts)
}

func (c *ControlClient) Ping(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*PingResponse, error) {
	return invoke[PingResponse](ctx, c, MethodPing, in, opts)
}
