package api

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "tgfleet.control.Control"

// Method names of the control service.
const (
	MethodSubmitTask        = "SubmitTask"
	MethodGetTask           = "GetTask"
	MethodListTasks         = "ListTasks"
	MethodCancelTask        = "CancelTask"
	MethodListItems         = "ListItems"
	MethodEnrollAccount     = "EnrollAccount"
	MethodReenrollAccount   = "ReenrollAccount"
	MethodListAccounts      = "ListAccounts"
	MethodAuthenticate      = "Authenticate"
	MethodSubmitChallenge   = "SubmitChallenge"
	MethodInvalidateAccount = "InvalidateAccount"
	MethodAddProxy          = "AddProxy"
	MethodListProxies       = "ListProxies"
	MethodRetireProxy       = "RetireProxy"
	MethodRevalidateProxy   = "RevalidateProxy"
	MethodSnapshot          = "Snapshot"
	MethodListSettings      = "ListSettings"
	MethodSetSetting        = "SetSetting"
	MethodPing              = "Ping"
)

// FullMethod returns the gRPC path of a control method.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// ControlServer is implemented by the engine.
type ControlServer interface {
	SubmitTask(context.Context, *SubmitTaskRequest) (*TaskResponse, error)
	GetTask(context.Context, *TaskIDRequest) (*TaskResponse, error)
	ListTasks(context.Context, *ListTasksRequest) (*ListTasksResponse, error)
	CancelTask(context.Context, *TaskIDRequest) (*Empty, error)
	ListItems(context.Context, *TaskIDRequest) (*ListItemsResponse, error)
	EnrollAccount(context.Context, *EnrollAccountRequest) (*AccountResponse, error)
	ReenrollAccount(context.Context, *AccountIDRequest) (*AccountResponse, error)
	ListAccounts(context.Context, *ListAccountsRequest) (*ListAccountsResponse, error)
	Authenticate(context.Context, *AccountIDRequest) (*AuthResponse, error)
	SubmitChallenge(context.Context, *SubmitChallengeRequest) (*AuthResponse, error)
	InvalidateAccount(context.Context, *AccountIDRequest) (*AccountResponse, error)
	AddProxy(context.Context, *AddProxyRequest) (*ProxyResponse, error)
	ListProxies(context.Context, *Empty) (*ListProxiesResponse, error)
	RetireProxy(context.Context, *ProxyIDRequest) (*Empty, error)
	RevalidateProxy(context.Context, *ProxyIDRequest) (*ProxyResponse, error)
	Snapshot(context.Context, *Empty) (*SnapshotResponse, error)
	ListSettings(context.Context, *Empty) (*SettingsResponse, error)
	SetSetting(context.Context, *SetSettingRequest) (*SettingsResponse, error)
	Ping(context.Context, *Empty) (*PingResponse, error)
}

// ServiceDesc describes the control service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodSubmitTask, ControlServer.SubmitTask),
		unary(MethodGetTask, ControlServer.GetTask),
		unary(MethodListTasks, ControlServer.ListTasks),
		unary(MethodCancelTask, ControlServer.CancelTask),
		unary(MethodListItems, ControlServer.ListItems),
		unary(MethodEnrollAccount, ControlServer.EnrollAccount),
		unary(MethodReenrollAccount, ControlServer.ReenrollAccount),
		unary(MethodListAccounts, ControlServer.ListAccounts),
		unary(MethodAuthenticate, ControlServer.Authenticate),
		unary(MethodSubmitChallenge, ControlServer.SubmitChallenge),
		unary(MethodInvalidateAccount, ControlServer.InvalidateAccount),
		unary(MethodAddProxy, ControlServer.AddProxy),
		unary(MethodListProxies, ControlServer.ListProxies),
		unary(MethodRetireProxy, ControlServer.RetireProxy),
		unary(MethodRevalidateProxy, ControlServer.RevalidateProxy),
		unary(MethodSnapshot, ControlServer.Snapshot),
		unary(MethodListSettings, ControlServer.ListSettings),
		unary(MethodSetSetting, ControlServer.SetSetting),
		unary(MethodPing, ControlServer.Ping),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tgfleet/control",
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary[Req, Resp any](name string, call func(ControlServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			cs := srv.(ControlServer)
			if interceptor == nil {
				return call(cs, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(cs, ctx, req.(*Req))
			})
		},
	}
}
