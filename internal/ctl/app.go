package ctl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/tgfleet/internal/api"
	"github.com/dmitrijs2005/tgfleet/internal/ctl/config"
	"google.golang.org/grpc"
)

// Control is the part of the control API the console uses.
// *api.ControlClient satisfies it.
type Control interface {
	SubmitTask(ctx context.Context, in *api.SubmitTaskRequest, opts ...grpc.CallOption) (*api.TaskResponse, error)
	GetTask(ctx context.Context, in *api.TaskIDRequest, opts ...grpc.CallOption) (*api.TaskResponse, error)
	ListTasks(ctx context.Context, in *api.ListTasksRequest, opts ...grpc.CallOption) (*api.ListTasksResponse, error)
	CancelTask(ctx context.Context, in *api.TaskIDRequest, opts ...grpc.CallOption) (*api.Empty, error)
	ListItems(ctx context.Context, in *api.TaskIDRequest, opts ...grpc.CallOption) (*api.ListItemsResponse, error)
	EnrollAccount(ctx context.Context, in *api.EnrollAccountRequest, opts ...grpc.CallOption) (*api.AccountResponse, error)
	ReenrollAccount(ctx context.Context, in *api.AccountIDRequest, opts ...grpc.CallOption) (*api.AccountResponse, error)
	ListAccounts(ctx context.Context, in *api.ListAccountsRequest, opts ...grpc.CallOption) (*api.ListAccountsResponse, error)
	Authenticate(ctx context.Context, in *api.AccountIDRequest, opts ...grpc.CallOption) (*api.AuthResponse, error)
	SubmitChallenge(ctx context.Context, in *api.SubmitChallengeRequest, opts ...grpc.CallOption) (*api.AuthResponse, error)
	InvalidateAccount(ctx context.Context, in *api.AccountIDRequest, opts ...grpc.CallOption) (*api.AccountResponse, error)
	AddProxy(ctx context.Context, in *api.AddProxyRequest, opts ...grpc.CallOption) (*api.ProxyResponse, error)
	ListProxies(ctx context.Context, in *api.Empty, opts ...grpc.CallOption) (*api.ListProxiesResponse, error)
	RetireProxy(ctx context.Context, in *api.ProxyIDRequest, opts ...grpc.CallOption) (*api.Empty, error)
	RevalidateProxy(ctx context.Context, in *api.ProxyIDRequest, opts ...grpc.CallOption) (*api.ProxyResponse, error)
	Snapshot(ctx context.Context, in *api.Empty, opts ...grpc.CallOption) (*api.SnapshotResponse, error)
	ListSettings(ctx context.Context, in *api.Empty, opts ...grpc.CallOption) (*api.SettingsResponse, error)
	SetSetting(ctx context.Context, in *api.SetSettingRequest, opts ...grpc.CallOption) (*api.SettingsResponse, error)
	Ping(ctx context.Context, in *api.Empty, opts ...grpc.CallOption) (*api.PingResponse, error)
}

type App struct {
	config *config.Config
	client Control
	closer io.Closer
	reader *bufio.Reader
	out    io.Writer
	online bool
}

func NewApp(c *config.Config) (*App, error) {
	client, conn, err := Dial(c.EndpointAddr, c.Token)
	if err != nil {
		return nil, err
	}
	return &App{
		config: c,
		client: client,
		closer: conn,
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}, nil
}

// Run pings the engine and starts the REPL on the app's input.
func (a *App) Run(ctx context.Context) {
	defer a.Close()

	fmt.Fprintln(a.out, "tgfleet console (type 'help' for commands)")
	if err := a.Ping(ctx); err != nil {
		fmt.Fprintln(a.out, "warning:", err)
	}
	runREPL(ctx, a, a.status, a.reader)
}

func (a *App) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// Exec runs a single command line and returns its error.
func (a *App) Exec(ctx context.Context, line string) error {
	return dispatchLine(ctx, a, line)
}

func (a *App) status() string {
	if a.online {
		return a.config.EndpointAddr
	}
	return a.config.EndpointAddr + " offline"
}

// call runs fn under the configured timeout and maps its error.
func (a *App) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.CallTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

// arg returns args[i] or prompts for it.
func (a *App) arg(args []string, i int, prompt string) (string, error) {
	if i < len(args) {
		return args[i], nil
	}
	return getSimpleText(a.reader, prompt, a.out)
}

// getSimpleText and getSecret are indirections swapped in tests.
var (
	getSimpleText = GetSimpleText
	getSecret     = GetSecret
)
