// Package grpc serves the control API: task submission and inspection,
// account enrollment and login, proxy administration, operator settings
// and on-demand backups. Every method except Ping requires an operator access token.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/tgfleet/internal/api"
	"github.com/dmitrijs2005/tgfleet/internal/engine/auth"
	"github.com/dmitrijs2005/tgfleet/internal/engine/dispatch"
	"github.com/dmitrijs2005/tgfleet/internal/engine/metrics"
	"github.com/dmitrijs2005/tgfleet/internal/engine/proxies"
	"github.com/dmitrijs2005/tgfleet/internal/engine/settings"
	"github.com/dmitrijs2005/tgfleet/internal/logging"
	"google.golang.org/grpc"
)

// Backuper takes an immediate backup and returns its local path.
type Backuper interface {
	Backup(ctx context.Context) (string, error)
}

type Server struct {
	address   string
	tasks     *dispatch.Dispatcher
	accounts  *auth.Manager
	proxies   *proxies.Manager
	backup    Backuper
	settings  *settings.Settings
	logger    logging.Logger
	metrics   *metrics.Metrics
	jwtSecret []byte
}

type Option func(*Server)

func WithBackup(b Backuper) Option              { return func(s *Server) { s.backup = b } }
func WithSettings(st *settings.Settings) Option { return func(s *Server) { s.settings = st } }
func WithLogger(l logging.Logger) Option        { return func(s *Server) { s.logger = l } }
func WithMetrics(m *metrics.Metrics) Option     { return func(s *Server) { s.metrics = m } }

func NewServer(address, secretKey string, d *dispatch.Dispatcher, am *auth.Manager, pm *proxies.Manager, opts ...Option) *Server {
	s := &Server{
		address:   address,
		tasks:     d,
		accounts:  am,
		proxies:   pm,
		logger:    logging.Nop(),
		jwtSecret: []byte(secretKey),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("module", "grpc_server")
	return s
}

// Run listens on the configured address and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx ends, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.metricsInterceptor, s.accessTokenInterceptor))
	api.RegisterControlServer(srv, s)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())
	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}
