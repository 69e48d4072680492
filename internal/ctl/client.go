package ctl

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tgfleet/internal/api"
	"github.com/dmitrijs2005/tgfleet/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var (
	ErrUnavailable  = errors.New("engine unavailable")
	ErrUnauthorized = errors.New("unauthorized, check the access token")
)

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

// Dial connects to the engine control API. Every call carries token.
func Dial(addr, token string, opts ...grpc.DialOption) (*api.ControlClient, *grpc.ClientConn, error) {
	interceptor := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if token != "" {
			ctx = withAccessToken(ctx, token)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(interceptor),
	}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return api.NewControlClient(conn), conn, nil
}

// mapError turns a gRPC status into a message fit for the operator.
func mapError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	case codes.Unauthenticated:
		return ErrUnauthorized
	default:
		return fmt.Errorf("%s: %s", st.Code(), st.Message())
	}
}
