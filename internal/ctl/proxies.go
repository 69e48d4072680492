package ctl

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/dmitrijs2005/tgfleet/internal/api"
	"github.com/dmitrijs2005/tgfleet/internal/common"
)

func (a *App) Proxies(ctx context.Context) error {
	var resp *api.ListProxiesResponse
	err := a.call(ctx, func(ctx context.Context) (err error) {
		resp, err = a.client.ListProxies(ctx, &api.Empty{})
		return err
	})
	if err != nil {
		return err
	}
	if len(resp.Proxies) == 0 {
		fmt.Fprintln(a.out, "no proxies")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tADDR\tSTATUS\tSCORE\tFAILURES\tLAST USED")
	for _, p := range resp.Proxies {
		st := p.Status
		if p.Retired {
			st += " (retired)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", p.ID, p.Addr, st, p.Score, p.Failures, when(p.LastUsedAt))
	}
	return w.Flush()
}

// AddProxy registers a SOCKS5 proxy. Credentials are optional; the
// password is read without echo.
func (a *App) AddProxy(ctx context.Context, args []string) error {
	host, err := a.arg(args, 0, "Host")
	if err != nil {
		return err
	}
	ps, err := a.arg(args, 1, "Port")
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(ps)
	if err != nil {
		return fmt.Errorf("invalid port %q", ps)
	}

	req := &api.AddProxyRequest{Host: host, Port: port}
	if req.Username, err = getSimpleText(a.reader, "Username (empty for none)", a.out); err != nil {
		return err
	}
	if req.Username != "" {
		pw, err := getSecret("Password", a.out)
		if err != nil {
			return err
		}
		defer common.WipeByteArray(pw)
		req.Password = string(pw)
	}

	var resp *api.ProxyResponse
	err = a.call(ctx, func(ctx context.Context) (err error) {
		resp, err = a.client.AddProxy(ctx, req)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "added proxy %s (%s)\n", resp.Proxy.ID, resp.Proxy.Addr)
	return nil
}

func (a *App) Retire(ctx context.Context, args []string) error {
	id, err := a.arg(args, 0, "Proxy id")
	if err != nil {
		return err
	}
	err = a.call(ctx, func(ctx context.Context) error {
		_, err := a.client.RetireProxy(ctx, &api.ProxyIDRequest{ID: id})
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "retired", id)
	return nil
}

func (a *App) Revalidate(ctx context.Context, args []string) error {
	id, err := a.arg(args, 0, "Proxy id")
	if err != nil {
		return err
	}
	var resp *api.ProxyResponse
	err = a.call(ctx, func(ctx context.Context) (err error) {
		resp, err = a.client.RevalidateProxy(ctx, &api.ProxyIDRequest{ID: id})
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "proxy %s is %s (score %d)\n", resp.Proxy.ID, resp.Proxy.Status, resp.Proxy.Score)
	return nil
}

func (a *App) Backup(ctx context.Context) error {
	var resp *api.SnapshotResponse
	err := a.call(ctx, func(ctx context.Context) (err error) {
		resp, err = a.client.Snapshot(ctx, &api.Empty{})
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "backup written to", resp.Path)
	return nil
}
