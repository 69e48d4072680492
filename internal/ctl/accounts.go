package ctl

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/dmitrijs2005/tgfleet/internal/api"
	"github.com/dmitrijs2005/tgfleet/internal/common"
	"google.golang.org/grpc"
)

func (a *App) Accounts(ctx context.Context, args []string) error {
	var resp *api.ListAccountsResponse
	err := a.call(ctx, func(ctx context.Context) (err error) {
		resp, err = a.client.ListAccounts(ctx, &api.ListAccountsRequest{Statuses: args})
		return err
	})
	if err != nil {
		return err
	}
	if len(resp.Accounts) == 0 {
		fmt.Fprintln(a.out, "no accounts")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tSTATUS\tRESUME\tLAST USED\tPROXY")
	for _, acc := range resp.Accounts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", acc.ID, acc.Label, acc.Status, when(acc.ResumeAt), when(acc.LastUsedAt), acc.ProxyID)
	}
	return w.Flush()
}

// Enroll prompts for a new account. Either a phone number or a bot token
// is required; the API hash and bot token are read without echo.
func (a *App) Enroll(ctx context.Context) error {
	label, err := getSimpleText(a.reader, "Label", a.out)
	if err != nil {
		return err
	}
	phone, err := getSimpleText(a.reader, "Phone (empty for a bot account)", a.out)
	if err != nil {
		return err
	}

	req := &api.EnrollAccountRequest{Label: label, Phone: phone}
	if phone == "" {
		token, err := getSecret("Bot token", a.out)
		if err != nil {
			return err
		}
		defer common.WipeByteArray(token)
		req.BotToken = string(token)
	}

	id, err := getSimpleText(a.reader, "API id", a.out)
	if err != nil {
		return err
	}
	if req.APIID, err = strconv.Atoi(id); err != nil {
		return fmt.Errorf("invalid API id %q", id)
	}
	hash, err := getSecret("API hash", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(hash)
	req.APIHash = string(hash)

	if req.ProxyID, err = getSimpleText(a.reader, "Proxy id (empty for any)", a.out); err != nil {
		return err
	}

	var resp *api.AccountResponse
	err = a.call(ctx, func(ctx context.Context) (err error) {
		resp, err = a.client.EnrollAccount(ctx, req)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "enrolled %s (%s), run 'login %s' next\n", resp.Account.Label, resp.Account.ID, resp.Account.ID)
	return nil
}

// Login authenticates an account and answers its challenges until the
// account is active or a step fails.
func (a *App) Login(ctx context.Context, args []string) error {
	id, err := a.arg(args, 0, "Account id")
	if err != nil {
		return err
	}

	var resp *api.AuthResponse
	err = a.call(ctx, func(ctx context.Context) (err error) {
		resp, err = a.client.Authenticate(ctx, &api.AccountIDRequest{ID: id})
		return err
	})
	if err != nil {
		return err
	}

	for resp.Challenge != "" {
		value, err := a.answer(resp.Challenge)
		if err != nil {
			return err
		}
		err = a.call(ctx, func(ctx context.Context) (err error) {
			resp, err = a.client.SubmitChallenge(ctx, &api.SubmitChallengeRequest{ID: id, Value: value})
			return err
		})
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(a.out, "account %s is %s\n", id, resp.Account.Status)
	return nil
}

func (a *App) answer(stage string) (string, error) {
	if stage == "password" {
		pw, err := getSecret("Two-step verification password", a.out)
		if err != nil {
			return "", err
		}
		defer common.WipeByteArray(pw)
		return string(pw), nil
	}
	return getSimpleText(a.reader, "Login code", a.out)
}

func (a *App) Invalidate(ctx context.Context, args []string) error {
	return a.accountCall(ctx, args, a.client.InvalidateAccount)
}

func (a *App) Reenroll(ctx context.Context, args []string) error {
	return a.accountCall(ctx, args, a.client.ReenrollAccount)
}

func (a *App) accountCall(ctx context.Context, args []string, fn func(context.Context, *api.AccountIDRequest, ...grpc.CallOption) (*api.AccountResponse, error)) error {
	id, err := a.arg(args, 0, "Account id")
	if err != nil {
		return err
	}
	var resp *api.AccountResponse
	err = a.call(ctx, func(ctx context.Context) (err error) {
		resp, err = fn(ctx, &api.AccountIDRequest{ID: id})
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "account %s is %s\n", resp.Account.ID, resp.Account.Status)
	return nil
}
