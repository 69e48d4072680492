package ctl

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dmitrijs2005/tgfleet/internal/api"
)

func (a *App) Settings(ctx context.Context) error {
	var resp *api.SettingsResponse
	err := a.call(ctx, func(ctx context.Context) (err error) {
		resp, err = a.client.ListSettings(ctx, &api.Empty{})
		return err
	})
	if err != nil {
		return err
	}
	return a.printSettings(resp.Settings)
}

// Set changes one setting. Everything after the name is the value; no
// value clears the setting.
func (a *App) Set(ctx context.Context, args []string) error {
	name, err := a.arg(args, 0, "Setting")
	if err != nil {
		return err
	}
	value := ""
	if len(args) > 1 {
		value = strings.Join(args[1:], " ")
	}

	var resp *api.SettingsResponse
	err = a.call(ctx, func(ctx context.Context) (err error) {
		resp, err = a.client.SetSetting(ctx, &api.SetSettingRequest{Name: name, Value: value})
		return err
	})
	if err != nil {
		return err
	}
	return a.printSettings(resp.Settings)
}

func (a *App) printSettings(all map[string]string) error {
	if len(all) == 0 {
		fmt.Fprintln(a.out, "no settings")
		return nil
	}
	names := make([]string, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, n := range names {
		fmt.Fprintf(w, "%s\t%s\n", n, all[n])
	}
	return w.Flush()
}
