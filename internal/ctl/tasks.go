package ctl

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/api"
)

func (a *App) Ping(ctx context.Context) error {
	var resp *api.PingResponse
	err := a.call(ctx, func(ctx context.Context) (err error) {
		resp, err = a.client.Ping(ctx, &api.Empty{})
		return err
	})
	a.online = err == nil
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "engine %s, %d task(s) running\n", resp.Status, resp.Running)
	return nil
}

// Submit queues a task of kind. Publish prompts for the message text;
// fetch takes an optional item limit.
func (a *App) Submit(ctx context.Context, kind string, args []string) error {
	target, err := a.arg(args, 0, "Target (@username, link or id)")
	if err != nil {
		return err
	}
	req := &api.SubmitTaskRequest{Kind: kind, Target: target}

	switch kind {
	case "publish":
		req.Text, err = GetMultiline(a.reader, "Message text", a.out)
		if err != nil {
			return err
		}
	case "fetch":
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid limit %q", args[1])
			}
			req.Limit = n
		}
	}

	var resp *api.TaskResponse
	err = a.call(ctx, func(ctx context.Context) (err error) {
		resp, err = a.client.SubmitTask(ctx, req)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "queued %s task %s\n", resp.Task.Kind, resp.Task.ID)
	return nil
}

// Tasks lists tasks, optionally filtered by state.
func (a *App) Tasks(ctx context.Context, args []string) error {
	var resp *api.ListTasksResponse
	err := a.call(ctx, func(ctx context.Context) (err error) {
		resp, err = a.client.ListTasks(ctx, &api.ListTasksRequest{States: args})
		return err
	})
	if err != nil {
		return err
	}
	if len(resp.Tasks) == 0 {
		fmt.Fprintln(a.out, "no tasks")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tTARGET\tSTATE\tATTEMPTS\tRESULT\tNEXT")
	for _, t := range resp.Tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n", t.ID, t.Kind, t.Target, t.State, t.Attempts, t.ResultCode, when(t.NextEligibleAt))
	}
	return w.Flush()
}

func (a *App) Task(ctx context.Context, args []string) error {
	id, err := a.arg(args, 0, "Task id")
	if err != nil {
		return err
	}
	var resp *api.TaskResponse
	err = a.call(ctx, func(ctx context.Context) (err error) {
		resp, err = a.client.GetTask(ctx, &api.TaskIDRequest{ID: id})
		return err
	})
	if err != nil {
		return err
	}

	t := resp.Task
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "id\t%s\n", t.ID)
	fmt.Fprintf(w, "kind\t%s\n", t.Kind)
	fmt.Fprintf(w, "target\t%s\n", t.Target)
	fmt.Fprintf(w, "state\t%s\n", t.State)
	fmt.Fprintf(w, "attempts\t%d\n", t.Attempts)
	if t.AccountID != "" {
		fmt.Fprintf(w, "account\t%s\n", t.AccountID)
	}
	if t.ResultCode != "" {
		fmt.Fprintf(w, "result\t%s\n", t.ResultCode)
	}
	if t.Reason != "" {
		fmt.Fprintf(w, "reason\t%s\n", t.Reason)
	}
	fmt.Fprintf(w, "next\t%s\n", when(t.NextEligibleAt))
	fmt.Fprintf(w, "requested by\t%s\n", t.RequestedBy)
	return w.Flush()
}

func (a *App) Cancel(ctx context.Context, args []string) error {
	id, err := a.arg(args, 0, "Task id")
	if err != nil {
		return err
	}
	err = a.call(ctx, func(ctx context.Context) error {
		_, err := a.client.CancelTask(ctx, &api.TaskIDRequest{ID: id})
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "cancel requested for", id)
	return nil
}

// Items prints what a fetch task collected so far.
func (a *App) Items(ctx context.Context, args []string) error {
	id, err := a.arg(args, 0, "Task id")
	if err != nil {
		return err
	}
	var resp *api.ListItemsResponse
	err = a.call(ctx, func(ctx context.Context) (err error) {
		resp, err = a.client.ListItems(ctx, &api.TaskIDRequest{ID: id})
		return err
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM\tMEDIA\tTEXT")
	for _, it := range resp.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\n", it.ItemID, it.MediaPath, clip(it.Text, 60))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d item(s)\n", len(resp.Items))
	return nil
}

func when(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
