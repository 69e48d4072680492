package ctl

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	calls []string
	args  [][]string
	err   error
}

func (f *fakeExec) rec(name string, args []string) error {
	f.calls = append(f.calls, name)
	f.args = append(f.args, args)
	return f.err
}

func (f *fakeExec) Ping(context.Context) error { return f.rec("ping", nil) }
func (f *fakeExec) Submit(_ context.Context, kind string, args []string) error {
	return f.rec("submit:"+kind, args)
}
func (f *fakeExec) Tasks(_ context.Context, args []string) error    { return f.rec("tasks", args) }
func (f *fakeExec) Task(_ context.Context, args []string) error     { return f.rec("task", args) }
func (f *fakeExec) Cancel(_ context.Context, args []string) error   { return f.rec("cancel", args) }
func (f *fakeExec) Items(_ context.Context, args []string) error    { return f.rec("items", args) }
func (f *fakeExec) Accounts(_ context.Context, args []string) error { return f.rec("accounts", args) }
func (f *fakeExec) Enroll(context.Context) error                    { return f.rec("enroll", nil) }
func (f *fakeExec) Login(_ context.Context, args []string) error    { return f.rec("login", args) }
func (f *fakeExec) Invalidate(_ context.Context, args []string) error {
	return f.rec("invalidate", args)
}
func (f *fakeExec) Reenroll(_ context.Context, args []string) error { return f.rec("reenroll", args) }
func (f *fakeExec) Proxies(context.Context) error                   { return f.rec("proxies", nil) }
func (f *fakeExec) AddProxy(_ context.Context, args []string) error { return f.rec("addproxy", args) }
func (f *fakeExec) Retire(_ context.Context, args []string) error   { return f.rec("retire", args) }
func (f *fakeExec) Revalidate(_ context.Context, args []string) error {
	return f.rec("revalidate", args)
}
func (f *fakeExec) Backup(context.Context) error   { return f.rec("backup", nil) }
func (f *fakeExec) Settings(context.Context) error { return f.rec("settings", nil) }
func (f *fakeExec) Set(_ context.Context, args []string) error {
	return f.rec("set", args)
}

func silence(t *testing.T) *[]string {
	t.Helper()
	var lines []string
	orig := printlnFn
	printlnFn = func(a ...any) (int, error) {
		parts := make([]string, 0, len(a))
		for _, v := range a {
			if s, ok := v.(string); ok {
				parts = append(parts, s)
			} else if e, ok := v.(error); ok {
				parts = append(parts, e.Error())
			}
		}
		lines = append(lines, strings.Join(parts, " "))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = orig })
	return &lines
}

func TestRunREPL_DispatchesCommands(t *testing.T) {
	silence(t)

	input := strings.Join([]string{
		"help",
		"",
		"ping",
		"publish @news",
		"join https://t.me/+abc",
		"fetch @feed 50",
		"tasks pending deferred",
		"task 1",
		"cancel 1",
		"items 1",
		"accounts active",
		"enroll",
		"login acc-1",
		"logout acc-1",
		"reenroll acc-1",
		"proxies",
		"addproxy 10.0.0.1 1080",
		"retire p-1",
		"revalidate p-1",
		"backup",
		"settings",
		"set backup.channel @backups",
		"exit",
		"ping",
	}, "\n")

	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "s" }, bufio.NewReader(strings.NewReader(input)))

	assert.Equal(t, []string{
		"ping", "submit:publish", "submit:join", "submit:fetch", "tasks", "task", "cancel", "items",
		"accounts", "enroll", "login", "invalidate", "reenroll", "proxies", "addproxy", "retire",
		"revalidate", "backup", "settings", "set",
	}, exec.calls)
	assert.Equal(t, []string{"backup.channel", "@backups"}, exec.args[19])
	assert.Equal(t, []string{"@feed", "50"}, exec.args[3])
	assert.Equal(t, []string{"pending", "deferred"}, exec.args[4])
}

func TestRunREPL_ErrorsDoNotStopTheLoop(t *testing.T) {
	lines := silence(t)

	exec := &fakeExec{err: errors.New("boom")}
	runREPL(context.Background(), exec, func() string { return "s" }, bufio.NewReader(strings.NewReader("ping\nfoobar\nping")))

	require.Equal(t, []string{"ping", "ping"}, exec.calls)
	assert.Contains(t, *lines, "error: boom")
	assert.Contains(t, *lines, `error: unknown command "foobar"`)
}

func TestDispatchLine_Quit(t *testing.T) {
	exec := &fakeExec{}
	assert.ErrorIs(t, dispatchLine(context.Background(), exec, "quit"), errQuit)
	assert.NoError(t, dispatchLine(context.Background(), exec, "   "))
	assert.Empty(t, exec.calls)
}
