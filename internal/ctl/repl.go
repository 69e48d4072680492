package ctl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// errQuit ends the REPL.
var errQuit = errors.New("quit")

// execIface is the command surface the REPL drives. App implements it;
// tests use a stub.
type execIface interface {
	Ping(ctx context.Context) error
	Submit(ctx context.Context, kind string, args []string) error
	Tasks(ctx context.Context, args []string) error
	Task(ctx context.Context, args []string) error
	Cancel(ctx context.Context, args []string) error
	Items(ctx context.Context, args []string) error
	Accounts(ctx context.Context, args []string) error
	Enroll(ctx context.Context) error
	Login(ctx context.Context, args []string) error
	Invalidate(ctx context.Context, args []string) error
	Reenroll(ctx context.Context, args []string) error
	Proxies(ctx context.Context) error
	AddProxy(ctx context.Context, args []string) error
	Retire(ctx context.Context, args []string) error
	Revalidate(ctx context.Context, args []string) error
	Backup(ctx context.Context) error
	Settings(ctx context.Context) error
	Set(ctx context.Context, args []string) error
}

const helpText = `Commands:
  ping                          engine status
  publish [target]              queue a publish task (text prompted)
  join [target]                 queue a join task
  fetch [target] [limit]        queue a fetch task
  tasks [state...]              list tasks
  task <id>                     show one task
  cancel <id>                   cancel a task
  items <id>                    items collected by a fetch task
  accounts [status...]          list accounts
  enroll                        enroll an account
  login <account-id>            authenticate, prompting for codes
  invalidate <account-id>       log an account out
  reenroll <account-id>         reset a banned or revoked account
  proxies                       list proxies
  addproxy [host] [port]        add a SOCKS5 proxy
  retire <proxy-id>             retire a proxy
  revalidate <proxy-id>         check a proxy and revive it
  backup                        take a backup now
  settings                      list operator settings
  set <name> [value]            change a setting, no value clears it
  exit | quit                   leave`

// runREPL reads command lines from reader until EOF or exit. Command
// errors are printed and the loop continues. Commands prompting for more
// input read from the same reader, so no line is buffered ahead.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("tgfleet (%s)> ", statusFn()))
		line, rerr := reader.ReadString('\n')
		if rerr != nil && line == "" {
			return
		}
		err := dispatchLine(ctx, a, line)
		if errors.Is(err, errQuit) {
			printlnFn("Bye!")
			return
		}
		if err != nil {
			printlnFn("error:", err)
		}
	}
}

func dispatchLine(ctx context.Context, a execIface, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd, args := parts[0], parts[1:]

	switch cmd {
	case "help":
		printlnFn(helpText)
		return nil
	case "ping":
		return a.Ping(ctx)
	case "publish", "join", "fetch":
		return a.Submit(ctx, cmd, args)
	case "tasks", "t":
		return a.Tasks(ctx, args)
	case "task":
		return a.Task(ctx, args)
	case "cancel":
		return a.Cancel(ctx, args)
	case "items":
		return a.Items(ctx, args)
	case "accounts", "a":
		return a.Accounts(ctx, args)
	case "enroll":
		return a.Enroll(ctx)
	case "login":
		return a.Login(ctx, args)
	case "invalidate", "logout":
		return a.Invalidate(ctx, args)
	case "reenroll":
		return a.Reenroll(ctx, args)
	case "proxies", "p":
		return a.Proxies(ctx)
	case "addproxy":
		return a.AddProxy(ctx, args)
	case "retire":
		return a.Retire(ctx, args)
	case "revalidate":
		return a.Revalidate(ctx, args)
	case "backup":
		return a.Backup(ctx)
	case "settings":
		return a.Settings(ctx)
	case "set":
		return a.Set(ctx, args)
	case "exit", "quit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
