// Command tgfleet-ctl is the operator console for the tgfleet engine.
//
//	tgfleet-ctl [-a addr] [-t token]               interactive console
//	tgfleet-ctl [-a addr] [-t token] <command...>  run one command and exit
package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/dmitrijs2005/tgfleet/internal/ctl"
	"github.com/dmitrijs2005/tgfleet/internal/ctl/config"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	app, err := ctl.NewApp(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if args := positional(os.Args[1:]); len(args) > 0 {
		err := app.Exec(ctx, strings.Join(args, " "))
		_ = app.Close()
		if err != nil {
			log.Fatalf("%v", err)
		}
		return
	}
	app.Run(ctx)
}

// positional drops the console's own flags and their values.
func positional(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		switch a := args[i]; {
		case a == "-a" || a == "-t" || a == "-c" || a == "-config" || a == "-timeout" || a == "--timeout":
			i++
		case strings.HasPrefix(a, "-"):
		default:
			out = append(out, a)
		}
	}
	return out
}
