// Command tgfleet runs the automation engine.
//
//	tgfleet [serve] [flags]             run the engine
//	tgfleet token <operator> [flags]    print a control API access token
//	tgfleet restore <file> [identity]   load a backup into the database
//	tgfleet rekey [flags]               re-seal secrets under the current key
//
// Settings come from TGFLEET_* variables, a .env file, -c config.json and
// flags, in that order.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dmitrijs2005/tgfleet/internal/engine"
	"github.com/dmitrijs2005/tgfleet/internal/engine/auth"
	"github.com/dmitrijs2005/tgfleet/internal/engine/config"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	args := positional(os.Args[1:])
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		app, err := engine.NewApp(ctx, cfg, os.Stdout)
		if err != nil {
			log.Fatalf("%v", err)
		}
		if err := app.Run(ctx); err != nil {
			log.Fatalf("%v", err)
		}

	case "token":
		if len(args) != 1 {
			log.Fatal("usage: tgfleet token <operator>")
		}
		token, err := auth.GenerateToken(args[0], []byte(cfg.SecretKey), cfg.TokenValidity)
		if err != nil {
			log.Fatalf("token: %v", err)
		}
		fmt.Println(token)

	case "restore":
		if len(args) < 1 || len(args) > 2 {
			log.Fatal("usage: tgfleet restore <file> [identity-file]")
		}
		var identities []string
		if len(args) == 2 {
			identities, err = readIdentities(args[1])
			if err != nil {
				log.Fatalf("restore: %v", err)
			}
		}
		if err := engine.Restore(ctx, cfg, args[0], identities...); err != nil {
			log.Fatalf("restore: %v", err)
		}
		fmt.Println("restored", args[0])

	case "rekey":
		n, err := engine.Rekey(ctx, cfg)
		if err != nil {
			log.Fatalf("rekey: %v", err)
		}
		fmt.Printf("re-sealed %d rows\n", n)

	default:
		log.Fatalf("unknown command %q", cmd)
	}
}

// positional drops flags and their values from args. Flag values are
// recognised the same way the config loader takes them.
func positional(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "-") {
			out = append(out, a)
			continue
		}
		if !strings.Contains(a, "=") && !isBool(a) && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			i++
		}
	}
	return out
}

func isBool(flag string) bool {
	return strings.TrimLeft(flag, "-") == "require-proxy"
}

// readIdentities returns the age identities in an identity file, skipping
// comments and blank lines.
func readIdentities(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	return ids, nil
}
