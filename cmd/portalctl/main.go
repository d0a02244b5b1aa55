package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/customer-portal/cmd/portalctl/cli"
	"github.com/odyssey-erp/customer-portal/internal/app"
	"github.com/odyssey-erp/customer-portal/internal/platform/cache"
)

const usage = `usage: portalctl <command> [flags]

commands:
  statement  enqueue a statement render (--customer, --from, --to, --json)
  queue      show default queue counters (--scheduled N, --json)
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobsCLI, err := cli.NewJobsCLI(redisOpts.Asynq())
	if err != nil {
		fmt.Fprintf(os.Stderr, "portalctl: %v\n", err)
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "statement":
		fs := flag.NewFlagSet("statement", flag.ContinueOnError)
		var opts cli.StatementOptions
		fs.StringVar(&opts.Customer, "customer", "", "customer id (default customer when empty)")
		fs.StringVar(&opts.From, "from", "", "period start YYYY-MM-DD")
		fs.StringVar(&opts.To, "to", "", "period end YYYY-MM-DD")
		fs.BoolVar(&opts.JSONOutput, "json", false, "print JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		return jobsCLI.StatementCommand(ctx, opts)
	case "queue":
		fs := flag.NewFlagSet("queue", flag.ContinueOnError)
		var opts cli.QueueOptions
		fs.IntVar(&opts.Scheduled, "scheduled", 0, "list the next N scheduled tasks")
		fs.BoolVar(&opts.JSONOutput, "json", false, "print JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		return jobsCLI.QueueCommand(ctx, opts)
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
}
