// Command conversation-admin runs lifecycle maintenance by hand: one-off
// sweeps, forced closes, deadline extensions and transcript inspection.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"conversation_backend/internal/conversation/repository"
	"conversation_backend/internal/conversation/service"
	"conversation_backend/internal/events"
	"conversation_backend/internal/scheduler"
	"conversation_backend/platform/config"
	"conversation_backend/platform/db"
	"conversation_backend/platform/logger"

	"github.com/fatih/color"
)

const usage = `usage: conversation-admin <command> [flags]

commands:
  sweep expiry|idle                     run one reconciliation pass
  show    -tenant ID -id ID             print a conversation and its transcript
  history -tenant ID -id ID             print the status audit trail
  close   -tenant ID -id ID -status S   close with priority rules
  extend  -tenant ID -id ID [-minutes N]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	cmd, ok := commands[command]
	if !ok {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logger.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	lifecycleCfg, err := service.ConfigFrom(cfg)
	if err != nil {
		return err
	}

	bus := events.NewInMemoryBus(log)
	repo := repository.New(pool)
	svc := service.New(repo, bus, log.WithComponent("conversation"), lifecycleCfg)
	env := &environment{
		lifecycle: svc,
		supervisor: scheduler.NewSupervisor(log.WithComponent("scheduler"),
			scheduler.NewExpirySweep(repo, svc, log, 0),
			scheduler.NewIdleSweep(repo, svc, log, 0),
		),
		out: os.Stdout,
	}

	err = cmd(ctx, env, args)
	bus.Wait()
	return err
}
