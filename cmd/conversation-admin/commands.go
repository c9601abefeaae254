package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"conversation_backend/internal/conversation/domain"
	"conversation_backend/internal/conversation/service"
	"conversation_backend/internal/scheduler"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

const adminInitiator = "support"

type lifecycle interface {
	GetConversation(ctx context.Context, tenantID, id uuid.UUID) (domain.Conversation, error)
	ListMessages(ctx context.Context, tenantID, id uuid.UUID, limit int) ([]domain.Message, error)
	ListHistory(ctx context.Context, tenantID, id uuid.UUID) ([]domain.StateHistory, error)
	CloseConversationWithPriority(ctx context.Context, params service.CloseParams) (domain.TransitionResult, error)
	ExtendExpiration(ctx context.Context, params service.ExtendParams) (domain.Conversation, error)
}

type sweeper interface {
	RunOnce(ctx context.Context, name string) (scheduler.SweepResult, error)
}

type environment struct {
	lifecycle  lifecycle
	supervisor sweeper
	out        io.Writer
}

type command func(ctx context.Context, env *environment, args []string) error

var commands = map[string]command{
	"sweep":   runSweep,
	"show":    runShow,
	"history": runHistory,
	"close":   runClose,
	"extend":  runExtend,
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	gray   = color.New(color.FgHiBlack)
)

func runSweep(ctx context.Context, env *environment, args []string) error {
	if len(args) != 1 {
		return errors.New("sweep needs exactly one task: expiry or idle")
	}
	name := strings.ToLower(args[0])
	res, err := env.supervisor.RunOnce(ctx, name)
	if err != nil {
		return err
	}
	green.Fprint(env.out, "▶ ")
	fmt.Fprintf(env.out, "%s sweep: scanned=%d applied=%d skipped=%d failed=%d\n",
		name, res.Scanned, res.Applied, res.Skipped, res.Failed)
	return nil
}

type scopeFlags struct {
	tenant string
	id     string
}

func (s *scopeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&s.tenant, "tenant", "", "tenant (organization) ID")
	fs.StringVar(&s.id, "id", "", "conversation ID")
}

func (s *scopeFlags) parse() (uuid.UUID, uuid.UUID, error) {
	tenantID, err := uuid.Parse(s.tenant)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid -tenant: %w", err)
	}
	id, err := uuid.Parse(s.id)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid -id: %w", err)
	}
	return tenantID, id, nil
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func runShow(ctx context.Context, env *environment, args []string) error {
	var scope scopeFlags
	fs := newFlagSet("show", env.out)
	scope.register(fs)
	limit := fs.Int("limit", 50, "number of messages to print")
	if err := fs.Parse(args); err != nil {
		return err
	}
	tenantID, id, err := scope.parse()
	if err != nil {
		return err
	}

	conv, err := env.lifecycle.GetConversation(ctx, tenantID, id)
	if err != nil {
		return err
	}
	printConversation(env.out, conv)

	messages, err := env.lifecycle.ListMessages(ctx, tenantID, id, *limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(env.out)
	for _, msg := range messages {
		gray.Fprintf(env.out, "%s ", msg.CreatedAt.Format(time.RFC3339))
		cyan.Fprintf(env.out, "%-8s", msg.Role)
		fmt.Fprintf(env.out, " %s\n", msg.Body)
	}
	return nil
}

func runHistory(ctx context.Context, env *environment, args []string) error {
	var scope scopeFlags
	fs := newFlagSet("history", env.out)
	scope.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	tenantID, id, err := scope.parse()
	if err != nil {
		return err
	}

	rows, err := env.lifecycle.ListHistory(ctx, tenantID, id)
	if err != nil {
		return err
	}
	for _, h := range rows {
		from := "-"
		if h.FromStatus != nil {
			from = string(*h.FromStatus)
		}
		gray.Fprintf(env.out, "%s ", h.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(env.out, "%s -> ", from)
		statusColor(h.ToStatus).Fprint(env.out, h.ToStatus)
		fmt.Fprintf(env.out, " by %s", h.InitiatedBy)
		if h.Reason != "" {
			fmt.Fprintf(env.out, " (%s)", h.Reason)
		}
		fmt.Fprintln(env.out)
	}
	return nil
}

func runClose(ctx context.Context, env *environment, args []string) error {
	var scope scopeFlags
	fs := newFlagSet("close", env.out)
	scope.register(fs)
	status := fs.String("status", string(domain.StatusSupportClosed), "terminal status")
	reason := fs.String("reason", "closed by admin", "audit reason")
	if err := fs.Parse(args); err != nil {
		return err
	}
	tenantID, id, err := scope.parse()
	if err != nil {
		return err
	}
	target, err := domain.ParseStatus(*status)
	if err != nil {
		return err
	}

	res, err := env.lifecycle.CloseConversationWithPriority(ctx, service.CloseParams{
		TenantID:       tenantID,
		ConversationID: id,
		Status:         target,
		Reason:         *reason,
		InitiatedBy:    adminInitiator,
	})
	if err != nil {
		return err
	}
	if !res.Applied {
		yellow.Fprint(env.out, "▶ ")
		fmt.Fprintf(env.out, "not applied: %s stays %s (%s)\n", id, res.From, res.Reason)
		return nil
	}
	green.Fprint(env.out, "▶ ")
	fmt.Fprintf(env.out, "%s: %s -> %s", id, res.From, res.To)
	if res.Override {
		fmt.Fprint(env.out, " (override)")
	}
	fmt.Fprintln(env.out)
	return nil
}

func runExtend(ctx context.Context, env *environment, args []string) error {
	var scope scopeFlags
	fs := newFlagSet("extend", env.out)
	scope.register(fs)
	minutes := fs.Int("minutes", 0, "minutes to add (default: configured extension)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	tenantID, id, err := scope.parse()
	if err != nil {
		return err
	}

	params := service.ExtendParams{TenantID: tenantID, ConversationID: id, InitiatedBy: adminInitiator}
	if *minutes != 0 {
		params.Minutes = minutes
	}
	conv, err := env.lifecycle.ExtendExpiration(ctx, params)
	if err != nil {
		return err
	}
	green.Fprint(env.out, "▶ ")
	fmt.Fprintf(env.out, "%s now expires at %s\n", conv.ID, formatTime(conv.ExpiresAt))
	return nil
}

func printConversation(out io.Writer, conv domain.Conversation) {
	fmt.Fprintf(out, "Conversation: %s\n", conv.ID)
	fmt.Fprint(out, "Status:       ")
	statusColor(conv.Status).Fprintln(out, conv.Status)
	fmt.Fprintf(out, "Channel:      %s\n", conv.Channel)
	fmt.Fprintf(out, "From -> To:   %s -> %s\n", conv.FromAddr, conv.ToAddr)
	fmt.Fprintf(out, "Started:      %s\n", conv.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Expires:      %s\n", formatTime(conv.ExpiresAt))
	if conv.EndedAt != nil {
		fmt.Fprintf(out, "Ended:        %s\n", formatTime(conv.EndedAt))
	}
}

func statusColor(status domain.ConversationStatus) *color.Color {
	switch {
	case status == domain.StatusFailed:
		return color.New(color.FgRed)
	case status.IsActive():
		return green
	default:
		return yellow
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
