package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"conversation_backend/internal/conversation/domain"
	"conversation_backend/internal/conversation/service"
	"conversation_backend/internal/scheduler"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

type fakeLifecycle struct {
	conv      domain.Conversation
	messages  []domain.Message
	history   []domain.StateHistory
	closeReq  *service.CloseParams
	closeRes  domain.TransitionResult
	extendReq *service.ExtendParams
}

func (f *fakeLifecycle) GetConversation(context.Context, uuid.UUID, uuid.UUID) (domain.Conversation, error) {
	return f.conv, nil
}

func (f *fakeLifecycle) ListMessages(context.Context, uuid.UUID, uuid.UUID, int) ([]domain.Message, error) {
	return f.messages, nil
}

func (f *fakeLifecycle) ListHistory(context.Context, uuid.UUID, uuid.UUID) ([]domain.StateHistory, error) {
	return f.history, nil
}

func (f *fakeLifecycle) CloseConversationWithPriority(_ context.Context, params service.CloseParams) (domain.TransitionResult, error) {
	f.closeReq = &params
	return f.closeRes, nil
}

func (f *fakeLifecycle) ExtendExpiration(_ context.Context, params service.ExtendParams) (domain.Conversation, error) {
	f.extendReq = &params
	return f.conv, nil
}

type fakeSweeper struct {
	ran []string
}

func (f *fakeSweeper) RunOnce(_ context.Context, name string) (scheduler.SweepResult, error) {
	f.ran = append(f.ran, name)
	return scheduler.SweepResult{Scanned: 3, Applied: 2, Skipped: 1}, nil
}

func newTestEnv() (*environment, *fakeLifecycle, *fakeSweeper, *bytes.Buffer) {
	color.NoColor = true
	out := &bytes.Buffer{}
	lc := &fakeLifecycle{}
	sw := &fakeSweeper{}
	return &environment{lifecycle: lc, supervisor: sw, out: out}, lc, sw, out
}

func scopeArgs(extra ...string) []string {
	return append([]string{"-tenant", uuid.NewString(), "-id", uuid.NewString()}, extra...)
}

func TestRunSweep(t *testing.T) {
	env, _, sw, out := newTestEnv()

	if err := runSweep(context.Background(), env, []string{"Expiry"}); err != nil {
		t.Fatalf("runSweep returned error: %v", err)
	}
	if len(sw.ran) != 1 || sw.ran[0] != "expiry" {
		t.Fatalf("unexpected sweeps %v", sw.ran)
	}
	if !strings.Contains(out.String(), "scanned=3 applied=2 skipped=1 failed=0") {
		t.Fatalf("unexpected output %q", out.String())
	}

	if err := runSweep(context.Background(), env, nil); err == nil {
		t.Fatal("expected error without task name")
	}
}

func TestRunCloseUsesSupportInitiator(t *testing.T) {
	env, lc, _, out := newTestEnv()
	lc.closeRes = domain.TransitionResult{Applied: true, Override: true, From: domain.StatusExpired, To: domain.StatusUserClosed}

	if err := runClose(context.Background(), env, scopeArgs("-status", "user_closed")); err != nil {
		t.Fatalf("runClose returned error: %v", err)
	}
	if lc.closeReq == nil || lc.closeReq.Status != domain.StatusUserClosed || lc.closeReq.InitiatedBy != adminInitiator {
		t.Fatalf("unexpected close request %+v", lc.closeReq)
	}
	if !strings.Contains(out.String(), "expired -> user_closed (override)") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRunCloseReportsRejection(t *testing.T) {
	env, lc, _, out := newTestEnv()
	lc.closeRes = domain.TransitionResult{Applied: false, From: domain.StatusFailed, To: domain.StatusExpired, Reason: domain.ReasonSameStatus}

	if err := runClose(context.Background(), env, scopeArgs("-status", "expired")); err != nil {
		t.Fatalf("runClose returned error: %v", err)
	}
	if !strings.Contains(out.String(), "not applied") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRunCloseRejectsBadInput(t *testing.T) {
	env, lc, _, _ := newTestEnv()

	if err := runClose(context.Background(), env, []string{"-tenant", "nope", "-id", uuid.NewString()}); err == nil {
		t.Fatal("expected error for invalid tenant")
	}
	if err := runClose(context.Background(), env, scopeArgs("-status", "archived")); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if lc.closeReq != nil {
		t.Fatal("service should not be called on bad input")
	}
}

func TestRunExtendDefaultsMinutes(t *testing.T) {
	env, lc, _, out := newTestEnv()
	expires := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	lc.conv = domain.Conversation{ID: uuid.New(), ExpiresAt: &expires}

	if err := runExtend(context.Background(), env, scopeArgs()); err != nil {
		t.Fatalf("runExtend returned error: %v", err)
	}
	if lc.extendReq == nil || lc.extendReq.Minutes != nil {
		t.Fatalf("expected nil minutes, got %+v", lc.extendReq)
	}
	if !strings.Contains(out.String(), "2026-01-01T12:00:00Z") {
		t.Fatalf("unexpected output %q", out.String())
	}

	if err := runExtend(context.Background(), env, scopeArgs("-minutes", "30")); err != nil {
		t.Fatalf("runExtend returned error: %v", err)
	}
	if lc.extendReq.Minutes == nil || *lc.extendReq.Minutes != 30 {
		t.Fatalf("expected 30 minutes, got %+v", lc.extendReq.Minutes)
	}
}

func TestRunHistoryPrintsTrail(t *testing.T) {
	env, lc, _, out := newTestEnv()
	pending := domain.StatusPending
	lc.history = []domain.StateHistory{
		{ToStatus: domain.StatusPending, InitiatedBy: domain.RoleSystem},
		{FromStatus: &pending, ToStatus: domain.StatusProgress, InitiatedBy: domain.RoleUser, Reason: "first reply"},
	}

	if err := runHistory(context.Background(), env, scopeArgs()); err != nil {
		t.Fatalf("runHistory returned error: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "- -> pending by system") || !strings.Contains(got, "pending -> progress by user (first reply)") {
		t.Fatalf("unexpected output %q", got)
	}
}
