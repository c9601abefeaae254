package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"conversation_backend/internal/conversation/domain"
	"conversation_backend/internal/conversation/repository"
	"conversation_backend/internal/events"
	"conversation_backend/platform/apperr"
	"conversation_backend/platform/logger"

	"github.com/google/uuid"
)

type memoryRepo struct {
	mu       sync.Mutex
	convs    map[uuid.UUID]domain.Conversation
	messages map[uuid.UUID][]domain.Message
	history  map[uuid.UUID][]domain.StateHistory

	appendErr error
	// conflicts forces that many UpdateStatus calls to lose the CAS.
	conflicts int
	// raceOnCreate inserts a competing active conversation before Create.
	raceOnCreate bool
	// afterGet and afterFind run once, outside the lock, after the next
	// successful GetByID or FindActiveBySessionKey. They stage a concurrent
	// writer landing between a read and the write that follows it.
	afterGet  func(domain.Conversation)
	afterFind func(domain.Conversation)
}

var _ repository.Repository = (*memoryRepo)(nil)

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		convs:    make(map[uuid.UUID]domain.Conversation),
		messages: make(map[uuid.UUID][]domain.Message),
		history:  make(map[uuid.UUID][]domain.StateHistory),
	}
}

func (r *memoryRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (domain.Conversation, error) {
	r.mu.Lock()
	c, ok := r.convs[id]
	hook := r.afterGet
	if ok && c.TenantID == tenantID {
		r.afterGet = nil
	}
	r.mu.Unlock()
	if !ok || c.TenantID != tenantID {
		return domain.Conversation{}, apperr.NotFound("conversation not found")
	}
	if hook != nil {
		hook(c)
	}
	return c, nil
}

func (r *memoryRepo) FindActiveBySessionKey(_ context.Context, tenantID uuid.UUID, key domain.SessionKey) (*domain.Conversation, error) {
	r.mu.Lock()
	var found *domain.Conversation
	for _, c := range r.convs {
		if c.TenantID == tenantID && c.SessionKey == key && c.Status.IsActive() {
			match := c
			found = &match
			break
		}
	}
	hook := r.afterFind
	if found != nil {
		r.afterFind = nil
	}
	r.mu.Unlock()
	if found != nil && hook != nil {
		hook(*found)
	}
	return found, nil
}

func (r *memoryRepo) FindExpired(_ context.Context, now time.Time, limit int) ([]domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Conversation
	for _, c := range r.convs {
		if domain.IsExpired(c, now) {
			out = append(out, c)
		}
	}
	return truncate(out, limit), nil
}

func (r *memoryRepo) FindIdle(_ context.Context, cutoff time.Time, limit int) ([]domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Conversation
	for _, c := range r.convs {
		if c.Status == domain.StatusProgress && c.UpdatedAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	return truncate(out, limit), nil
}

func (r *memoryRepo) List(_ context.Context, params repository.ListParams) ([]domain.Conversation, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Conversation
	for _, c := range r.convs {
		if c.TenantID != params.TenantID {
			continue
		}
		if params.Status != nil && c.Status != *params.Status {
			continue
		}
		if params.ActiveOnly && !c.Status.IsActive() {
			continue
		}
		out = append(out, c)
	}
	total := len(out)
	if params.Offset >= len(out) {
		return nil, total, nil
	}
	return truncate(out[params.Offset:], params.Limit), total, nil
}

func (r *memoryRepo) Create(_ context.Context, conv domain.Conversation, audit repository.CreateAudit) (domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.raceOnCreate {
		r.raceOnCreate = false
		winner := conv
		winner.ID = uuid.New()
		r.convs[winner.ID] = winner
	}
	for _, c := range r.convs {
		if c.TenantID == conv.TenantID && c.SessionKey == conv.SessionKey && c.Status.IsActive() {
			return domain.Conversation{}, repository.ErrActiveConflict
		}
	}
	r.convs[conv.ID] = conv
	r.history[conv.ID] = append(r.history[conv.ID], domain.StateHistory{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		ToStatus:       conv.Status,
		InitiatedBy:    audit.InitiatedBy,
		Reason:         audit.Reason,
		Metadata:       audit.Metadata,
		CreatedAt:      conv.StartedAt,
	})
	return conv, nil
}

func (r *memoryRepo) UpdateStatus(_ context.Context, u repository.StatusUpdate) (domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[u.ConversationID]
	if !ok || c.TenantID != u.TenantID {
		return domain.Conversation{}, apperr.NotFound("conversation not found")
	}
	if r.conflicts > 0 {
		r.conflicts--
		return domain.Conversation{}, repository.ErrStatusConflict
	}
	if c.Status != u.ExpectedStatus {
		return domain.Conversation{}, repository.ErrStatusConflict
	}
	if u.UpdatedBefore != nil && !c.UpdatedAt.Before(*u.UpdatedBefore) {
		return domain.Conversation{}, repository.ErrStatusConflict
	}
	if u.ExpiresBefore != nil && (c.ExpiresAt == nil || c.ExpiresAt.After(*u.ExpiresBefore)) {
		return domain.Conversation{}, repository.ErrStatusConflict
	}

	c.Status = u.NewStatus
	c.EndedAt = u.EndedAt
	if !u.KeepExpiry {
		c.ExpiresAt = u.ExpiresAt
	}
	if u.Context != nil {
		c.Context = c.Context.Merge(*u.Context)
	}
	c.UpdatedAt = u.At
	r.convs[c.ID] = c

	from := u.ExpectedStatus
	r.history[c.ID] = append(r.history[c.ID], domain.StateHistory{
		ID:             uuid.New(),
		ConversationID: c.ID,
		FromStatus:     &from,
		ToStatus:       u.NewStatus,
		InitiatedBy:    u.InitiatedBy,
		Reason:         u.Reason,
		Metadata:       u.HistoryMetadata,
		CreatedAt:      u.At,
	})
	return c, nil
}

func (r *memoryRepo) mutate(tenantID, id uuid.UUID, fn func(*domain.Conversation)) (domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok || c.TenantID != tenantID {
		return domain.Conversation{}, apperr.NotFound("conversation not found")
	}
	fn(&c)
	r.convs[id] = c
	return c, nil
}

func (r *memoryRepo) UpdateContext(_ context.Context, tenantID, id uuid.UUID, patch domain.ConversationContext) (domain.Conversation, error) {
	return r.mutate(tenantID, id, func(c *domain.Conversation) { c.Context = c.Context.Merge(patch) })
}

func (r *memoryRepo) UpdateExpiry(_ context.Context, tenantID, id uuid.UUID, expiresAt *time.Time, patch domain.ConversationContext) (domain.Conversation, error) {
	return r.mutate(tenantID, id, func(c *domain.Conversation) {
		c.ExpiresAt = expiresAt
		c.Context = c.Context.Merge(patch)
	})
}

func (r *memoryRepo) UpdateAssignment(_ context.Context, tenantID, id uuid.UUID, userID *uuid.UUID, patch domain.ConversationContext) (domain.Conversation, error) {
	return r.mutate(tenantID, id, func(c *domain.Conversation) {
		c.AssignedUserID = userID
		c.Context = c.Context.Merge(patch)
	})
}

func (r *memoryRepo) TouchActivity(_ context.Context, tenantID, id uuid.UUID, at time.Time, expiresAt *time.Time) (domain.Conversation, error) {
	return r.mutate(tenantID, id, func(c *domain.Conversation) {
		if at.After(c.UpdatedAt) {
			c.UpdatedAt = at
		}
		if expiresAt != nil && c.Status.IsActive() {
			c.ExpiresAt = expiresAt
		}
	})
}

func (r *memoryRepo) AppendMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return domain.Message{}, r.appendErr
	}
	if msg.ProviderMessageID != nil {
		for _, msgs := range r.messages {
			for _, m := range msgs {
				if m.TenantID == msg.TenantID && m.ProviderMessageID != nil && *m.ProviderMessageID == *msg.ProviderMessageID {
					return domain.Message{}, repository.ErrDuplicateMessage
				}
			}
		}
	}
	r.messages[msg.ConversationID] = append(r.messages[msg.ConversationID], msg)
	return msg, nil
}

func (r *memoryRepo) ListMessages(_ context.Context, _ uuid.UUID, conversationID uuid.UUID, limit int) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := append([]domain.Message(nil), r.messages[conversationID]...)
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (r *memoryRepo) ListHistory(_ context.Context, _ uuid.UUID, conversationID uuid.UUID) ([]domain.StateHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StateHistory(nil), r.history[conversationID]...), nil
}

func (r *memoryRepo) setStatus(id uuid.UUID, status domain.ConversationStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.convs[id]
	c.Status = status
	r.convs[id] = c
}

func (r *memoryRepo) setUpdatedAt(id uuid.UUID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.convs[id]
	c.UpdatedAt = at
	r.convs[id] = c
}

func truncate(items []domain.Conversation, limit int) []domain.Conversation {
	sort.Slice(items, func(i, j int) bool { return items[i].StartedAt.Before(items[j].StartedAt) })
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) named(name string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, e := range b.events {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingScheduler struct {
	mu    sync.Mutex
	calls map[uuid.UUID]time.Time
}

func (s *recordingScheduler) ScheduleExpiry(_ context.Context, _ uuid.UUID, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[uuid.UUID]time.Time)
	}
	s.calls[id] = at
	return nil
}

type fakeSender struct {
	to   string
	body string
	err  error
}

func (f *fakeSender) SendText(_ context.Context, to, body string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.to, f.body = to, body
	return "wamid.reply-1", nil
}

type harness struct {
	svc   *Service
	repo  *memoryRepo
	bus   *recordingBus
	clock *fakeClock
}

func newHarness() *harness {
	repo := newMemoryRepo()
	bus := &recordingBus{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := New(repo, bus, logger.Discard(), DefaultConfig())
	svc.now = clock.Now
	return &harness{svc: svc, repo: repo, bus: bus, clock: clock}
}
