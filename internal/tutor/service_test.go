package tutor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/tutorhub/internal/domain"
	"github.com/ashureev/tutorhub/internal/provider"
	"github.com/ashureev/tutorhub/internal/store"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type fakeGenerator struct {
	mu      sync.Mutex
	replies []*provider.Reply
	err     error
	calls   [][]domain.PromptMessage
}

func (f *fakeGenerator) Send(_ context.Context, _ *domain.Agent, messages []domain.PromptMessage) (*provider.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]domain.PromptMessage(nil), messages...))
	if f.err != nil {
		return nil, f.err
	}
	if len(f.replies) == 0 {
		return &provider.Reply{Content: "ok", Tokens: 3}, nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

func (f *fakeGenerator) lastCall() []domain.PromptMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

type countingRefresher struct {
	n atomic.Int32
}

func (r *countingRefresher) Enqueue(string) { r.n.Add(1) }

type fixture struct {
	repo    *store.SQLiteStore
	gen     *fakeGenerator
	svc     *Service
	user    *domain.User
	agent   *domain.Agent
	topic   *domain.Topic
	refresh *countingRefresher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "tutor.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	f := &fixture{
		repo:    repo,
		gen:     &fakeGenerator{},
		user:    &domain.User{ID: "u1", Email: "ada@example.com", FullName: "Ada", Role: domain.RoleStudent, IsActive: true, CreatedAt: t0, UpdatedAt: t0},
		refresh: &countingRefresher{},
		agent: &domain.Agent{
			ID: "a1", Name: "Shell Tutor", Provider: domain.ProviderEcho, IsActive: true,
			SystemPrompt:   "You teach {{topic.title}} to {{user.full_name}} at level {{topic.difficulty_level}}.",
			WelcomeMessage: "Welcome {{user.full_name}}!{{missing.field}}",
			CreatedAt:      t0, UpdatedAt: t0,
		},
		topic: &domain.Topic{ID: "t1", Title: "Pipes", DifficultyLevel: 2, AgentID: "a1", CreatedAt: t0, UpdatedAt: t0},
	}
	if err := repo.UpsertUser(ctx, f.user); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	if err := repo.UpsertAgent(ctx, f.agent); err != nil {
		t.Fatalf("UpsertAgent failed: %v", err)
	}
	if err := repo.UpsertTopic(ctx, f.topic); err != nil {
		t.Fatalf("UpsertTopic failed: %v", err)
	}

	var seq atomic.Int64
	f.svc = NewService(repo, f.gen, nil, DefaultConfig(), nil,
		WithRefresher(f.refresh),
		WithClock(func() time.Time { return t0 }),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }),
	)
	return f
}

func (f *fixture) transcript(t *testing.T, sessionID string) []*domain.ChatMessage {
	t.Helper()
	msgs, err := f.repo.ListMessages(context.Background(), sessionID, 0, store.MaxPageSize)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	return msgs
}

func (f *fixture) session(t *testing.T, id string) *domain.Session {
	t.Helper()
	sess, err := f.repo.GetSession(context.Background(), id)
	if err != nil || sess == nil {
		t.Fatalf("GetSession(%s) = %v, %v", id, sess, err)
	}
	return sess
}

func roles(msgs []*domain.ChatMessage) []domain.Role {
	out := make([]domain.Role, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Role)
	}
	return out
}

func TestCreateSessionInitializesTranscript(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	sess, err := f.svc.CreateSession(context.Background(), f.user, "t1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if sess.CompletionRate != 0 || sess.Duration != 0 || !sess.IsActive || sess.AgentID != "a1" {
		t.Fatalf("unexpected new session %+v", sess)
	}

	msgs := f.transcript(t, sess.ID)
	if len(msgs) != 2 || msgs[0].Role != domain.RoleSystem || msgs[1].Role != domain.RoleAssistant {
		t.Fatalf("expected system then assistant, got %v", roles(msgs))
	}
	if msgs[0].Content != "You teach Pipes to Ada at level 2." {
		t.Errorf("unexpected system prompt %q", msgs[0].Content)
	}
	if msgs[1].Content != "Welcome Ada!" {
		t.Errorf("unexpected welcome %q", msgs[1].Content)
	}
}

func TestCreateSessionConflict(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateSession(ctx, f.user, "t1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	_, err = f.svc.CreateSession(ctx, f.user, "t1")
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError at rate 0.0, got %v", err)
	}
	if conflict.SessionID != first.ID || conflict.CompletionRate != 0 {
		t.Fatalf("unexpected conflict payload %+v", conflict)
	}

	done := 1.0
	if _, err := f.svc.UpdateSession(ctx, f.user, first.ID, SessionUpdate{CompletionRate: &done}); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}
	second, err := f.svc.CreateSession(ctx, f.user, "t1")
	if err != nil {
		t.Fatalf("expected creation to succeed at rate 1.0, got %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("expected a new session")
	}
}

func TestCreateSessionErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	orphan := &domain.Topic{ID: "t2", Title: "No agent", DifficultyLevel: 1, CreatedAt: t0, UpdatedAt: t0}
	if err := f.repo.UpsertTopic(ctx, orphan); err != nil {
		t.Fatalf("UpsertTopic failed: %v", err)
	}
	inactive := &domain.Agent{ID: "a2", Name: "Retired", CreatedAt: t0, UpdatedAt: t0}
	if err := f.repo.UpsertAgent(ctx, inactive); err != nil {
		t.Fatalf("UpsertAgent failed: %v", err)
	}
	retired := &domain.Topic{ID: "t3", Title: "Retired", DifficultyLevel: 1, AgentID: "a2", CreatedAt: t0, UpdatedAt: t0}
	if err := f.repo.UpsertTopic(ctx, retired); err != nil {
		t.Fatalf("UpsertTopic failed: %v", err)
	}

	var notFound *domain.NotFoundError
	if _, err := f.svc.CreateSession(ctx, f.user, "missing"); !errors.As(err, &notFound) || notFound.Resource != "topic" {
		t.Errorf("expected topic NotFoundError, got %v", err)
	}
	var invalid *domain.ValidationError
	if _, err := f.svc.CreateSession(ctx, f.user, "t2"); !errors.As(err, &invalid) {
		t.Errorf("expected ValidationError, got %v", err)
	}
	var cfgErr *domain.ConfigurationError
	if _, err := f.svc.CreateSession(ctx, f.user, "t3"); !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}

	views, err := f.repo.ListSessionViews(ctx, store.SessionFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("ListSessionViews failed: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("expected no sessions to be committed, got %d", len(views))
	}
}

func TestCreateSessionRollsBackOnBrokenTemplate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.agent.WelcomeMessage = "Hi {{#user}}{{full_name}}"
	if err := f.repo.UpsertAgent(ctx, f.agent); err != nil {
		t.Fatalf("UpsertAgent failed: %v", err)
	}

	_, err := f.svc.CreateSession(ctx, f.user, "t1")
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}

	existing, err := f.repo.FindActiveSession(ctx, "u1", "t1", false)
	if err != nil {
		t.Fatalf("FindActiveSession failed: %v", err)
	}
	if existing != nil {
		t.Fatalf("expected session row to be rolled back, found %s", existing.ID)
	}
}

func TestProcessTurnScenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, f.user, "t1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	f.gen.replies = []*provider.Reply{{Content: "Hello there", Tokens: 11}}
	out, err := f.svc.ProcessTurn(ctx, f.user, sess.ID, "Hi")
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if len(out) != 2 || out[0].Role != domain.RoleUser || out[0].Content != "Hi" ||
		out[1].Role != domain.RoleAssistant || out[1].Content != "Hello there" || out[1].Tokens != 11 {
		t.Fatalf("unexpected turn result %+v", out)
	}

	msgs := f.transcript(t, sess.ID)
	want := []domain.Role{domain.RoleSystem, domain.RoleAssistant, domain.RoleUser, domain.RoleAssistant}
	if got := roles(msgs); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("transcript roles = %v, want %v", got, want)
	}

	stored := f.session(t, sess.ID)
	if stored.CompletionRate != 0 {
		t.Errorf("expected completion rate 0, got %v", stored.CompletionRate)
	}
	if stored.InteractionData.TotalMessages != 1 || stored.InteractionData.TotalTokens != 11 {
		t.Errorf("unexpected interaction data %+v", stored.InteractionData)
	}
	if !stored.InteractionData.LastInteraction.Equal(t0) {
		t.Errorf("expected last interaction %v, got %v", t0, stored.InteractionData.LastInteraction)
	}

	call := f.gen.lastCall()
	if len(call) != 3 || call[0].Role != domain.RoleSystem || call[2].Content != "Hi" {
		t.Errorf("unexpected provider messages %+v", call)
	}
	if f.refresh.n.Load() != 1 {
		t.Errorf("expected one analytics refresh, got %d", f.refresh.n.Load())
	}
}

func TestCompletionRateIsMonotonic(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, f.user, "t1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	f.gen.replies = []*provider.Reply{
		{Content: "a", CompletionRate: 0.3},
		{Content: "b", CompletionRate: 0.1},
		{Content: "c", CompletionRate: 0.5},
		{Content: "d", CompletionRate: 7},
	}
	var got []float64
	for i := 0; i < 4; i++ {
		if _, err := f.svc.ProcessTurn(ctx, f.user, sess.ID, "next"); err != nil {
			t.Fatalf("ProcessTurn %d failed: %v", i, err)
		}
		got = append(got, f.session(t, sess.ID).CompletionRate)
	}

	want := []float64{0.3, 0.3, 0.5, 1.0}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("completion rates = %v, want %v", got, want)
	}
}

func TestProcessTurnRollsBackOnProviderError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, f.user, "t1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	before := len(f.transcript(t, sess.ID))

	cause := errors.New("upstream 503")
	f.gen.err = &domain.ProviderError{Provider: "fake", Status: 503, Err: cause}
	_, err = f.svc.ProcessTurn(ctx, f.user, sess.ID, "Hi")

	var pe *domain.ProviderError
	if !errors.As(err, &pe) || !errors.Is(err, cause) {
		t.Fatalf("expected ProviderError wrapping cause, got %v", err)
	}
	if after := len(f.transcript(t, sess.ID)); after != before {
		t.Fatalf("transcript grew from %d to %d after failed turn", before, after)
	}
	stored := f.session(t, sess.ID)
	if stored.InteractionData.TotalMessages != 0 {
		t.Fatalf("expected interaction data untouched, got %+v", stored.InteractionData)
	}
	if f.refresh.n.Load() != 0 {
		t.Fatal("expected no analytics refresh after a failed turn")
	}
}

func TestProcessTurnValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, f.user, "t1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	var invalid *domain.ValidationError
	if _, err := f.svc.ProcessTurn(ctx, f.user, sess.ID, "   "); !errors.As(err, &invalid) {
		t.Errorf("expected ValidationError for blank text, got %v", err)
	}

	stranger := &domain.User{ID: "u2", Role: domain.RoleStudent, IsActive: true}
	var notFound *domain.NotFoundError
	if _, err := f.svc.ProcessTurn(ctx, stranger, sess.ID, "hi"); !errors.As(err, &notFound) {
		t.Errorf("expected NotFoundError for another user's session, got %v", err)
	}
	if _, err := f.svc.ProcessTurn(ctx, f.user, "missing", "hi"); !errors.As(err, &notFound) {
		t.Errorf("expected NotFoundError for missing session, got %v", err)
	}
}

func TestProcessTurnContextWindow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.svc.cfg.ContextWindow = 4

	sess, err := f.svc.CreateSession(ctx, f.user, "t1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := f.svc.ProcessTurn(ctx, f.user, sess.ID, fmt.Sprintf("q%d", i)); err != nil {
			t.Fatalf("ProcessTurn failed: %v", err)
		}
	}

	call := f.gen.lastCall()
	if len(call) != 5 {
		t.Fatalf("expected window of 4 plus the new message, got %d", len(call))
	}
	if call[0].Content != "q0" || call[4].Content != "q2" {
		t.Fatalf("unexpected window %+v", call)
	}
	for _, m := range call[:4] {
		if m.Content == "q2" {
			t.Fatal("new message must not appear inside the window")
		}
	}
}

func TestReminderIsProviderOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.agent.ReminderMessage = "Stay on topic"
	if err := f.repo.UpsertAgent(ctx, f.agent); err != nil {
		t.Fatalf("UpsertAgent failed: %v", err)
	}
	sess, err := f.svc.CreateSession(ctx, f.user, "t1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// Pad the transcript to 20 messages: at the threshold, no reminder yet.
	padTranscript(t, f, sess.ID, 18)
	if _, err := f.svc.ProcessTurn(ctx, f.user, sess.ID, "first"); err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if last := f.gen.lastCall(); strings.Contains(last[len(last)-1].Content, "Stay on topic") {
		t.Fatal("expected no reminder with 20 prior messages")
	}

	// A fresh session padded to exactly 21 prior messages gets the reminder.
	fresh, err := f.svc.DisableAndRecreate(ctx, f.user, sess.ID)
	if err != nil {
		t.Fatalf("DisableAndRecreate failed: %v", err)
	}
	padTranscript(t, f, fresh.ID, 19)
	if _, err := f.svc.ProcessTurn(ctx, f.user, fresh.ID, "What next?"); err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	last := f.gen.lastCall()
	outbound := last[len(last)-1].Content
	if !strings.Contains(outbound, "Stay on topic") || !strings.HasSuffix(outbound, "What next?") {
		t.Fatalf("expected reminder-prefixed outbound text, got %q", outbound)
	}

	stored := f.transcript(t, fresh.ID)
	if got := stored[len(stored)-2]; got.Role != domain.RoleUser || got.Content != "What next?" {
		t.Fatalf("expected stored user message to keep the original text, got %q", got.Content)
	}
	for _, m := range stored {
		if strings.Contains(m.Content, "Stay on topic") {
			t.Fatalf("reminder leaked into stored message %q", m.Content)
		}
	}
}

func padTranscript(t *testing.T, f *fixture, sessionID string, n int) {
	t.Helper()
	ctx := context.Background()
	err := f.repo.WithTx(ctx, func(tx store.Tx) error {
		for i := 0; i < n; i++ {
			role := domain.RoleUser
			if i%2 == 1 {
				role = domain.RoleAssistant
			}
			msg := &domain.ChatMessage{ID: fmt.Sprintf("%s-pad-%d-%d", sessionID, time.Now().UnixNano(), i), SessionID: sessionID, Role: role, Content: "pad", CreatedAt: t0}
			if err := tx.AppendMessage(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("padTranscript failed: %v", err)
	}
}

func TestInteractionDataKeepsForeignKeys(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, f.user, "t1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := f.svc.UpdateSession(ctx, f.user, sess.ID, SessionUpdate{
		InteractionData: map[string]any{"custom_key": "x", "total_messages": 2},
	}); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	if _, err := f.svc.ProcessTurn(ctx, f.user, sess.ID, "Hi"); err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}

	stored := f.session(t, sess.ID)
	if stored.InteractionData.TotalMessages != 3 {
		t.Errorf("expected total_messages 3, got %d", stored.InteractionData.TotalMessages)
	}
	if raw, ok := stored.InteractionData.Get("custom_key"); !ok || string(raw) != `"x"` {
		t.Errorf("expected custom_key to survive, got %s", raw)
	}
}

func TestDisableAndRecreate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	old, err := f.svc.CreateSession(ctx, f.user, "t1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	f.gen.replies = []*provider.Reply{{Content: "progress", CompletionRate: 0.4}}
	if _, err := f.svc.ProcessTurn(ctx, f.user, old.ID, "Hi"); err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}

	fresh, err := f.svc.DisableAndRecreate(ctx, f.user, old.ID)
	if err != nil {
		t.Fatalf("DisableAndRecreate failed: %v", err)
	}

	if f.session(t, old.ID).IsActive {
		t.Error("expected old session to be inactive")
	}
	stored := f.session(t, fresh.ID)
	if !stored.IsActive || stored.CompletionRate != 0 || stored.Duration != 0 || stored.TopicID != "t1" || stored.AgentID != "a1" {
		t.Fatalf("unexpected fresh session %+v", stored)
	}
	if got := roles(f.transcript(t, fresh.ID)); len(got) != 2 || got[0] != domain.RoleSystem || got[1] != domain.RoleAssistant {
		t.Fatalf("expected fresh transcript of system and welcome, got %v", got)
	}

	var notFound *domain.NotFoundError
	if _, err := f.svc.DisableAndRecreate(ctx, f.user, old.ID); !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError for inactive session, got %v", err)
	}
}

func TestDisableAndRecreateRollsBack(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	old, err := f.svc.CreateSession(ctx, f.user, "t1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	f.agent.SystemPrompt = "{{#broken}}"
	if err := f.repo.UpsertAgent(ctx, f.agent); err != nil {
		t.Fatalf("UpsertAgent failed: %v", err)
	}
	if _, err := f.svc.DisableAndRecreate(ctx, f.user, old.ID); err == nil {
		t.Fatal("expected DisableAndRecreate to fail")
	}

	if !f.session(t, old.ID).IsActive {
		t.Fatal("expected old session to stay active after rollback")
	}
	views, err := f.repo.ListSessionViews(ctx, store.SessionFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("ListSessionViews failed: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected no orphaned session, got %d sessions", len(views))
	}
}

func TestGetOrCreateSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.svc.GetOrCreateSession(ctx, f.user, "t1")
	if err != nil || !created {
		t.Fatalf("GetOrCreateSession = %v, %v; want created", created, err)
	}

	done := 1.0
	if _, err := f.svc.UpdateSession(ctx, f.user, first.ID, SessionUpdate{CompletionRate: &done}); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	again, created, err := f.svc.GetOrCreateSession(ctx, f.user, "t1")
	if err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}
	if created || again.ID != first.ID {
		t.Fatalf("expected to resume %s, got %s (created=%v)", first.ID, again.ID, created)
	}
}

func TestUpdateSessionRateOnlyRises(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, f.user, "t1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	high, low, score, minutes := 0.6, 0.2, 4, 12
	if _, err := f.svc.UpdateSession(ctx, f.user, sess.ID, SessionUpdate{CompletionRate: &high}); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}
	updated, err := f.svc.UpdateSession(ctx, f.user, sess.ID, SessionUpdate{CompletionRate: &low, FeedbackScore: &score, Duration: &minutes})
	if err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}
	if updated.CompletionRate != 0.6 || *updated.FeedbackScore != 4 || updated.Duration != 12 {
		t.Fatalf("unexpected session %+v", updated)
	}

	bad := 9
	var invalid *domain.ValidationError
	if _, err := f.svc.UpdateSession(ctx, f.user, sess.ID, SessionUpdate{FeedbackScore: &bad}); !errors.As(err, &invalid) {
		t.Fatalf("expected ValidationError for feedback 9, got %v", err)
	}
}

func TestHistoryPaging(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, f.user, "t1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := f.svc.ProcessTurn(ctx, f.user, sess.ID, fmt.Sprintf("q%d", i)); err != nil {
			t.Fatalf("ProcessTurn failed: %v", err)
		}
	}

	page, err := f.svc.History(ctx, f.user, sess.ID, 0, 3)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if page.TotalMessages != 6 || !page.HasMore || len(page.Messages) != 3 {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Messages[0].Content != "ok" || page.Messages[1].Content != "q1" {
		t.Fatalf("expected newest messages oldest first, got %q, %q", page.Messages[0].Content, page.Messages[1].Content)
	}

	rest, err := f.svc.History(ctx, f.user, sess.ID, 3, 3)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if rest.HasMore || len(rest.Messages) != 3 || rest.Messages[0].Role != domain.RoleSystem {
		t.Fatalf("unexpected last page %+v", rest)
	}
}

func TestConcurrentTurnsAreSerialized(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, f.user, "t1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	const turns = 5
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.svc.ProcessTurn(ctx, f.user, sess.ID, fmt.Sprintf("q%d", i)); err != nil {
				t.Errorf("ProcessTurn %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	msgs := f.transcript(t, sess.ID)
	if len(msgs) != 2+2*turns {
		t.Fatalf("expected %d messages, got %d", 2+2*turns, len(msgs))
	}
	for i := 2; i < len(msgs); i += 2 {
		if msgs[i].Role != domain.RoleUser || msgs[i+1].Role != domain.RoleAssistant {
			t.Fatalf("turns interleaved at %d: %v", i, roles(msgs))
		}
	}
	if got := f.session(t, sess.ID).InteractionData.TotalMessages; got != turns {
		t.Fatalf("expected total_messages %d, got %d", turns, got)
	}
}

// gateGenerator holds any turn whose text is "slow" until release is closed.
type gateGenerator struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateGenerator) Send(ctx context.Context, _ *domain.Agent, messages []domain.PromptMessage) (*provider.Reply, error) {
	if messages[len(messages)-1].Content == "slow" {
		close(g.entered)
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &provider.Reply{Content: "ok", Tokens: 1}, nil
}

func TestTurnsOnDifferentSessionsOverlap(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	other := &domain.User{ID: "u2", Email: "bob@example.com", FullName: "Bob", Role: domain.RoleStudent, IsActive: true, CreatedAt: t0, UpdatedAt: t0}
	if err := f.repo.UpsertUser(ctx, other); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	slowSess, err := f.svc.CreateSession(ctx, f.user, "t1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	fastSess, err := f.svc.CreateSession(ctx, other, "t1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	gate := &gateGenerator{entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(f.repo, gate, nil, DefaultConfig(), nil)

	slowDone := make(chan error, 1)
	go func() {
		_, err := svc.ProcessTurn(ctx, f.user, slowSess.ID, "slow")
		slowDone <- err
	}()
	<-gate.entered

	fastDone := make(chan error, 1)
	go func() {
		_, err := svc.ProcessTurn(ctx, other, fastSess.ID, "fast")
		fastDone <- err
	}()

	select {
	case err := <-fastDone:
		if err != nil {
			t.Fatalf("fast turn failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		close(gate.release)
		t.Fatal("turn on another session waited for an in-flight backend call")
	}

	if got := len(f.transcript(t, slowSess.ID)); got != 2 {
		t.Fatalf("pending turn wrote to the transcript: %d messages", got)
	}

	close(gate.release)
	if err := <-slowDone; err != nil {
		t.Fatalf("slow turn failed: %v", err)
	}
	msgs := f.transcript(t, slowSess.ID)
	if len(msgs) != 4 || msgs[2].Content != "slow" || msgs[3].Role != domain.RoleAssistant {
		t.Fatalf("unexpected transcript after slow turn: %v", roles(msgs))
	}
}
