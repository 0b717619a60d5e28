package consultation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/triage/internal/conversation"
	"github.com/MikeSquared-Agency/triage/internal/extractor"
	"github.com/MikeSquared-Agency/triage/internal/llm"
	"github.com/MikeSquared-Agency/triage/internal/llm/llmtest"
	"github.com/MikeSquared-Agency/triage/internal/metrics"
	"github.com/MikeSquared-Agency/triage/internal/pipeline"
)

const (
	partialReply = `{"fatigue": "yes", "pain": "chest"}`
	fullReply    = `{"fever": "high", "cough": "present", "fatigue": "yes", "pain": "chest", "duration": "2 days", "location": "chest"}`
)

type memRepo struct {
	mu    sync.Mutex
	saved map[uuid.UUID]*Consultation
	saves int
}

func newMemRepo() *memRepo {
	return &memRepo{saved: make(map[uuid.UUID]*Consultation)}
}

func (r *memRepo) Get(_ context.Context, id uuid.UUID) (*Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.saved[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return c.clone(), nil
}

func (r *memRepo) Save(_ context.Context, c *Consultation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	r.saved[c.ID] = c.clone()
	return nil
}

type event struct {
	subject string
	data    any
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Publish(subject string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{subject, data})
	return nil
}

func (r *recorder) subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.subject)
	}
	return out
}

type fixture struct {
	svc     *Service
	repo    *memRepo
	events  *recorder
	gen     *llmtest.Scripted
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, cacheSize int, responses ...string) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	gen := llmtest.NewScripted(responses...)
	reg := llm.NewRegistry("groq")
	reg.Register("groq", gen)

	build := func(g llm.Generator) (*pipeline.Pipeline, error) {
		return pipeline.Build("", pipeline.DefaultStages, g, logger)
	}

	f := &fixture{repo: newMemRepo(), events: &recorder{}, gen: gen, metrics: metrics.New(prometheus.NewRegistry())}
	svc, err := NewService(f.repo, reg, build, f.events, f.metrics, cacheSize, logger)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestHandleTurn_InterviewThenPipeline(t *testing.T) {
	f := newFixture(t, 8,
		partialReply, "Do you have a fever?",
		fullReply,
		"analysis", "diagnosis", "labs", "explanation", "note",
	)
	ctx := context.Background()

	c, err := f.svc.Create(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "groq", c.Provider)

	r1, err := f.svc.HandleTurn(ctx, c.ID, "I feel tired and my chest hurts")
	require.NoError(t, err)
	assert.False(t, r1.Complete)
	assert.Equal(t, StatusCollecting, r1.Status)
	assert.Equal(t, "Do you have a fever?", r1.Reply)

	r2, err := f.svc.HandleTurn(ctx, c.ID, "high fever and cough for 2 days")
	require.NoError(t, err)
	assert.True(t, r2.Complete)
	assert.Equal(t, StatusDone, r2.Status)
	assert.Equal(t, "explanation", r2.Reply)
	assert.Equal(t, "high", r2.Symptoms["fever"])
	assert.Len(t, r2.Stages, 5)

	stored, err := f.repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, stored.Status)
	assert.Len(t, stored.Log, 3)
	assert.Len(t, stored.Outputs, 5)
	assert.True(t, stored.Symptoms.IsComplete())

	assert.Equal(t, []string{SubjectSymptomsCollected, SubjectCompleted}, f.events.subjects())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Turns.WithLabelValues("incomplete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Consultations.WithLabelValues("completed")))

	_, err = f.svc.HandleTurn(ctx, c.ID, "one more thing")
	assert.ErrorIs(t, err, ErrConsultationDone)
}

func TestHandleTurn_Errors(t *testing.T) {
	f := newFixture(t, 8, partialReply)
	ctx := context.Background()

	_, err := f.svc.HandleTurn(ctx, uuid.New(), "hello")
	assert.ErrorIs(t, err, ErrNotFound)

	c, err := f.svc.Create(ctx, "")
	require.NoError(t, err)
	_, err = f.svc.HandleTurn(ctx, c.ID, "   ")
	assert.ErrorIs(t, err, ErrEmptyTurn)

	_, err = f.svc.Create(ctx, "openai")
	assert.ErrorIs(t, err, llm.ErrUnknownProvider)
	assert.True(t, IsClientError(err))
}

func TestHandleTurn_GeneratorFailureKeepsUserTurn(t *testing.T) {
	f := newFixture(t, 8, partialReply)
	ctx := context.Background()
	c, err := f.svc.Create(ctx, "")
	require.NoError(t, err)

	boom := errors.New("upstream down")
	f.gen.FailWith(boom)

	_, err = f.svc.HandleTurn(ctx, c.ID, "my chest hurts")
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsClientError(err))

	got, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Log, 1)
	assert.Equal(t, conversation.RoleUser, got.Log[0].Role)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GenerationErrors))
}

func TestHandleTurn_PipelineFailureCanBeRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 8, fullReply)

	c, err := f.svc.Create(ctx, "")
	require.NoError(t, err)

	calls := 0
	f.svc.pipelines = func(g llm.Generator) (*pipeline.Pipeline, error) {
		calls++
		if calls == 1 {
			failing := llm.GeneratorFunc(func(context.Context, llm.Prompt) (string, error) {
				return "", errors.New("timeout")
			})
			return pipeline.Build("", pipeline.DefaultStages, failing, f.svc.logger)
		}
		return pipeline.Build("", pipeline.DefaultStages, llmtest.Echo("ok: "), f.svc.logger)
	}

	_, err = f.svc.HandleTurn(ctx, c.ID, "all my symptoms")
	require.Error(t, err)

	stored, err := f.repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCollecting, stored.Status)
	assert.True(t, stored.Symptoms.IsComplete())

	r, err := f.svc.HandleTurn(ctx, c.ID, "retry please")
	require.NoError(t, err)
	assert.True(t, r.Complete)
	assert.Equal(t, 1, f.gen.Calls(), "extractor is done and not asked again")
	assert.Equal(t, []string{SubjectSymptomsCollected, SubjectCompleted}, f.events.subjects())
}

func TestSession_ReloadedAfterEviction(t *testing.T) {
	f := newFixture(t, 1, partialReply, "Any fever?", fullReply, "a", "d", "l", "e", "n")
	ctx := context.Background()

	first, err := f.svc.Create(ctx, "")
	require.NoError(t, err)
	_, err = f.svc.HandleTurn(ctx, first.ID, "tired, chest pain")
	require.NoError(t, err)

	// Evicts the first session from the single-entry cache.
	_, err = f.svc.Create(ctx, "")
	require.NoError(t, err)

	r, err := f.svc.HandleTurn(ctx, first.ID, "high fever, cough, 2 days")
	require.NoError(t, err)
	assert.True(t, r.Complete)

	prompts := f.gen.Prompts()
	reextract := prompts[2]
	// The rebuilt extractor sees the whole persisted history exactly once.
	assert.Len(t, reextract.Messages, 4)
}

func TestExtract_Stateless(t *testing.T) {
	f := newFixture(t, 8, partialReply, "Could you tell me about any fever?")
	ctx := context.Background()

	log := conversation.Log{{Role: conversation.RoleUser, Content: "I feel tired and my chest hurts"}}
	res, err := f.svc.Extract(ctx, "", log)
	require.NoError(t, err)

	assert.Equal(t, extractor.StatusIncomplete, res.Status)
	assert.True(t, res.Record.IsZero())
	assert.Len(t, res.Log, 2)
	assert.Equal(t, 0, f.repo.saves)

	_, err = f.svc.Extract(ctx, "nope", log)
	assert.ErrorIs(t, err, llm.ErrUnknownProvider)
}

func TestHandleTurn_ConcurrentTurnsAreSerialised(t *testing.T) {
	f := newFixture(t, 8, partialReply, "next?")
	ctx := context.Background()
	c, err := f.svc.Create(ctx, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.HandleTurn(ctx, c.ID, fmt.Sprintf("turn %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, got.Log, 10)
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(string, any) error { return f.err }

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	boom := errors.New("bus down")

	err := Fanout{a, failingPublisher{boom}, b}.Publish(SubjectCompleted, Completed{ConsultationID: "c"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{SubjectCompleted}, a.subjects())
	assert.Equal(t, []string{SubjectCompleted}, b.subjects())

	assert.NoError(t, Fanout{a}.Publish(SubjectSymptomsCollected, nil))
}

// gate blocks the first Generate call until opened and tracks how many calls
// run at once.
type gate struct {
	entered chan struct{}
	open    chan struct{}
	first   atomic.Bool
	running atomic.Int32
	peak    atomic.Int32
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), open: make(chan struct{})}
}

func (g *gate) Generate(context.Context, llm.Prompt) (string, error) {
	n := g.running.Add(1)
	defer g.running.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if g.first.CompareAndSwap(false, true) {
		close(g.entered)
		<-g.open
	}
	return "question?", nil
}

func TestHandleTurn_EvictionDuringTurnKeepsOneSession(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := newGate()
	reg := llm.NewRegistry("groq")
	reg.Register("groq", g)
	build := func(gen llm.Generator) (*pipeline.Pipeline, error) {
		return pipeline.Build("", pipeline.DefaultStages, gen, logger)
	}
	repo := newMemRepo()
	svc, err := NewService(repo, reg, build, nil, metrics.New(prometheus.NewRegistry()), 1, logger)
	require.NoError(t, err)
	ctx := context.Background()

	a, err := svc.Create(ctx, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := svc.HandleTurn(ctx, a.ID, "first")
		assert.NoError(t, err)
	}()

	select {
	case <-g.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first turn never reached the generator")
	}

	// Evicts a from the single-entry cache while its turn is in flight.
	_, err = svc.Create(ctx, "")
	require.NoError(t, err)

	go func() {
		defer wg.Done()
		_, err := svc.HandleTurn(ctx, a.ID, "second")
		assert.NoError(t, err)
	}()
	time.Sleep(50 * time.Millisecond)
	close(g.open)
	wg.Wait()

	assert.Equal(t, int32(1), g.peak.Load(), "turns on one consultation never overlap")

	stored, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, stored.Log, 4)
	var users []string
	for _, turn := range stored.Log {
		if turn.Role == conversation.RoleUser {
			users = append(users, turn.Content)
		}
	}
	assert.ElementsMatch(t, []string{"first", "second"}, users)
	assert.Empty(t, svc.active, "sessions are unpinned once turns finish")
}
