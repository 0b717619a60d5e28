package consultation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MikeSquared-Agency/triage/internal/conversation"
	"github.com/MikeSquared-Agency/triage/internal/extractor"
	"github.com/MikeSquared-Agency/triage/internal/llm"
	"github.com/MikeSquared-Agency/triage/internal/metrics"
	"github.com/MikeSquared-Agency/triage/internal/pipeline"
)

// PipelineFactory builds the post-collection pipeline for a generator.
type PipelineFactory func(gen llm.Generator) (*pipeline.Pipeline, error)

// Service runs consultations: the symptom interview first, then the
// pipeline once the record is complete.
type Service struct {
	repo      Repository
	llms      *llm.Registry
	pipelines PipelineFactory
	events    Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu       sync.Mutex
	sessions *lru.Cache[uuid.UUID, *session]
	// active pins sessions in use so eviction never splits one consultation
	// into two live copies.
	active map[uuid.UUID]*session
}

// session is the live state of one consultation. Its mutex serialises turns.
type session struct {
	mu   sync.Mutex
	c    *Consultation
	ext  *extractor.Extractor
	refs int // guarded by Service.mu
}

// NewService creates a service holding at most cacheSize live sessions.
// events may be nil.
func NewService(repo Repository, llms *llm.Registry, pipelines PipelineFactory, events Publisher, m *metrics.Metrics, cacheSize int, logger *slog.Logger) (*Service, error) {
	cache, err := lru.New[uuid.UUID, *session](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("session cache: %w", err)
	}
	return &Service{
		repo:      repo,
		llms:      llms,
		pipelines: pipelines,
		events:    events,
		metrics:   m,
		logger:    logger,
		sessions:  cache,
		active:    make(map[uuid.UUID]*session),
	}, nil
}

// Create starts a consultation served by the given provider tag; the empty
// tag selects the default provider.
func (s *Service) Create(ctx context.Context, provider string) (*Consultation, error) {
	tag, _, err := s.llms.Resolve(provider)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &Consultation{
		ID:        uuid.New(),
		Provider:  tag,
		Status:    StatusCollecting,
		Log:       conversation.Log{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("save consultation: %w", err)
	}

	s.cache(&session{c: c})
	s.logger.Info("consultation created", "consultation_id", c.ID, "provider", tag)
	return c.clone(), nil
}

// Get returns a snapshot of the consultation.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	sess, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer s.release(sess)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.c.clone(), nil
}

// HandleTurn records one patient message and advances the consultation.
// While symptoms are incomplete the reply is the interviewer's follow-up
// question; once complete the pipeline runs and the reply is the patient
// explanation.
func (s *Service) HandleTurn(ctx context.Context, id uuid.UUID, text string) (*Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyTurn
	}

	sess, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer s.release(sess)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	c := sess.c
	if c.Status == StatusDone {
		return nil, ErrConsultationDone
	}

	gen, err := s.llms.Get(c.Provider)
	if err != nil {
		return nil, err
	}
	if sess.ext == nil {
		sess.ext = extractor.New(gen, s.logger.With("consultation_id", c.ID))
	}

	c.Log = c.Log.With(conversation.UserTurn(text))
	res, err := sess.ext.Extract(ctx, c.Log)
	if err != nil {
		s.metrics.GenerationErrors.Inc()
		s.save(ctx, c)
		return nil, fmt.Errorf("extract symptoms: %w", err)
	}
	s.metrics.Turns.WithLabelValues(string(res.Status)).Inc()
	c.Log = res.Log

	if res.Status == extractor.StatusIncomplete {
		if err := s.save(ctx, c); err != nil {
			return nil, err
		}
		return &Reply{ConsultationID: c.ID, Status: c.Status, Reply: res.Clarification}, nil
	}

	// A retry after a failed pipeline reaches here again with the record
	// already set; the event goes out once.
	if c.Symptoms.IsZero() {
		s.publish(SubjectSymptomsCollected, SymptomsCollected{
			ConsultationID: c.ID.String(),
			Provider:       c.Provider,
			Symptoms:       res.Record.Map(),
			Turns:          len(c.Log),
		})
	}
	c.Symptoms = res.Record

	return s.finish(ctx, c, gen)
}

func (s *Service) finish(ctx context.Context, c *Consultation, gen llm.Generator) (*Reply, error) {
	p, err := s.pipelines(gen)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	p.Observe(s.metrics.ObserveStage)

	st, err := p.Run(ctx, pipeline.State{ConsultationID: c.ID.String(), Symptoms: c.Symptoms})
	c.Outputs = st.Outputs
	if err != nil {
		s.metrics.GenerationErrors.Inc()
		s.metrics.Consultations.WithLabelValues("failed").Inc()
		s.save(ctx, c)
		return nil, fmt.Errorf("run pipeline: %w", err)
	}

	c.Status = StatusDone
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	s.metrics.Consultations.WithLabelValues("completed").Inc()

	reply, ok := st.Output(pipeline.StageExplainer)
	if !ok {
		reply = st.Input()
	}
	note, _ := st.Output(pipeline.StageMemory)

	s.publish(SubjectCompleted, Completed{
		ConsultationID: c.ID.String(),
		Provider:       c.Provider,
		Symptoms:       c.Symptoms.Map(),
		Stages:         p.Stages(),
		Note:           note,
	})
	s.logger.Info("consultation completed", "consultation_id", c.ID, "stages", len(st.Outputs))

	return &Reply{
		ConsultationID: c.ID,
		Status:         c.Status,
		Complete:       true,
		Reply:          reply,
		Symptoms:       c.Symptoms.Map(),
		Stages:         st.Outputs,
	}, nil
}

// Extract runs a single extraction over log with a fresh extractor. Nothing
// is persisted.
func (s *Service) Extract(ctx context.Context, provider string, log conversation.Log) (extractor.TurnResult, error) {
	tag, gen, err := s.llms.Resolve(provider)
	if err != nil {
		return extractor.TurnResult{}, err
	}
	res, err := extractor.New(gen, s.logger.With("provider", tag)).Extract(ctx, log)
	if err != nil {
		s.metrics.GenerationErrors.Inc()
		return extractor.TurnResult{}, err
	}
	s.metrics.Turns.WithLabelValues(string(res.Status)).Inc()
	return res, nil
}

// acquire returns the live session for id and pins it until release. A
// pinned session is shared even after the LRU has evicted it.
func (s *Service) acquire(ctx context.Context, id uuid.UUID) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.active[id]
	if !ok {
		sess, ok = s.sessions.Get(id)
	}
	if !ok {
		c, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		sess = &session{c: c}
	}
	if !s.sessions.Contains(id) {
		s.sessions.Add(id, sess)
		s.metrics.LiveSessions.Set(float64(s.sessions.Len()))
	}

	sess.refs++
	s.active[id] = sess
	return sess, nil
}

func (s *Service) release(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.refs--
	if sess.refs == 0 {
		delete(s.active, sess.c.ID)
	}
}

func (s *Service) cache(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Add(sess.c.ID, sess)
	s.metrics.LiveSessions.Set(float64(s.sessions.Len()))
}

func (s *Service) save(ctx context.Context, c *Consultation) error {
	c.UpdatedAt = time.Now().UTC()
	if err := s.repo.Save(ctx, c); err != nil {
		s.logger.Error("failed to save consultation", "consultation_id", c.ID, "error", err)
		return fmt.Errorf("save consultation: %w", err)
	}
	return nil
}

func (s *Service) publish(subject string, data any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(subject, data); err != nil {
		s.logger.Error("failed to publish event", "subject", subject, "error", err)
	}
}

// IsClientError reports whether err was caused by the request rather than a
// collaborator failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrEmptyTurn) || errors.Is(err, llm.ErrUnknownProvider)
}
