package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/pavelanni/prognosis/internal/model"
)

// DefaultTimeout bounds each call to the language model.
const DefaultTimeout = 60 * time.Second

// Service orchestrates start, respond and submit for case attempts.
type Service struct {
	cases     CaseRepository
	sessions  SessionStore
	responder Responder
	now       func() time.Time
	pick      func(n int) int
	timeout   time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPicker sets the function choosing a case index in [0, n).
func WithPicker(pick func(n int) int) Option {
	return func(s *Service) { s.pick = pick }
}

// WithTimeout bounds each language-model call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// NewService creates a Service over the given collaborators.
func NewService(cases CaseRepository, sessions SessionStore, responder Responder, opts ...Option) *Service {
	s := &Service{
		cases:     cases,
		sessions:  sessions,
		responder: responder,
		now:       time.Now,
		pick:      rand.IntN,
		timeout:   DefaultTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start begins a new attempt on a randomly chosen case, seeding the default
// cases when the repository is empty.
func (s *Service) Start(ctx context.Context, userID string) (*model.StartResult, error) {
	cases, err := s.cases.ListCases(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	if len(cases) == 0 {
		if _, err := SeedDefaults(ctx, s.cases); err != nil {
			return nil, err
		}
		cases, err = s.cases.ListCases(ctx)
		if err != nil {
			return nil, fmt.Errorf("list cases: %w", err)
		}
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("no cases available: %w", model.ErrNotFound)
	}

	c := cases[s.pick(len(cases))]
	id, err := s.sessions.CreateSession(ctx, model.Session{
		UserID:    userID,
		CaseID:    c.ID,
		Turns:     []model.Turn{},
		Status:    model.StatusActive,
		StartedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	slog.InfoContext(ctx, "session started", "session_id", id, "user_id", userID, "case_id", c.ID)

	return &model.StartResult{
		SessionID:  id,
		CaseID:     c.ID,
		CasePublic: c.Public(),
	}, nil
}

// Respond relays one student question to the simulated patient and appends
// the exchange to the transcript.
func (s *Service) Respond(ctx context.Context, userID, sessionID, input string) (string, error) {
	if err := model.RequireFields("session_id", sessionID, "user_input", input); err != nil {
		return "", err
	}
	sess, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		return "", err
	}
	if sess.Status == model.StatusCompleted {
		return "", model.ErrSessionCompleted
	}
	c, err := s.cases.GetCase(ctx, sess.CaseID)
	if err != nil {
		return "", fmt.Errorf("get case %s: %w", sess.CaseID, err)
	}

	genCtx, cancel := s.bounded(ctx)
	defer cancel()
	reply, err := s.responder.PatientReply(genCtx, c, BuildContext(sess.Turns), input)
	if err != nil {
		return "", generationError(err)
	}

	turn := model.Turn{UserInput: input, AIResponse: reply, Timestamp: s.now().UTC()}
	if err := s.sessions.AppendTurn(ctx, sessionID, turn); err != nil {
		return "", fmt.Errorf("append turn: %w", err)
	}
	slog.DebugContext(ctx, "turn appended", "session_id", sessionID, "turns", len(sess.Turns)+1)
	return reply, nil
}

// Submit scores the final diagnosis and treatment, requests narrative
// feedback and completes the session. Submitting again overwrites the
// previous outcome.
func (s *Service) Submit(ctx context.Context, userID, sessionID, diagnosis, treatment string) (*model.SubmitResult, error) {
	if err := model.RequireFields(
		"session_id", sessionID,
		"diagnosis", diagnosis,
		"treatment", treatment,
	); err != nil {
		return nil, err
	}
	sess, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	c, err := s.cases.GetCase(ctx, sess.CaseID)
	if err != nil {
		return nil, fmt.Errorf("get case %s: %w", sess.CaseID, err)
	}

	score := Score(c, diagnosis, treatment)

	genCtx, cancel := s.bounded(ctx)
	defer cancel()
	feedback, err := s.responder.Feedback(genCtx, c, diagnosis, treatment)
	if err != nil {
		return nil, generationError(err)
	}

	sub := model.Submission{
		Diagnosis:   diagnosis,
		Treatment:   treatment,
		Score:       score.Total,
		Feedback:    feedback,
		CompletedAt: s.now().UTC(),
	}
	if err := s.sessions.FinalizeSession(ctx, sessionID, sub); err != nil {
		return nil, fmt.Errorf("finalize session: %w", err)
	}
	slog.InfoContext(ctx, "session completed",
		"session_id", sessionID, "user_id", userID,
		"score", score.Total, "resubmitted", sess.Status == model.StatusCompleted)

	return &model.SubmitResult{
		Score:            score.Total,
		Feedback:         feedback,
		CorrectDiagnosis: c.CorrectDiagnosis,
		CorrectTreatment: c.CorrectTreatment,
	}, nil
}

// ListSessions returns the user's attempts newest first. Attempts whose case
// cannot be loaded are skipped.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]model.SessionSummary, error) {
	sessions, err := s.listNewestFirst(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	cache := make(map[string]*model.Case)
	summaries := lo.FilterMap(sessions, func(sess model.Session, _ int) (model.SessionSummary, bool) {
		c, seen := cache[sess.CaseID]
		if !seen {
			got, err := s.cases.GetCase(ctx, sess.CaseID)
			if err != nil {
				slog.WarnContext(ctx, "skipping session with unavailable case",
					"session_id", sess.ID, "case_id", sess.CaseID, "error", err)
			} else {
				c = &got
			}
			cache[sess.CaseID] = c
		}
		if c == nil {
			return model.SessionSummary{}, false
		}
		return model.SessionSummary{
			SessionID:      sess.ID,
			PatientName:    c.PatientName,
			ChiefComplaint: c.ChiefComplaint,
			Status:         sess.Status,
			Score:          sess.Score,
			StartedAt:      sess.StartedAt,
			CompletedAt:    sess.CompletedAt,
		}, true
	})
	if summaries == nil {
		summaries = []model.SessionSummary{}
	}
	return summaries, nil
}

// SessionDetail returns the full transcript and outcome of one attempt. The
// reference answers are included only once the attempt is completed.
func (s *Service) SessionDetail(ctx context.Context, userID, sessionID string) (*model.SessionDetail, error) {
	sess, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	c, err := s.cases.GetCase(ctx, sess.CaseID)
	if err != nil {
		return nil, fmt.Errorf("get case %s: %w", sess.CaseID, err)
	}

	turns := sess.Turns
	if turns == nil {
		turns = []model.Turn{}
	}
	d := &model.SessionDetail{
		SessionID:   sess.ID,
		Case:        c.Public(),
		ChatHistory: turns,
		Status:      sess.Status,
		Diagnosis:   sess.Diagnosis,
		Treatment:   sess.Treatment,
		Score:       sess.Score,
		Feedback:    sess.Feedback,
		StartedAt:   sess.StartedAt,
		CompletedAt: sess.CompletedAt,
	}
	if sess.Status == model.StatusCompleted {
		d.CorrectDiagnosis = &c.CorrectDiagnosis
		d.CorrectTreatment = &c.CorrectTreatment
	}
	return d, nil
}

// owned loads a session and checks that userID owns it.
func (s *Service) owned(ctx context.Context, userID, sessionID string) (model.Session, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return model.Session{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if sess.UserID != userID {
		slog.WarnContext(ctx, "session access denied", "session_id", sessionID, "user_id", userID)
		return model.Session{}, fmt.Errorf("session %s: %w", sessionID, model.ErrForbidden)
	}
	return sess, nil
}

func (s *Service) listNewestFirst(ctx context.Context, userID string) ([]model.Session, error) {
	if ol, ok := s.sessions.(OrderedSessionLister); ok {
		sessions, err := ol.ListSessionsByUserNewestFirst(ctx, userID)
		if err == nil {
			return sessions, nil
		}
		if !errors.Is(err, model.ErrOrderingUnavailable) {
			return nil, err
		}
		slog.InfoContext(ctx, "ordered session query unavailable, sorting in memory", "user_id", userID)
	}

	sessions, err := s.sessions.ListSessionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	SortNewestFirst(sessions)
	return sessions, nil
}

// SortNewestFirst orders sessions by StartedAt descending, ties broken by id.
func SortNewestFirst(sessions []model.Session) {
	slices.SortStableFunc(sessions, func(a, b model.Session) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func (s *Service) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func generationError(err error) error {
	if errors.Is(err, model.ErrGeneration) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrGeneration, err)
}
