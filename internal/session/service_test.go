package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/prognosis/internal/model"
	"github.com/pavelanni/prognosis/internal/session"
	"github.com/pavelanni/prognosis/internal/store/memory"
)

type fakeResponder struct {
	mu           sync.Mutex
	conversation []string
	replyErr     error
	feedbackErr  error
}

func (f *fakeResponder) PatientReply(_ context.Context, c model.Case, conversation, input string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return "", f.replyErr
	}
	f.conversation = append(f.conversation, conversation)
	return c.PatientName + " answers: " + input, nil
}

func (f *fakeResponder) Feedback(_ context.Context, c model.Case, diagnosis, _ string) (string, error) {
	if f.feedbackErr != nil {
		return "", f.feedbackErr
	}
	return "feedback on " + diagnosis, nil
}

type fixture struct {
	store     *memory.Store
	responder *fakeResponder
	svc       *session.Service
	clock     *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), responder: &fakeResponder{}}
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	f.clock = &now
	f.svc = session.NewService(f.store, f.store, f.responder,
		session.WithClock(func() time.Time {
			*f.clock = f.clock.Add(time.Minute)
			return *f.clock
		}),
		session.WithPicker(func(int) int { return 0 }),
	)
	return f
}

func (f *fixture) start(t *testing.T, userID string) *model.StartResult {
	t.Helper()
	res, err := f.svc.Start(context.Background(), userID)
	require.NoError(t, err)
	return res
}

func TestStartSeedsAndHidesAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.start(t, "u1")
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, "John Smith", res.PatientName)
	assert.Equal(t, "Chest pain for 2 hours", res.ChiefComplaint)

	cases, err := f.store.ListCases(ctx)
	require.NoError(t, err)
	assert.Len(t, cases, len(session.DefaultCases()))

	sess, err := f.store.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, sess.Status)
	assert.Empty(t, sess.Turns)
	assert.Equal(t, "u1", sess.UserID)

	// A second start must not seed again.
	f.start(t, "u1")
	cases, err = f.store.ListCases(ctx)
	require.NoError(t, err)
	assert.Len(t, cases, len(session.DefaultCases()))
}

func TestRespondBuildsContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.start(t, "u1")

	reply, err := f.svc.Respond(ctx, "u1", res.SessionID, "Where is the pain?")
	require.NoError(t, err)
	assert.Equal(t, "John Smith answers: Where is the pain?", reply)

	_, err = f.svc.Respond(ctx, "u1", res.SessionID, "Since when?")
	require.NoError(t, err)

	require.Len(t, f.responder.conversation, 2)
	assert.Equal(t, "", f.responder.conversation[0])
	assert.Equal(t, "Student: Where is the pain?\nPatient: John Smith answers: Where is the pain?\n\n",
		f.responder.conversation[1])

	sess, err := f.store.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, "Since when?", sess.Turns[1].UserInput)
	assert.True(t, sess.Turns[0].Timestamp.Before(sess.Turns[1].Timestamp))
}

func TestRespondErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.start(t, "owner")

	_, err := f.svc.Respond(ctx, "owner", res.SessionID, "  ")
	assert.ErrorIs(t, err, model.ErrValidation)
	var missing *model.MissingFieldsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"user_input"}, missing.Fields)

	_, err = f.svc.Respond(ctx, "owner", "no-such-session", "hi")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.Respond(ctx, "intruder", res.SessionID, "hi")
	assert.ErrorIs(t, err, model.ErrForbidden)

	f.responder.replyErr = errors.New("model offline")
	_, err = f.svc.Respond(ctx, "owner", res.SessionID, "hi")
	assert.ErrorIs(t, err, model.ErrGeneration)
	assert.ErrorIs(t, err, model.ErrDependency)

	sess, err := f.store.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Empty(t, sess.Turns, "failed generation must not append a turn")
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.start(t, "u1")

	out, err := f.svc.Submit(ctx, "u1", res.SessionID, "Acute Coronary Syndrome", "give aspirin now")
	require.NoError(t, err)
	assert.Equal(t, 90, out.Score)
	assert.Equal(t, "feedback on Acute Coronary Syndrome", out.Feedback)
	assert.Equal(t, "Acute Coronary Syndrome", out.CorrectDiagnosis)
	assert.NotEmpty(t, out.CorrectTreatment)

	sess, err := f.store.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, sess.Status)
	require.NotNil(t, sess.Score)
	assert.Equal(t, 90, *sess.Score)
	require.NotNil(t, sess.CompletedAt)

	// Respond after completion is rejected.
	_, err = f.svc.Respond(ctx, "u1", res.SessionID, "one more question")
	assert.ErrorIs(t, err, model.ErrSessionCompleted)
	assert.ErrorIs(t, err, model.ErrValidation)

	// Resubmission overwrites the outcome and keeps the status.
	out, err = f.svc.Submit(ctx, "u1", res.SessionID, "flu", "bed rest")
	require.NoError(t, err)
	assert.Equal(t, 40, out.Score)
	sess, err = f.store.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, sess.Status)
	assert.Equal(t, "flu", *sess.Diagnosis)
	assert.Equal(t, 40, *sess.Score)
}

func TestSubmitErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.start(t, "owner")

	_, err := f.svc.Submit(ctx, "owner", res.SessionID, "", "")
	var missing *model.MissingFieldsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"diagnosis", "treatment"}, missing.Fields)

	_, err = f.svc.Submit(ctx, "intruder", res.SessionID, "flu", "rest")
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = f.svc.Submit(ctx, "owner", "missing", "flu", "rest")
	assert.ErrorIs(t, err, model.ErrNotFound)

	f.responder.feedbackErr = errors.New("quota exceeded")
	_, err = f.svc.Submit(ctx, "owner", res.SessionID, "flu", "rest")
	assert.ErrorIs(t, err, model.ErrGeneration)

	sess, err := f.store.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, sess.Status, "failed feedback must not complete the session")
	assert.Nil(t, sess.Score)
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty, err := f.svc.ListSessions(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	first := f.start(t, "u1")
	second := f.start(t, "u1")
	f.start(t, "u2")

	// A session pointing at a vanished case is skipped.
	_, err = f.store.CreateSession(ctx, model.Session{
		UserID: "u1", CaseID: "deleted-case", Status: model.StatusActive,
		StartedAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	list, err := f.svc.ListSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.SessionID, list[0].SessionID)
	assert.Equal(t, first.SessionID, list[1].SessionID)
	assert.Equal(t, "John Smith", list[0].PatientName)
	assert.Equal(t, model.StatusActive, list[0].Status)
}

type orderedStore struct {
	*memory.Store
	err   error
	calls int
}

func (o *orderedStore) ListSessionsByUserNewestFirst(ctx context.Context, userID string) ([]model.Session, error) {
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	sessions, err := o.ListSessionsByUser(ctx, userID)
	session.SortNewestFirst(sessions)
	return sessions, err
}

func TestListSessionsOrderingFallback(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name string
		err  error
	}{
		{"ordered query", nil},
		{"index unavailable", model.ErrOrderingUnavailable},
	} {
		t.Run(tc.name, func(t *testing.T) {
			st := &orderedStore{Store: memory.New(), err: tc.err}
			now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			svc := session.NewService(st, st, &fakeResponder{},
				session.WithClock(func() time.Time { now = now.Add(time.Hour); return now }))

			var ids []string
			for range 3 {
				res, err := svc.Start(ctx, "u1")
				require.NoError(t, err)
				ids = append(ids, res.SessionID)
			}

			list, err := svc.ListSessions(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, 1, st.calls)
			require.Len(t, list, 3)
			assert.Equal(t, []string{ids[2], ids[1], ids[0]},
				[]string{list[0].SessionID, list[1].SessionID, list[2].SessionID})
		})
	}

	st := &orderedStore{Store: memory.New(), err: errors.New("permission denied")}
	svc := session.NewService(st, st, &fakeResponder{})
	_, err := svc.ListSessions(ctx, "u1")
	assert.Error(t, err)
}

func TestSessionDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.start(t, "u1")
	_, err := f.svc.Respond(ctx, "u1", res.SessionID, "hello")
	require.NoError(t, err)

	d, err := f.svc.SessionDetail(ctx, "u1", res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "John Smith", d.Case.PatientName)
	assert.Len(t, d.ChatHistory, 1)
	assert.Nil(t, d.CorrectDiagnosis, "answers stay hidden while active")

	_, err = f.svc.SessionDetail(ctx, "u2", res.SessionID)
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = f.svc.Submit(ctx, "u1", res.SessionID, "Acute Coronary Syndrome", "aspirin")
	require.NoError(t, err)
	d, err = f.svc.SessionDetail(ctx, "u1", res.SessionID)
	require.NoError(t, err)
	require.NotNil(t, d.CorrectDiagnosis)
	assert.Equal(t, "Acute Coronary Syndrome", *d.CorrectDiagnosis)
	assert.Equal(t, "feedback on Acute Coronary Syndrome", *d.Feedback)
}

func TestConcurrentRespondKeepsEveryTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.start(t, "u1")

	svc := session.NewService(f.store, f.store, f.responder)

	const n = 20
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Respond(ctx, "u1", res.SessionID, "question")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sess, err := f.store.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Turns, n)
}

func TestImportCases(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	dir := t.TempDir()
	path := filepath.Join(dir, "cases.json")
	data := `[{"patient_name":"Ann Lee","age":50,"gender":"Female","chief_complaint":"Headache",
		"vitals":{"blood_pressure":"180/100","heart_rate":80,"temperature":98.4,"respiratory_rate":16,"oxygen_saturation":99},
		"history":"Hypertension","system_instruction":"You are Ann Lee.",
		"correct_diagnosis":"Hypertensive urgency","correct_treatment":"Oral antihypertensives"}]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	n, err := session.ImportCases(ctx, st, st, []string{path})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cases, err := st.ListCases(ctx)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, model.CaseImported, cases[0].CaseType)
	assert.Equal(t, "180/100", cases[0].Vitals.BloodPressure)

	// Unchanged file is skipped.
	n, err = session.ImportCases(ctx, st, st, []string{path})
	require.NoError(t, err)
	assert.Zero(t, n)

	// Changed file is skipped too.
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o644))
	n, err = session.ImportCases(ctx, st, st, []string{path})
	require.NoError(t, err)
	assert.Zero(t, n)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"patient_name":"No Answers"}]`), 0o644))
	_, err = session.ImportCases(ctx, st, st, []string{bad})
	assert.ErrorIs(t, err, model.ErrValidation)
}
