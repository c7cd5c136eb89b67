package campaign

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-campaign/internal/model"
)

type sendCall struct {
	Number  string
	Text    string
	IsMedia bool
}

// fakeMessenger records sends and can fail selected numbers or block each
// send on a gate so tests can pause and abort mid-run.
type fakeMessenger struct {
	mu      sync.Mutex
	calls   []sendCall
	fail    map[string]error
	outcome model.SendOutcome
	started chan string
	gate    chan struct{}
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		fail:    map[string]error{},
		outcome: model.SendOutcome{Validated: true, Verified: true, Confirmed: true},
	}
}

func (m *fakeMessenger) send(number, text string, isMedia bool) (model.SendOutcome, error) {
	if m.started != nil {
		m.started <- number
	}
	if m.gate != nil {
		<-m.gate
	}
	if err := m.fail[number]; err != nil {
		return model.SendOutcome{}, err
	}
	m.mu.Lock()
	m.calls = append(m.calls, sendCall{Number: number, Text: text, IsMedia: isMedia})
	m.mu.Unlock()
	return m.outcome, nil
}

func (m *fakeMessenger) SendText(number, text string) (model.SendOutcome, error) {
	return m.send(number, text, false)
}

func (m *fakeMessenger) SendMedia(number string, payload *model.MediaPayload, caption string) (model.SendOutcome, error) {
	return m.send(number, caption, true)
}

func (m *fakeMessenger) sentCalls() []sendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sendCall(nil), m.calls...)
}

// fakeStore records persistence traffic.
type fakeStore struct {
	mu       sync.Mutex
	saves    []*model.CampaignRun
	cleared  int
	records  []model.SendRecord
	wasSent  map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{wasSent: map[string]bool{}}
}

func (s *fakeStore) SaveCurrentRun(run *model.CampaignRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, run)
	return nil
}

func (s *fakeStore) ClearCurrentRun() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared++
	return nil
}

func (s *fakeStore) RecordSend(rec model.SendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeStore) WasSent(number, messageHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wasSent[number], nil
}

func (s *fakeStore) clearedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared
}

// fakePacer never delays. limitDenials makes the first N rate checks fail.
type fakePacer struct {
	mu           sync.Mutex
	limitDenials int
	checks       int
}

func (p *fakePacer) RandomDelay(min, max time.Duration) time.Duration { return 0 }
func (p *fakePacer) LongPause() time.Duration                         { return 0 }

func (p *fakePacer) CheckRateLimit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks++
	if p.limitDenials > 0 {
		p.limitDenials--
		return false
	}
	return true
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestRunner(m Messenger, s Store) *Runner {
	r := NewRunner(m, s, &fakePacer{}, quietLogger())
	r.rateLimitRecheck = 10 * time.Millisecond
	return r
}

func entries(numbers ...string) []model.ContactEntry {
	out := make([]model.ContactEntry, len(numbers))
	for i, n := range numbers {
		out[i] = model.ContactEntry{Number: n}
	}
	return out
}

func TestStartRejectsEmptyMessageWithoutMedia(t *testing.T) {
	r := newTestRunner(newFakeMessenger(), newFakeStore())

	_, err := r.Start(StartRequest{Entries: entries("+5511999990001"), Message: "  "})

	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestStartRejectsEmptyEntryList(t *testing.T) {
	r := newTestRunner(newFakeMessenger(), newFakeStore())

	_, err := r.Start(StartRequest{Message: "hi"})

	assert.ErrorIs(t, err, ErrNoEntries)
}

func TestStartAllowsMediaOnlyCampaign(t *testing.T) {
	messenger := newFakeMessenger()
	r := newTestRunner(messenger, newFakeStore())

	run, err := r.Start(StartRequest{
		Entries: entries("+5511999990001"),
		Media:   &model.MediaPayload{Name: "photo.png", Data: "aGVsbG8="},
	})
	require.NoError(t, err)

	final := r.Wait()
	assert.Equal(t, model.RunCompleted, final.Status)
	require.Len(t, messenger.sentCalls(), 1)
	assert.True(t, messenger.sentCalls()[0].IsMedia)
	assert.NotEmpty(t, run.ID)
}

func TestStartRejectsOversizedMedia(t *testing.T) {
	r := newTestRunner(newFakeMessenger(), newFakeStore())

	_, err := r.Start(StartRequest{
		Entries: entries("+5511999990001"),
		Message: "hi",
		Media:   &model.MediaPayload{Name: "big.bin", Data: "not-base64!!"},
	})

	assert.Error(t, err)
}

func TestSecondStartRejectedWhileRunning(t *testing.T) {
	messenger := newFakeMessenger()
	messenger.started = make(chan string, 8)
	messenger.gate = make(chan struct{})
	r := newTestRunner(messenger, newFakeStore())

	_, err := r.Start(StartRequest{Entries: entries("+5511999990001"), Message: "hi"})
	require.NoError(t, err)
	<-messenger.started

	_, err = r.Start(StartRequest{Entries: entries("+5511999990002"), Message: "hi"})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(messenger.gate)
	r.Wait()

	// Once finished a new campaign may start.
	_, err = r.Start(StartRequest{Entries: entries("+5511999990002"), Message: "hi"})
	assert.NoError(t, err)
	r.Wait()
}

func TestContinueOnFailure(t *testing.T) {
	messenger := newFakeMessenger()
	messenger.fail["+5511999990002"] = errors.New("chat did not open")
	store := newFakeStore()
	r := newTestRunner(messenger, store)

	_, err := r.Start(StartRequest{
		Entries: entries("+5511999990001", "+5511999990002", "+5511999990003"),
		Message: "Olá {{numero}}",
	})
	require.NoError(t, err)
	final := r.Wait()

	assert.Equal(t, model.RunCompleted, final.Status)
	assert.Equal(t, 3, final.Cursor)
	assert.Equal(t, 3, final.Stats.Attempted)
	assert.Equal(t, 2, final.Stats.Sent)
	assert.Equal(t, 1, final.Stats.Failed)

	require.Len(t, final.Results, 3)
	assert.True(t, final.Results[0].Sent)
	assert.False(t, final.Results[1].Sent)
	assert.Equal(t, "chat did not open", final.Results[1].Error)
	assert.True(t, final.Results[2].Sent)

	// Contacts 1 and 3 actually went out.
	calls := messenger.sentCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "+5511999990001", calls[0].Number)
	assert.Equal(t, "Olá +5511999990001", calls[0].Text)
	assert.Equal(t, "+5511999990003", calls[1].Number)
}

func TestPersistsAfterEveryContactAndClearsOnCompletion(t *testing.T) {
	messenger := newFakeMessenger()
	store := newFakeStore()
	r := newTestRunner(messenger, store)

	_, err := r.Start(StartRequest{
		Entries: entries("+5511999990001", "+5511999990002"),
		Message: "hi",
	})
	require.NoError(t, err)
	r.Wait()

	store.mu.Lock()
	saves := len(store.saves)
	store.mu.Unlock()
	// One save at start plus one per contact.
	assert.GreaterOrEqual(t, saves, 3)
	assert.Equal(t, 1, store.clearedCount())
}

func TestPauseHaltsCursorUntilResume(t *testing.T) {
	messenger := newFakeMessenger()
	messenger.started = make(chan string, 8)
	messenger.gate = make(chan struct{}, 8)
	r := newTestRunner(messenger, newFakeStore())

	_, err := r.Start(StartRequest{
		Entries: entries("+5511999990001", "+5511999990002"),
		Message: "hi",
	})
	require.NoError(t, err)

	// Pause while contact 1 is in flight: the contact finishes, the run
	// holds before contact 2.
	<-messenger.started
	require.NoError(t, r.Pause())
	messenger.gate <- struct{}{}

	require.Eventually(t, func() bool {
		run := r.Current()
		return run.Cursor == 1 && run.Status == model.RunPaused
	}, 2*time.Second, 10*time.Millisecond)

	// Paused means no progress.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, r.Current().Cursor)

	require.NoError(t, r.Resume())
	<-messenger.started
	messenger.gate <- struct{}{}

	final := r.Wait()
	assert.Equal(t, model.RunCompleted, final.Status)
	assert.Equal(t, 2, final.Cursor)
	assert.Equal(t, 2, final.Stats.Sent)
}

func TestStopAbortsRunAfterCurrentContact(t *testing.T) {
	messenger := newFakeMessenger()
	messenger.started = make(chan string, 8)
	messenger.gate = make(chan struct{}, 8)
	store := newFakeStore()
	r := newTestRunner(messenger, store)

	_, err := r.Start(StartRequest{
		Entries: entries("+5511999990001", "+5511999990002", "+5511999990003"),
		Message: "hi",
	})
	require.NoError(t, err)

	<-messenger.started
	require.NoError(t, r.Stop())
	messenger.gate <- struct{}{}

	final := r.Wait()
	assert.Equal(t, model.RunAborted, final.Status)
	assert.Equal(t, 1, final.Cursor)
	assert.Len(t, messenger.sentCalls(), 1)
	assert.Equal(t, 1, store.clearedCount())

	assert.ErrorIs(t, r.Pause(), ErrNotRunning)
}

func TestSkipAlreadySent(t *testing.T) {
	messenger := newFakeMessenger()
	store := newFakeStore()
	store.wasSent["+5511999990001"] = true
	r := newTestRunner(messenger, store)
	r.SkipAlreadySent = true

	_, err := r.Start(StartRequest{
		Entries: entries("+5511999990001", "+5511999990002"),
		Message: "hi",
	})
	require.NoError(t, err)
	final := r.Wait()

	assert.Equal(t, 1, final.Stats.Skipped)
	assert.Equal(t, 1, final.Stats.Sent)
	assert.Equal(t, 1, final.Stats.Attempted)
	require.Len(t, messenger.sentCalls(), 1)
	assert.Equal(t, "+5511999990002", messenger.sentCalls()[0].Number)
}

func TestDegradedOutcomeFlagsPropagate(t *testing.T) {
	messenger := newFakeMessenger()
	messenger.outcome = model.SendOutcome{Validated: false, Verified: false, Confirmed: false}
	store := newFakeStore()
	r := newTestRunner(messenger, store)

	_, err := r.Start(StartRequest{Entries: entries("+5511999990001"), Message: "hi"})
	require.NoError(t, err)
	final := r.Wait()

	require.Len(t, final.Results, 1)
	result := final.Results[0]
	assert.True(t, result.Sent)
	assert.False(t, result.Validated)
	assert.False(t, result.Verified)
	assert.False(t, result.Confirmed)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.records, 1)
	assert.Equal(t, model.SendStatusSent, store.records[0].Status)
	assert.False(t, store.records[0].Validated)
}

func TestInvalidNumberFailsThatContactOnly(t *testing.T) {
	messenger := newFakeMessenger()
	r := newTestRunner(messenger, newFakeStore())

	_, err := r.Start(StartRequest{
		Entries: []model.ContactEntry{
			{Number: "123"},
			{Number: "+5511999990002"},
		},
		Message: "hi",
	})
	require.NoError(t, err)
	final := r.Wait()

	assert.Equal(t, 1, final.Stats.Failed)
	assert.Equal(t, 1, final.Stats.Sent)
	require.Len(t, messenger.sentCalls(), 1)
	assert.Equal(t, "+5511999990002", messenger.sentCalls()[0].Number)
}

func TestRunDefersWhileRateLimited(t *testing.T) {
	messenger := newFakeMessenger()
	pacer := &fakePacer{limitDenials: 3}
	r := NewRunner(messenger, newFakeStore(), pacer, quietLogger())
	r.rateLimitRecheck = 5 * time.Millisecond

	_, err := r.Start(StartRequest{Entries: entries("+5511999990001"), Message: "hi"})
	require.NoError(t, err)
	final := r.Wait()

	assert.Equal(t, model.RunCompleted, final.Status)
	assert.Equal(t, 1, final.Stats.Sent)
	pacer.mu.Lock()
	defer pacer.mu.Unlock()
	assert.GreaterOrEqual(t, pacer.checks, 4)
}

func TestDedupKeepsFirstOccurrence(t *testing.T) {
	messenger := newFakeMessenger()
	r := newTestRunner(messenger, newFakeStore())

	_, err := r.Start(StartRequest{
		Entries: []model.ContactEntry{
			{Number: "+5511999990001", Name: "Ana"},
			{Number: "55 11 99999-0001", Name: "Duplicate"},
			{Number: "+5511999990002", Name: "Bia"},
		},
		Message: "Olá {{nome}}",
	})
	require.NoError(t, err)
	final := r.Wait()

	assert.Equal(t, 2, final.Stats.Attempted)
	calls := messenger.sentCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Olá Ana", calls[0].Text)
	assert.Equal(t, "Olá Bia", calls[1].Text)
}

func TestNotifierReceivesProgress(t *testing.T) {
	messenger := newFakeMessenger()
	r := newTestRunner(messenger, newFakeStore())

	var mu sync.Mutex
	var events []model.Progress
	r.Notifier = notifierFunc(func(p model.Progress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	})

	_, err := r.Start(StartRequest{Entries: entries("+5511999990001"), Message: "hi"})
	require.NoError(t, err)
	r.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, model.RunCompleted, last.Status)
	assert.Equal(t, 1, last.Stats.Sent)
}

type notifierFunc func(p model.Progress)

func (f notifierFunc) Publish(p model.Progress) { f(p) }
