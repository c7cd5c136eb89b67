package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-campaign/internal/campaign"
	"whatsapp-campaign/internal/model"
)

type fakeQueue struct {
	due      []model.ScheduledCampaign
	dueErr   error
	claimed  []string
	denyIDs  map[string]bool
	statuses map[string]model.ScheduleStatus
	errors   map[string]string
}

func newFakeQueue(due ...model.ScheduledCampaign) *fakeQueue {
	return &fakeQueue{
		due:      due,
		denyIDs:  map[string]bool{},
		statuses: map[string]model.ScheduleStatus{},
		errors:   map[string]string{},
	}
}

func (q *fakeQueue) DueScheduled(now time.Time) ([]model.ScheduledCampaign, error) {
	return q.due, q.dueErr
}

func (q *fakeQueue) ClaimScheduled(id string) (bool, error) {
	if q.denyIDs[id] {
		return false, nil
	}
	q.claimed = append(q.claimed, id)
	return true, nil
}

func (q *fakeQueue) UpdateScheduledStatus(id string, status model.ScheduleStatus, lastError string) error {
	q.statuses[id] = status
	q.errors[id] = lastError
	return nil
}

type fakeRunner struct {
	active   bool
	startErr error
	started  []campaign.StartRequest
	finish   *model.CampaignRun
}

func (r *fakeRunner) Start(req campaign.StartRequest) (*model.CampaignRun, error) {
	if r.startErr != nil {
		return nil, r.startErr
	}
	r.started = append(r.started, req)
	return &model.CampaignRun{Status: model.RunRunning}, nil
}

func (r *fakeRunner) Wait() *model.CampaignRun { return r.finish }
func (r *fakeRunner) Active() bool             { return r.active }

func testScheduler(q Queue, r Runner) *Scheduler {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	s := New(q, r, logger)
	s.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func dueCampaign(id string) model.ScheduledCampaign {
	return model.ScheduledCampaign{
		ID:      id,
		Entries: []model.ContactEntry{{Number: "+5511999990001", Name: "Ana"}},
		Message: "hello {{nome}}",
		Status:  model.SchedulePending,
	}
}

func TestSweepDispatchesDueCampaign(t *testing.T) {
	queue := newFakeQueue(dueCampaign("sc-1"))
	runner := &fakeRunner{finish: &model.CampaignRun{
		Status: model.RunCompleted,
		Stats:  model.RunStats{Attempted: 1, Sent: 1},
	}}

	testScheduler(queue, runner).Sweep()

	require.Len(t, runner.started, 1)
	assert.Equal(t, "hello {{nome}}", runner.started[0].Message)
	assert.Equal(t, []string{"sc-1"}, queue.claimed)
	assert.Equal(t, model.ScheduleSent, queue.statuses["sc-1"])
}

func TestSweepLeavesRowsPendingWhileRunnerBusy(t *testing.T) {
	queue := newFakeQueue(dueCampaign("sc-1"), dueCampaign("sc-2"))
	runner := &fakeRunner{active: true}

	testScheduler(queue, runner).Sweep()

	assert.Empty(t, runner.started)
	assert.Empty(t, queue.claimed)
	assert.Empty(t, queue.statuses)
}

func TestSweepSkipsUnclaimableRow(t *testing.T) {
	queue := newFakeQueue(dueCampaign("sc-1"))
	queue.denyIDs["sc-1"] = true
	runner := &fakeRunner{}

	testScheduler(queue, runner).Sweep()

	assert.Empty(t, runner.started)
	assert.Empty(t, queue.statuses)
}

func TestSweepMarksFailedWhenStartRejected(t *testing.T) {
	queue := newFakeQueue(dueCampaign("sc-1"))
	runner := &fakeRunner{startErr: errors.New("no entries")}

	testScheduler(queue, runner).Sweep()

	assert.Equal(t, model.ScheduleFailed, queue.statuses["sc-1"])
	assert.Equal(t, "no entries", queue.errors["sc-1"])
}

func TestSweepReturnsRowToQueueWhenRunnerWinsRace(t *testing.T) {
	queue := newFakeQueue(dueCampaign("sc-1"))
	runner := &fakeRunner{startErr: campaign.ErrAlreadyRunning}

	testScheduler(queue, runner).Sweep()

	// A run started elsewhere between the Active check and Start: the
	// claimed row must come back as pending, not end up failed.
	assert.Equal(t, model.SchedulePending, queue.statuses["sc-1"])
	assert.Empty(t, queue.errors["sc-1"])
}

func TestSweepMarksCancelledWhenRunAborted(t *testing.T) {
	queue := newFakeQueue(dueCampaign("sc-1"))
	runner := &fakeRunner{finish: &model.CampaignRun{
		Status: model.RunAborted,
		Stats:  model.RunStats{Attempted: 1, Sent: 1},
	}}

	testScheduler(queue, runner).Sweep()

	assert.Equal(t, model.ScheduleCancelled, queue.statuses["sc-1"])
}

func TestSweepMarksFailedWhenEveryContactFails(t *testing.T) {
	queue := newFakeQueue(dueCampaign("sc-1"))
	runner := &fakeRunner{finish: &model.CampaignRun{
		Status: model.RunCompleted,
		Stats:  model.RunStats{Attempted: 2, Failed: 2},
	}}

	testScheduler(queue, runner).Sweep()

	assert.Equal(t, model.ScheduleFailed, queue.statuses["sc-1"])
}
