// Package schedule dispatches campaigns whose scheduled time has arrived.
// A cron sweep polls the store for due rows and hands each one to the
// campaign runner; the runner stays the only thing that ever executes a
// campaign.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"whatsapp-campaign/internal/campaign"
	"whatsapp-campaign/internal/model"
)

// Queue is the slice of the store the scheduler needs.
type Queue interface {
	DueScheduled(now time.Time) ([]model.ScheduledCampaign, error)
	ClaimScheduled(id string) (bool, error)
	UpdateScheduledStatus(id string, status model.ScheduleStatus, lastError string) error
}

// Runner is the campaign executor the scheduler dispatches to.
type Runner interface {
	Start(req campaign.StartRequest) (*model.CampaignRun, error)
	Wait() *model.CampaignRun
	Active() bool
}

// sweepSpec fires every 30 seconds, fine-grained enough for minute-level
// scheduling without hammering the store.
const sweepSpec = "@every 30s"

// Scheduler sweeps the scheduled-campaign queue on a cron cadence.
type Scheduler struct {
	queue  Queue
	runner Runner
	logger *logrus.Logger
	cron   *cron.Cron
	now    func() time.Time
}

func New(queue Queue, runner Runner, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		queue:  queue,
		runner: runner,
		logger: logger,
		cron:   cron.New(),
		now:    time.Now,
	}
}

// StartSweep begins the periodic sweep. Call Stop to end it.
func (s *Scheduler) StartSweep() error {
	if _, err := s.cron.AddFunc(sweepSpec, s.Sweep); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("Campaign scheduler started")
	return nil
}

// Stop halts the sweep. A dispatch already in flight finishes on its own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// Sweep dispatches every due pending campaign, one at a time. A busy runner
// ends the sweep early and leaves the remaining rows pending for the next
// pass; the queue loses nothing.
func (s *Scheduler) Sweep() {
	due, err := s.queue.DueScheduled(s.now())
	if err != nil {
		s.logger.Errorf("Failed to query due campaigns: %v", err)
		return
	}

	for _, sc := range due {
		if s.runner.Active() {
			s.logger.Debugf("Runner busy, leaving %d due campaign(s) for the next sweep", len(due))
			return
		}
		s.dispatch(sc)
	}
}

// dispatch claims one row and runs it to completion.
func (s *Scheduler) dispatch(sc model.ScheduledCampaign) {
	claimed, err := s.queue.ClaimScheduled(sc.ID)
	if err != nil {
		s.logger.Errorf("Failed to claim scheduled campaign %s: %v", sc.ID, err)
		return
	}
	if !claimed {
		// Cancelled or claimed elsewhere between the query and now.
		return
	}

	s.logger.Infof("Dispatching scheduled campaign %s (%d contacts, due %s)",
		sc.ID, len(sc.Entries), sc.ScheduledAt.Format(time.RFC3339))

	if _, err := s.runner.Start(campaign.StartRequest{
		Entries:  sc.Entries,
		Message:  sc.Message,
		Media:    sc.Media,
		DelayMin: sc.DelayMin,
		DelayMax: sc.DelayMax,
	}); err != nil {
		if errors.Is(err, campaign.ErrAlreadyRunning) {
			// A run started through the API between the Active check and
			// here. The row goes back to pending so the next sweep
			// retries it instead of burying it as failed.
			s.logger.Infof("Runner became busy, returning scheduled campaign %s to the queue", sc.ID)
			s.markStatus(sc.ID, model.SchedulePending, "")
			return
		}
		s.logger.Errorf("Scheduled campaign %s failed to start: %v", sc.ID, err)
		s.markStatus(sc.ID, model.ScheduleFailed, err.Error())
		return
	}

	run := s.runner.Wait()
	switch {
	case run == nil:
		s.markStatus(sc.ID, model.ScheduleFailed, "run state lost")
	case run.Status == model.RunAborted:
		s.markStatus(sc.ID, model.ScheduleCancelled, "run aborted")
	case run.Stats.Sent == 0 && run.Stats.Failed > 0:
		s.markStatus(sc.ID, model.ScheduleFailed, fmt.Sprintf("all %d contacts failed", run.Stats.Failed))
	default:
		s.markStatus(sc.ID, model.ScheduleSent, "")
	}
}

func (s *Scheduler) markStatus(id string, status model.ScheduleStatus, lastError string) {
	if err := s.queue.UpdateScheduledStatus(id, status, lastError); err != nil {
		s.logger.Errorf("Failed to mark scheduled campaign %s as %s: %v", id, status, err)
	}
}
