// Package campaign executes message campaigns: one cooperative goroutine
// walks the contact list, sends through a Messenger, and persists progress
// after every contact so an interrupted run leaves evidence behind.
package campaign

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"whatsapp-campaign/internal/contacts"
	"whatsapp-campaign/internal/media"
	"whatsapp-campaign/internal/message"
	"whatsapp-campaign/internal/model"
)

var (
	ErrNoEntries      = errors.New("campaign has no contact entries")
	ErrEmptyMessage   = errors.New("campaign message is empty")
	ErrAlreadyRunning = errors.New("a campaign is already running")
	ErrNotRunning     = errors.New("no campaign is running")
	ErrNotPaused      = errors.New("campaign is not paused")
)

// Messenger delivers one message to one contact. The browser client
// implements it; tests and dry runs substitute their own.
type Messenger interface {
	SendText(number, text string) (model.SendOutcome, error)
	SendMedia(number string, payload *model.MediaPayload, caption string) (model.SendOutcome, error)
}

// Store is the slice of persistence the runner needs.
type Store interface {
	SaveCurrentRun(run *model.CampaignRun) error
	ClearCurrentRun() error
	RecordSend(rec model.SendRecord) error
	WasSent(number, messageHash string) (bool, error)
}

// Pacer spaces contacts out and guards the hourly send window.
type Pacer interface {
	RandomDelay(min, max time.Duration) time.Duration
	CheckRateLimit() bool
	LongPause() time.Duration
}

// Notifier receives progress events as a run advances.
type Notifier interface {
	Publish(p model.Progress)
}

// StartRequest describes a campaign to execute. Delay bounds are seconds;
// a zero DelayMax collapses to DelayMin.
type StartRequest struct {
	Entries  []model.ContactEntry `json:"entries"`
	Message  string               `json:"message"`
	Media    *model.MediaPayload  `json:"media,omitempty"`
	DelayMin int                  `json:"delay_min"`
	DelayMax int                  `json:"delay_max"`
}

// Runner owns all campaign run state. At most one run is active per Runner;
// starting a second is rejected, never queued.
type Runner struct {
	messenger Messenger
	store     Store
	pacer     Pacer
	logger    *logrus.Logger

	// Optional collaborators, set before the first Start.
	Notifier        Notifier
	SkipAlreadySent bool

	mu      sync.Mutex
	run     *model.CampaignRun
	paused  bool
	aborted bool
	done    chan struct{}

	// How long to wait between window re-checks while the hourly limit
	// holds the run back.
	rateLimitRecheck time.Duration
}

func NewRunner(messenger Messenger, store Store, pacer Pacer, logger *logrus.Logger) *Runner {
	return &Runner{
		messenger:        messenger,
		store:            store,
		pacer:            pacer,
		logger:           logger,
		rateLimitRecheck: 15 * time.Second,
	}
}

// Start validates the request and launches the campaign goroutine. It
// returns a snapshot of the freshly started run.
func (r *Runner) Start(req StartRequest) (*model.CampaignRun, error) {
	if strings.TrimSpace(req.Message) == "" && req.Media == nil {
		return nil, ErrEmptyMessage
	}
	entries := contacts.Dedup(req.Entries)
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	if err := media.Validate(req.Media); err != nil {
		return nil, fmt.Errorf("invalid media: %w", err)
	}

	if req.DelayMin < 0 {
		req.DelayMin = 0
	}
	if req.DelayMax < req.DelayMin {
		req.DelayMax = req.DelayMin
	}

	r.mu.Lock()
	if r.activeLocked() {
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}

	run := &model.CampaignRun{
		ID:        uuid.New().String(),
		Entries:   entries,
		Message:   req.Message,
		Media:     req.Media,
		Status:    model.RunRunning,
		DelayMin:  req.DelayMin,
		DelayMax:  req.DelayMax,
		StartedAt: time.Now(),
	}
	r.run = run
	r.paused = false
	r.aborted = false
	r.done = make(chan struct{})
	r.mu.Unlock()

	r.persist(run)
	r.notify(run, "")

	// Snapshot before the goroutine starts mutating the run.
	snap := snapshot(run)
	go r.execute(run)

	return snap, nil
}

// RunSync starts a campaign and blocks until it finishes.
func (r *Runner) RunSync(req StartRequest) (*model.CampaignRun, error) {
	if _, err := r.Start(req); err != nil {
		return nil, err
	}
	return r.Wait(), nil
}

// Pause asks the run to hold before the next contact. The in-flight
// contact, if any, still finishes.
func (r *Runner) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.activeLocked() {
		return ErrNotRunning
	}
	if r.paused {
		return nil
	}
	r.paused = true
	r.run.Status = model.RunPaused
	r.logger.Infof("Campaign %s paused", r.run.ID)
	go r.persistAndNotify()
	return nil
}

// Resume continues a paused run.
func (r *Runner) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.activeLocked() {
		return ErrNotRunning
	}
	if !r.paused {
		return ErrNotPaused
	}
	r.paused = false
	r.run.Status = model.RunRunning
	r.logger.Infof("Campaign %s resumed", r.run.ID)
	go r.persistAndNotify()
	return nil
}

// Stop aborts the run cooperatively: flags are set here, the campaign
// goroutine observes them at the next boundary and winds down.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.activeLocked() {
		return ErrNotRunning
	}
	r.aborted = true
	r.paused = false
	r.logger.Infof("Campaign %s abort requested", r.run.ID)
	return nil
}

// Current returns a snapshot of the newest run, running or finished, or
// nil when none was started in this process.
func (r *Runner) Current() *model.CampaignRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run == nil {
		return nil
	}
	return snapshot(r.run)
}

// Active reports whether a run is currently executing or paused.
func (r *Runner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked()
}

// Wait blocks until the active run finishes and returns its final state.
func (r *Runner) Wait() *model.CampaignRun {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
	return r.Current()
}

func (r *Runner) activeLocked() bool {
	return r.run != nil && (r.run.Status == model.RunRunning || r.run.Status == model.RunPaused)
}

// execute is the single campaign goroutine.
func (r *Runner) execute(run *model.CampaignRun) {
	tmpl := message.New(run.Message)
	total := len(run.Entries)
	r.logger.Infof("Campaign %s started: %d contacts", run.ID, total)

	for i := run.Cursor; i < total; i++ {
		if !r.waitWhilePaused() {
			break
		}
		if !r.waitForRateLimit() {
			break
		}

		entry := run.Entries[i]
		r.notify(run, entry.Number)

		result, hash := r.processContact(run, entry, tmpl)

		r.mu.Lock()
		run.Cursor = i + 1
		if result.Skipped {
			run.Stats.Skipped++
		} else {
			run.Stats.Attempted++
			if result.Sent {
				run.Stats.Sent++
			} else {
				run.Stats.Failed++
			}
		}
		run.Results = append(run.Results, result)
		r.mu.Unlock()

		r.persist(run)
		if !result.Skipped {
			r.recordHistory(result, hash)
		}
		r.notify(run, "")

		if i < total-1 {
			delay := r.pacer.RandomDelay(
				time.Duration(run.DelayMin)*time.Second,
				time.Duration(run.DelayMax)*time.Second,
			)
			if long := r.pacer.LongPause(); long > 0 {
				r.logger.Infof("Taking a longer pause of %v", long.Round(time.Second))
				delay += long
			}
			if !r.sleepInterruptible(delay) {
				break
			}
		}
	}

	r.finish(run)
}

func (r *Runner) finish(run *model.CampaignRun) {
	r.mu.Lock()
	if r.aborted {
		run.Status = model.RunAborted
	} else {
		run.Status = model.RunCompleted
	}
	done := r.done
	r.mu.Unlock()

	// Completed and aborted runs both clear the persisted record; it only
	// ever describes a run that may still be resumed by an operator
	// post-mortem, not one that ended cleanly.
	if r.store != nil {
		if err := r.store.ClearCurrentRun(); err != nil {
			r.logger.Warnf("Failed to clear persisted run state: %v", err)
		}
	}

	r.logSummary(run)
	r.notify(run, "")
	close(done)
}

func (r *Runner) logSummary(run *model.CampaignRun) {
	r.logger.Info("=== Campaign Summary ===")
	r.logger.Infof("Campaign: %s (%s)", run.ID, run.Status)
	r.logger.Infof("Total contacts: %d", len(run.Entries))
	r.logger.Infof("Successful: %d", run.Stats.Sent)
	r.logger.Infof("Failed: %d", run.Stats.Failed)
	r.logger.Infof("Skipped (already sent): %d", run.Stats.Skipped)
	r.logger.Infof("Duration: %v", time.Since(run.StartedAt).Round(time.Second))

	if run.Stats.Failed > 0 {
		r.logger.Warn("Failed contacts:")
		for _, result := range run.Results {
			if !result.Sent && !result.Skipped {
				r.logger.Warnf("  - %s (%s): %s", result.Name, result.Number, result.Error)
			}
		}
	}
}

// processContact runs the per-contact pipeline: normalize, render, send.
// Every failure is caught here; the campaign always moves on.
func (r *Runner) processContact(run *model.CampaignRun, entry model.ContactEntry, tmpl *message.Template) (model.ContactResult, string) {
	result := model.ContactResult{Number: entry.Number, Name: entry.Name}

	normalized, err := contacts.Normalize(entry.Number)
	if err != nil {
		r.logger.Errorf("Failed to normalize %s: %v", entry.Number, err)
		result.Error = err.Error()
		return result, ""
	}
	result.Number = normalized
	entry.Number = normalized

	rendered := tmpl.Render(entry)
	// A media campaign may legitimately carry an empty caption; a pure
	// text campaign may not send nothing.
	if strings.TrimSpace(rendered) == "" && run.Media == nil {
		r.logger.Errorf("Rendered message for %s is empty", normalized)
		result.Error = "rendered message is empty"
		return result, ""
	}
	hash := message.Hash(rendered)

	if r.SkipAlreadySent && r.store != nil {
		sent, err := r.store.WasSent(normalized, hash)
		if err != nil {
			r.logger.Warnf("Send history lookup failed for %s: %v", normalized, err)
		} else if sent {
			r.logger.Infof("Skipping %s: identical message already sent", normalized)
			result.Skipped = true
			return result, hash
		}
	}

	var outcome model.SendOutcome
	if run.Media != nil {
		outcome, err = r.messenger.SendMedia(normalized, run.Media, rendered)
	} else {
		outcome, err = r.messenger.SendText(normalized, rendered)
	}
	if err != nil {
		r.logger.Errorf("Failed to send to %s (%s): %v", entry.Name, normalized, err)
		result.Error = err.Error()
		return result, hash
	}

	result.Sent = true
	result.Validated = outcome.Validated
	result.Verified = outcome.Verified
	result.Confirmed = outcome.Confirmed
	if !outcome.Validated {
		r.logger.Warnf("Chat for %s was opened without recipient validation", normalized)
	}
	if !outcome.Verified {
		r.logger.Warnf("Message to %s left through the unverified insertion path", normalized)
	}

	return result, hash
}

func (r *Runner) recordHistory(result model.ContactResult, hash string) {
	if r.store == nil || hash == "" {
		return
	}

	status := model.SendStatusFailed
	if result.Sent {
		status = model.SendStatusSent
	}
	rec := model.SendRecord{
		Number:      result.Number,
		Name:        result.Name,
		MessageHash: hash,
		Status:      status,
		Validated:   result.Validated,
		Confirmed:   result.Confirmed,
		Error:       result.Error,
	}
	if err := r.store.RecordSend(rec); err != nil {
		r.logger.Warnf("Failed to record send history for %s: %v", result.Number, err)
	}
}

// waitWhilePaused blocks while the pause flag holds. False means the run
// was aborted instead of resumed.
func (r *Runner) waitWhilePaused() bool {
	for {
		r.mu.Lock()
		paused, aborted := r.paused, r.aborted
		r.mu.Unlock()
		if aborted {
			return false
		}
		if !paused {
			return true
		}
		time.Sleep(flagCheckInterval)
	}
}

// waitForRateLimit defers the next contact while the hourly window is
// full. The wait is interruptible like every other wait in the run.
func (r *Runner) waitForRateLimit() bool {
	if r.pacer == nil {
		return true
	}
	logged := false
	for !r.pacer.CheckRateLimit() {
		if !logged {
			r.logger.Warn("Hourly send limit reached, deferring until the window frees")
			logged = true
		}
		if !r.sleepInterruptible(r.rateLimitRecheck) {
			return false
		}
	}
	return true
}

const flagCheckInterval = 250 * time.Millisecond

// sleepInterruptible waits for d while honoring abort immediately and
// pause without consuming the remaining delay.
func (r *Runner) sleepInterruptible(d time.Duration) bool {
	remaining := d
	for remaining > 0 {
		r.mu.Lock()
		paused, aborted := r.paused, r.aborted
		r.mu.Unlock()
		if aborted {
			return false
		}
		if paused {
			time.Sleep(flagCheckInterval)
			continue
		}

		step := flagCheckInterval
		if remaining < step {
			step = remaining
		}
		time.Sleep(step)
		remaining -= step
	}

	r.mu.Lock()
	aborted := r.aborted
	r.mu.Unlock()
	return !aborted
}

func (r *Runner) persist(run *model.CampaignRun) {
	if r.store == nil {
		return
	}
	r.mu.Lock()
	snap := snapshot(run)
	r.mu.Unlock()
	if err := r.store.SaveCurrentRun(snap); err != nil {
		r.logger.Warnf("Failed to persist run state: %v", err)
	}
}

func (r *Runner) persistAndNotify() {
	r.mu.Lock()
	run := r.run
	r.mu.Unlock()
	if run == nil {
		return
	}
	r.persist(run)
	r.notify(run, "")
}

func (r *Runner) notify(run *model.CampaignRun, current string) {
	r.mu.Lock()
	p := model.Progress{
		RunID:     run.ID,
		Status:    run.Status,
		Total:     len(run.Entries),
		Cursor:    run.Cursor,
		Stats:     run.Stats,
		Current:   current,
		Timestamp: time.Now(),
	}
	r.mu.Unlock()

	if r.Notifier != nil {
		r.Notifier.Publish(p)
	}
}

// snapshot copies the mutable parts of a run so callers can read it
// without racing the campaign goroutine. Callers hold the mutex or own
// the run exclusively.
func snapshot(run *model.CampaignRun) *model.CampaignRun {
	cp := *run
	cp.Results = append([]model.ContactResult(nil), run.Results...)
	return &cp
}
