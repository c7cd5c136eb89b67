package model

import "time"

// RunStatus is the lifecycle state of a campaign run.
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
)

// ScheduleStatus is the lifecycle state of a scheduled campaign row.
type ScheduleStatus string

const (
	SchedulePending    ScheduleStatus = "pending"
	ScheduleProcessing ScheduleStatus = "processing"
	ScheduleSent       ScheduleStatus = "sent"
	ScheduleFailed     ScheduleStatus = "failed"
	ScheduleCancelled  ScheduleStatus = "cancelled"
)

// ContactEntry is one recipient. Number is stored normalized: a leading
// "+" followed by digits only. Vars holds extra per-contact template values.
type ContactEntry struct {
	Number string            `json:"number"`
	Name   string            `json:"name,omitempty"`
	Vars   map[string]string `json:"vars,omitempty"`
}

// MediaPayload is an inline attachment. Data is base64-encoded file content.
type MediaPayload struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data"`
}

// SendOutcome qualifies a successful send. Validated is false when the chat
// was opened without a confirmed recipient match; Verified is false when the
// text reached the composer through the unverified last-resort path;
// Confirmed reports whether a sent tick was observed.
type SendOutcome struct {
	Validated bool `json:"validated"`
	Verified  bool `json:"verified"`
	Confirmed bool `json:"confirmed"`
}

// ContactResult records the outcome for one contact of a run.
type ContactResult struct {
	Number    string `json:"number"`
	Name      string `json:"name,omitempty"`
	Sent      bool   `json:"sent"`
	Skipped   bool   `json:"skipped,omitempty"`
	Validated bool   `json:"validated"`
	Verified  bool   `json:"verified"`
	Confirmed bool   `json:"confirmed"`
	Error     string `json:"error,omitempty"`
}

// RunStats aggregates per-contact outcomes as a run progresses.
type RunStats struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// CampaignRun is the full state of one campaign execution. It is persisted
// as JSON after every contact so an interrupted run leaves evidence behind.
type CampaignRun struct {
	ID        string         `json:"id"`
	Entries   []ContactEntry `json:"entries"`
	Message   string         `json:"message"`
	Media     *MediaPayload  `json:"media,omitempty"`
	Cursor    int            `json:"cursor"`
	Status    RunStatus      `json:"status"`
	DelayMin  int            `json:"delay_min"`
	DelayMax  int            `json:"delay_max"`
	StartedAt time.Time      `json:"started_at"`
	Stats     RunStats       `json:"stats"`
	Results   []ContactResult `json:"results,omitempty"`
}

// ScheduledCampaign is a campaign waiting for its scheduled time.
type ScheduledCampaign struct {
	ID          string         `json:"id"`
	Entries     []ContactEntry `json:"entries"`
	Message     string         `json:"message"`
	Media       *MediaPayload  `json:"media,omitempty"`
	DelayMin    int            `json:"delay_min"`
	DelayMax    int            `json:"delay_max"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	Status      ScheduleStatus `json:"status"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Send history statuses.
const (
	SendStatusSent   = "sent"
	SendStatusFailed = "failed"
)

// SendRecord is one row of the send history.
type SendRecord struct {
	ID          string    `json:"id"`
	Number      string    `json:"number"`
	Name        string    `json:"name,omitempty"`
	MessageHash string    `json:"message_hash"`
	Status      string    `json:"status"`
	Validated   bool      `json:"validated"`
	Confirmed   bool      `json:"confirmed"`
	Error       string    `json:"error,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

// Progress is one progress event published while a run executes.
type Progress struct {
	RunID     string    `json:"run_id"`
	Status    RunStatus `json:"status"`
	Total     int       `json:"total"`
	Cursor    int       `json:"cursor"`
	Stats     RunStats  `json:"stats"`
	Current   string    `json:"current,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
