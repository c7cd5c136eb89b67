// Package api exposes the campaign runner over HTTP: the outside
// scheduler/coordinator boundary. Commands come in as JSON, progress goes
// out over a websocket broadcast.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"whatsapp-campaign/internal/campaign"
	"whatsapp-campaign/internal/contacts"
	"whatsapp-campaign/internal/model"
	"whatsapp-campaign/internal/waweb"
)

// Runner is the campaign control surface the API drives.
type Runner interface {
	Start(req campaign.StartRequest) (*model.CampaignRun, error)
	RunSync(req campaign.StartRequest) (*model.CampaignRun, error)
	Pause() error
	Resume() error
	Stop() error
	Current() *model.CampaignRun
	Active() bool
}

// Store is the slice of persistence the API reads and writes.
type Store interface {
	LoadCurrentRun() (*model.CampaignRun, error)
	AddScheduled(sc *model.ScheduledCampaign) error
	ListScheduled() ([]model.ScheduledCampaign, error)
	CancelScheduled(id string) error
}

// SessionReporter exposes the browser session state.
type SessionReporter interface {
	Session() waweb.SessionInfo
}

// Server wires the HTTP surface together.
type Server struct {
	runner  Runner
	store   Store
	session SessionReporter
	hub     *Hub
	logger  *logrus.Logger
	http    *http.Server
}

func NewServer(addr string, runner Runner, store Store, session SessionReporter, hub *Hub, logger *logrus.Logger) *Server {
	s := &Server{
		runner:  runner,
		store:   store,
		session: session,
		hub:     hub,
		logger:  logger,
	}
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}
	return s
}

// Routes builds the router. Exposed separately so tests can drive the
// handlers without a listener.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/campaigns/run", s.handleRun)
		r.Post("/campaigns/pause", s.handleControl(s.runner.Pause))
		r.Post("/campaigns/resume", s.handleControl(s.runner.Resume))
		r.Post("/campaigns/stop", s.handleControl(s.runner.Stop))
		r.Get("/campaigns/current", s.handleCurrent)
		r.Post("/campaigns/schedule", s.handleSchedule)
		r.Get("/campaigns/scheduled", s.handleListScheduled)
		r.Delete("/campaigns/scheduled/{id}", s.handleCancelScheduled)
		r.Post("/messages/send", s.handleSendSync)
		r.Get("/session", s.handleSession)
	})
	r.Get("/ws", s.hub.handleWebSocket)

	return r
}

// ListenAndServe blocks serving HTTP until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Infof("Control API listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// campaignRequest is the wire shape shared by run, send and schedule.
// Contacts carries the newline list format; Entries carries pre-parsed
// records. One of the two must be present.
type campaignRequest struct {
	Contacts    string               `json:"contacts,omitempty"`
	Entries     []model.ContactEntry `json:"entries,omitempty"`
	Message     string               `json:"message"`
	Media       *model.MediaPayload  `json:"media,omitempty"`
	DelayMin    int                  `json:"delay_min"`
	DelayMax    int                  `json:"delay_max"`
	ScheduledAt time.Time            `json:"scheduled_at,omitempty"`
}

func (cr *campaignRequest) toStartRequest() (campaign.StartRequest, error) {
	entries := cr.Entries
	if len(entries) == 0 && cr.Contacts != "" {
		parsed, err := contacts.ParseList(cr.Contacts)
		if err != nil {
			return campaign.StartRequest{}, fmt.Errorf("invalid contact list: %w", err)
		}
		entries = parsed
	}
	return campaign.StartRequest{
		Entries:  entries,
		Message:  cr.Message,
		Media:    cr.Media,
		DelayMin: cr.DelayMin,
		DelayMax: cr.DelayMax,
	}, nil
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	start, err := req.toStartRequest()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	run, err := s.runner.Start(start)
	if err != nil {
		s.writeError(w, startErrorStatus(err), err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"ok":     true,
		"run_id": run.ID,
		"total":  len(run.Entries),
	})
}

// handleSendSync is the synchronous "send these messages to this contact
// group" command: it runs the campaign to completion and reports counts.
func (s *Server) handleSendSync(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	start, err := req.toStartRequest()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	run, err := s.runner.RunSync(start)
	if err != nil {
		s.writeError(w, startErrorStatus(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"run_id": run.ID,
		"sent":   run.Stats.Sent,
		"failed": run.Stats.Failed,
	})
}

func (s *Server) handleControl(op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(); err != nil {
			status := http.StatusConflict
			if errors.Is(err, campaign.ErrNotRunning) {
				status = http.StatusNotFound
			}
			s.writeError(w, status, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// handleCurrent reports the live run when one exists in this process, and
// otherwise falls back to the persisted record, which after a crash is the
// evidence of an interrupted run.
func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	if run := s.runner.Current(); run != nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "run": run, "live": true})
		return
	}

	run, err := s.store.LoadCurrentRun()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if run == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "run": nil, "live": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"run":         run,
		"live":        false,
		"interrupted": true,
	})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.ScheduledAt.IsZero() {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("scheduled_at is required"))
		return
	}

	start, err := req.toStartRequest()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(start.Entries) == 0 {
		s.writeError(w, http.StatusBadRequest, campaign.ErrNoEntries)
		return
	}

	sc := &model.ScheduledCampaign{
		Entries:     start.Entries,
		Message:     start.Message,
		Media:       start.Media,
		DelayMin:    start.DelayMin,
		DelayMax:    start.DelayMax,
		ScheduledAt: req.ScheduledAt,
		Status:      model.SchedulePending,
	}
	if err := s.store.AddScheduled(sc); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": sc.ID})
}

func (s *Server) handleListScheduled(w http.ResponseWriter, r *http.Request) {
	scheduled, err := s.store.ListScheduled()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "scheduled": scheduled})
}

func (s *Server) handleCancelScheduled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.CancelScheduled(id); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	info := s.session.Session()
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session": info})
}

func startErrorStatus(err error) int {
	if errors.Is(err, campaign.ErrAlreadyRunning) {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debugf("Failed to write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]any{"ok": false, "error": err.Error()})
}
