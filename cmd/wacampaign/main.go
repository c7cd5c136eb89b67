package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"whatsapp-campaign/internal/api"
	"whatsapp-campaign/internal/campaign"
	"whatsapp-campaign/internal/config"
	"whatsapp-campaign/internal/contacts"
	"whatsapp-campaign/internal/logging"
	"whatsapp-campaign/internal/media"
	"whatsapp-campaign/internal/message"
	"whatsapp-campaign/internal/model"
	"whatsapp-campaign/internal/pacing"
	"whatsapp-campaign/internal/schedule"
	"whatsapp-campaign/internal/store"
	"whatsapp-campaign/internal/waweb"
)

var (
	configPath string
	dryRun     bool
)

func main() {
	root := &cobra.Command{
		Use:   "wacampaign",
		Short: "WhatsApp Web campaign automation",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Environment overrides may live in a .env next to the binary.
			_ = godotenv.Load()
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to configuration file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a campaign from the configured contact and template files",
		RunE:  runCampaign,
	}
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "render and log messages without sending")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the control API and the scheduled-campaign dispatcher",
		RunE:  serve,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Report persisted run state and the scheduled queue",
		RunE:  status,
	}

	root.AddCommand(runCmd, serveCmd, statusCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads config and builds the logger every command needs.
func bootstrap() (*config.Config, *logrus.Logger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, closeLog, err := logging.New(cfg.Logging.Level, cfg.Logging.OutputFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, logger, closeLog, nil
}

func buildPolicy(cfg *config.Config) *pacing.Policy {
	return pacing.New(pacing.Options{
		HourlyLimit:     cfg.Pacing.HourlyLimit,
		LongPauseChance: cfg.Pacing.LongPauseChance,
		LongPauseMin:    time.Duration(cfg.Pacing.LongPauseMinSeconds) * time.Second,
		LongPauseMax:    time.Duration(cfg.Pacing.LongPauseMaxSeconds) * time.Second,
	})
}

func runCampaign(cmd *cobra.Command, args []string) error {
	cfg, logger, closeLog, err := bootstrap()
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Info("WhatsApp campaign automation started")

	logger.Infof("Loading contacts from %s", cfg.Files.ContactsPath)
	entries, err := contacts.LoadFile(cfg.Files.ContactsPath)
	if err != nil {
		return fmt.Errorf("failed to load contacts: %w", err)
	}
	logger.Infof("Loaded %d contacts", len(entries))

	logger.Infof("Loading message template from %s", cfg.Files.TemplatePath)
	tmpl, err := message.Load(cfg.Files.TemplatePath)
	if err != nil {
		return fmt.Errorf("failed to load template: %w", err)
	}

	var payload *model.MediaPayload
	if cfg.Files.MediaPath != "" {
		logger.Infof("Loading media from %s", cfg.Files.MediaPath)
		payload, err = media.LoadFile(cfg.Files.MediaPath)
		if err != nil {
			return fmt.Errorf("failed to load media: %w", err)
		}
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	policy := buildPolicy(cfg)

	var messenger campaign.Messenger
	if dryRun {
		messenger = &dryRunMessenger{logger: logger}
	} else {
		client := waweb.NewClient(cfg, policy, logger)
		if err := client.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize WhatsApp client: %w", err)
		}
		defer client.Close()
		messenger = client
	}

	runner := campaign.NewRunner(messenger, db, policy, logger)
	runner.SkipAlreadySent = cfg.Campaign.SkipAlreadySent

	run, err := runner.RunSync(campaign.StartRequest{
		Entries:  entries,
		Message:  tmpl.Content,
		Media:    payload,
		DelayMin: cfg.Pacing.DelayMinSeconds,
		DelayMax: cfg.Pacing.DelayMaxSeconds,
	})
	if err != nil {
		return fmt.Errorf("campaign failed to start: %w", err)
	}

	logger.Info("WhatsApp campaign automation completed")
	if run.Stats.Failed > 0 {
		return fmt.Errorf("%d of %d contacts failed", run.Stats.Failed, run.Stats.Attempted)
	}
	return nil
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, logger, closeLog, err := bootstrap()
	if err != nil {
		return err
	}
	defer closeLog()

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	policy := buildPolicy(cfg)

	client := waweb.NewClient(cfg, policy, logger)
	if err := client.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize WhatsApp client: %w", err)
	}
	defer client.Close()

	hub := api.NewHub(logger)
	runner := campaign.NewRunner(client, db, policy, logger)
	runner.SkipAlreadySent = cfg.Campaign.SkipAlreadySent
	runner.Notifier = hub

	scheduler := schedule.New(db, runner, logger)
	if err := scheduler.StartSweep(); err != nil {
		return err
	}
	defer scheduler.Stop()

	server := api.NewServer(cfg.Server.Addr, runner, db, client, hub, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Infof("Received %s, shutting down", sig)
	}

	// A campaign in flight gets its cooperative stop before the listener
	// drains.
	if runner.Active() {
		if err := runner.Stop(); err == nil {
			runner.Wait()
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func status(cmd *cobra.Command, args []string) error {
	cfg, logger, closeLog, err := bootstrap()
	if err != nil {
		return err
	}
	defer closeLog()

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	run, err := db.LoadCurrentRun()
	if err != nil {
		return fmt.Errorf("failed to load run state: %w", err)
	}
	if run == nil {
		logger.Info("No persisted campaign run (last run finished cleanly)")
	} else {
		// A persisted record with no live process behind it means the run
		// was interrupted.
		logger.Warnf("Interrupted campaign %s: %d/%d contacts processed (%d sent, %d failed), started %s",
			run.ID, run.Cursor, len(run.Entries), run.Stats.Sent, run.Stats.Failed,
			run.StartedAt.Format(time.RFC3339))
	}

	scheduled, err := db.ListScheduled()
	if err != nil {
		return fmt.Errorf("failed to list scheduled campaigns: %w", err)
	}
	if len(scheduled) == 0 {
		logger.Info("No scheduled campaigns")
		return nil
	}
	logger.Infof("%d scheduled campaign(s):", len(scheduled))
	for _, sc := range scheduled {
		line := fmt.Sprintf("  %s  %-10s  %d contacts, due %s",
			sc.ID, sc.Status, len(sc.Entries), sc.ScheduledAt.Format(time.RFC3339))
		if sc.LastError != "" {
			line += "  (" + sc.LastError + ")"
		}
		logger.Info(line)
	}
	return nil
}

// dryRunMessenger logs what would be sent instead of driving the browser.
type dryRunMessenger struct {
	logger *logrus.Logger
}

func (d *dryRunMessenger) SendText(number, text string) (model.SendOutcome, error) {
	d.logger.Infof("[DRY RUN] Would send message to %s:\n%s", number, text)
	return model.SendOutcome{Validated: true, Verified: true}, nil
}

func (d *dryRunMessenger) SendMedia(number string, payload *model.MediaPayload, caption string) (model.SendOutcome, error) {
	d.logger.Infof("[DRY RUN] Would send media %q (%s) to %s with caption:\n%s",
		payload.Name, payload.MimeType, number, caption)
	return model.SendOutcome{Validated: true, Verified: true}, nil
}
