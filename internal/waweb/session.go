// Package waweb drives WhatsApp Web in a real Chrome instance over the
// DevTools protocol. It owns the browser session and the DOM flows that
// open chats, write messages and attach media.
package waweb

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"

	"whatsapp-campaign/internal/config"
	"whatsapp-campaign/internal/pacing"
	"whatsapp-campaign/internal/poll"
)

const (
	whatsappURL       = "https://web.whatsapp.com"
	loginPollInterval = time.Second
)

// Client is the WhatsApp Web automation client. One Client owns one Chrome
// instance; its send methods are meant to be called from a single campaign
// goroutine at a time.
type Client struct {
	config      *config.Config
	logger      *logrus.Logger
	policy      *pacing.Policy
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	lastQR      string
}

func NewClient(cfg *config.Config, policy *pacing.Policy, logger *logrus.Logger) *Client {
	return &Client{
		config: cfg,
		logger: logger,
		policy: policy,
	}
}

// Initialize starts Chrome, opens WhatsApp Web and waits for a logged-in
// session. While the login screen shows a QR code the code is exported to a
// PNG so headless operators can scan it.
func (c *Client) Initialize() error {
	c.logger.Info("Initializing browser automation...")

	c.logger.Debug("Checking network connectivity to WhatsApp Web...")
	if err := checkNetworkConnectivity(); err != nil {
		c.logger.Warnf("Network connectivity check failed: %v", err)
		c.logger.Warn("Proceeding anyway, but you may experience connection issues")
	} else {
		c.logger.Debug("Network connectivity check passed")
	}

	if c.config.Browser.ChromePath != "" {
		if _, err := os.Stat(c.config.Browser.ChromePath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("chrome executable not found at %s: check browser.chrome_path or remove it to use auto-detection", c.config.Browser.ChromePath)
			}
			return fmt.Errorf("cannot access Chrome executable at %s: %w", c.config.Browser.ChromePath, err)
		}
		c.logger.Infof("Using Chrome at: %s", c.config.Browser.ChromePath)
	} else {
		c.logger.Info("No Chrome path specified, using chromedp defaults")
	}

	if err := ensureUserDataDir(c.config.Browser.UserDataDir, c.logger); err != nil {
		return fmt.Errorf("failed to create user data directory: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.config.Browser.Headless),
		chromedp.UserDataDir(c.config.Browser.UserDataDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("excludeSwitches", "enable-automation"),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.WindowSize(1200, 800),
	)
	if c.config.Browser.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(c.config.Browser.ChromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	c.allocCancel = allocCancel
	c.ctx, c.cancel = chromedp.NewContext(allocCtx)

	c.logger.Info("Opening WhatsApp Web...")
	if err := chromedp.Run(c.ctx, chromedp.Navigate(whatsappURL)); err != nil {
		c.logger.Errorf("Chrome startup or navigation failed: %v", err)
		if strings.Contains(err.Error(), "chrome failed to start") {
			return fmt.Errorf("chrome failed to start: close other Chrome windows or delete the user data directory: %w", err)
		}
		if strings.Contains(err.Error(), "executable file not found") {
			return fmt.Errorf("chrome executable not found, check browser.chrome_path: %w", err)
		}
		return fmt.Errorf("failed to navigate to WhatsApp Web: %w", err)
	}
	c.logger.Info("Chrome started and navigated to WhatsApp Web")

	if err := c.waitForLogin(); err != nil {
		return err
	}

	c.logger.Info("WhatsApp Web loaded successfully!")

	// Let the page settle before the first DOM operation.
	time.Sleep(3 * time.Second)

	return nil
}

// waitForLogin blocks until the chat list side panel appears or the QR
// timeout expires. Every ticker interval it reports progress and refreshes
// the exported QR image, since WhatsApp rotates the code.
func (c *Client) waitForLogin() error {
	timeout := time.Duration(c.config.Browser.QRTimeoutSeconds) * time.Second
	c.logger.Info("Waiting for WhatsApp Web to load...")
	c.logger.Infof("If you see a QR code, please scan it within %d seconds", c.config.Browser.QRTimeoutSeconds)

	timeoutCtx, timeoutCancel := context.WithTimeout(c.ctx, timeout)
	defer timeoutCancel()

	// The chat list marker moves between WhatsApp releases like every
	// other element, so login detection runs through the locator's full
	// candidate list rather than one hard-coded selector.
	done := make(chan error, 1)
	go func() {
		attempts := int(timeout/loginPollInterval) + 1
		found, err := poll.Until(timeoutCtx, loginPollInterval, attempts, func(pollCtx context.Context) (bool, error) {
			// Evaluation errors while the page is still loading are
			// transient; keep polling until the budget runs out.
			_, ok, _ := c.Find(pollCtx, ElemSidePanel)
			return ok, nil
		})
		if err == nil && !found {
			err = context.DeadlineExceeded
		}
		done <- err
	}()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	startTime := time.Now()

	var err error
waitLoop:
	for {
		select {
		case err = <-done:
			break waitLoop
		case <-ticker.C:
			remaining := timeout.Seconds() - time.Since(startTime).Seconds()
			if remaining > 0 {
				c.logger.Infof("Still waiting for WhatsApp Web login... (%.0f seconds remaining)", remaining)
			}
			c.exportLoginQR()
		}
	}

	if err != nil {
		if strings.Contains(err.Error(), "context deadline exceeded") {
			return fmt.Errorf("timeout waiting for WhatsApp Web login: scan the QR code within %d seconds", c.config.Browser.QRTimeoutSeconds)
		}
		return fmt.Errorf("failed to load WhatsApp Web: %w", err)
	}

	// Logged in: the exported image is stale now.
	if c.lastQR != "" {
		os.Remove(c.config.Browser.QRImagePath)
	}
	return nil
}

// exportLoginQR reads the current QR payload off the login page and writes
// it as a scannable PNG. Best effort: failures are logged, never fatal.
func (c *Client) exportLoginQR() {
	opCtx, opCancel := context.WithTimeout(c.ctx, 2*time.Second)
	defer opCancel()

	var payload string
	err := chromedp.Run(opCtx, chromedp.Evaluate(
		`(() => { const el = document.querySelector("div[data-ref]"); return el ? el.getAttribute("data-ref") : ""; })()`,
		&payload,
	))
	if err != nil || payload == "" || payload == c.lastQR {
		return
	}

	if err := qrcode.WriteFile(payload, qrcode.Medium, 256, c.config.Browser.QRImagePath); err != nil {
		c.logger.Warnf("Failed to export login QR code: %v", err)
		return
	}
	c.lastQR = payload
	c.logger.Infof("Login QR code exported to %s (rescan if it rotates)", c.config.Browser.QRImagePath)
}

// Close shuts the browser down.
func (c *Client) Close() {
	if c.cancel != nil {
		c.logger.Info("Closing browser...")
		c.cancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
}

// SessionInfo is the live browser/login state for the status surfaces.
type SessionInfo struct {
	Initialized bool `json:"initialized"`
	LoggedIn    bool `json:"logged_in"`
}

// Session reports whether the browser is up and the account logged in.
func (c *Client) Session() SessionInfo {
	info := SessionInfo{Initialized: c.ctx != nil}
	if !info.Initialized {
		return info
	}

	opCtx, opCancel := context.WithTimeout(c.ctx, 2*time.Second)
	defer opCancel()

	if _, ok, err := c.Find(opCtx, ElemSidePanel); err == nil && ok {
		info.LoggedIn = true
	}
	return info
}

// run executes chromedp actions against the session with a per-operation
// timeout, so a wedged page never blocks a send indefinitely.
func (c *Client) run(timeout time.Duration, actions ...chromedp.Action) error {
	if c.ctx == nil {
		return ErrNotLoggedIn
	}
	opCtx, opCancel := context.WithTimeout(c.ctx, timeout)
	defer opCancel()
	return chromedp.Run(opCtx, actions...)
}

// checkNetworkConnectivity verifies we can reach WhatsApp Web at all.
func checkNetworkConnectivity() error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(whatsappURL)
	if err != nil {
		return fmt.Errorf("cannot reach WhatsApp Web: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("WhatsApp Web returned server error: %d", resp.StatusCode)
	}
	return nil
}

// ensureUserDataDir creates the Chrome profile directory if needed and
// verifies it is writable.
func ensureUserDataDir(dirPath string, logger *logrus.Logger) error {
	if dirPath == "" {
		logger.Info("No user data directory specified, Chrome will use default")
		return nil
	}

	logger.Infof("Using user data directory: %s", dirPath)

	info, err := os.Stat(dirPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to check directory: %w", err)
		}
		logger.Infof("Creating user data directory: %s", dirPath)
		if err := os.MkdirAll(dirPath, 0777); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dirPath, err)
		}
	} else if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory: %s", dirPath)
	}

	testFile := filepath.Join(dirPath, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0666); err != nil {
		return fmt.Errorf("directory exists but is not writable: %s", dirPath)
	}
	os.Remove(testFile)

	return nil
}
