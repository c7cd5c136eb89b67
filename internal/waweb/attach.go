package waweb

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"whatsapp-campaign/internal/media"
	"whatsapp-campaign/internal/model"
)

const (
	fileInputAttempts = 10
	previewAttempts   = 50
)

// attachAndSend runs the media attachment flow against the currently open
// chat: open the attach menu, inject the file, wait for the preview dialog,
// caption it, send. The caption is best effort; the attachment is not.
// Returns whether the caption went through verified.
func (c *Client) attachAndSend(payload *model.MediaPayload, caption string) (bool, error) {
	c.logger.Infof("Attaching media %q", payload.Name)

	// The attach trigger moves around between WhatsApp versions, so each
	// candidate gets its own short click attempt.
	attachCandidates := Candidates(ElemAttachButton)
	clicked := false
	for i, sel := range attachCandidates {
		c.logger.Debugf("Trying attachment selector %d/%d: %s", i+1, len(attachCandidates), sel)
		if err := c.run(2*time.Second, chromedp.Click(sel, chromedp.ByQuery)); err == nil {
			clicked = true
			c.logger.Debugf("Clicked attachment button with selector: %s", sel)
			break
		}
	}
	if !clicked {
		return false, ErrAttachButtonNotFound
	}

	// Give the attachment menu a moment to render its file inputs.
	time.Sleep(time.Second)

	findCtx, findCancel := context.WithTimeout(c.ctx, 10*time.Second)
	inputSel, ok, err := c.FindWait(findCtx, ElemFileInput, fileInputAttempts)
	findCancel()
	if err != nil {
		return false, fmt.Errorf("failed to locate file input: %w", err)
	}
	if !ok {
		return false, ErrFileInputNotFound
	}

	path, cleanup, err := media.Materialize(payload)
	if err != nil {
		return false, fmt.Errorf("failed to materialize media: %w", err)
	}
	defer cleanup()

	if err := c.run(10*time.Second, chromedp.SetUploadFiles(inputSel, []string{path}, chromedp.ByQuery)); err != nil {
		return false, fmt.Errorf("failed to inject file into input: %w", err)
	}

	// File inputs fed over the protocol do not fire events on their own.
	dispatchJS := fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) { return false; }
	el.dispatchEvent(new Event("change", { bubbles: true }));
	el.dispatchEvent(new Event("input", { bubbles: true }));
	return true;
})()`, escapeJS(inputSel))
	var dispatched bool
	if err := c.run(5*time.Second, chromedp.Evaluate(dispatchJS, &dispatched)); err != nil || !dispatched {
		c.logger.Warnf("Failed to dispatch file input events: %v", err)
	}

	c.logger.Info("Waiting for media preview dialog...")
	previewCtx, previewCancel := context.WithTimeout(c.ctx, time.Duration(previewAttempts)*findInterval+10*time.Second)
	sendSel, ok, err := c.FindWait(previewCtx, ElemDialogSendButton, previewAttempts)
	previewCancel()
	if err != nil {
		return false, fmt.Errorf("failed waiting for media preview: %w", err)
	}
	if !ok {
		return false, ErrPreviewTimeout
	}

	captionVerified := true
	if caption != "" {
		c.logger.Debug("Adding caption to media...")
		outcome, err := c.insertInto(ElemDialogCaptionBox, caption, false, fmt.Errorf("caption box not found"))
		if err != nil {
			c.logger.Warnf("Could not add caption, sending media without it: %v", err)
			captionVerified = false
		} else if outcome == InsertUnverified {
			c.logger.Warn("Caption inserted without verification")
			captionVerified = false
		}
	}

	if err := c.run(3*time.Second, chromedp.Click(sendSel, chromedp.ByQuery)); err != nil {
		// The first located selector can go stale once the caption box
		// grabs focus; retry the rest of the list.
		clicked := false
		for _, sel := range Candidates(ElemDialogSendButton) {
			if sel == sendSel {
				continue
			}
			if err := c.run(2*time.Second, chromedp.Click(sel, chromedp.ByQuery)); err == nil {
				clicked = true
				break
			}
		}
		if !clicked {
			return false, fmt.Errorf("could not click media send button: %w", err)
		}
	}

	c.logger.Info("Media send dispatched")
	return captionVerified, nil
}
