package waweb

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"whatsapp-campaign/internal/model"
	"whatsapp-campaign/internal/poll"
)

const (
	tickAttempts = 20
	tickInterval = time.Second
)

// SendText opens the chat for a number and sends a text message. The
// returned outcome carries the degraded-path flags: an unvalidated chat
// open, an unverified insertion, a send without an observed tick.
func (c *Client) SendText(number, text string) (model.SendOutcome, error) {
	nav, err := c.OpenChat(number)
	if err != nil {
		return model.SendOutcome{}, err
	}

	insert, err := c.InsertText(text)
	if err != nil {
		return model.SendOutcome{}, err
	}

	// Insertion leaves focus in the composer; Enter dispatches.
	time.Sleep(500 * time.Millisecond)
	if err := c.dispatchSend(); err != nil {
		return model.SendOutcome{}, err
	}

	if c.policy != nil {
		c.policy.RecordSent()
	}

	confirmed := c.awaitSendConfirmation(number)

	c.logger.Infof("Message sent to %s", number)
	return model.SendOutcome{
		Validated: nav.Validated,
		Verified:  insert == InsertVerified,
		Confirmed: confirmed,
	}, nil
}

// SendMedia opens the chat for a number and sends a media attachment with
// an optional caption.
func (c *Client) SendMedia(number string, payload *model.MediaPayload, caption string) (model.SendOutcome, error) {
	if payload == nil {
		return model.SendOutcome{}, fmt.Errorf("no media payload given")
	}

	nav, err := c.OpenChat(number)
	if err != nil {
		return model.SendOutcome{}, err
	}

	captionVerified, err := c.attachAndSend(payload, caption)
	if err != nil {
		return model.SendOutcome{}, err
	}

	if c.policy != nil {
		c.policy.RecordSent()
	}

	confirmed := c.awaitSendConfirmation(number)

	c.logger.Infof("Media sent to %s", number)
	return model.SendOutcome{
		Validated: nav.Validated,
		Verified:  captionVerified,
		Confirmed: confirmed,
	}, nil
}

// dispatchSend fires the Enter key, falling back to the send button when
// the key event fails.
func (c *Client) dispatchSend() error {
	c.logger.Debug("Sending message with Enter key...")
	if err := c.run(3*time.Second, chromedp.KeyEvent("\r")); err == nil {
		return nil
	}

	for _, sel := range Candidates(ElemSendButton) {
		if err := c.run(2*time.Second, chromedp.Click(sel, chromedp.ByQuery)); err == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to dispatch send: no Enter and no clickable send button")
}

// awaitSendConfirmation waits for a sent tick on the newest outgoing
// message. Best effort: when ticks are disabled or never show up the send
// still counts, just unconfirmed.
func (c *Client) awaitSendConfirmation(number string) bool {
	if !c.config.Campaign.ConfirmTicks {
		// Flat wait: give the dispatch time to settle before any
		// navigation.
		time.Sleep(3 * time.Second)
		return false
	}

	c.logger.Info("Waiting for sent confirmation...")
	js := `(() => {
	const out = document.querySelectorAll("#main div.message-out");
	if (out.length === 0) { return false; }
	const last = out[out.length - 1];
	return !!last.querySelector("span[data-icon='msg-check'], span[data-icon='msg-dblcheck'], span[data-icon='msg-dblcheck-ack']");
})()`

	pollCtx, pollCancel := context.WithTimeout(c.ctx, time.Duration(tickAttempts)*tickInterval+5*time.Second)
	defer pollCancel()

	confirmed, err := poll.Until(pollCtx, tickInterval, tickAttempts, func(ctx context.Context) (bool, error) {
		var ticked bool
		if err := c.run(2*time.Second, chromedp.Evaluate(js, &ticked)); err != nil {
			return false, nil
		}
		return ticked, nil
	})
	if err != nil || !confirmed {
		c.logger.Warnf("Could not confirm message to %s was sent (no tick observed)", number)
		// Give an un-ticked send extra time before the next navigation.
		time.Sleep(5 * time.Second)
		return false
	}

	c.logger.Debug("Sent tick observed")
	time.Sleep(3 * time.Second)
	return true
}
