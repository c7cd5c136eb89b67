package waweb

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

// InsertOutcome reports how text ended up in a composer. InsertUnverified
// means the last-resort direct assignment ran without a read-back check;
// callers must surface it, not treat it as a verified insert.
type InsertOutcome int

const (
	InsertVerified InsertOutcome = iota
	InsertUnverified
)

const composerFindAttempts = 10

// InsertText writes message text into the chat composer using a cascade of
// strategies, most reliable first:
//
//  1. document.execCommand("insertText"), verified by reading the text back
//  2. clipboard write plus Ctrl+V paste, verified the same way
//  3. direct content assignment plus a synthetic input event, unverified
//
// The stealth typing mode replaces strategy 1 with per-key typing at human
// speed.
func (c *Client) InsertText(text string) (InsertOutcome, error) {
	return c.insertInto(ElemComposer, text, c.config.Campaign.StealthTyping, ErrComposerNotFound)
}

func (c *Client) insertInto(elem Element, text string, stealth bool, notFound error) (InsertOutcome, error) {
	if strings.TrimSpace(text) == "" {
		return 0, ErrEmptyText
	}
	if c.ctx == nil {
		return 0, ErrNotLoggedIn
	}
	text = normalizeLineEndings(text)

	findCtx, findCancel := context.WithTimeout(c.ctx, 10*time.Second)
	selector, ok, err := c.FindWait(findCtx, elem, composerFindAttempts)
	findCancel()
	if err != nil {
		return 0, fmt.Errorf("failed to locate %s: %w", elem, err)
	}
	if !ok {
		return 0, notFound
	}

	if stealth {
		c.logger.Debug("Typing text at human speed...")
		if err := c.typeText(selector, text); err == nil && c.verifyInserted(selector, text) {
			return InsertVerified, nil
		}
		c.logger.Debug("Stealth typing unverified, falling back to insertText")
	}

	// Strategy 1: execCommand insertText over a select-all, so stale
	// composer content is replaced, not appended to.
	inserted, err := c.execInsertText(selector, text)
	if err != nil {
		c.logger.Debugf("execCommand insertText failed: %v", err)
	} else if inserted && c.verifyInserted(selector, text) {
		return InsertVerified, nil
	}

	// Strategy 2: clipboard paste.
	c.logger.Debug("insertText unverified, trying clipboard paste...")
	if err := c.pasteText(selector, text); err != nil {
		c.logger.Debugf("Clipboard paste failed: %v", err)
	} else if c.verifyInserted(selector, text) {
		return InsertVerified, nil
	}

	// Strategy 3: direct assignment. No verification is possible here;
	// report the degraded outcome instead of pretending.
	c.logger.Warn("Falling back to direct content assignment (unverified)")
	assigned := false
	js := fmt.Sprintf(`(() => {
	const el = %s;
	if (!el) { return false; }
	el.focus();
	el.textContent = %s;
	el.dispatchEvent(new InputEvent("input", { bubbles: true, inputType: "insertText", data: %s }));
	return true;
})()`, firstVisibleJS(selector), escapeJS(text), escapeJS(text))
	if err := c.run(5*time.Second, chromedp.Evaluate(js, &assigned)); err != nil || !assigned {
		return 0, fmt.Errorf("%w: all insertion strategies failed", ErrInsertionFailed)
	}

	return InsertUnverified, nil
}

// execInsertText runs strategy 1 in the page and reports execCommand's own
// success flag.
func (c *Client) execInsertText(selector, text string) (bool, error) {
	js := fmt.Sprintf(`(() => {
	const el = %s;
	if (!el) { return false; }
	el.focus();
	const sel = window.getSelection();
	sel.selectAllChildren(el);
	return document.execCommand("insertText", false, %s);
})()`, firstVisibleJS(selector), escapeJS(text))

	var ok bool
	if err := c.run(5*time.Second, chromedp.Evaluate(js, &ok)); err != nil {
		return false, err
	}
	return ok, nil
}

// pasteText runs strategy 2: clear the box, load the clipboard, Ctrl+V.
func (c *Client) pasteText(selector, text string) error {
	if err := c.clearBox(selector); err != nil {
		return err
	}

	c.logger.Debug("Copying message to clipboard...")
	jsCode := fmt.Sprintf(`navigator.clipboard.writeText(%s)`, escapeJS(text))
	if err := c.run(5*time.Second,
		chromedp.Evaluate(jsCode, nil),
		chromedp.Sleep(200*time.Millisecond),
	); err != nil {
		return fmt.Errorf("failed to copy message to clipboard: %w", err)
	}

	c.logger.Debug("Pasting message from clipboard...")
	if err := c.run(5*time.Second,
		chromedp.KeyEvent("v", chromedp.KeyModifiers(input.ModifierCtrl)),
		chromedp.Sleep(500*time.Millisecond),
	); err != nil {
		return fmt.Errorf("failed to paste message: %w", err)
	}
	return nil
}

// clearBox focuses a box and wipes existing text with select-all plus
// backspace.
func (c *Client) clearBox(selector string) error {
	if err := c.run(5*time.Second,
		chromedp.Click(selector, chromedp.ByQuery),
		chromedp.Sleep(300*time.Millisecond),
	); err != nil {
		return fmt.Errorf("failed to click text box: %w", err)
	}

	if err := c.run(5*time.Second,
		chromedp.KeyEvent("a", chromedp.KeyModifiers(input.ModifierCtrl)),
		chromedp.Sleep(100*time.Millisecond),
		chromedp.KeyEvent("\b"),
		chromedp.Sleep(300*time.Millisecond),
	); err != nil {
		c.logger.Warnf("Failed to clear existing text: %v", err)
	}
	return nil
}

// typeText sends the text key by key with randomized delays, the way a
// person types. Roughly one keystroke in twenty gets a longer hesitation.
func (c *Client) typeText(selector, text string) error {
	if err := c.clearBox(selector); err != nil {
		return err
	}

	for _, r := range text {
		if err := c.run(3*time.Second, chromedp.SendKeys(selector, string(r), chromedp.ByQuery)); err != nil {
			return fmt.Errorf("failed to type character: %w", err)
		}
		time.Sleep(time.Duration(30+rand.Intn(60)) * time.Millisecond)
		if rand.Float64() < 0.05 {
			time.Sleep(time.Duration(300+rand.Intn(600)) * time.Millisecond)
		}
	}
	return nil
}

// verifyInserted reads the box content back and accepts an exact or prefix
// match. WhatsApp swaps regular spaces for non-breaking ones, so both sides
// are normalized first.
func (c *Client) verifyInserted(selector, want string) bool {
	js := fmt.Sprintf(`(() => {
	const el = %s;
	return el ? (el.innerText || el.textContent || "") : "";
})()`, firstVisibleJS(selector))

	var got string
	if err := c.run(3*time.Second, chromedp.Evaluate(js, &got)); err != nil {
		c.logger.Debugf("Verification read failed: %v", err)
		return false
	}

	got = normalizeForCompare(got)
	want = normalizeForCompare(want)
	if got == want || strings.HasPrefix(got, want) {
		return true
	}
	c.logger.Debugf("Verification mismatch: wanted %d chars, composer has %d", len(want), len(got))
	return false
}

// firstVisibleJS yields a JS expression selecting the first visibly
// rendered element for a selector.
func firstVisibleJS(selector string) string {
	return fmt.Sprintf(`(() => {
	for (const cand of document.querySelectorAll(%s)) {
		const r = cand.getBoundingClientRect();
		if (r.width > 0 && r.height > 0) { return cand; }
	}
	return null;
})()`, escapeJS(selector))
}

func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func normalizeForCompare(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	return strings.TrimSpace(normalizeLineEndings(s))
}
