package waweb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"whatsapp-campaign/internal/contacts"
	"whatsapp-campaign/internal/poll"
)

// NavResult reports how a chat was opened. Validated is false when the
// recipient could not be confirmed against the chat header and the open was
// accepted anyway; callers must treat that as its own condition, not as a
// confirmed match.
type NavResult struct {
	Validated bool
}

const (
	searchFindAttempts   = 10
	searchSettleAttempts = 7
	rowSuffixDigits      = 6
	headerSuffixDigits   = 8
	navValidateAttempts  = 20
	navAcceptAfter       = 12
)

// OpenChat brings the conversation for a phone number into the main pane by
// driving the chat search box, then validates the open chat against the
// number's suffix.
func (c *Client) OpenChat(number string) (NavResult, error) {
	if c.ctx == nil {
		return NavResult{}, ErrNotLoggedIn
	}

	digits := digitsOf(number)
	if len(digits) < 8 {
		return NavResult{}, fmt.Errorf("%w: %q", contacts.ErrInvalidNumber, number)
	}

	c.logger.Debugf("Opening chat for %s", number)

	findCtx, findCancel := context.WithTimeout(c.ctx, 10*time.Second)
	searchSel, ok, err := c.FindWait(findCtx, ElemSearchBox, searchFindAttempts)
	findCancel()
	if err != nil {
		return NavResult{}, fmt.Errorf("failed to locate search box: %w", err)
	}
	if !ok {
		return NavResult{}, ErrSearchBoxNotFound
	}

	if err := c.clearBox(searchSel); err != nil {
		return NavResult{}, fmt.Errorf("failed to focus search box: %w", err)
	}
	if err := c.run(10*time.Second, chromedp.SendKeys(searchSel, digits, chromedp.ByQuery)); err != nil {
		return NavResult{}, fmt.Errorf("failed to type into search box: %w", err)
	}

	// Let the result list settle before reading it.
	settleCtx, settleCancel := context.WithTimeout(c.ctx, 5*time.Second)
	_, err = poll.Until(settleCtx, findInterval, searchSettleAttempts, func(pollCtx context.Context) (bool, error) {
		_, found, ferr := c.Find(pollCtx, ElemSearchResultRow)
		return found, ferr
	})
	settleCancel()
	if err != nil {
		return NavResult{}, fmt.Errorf("failed waiting for search results: %w", err)
	}

	outcome, err := c.clickResultRow(digits)
	if err != nil {
		return NavResult{}, err
	}
	switch outcome {
	case "matched":
		c.logger.Debugf("Clicked search result matching suffix of %s", number)
	case "fallback":
		c.logger.Warnf("No search result matched %s, clicking first row", number)
	case "none":
		c.logger.Warnf("Search returned no rows for %s", number)
	}

	// Clearing the search is cosmetic; never fail the open over it.
	if err := c.clearBox(searchSel); err != nil {
		c.logger.Debugf("Failed to clear search box: %v", err)
	}

	return c.validateOpenChat(number)
}

// clickResultRow picks the first visible result row whose digits share the
// target's suffix and clicks it, falling back to the first row.
func (c *Client) clickResultRow(digits string) (string, error) {
	target := lastN(digits, rowSuffixDigits)

	quoted := make([]string, 0, len(Candidates(ElemSearchResultRow)))
	for _, sel := range Candidates(ElemSearchResultRow) {
		quoted = append(quoted, escapeJS(sel))
	}

	js := fmt.Sprintf(`(() => {
	const rowSels = [%s];
	let rows = [];
	for (const sel of rowSels) {
		rows = Array.from(document.querySelectorAll(sel)).filter(el => {
			const r = el.getBoundingClientRect();
			return r.width > 0 && r.height > 0;
		});
		if (rows.length > 0) { break; }
	}
	if (rows.length === 0) { return "none"; }
	const target = %s;
	for (const row of rows) {
		const digits = (row.innerText || "").replace(/\D/g, "");
		if (digits.endsWith(target) || (digits.length > 0 && target.endsWith(digits))) {
			row.click();
			return "matched";
		}
	}
	rows[0].click();
	return "fallback";
})()`, strings.Join(quoted, ", "), escapeJS(target))

	var outcome string
	if err := c.run(5*time.Second, chromedp.Evaluate(js, &outcome)); err != nil {
		return "", fmt.Errorf("failed to click search result: %w", err)
	}
	return outcome, nil
}

// validateOpenChat polls until the composer is visible and the chat header
// matches the number's suffix. Past the accept threshold a visible composer
// is taken as good enough, reported as unvalidated. A composer that never
// shows up inside the budget is ErrChatOpenFailed.
func (c *Client) validateOpenChat(number string) (NavResult, error) {
	for attempt := 1; attempt <= navValidateAttempts; attempt++ {
		opCtx, opCancel := context.WithTimeout(c.ctx, 2*time.Second)
		_, composerVisible, err := c.Find(opCtx, ElemComposer)
		opCancel()
		if err != nil {
			return NavResult{}, fmt.Errorf("validation failed: %w", err)
		}

		if composerVisible {
			header := c.readHeaderTitle()
			if sameSuffix(header, number, headerSuffixDigits) {
				c.logger.Debugf("Chat header validated for %s (attempt %d)", number, attempt)
				return NavResult{Validated: true}, nil
			}
			if attempt >= navAcceptAfter {
				c.logger.Warnf("Accepting open chat for %s without header validation (header %q)", number, header)
				return NavResult{Validated: false}, nil
			}
		}

		time.Sleep(findInterval)
	}

	return NavResult{}, fmt.Errorf("%w: composer never appeared for %s", ErrChatOpenFailed, number)
}

// readHeaderTitle returns the visible chat header title, preferring the
// title attribute which carries the full untruncated value.
func (c *Client) readHeaderTitle() string {
	quoted := make([]string, 0, len(Candidates(ElemChatHeaderTitle)))
	for _, sel := range Candidates(ElemChatHeaderTitle) {
		quoted = append(quoted, escapeJS(sel))
	}

	js := fmt.Sprintf(`(() => {
	const sels = [%s];
	for (const sel of sels) {
		for (const el of document.querySelectorAll(sel)) {
			const r = el.getBoundingClientRect();
			if (r.width > 0 && r.height > 0) {
				return el.getAttribute("title") || el.innerText || "";
			}
		}
	}
	return "";
})()`, strings.Join(quoted, ", "))

	var title string
	if err := c.run(3*time.Second, chromedp.Evaluate(js, &title)); err != nil {
		c.logger.Debugf("Failed to read chat header: %v", err)
		return ""
	}
	return title
}

// digitsOf strips everything but digits.
func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// lastN returns the last n characters of s, or all of s when shorter.
func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// sameSuffix compares the digit suffixes of two strings. When both carry at
// least n digits the last n must be equal; when one side is shorter the
// longer suffix must end with the shorter one.
func sameSuffix(a, b string, n int) bool {
	da, db := digitsOf(a), digitsOf(b)
	if da == "" || db == "" {
		return false
	}

	sa, sb := lastN(da, n), lastN(db, n)
	if len(sa) == n && len(sb) == n {
		return sa == sb
	}
	return strings.HasSuffix(sa, sb) || strings.HasSuffix(sb, sa)
}
