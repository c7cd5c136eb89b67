package waweb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"whatsapp-campaign/internal/poll"
)

// Element names a logical piece of the WhatsApp Web page. The locator maps
// each one to an ordered list of CSS selector candidates, newest markup
// first, so a WhatsApp update only costs a new entry at the top of a list.
type Element string

const (
	ElemComposer         Element = "composer"
	ElemSendButton       Element = "send-button"
	ElemSearchBox        Element = "search-box"
	ElemSearchResultRow  Element = "search-result-row"
	ElemChatHeaderTitle  Element = "chat-header-title"
	ElemAttachButton     Element = "attach-button"
	ElemFileInput        Element = "file-input"
	ElemMediaDialog      Element = "media-dialog"
	ElemDialogSendButton Element = "dialog-send-button"
	ElemDialogCaptionBox Element = "dialog-caption-box"
	ElemSentTick         Element = "sent-tick"
	ElemSidePanel        Element = "side-panel"
)

var selectorCandidates = map[Element][]string{
	ElemComposer: {
		`footer div[contenteditable='true'][data-tab='10']`,
		`div[contenteditable='true'][data-tab='10']`,
		`footer div[contenteditable='true'][role='textbox']`,
		`footer div[contenteditable='true'][data-lexical-editor='true']`,
		`footer .copyable-text div[contenteditable='true']`,
	},
	ElemSendButton: {
		`span[data-icon='wds-ic-send-filled']`,
		`span[data-icon='send']`,
		`button[aria-label='Send']`,
		`div[aria-label='Send']`,
	},
	ElemSearchBox: {
		`div[contenteditable='true'][data-tab='3']`,
		`div[role='textbox'][data-tab='3']`,
		`#side div[contenteditable='true']`,
		`div[title='Search input textbox']`,
	},
	ElemSearchResultRow: {
		`div[aria-label='Search results.'] div[role='listitem']`,
		`#pane-side div[role='listitem']`,
		`div[data-testid='cell-frame-container']`,
	},
	ElemChatHeaderTitle: {
		`#main header span[dir='auto'][title]`,
		`#main header span[dir='auto']`,
		`#main header [data-testid='conversation-info-header-chat-title']`,
	},
	ElemAttachButton: {
		`span[data-icon='plus-rounded']`,
		`span[data-icon='plus']`,
		`span[data-icon='attach-menu-plus']`,
		`span[data-icon='clip']`,
		`button[aria-label='Attach']`,
		`div[title='Attach']`,
	},
	// File inputs stay display:none, so this element is matched on
	// presence alone.
	ElemFileInput: {
		`input[type='file'][accept*='image']`,
		`input[type='file'][accept*='video']`,
		`input[type='file']`,
	},
	ElemMediaDialog: {
		`div[role='dialog']`,
		`div[data-animate-modal-popup='true']`,
	},
	ElemDialogSendButton: {
		`div[role='dialog'] span[data-icon='wds-ic-send-filled']`,
		`div[role='dialog'] span[data-icon='send']`,
		`div[role='dialog'] div[role='button'][aria-label='Send']`,
		`span[data-icon='wds-ic-send-filled']`,
		`span[data-icon='send']`,
	},
	ElemDialogCaptionBox: {
		`div[role='dialog'] div[contenteditable='true'][data-tab='10']`,
		`div[role='dialog'] div[contenteditable='true'][role='textbox']`,
		`div[role='dialog'] div[contenteditable='true']`,
		`div[contenteditable='true'][aria-label='Add a caption']`,
	},
	ElemSentTick: {
		`#main span[data-icon='msg-check']`,
		`#main span[data-icon='msg-dblcheck']`,
		`#main span[data-icon='msg-dblcheck-ack']`,
	},
	ElemSidePanel: {
		`#side`,
		`div[data-testid='chatlist']`,
	},
}

// presenceOnly lists elements exempt from the visibility filter.
var presenceOnly = map[Element]bool{
	ElemFileInput: true,
}

// Candidates returns the configured selector list for an element.
func Candidates(elem Element) []string {
	return selectorCandidates[elem]
}

// Find evaluates the element's candidate list in the page and returns the
// first selector with an attached, visibly rendered match (non-zero
// bounding box). Presence-only elements skip the visibility check. A miss
// returns ("", false) rather than an error; only a protocol failure errors.
func (c *Client) Find(ctx context.Context, elem Element) (string, bool, error) {
	candidates, ok := selectorCandidates[elem]
	if !ok || len(candidates) == 0 {
		return "", false, fmt.Errorf("unknown element %q", elem)
	}

	js := buildFindJS(candidates, presenceOnly[elem])

	var matched string
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &matched)); err != nil {
		return "", false, fmt.Errorf("locator evaluation for %s failed: %w", elem, err)
	}
	if matched == "" {
		return "", false, nil
	}

	c.logger.Debugf("Located %s via selector: %s", elem, matched)
	return matched, true, nil
}

// FindWait polls Find at 300ms until the element shows up or the attempt
// budget is spent.
func (c *Client) FindWait(ctx context.Context, elem Element, attempts int) (string, bool, error) {
	var matched string
	found, err := poll.Until(ctx, findInterval, attempts, func(pollCtx context.Context) (bool, error) {
		sel, ok, err := c.Find(pollCtx, elem)
		if err != nil {
			return false, err
		}
		matched = sel
		return ok, nil
	})
	if err != nil {
		return "", false, err
	}
	return matched, found, nil
}

const findInterval = 300 * time.Millisecond

func buildFindJS(candidates []string, presence bool) string {
	quoted := make([]string, len(candidates))
	for i, sel := range candidates {
		quoted[i] = escapeJS(sel)
	}

	visibility := `
			const r = el.getBoundingClientRect();
			if (r.width > 0 && r.height > 0) { return sel; }`
	if presence {
		visibility = `return sel;`
	}

	return fmt.Sprintf(`(() => {
	const candidates = [%s];
	for (const sel of candidates) {
		for (const el of document.querySelectorAll(sel)) {
			%s
		}
	}
	return "";
})()`, strings.Join(quoted, ", "), visibility)
}

// escapeJS escapes a string for direct embedding in JavaScript source.
func escapeJS(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, "`", "\\`")
	escaped = strings.ReplaceAll(escaped, "\n", "\\n")
	escaped = strings.ReplaceAll(escaped, "\r", "\\r")
	escaped = strings.ReplaceAll(escaped, "\t", "\\t")
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, `'`, `\'`)
	return `"` + escaped + `"`
}
