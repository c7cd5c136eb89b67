package waweb

import "errors"

var (
	ErrComposerNotFound     = errors.New("message composer not found")
	ErrSearchBoxNotFound    = errors.New("chat search box not found")
	ErrChatOpenFailed       = errors.New("chat did not open")
	ErrInsertionFailed      = errors.New("could not insert text into composer")
	ErrEmptyText            = errors.New("message text is empty")
	ErrAttachButtonNotFound = errors.New("attach button not found")
	ErrFileInputNotFound    = errors.New("file input not found")
	ErrPreviewTimeout       = errors.New("media preview dialog did not appear")
	ErrNotLoggedIn          = errors.New("whatsapp web session is not logged in")
)
