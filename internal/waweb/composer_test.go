package waweb

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"whatsapp-campaign/internal/config"
)

// newOfflineClient builds a client with no browser session, enough for the
// validation paths that run before any DOM access.
func newOfflineClient() *Client {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewClient(&config.Config{}, nil, logger)
}

func TestInsertTextRejectsBlankText(t *testing.T) {
	c := newOfflineClient()

	for _, text := range []string{"", "   ", "\n\t "} {
		_, err := c.InsertText(text)
		assert.ErrorIs(t, err, ErrEmptyText, "text %q", text)
	}
}

func TestInsertTextRequiresSession(t *testing.T) {
	_, err := newOfflineClient().InsertText("hello")

	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestNormalizeForCompareTreatsNbspAsSpace(t *testing.T) {
	// WhatsApp renders regular spaces as non-breaking ones; both sides of
	// a verification read must compare equal anyway.
	assert.Equal(t, normalizeForCompare("Olá Ana"), normalizeForCompare("Olá Ana"))
	assert.Equal(t, "a\nb", normalizeForCompare("a\r\nb\r\n"))
}
