package message

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"whatsapp-campaign/internal/model"
)

// Template is a campaign message with literal placeholders. {{nome}} and
// {{numero}} resolve to the contact's name and normalized number; {{key}}
// resolves to the contact's Vars["key"]. Unknown placeholders are left
// intact so the operator can see them instead of losing text silently.
type Template struct {
	Content string
}

func New(content string) *Template {
	return &Template{Content: content}
}

func Load(filePath string) (*Template, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}
	return New(string(content)), nil
}

// Render substitutes placeholders for one contact. A missing name renders
// as an empty string, not as the literal token.
func (t *Template) Render(entry model.ContactEntry) string {
	pairs := []string{
		"{{nome}}", entry.Name,
		"{{numero}}", entry.Number,
	}
	for key, value := range entry.Vars {
		pairs = append(pairs, "{{"+key+"}}", value)
	}

	// Replacer runs a single pass, so tokens inside substituted values
	// stay literal.
	return strings.NewReplacer(pairs...).Replace(t.Content)
}

// Hash returns a stable fingerprint of arbitrary message text. The send
// history keys on it to recognize repeat sends of the same rendered message.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
