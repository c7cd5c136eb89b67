package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-campaign/internal/contacts"
	"whatsapp-campaign/internal/model"
)

func TestRenderSubstitutesAllPlaceholders(t *testing.T) {
	tmpl := New("Olá {{nome}}, confirmamos {{numero}} com desconto de {{valor}}.")
	entry := model.ContactEntry{
		Number: "+5511999990001",
		Name:   "Ana",
		Vars:   map[string]string{"valor": "15%"},
	}

	got := tmpl.Render(entry)
	assert.Equal(t, "Olá Ana, confirmamos +5511999990001 com desconto de 15%.", got)
	assert.NotContains(t, got, "{{")
}

func TestRenderEmptyNameBecomesEmptyString(t *testing.T) {
	tmpl := New("Olá {{nome}}, seu código é {{numero}}")
	entry := model.ContactEntry{Number: "+5511999990002"}

	assert.Equal(t, "Olá , seu código é +5511999990002", tmpl.Render(entry))
}

func TestRenderLeavesUnknownTokensIntact(t *testing.T) {
	tmpl := New("Use o cupom {{cupom}}, {{nome}}!")
	entry := model.ContactEntry{Number: "+5511999990001", Name: "Ana"}

	assert.Equal(t, "Use o cupom {{cupom}}, Ana!", tmpl.Render(entry))
}

func TestRenderDoesNotRescanSubstitutedValues(t *testing.T) {
	tmpl := New("{{nome}} / {{numero}}")
	entry := model.ContactEntry{Number: "+5511999990001", Name: "{{numero}}"}

	assert.Equal(t, "{{numero}} / +5511999990001", tmpl.Render(entry))
}

func TestRenderListEndToEnd(t *testing.T) {
	entries, err := contacts.ParseList("5511999990001,Ana\n+55 11 99999-0002")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	tmpl := New("Olá {{nome}}, seu código é {{numero}}")

	assert.Equal(t, "Olá Ana, seu código é +5511999990001", tmpl.Render(entries[0]))
	assert.Equal(t, "Olá , seu código é +5511999990002", tmpl.Render(entries[1]))
}

func TestHashStable(t *testing.T) {
	a := Hash("Olá Ana")
	b := Hash("Olá Ana")
	c := Hash("Olá Bia")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
