package waweb

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryElementHasCandidates(t *testing.T) {
	elems := []Element{
		ElemComposer, ElemSendButton, ElemSearchBox, ElemSearchResultRow,
		ElemChatHeaderTitle, ElemAttachButton, ElemFileInput, ElemMediaDialog,
		ElemDialogSendButton, ElemDialogCaptionBox, ElemSentTick, ElemSidePanel,
	}

	for _, elem := range elems {
		require.NotEmpty(t, Candidates(elem), "element %s has no selector candidates", elem)
	}
}

func TestFileInputIsPresenceOnly(t *testing.T) {
	assert.True(t, presenceOnly[ElemFileInput], "hidden file inputs cannot pass a visibility filter")
	assert.False(t, presenceOnly[ElemComposer])
}

func TestBuildFindJSAppliesVisibilityFilter(t *testing.T) {
	js := buildFindJS(Candidates(ElemComposer), false)
	assert.Contains(t, js, "getBoundingClientRect")
	assert.Contains(t, js, "data-tab='10'")

	presence := buildFindJS(Candidates(ElemFileInput), true)
	assert.NotContains(t, presence, "getBoundingClientRect")
	assert.Contains(t, presence, "input[type='file']")
}

func TestLoginMarkerKeepsFallbackCandidates(t *testing.T) {
	// Login detection polls the side panel through the locator, so the
	// generated query must carry the whole fallback list, not just the
	// newest selector.
	candidates := Candidates(ElemSidePanel)
	require.GreaterOrEqual(t, len(candidates), 2)

	js := buildFindJS(candidates, false)
	assert.Contains(t, js, "#side")
	assert.Contains(t, js, "chatlist")
}

func TestEscapeJS(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`plain`, `"plain"`},
		{`with "quotes"`, `"with \"quotes\""`},
		{"line\nbreak", `"line\nbreak"`},
		{`back\slash`, `"back\\slash"`},
		{`it's`, `"it\'s"`},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeJS(tt.in))
	}
}

func TestEscapeJSRoundTripsSelectors(t *testing.T) {
	// Every candidate selector must survive embedding in generated JS.
	for elem, candidates := range selectorCandidates {
		for _, sel := range candidates {
			escaped := escapeJS(sel)
			assert.True(t, strings.HasPrefix(escaped, `"`) && strings.HasSuffix(escaped, `"`), "element %s selector %s", elem, sel)
			assert.NotContains(t, escaped[1:len(escaped)-1], `"`+`"`, "unescaped quote in %s", sel)
		}
	}
}
