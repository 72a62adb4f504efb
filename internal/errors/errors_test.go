package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpadevErrorFormatting(t *testing.T) {
	cause := errors.New("no such file or directory")
	err := NewIOError(CodeTemplateMissing, "cannot read template", cause).
		WithComponent("lifecycle").
		WithFile("public/index.html")

	assert.Equal(t,
		"[ERR_TEMPLATE_MISSING] component:lifecycle public/index.html cannot read template: no such file or directory",
		err.Error())
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestSpadevErrorIs(t *testing.T) {
	err := fmt.Errorf("startup: %w", NewNetworkError(CodeListen, "bind failed", nil))

	assert.True(t, errors.Is(err, &SpadevError{Type: ErrorTypeNetwork, Code: CodeListen}))
	assert.False(t, errors.Is(err, &SpadevError{Type: ErrorTypeNetwork, Code: CodeUpstreamStart}))
	assert.Equal(t, ErrorTypeNetwork, TypeOf(err))
	assert.False(t, IsSecurityError(err))
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
}

func TestHasCodeFollowsCauses(t *testing.T) {
	inner := NewBuildError(CodeUpstreamNoURL, "no url", nil)
	outer := NewBuildError(CodeUpstreamStart, "start failed", inner)

	assert.True(t, HasCode(outer, CodeUpstreamStart))
	assert.True(t, HasCode(outer, CodeUpstreamNoURL))
	assert.False(t, HasCode(outer, CodeListen))
	assert.False(t, HasCode(errors.New("plain"), CodeListen))
}

func TestWithContext(t *testing.T) {
	err := NewConfigError(CodeInvalidConfig, "bad port", nil).WithContext("port", 70000)
	assert.Equal(t, 70000, err.Context["port"])
}

func TestServerStartErrorSuggestions(t *testing.T) {
	s := ServerStartError(errors.New("listen tcp :80: bind: permission denied"), 80, &SuggestionContext{})

	assert.Len(t, s, 3)
	assert.Equal(t, "lsof -i :80", s[0].Command)
	assert.Equal(t, "spadev serve --port 81", s[1].Command)
}

func TestUpstreamErrorSuggestions(t *testing.T) {
	err := NewBuildError(CodeUpstreamStart, "start", NewBuildError(CodeUpstreamNoURL, "no url", nil))
	s := UpstreamError(err, &SuggestionContext{Command: "npx esbuild --serve"})

	assert.Len(t, s, 3)
	assert.Equal(t, "npx esbuild --serve", s[0].Command)
	assert.Equal(t, "Adjust the URL pattern", s[2].Title)
}

func TestEnhancedError(t *testing.T) {
	orig := errors.New("missing csp.json")
	err := NewEnhancedError("Failed to assemble document", orig, PolicyError(nil))

	msg := err.Error()
	assert.Contains(t, msg, "Failed to assemble document: missing csp.json")
	assert.Contains(t, msg, "Suggestions:")
	assert.Contains(t, msg, "Run: cat csp.json")
	assert.True(t, errors.Is(err, orig))
}

func TestFormatSuggestionsEmpty(t *testing.T) {
	assert.Equal(t, "title", FormatSuggestions("title", nil))
}
