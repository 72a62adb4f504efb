package security

import (
	"os"
	"path/filepath"
	"testing"

	spaerrors "github.com/conneroisu/spadev/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONKeepsOrder(t *testing.T) {
	policy, err := Parse([]byte(`{
  "script-src": ["'self'", "https://cdn.example.com"],
  "default-src": ["'self'"],
  "img-src": "'self' data:",
  "upgrade-insecure-requests": true,
  "block-all-mixed-content": false
}`))
	require.NoError(t, err)

	assert.Equal(t,
		"script-src 'self' https://cdn.example.com; default-src 'self'; img-src 'self' data:; upgrade-insecure-requests",
		policy.String())
}

func TestParseYAML(t *testing.T) {
	policy, err := Parse([]byte(`
default-src:
  - "'self'"
object-src:
  - "'none'"
`))
	require.NoError(t, err)

	d, err := policy.Directive()
	require.NoError(t, err)
	assert.Equal(t, "default-src 'self'; object-src 'none'", d)
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"not a mapping":  `["default-src"]`,
		"bad name":       `{"Default Src": ["'self'"]}`,
		"duplicate":      "default-src: \"'self'\"\nDEFAULT-SRC: \"'none'\"\n",
		"injection":      `{"default-src": ["'self'; script-src *"]}`,
		"quote breakout": `{"default-src": ["x\"><script>"]}`,
		"nested value":   `{"default-src": [["'self'"]]}`,
		"mapping value":  `{"default-src": {"a": "b"}}`,
		"empty document": ``,
		"malformed json": `{"default-src": [`,
	}

	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestEmptyPolicyIsUnavailable(t *testing.T) {
	policy, err := Parse([]byte(`{"upgrade-insecure-requests": false}`))
	require.NoError(t, err)

	_, err = policy.Directive()
	require.Error(t, err)
	assert.True(t, spaerrors.HasCode(err, spaerrors.CodePolicyUnavailable))
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "csp.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"default-src": ["'self'"]}`), 0o644))

	d, err := FileSource{Path: path}.Directive()
	require.NoError(t, err)
	assert.Equal(t, "default-src 'self'", d)
}

func TestFileSourceMissing(t *testing.T) {
	_, err := FileSource{Path: filepath.Join(t.TempDir(), "csp.json")}.Directive()
	require.Error(t, err)
	assert.True(t, spaerrors.IsSecurityError(err))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = FileSource{}.Directive()
	assert.True(t, spaerrors.HasCode(err, spaerrors.CodePolicyUnavailable))
}
