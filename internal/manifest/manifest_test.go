package manifest

import (
	"testing"

	spaerrors "github.com/conneroisu/spadev/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEntrypoints(t *testing.T) {
	m := FromEntrypoints([]string{"src/index.tsx", "src/admin/main.ts", "other/index.jsx"})

	assert.Equal(t, Manifest{"/index.js", "/index.css", "/main.js", "/main.css"}, m)
}

func TestResolvePrefersOutputs(t *testing.T) {
	m, err := Resolve([]string{"index.js", "/vendor.js", " ", "./index.css"}, []string{"src/app.tsx"})
	require.NoError(t, err)

	assert.Equal(t, Manifest{"/index.js", "/vendor.js", "/index.css"}, m)
}

func TestResolveFromEntrypoints(t *testing.T) {
	m, err := Resolve(nil, []string{"src/index.tsx"})
	require.NoError(t, err)

	assert.Equal(t, Manifest{"/index.js", "/index.css"}, m)
}

func TestResolveEmpty(t *testing.T) {
	_, err := Resolve(nil, nil)
	require.Error(t, err)
	assert.True(t, spaerrors.HasCode(err, spaerrors.CodeManifestEmpty))
}
