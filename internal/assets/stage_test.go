package assets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	spaerrors "github.com/conneroisu/spadev/internal/errors"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestStageCopiesPublicExceptTemplate(t *testing.T) {
	root := t.TempDir()
	public := filepath.Join(root, "public")
	serve := filepath.Join(root, "build", "serve")

	write(t, filepath.Join(public, "index.html"), "<html></html>")
	write(t, filepath.Join(public, "favicon.ico"), "ico")
	write(t, filepath.Join(public, "images", "logo.svg"), "<svg/>")
	write(t, filepath.Join(serve, "stale.js"), "old build")

	s := &Stager{PublicDir: public, ServeDir: serve, Template: filepath.Join(public, "index.html")}
	n, err := s.Stage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.FileExists(t, filepath.Join(serve, "favicon.ico"))
	logo, err := os.ReadFile(filepath.Join(serve, "images", "logo.svg"))
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", string(logo))

	assert.NoFileExists(t, filepath.Join(serve, "index.html"))
	assert.NoFileExists(t, filepath.Join(serve, "stale.js"))
}

func TestStageWithoutPublicDir(t *testing.T) {
	root := t.TempDir()
	serve := filepath.Join(root, "serve")

	s := &Stager{PublicDir: filepath.Join(root, "public"), ServeDir: serve}
	n, err := s.Stage(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.DirExists(t, serve)
}

func TestStagePublicIsFile(t *testing.T) {
	root := t.TempDir()
	public := filepath.Join(root, "public")
	write(t, public, "not a directory")

	s := &Stager{PublicDir: public, ServeDir: filepath.Join(root, "serve")}
	_, err := s.Stage(context.Background())
	require.Error(t, err)
	assert.True(t, spaerrors.HasCode(err, spaerrors.CodeStaging))
}

func TestStageHonoursCancellation(t *testing.T) {
	root := t.TempDir()
	public := filepath.Join(root, "public")
	write(t, filepath.Join(public, "a.txt"), "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &Stager{PublicDir: public, ServeDir: filepath.Join(root, "serve")}
	_, err := s.Stage(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStageRefusesToRemoveSources(t *testing.T) {
	root := t.TempDir()
	public := filepath.Join(root, "public")
	template := filepath.Join(public, "index.html")

	tests := []struct {
		name  string
		serve string
	}{
		{"public directory", public},
		{"project root", root},
		{"parent of root", filepath.Dir(root)},
		{"inside public", filepath.Join(public, "serve")},
		{"template", template},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			write(t, template, "<html></html>")
			write(t, filepath.Join(public, "logo.png"), "png")

			s := &Stager{Root: root, PublicDir: public, ServeDir: tt.serve, Template: template}
			_, err := s.Stage(context.Background())
			require.Error(t, err)
			assert.True(t, spaerrors.HasCode(err, spaerrors.CodeStaging))

			assert.FileExists(t, template)
			assert.FileExists(t, filepath.Join(public, "logo.png"))
		})
	}
}

func TestCheckServeDirAcceptsBuildOutput(t *testing.T) {
	root := t.TempDir()
	assert.NoError(t, CheckServeDir(filepath.Join(root, "build", "serve"), root,
		filepath.Join(root, "public"), filepath.Join(root, "public", "index.html")))
	assert.NoError(t, CheckServeDir(filepath.Join(root, "build"), "", "", ""))
}
