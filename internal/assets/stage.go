// Package assets prepares the directory the static upstream serves.
package assets

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	spaerrors "github.com/conneroisu/spadev/internal/errors"
	"github.com/conneroisu/spadev/internal/logging"
)

// Stager copies the public directory into the serve directory.
type Stager struct {
	// Root is the project root. It must never be removed.
	Root      string
	PublicDir string
	ServeDir  string
	// Template is skipped because the proxy serves the assembled version.
	Template string
	Logger   logging.Logger
}

// Stage removes ServeDir and recreates it holding every entry of PublicDir
// except the template. A missing PublicDir leaves an empty ServeDir.
func (s *Stager) Stage(ctx context.Context) (int, error) {
	logger := s.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithComponent("assets")

	if err := CheckServeDir(s.ServeDir, s.Root, s.PublicDir, s.Template); err != nil {
		return 0, spaerrors.NewConfigError(spaerrors.CodeStaging, "refusing to clean serve directory", err).
			WithFile(s.ServeDir).
			WithComponent("assets")
	}

	if _, err := os.Stat(s.ServeDir); err == nil {
		logger.Info(ctx, "Serve directory already exists, cleaning up", "dir", s.ServeDir)
	}
	if err := os.RemoveAll(s.ServeDir); err != nil {
		return 0, s.fail("cannot clean serve directory", s.ServeDir, err)
	}
	if err := os.MkdirAll(s.ServeDir, 0o755); err != nil {
		return 0, s.fail("cannot create serve directory", s.ServeDir, err)
	}

	info, err := os.Stat(s.PublicDir)
	if os.IsNotExist(err) {
		logger.Debug(ctx, "No public directory to copy", "dir", s.PublicDir)
		return 0, nil
	}
	if err != nil {
		return 0, s.fail("cannot read public directory", s.PublicDir, err)
	}
	if !info.IsDir() {
		return 0, s.fail("public path is not a directory", s.PublicDir, nil)
	}

	skip, _ := filepath.Abs(s.Template)
	copied := 0
	err = filepath.WalkDir(s.PublicDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(s.PublicDir, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(s.ServeDir, rel)

		if d.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}
		if abs, _ := filepath.Abs(path); abs == skip {
			return nil
		}
		if !d.Type().IsRegular() {
			logger.Debug(ctx, "Skipping non-regular file", "path", path)
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if err := copyFile(path, dst, fi.Mode().Perm()); err != nil {
			return err
		}
		copied++
		return nil
	})
	if err != nil {
		return copied, s.fail("cannot copy public directory", s.PublicDir, err)
	}

	logger.Info(ctx, "Copied public files", "count", copied, "from", s.PublicDir, "to", s.ServeDir)
	return copied, nil
}

// CheckServeDir reports whether serveDir is safe to remove and refill from
// publicDir: it must not be, or contain, the project root, the public
// directory or the template, and it must not lie inside the public
// directory. Empty root, publicDir and template values are not checked.
func CheckServeDir(serveDir, root, publicDir, template string) error {
	if strings.TrimSpace(serveDir) == "" {
		return fmt.Errorf("serve directory is empty")
	}
	serve, err := filepath.Abs(serveDir)
	if err != nil {
		return err
	}
	for _, p := range []struct{ name, path string }{
		{"project root", root},
		{"public directory", publicDir},
		{"template", template},
	} {
		if p.path == "" {
			continue
		}
		abs, err := filepath.Abs(p.path)
		if err != nil {
			return err
		}
		if within(serve, abs) {
			return fmt.Errorf("serve directory %s contains the %s %s", serveDir, p.name, p.path)
		}
	}
	if publicDir != "" {
		public, err := filepath.Abs(publicDir)
		if err != nil {
			return err
		}
		if within(public, serve) {
			return fmt.Errorf("serve directory %s is inside the public directory %s", serveDir, publicDir)
		}
	}
	return nil
}

// within reports whether path is dir or lies below it. Both are absolute.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func (s *Stager) fail(msg, path string, cause error) error {
	return spaerrors.NewIOError(spaerrors.CodeStaging, msg, cause).
		WithFile(path).
		WithComponent("assets")
}

func copyFile(from, to string, perm os.FileMode) (err error) {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(to, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", to, cerr)
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
