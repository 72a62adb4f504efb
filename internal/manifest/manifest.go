// Package manifest resolves the ordered list of files a build produced.
// The order of a Manifest is significant: the document assembler injects
// resources in exactly this order.
package manifest

import (
	"path"
	"path/filepath"
	"strings"

	spaerrors "github.com/conneroisu/spadev/internal/errors"
)

// Manifest is an ordered list of output paths such as "/index.js".
type Manifest []string

// Resolve returns the manifest for a build. Explicit outputs are used
// verbatim (normalized to a leading slash). Otherwise every entry point
// contributes "/<name>.js" followed by "/<name>.css", which is what a
// bundler configured with entry names "[name]" writes.
func Resolve(outputs, entrypoints []string) (Manifest, error) {
	var m Manifest
	if len(outputs) > 0 {
		m = make(Manifest, 0, len(outputs))
		for _, o := range outputs {
			if o = strings.TrimSpace(o); o != "" {
				m = append(m, normalize(o))
			}
		}
	} else {
		m = FromEntrypoints(entrypoints)
	}

	if len(m) == 0 {
		return nil, spaerrors.NewBuildError(spaerrors.CodeManifestEmpty,
			"build manifest is empty: configure build.outputs or build.entrypoints", nil)
	}
	return m, nil
}

// FromEntrypoints derives the primary outputs of each entry point.
func FromEntrypoints(entrypoints []string) Manifest {
	m := make(Manifest, 0, 2*len(entrypoints))
	seen := make(map[string]bool, len(entrypoints))
	for _, ep := range entrypoints {
		base := filepath.Base(ep)
		name := strings.TrimSuffix(base, filepath.Ext(base))
		if name == "" || name == "." || seen[name] {
			continue
		}
		seen[name] = true
		m = append(m, "/"+name+".js", "/"+name+".css")
	}
	return m
}

func normalize(p string) string {
	p = filepath.ToSlash(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
