package lifecycle

import (
	"io"
	"regexp"
	"strings"

	"github.com/conneroisu/spadev/internal/config"
	spaerrors "github.com/conneroisu/spadev/internal/errors"
	"github.com/conneroisu/spadev/internal/logging"
	"github.com/conneroisu/spadev/internal/upstream"
)

// NewUpstream builds the upstream selected by cfg. output receives the dev
// server's own output when the upstream is a command.
func NewUpstream(cfg *config.Config, output io.Writer, logger logging.Logger) (upstream.Upstream, error) {
	switch cfg.Upstream.Kind {
	case config.UpstreamStatic:
		return upstream.NewStaticServer(cfg.Project.ServeDir, cfg.Upstream.Debounce, logger), nil
	case config.UpstreamCommand:
		re, err := regexp.Compile(cfg.Upstream.URLPattern)
		if err != nil {
			return nil, spaerrors.NewConfigError(spaerrors.CodeInvalidConfig, "invalid upstream.url_pattern", err)
		}
		return upstream.NewCommandServer(upstream.CommandOptions{
			Dir:          cfg.Project.Root,
			Binary:       cfg.Upstream.Command,
			Args:         cfg.Upstream.Args,
			Env:          commandEnv(cfg),
			Extractor:    upstream.PatternExtractor(re),
			StartTimeout: cfg.Upstream.StartTimeout,
			Output:       output,
			Logger:       logger,
		}), nil
	default:
		return nil, spaerrors.NewConfigError(spaerrors.CodeInvalidConfig,
			"unknown upstream kind "+cfg.Upstream.Kind, nil)
	}
}

// commandEnv is what the dev server needs to build the same site the
// proxy assembles the document for.
func commandEnv(cfg *config.Config) []string {
	env := []string{
		"NODE_ENV=" + cfg.Mode,
		"SPADEV_SERVE_DIR=" + cfg.Project.ServeDir,
		"SPADEV_PUBLIC_URL=" + cfg.Site.PathPrefix,
	}
	if len(cfg.Build.Entrypoints) > 0 {
		env = append(env, "SPADEV_ENTRYPOINTS="+strings.Join(cfg.Build.Entrypoints, ","))
	}
	if len(cfg.Build.Externals) > 0 {
		env = append(env, "SPADEV_EXTERNALS="+strings.Join(cfg.Build.Externals, ","))
	}
	return env
}
