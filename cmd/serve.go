package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/spadev/internal/config"
	spaerrors "github.com/conneroisu/spadev/internal/errors"
	"github.com/conneroisu/spadev/internal/lifecycle"
	"github.com/conneroisu/spadev/internal/metrics"
)

// shutdownTimeout bounds how long a signalled shutdown waits for the dev
// server to exit before it is killed.
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the fallback proxy in front of the dev server",
	Long: `Start the dev server and the fallback proxy.

The proxy listens on port 3000 by default. Requests for files the dev server
knows are passed through; everything else, and the root path, gets the
generated index.html. SIGINT or SIGTERM shuts everything down.

Examples:
  spadev serve                              # Serve build/serve on port 3000
  spadev serve --port 8080                  # Use another port
  spadev serve --production                 # Add the CSP meta tag
  spadev serve --upstream command           # Run upstream.command as dev server`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := AddStandardFlags(serveCmd, "server", "mode")
	serveCmd.Flags().String("upstream", config.UpstreamStatic, "Upstream kind (static, command)")
	serveCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	AddFlagValidation(serveCmd, "port", ValidatePort)
	AddFlagValidation(serveCmd, "upstream", oneOf(config.UpstreamStatic, config.UpstreamCommand))

	flags.Bind(serveCmd, map[string]string{
		"port":         "server.port",
		"host":         "server.host",
		"mode":         "mode",
		"upstream":     "upstream.kind",
		"metrics-addr": "metrics.addr",
	})
	serveFlags = flags
}

var serveFlags *StandardFlags

func runServe(cmd *cobra.Command, args []string) error {
	serveFlags.ApplyMode()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	up, err := lifecycle.NewUpstream(cfg, cmd.ErrOrStderr(), logger)
	if err != nil {
		return err
	}

	proc := lifecycle.New(cfg, lifecycle.Dependencies{
		Upstream: up,
		Logger:   logger,
		Metrics:  metrics.NewCollector(nil),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := proc.Start(ctx); err != nil {
		return explainStartError(cfg, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "spadev is available at http://%s (upstream %s, %s mode)\n",
		proc.Addr(), proc.Target(), cfg.Mode)

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return proc.Shutdown(shutdownCtx)
}

// explainStartError attaches suggestions to the startup failures users can
// fix themselves.
func explainStartError(cfg *config.Config, err error) error {
	sctx := &spaerrors.SuggestionContext{
		ConfigPath:   viper.ConfigFileUsed(),
		TemplatePath: cfg.Project.Template,
		PolicyPath:   cfg.Security.PolicyFile,
		Command:      strings.TrimSpace(cfg.Upstream.Command + " " + strings.Join(cfg.Upstream.Args, " ")),
	}

	switch {
	case spaerrors.HasCode(err, spaerrors.CodeListen):
		return spaerrors.NewEnhancedError(
			fmt.Sprintf("Failed to listen on %s", cfg.ListenAddr()),
			err,
			spaerrors.ServerStartError(err, cfg.Server.Port, sctx))
	case spaerrors.HasCode(err, spaerrors.CodeTemplateMissing):
		return spaerrors.NewEnhancedError("HTML template not found", err,
			spaerrors.TemplateMissingError(sctx))
	case spaerrors.HasCode(err, spaerrors.CodePolicyUnavailable):
		return spaerrors.NewEnhancedError("Content security policy unavailable", err,
			spaerrors.PolicyError(sctx))
	case spaerrors.HasCode(err, spaerrors.CodeUpstreamStart):
		return spaerrors.NewEnhancedError("Dev server failed to start", err,
			spaerrors.UpstreamError(err, sctx))
	default:
		return err
	}
}
