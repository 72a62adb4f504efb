// Package cmd provides the command-line interface for spadev.
//
// Configuration System:
//
//	Settings are resolved with the following precedence:
//	1. Command-line flags (--port, --host, --mode, ...) - highest priority
//	2. SPADEV_ environment variables (SPADEV_SERVER_PORT, SPADEV_MODE, ...)
//	3. The configuration file (.spadev.yml, --config or SPADEV_CONFIG_FILE)
//	4. The web project's package.json (homepage, build.entrypoints)
//	5. Built-in defaults - lowest priority
//
// NODE_ENV=production selects production mode when no mode is set
// explicitly, the same way the JavaScript bundlers read it.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/spadev/internal/config"
	spaerrors "github.com/conneroisu/spadev/internal/errors"
	"github.com/conneroisu/spadev/internal/logging"
)

const defaultConfigName = ".spadev"

var (
	cfgFile string
	// configErr holds a configuration file that exists but cannot be read.
	configErr error
)

var rootCmd = &cobra.Command{
	Use:   "spadev",
	Short: "Single-page application dev server with history fallback",
	Long: `spadev runs in front of a bundler's development server and adds what a
single-page application needs during development:

  • Every request is forwarded to the bundler's dev server
  • Unknown paths get the generated index.html so client-side routes work
  • index.html is generated from public/index.html with the build's
    scripts and stylesheets injected
  • In production mode a Content-Security-Policy meta tag is added

Quick Start:
  spadev serve                     Start the proxy on port 3000
  spadev serve --production        Serve with the CSP tag
  spadev html                      Print the generated index.html`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd.Root().PersistentFlags(), map[string]string{
			"log-level":  "log.level",
			"log-format": "log.format",
		})
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .spadev.yml, can also use SPADEV_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

// initConfig points viper at the configuration file and the environment.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("SPADEV_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(defaultConfigName)
	}

	viper.SetEnvPrefix("SPADEV")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.SetDefaults(viper.GetViper())

	configErr = nil
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			configErr = err
		}
	} else {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig resolves the configuration and explains failures.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if configErr != nil {
		cfg, err = nil, configErr
	}
	if err != nil {
		path := viper.ConfigFileUsed()
		if path == "" {
			path = defaultConfigName + ".yml"
		}
		ctx := &spaerrors.SuggestionContext{ConfigPath: path}
		return nil, spaerrors.NewEnhancedError(
			"Failed to load configuration",
			err,
			spaerrors.ConfigurationError(err.Error(), path, ctx),
		)
	}
	return cfg, nil
}

// newLogger builds the process logger from the log flags.
func newLogger(w io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		return nil, err
	}
	format := viper.GetString("log.format")
	if format == "" {
		format = "text"
	}
	if format != "text" && format != "json" {
		return nil, fmt.Errorf("unsupported log format %q (supported: text, json)", format)
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    format,
		Output:    w,
		Component: "spadev",
	}), nil
}
