package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/conneroisu/spadev/internal/assets"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateProjectConfig(&config.Project); err != nil {
		return fmt.Errorf("project config: %w", err)
	}

	if err := validateUpstreamConfig(&config.Upstream); err != nil {
		return fmt.Errorf("upstream config: %w", err)
	}

	if config.Mode != ModeDevelopment && config.Mode != ModeProduction {
		return &ValidationError{
			Field:       "mode",
			Value:       config.Mode,
			Message:     "must be development or production",
			Suggestions: []string{"Set NODE_ENV=production for production builds"},
		}
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Port 0 asks the kernel for a free port, which tests rely on.
	if config.Port < 0 || config.Port > 65535 {
		return &ValidationError{
			Field:       "server.port",
			Value:       config.Port,
			Message:     fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			Suggestions: []string{"Use the default port 3000"},
		}
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\", " "}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return &ValidationError{
					Field:   "server.host",
					Value:   config.Host,
					Message: fmt.Sprintf("host contains dangerous character: %q", char),
				}
			}
		}
	}

	if config.ReadHeaderTimeout < 0 {
		return &ValidationError{
			Field:   "server.read_header_timeout",
			Value:   config.ReadHeaderTimeout,
			Message: "must not be negative",
		}
	}

	return nil
}

func validateProjectConfig(config *ProjectConfig) error {
	if strings.ContainsAny(config.Homepage, " \t\r\n") {
		return &ValidationError{
			Field:   "project.homepage",
			Value:   config.Homepage,
			Message: "must not contain whitespace",
		}
	}
	if config.Template == "" {
		return &ValidationError{
			Field:   "project.template",
			Message: "template path is required",
		}
	}
	if config.StagePublic && config.ServeDir == "" {
		return &ValidationError{
			Field:       "project.serve_dir",
			Message:     "serve_dir is required when stage_public is enabled",
			Suggestions: []string{"serve_dir: build/serve"},
		}
	}
	if config.StagePublic {
		// Staging empties serve_dir before copying public/ into it.
		if err := assets.CheckServeDir(config.ServeDir, config.Root, config.PublicDir, config.Template); err != nil {
			return &ValidationError{
				Field:   "project.serve_dir",
				Value:   config.ServeDir,
				Message: err.Error(),
				Suggestions: []string{
					"serve_dir: build/serve",
					"stage_public: false (to serve an existing directory as is)",
				},
			}
		}
	}
	return nil
}

func validateUpstreamConfig(config *UpstreamConfig) error {
	switch config.Kind {
	case UpstreamStatic:
	case UpstreamCommand:
		if strings.TrimSpace(config.Command) == "" {
			return &ValidationError{
				Field:       "upstream.command",
				Message:     "command is required for the command upstream",
				Suggestions: []string{"command: npx", "args: [esbuild, src/index.tsx, --bundle, --servedir=build/serve]"},
			}
		}
	default:
		return &ValidationError{
			Field:   "upstream.kind",
			Value:   config.Kind,
			Message: fmt.Sprintf("unknown upstream kind %q (expected %s or %s)", config.Kind, UpstreamCommand, UpstreamStatic),
		}
	}

	if config.URLPattern != "" {
		if _, err := regexp.Compile(config.URLPattern); err != nil {
			return &ValidationError{
				Field:   "upstream.url_pattern",
				Value:   config.URLPattern,
				Message: err.Error(),
			}
		}
	}

	if config.StartTimeout < 0 || config.Debounce < 0 {
		return &ValidationError{
			Field:   "upstream",
			Message: "timeouts must not be negative",
		}
	}

	return nil
}
