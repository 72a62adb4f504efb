package errors

import (
	"fmt"
	"strings"
)

// ErrorSuggestion represents a suggestion for fixing an error
type ErrorSuggestion struct {
	Title       string
	Description string
	Command     string
	Example     string
}

// SuggestionContext provides context for generating suggestions
type SuggestionContext struct {
	ConfigPath   string
	TemplatePath string
	PolicyPath   string
	Command      string
}

// ServerStartError generates suggestions for a proxy that cannot bind.
func ServerStartError(err error, port int, ctx *SuggestionContext) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{
		{
			Title:       "Check what is using the port",
			Description: fmt.Sprintf("Another process may already be listening on port %d", port),
			Command:     fmt.Sprintf("lsof -i :%d", port),
		},
		{
			Title:       "Use a different port",
			Description: "Override the port on the command line or in .spadev.yml",
			Command:     fmt.Sprintf("spadev serve --port %d", port+1),
			Example:     "server:\n  port: 3001",
		},
	}

	if err != nil && strings.Contains(err.Error(), "permission denied") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Use an unprivileged port",
			Description: "Ports below 1024 usually need elevated privileges",
		})
	}

	return suggestions
}

// TemplateMissingError generates suggestions for a missing HTML template.
func TemplateMissingError(ctx *SuggestionContext) []ErrorSuggestion {
	path := "public/index.html"
	if ctx != nil && ctx.TemplatePath != "" {
		path = ctx.TemplatePath
	}

	return []ErrorSuggestion{
		{
			Title:       "Create the HTML template",
			Description: "The root document is assembled from this file on every start",
			Command:     "ls -la " + path,
			Example:     `<!doctype html><html><head><link rel="icon" href="%PUBLIC_URL%/favicon.ico"></head><body><div id="root"></div></body></html>`,
		},
		{
			Title:       "Point spadev at your template",
			Description: "Set the template path if your public directory lives elsewhere",
			Example:     "site:\n  template: ./web/public/index.html",
		},
	}
}

// PolicyError generates suggestions when the production CSP cannot be loaded.
func PolicyError(ctx *SuggestionContext) []ErrorSuggestion {
	path := "csp.json"
	if ctx != nil && ctx.PolicyPath != "" {
		path = ctx.PolicyPath
	}

	return []ErrorSuggestion{
		{
			Title:       "Add a Content-Security-Policy file",
			Description: "Production documents are never served without a policy",
			Command:     "cat " + path,
			Example:     `{"default-src": ["'self'"], "script-src": ["'self'"]}`,
		},
		{
			Title:       "Run in development mode",
			Description: "The policy tag is only injected when NODE_ENV=production",
			Command:     "NODE_ENV=development spadev serve",
		},
	}
}

// UpstreamError generates suggestions when the bundler dev server fails.
func UpstreamError(err error, ctx *SuggestionContext) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{
		{
			Title:       "Run the bundler command by hand",
			Description: "Make sure it starts and prints the address it serves on",
		},
		{
			Title:       "Serve a prebuilt directory instead",
			Description: "The static upstream serves build/serve without running a bundler",
			Example:     "upstream:\n  kind: static",
		},
	}
	if ctx != nil && ctx.Command != "" {
		suggestions[0].Command = ctx.Command
	}

	if err != nil && HasCode(err, CodeUpstreamNoURL) {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Adjust the URL pattern",
			Description: "spadev reads the first stdout line matching upstream.url_pattern",
			Example:     "upstream:\n  url_pattern: \"Local:\"",
		})
	}

	return suggestions
}

// ConfigurationError generates suggestions for configuration errors
func ConfigurationError(configError, configPath string, ctx *SuggestionContext) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{
		{
			Title:       "Check configuration file syntax",
			Description: "Verify your YAML configuration is valid",
			Command:     "cat " + configPath,
		},
	}

	if strings.Contains(configError, "yaml") || strings.Contains(configError, "unmarshal") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Fix YAML syntax",
			Description: "There's a syntax error in your YAML configuration",
			Example:     "Use proper indentation and avoid tabs",
		})
	}

	if strings.Contains(configError, "path") || strings.Contains(configError, "directory") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Check directory paths",
			Description: "Verify all paths in your configuration exist",
			Command:     "ls -la",
		})
	}

	return suggestions
}

// FormatSuggestions renders title followed by a numbered suggestion list.
func FormatSuggestions(title string, suggestions []ErrorSuggestion) string {
	if len(suggestions) == 0 {
		return title
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nSuggestions:\n", title)
	for i, s := range suggestions {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, s.Title)
		for _, line := range []struct{ label, text string }{
			{"", s.Description},
			{"Run: ", s.Command},
			{"Example: ", s.Example},
		} {
			if line.text != "" {
				fmt.Fprintf(&b, "     %s%s\n", line.label, line.text)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// EnhancedError wraps an error with suggestions
type EnhancedError struct {
	OriginalError error
	Title         string
	Suggestions   []ErrorSuggestion
}

// Error implements the error interface
func (e *EnhancedError) Error() string {
	title := e.Title
	if e.OriginalError != nil {
		title += ": " + e.OriginalError.Error()
	}
	return FormatSuggestions(title, e.Suggestions)
}

// Unwrap returns the original error
func (e *EnhancedError) Unwrap() error {
	return e.OriginalError
}

// NewEnhancedError creates a new enhanced error with suggestions
func NewEnhancedError(title string, originalError error, suggestions []ErrorSuggestion) *EnhancedError {
	return &EnhancedError{
		OriginalError: originalError,
		Title:         title,
		Suggestions:   suggestions,
	}
}
