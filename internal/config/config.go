// Package config provides configuration management for spadev using Viper
// for loading from files, environment variables and command-line flags.
//
// Settings come from .spadev.yml (or the file named by --config or
// SPADEV_CONFIG_FILE), SPADEV_ prefixed environment variables, and flags.
// Site settings that belong to the web project itself (homepage, entry
// points) are read from its package.json. The result is validated once and
// treated as immutable afterwards.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"

	UpstreamCommand = "command"
	UpstreamStatic  = "static"
)

type Config struct {
	Mode     string         `mapstructure:"mode"`
	Server   ServerConfig   `mapstructure:"server"`
	Project  ProjectConfig  `mapstructure:"project"`
	Build    BuildConfig    `mapstructure:"build"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Security SecurityConfig `mapstructure:"security"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`

	// Site is derived from Mode and the project homepage during Load.
	Site Site `mapstructure:"-"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	Host              string        `mapstructure:"host"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

type ProjectConfig struct {
	Root        string `mapstructure:"root"`
	PackageJSON string `mapstructure:"package_json"`
	Homepage    string `mapstructure:"homepage"`
	PublicDir   string `mapstructure:"public_dir"`
	Template    string `mapstructure:"template"`
	ServeDir    string `mapstructure:"serve_dir"`
	StagePublic bool   `mapstructure:"stage_public"`
}

type BuildConfig struct {
	Entrypoints []string `mapstructure:"entrypoints"`
	Outputs     []string `mapstructure:"outputs"`
	Externals   []string `mapstructure:"externals"`
}

type UpstreamConfig struct {
	Kind         string        `mapstructure:"kind"`
	Command      string        `mapstructure:"command"`
	Args         []string      `mapstructure:"args"`
	URLPattern   string        `mapstructure:"url_pattern"`
	StartTimeout time.Duration `mapstructure:"start_timeout"`
	Debounce     time.Duration `mapstructure:"debounce"`
}

type SecurityConfig struct {
	PolicyFile string `mapstructure:"policy_file"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
}

// Site is the immutable view of the site every request handler shares.
type Site struct {
	// PathPrefix is prepended to every injected resource. It never ends
	// with a slash and is empty for a site served from the root.
	PathPrefix string
	Production bool
}

// NewSite builds a Site from a homepage value such as "/", "/app/" or
// "https://example.com/app".
func NewSite(homepage string, production bool) Site {
	return Site{
		PathPrefix: strings.TrimSuffix(homepage, "/"),
		Production: production,
	}
}

// SetDefaults registers spadev's default values on v.
func SetDefaults(v *viper.Viper) {
	// Keys need a default for SPADEV_ environment overrides to be seen by
	// Unmarshal, even when the default is empty.
	v.SetDefault("mode", "")

	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.read_header_timeout", time.Minute)

	v.SetDefault("project.root", ".")
	v.SetDefault("project.package_json", "package.json")
	v.SetDefault("project.homepage", "")
	v.SetDefault("project.public_dir", "public")
	v.SetDefault("project.template", "")
	v.SetDefault("project.serve_dir", "build/serve")
	v.SetDefault("project.stage_public", true)

	v.SetDefault("build.entrypoints", []string{})
	v.SetDefault("build.outputs", []string{})
	v.SetDefault("build.externals", []string{})

	v.SetDefault("upstream.kind", UpstreamStatic)
	v.SetDefault("upstream.command", "")
	v.SetDefault("upstream.args", []string{})
	v.SetDefault("upstream.url_pattern", `https?://\S+`)
	v.SetDefault("upstream.start_timeout", 30*time.Second)
	v.SetDefault("upstream.debounce", 200*time.Millisecond)

	v.SetDefault("security.policy_file", "csp.json")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.path", "/metrics")

	// NODE_ENV is what every bundler in the JavaScript ecosystem reads.
	_ = v.BindEnv("node_env", "NODE_ENV")
}

// Load resolves the configuration held by v, merges in the project's
// package.json and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Mode = resolveMode(config.Mode, v.GetString("node_env"))

	root := config.Project.Root
	if root == "" {
		root = "."
	}
	config.Project.Root = root
	config.Project.PackageJSON = inRoot(root, config.Project.PackageJSON)
	config.Project.PublicDir = inRoot(root, config.Project.PublicDir)
	config.Project.ServeDir = inRoot(root, config.Project.ServeDir)
	if config.Project.Template == "" {
		config.Project.Template = filepath.Join(config.Project.PublicDir, "index.html")
	} else {
		config.Project.Template = inRoot(root, config.Project.Template)
	}
	if config.Security.PolicyFile != "" {
		config.Security.PolicyFile = inRoot(root, config.Security.PolicyFile)
	}

	pkg, err := LoadPackageJSON(config.Project.PackageJSON)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		pkg = &PackageJSON{}
	case err != nil:
		return nil, fmt.Errorf("package.json: %w", err)
	}

	// Explicit configuration wins over package.json.
	if config.Project.Homepage == "" {
		config.Project.Homepage = pkg.Homepage
	}
	if config.Project.Homepage == "" {
		config.Project.Homepage = "/"
	}
	if len(config.Build.Entrypoints) == 0 {
		config.Build.Entrypoints = pkg.Entrypoints
	}
	if len(config.Build.Entrypoints) == 0 {
		config.Build.Entrypoints = []string{filepath.Join(root, "src", "index.tsx")}
	}
	if len(config.Build.Externals) == 0 {
		config.Build.Externals = pkg.ExternalFiles(config.Mode == ModeProduction)
	}

	config.Site = NewSite(config.Project.Homepage, config.Mode == ModeProduction)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func resolveMode(explicit, nodeEnv string) string {
	mode := strings.ToLower(strings.TrimSpace(explicit))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(nodeEnv))
	}
	if mode == ModeProduction {
		return ModeProduction
	}
	return ModeDevelopment
}

func inRoot(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// ListenAddr is the host:port the proxy binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// IsProduction reports whether the config selects production mode.
func (c *Config) IsProduction() bool {
	return c.Site.Production
}
