package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// PackageJSON holds the fields spadev reads from a web project's
// package.json.
type PackageJSON struct {
	Homepage    string
	Entrypoints []string

	externalDevelopment []string
	externalProduction  []string
}

// ExternalFiles returns the externals configured for the given mode.
func (p *PackageJSON) ExternalFiles(production bool) []string {
	if production {
		return p.externalProduction
	}
	return p.externalDevelopment
}

// LoadPackageJSON reads path with a dedicated viper instance so the
// project's settings never leak into the process configuration. A missing
// file returns an error wrapping fs.ErrNotExist.
func LoadPackageJSON(path string) (*PackageJSON, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return &PackageJSON{
		Homepage:            v.GetString("homepage"),
		Entrypoints:         v.GetStringSlice("build.entrypoints"),
		externalDevelopment: v.GetStringSlice("externalFiles.development"),
		externalProduction:  v.GetStringSlice("externalFiles.production"),
	}, nil
}
