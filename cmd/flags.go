package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/spadev/internal/config"
)

// StandardFlags provides consistent flag definitions across commands
type StandardFlags struct {
	// Server flags
	Port int
	Host string

	// Mode flags
	Mode       string
	Production bool

	// Output flags
	Out string
}

// AddStandardFlags adds the named flag groups to a command.
func AddStandardFlags(cmd *cobra.Command, flagTypes ...string) *StandardFlags {
	flags := &StandardFlags{}

	for _, flagType := range flagTypes {
		switch flagType {
		case "server":
			cmd.Flags().IntVarP(&flags.Port, "port", "p", 3000, "Port to listen on (0 picks a free port)")
			cmd.Flags().StringVar(&flags.Host, "host", "localhost", "Host to bind to")
		case "mode":
			cmd.Flags().StringVar(&flags.Mode, "mode", "", "Build mode (development, production); defaults to NODE_ENV")
			cmd.Flags().BoolVar(&flags.Production, "production", false, "Shorthand for --mode production")
		case "output":
			cmd.Flags().StringVarP(&flags.Out, "out", "o", "", "Write to this file instead of stdout")
		}
	}

	return flags
}

// Bind arranges for the command's flags to be bound to viper keys right
// before it runs. Binding late keeps commands sharing a key, such as
// "mode", from overriding each other.
func (f *StandardFlags) Bind(cmd *cobra.Command, bindings map[string]string) {
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd.Flags(), bindings)
	}
}

// ApplyMode turns --production into an explicit mode.
func (f *StandardFlags) ApplyMode() {
	if f.Production {
		viper.Set("mode", config.ModeProduction)
	}
}

func bindFlags(fs *pflag.FlagSet, bindings map[string]string) error {
	for flagName, configKey := range bindings {
		flag := fs.Lookup(flagName)
		if flag == nil {
			return fmt.Errorf("unknown flag %q", flagName)
		}
		if err := viper.BindPFlag(configKey, flag); err != nil {
			return err
		}
	}
	return nil
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:     flag.Value,
		validator: validator,
	}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

// ValidatePort accepts 0 to 65535.
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}

	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}

	return nil
}

func oneOf(allowed ...string) func(string) error {
	return func(val string) error {
		for _, a := range allowed {
			if val == a {
				return nil
			}
		}
		return fmt.Errorf("must be one of: %s", strings.Join(allowed, ", "))
	}
}
