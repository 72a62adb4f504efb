package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/spadev/internal/version"
)

var (
	versionFormat   string
	versionShort    bool
	versionDetailed bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for spadev.

Examples:
  spadev version                 # Version, Go version and platform
  spadev version --short         # Version only
  spadev version --detailed      # Commit, build time and dirty state too
  spadev version --format json   # Output as JSON`,
	Args: cobra.NoArgs,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text, json)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
	versionCmd.Flags().BoolVar(&versionDetailed, "detailed", false, "Show detailed version information")
	AddFlagValidation(versionCmd, "format", oneOf("text", "json"))
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	info := version.Get()
	out := cmd.OutOrStdout()

	switch {
	case versionFormat == "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case versionShort:
		_, err := fmt.Fprintln(out, info.Short())
		return err
	case versionDetailed:
		_, err := fmt.Fprintln(out, info.Detailed())
		return err
	default:
		_, err := fmt.Fprintf(out, "spadev %s\nGo: %s\nPlatform: %s\n", info.Short(), info.GoVersion, info.Platform)
		return err
	}
}
