package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/conneroisu/spadev/internal/document"
	"github.com/conneroisu/spadev/internal/lifecycle"
)

var htmlCmd = &cobra.Command{
	Use:   "html",
	Short: "Print the generated index.html",
	Long: `Assemble the root document exactly as serve would and write it out.

Examples:
  spadev html                                # Development document on stdout
  NODE_ENV=production spadev html -o out.html # Production document with CSP`,
	Args: cobra.NoArgs,
	RunE: runHTML,
}

var htmlFlags *StandardFlags

func init() {
	rootCmd.AddCommand(htmlCmd)

	htmlFlags = AddStandardFlags(htmlCmd, "mode", "output")
	htmlFlags.Bind(htmlCmd, map[string]string{
		"mode": "mode",
	})
}

func runHTML(cmd *cobra.Command, args []string) error {
	htmlFlags.ApplyMode()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	doc, err := lifecycle.BuildDocument(cmd.Context(), cfg, lifecycle.PolicySource(cfg), logger)
	if err != nil {
		return explainStartError(cfg, err)
	}

	if htmlFlags.Out == "" {
		_, err := doc.WriteTo(cmd.OutOrStdout())
		return err
	}
	if err := writeDocument(htmlFlags.Out, doc); err != nil {
		return err
	}
	logger.Info(cmd.Context(), "Wrote root document", "path", htmlFlags.Out, "bytes", doc.Len())
	return nil
}

func writeDocument(path string, doc document.Document) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = doc.WriteTo(f)
	return err
}
