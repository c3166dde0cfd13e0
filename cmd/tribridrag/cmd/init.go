package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tribridrag/tribridrag/configs"
	apperrors "github.com/tribridrag/tribridrag/internal/errors"
	"github.com/tribridrag/tribridrag/internal/output"
)

func newInitCmd() *cobra.Command {
	var (
		outPath string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an annotated starter configuration file",
		Long: `Writes the example configuration to tribridrag.yaml in the current
directory. Every field in it is optional; edit what you need and pass
it with --config.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(outPath); err == nil && !force {
				return apperrors.Newf(apperrors.KindInvalidInput, "%s already exists, use --force to overwrite", outPath)
			}
			if dir := filepath.Dir(outPath); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := os.WriteFile(outPath, []byte(configs.ConfigTemplate), 0o644); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Wrote %s", outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "tribridrag.yaml", "Where to write the configuration")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
