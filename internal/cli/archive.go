package cli

import (
	"fmt"

	"github.com/ralt/provsign/internal/models"
	"github.com/spf13/cobra"
)

// NewArchiveCmd creates the archive command
func NewArchiveCmd() *cobra.Command {
	var config models.Config
	var output string

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Export the manifest working store as an archive",
		Long: `Builds the configured manifest without signing it and exports the
working store. With --gpg-key the archive also gets an armored OpenPGP
detached signature (<output>.asc) and the matching public key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyConfig(cmd, &config); err != nil {
				return err
			}
			if output == "" {
				return &models.SignError{
					Type: models.ErrInvalidConfig,
					Err:  fmt.Errorf("output is required"),
				}
			}

			a, err := newApp(&config)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Archive(cmd.Context(), output)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Archive)
			if res.Signature != "" {
				fmt.Fprintln(cmd.OutOrStdout(), res.Signature)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "manifest.psar", "Archive file to write")
	cmd.Flags().StringVarP(&config.GPGKeyPath, "gpg-key", "g", "", "Path to GPG private key")
	cmd.Flags().StringVarP(&config.GPGPassphrase, "gpg-passphrase", "p", "", "GPG key passphrase")

	addManifestFlags(cmd, &config.Manifest)
	addEngineFlags(cmd, &config.Engine)

	return cmd
}
