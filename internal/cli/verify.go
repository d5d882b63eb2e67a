package cli

import (
	"fmt"

	"github.com/ralt/provsign/internal/models"
	"github.com/spf13/cobra"
)

// NewVerifyCmd creates the verify command
func NewVerifyCmd() *cobra.Command {
	var config models.Config

	cmd := &cobra.Command{
		Use:   "verify <files...>",
		Short: "Check the manifest signature and asset binding of signed files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyConfig(cmd, &config); err != nil {
				return err
			}
			a, err := newApp(&config)
			if err != nil {
				return err
			}
			defer a.Close()

			var failed int
			for _, path := range args {
				v, err := a.Verify(path)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "OK   %s (%s, signed by %s)\n", path, v.Claim.SignatureAlgorithm, v.Signer)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed verification", failed, len(args))
			}
			return nil
		},
	}
	return cmd
}
