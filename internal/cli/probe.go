package cli

import (
	"fmt"

	"github.com/ralt/provsign/internal/models"
	"github.com/spf13/cobra"
)

// NewProbeCmd creates the probe command
func NewProbeCmd() *cobra.Command {
	var config models.Config

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Report whether hardware-backed signing is available",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyConfig(cmd, &config); err != nil {
				return err
			}
			a, err := newApp(&config)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "hardware signing: %t\n", a.Probe(cmd.Context()))
			return nil
		},
	}

	addEngineFlags(cmd, &config.Engine)
	return cmd
}
