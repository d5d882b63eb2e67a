package cli

import (
	"fmt"

	"github.com/ralt/provsign/internal/app"
	"github.com/ralt/provsign/internal/models"
	"github.com/ralt/provsign/internal/scanner"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewSignCmd creates the sign command
func NewSignCmd() *cobra.Command {
	var config models.Config

	cmd := &cobra.Command{
		Use:   "sign [files...]",
		Short: "Sign media assets",
		Long: `Signs the given files, or every supported asset found under
--input-dir, and writes the signed copies to --output-dir. Each asset gets
its own builder; the configured intent, actions, no-embed and remote URL
are replayed onto it before signing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyConfig(cmd, &config); err != nil {
				return err
			}
			config.Inputs = args

			if err := validateSignConfig(&config); err != nil {
				return err
			}

			logrus.Info("Starting signing...")
			return runSign(cmd, &config)
		},
	}

	// Input/Output flags
	cmd.Flags().StringVarP(&config.InputDir, "input-dir", "i", "", "Input directory to scan")
	cmd.Flags().StringVarP(&config.OutputDir, "output-dir", "o", "./signed", "Output directory")
	cmd.Flags().IntVarP(&config.Workers, "workers", "w", 4, "Assets signed concurrently")

	addManifestFlags(cmd, &config.Manifest)
	addSignerFlags(cmd, &config.Signer)
	addEngineFlags(cmd, &config.Engine)

	return cmd
}

func validateSignConfig(config *models.Config) error {
	if len(config.Inputs) == 0 && config.InputDir == "" {
		return &models.SignError{
			Type: models.ErrInvalidConfig,
			Err:  fmt.Errorf("no input files and no input-dir"),
		}
	}

	if config.OutputDir == "" {
		return &models.SignError{
			Type: models.ErrInvalidConfig,
			Err:  fmt.Errorf("output-dir is required"),
		}
	}

	if config.Workers < 1 {
		config.Workers = 1
	}
	fillSignerDefaults(&config.Signer)
	return nil
}

func collectAssets(cmd *cobra.Command, config *models.Config) ([]string, error) {
	assets := append([]string(nil), config.Inputs...)
	if config.InputDir == "" {
		return assets, nil
	}

	logrus.Infof("Scanning directory: %s", config.InputDir)
	sc := scanner.NewFileSystemScanner(app.SidecarSuffix)
	scanned, err := sc.Scan(cmd.Context(), config.InputDir)
	if err != nil {
		return nil, &models.SignError{
			Type: models.ErrFileOp,
			Err:  fmt.Errorf("failed to scan directory: %w", err),
		}
	}
	for _, s := range scanned {
		assets = append(assets, s.Path)
	}
	return assets, nil
}

func runSign(cmd *cobra.Command, config *models.Config) error {
	assets, err := collectAssets(cmd, config)
	if err != nil {
		return err
	}
	if len(assets) == 0 {
		logrus.Warn("No assets to sign")
		return nil
	}

	a, err := newApp(config)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.Signer()
	if err != nil {
		return err
	}

	results, err := a.SignAll(cmd.Context(), assets, s)
	signed := 0
	for _, r := range results {
		if r.Err == nil && r.Output != "" {
			signed++
			fmt.Fprintln(cmd.OutOrStdout(), r.Output)
		}
	}
	logrus.Infof("Signed %d of %d assets into %s", signed, len(assets), config.OutputDir)
	return err
}
