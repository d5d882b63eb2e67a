package cli

import (
	"fmt"

	"github.com/ralt/provsign/internal/app"
	"github.com/ralt/provsign/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "provsign",
		Short: "Attach signed provenance manifests to media assets",
		Long: `Provsign builds content provenance manifests for images, video,
audio and documents, signs them and embeds them into the asset or writes
them alongside it.

Signing modes:
  - pem       (certificate chain and private key files)
  - keystore  (keys held in a keystore directory, by alias)
  - hardware  (non-exportable P-256 keys)
  - remote    (a remote signing service)
  - callback  (local ES256 signing, the key never reaches the engine)`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.InfoLevel)
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file")

	// Add subcommands
	rootCmd.AddCommand(NewSignCmd())
	rootCmd.AddCommand(NewArchiveCmd())
	rootCmd.AddCommand(NewProbeCmd())
	rootCmd.AddCommand(NewVerifyCmd())

	return rootCmd
}

// applyConfig loads --config into cfg, then re-applies every flag given
// on the command line so that flags take precedence over the file.
func applyConfig(cmd *cobra.Command, cfg *models.Config) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return nil
	}

	// Loading the file overwrites the flag-bound fields, so capture the
	// explicit values first.
	explicit := map[string]string{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		explicit[f.Name] = f.Value.String()
	})

	if err := models.LoadConfig(path, cfg); err != nil {
		return err
	}
	logrus.Debugf("Loaded configuration from %s", path)

	for name, value := range explicit {
		if err := cmd.Flags().Set(name, value); err != nil {
			return &models.SignError{
				Type: models.ErrInvalidConfig,
				Err:  fmt.Errorf("re-apply --%s: %w", name, err),
			}
		}
	}
	return nil
}

func newApp(cfg *models.Config) (*app.App, error) {
	return app.New(cfg, logrus.StandardLogger())
}
