package cli

import (
	"os"

	"github.com/ralt/provsign/internal/models"
	"github.com/spf13/cobra"
)

// bearerTokenEnv supplies the remote signer token when no flag or file sets it
const bearerTokenEnv = "PROVSIGN_BEARER_TOKEN"

func addManifestFlags(cmd *cobra.Command, mc *models.ManifestConfig) {
	cmd.Flags().StringVarP(&mc.DefinitionPath, "manifest", "m", "", "Manifest definition file (JSON or YAML)")
	cmd.Flags().StringVar(&mc.Title, "title", "", "Manifest title (defaults to the asset file name)")
	cmd.Flags().StringVar(&mc.ClaimGenerator, "claim-generator", "provsign", "Claim generator name")
	cmd.Flags().StringVar(&mc.Intent, "intent", "", "Builder intent: create, edit or update")
	cmd.Flags().StringVar(&mc.SourceType, "source-type", "", "Digital source type, e.g. digitalCapture")
	cmd.Flags().BoolVar(&mc.NoEmbed, "no-embed", false, "Write the manifest next to the asset instead of embedding it")
	cmd.Flags().StringVar(&mc.RemoteManifestURL, "remote-manifest-url", "", "URL the manifest will be published at")
}

func addSignerFlags(cmd *cobra.Command, sc *models.SignerConfig) {
	cmd.Flags().StringVar(&sc.Mode, "mode", "pem", "Signing mode: pem, keystore, hardware, remote or callback")
	cmd.Flags().StringVar(&sc.Algorithm, "alg", "es256", "Signing algorithm")
	cmd.Flags().StringVar(&sc.CertificateChainPath, "cert-chain", "", "PEM certificate chain, leaf first")
	cmd.Flags().StringVarP(&sc.PrivateKeyPath, "private-key", "k", "", "PEM private key")
	cmd.Flags().StringVar(&sc.TSAURL, "tsa-url", "", "Time stamp authority URL")
	cmd.Flags().StringVar(&sc.KeyAlias, "key-alias", "", "Key alias for keystore and hardware modes")
	cmd.Flags().BoolVar(&sc.RequireUserAuthentication, "require-user-auth", false, "Require user authentication for hardware keys")
	cmd.Flags().StringVar(&sc.ConfigurationURL, "remote-signer-url", "", "Remote signer configuration URL")
	cmd.Flags().StringVar(&sc.BearerToken, "bearer-token", "", "Remote signer bearer token (or "+bearerTokenEnv+")")
}

func addEngineFlags(cmd *cobra.Command, ec *models.EngineConfig) {
	cmd.Flags().StringVar(&ec.KeystoreDir, "keystore-dir", "", "Directory holding <alias>.pem keystore keys")
	cmd.Flags().StringVar(&ec.HardwareDir, "hardware-dir", "", "Directory backing the software secure element")
	cmd.Flags().StringVar(&ec.ArchiveCompression, "compression", "zstd", "Archive compression: zstd, gzip, xz or none")
	cmd.Flags().StringVar(&ec.AssetHash, "asset-hash", "sha256", "Asset hash: sha256, sha384 or sha512")
	cmd.Flags().DurationVar(&ec.RemoteTimeout, "remote-timeout", 0, "Remote signer request timeout")
}

func fillSignerDefaults(sc *models.SignerConfig) {
	if sc.BearerToken == "" {
		sc.BearerToken = os.Getenv(bearerTokenEnv)
	}
}
