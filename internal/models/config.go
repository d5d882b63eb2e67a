package models

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration, read from YAML and overridden by flags
type Config struct {
	// Input/Output
	Inputs    []string `yaml:"-"`
	InputDir  string   `yaml:"input_dir"`
	OutputDir string   `yaml:"output_dir"`
	Workers   int      `yaml:"workers"`

	Manifest ManifestConfig `yaml:"manifest"`
	Signer   SignerConfig   `yaml:"signer"`
	Engine   EngineConfig   `yaml:"engine"`

	// Archive attestation
	GPGKeyPath    string `yaml:"gpg_key"`
	GPGPassphrase string `yaml:"gpg_passphrase"`
}

// ManifestConfig describes the manifest and the mutators applied to every asset
type ManifestConfig struct {
	DefinitionPath    string         `yaml:"definition"` // JSON manifest definition
	Title             string         `yaml:"title"`
	ClaimGenerator    string         `yaml:"claim_generator"`
	Intent            string         `yaml:"intent"`
	SourceType        string         `yaml:"source_type"`
	Actions           []ActionConfig `yaml:"actions"`
	NoEmbed           bool           `yaml:"no_embed"`
	RemoteManifestURL string         `yaml:"remote_manifest_url"`
}

// SignerConfig selects a signing mode and its credentials
type SignerConfig struct {
	Mode                      string `yaml:"mode"` // pem, keystore, hardware, remote, callback
	Algorithm                 string `yaml:"algorithm"`
	CertificateChainPath      string `yaml:"certificate_chain"`
	PrivateKeyPath            string `yaml:"private_key"`
	TSAURL                    string `yaml:"tsa_url"`
	KeyAlias                  string `yaml:"key_alias"`
	RequireUserAuthentication bool   `yaml:"require_user_authentication"`
	ConfigurationURL          string `yaml:"remote_url"`
	BearerToken               string `yaml:"bearer_token"`
}

// EngineConfig configures the in-process reference engine
type EngineConfig struct {
	KeystoreDir        string        `yaml:"keystore_dir"`
	HardwareDir        string        `yaml:"hardware_dir"`
	ArchiveCompression string        `yaml:"archive_compression"` // zstd, gzip, xz, none
	AssetHash          string        `yaml:"asset_hash"`          // sha256, sha384, sha512
	RemoteTimeout      time.Duration `yaml:"remote_timeout"`
}

// LoadConfig reads a YAML configuration file into cfg
func LoadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &SignError{Type: ErrFileOp, Err: fmt.Errorf("read config: %w", err)}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return &SignError{Type: ErrInvalidConfig, Err: fmt.Errorf("parse config %s: %w", path, err)}
	}
	return nil
}
