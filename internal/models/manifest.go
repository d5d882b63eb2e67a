package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Intent declares what the signer is doing to the asset
type Intent string

const (
	IntentCreate Intent = "create"
	IntentEdit   Intent = "edit"
	IntentUpdate Intent = "update"
)

// ParseIntent validates an intent name
func ParseIntent(s string) (Intent, error) {
	switch Intent(strings.ToLower(s)) {
	case IntentCreate:
		return IntentCreate, nil
	case IntentEdit:
		return IntentEdit, nil
	case IntentUpdate:
		return IntentUpdate, nil
	default:
		return "", fmt.Errorf("unknown intent %q", s)
	}
}

// DigitalSourceTypeBase is the IPTC vocabulary prefix for source types
const DigitalSourceTypeBase = "http://cv.iptc.org/newscodes/digitalsourcetype/"

// DigitalSourceType is a term from the IPTC digital source type vocabulary
type DigitalSourceType string

const (
	SourceDigitalCapture                       DigitalSourceType = "digitalCapture"
	SourceNegativeFilm                         DigitalSourceType = "negativeFilm"
	SourcePositiveFilm                         DigitalSourceType = "positiveFilm"
	SourcePrint                                DigitalSourceType = "print"
	SourceMinorHumanEdits                      DigitalSourceType = "minorHumanEdits"
	SourceCompositeCapture                     DigitalSourceType = "compositeCapture"
	SourceAlgorithmicallyEnhanced              DigitalSourceType = "algorithmicallyEnhanced"
	SourceDataDrivenMedia                      DigitalSourceType = "dataDrivenMedia"
	SourceDigitalArt                           DigitalSourceType = "digitalArt"
	SourceVirtualRecording                     DigitalSourceType = "virtualRecording"
	SourceCompositeSynthetic                   DigitalSourceType = "compositeSynthetic"
	SourceTrainedAlgorithmicMedia              DigitalSourceType = "trainedAlgorithmicMedia"
	SourceCompositeWithTrainedAlgorithmicMedia DigitalSourceType = "compositeWithTrainedAlgorithmicMedia"
	SourceAlgorithmicMedia                     DigitalSourceType = "algorithmicMedia"
	SourceScreenCapture                        DigitalSourceType = "screenCapture"
	SourceDigitalCreation                      DigitalSourceType = "digitalCreation"
	SourceComposite                            DigitalSourceType = "composite"
	SourceHumanEdits                           DigitalSourceType = "humanEdits"
	SourceEmpty                                DigitalSourceType = "empty"
)

// URI returns the full vocabulary URI
func (d DigitalSourceType) URI() string {
	if d == "" || strings.HasPrefix(string(d), "http://") || strings.HasPrefix(string(d), "https://") {
		return string(d)
	}
	return DigitalSourceTypeBase + string(d)
}

// ClaimGeneratorInfo identifies the software producing the claim
type ClaimGeneratorInfo struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version,omitempty" yaml:"version"`
}

// Assertion is a labelled, opaque assertion payload
type Assertion struct {
	Label string          `json:"label"`
	Data  json.RawMessage `json:"data"`
}

// ActionConfig describes one entry of the c2pa.actions assertion
type ActionConfig struct {
	Action            string            `json:"action" yaml:"action"`
	SoftwareAgent     string            `json:"softwareAgent,omitempty" yaml:"software_agent"`
	DigitalSourceType string            `json:"digitalSourceType,omitempty" yaml:"digital_source_type"`
	When              string            `json:"when,omitempty" yaml:"when"`
	Parameters        map[string]string `json:"parameters,omitempty" yaml:"parameters"`
}

// JSON serialises the action into the payload handed to the engine
func (a ActionConfig) JSON() (string, error) {
	if strings.TrimSpace(a.Action) == "" {
		return "", fmt.Errorf("action name is required")
	}
	data, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ManifestDefinition is the provenance claim a builder is created from.
// It is treated as immutable; the With* helpers return modified copies.
type ManifestDefinition struct {
	Title              string               `json:"title,omitempty"`
	ClaimGenerator     string               `json:"claim_generator,omitempty"`
	ClaimGeneratorInfo []ClaimGeneratorInfo `json:"claim_generator_info,omitempty"`
	Format             string               `json:"format,omitempty"`
	SourceType         DigitalSourceType    `json:"source_type,omitempty"`
	Assertions         []Assertion          `json:"assertions,omitempty"`
	Actions            []ActionConfig       `json:"actions,omitempty"`
}

// Validate checks the parts of the definition this layer relies on
func (m ManifestDefinition) Validate() error {
	for _, info := range m.ClaimGeneratorInfo {
		if info.Name == "" {
			return fmt.Errorf("claim generator info requires a name")
		}
		if info.Version == "" {
			continue
		}
		if _, err := semver.NewVersion(info.Version); err != nil {
			return fmt.Errorf("claim generator %s: invalid version %q: %w", info.Name, info.Version, err)
		}
	}
	for _, a := range m.Assertions {
		if a.Label == "" {
			return fmt.Errorf("assertion without label")
		}
	}
	for _, a := range m.Actions {
		if a.Action == "" {
			return fmt.Errorf("action without name")
		}
	}
	return nil
}

// JSON serialises the definition after validating it
func (m ManifestDefinition) JSON() (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WithTitle returns a copy of the definition with a new title
func (m ManifestDefinition) WithTitle(title string) ManifestDefinition {
	c := m.clone()
	c.Title = title
	return c
}

// WithAssertion returns a copy of the definition with an extra assertion
func (m ManifestDefinition) WithAssertion(a Assertion) ManifestDefinition {
	c := m.clone()
	c.Assertions = append(c.Assertions, a)
	return c
}

// WithAction returns a copy of the definition with an extra action
func (m ManifestDefinition) WithAction(a ActionConfig) ManifestDefinition {
	c := m.clone()
	c.Actions = append(c.Actions, a)
	return c
}

func (m ManifestDefinition) clone() ManifestDefinition {
	c := m
	c.ClaimGeneratorInfo = append([]ClaimGeneratorInfo(nil), m.ClaimGeneratorInfo...)
	c.Assertions = append([]Assertion(nil), m.Assertions...)
	c.Actions = append([]ActionConfig(nil), m.Actions...)
	return c
}

// SignResult is produced by a successful sign call
type SignResult struct {
	SignedData    []byte
	ManifestBytes []byte
	ManifestSize  int
}
