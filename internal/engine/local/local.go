// Package local is an in-process manifest engine. It keeps builder state in
// memory, assembles and signs claims, and emits JSON manifest stores that
// are appended to the asset or returned alongside it.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ralt/provsign/internal/engine"
	"github.com/ralt/provsign/internal/models"
	"github.com/ralt/provsign/internal/utils"
	"github.com/sirupsen/logrus"
)

// builderState is everything the mutators have applied to one builder
type builderState struct {
	definition models.ManifestDefinition
	rawDef     json.RawMessage
	intent     string
	sourceType string
	noEmbed    bool
	remoteURL  string
	actions    []json.RawMessage
}

func (s *builderState) clone() *builderState {
	c := *s
	c.actions = append([]json.RawMessage(nil), s.actions...)
	return &c
}

// Engine implements engine.Engine and engine.CapabilityProber
type Engine struct {
	mu       sync.Mutex
	builders map[engine.Handle]*builderState

	keystore    KeyStore
	hardware    HardwareProvider
	httpClient  *http.Client
	compression utils.Compression
	assetHash   string
	log         logrus.FieldLogger
	now         func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithKeyStore sets the keystore used for keystore credentials
func WithKeyStore(ks KeyStore) Option {
	return func(e *Engine) { e.keystore = ks }
}

// WithHardware sets the provider used for hardware credentials
func WithHardware(hw HardwareProvider) Option {
	return func(e *Engine) { e.hardware = hw }
}

// WithHTTPClient sets the client used to talk to remote signers
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.httpClient = c }
}

// WithCompression sets the archive codec
func WithCompression(c utils.Compression) Option {
	return func(e *Engine) { e.compression = c }
}

// WithAssetHash sets the digest used to bind the claim to the asset
func WithAssetHash(alg string) Option {
	return func(e *Engine) { e.assetHash = alg }
}

// WithLogger sets the engine logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides the time source used for claim timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine
func New(opts ...Option) *Engine {
	e := &Engine{
		builders:    make(map[engine.Handle]*builderState),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		compression: utils.CompressionZstd,
		assetHash:   "sha256",
		log:         logrus.StandardLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", engine.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// CreateBuilder parses manifestJSON, which must be a JSON object
func (e *Engine) CreateBuilder(ctx context.Context, manifestJSON string) (engine.Handle, error) {
	st, err := newState(manifestJSON)
	if err != nil {
		return "", err
	}
	return e.register(st), nil
}

func newState(manifestJSON string) (*builderState, error) {
	var object map[string]json.RawMessage
	if err := json.Unmarshal([]byte(manifestJSON), &object); err != nil || object == nil {
		return nil, invalid("manifest definition must be a JSON object")
	}
	var def models.ManifestDefinition
	if err := json.Unmarshal([]byte(manifestJSON), &def); err != nil {
		return nil, invalid("manifest definition: %v", err)
	}
	if err := def.Validate(); err != nil {
		return nil, invalid("manifest definition: %v", err)
	}
	return &builderState{definition: def, rawDef: json.RawMessage(manifestJSON)}, nil
}

func (e *Engine) register(st *builderState) engine.Handle {
	h := engine.Handle(uuid.New().String())
	e.mu.Lock()
	e.builders[h] = st
	e.mu.Unlock()
	e.log.WithField("handle", h).Debug("Engine builder allocated")
	return h
}

// update runs fn against the live state of h
func (e *Engine) update(h engine.Handle, fn func(*builderState) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.builders[h]
	if !ok {
		return engine.ErrUnknownHandle
	}
	return fn(st)
}

// snapshot returns a copy of the state of h
func (e *Engine) snapshot(h engine.Handle) (*builderState, error) {
	var c *builderState
	err := e.update(h, func(st *builderState) error {
		c = st.clone()
		return nil
	})
	return c, err
}

func (e *Engine) SetIntent(ctx context.Context, h engine.Handle, intent, sourceType string) error {
	parsed, err := models.ParseIntent(intent)
	if err != nil {
		return invalid("%v", err)
	}
	return e.update(h, func(st *builderState) error {
		st.intent = string(parsed)
		st.sourceType = sourceType
		return nil
	})
}

func (e *Engine) SetNoEmbed(ctx context.Context, h engine.Handle) error {
	return e.update(h, func(st *builderState) error {
		st.noEmbed = true
		return nil
	})
}

func (e *Engine) SetRemoteURL(ctx context.Context, h engine.Handle, url string) error {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return invalid("remote manifest URL %q is not http(s)", url)
	}
	return e.update(h, func(st *builderState) error {
		st.remoteURL = url
		return nil
	})
}

func (e *Engine) AddAction(ctx context.Context, h engine.Handle, actionJSON string) error {
	var action models.ActionConfig
	if err := json.Unmarshal([]byte(actionJSON), &action); err != nil {
		return invalid("action: %v", err)
	}
	if action.Action == "" {
		return invalid("action without name")
	}
	return e.update(h, func(st *builderState) error {
		st.actions = append(st.actions, json.RawMessage(actionJSON))
		return nil
	})
}

func (e *Engine) Dispose(ctx context.Context, h engine.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.builders[h]; !ok {
		return engine.ErrUnknownHandle
	}
	delete(e.builders, h)
	e.log.WithField("handle", h).Debug("Engine builder released")
	return nil
}

// Live returns the number of builders not yet disposed
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.builders)
}

// HardwareSigningAvailable asks the configured hardware provider
func (e *Engine) HardwareSigningAvailable(ctx context.Context) (bool, error) {
	if e.hardware == nil {
		return false, nil
	}
	return e.hardware.Available(ctx)
}
