// Package builder accumulates manifest mutations against an engine-side
// builder and replays them, in call order, when the asset is signed or the
// manifest is archived.
package builder

import (
	"context"
	"fmt"
	"sync"

	"github.com/ralt/provsign/internal/engine"
	"github.com/ralt/provsign/internal/models"
	"github.com/ralt/provsign/internal/signer"
	"github.com/sirupsen/logrus"
)

// Builder owns one engine builder handle. Mutators only queue work; Sign
// and ToArchive replay the queue and clear it. Callers must Dispose the
// builder when done, typically with defer.
//
// Ordering across concurrent mutator calls on one Builder is undefined;
// Dispose may be called from another goroutine while Sign is in flight.
type Builder struct {
	eng engine.Engine
	log logrus.FieldLogger

	mu       sync.Mutex
	handle   engine.Handle
	disposed bool
	pending  opLog
}

// Option configures a Builder
type Option func(*Builder)

// WithLogger sets the logger used for replay and lifecycle events
func WithLogger(l logrus.FieldLogger) Option {
	return func(b *Builder) {
		b.log = l
	}
}

// Create allocates an engine builder for manifestJSON
func Create(ctx context.Context, eng engine.Engine, manifestJSON string, opts ...Option) (*Builder, error) {
	b := &Builder{eng: eng, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(b)
	}

	h, err := eng.CreateBuilder(ctx, manifestJSON)
	if err != nil {
		return nil, models.NewError(models.ErrNativeEngine, "createBuilder", err)
	}
	b.handle = h
	b.log.WithField("handle", h).Debug("Builder created")
	return b, nil
}

// FromDefinition serialises def and creates a builder from it
func FromDefinition(ctx context.Context, eng engine.Engine, def models.ManifestDefinition, opts ...Option) (*Builder, error) {
	manifestJSON, err := def.JSON()
	if err != nil {
		return nil, models.NewError(models.ErrInvalidConfig, "createBuilder", err)
	}
	return Create(ctx, eng, manifestJSON, opts...)
}

// Handle returns the engine handle backing the builder
func (b *Builder) Handle() engine.Handle {
	return b.handle
}

// Pending returns the number of queued operations
func (b *Builder) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending.len()
}

func (b *Builder) enqueue(op string, pending PendingOperation) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return disposedError(op)
	}
	b.pending.append(pending)
	return nil
}

func disposedError(op string) error {
	return models.NewError(models.ErrDisposedBuilder, op, fmt.Errorf("builder has been disposed"))
}

// SetIntent queues an intent. sourceType may be empty.
func (b *Builder) SetIntent(intent models.Intent, sourceType models.DigitalSourceType) error {
	if err := b.checkLive("setIntent"); err != nil {
		return err
	}
	parsed, err := models.ParseIntent(string(intent))
	if err != nil {
		return models.NewError(models.ErrInvalidConfig, "setIntent", err)
	}
	return b.enqueue("setIntent", PendingOperation{
		Kind:       OpSetIntent,
		Intent:     string(parsed),
		SourceType: sourceType.URI(),
	})
}

// SetNoEmbed queues a request to keep the manifest out of the asset bytes
func (b *Builder) SetNoEmbed() error {
	return b.enqueue("setNoEmbed", PendingOperation{Kind: OpSetNoEmbed})
}

// SetRemoteURL queues the URL the manifest will be published at
func (b *Builder) SetRemoteURL(url string) error {
	return b.enqueue("setRemoteUrl", PendingOperation{Kind: OpSetRemoteURL, URL: url})
}

// AddAction queues an action. The action is serialised immediately.
func (b *Builder) AddAction(action models.ActionConfig) error {
	if err := b.checkLive("addAction"); err != nil {
		return err
	}
	payload, err := action.JSON()
	if err != nil {
		return models.NewError(models.ErrInvalidConfig, "addAction", err)
	}
	return b.enqueue("addAction", PendingOperation{Kind: OpAddAction, ActionJSON: payload})
}

func (b *Builder) checkLive(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return disposedError(op)
	}
	return nil
}

// take drains the log for a finalizing call. The log is empty afterwards
// whether or not the replay that follows succeeds.
func (b *Builder) take(op string) (engine.Handle, []PendingOperation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return "", nil, disposedError(op)
	}
	return b.handle, b.pending.drain(), nil
}

func (b *Builder) replay(ctx context.Context, h engine.Handle, ops []PendingOperation) error {
	if len(ops) == 0 {
		return nil
	}
	b.log.WithFields(logrus.Fields{"handle": h, "operations": len(ops)}).Debug("Replaying pending operations")

	for i, op := range ops {
		if err := op.apply(ctx, b.eng, h); err != nil {
			b.log.WithFields(logrus.Fields{
				"handle":    h,
				"operation": op.Kind.String(),
				"index":     i,
			}).Debug("Replay failed, remaining operations dropped")
			return models.NewError(models.ErrNativeEngine, op.Kind.String(), err)
		}
	}
	return nil
}

// Sign replays the pending operations and signs source with s.
// A signer that cannot be resolved fails before anything is replayed.
func (b *Builder) Sign(ctx context.Context, source []byte, mimeType string, s signer.Signer) (*models.SignResult, error) {
	if err := b.checkLive("sign"); err != nil {
		return nil, err
	}
	cred, err := signer.Resolve(s)
	if err != nil {
		return nil, err
	}

	h, ops, err := b.take("sign")
	if err != nil {
		return nil, err
	}
	if err := b.replay(ctx, h, ops); err != nil {
		return nil, err
	}

	var cb *callbackGuard
	if cred.Sign != nil {
		cb = &callbackGuard{inner: cred.Sign}
		cred.Sign = cb.sign
	}

	out, err := b.eng.Sign(ctx, h, source, mimeType, cred)
	if err != nil {
		if cbErr := cb.failure(); cbErr != nil {
			return nil, fmt.Errorf("sign callback: %w", cbErr)
		}
		return nil, models.NewError(models.ErrNativeEngine, "builderSign", err)
	}

	b.log.WithFields(logrus.Fields{
		"handle":        h,
		"mode":          cred.Kind.String(),
		"manifest_size": out.ManifestSize,
	}).Debug("Asset signed")

	return &models.SignResult{
		SignedData:    out.SignedData,
		ManifestBytes: out.ManifestBytes,
		ManifestSize:  out.ManifestSize,
	}, nil
}

// ToArchive replays the pending operations and exports the manifest archive
func (b *Builder) ToArchive(ctx context.Context) ([]byte, error) {
	h, ops, err := b.take("toArchive")
	if err != nil {
		return nil, err
	}
	if err := b.replay(ctx, h, ops); err != nil {
		return nil, err
	}

	archive, err := b.eng.ToArchive(ctx, h, nil)
	if err != nil {
		return nil, models.NewError(models.ErrNativeEngine, "builderToArchive", err)
	}
	return archive, nil
}

// Dispose releases the engine builder. Only the first call reaches the
// engine; later calls return nil.
func (b *Builder) Dispose(ctx context.Context) error {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return nil
	}
	b.disposed = true
	b.pending.drain()
	h := b.handle
	b.mu.Unlock()

	if err := b.eng.Dispose(ctx, h); err != nil {
		return models.NewError(models.ErrNativeEngine, "builderDispose", err)
	}
	b.log.WithField("handle", h).Debug("Builder disposed")
	return nil
}

// callbackGuard records the first error a user callback returns so it can
// be reported instead of the engine's wrapping of it.
type callbackGuard struct {
	inner engine.SignFunc

	mu  sync.Mutex
	err error
}

func (g *callbackGuard) sign(ctx context.Context, data []byte) ([]byte, error) {
	sig, err := g.inner(ctx, data)
	if err == nil && len(sig) == 0 {
		err = fmt.Errorf("callback returned an empty signature")
	}
	if err != nil {
		g.mu.Lock()
		if g.err == nil {
			g.err = err
		}
		g.mu.Unlock()
		return nil, err
	}
	return sig, nil
}

func (g *callbackGuard) failure() error {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}
