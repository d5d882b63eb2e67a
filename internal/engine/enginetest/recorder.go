// Package enginetest provides an engine.Engine that records every call,
// for tests of code that drives builders.
package enginetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ralt/provsign/internal/engine"
)

// Call is one recorded engine call
type Call struct {
	Op     string
	Handle engine.Handle
	Args   []string
	Cred   *engine.Credential
}

// Recorder implements engine.Engine by recording calls. Set Fail to make
// a named operation return an error.
type Recorder struct {
	mu       sync.Mutex
	calls    []Call
	next     int
	Fail     map[string]error
	Hardware *bool

	// CallSigner makes Sign invoke the credential's callback, if any
	CallSigner bool
}

// New returns an empty Recorder
func New() *Recorder {
	return &Recorder{Fail: make(map[string]error)}
}

func (r *Recorder) record(op string, h engine.Handle, cred *engine.Credential, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: op, Handle: h, Args: args, Cred: cred})
	return r.Fail[op]
}

// Calls returns a copy of the recorded calls
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Ops returns the operation names in call order
func (r *Recorder) Ops() []string {
	var ops []string
	for _, c := range r.Calls() {
		ops = append(ops, c.Op)
	}
	return ops
}

// Count returns how many times op was called
func (r *Recorder) Count(op string) int {
	n := 0
	for _, c := range r.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) CreateBuilder(ctx context.Context, manifestJSON string) (engine.Handle, error) {
	r.mu.Lock()
	r.next++
	h := engine.Handle(fmt.Sprintf("builder-%d", r.next))
	r.mu.Unlock()
	if err := r.record("createBuilder", h, nil, manifestJSON); err != nil {
		return "", err
	}
	return h, nil
}

func (r *Recorder) SetIntent(ctx context.Context, h engine.Handle, intent, sourceType string) error {
	return r.record("builderSetIntent", h, nil, intent, sourceType)
}

func (r *Recorder) SetNoEmbed(ctx context.Context, h engine.Handle) error {
	return r.record("builderSetNoEmbed", h, nil)
}

func (r *Recorder) SetRemoteURL(ctx context.Context, h engine.Handle, url string) error {
	return r.record("builderSetRemoteUrl", h, nil, url)
}

func (r *Recorder) AddAction(ctx context.Context, h engine.Handle, actionJSON string) error {
	return r.record("builderAddAction", h, nil, actionJSON)
}

func (r *Recorder) Sign(ctx context.Context, h engine.Handle, source []byte, mimeType string, cred *engine.Credential) (*engine.SignOutput, error) {
	if err := r.record("builderSign", h, cred, string(source), mimeType); err != nil {
		return nil, err
	}
	manifest := []byte("manifest:" + string(h))
	if r.CallSigner && cred != nil && cred.Sign != nil {
		sig, err := cred.Sign(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("engine: signer callback failed: %v", err)
		}
		manifest = append(manifest, sig...)
	}
	return &engine.SignOutput{
		SignedData:    append(append([]byte(nil), source...), manifest...),
		ManifestBytes: manifest,
		ManifestSize:  len(manifest),
	}, nil
}

func (r *Recorder) ToArchive(ctx context.Context, h engine.Handle, cred *engine.Credential) ([]byte, error) {
	if err := r.record("builderToArchive", h, cred); err != nil {
		return nil, err
	}
	return []byte("archive:" + string(h)), nil
}

func (r *Recorder) Dispose(ctx context.Context, h engine.Handle) error {
	return r.record("builderDispose", h, nil)
}

// HardwareSigningAvailable reports *Hardware, or an error when it is unset
func (r *Recorder) HardwareSigningAvailable(ctx context.Context) (bool, error) {
	if r.Hardware == nil {
		return false, fmt.Errorf("probe not configured")
	}
	return *r.Hardware, nil
}
