package builder

import (
	"context"
	"fmt"

	"github.com/ralt/provsign/internal/engine"
)

// OpKind tags a pending operation
type OpKind int

const (
	OpSetIntent OpKind = iota
	OpSetNoEmbed
	OpSetRemoteURL
	OpAddAction
)

// String returns the engine operation name for the kind
func (k OpKind) String() string {
	switch k {
	case OpSetIntent:
		return "builderSetIntent"
	case OpSetNoEmbed:
		return "builderSetNoEmbed"
	case OpSetRemoteURL:
		return "builderSetRemoteUrl"
	case OpAddAction:
		return "builderAddAction"
	default:
		return "unknown"
	}
}

// PendingOperation is a mutator call waiting to be replayed. Only the
// fields used by Kind are set.
type PendingOperation struct {
	Kind       OpKind
	Intent     string
	SourceType string
	URL        string
	ActionJSON string
}

// apply issues the single engine call for op
func (op PendingOperation) apply(ctx context.Context, eng engine.Engine, h engine.Handle) error {
	switch op.Kind {
	case OpSetIntent:
		return eng.SetIntent(ctx, h, op.Intent, op.SourceType)
	case OpSetNoEmbed:
		return eng.SetNoEmbed(ctx, h)
	case OpSetRemoteURL:
		return eng.SetRemoteURL(ctx, h, op.URL)
	case OpAddAction:
		return eng.AddAction(ctx, h, op.ActionJSON)
	default:
		return fmt.Errorf("unknown pending operation %d", op.Kind)
	}
}

// opLog keeps operations in call order. It is not safe for concurrent use;
// Builder guards it.
type opLog struct {
	ops []PendingOperation
}

func (l *opLog) append(op PendingOperation) {
	l.ops = append(l.ops, op)
}

// drain returns every queued operation and leaves the log empty
func (l *opLog) drain() []PendingOperation {
	ops := l.ops
	l.ops = nil
	return ops
}

func (l *opLog) len() int {
	return len(l.ops)
}
