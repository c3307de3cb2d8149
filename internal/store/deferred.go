package store

import (
	"context"
	"fmt"
)

// DeferredOpKind names one mutation in a deferred batch.
type DeferredOpKind string

const (
	OpCreate              DeferredOpKind = "create"
	OpUpdate              DeferredOpKind = "update"
	OpDelete              DeferredOpKind = "delete"
	OpCreateAndSetRelated DeferredOpKind = "createAndSetRelated"
	OpSetRelated          DeferredOpKind = "setRelated"
)

// DeferredOp is one queued mutation. Apply runs it against the store it
// is flushed into, which may be transaction-bound.
type DeferredOp struct {
	Kind   DeferredOpKind
	Entity string
	Apply  func(ctx context.Context, s *PostgresStore) error
}

// DeferredOps accumulates mutations so a caller can stage related writes
// and flush them in order inside one transaction. With Immediate set,
// Add applies each operation as it arrives instead of queueing.
type DeferredOps struct {
	store     *PostgresStore
	Immediate bool
	queue     []DeferredOp
}

func NewDeferredOps(s *PostgresStore, immediate bool) *DeferredOps {
	return &DeferredOps{store: s, Immediate: immediate}
}

func (d *DeferredOps) Add(ctx context.Context, op DeferredOp) error {
	if d.Immediate {
		if err := op.Apply(ctx, d.store); err != nil {
			return fmt.Errorf("%s %s: %w", op.Kind, op.Entity, err)
		}
		return nil
	}
	d.queue = append(d.queue, op)
	return nil
}

func (d *DeferredOps) Pending() int {
	return len(d.queue)
}

// Flush applies every queued operation in insertion order inside a single
// transaction, then clears the queue. A failed operation rolls back the
// whole batch and leaves the queue intact for inspection.
func (d *DeferredOps) Flush(ctx context.Context) error {
	if len(d.queue) == 0 {
		return nil
	}
	err := d.store.WithTx(ctx, func(tx *PostgresStore) error {
		for _, op := range d.queue {
			if err := op.Apply(ctx, tx); err != nil {
				return fmt.Errorf("%s %s: %w", op.Kind, op.Entity, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.queue = nil
	return nil
}
