// Package batch assembles pending events into bounded sync batches.
package batch

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/chalkline/chalkline/pkg/types"
)

// Claimer is the slice of the event store the assembler needs.
type Claimer interface {
	ClaimBatch(ctx context.Context, batchID string, size int) (*types.Batch, error)
	OpenBatch(ctx context.Context) (*types.Batch, error)
	ReleaseStaleBatches(ctx context.Context, staleAfter time.Duration) (int, error)
}

// Assembler claims capture-ordered batches for the sync engine. Batch ids are
// random UUIDs; the collector uses them as idempotency keys, so a batch
// retried after a network failure is recognizable as the same delivery.
type Assembler struct {
	store      Claimer
	batchSize  int
	staleAfter time.Duration
}

// NewAssembler creates an assembler.
func NewAssembler(store Claimer, batchSize int, staleAfter time.Duration) *Assembler {
	return &Assembler{
		store:      store,
		batchSize:  batchSize,
		staleAfter: staleAfter,
	}
}

// Next returns the batch to deliver: a previously claimed batch that never
// reached a terminal state if one exists, otherwise a freshly claimed one.
// Returns nil when there is nothing to sync.
func (a *Assembler) Next(ctx context.Context) (*types.Batch, error) {
	existing, err := a.store.OpenBatch(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	return a.store.ClaimBatch(ctx, uuid.NewString(), a.batchSize)
}

// RecoverStale releases batches stuck in flight past the stale window back
// to the open state. Runs at the top of every sync cycle so a crash during
// upload cannot strand events.
func (a *Assembler) RecoverStale(ctx context.Context) error {
	n, err := a.store.ReleaseStaleBatches(ctx, a.staleAfter)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("batch: released %d stale in-flight batches", n)
	}
	return nil
}
