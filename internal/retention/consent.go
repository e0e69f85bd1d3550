package retention

import (
	"context"
	"log"

	"github.com/chalkline/chalkline/internal/compliance"
	"github.com/chalkline/chalkline/internal/errors"
)

// Purger wipes every stored event and batch.
type Purger interface {
	DeleteAll(ctx context.Context) error
}

// JournalWiper discards the durability journal's segments.
type JournalWiper interface {
	Reset() error
}

// DedupeResetter clears the duplicate filter.
type DedupeResetter interface {
	Reset()
}

// Revoker flips the consent profile off.
type Revoker interface {
	Revoke() compliance.ProfileState
}

// WithdrawConsent executes a consent withdrawal: consent is revoked first so
// capture and sync stop taking work, then every local trace of the data is
// destroyed. The store purge is the step that must not fail silently; the
// journal and filter wipes follow it because a replayed journal entry would
// otherwise resurrect purged events.
func WithdrawConsent(ctx context.Context, revoker Revoker, store Purger, journal JournalWiper, filter DedupeResetter) error {
	revoker.Revoke()
	log.Printf("retention: consent withdrawn, purging local data")

	if err := store.DeleteAll(ctx); err != nil {
		return errors.NewRetentionError("failed to purge event store", err)
	}

	if journal != nil {
		if err := journal.Reset(); err != nil {
			return errors.NewRetentionError("failed to wipe journal", err)
		}
	}

	if filter != nil {
		filter.Reset()
	}

	log.Printf("retention: local purge complete")
	return nil
}
