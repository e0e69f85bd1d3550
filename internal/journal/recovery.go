package journal

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/chalkline/chalkline/pkg/types"
)

// EventSink is where replayed events land. The event store satisfies this;
// its insert is idempotent on event ID, so replaying an event the store
// already has is a no-op.
type EventSink interface {
	Append(ctx context.Context, event types.Event) error
}

// Recovery replays journaled events into the store after a crash.
type Recovery struct {
	journal *Journal
	sink    EventSink
}

// NewRecovery creates a recovery instance.
func NewRecovery(journal *Journal, sink EventSink) *Recovery {
	return &Recovery{journal: journal, sink: sink}
}

// Recover replays every intact journal entry into the sink, then truncates
// the journal. It returns the number of entries replayed. A sink failure
// aborts the replay and keeps the journal so the next startup retries.
func (r *Recovery) Recover(ctx context.Context) (int, error) {
	startTime := time.Now()

	names, err := segmentNames(r.journal.dir)
	if err != nil {
		return 0, fmt.Errorf("recovery: failed to list segment files: %w", err)
	}

	var replayed int
	for _, path := range names {
		entries, err := ReadSegment(path)
		if err != nil {
			log.Printf("[WARN] journal: failed to read segment %s: %v", path, err)
			continue
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return replayed, err
			}
			if err := r.sink.Append(ctx, entry.Event); err != nil {
				return replayed, fmt.Errorf("recovery: failed to replay entry %d: %w", entry.Seq, err)
			}
			replayed++
		}
	}

	if replayed == 0 {
		log.Printf("journal: no entries to recover")
	} else {
		log.Printf("journal: recovered %d entries in %v", replayed, time.Since(startTime))
	}

	// Everything is in the store now; the journal restarts empty.
	if err := r.journal.Reset(); err != nil {
		return replayed, fmt.Errorf("recovery: failed to reset journal: %w", err)
	}

	return replayed, nil
}
