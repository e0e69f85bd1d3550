package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/snappy"

	"github.com/chalkline/chalkline/internal/errors"
	"github.com/chalkline/chalkline/internal/storage"
)

// ObjectStoreTransport writes batches to an object store instead of a live
// collector. Districts that forbid direct device-to-cloud traffic drop
// batches into a bucket the collector drains on its own schedule; a write
// that lands is a full acceptance.
type ObjectStoreTransport struct {
	store storage.ObjectStore
	now   func() time.Time
}

// NewObjectStoreTransport creates an object store transport.
func NewObjectStoreTransport(store storage.ObjectStore) *ObjectStoreTransport {
	return &ObjectStoreTransport{store: store, now: time.Now}
}

// BatchKey returns the object key for a batch, partitioned by upload day so
// the collector can drain incrementally.
func BatchKey(day time.Time, batchID string) string {
	return fmt.Sprintf("batches/%s/%s.json.sz", day.UTC().Format("2006-01-02"), batchID)
}

// Send writes the snappy-compressed batch. Keys embed the batch id, so a
// retried delivery overwrites its own earlier object rather than
// duplicating it.
func (t *ObjectStoreTransport) Send(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.NewSyncError(errors.CodePermanentReject, "failed to encode batch", err)
	}

	key := BatchKey(t.now(), req.BatchID)
	if err := t.store.Put(ctx, key, snappy.Encode(nil, payload)); err != nil {
		return nil, errors.NewSyncError(errors.CodeTransientUpload,
			fmt.Sprintf("failed to write batch object %s", key), err)
	}

	return acceptAll(req), nil
}

// acceptAll builds the verdict for a transport with no per-event review.
func acceptAll(req UploadRequest) *UploadResult {
	out := &UploadResult{}
	for _, ev := range req.Events {
		out.Accepted = append(out.Accepted, ev.ID)
	}
	return out
}
