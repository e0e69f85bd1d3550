// Package syncer delivers claimed batches to the collector and applies the
// per-event verdicts to the local store.
package syncer

import (
	"context"

	"github.com/chalkline/chalkline/pkg/types"
)

// DeviceMeta identifies the uploading device. It carries no person-level
// information.
type DeviceMeta struct {
	DeviceID   string `json:"device_id"`
	AppVersion string `json:"app_version,omitempty"`
}

// UploadRequest is one batch delivery. The batch id doubles as the
// collector's idempotency key: a retried delivery carries the same id and
// the same members.
type UploadRequest struct {
	BatchID string        `json:"batch_id"`
	Device  DeviceMeta    `json:"device"`
	Events  []types.Event `json:"events"`
}

// UploadResult is the collector's per-event verdict. Every event of the
// request appears in exactly one of the two sets.
type UploadResult struct {
	Accepted []types.EventID          `json:"accepted"`
	Rejected map[types.EventID]string `json:"rejected,omitempty"`
}

// Transport delivers one batch. Implementations classify failures through
// the structured error codes: a transient error leaves the batch retryable,
// a permanent one fails it.
type Transport interface {
	Send(ctx context.Context, req UploadRequest) (*UploadResult, error)
}
