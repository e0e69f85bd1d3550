package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang/snappy"

	"github.com/chalkline/chalkline/internal/errors"
)

// HTTPTransport posts batches as JSON to a collector endpoint.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
	compress bool
}

// NewHTTPTransport creates an HTTP transport. When compress is set the
// request body is snappy-framed, which matters on school networks where the
// uplink is the bottleneck.
func NewHTTPTransport(endpoint string, timeout time.Duration, compress bool) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		compress: compress,
	}
}

// Send delivers one batch. Network failures and 5xx responses come back as
// retryable sync errors; a 4xx means the collector will never take this
// payload and the batch must not be retried.
func (t *HTTPTransport) Send(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.NewSyncError(errors.CodePermanentReject, "failed to encode batch", err)
	}

	body := payload
	if t.compress {
		body = snappy.Encode(nil, payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewSyncError(errors.CodePermanentReject, "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.BatchID)
	if t.compress {
		httpReq.Header.Set("Content-Encoding", "snappy")
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, errors.NewSyncError(errors.CodeOffline, "collector unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.NewSyncError(errors.CodeTransientUpload, "failed to read response", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var result UploadResult
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, errors.NewSyncError(errors.CodeTransientUpload,
				"collector returned malformed verdict", err)
		}
		return &result, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errors.NewSyncError(errors.CodeTransientUpload,
			fmt.Sprintf("collector returned %d", resp.StatusCode), nil)

	default:
		return nil, errors.NewSyncError(errors.CodePermanentReject,
			fmt.Sprintf("collector refused batch with %d", resp.StatusCode), nil)
	}
}
