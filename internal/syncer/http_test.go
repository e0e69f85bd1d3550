package syncer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"

	"github.com/chalkline/chalkline/internal/errors"
	"github.com/chalkline/chalkline/pkg/types"
)

func uploadFixture(t *testing.T, n int) UploadRequest {
	t.Helper()
	req := UploadRequest{
		BatchID: "11111111-2222-3333-4444-555555555555",
		Device:  DeviceMeta{DeviceID: "device-42", AppVersion: "1.4.0"},
	}
	for i := 0; i < n; i++ {
		req.Events = append(req.Events, testEvent(t))
	}
	return req
}

func TestHTTPSendSuccess(t *testing.T) {
	req := uploadFixture(t, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Idempotency-Key") != req.BatchID {
			t.Errorf("idempotency key = %q", r.Header.Get("Idempotency-Key"))
		}
		body, _ := io.ReadAll(r.Body)
		var got UploadRequest
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("request body does not decode: %v", err)
		}
		if len(got.Events) != 2 {
			t.Errorf("%d events in request, want 2", len(got.Events))
		}

		json.NewEncoder(w).Encode(UploadResult{
			Accepted: []types.EventID{req.Events[0].ID},
			Rejected: map[types.EventID]string{req.Events[1].ID: "duplicate"},
		})
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, 5*time.Second, false)
	result, err := tr.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(result.Accepted) != 1 || result.Accepted[0] != req.Events[0].ID {
		t.Errorf("accepted = %v", result.Accepted)
	}
	if result.Rejected[req.Events[1].ID] != "duplicate" {
		t.Errorf("rejected = %v", result.Rejected)
	}
}

func TestHTTPSendCompressed(t *testing.T) {
	req := uploadFixture(t, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") != "snappy" {
			t.Errorf("content-encoding = %q", r.Header.Get("Content-Encoding"))
		}
		body, _ := io.ReadAll(r.Body)
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			t.Fatalf("body is not snappy: %v", err)
		}
		var got UploadRequest
		if err := json.Unmarshal(decoded, &got); err != nil {
			t.Fatalf("decompressed body does not decode: %v", err)
		}
		json.NewEncoder(w).Encode(acceptAll(got))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, 5*time.Second, true)
	result, err := tr.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(result.Accepted) != 1 {
		t.Errorf("accepted = %v", result.Accepted)
	}
}

func TestHTTPSendServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, 5*time.Second, false)
	_, err := tr.Send(context.Background(), uploadFixture(t, 1))
	if err == nil {
		t.Fatal("expected error on 503")
	}
	if !errors.IsRetryable(err) {
		t.Errorf("503 must be retryable, got %v", err)
	}
	if errors.GetCode(err) != errors.CodeTransientUpload {
		t.Errorf("code = %s", errors.GetCode(err))
	}
}

func TestHTTPSendClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, 5*time.Second, false)
	_, err := tr.Send(context.Background(), uploadFixture(t, 1))
	if err == nil {
		t.Fatal("expected error on 422")
	}
	if errors.IsRetryable(err) {
		t.Error("422 must not be retryable")
	}
	if errors.GetCode(err) != errors.CodePermanentReject {
		t.Errorf("code = %s", errors.GetCode(err))
	}
}

func TestHTTPSendUnreachableIsOffline(t *testing.T) {
	// A closed server gives a connection refusal.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	tr := NewHTTPTransport(srv.URL, time.Second, false)
	_, err := tr.Send(context.Background(), uploadFixture(t, 1))
	if err == nil {
		t.Fatal("expected error against a dead endpoint")
	}
	if errors.GetCode(err) != errors.CodeOffline {
		t.Errorf("code = %s, want OFFLINE", errors.GetCode(err))
	}
	if !errors.IsRetryable(err) {
		t.Error("offline must be retryable")
	}
}

func TestHTTPSendRateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, 5*time.Second, false)
	_, err := tr.Send(context.Background(), uploadFixture(t, 1))
	if errors.GetCode(err) != errors.CodeTransientUpload {
		t.Errorf("429 should be transient, got %v", err)
	}
}
