package dbrest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

const deduplicationTestURL = "http://db:8000/v1/documents?uri=%2Fa.json"

func TestDeduplicationTracker(t *testing.T) {
	tracker := NewDeduplicationTracker()

	p1, isOwner := tracker.GetOrCreate("key")
	if !isOwner {
		t.Error("First call should be the owner")
	}

	p2, isOwner2 := tracker.GetOrCreate("key")
	if isOwner2 {
		t.Error("Second call should not be the owner")
	}
	if p1 != p2 {
		t.Error("Second call should share the owner's provider")
	}
	if tracker.Waiters("key") != 2 {
		t.Errorf("Expected 2 waiters, got %d", tracker.Waiters("key"))
	}

	tracker.Complete("key")
	if tracker.Waiters("key") != 0 {
		t.Error("Expected key to be forgotten after Complete")
	}

	p3, isOwner3 := tracker.GetOrCreate("key")
	if !isOwner3 || p3 == p1 {
		t.Error("Call after Complete should own a fresh provider")
	}
}

func TestDeduplicationSharesProvider(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "source")
	}))
	defer server.Close()

	client := New(paramsFor(t, server), WithDeduplication(), WithMaxRetries(0))
	ctx := context.Background()

	first, err := client.Config().ExtLibs().Read(ctx, "/lib.sjs")
	if err != nil {
		t.Fatalf("Read() returned error: %v", err)
	}
	second, err := client.Config().ExtLibs().Read(ctx, "/lib.sjs")
	if err != nil {
		t.Fatalf("Read() returned error: %v", err)
	}
	other, err := client.Config().ExtLibs().Read(ctx, "/other.sjs")
	if err != nil {
		t.Fatalf("Read() returned error: %v", err)
	}

	if first != second {
		t.Error("Identical in-flight reads should share one provider")
	}
	if first == other {
		t.Error("Reads of different paths must not be shared")
	}

	close(release)
	for _, p := range []*ResultProvider[Item]{first, other} {
		if _, err := p.Wait(ctx); err != nil {
			t.Fatalf("Wait() returned error: %v", err)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 server calls, got %d", calls.Load())
	}
}

func TestDeduplicationSkipsWrites(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := New(paramsFor(t, server), WithDeduplication())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := client.Config().ExtLibs().Remove(ctx, "/lib.sjs")
		if err != nil {
			t.Fatalf("Remove() returned error: %v", err)
		}
		if _, err := p.Wait(ctx); err != nil {
			t.Fatalf("Wait() returned error: %v", err)
		}
	}
	if calls.Load() != 3 {
		t.Errorf("Expected every DELETE to reach the server, got %d calls", calls.Load())
	}
}

func TestDefaultDeduplicationKeyFunc(t *testing.T) {
	req1, _ := http.NewRequest(http.MethodGet, deduplicationTestURL, nil)
	req2, _ := http.NewRequest(http.MethodGet, deduplicationTestURL, nil)
	req3, _ := http.NewRequest(http.MethodPost, deduplicationTestURL, nil)
	req4, _ := http.NewRequest(http.MethodGet, deduplicationTestURL, nil)
	req4.Header.Set("Accept", "multipart/mixed")

	key1 := DefaultDeduplicationKeyFunc(req1)
	if key1 != DefaultDeduplicationKeyFunc(req2) {
		t.Error("Identical requests should have the same key")
	}
	if key1 == DefaultDeduplicationKeyFunc(req3) {
		t.Error("Different methods should have different keys")
	}
	if key1 == DefaultDeduplicationKeyFunc(req4) {
		t.Error("Different Accept headers should have different keys")
	}

	req2.SetBasicAuth("writer", "pw")
	if key1 == DefaultDeduplicationKeyFunc(req2) {
		t.Error("Different users should have different keys")
	}
}

func TestDefaultDeduplicationKeyFuncWithBody(t *testing.T) {
	newReq := func(body string) *http.Request {
		req, _ := http.NewRequest(http.MethodPost, "http://db:8000/v1/rows", bytes.NewReader([]byte(body)))
		return req
	}

	if DefaultDeduplicationKeyFunc(newReq("plan-a")) != DefaultDeduplicationKeyFunc(newReq("plan-a")) {
		t.Error("Identical bodies should have the same key")
	}
	if DefaultDeduplicationKeyFunc(newReq("plan-a")) == DefaultDeduplicationKeyFunc(newReq("plan-b")) {
		t.Error("Different bodies should have different keys")
	}

	req := newReq("plan-a")
	_ = DefaultDeduplicationKeyFunc(req)
	body, _ := io.ReadAll(req.Body)
	if string(body) != "plan-a" {
		t.Errorf("Key function consumed the request body, got %q", body)
	}
}

func TestDefaultDeduplicationKeyFuncWithBodyError(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "http://db:8000/v1/rows", bytes.NewReader([]byte("x")))
	req.GetBody = func() (io.ReadCloser, error) { return nil, fmt.Errorf("gone") }

	if DefaultDeduplicationKeyFunc(req) == "" {
		t.Error("Expected a key even when the body cannot be re-read")
	}
}

func TestDeduplicationCondition(t *testing.T) {
	tests := map[string]bool{
		http.MethodGet:     true,
		http.MethodHead:    true,
		http.MethodOptions: true,
		http.MethodPost:    false,
		http.MethodPut:     false,
		http.MethodDelete:  false,
	}
	for method, want := range tests {
		req, _ := http.NewRequest(method, deduplicationTestURL, nil)
		if got := DefaultDeduplicationCondition(req); got != want {
			t.Errorf("DefaultDeduplicationCondition(%s) = %v, want %v", method, got, want)
		}
	}
}

func BenchmarkDefaultDeduplicationKeyFunc(b *testing.B) {
	req, _ := http.NewRequest(http.MethodGet, deduplicationTestURL, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		DefaultDeduplicationKeyFunc(req)
	}
}

func BenchmarkDeduplicationTracker(b *testing.B) {
	tracker := NewDeduplicationTracker()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("key-%d", i%1000)
		if _, owner := tracker.GetOrCreate(key); owner {
			tracker.Complete(key)
		}
	}
}
