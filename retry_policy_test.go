package dbrest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const retryTestURL = "http://db:8000/v1/documents?uri=%2Fa.json"

func responseFor(method string, status int, header http.Header) *http.Response {
	req, _ := http.NewRequest(method, retryTestURL, nil)
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{StatusCode: status, Request: req, Header: header}
}

func TestDefaultIsIdempotent(t *testing.T) {
	tests := map[string]bool{
		http.MethodGet:     true,
		http.MethodHead:    true,
		http.MethodPut:     true,
		http.MethodDelete:  true,
		http.MethodOptions: true,
		http.MethodPost:    false,
		http.MethodPatch:   false,
	}
	for method, want := range tests {
		if got := DefaultIsIdempotent(method); got != want {
			t.Errorf("DefaultIsIdempotent(%s) = %v, want %v", method, got, want)
		}
	}
}

func TestRetryPolicyShouldRetry(t *testing.T) {
	policy := NewDefaultRetryPolicy(3, 100*time.Millisecond, 5*time.Second, 2.0, 0)

	tests := []struct {
		name    string
		resp    *http.Response
		err     error
		attempt int
		want    bool
	}{
		{"network error", nil, errors.New("connection reset"), 0, true},
		{"server error", responseFor(http.MethodGet, 503, nil), nil, 0, true},
		{"rate limited", responseFor(http.MethodGet, 429, nil), nil, 1, true},
		{"client error", responseFor(http.MethodGet, 400, nil), nil, 0, false},
		{"success", responseFor(http.MethodGet, 200, nil), nil, 0, false},
		{"row query post", responseFor(http.MethodPost, 503, nil), nil, 0, false},
		{"attempts exhausted", responseFor(http.MethodGet, 503, nil), nil, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got := policy.ShouldRetry(tt.resp, tt.err, tt.attempt)
			if got != tt.want {
				t.Errorf("ShouldRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryPolicyWithIdempotencyCheck(t *testing.T) {
	policy := NewDefaultRetryPolicy(3, time.Millisecond, time.Second, 2.0, 0).
		WithIdempotencyCheck(func(method string) bool { return method == http.MethodPost || DefaultIsIdempotent(method) })

	if _, ok := policy.ShouldRetry(responseFor(http.MethodPost, 503, nil), nil, 0); !ok {
		t.Error("Expected POST to be retried with a custom idempotency check")
	}

	same := policy.WithIdempotencyCheck(nil)
	if _, ok := same.ShouldRetry(responseFor(http.MethodPost, 503, nil), nil, 0); !ok {
		t.Error("A nil check must keep the current one")
	}
}

func TestRetryPolicyWithRetryAfter(t *testing.T) {
	policy := NewDefaultRetryPolicy(3, 100*time.Millisecond, 5*time.Second, 2.0, 0.1)
	resp := responseFor(http.MethodGet, 429, http.Header{"Retry-After": []string{"10"}})

	delay, shouldRetry := policy.ShouldRetry(resp, nil, 0)
	if !shouldRetry {
		t.Fatal("Expected to retry on 429 with Retry-After")
	}
	if delay != 10*time.Second {
		t.Errorf("Expected 10s from Retry-After, got %v", delay)
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Duration
	}{
		{"5", 5 * time.Second},
		{" 120 ", 2 * time.Minute},
		{"7200", time.Hour},
		{"0", 0},
		{"-5", 0},
		{"", 0},
		{"invalid", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.value); got != tt.expected {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.expected)
		}
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 25*time.Second || got > 31*time.Second {
		t.Errorf("parseRetryAfter with HTTP date should be around 30s, got %v", got)
	}

	past := time.Now().Add(-30 * time.Second).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(past); got != 0 {
		t.Errorf("parseRetryAfter with past date should return 0, got %v", got)
	}
}

func TestRetryPolicyCalculateBackoff(t *testing.T) {
	policy := NewDefaultRetryPolicy(10, 100*time.Millisecond, 500*time.Millisecond, 2.0, 0)

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 500 * time.Millisecond},
		{10, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run("attempt_"+strconv.Itoa(tt.attempt), func(t *testing.T) {
			if got := policy.calculateBackoff(tt.attempt); got != tt.expected {
				t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestRetryPolicyDecorrelatedBackoff(t *testing.T) {
	policy := NewDefaultRetryPolicyWithStrategy(5, 100*time.Millisecond, time.Second, 2.0, 0, DecorrelatedJitter)

	if got := policy.calculateBackoff(0); got != 100*time.Millisecond {
		t.Errorf("First decorrelated delay should be the initial backoff, got %v", got)
	}
	for i := 0; i < 20; i++ {
		got := policy.calculateBackoff(2)
		if got < 100*time.Millisecond || got > 900*time.Millisecond {
			t.Fatalf("Decorrelated delay %v outside [100ms, 900ms]", got)
		}
	}
}

func TestRetryBudgetAllow(t *testing.T) {
	budget := NewRetryBudget(3, time.Hour)

	for i := 0; i < 3; i++ {
		if !budget.Allow() {
			t.Fatalf("Expected retry %d to be allowed", i+1)
		}
	}
	if budget.Allow() {
		t.Error("Expected budget to be exhausted")
	}

	current, max, _ := budget.GetStats()
	if current != 3 || max != 3 {
		t.Errorf("Expected stats 3/3, got %d/%d", current, max)
	}
}

func TestRetryBudgetWindowReset(t *testing.T) {
	budget := NewRetryBudget(1, 20*time.Millisecond)

	if !budget.Allow() || budget.Allow() {
		t.Fatal("Expected exactly one retry in the first window")
	}
	time.Sleep(30 * time.Millisecond)
	if !budget.Allow() {
		t.Error("Expected a fresh window to allow a retry")
	}
}

func TestRetryPolicyIntegrationWithClient(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	policy := NewDefaultRetryPolicy(2, time.Millisecond, 5*time.Millisecond, 2.0, 0)
	client := New(paramsFor(t, server), WithRetryPolicy(policy))

	p, err := client.Config().ExtLibs().Remove(context.Background(), "/lib.sjs")
	if err != nil {
		t.Fatalf("Remove() returned error: %v", err)
	}
	if _, err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() returned error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 server calls, got %d", calls.Load())
	}
}

func TestRetryBudgetIntegrationWithClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
	client := New(paramsFor(t, server),
		append(fastRetries(),
			WithRetryBudget(1, time.Hour),
			WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 100}),
			WithMetricsCollector(collector),
		)...,
	)

	p, err := client.Config().Transforms().List(context.Background())
	if err != nil {
		t.Fatalf("List() returned error: %v", err)
	}
	_, err = p.Wait(context.Background())
	if !errors.Is(err, ErrRetryBudgetExceeded) {
		t.Fatalf("Expected retry budget error, got %v", err)
	}
	if !IsTransient(err) {
		t.Error("Retry budget errors should be transient")
	}
	if got := testutil.ToFloat64(collector.retryBudgetExceeded); got != 1 {
		t.Errorf("Expected budget metric 1, got %v", got)
	}
}
