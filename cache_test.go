package dbrest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const writeResponseErrorMsg = "Failed to write response: %v"

func TestNewInMemoryCache(t *testing.T) {
	cache := NewInMemoryCache()

	if cache == nil {
		t.Fatal("NewInMemoryCache() returned nil")
	}

	if len(cache.shards) != cache.numShards {
		t.Errorf("Expected %d shards, got %d", cache.numShards, len(cache.shards))
	}
}

func TestInMemoryCacheGet(t *testing.T) {
	cache := NewInMemoryCache()

	if _, found := cache.Get("nonexistent"); found {
		t.Error("Expected false for non-existent key")
	}

	cache.Set("doc", &CacheEntry{
		Body:       []byte(`{"name":"a"}`),
		StatusCode: 200,
		Header:     make(http.Header),
	}, time.Hour)

	retrieved, found := cache.Get("doc")
	if !found {
		t.Fatal("Expected true for existing key")
	}
	if string(retrieved.Body) != `{"name":"a"}` {
		t.Errorf("Unexpected body %q", retrieved.Body)
	}
	if retrieved.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", retrieved.StatusCode)
	}
}

func TestInMemoryCacheExpiration(t *testing.T) {
	cache := NewInMemoryCache()

	cache.Set("expired-key", &CacheEntry{Body: []byte("x"), StatusCode: 200}, -time.Hour)

	if _, found := cache.Get("expired-key"); found {
		t.Error("Expected expired entry to not be found")
	}
	if cache.Len() != 0 {
		t.Errorf("Expected expired entry to be evicted on read, Len() = %d", cache.Len())
	}
}

func TestInMemoryCacheDeleteAndClear(t *testing.T) {
	cache := NewInMemoryCache()

	for i := 0; i < 20; i++ {
		cache.Set(fmt.Sprintf("key-%d", i), &CacheEntry{StatusCode: 200}, time.Hour)
	}
	if cache.Len() != 20 {
		t.Fatalf("Expected 20 entries, got %d", cache.Len())
	}

	cache.Delete("key-3")
	if _, found := cache.Get("key-3"); found {
		t.Error("Expected deleted entry to be gone")
	}

	cache.Clear()
	if cache.Len() != 0 {
		t.Errorf("Expected empty cache after Clear, got %d", cache.Len())
	}
}

func TestCreateResponseFromCache(t *testing.T) {
	client := New(ConnectionParams{})
	header := http.Header{"Content-Type": []string{"application/json"}}
	entry := &CacheEntry{Body: []byte("cached"), StatusCode: 200, Header: header}

	resp := client.createResponseFromCache(entry)
	body, _ := io.ReadAll(resp.Body)

	if string(body) != "cached" {
		t.Errorf("Expected 'cached', got %q", body)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	resp.Header.Set("Content-Type", "text/plain")
	if header.Get("Content-Type") != "application/json" {
		t.Error("Response header must not alias the cached header")
	}
}

func TestCreateCacheEntryKeepsBodyReadable(t *testing.T) {
	client := New(ConnectionParams{})
	resp := &http.Response{
		StatusCode: 200,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(strings.NewReader("payload")),
	}

	entry := client.createCacheEntry(resp)
	if entry == nil {
		t.Fatal("createCacheEntry() returned nil")
	}
	if string(entry.Body) != "payload" {
		t.Errorf("Expected cached body 'payload', got %q", entry.Body)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "payload" {
		t.Errorf("Response body not restored, got %q", body)
	}
}

func TestDefaultCacheKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://db:8000/v1/documents?uri=%2Fa.json", nil)
	req.Header.Set("Accept", "application/json")

	key := DefaultCacheKeyFunc(req)
	if key != "GET:http://db:8000/v1/documents?uri=%2Fa.json|application/json" {
		t.Errorf("Unexpected key %q", key)
	}

	req.SetBasicAuth("reader", "pw")
	if withUser := DefaultCacheKeyFunc(req); withUser == key || !strings.Contains(withUser, "reader@") {
		t.Errorf("Expected key to carry the user, got %q", withUser)
	}
}

func TestDefaultCacheKeyFuncDistinguishesBodies(t *testing.T) {
	newReq := func(body string) *http.Request {
		req, _ := http.NewRequest(http.MethodPost, "http://db:8000/v1/rows", bytes.NewReader([]byte(body)))
		return req
	}

	if DefaultCacheKeyFunc(newReq(`{"a":1}`)) == DefaultCacheKeyFunc(newReq(`{"a":2}`)) {
		t.Error("Expected different keys for different bodies")
	}
	if DefaultCacheKeyFunc(newReq(`{"a":1}`)) != DefaultCacheKeyFunc(newReq(`{"a":1}`)) {
		t.Error("Expected identical keys for identical bodies")
	}
}

func TestDefaultCacheCondition(t *testing.T) {
	tests := map[string]bool{
		http.MethodGet:    true,
		http.MethodPost:   false,
		http.MethodPut:    false,
		http.MethodDelete: false,
	}
	for method, want := range tests {
		req := httptest.NewRequest(method, "http://db:8000/v1/ext", nil)
		if got := DefaultCacheCondition(req); got != want {
			t.Errorf("DefaultCacheCondition(%s) = %v, want %v", method, got, want)
		}
	}
}

func TestShouldCacheRequest(t *testing.T) {
	noCache := New(ConnectionParams{})
	req := httptest.NewRequest(http.MethodGet, "http://db:8000/v1/ext", nil)
	if noCache.shouldCacheRequest(req) {
		t.Error("Expected no caching without a cache")
	}

	client := New(ConnectionParams{}, WithCache(time.Minute))
	if !client.shouldCacheRequest(req) {
		t.Error("Expected GET to be cacheable")
	}

	disabled := req.WithContext(WithContextCacheDisabled(context.Background()))
	if client.shouldCacheRequest(disabled) {
		t.Error("Expected context to disable caching")
	}

	post := httptest.NewRequest(http.MethodPost, "http://db:8000/v1/rows", nil)
	post = post.WithContext(WithContextCacheEnabled(context.Background()))
	if !client.shouldCacheRequest(post) {
		t.Error("Expected context to enable caching of a POST")
	}
}

func TestGetCacheTTLForRequest(t *testing.T) {
	client := New(ConnectionParams{}, WithCache(time.Minute))
	req := httptest.NewRequest(http.MethodGet, "http://db:8000/v1/ext", nil)

	if ttl := client.getCacheTTLForRequest(req); ttl != time.Minute {
		t.Errorf("Expected default TTL 1m, got %v", ttl)
	}

	req = req.WithContext(WithContextCacheTTL(context.Background(), 5*time.Second))
	if ttl := client.getCacheTTLForRequest(req); ttl != 5*time.Second {
		t.Errorf("Expected context TTL 5s, got %v", ttl)
	}
}

func TestCachingInDo(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if _, err := fmt.Fprintf(w, "response %d", calls.Load()); err != nil {
			t.Errorf(writeResponseErrorMsg, err)
		}
	}))
	defer server.Close()

	client := New(paramsFor(t, server), WithCache(time.Minute))

	read := func() string {
		req, _ := http.NewRequest(http.MethodGet, server.URL+"/v1/ext/lib.sjs", nil)
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("Do() returned error: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body)
	}

	first := read()
	second := read()
	if first != second {
		t.Errorf("Expected cached body %q, got %q", first, second)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 server call, got %d", calls.Load())
	}
}

func TestCacheClearedByWrites(t *testing.T) {
	tests := []struct {
		method string
		clears bool
	}{
		{http.MethodPut, true},
		{http.MethodDelete, true},
		{http.MethodPatch, true},
		{http.MethodPost, false},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cache := NewInMemoryCache()
			client := New(paramsFor(t, server), WithCustomCache(cache, time.Minute))
			cache.Set("entry", &CacheEntry{StatusCode: 200}, time.Minute)

			req, _ := http.NewRequest(tt.method, server.URL+"/v1/documents", nil)
			resp, err := client.Do(req)
			if err != nil {
				t.Fatalf("Do() returned error: %v", err)
			}
			resp.Body.Close()

			_, found := cache.Get("entry")
			if found == tt.clears {
				t.Errorf("%s: entry present = %v, expected cleared = %v", tt.method, found, tt.clears)
			}
		})
	}
}

func TestCacheWithCustomKeyFunc(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(paramsFor(t, server),
		WithCache(time.Minute),
		WithCacheKeyFunc(func(req *http.Request) string { return req.URL.Path }),
	)

	for _, q := range []string{"?a=1", "?a=2"} {
		req, _ := http.NewRequest(http.MethodGet, server.URL+"/v1/ext"+q, nil)
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("Do() returned error: %v", err)
		}
		resp.Body.Close()
	}

	if calls.Load() != 1 {
		t.Errorf("Expected query to be ignored by the key, got %d calls", calls.Load())
	}
}

func TestCacheWithCustomCondition(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(paramsFor(t, server),
		WithCache(time.Minute),
		WithCacheCondition(func(req *http.Request) bool { return strings.HasPrefix(req.URL.Path, "/v1/config") }),
	)

	for _, path := range []string{"/v1/ext", "/v1/ext", "/v1/config/transforms", "/v1/config/transforms"} {
		req, _ := http.NewRequest(http.MethodGet, server.URL+path, nil)
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("Do() returned error: %v", err)
		}
		resp.Body.Close()
	}

	if calls.Load() != 3 {
		t.Errorf("Expected 3 server calls, got %d", calls.Load())
	}
}

func BenchmarkCacheGet(b *testing.B) {
	cache := NewInMemoryCache()
	cache.Set("key", &CacheEntry{Body: []byte("data"), StatusCode: 200}, time.Hour)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Get("key")
	}
}

func BenchmarkCacheConcurrentAccess(b *testing.B) {
	cache := NewInMemoryCache()
	for i := 0; i < 100; i++ {
		cache.Set(fmt.Sprintf("key-%d", i), &CacheEntry{StatusCode: 200}, time.Hour)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := fmt.Sprintf("key-%d", i%100)
			if i%10 == 0 {
				cache.Set(key, &CacheEntry{StatusCode: 200}, time.Hour)
			} else {
				cache.Get(key)
			}
			i++
		}
	})
}
