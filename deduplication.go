package dbrest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"sync"
)

// DeduplicationTracker shares the provider of an in-flight operation with
// identical operations started before it settles.
type DeduplicationTracker struct {
	mu      sync.Mutex
	entries map[string]*dedupEntry
}

type dedupEntry struct {
	provider *ResultProvider[Item]
	waiters  int
}

// NewDeduplicationTracker returns an in-memory de-duplication tracker.
func NewDeduplicationTracker() *DeduplicationTracker {
	return &DeduplicationTracker{
		entries: make(map[string]*dedupEntry),
	}
}

// GetOrCreate returns the provider in flight for key, or registers a new one
// and reports the caller as its owner. The owner must call Complete once the
// provider settled.
func (dt *DeduplicationTracker) GetOrCreate(key string) (*ResultProvider[Item], bool) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if entry, exists := dt.entries[key]; exists {
		entry.waiters++
		return entry.provider, false
	}

	entry := &dedupEntry{provider: NewResultProvider[Item](), waiters: 1}
	dt.entries[key] = entry
	return entry.provider, true
}

// Complete forgets key; later operations with the same key start afresh.
func (dt *DeduplicationTracker) Complete(key string) {
	dt.mu.Lock()
	delete(dt.entries, key)
	dt.mu.Unlock()
}

// Waiters reports how many callers share the operation for key, or 0.
func (dt *DeduplicationTracker) Waiters(key string) int {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	if entry, ok := dt.entries[key]; ok {
		return entry.waiters
	}
	return 0
}

// DeduplicationKeyFunc builds a key for identifying identical in-flight requests.
type DeduplicationKeyFunc func(*http.Request) string

// DefaultDeduplicationKeyFunc builds a key from method, URL, Accept, user
// and, for requests with a body, a digest of the body.
func DefaultDeduplicationKeyFunc(req *http.Request) string {
	h := fnv.New64a()
	h.Write([]byte(req.Method))
	h.Write([]byte(req.URL.String()))
	h.Write([]byte(req.Header.Get("Accept")))
	if user, _, ok := req.BasicAuth(); ok {
		h.Write([]byte(user))
	}

	if req.GetBody != nil {
		h.Write([]byte(bodyDigest(req)))
	}

	return fmt.Sprintf("%x", h.Sum64())
}

func bodyDigest(req *http.Request) string {
	body, err := req.GetBody()
	if err != nil {
		return ""
	}
	defer body.Close()
	sum := sha256.New()
	if _, err := io.Copy(sum, body); err != nil {
		return ""
	}
	return hex.EncodeToString(sum.Sum(nil))
}

// DeduplicationCondition decides whether a request is eligible for deduplication.
type DeduplicationCondition func(req *http.Request) bool

// DefaultDeduplicationCondition enables deduplication for safe idempotent methods.
func DefaultDeduplicationCondition(req *http.Request) bool {
	return req.Method == http.MethodGet || req.Method == http.MethodHead || req.Method == http.MethodOptions
}
