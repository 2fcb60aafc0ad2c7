package dbrest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Requester starts one operation and reports its outcome through the
// returned provider. *Client is the default Requester.
type Requester interface {
	StartRequest(ctx context.Context, op *Operation) *ResultProvider[Item]
}

// Client talks to one database REST server. Requests pass through retries,
// circuit breaking, rate limiting, caching, de-duplication, middleware and
// metrics on their way to net/http. It is safe for concurrent use.
type Client struct {
	params            ConnectionParams
	requester         Requester
	httpClient        *http.Client
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
	timeout           time.Duration
	retryCondition    RetryCondition
	retryPolicy       RetryPolicy
	retryBudget       *RetryBudget
	circuitBreaker    *CircuitBreaker
	middleware        []Middleware
	rateLimiter       *RateLimiter
	cache             Cache
	cacheTTL          time.Duration
	cacheKeyFunc      func(*http.Request) string
	cacheCondition    CacheCondition
	compression       bool
	metrics           *MetricsCollector
	debug             *DebugConfig
	logger            Logger
	deduplication     *DeduplicationTracker
	dedupKeyFunc      DeduplicationKeyFunc
	dedupCondition    DeduplicationCondition
	validationError   error
}

// New constructs a Client for the server described by params. Configuration
// problems are recorded rather than returned; see IsValid and
// ValidationError.
func New(params ConnectionParams, options ...Option) *Client {
	client := &Client{
		params: params.Clone(),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries:        3,
		initialBackoff:    100 * time.Millisecond,
		maxBackoff:        10 * time.Second,
		backoffMultiplier: 2.0,
		jitter:            0.1,
		timeout:           30 * time.Second,
		retryCondition:    DefaultRetryCondition,
		circuitBreaker:    NewCircuitBreaker(CircuitBreakerConfig{}),
		middleware:        []Middleware{},
		cacheTTL:          5 * time.Minute,
		cacheKeyFunc:      DefaultCacheKeyFunc,
		cacheCondition:    DefaultCacheCondition,
		debug:             DefaultDebugConfig(),
		dedupKeyFunc:      DefaultDeduplicationKeyFunc,
		dedupCondition:    DefaultDeduplicationCondition,
	}
	client.requester = client

	for _, option := range options {
		option(client)
	}
	client.circuitBreaker.onChange = client.circuitStateChanged

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// ConnectionParams returns a copy of the client's connection parameters.
func (c *Client) ConnectionParams() ConnectionParams {
	return c.params.Clone()
}

// StartRequest sends op through the resilient HTTP pipeline and decodes the
// response into the returned provider.
func (c *Client) StartRequest(ctx context.Context, op *Operation) *ResultProvider[Item] {
	requestID := c.newRequestID()

	req, err := c.newHTTPRequest(ctx, op)
	if err != nil {
		p := NewResultProvider[Item]()
		p.Reject(&TransportError{
			Type:      ErrorTypeNetwork,
			Message:   "build request",
			Cause:     err,
			RequestID: requestID,
			Operation: op.Name,
			Method:    op.Request.Method,
			Timestamp: time.Now(),
		})
		return p
	}

	if c.deduplication == nil || !c.dedupCondition(req) {
		p := NewResultProvider[Item]()
		go c.execute(req, op, p, requestID)
		return p
	}

	dedupKey := c.dedupKeyFunc(req)
	p, owner := c.deduplication.GetOrCreate(dedupKey)
	if !owner {
		c.metrics.RecordDeduplicationHit(req.Method, getEndpointFromRequest(req))
		if c.debugEnabled(c.debug.LogRequests) {
			c.logger.Debug("Deduplication hit", "requestID", requestID, "dedupKey", dedupKey, "operation", op.Name)
		}
		return p
	}

	if c.debugEnabled(c.debug.LogRequests) {
		c.logger.Debug("Deduplication miss - proceeding with request", "requestID", requestID, "dedupKey", dedupKey)
	}
	go func() {
		defer c.deduplication.Complete(dedupKey)
		c.execute(req, op, p, requestID)
	}()
	return p
}

func (c *Client) newHTTPRequest(ctx context.Context, op *Operation) (*http.Request, error) {
	conn := op.Request.Connection
	url := conn.BaseURL() + op.Request.Path

	var body io.Reader
	if len(op.Body) > 0 {
		body = bytes.NewReader(op.Body)
	}
	ctx = context.WithValue(ctx, operationNameKey{}, op.Name)
	req, err := http.NewRequestWithContext(ctx, op.Request.Method, url, body)
	if err != nil {
		return nil, err
	}
	if len(op.Body) > 0 {
		payload := op.Body
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
	}

	req.Header.Set("User-Agent", userAgent())
	if conn.User != "" {
		req.SetBasicAuth(conn.User, conn.Password)
	}
	for k, v := range conn.Headers {
		req.Header.Set(k, v)
	}
	for k, vs := range op.Request.Header {
		req.Header[k] = append([]string(nil), vs...)
	}
	if c.compression && req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip")
	}
	return req, nil
}

func (c *Client) execute(req *http.Request, op *Operation, p *ResultProvider[Item], requestID string) {
	resp, err := c.do(req, requestID)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			te.Operation = op.Name
		}
		p.Reject(err)
		return
	}
	defer resp.Body.Close()

	c.decodeResponse(op, resp, p, requestID)
}

// Do executes a prepared *http.Request applying all reliability features
// except de-duplication, which works on operations.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.do(req, c.newRequestID())
}

func (c *Client) do(req *http.Request, requestID string) (*http.Response, error) {
	start := time.Now()
	endpoint := getEndpointFromRequest(req)

	if c.debugEnabled(c.debug.LogRequests) {
		c.logger.Debug("Starting request", "requestID", requestID, "method", req.Method, "url", req.URL.String(), "endpoint", endpoint)
	}

	c.metrics.RecordRequestStart(req.Method, endpoint)

	cacheEnabled := c.shouldCacheRequest(req)

	if cacheEnabled {
		cacheKey := c.cacheKeyFunc(req)
		if entry, found := c.cache.Get(cacheKey); found {
			if c.debugEnabled(c.debug.LogCache) {
				c.logger.Debug("Cache hit", "requestID", requestID, "cacheKey", cacheKey)
			}

			c.metrics.RecordCacheHit(req.Method, endpoint)
			c.metrics.RecordRequestEnd(req.Method, endpoint)
			c.metrics.RecordRequest(req.Method, endpoint, entry.StatusCode, time.Since(start))

			return c.createResponseFromCache(entry), nil
		}
		c.metrics.RecordCacheMiss(req.Method, endpoint)

		if c.debugEnabled(c.debug.LogCache) {
			c.logger.Debug("Cache miss", "requestID", requestID, "cacheKey", cacheKey)
		}
	}

	resp, err := c.doWithRetry(req, 0, requestID, start)

	c.metrics.RecordRequestEnd(req.Method, endpoint)

	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	c.metrics.RecordRequest(req.Method, endpoint, statusCode, time.Since(start))

	if err != nil {
		if c.debugEnabled(c.debug.LogRequests) {
			c.logger.Error("Request failed", "requestID", requestID, "endpoint", endpoint, "error", err.Error())
		}
		return nil, err
	}

	if cacheEnabled && resp.StatusCode < 400 {
		cacheKey := c.cacheKeyFunc(req)
		if entry := c.createCacheEntry(resp); entry != nil {
			ttl := c.getCacheTTLForRequest(req)
			c.cache.Set(cacheKey, entry, ttl)

			if inMemoryCache, ok := c.cache.(*InMemoryCache); ok {
				c.metrics.RecordCacheSize("default", inMemoryCache.Len())
			}

			if c.debugEnabled(c.debug.LogCache) {
				c.logger.Debug("Response cached", "requestID", requestID, "cacheKey", cacheKey, "ttl", ttl)
			}
		}
	}

	if c.cache != nil && isMutating(req.Method) && resp.StatusCode < 400 {
		c.cache.Clear()
		if c.debugEnabled(c.debug.LogCache) {
			c.logger.Debug("Cache cleared after write", "requestID", requestID, "method", req.Method, "endpoint", endpoint)
		}
	}

	return resp, nil
}

func (c *Client) doWithRetry(req *http.Request, attempt int, requestID string, startTime time.Time) (*http.Response, error) {
	endpoint := getEndpointFromRequest(req)
	opName := operationName(req)

	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		if c.debugEnabled(c.debug.LogRateLimit) {
			c.logger.Warn("Rate limit exceeded", "requestID", requestID, "endpoint", endpoint)
		}

		c.metrics.RecordError("RateLimit", req.Method, endpoint)
		return nil, c.createTransportError(ErrorTypeRateLimit, "rate limit exceeded", nil, requestID, req, attempt, time.Since(startTime))
	}

	if c.rateLimiter != nil {
		c.metrics.RecordRateLimiterTokens(opName, c.rateLimiter.Tokens())
	}

	if !c.circuitBreaker.Allow() {
		if c.debugEnabled(c.debug.LogCircuit) {
			c.logger.Warn("Circuit breaker open", "requestID", requestID, "endpoint", endpoint, "state", c.circuitBreaker.State())
		}

		c.metrics.RecordError("CircuitBreaker", req.Method, endpoint)
		return nil, c.createTransportError(ErrorTypeCircuitOpen, "circuit breaker is open", nil, requestID, req, attempt, time.Since(startTime))
	}

	if attempt > 0 {
		if c.debugEnabled(c.debug.LogRetries) {
			c.logger.Info("Retry attempt", "requestID", requestID, "attempt", attempt, "maxRetries", c.maxRetries, "endpoint", endpoint)
		}

		c.metrics.RecordRetry(req.Method, endpoint, attempt)
	}

	resp, err := c.executeMiddleware(req)

	if err != nil || (resp != nil && resp.StatusCode >= 500) {
		c.circuitBreaker.RecordFailure()
		c.metrics.RecordCircuitBreakerState(opName, c.circuitBreaker.State())

		if c.debugEnabled(c.debug.LogCircuit) {
			if err != nil {
				c.logger.Warn("Circuit breaker failure recorded", "requestID", requestID, "error", err.Error())
			} else {
				c.logger.Warn("Circuit breaker failure recorded", "requestID", requestID, "statusCode", resp.StatusCode)
			}
		}

		if err != nil {
			c.metrics.RecordError("Network", req.Method, endpoint)
		} else {
			c.metrics.RecordError("Server", req.Method, endpoint)
		}
	} else {
		c.circuitBreaker.RecordSuccess()
		c.metrics.RecordCircuitBreakerState(opName, c.circuitBreaker.State())
	}

	var shouldRetry bool
	var delay time.Duration

	if c.retryPolicy != nil {
		delay, shouldRetry = c.retryPolicy.ShouldRetry(resp, err, attempt)
	} else {
		shouldRetry = attempt < c.maxRetries && c.retryCondition(resp, err)
		if shouldRetry {
			delay = c.calculateBackoff(attempt)
		}
	}

	// The caller giving up is final.
	if err != nil && req.Context().Err() != nil {
		shouldRetry = false
	}

	if shouldRetry && req.Body != nil && req.GetBody == nil {
		shouldRetry = false
	}

	if shouldRetry {
		if c.retryBudget != nil && !c.retryBudget.Allow() {
			c.metrics.RecordRetryBudgetExceeded(endpoint)
			if c.debugEnabled(c.debug.LogRetries) {
				c.logger.Warn("Retry budget exceeded", "requestID", requestID, "endpoint", endpoint)
			}
			drainAndClose(resp)
			return nil, c.createTransportError(ErrorTypeRetryBudgetExceeded, "retry budget exceeded", err, requestID, req, attempt, time.Since(startTime))
		}

		if c.debugEnabled(c.debug.LogRetries) {
			c.logger.Info("Scheduling retry", "requestID", requestID, "attempt", attempt+1, "backoff", delay, "endpoint", endpoint)
		}

		drainAndClose(resp)
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, c.createTransportError(ErrorTypeNetwork, "reset request body", bodyErr, requestID, req, attempt, time.Since(startTime))
			}
			req.Body = body
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-req.Context().Done():
			timer.Stop()
			return nil, c.createTransportError(ErrorTypeTimeout, "request cancelled while waiting to retry", req.Context().Err(), requestID, req, attempt, time.Since(startTime))
		}
		return c.doWithRetry(req, attempt+1, requestID, startTime)
	}

	if err != nil {
		errorType := ErrorTypeNetwork
		if isTimeout(err) {
			errorType = ErrorTypeTimeout
		}
		return nil, c.createTransportError(errorType, "network request failed", err, requestID, req, attempt, time.Since(startTime))
	}

	return resp, nil
}

type operationNameKey struct{}

// operationName labels per-request gauges. Requests sent through Do carry
// no operation and are labelled "direct".
func operationName(req *http.Request) string {
	if name, ok := req.Context().Value(operationNameKey{}).(string); ok && name != "" {
		return name
	}
	return "direct"
}

func (c *Client) circuitStateChanged(from, to CircuitState) {
	if c.debugEnabled(c.debug.LogCircuit) {
		c.logger.Info("Circuit breaker state changed", "from", from.String(), "to", to.String())
	}
}

func (c *Client) executeMiddleware(req *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.httpClient.Do(req)
	}

	current := RoundTripperFunc(c.httpClient.Do)

	for i := len(c.middleware) - 1; i >= 0; i-- {
		middleware := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}

	return current.RoundTrip(req)
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	return ExponentialJitter.strategy().Delay(attempt, c.backoffParams())
}

// DefaultRetryCondition retries network errors and 5xx responses.
func DefaultRetryCondition(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode >= 500
}

func (c *Client) createTransportError(errorType, message string, cause error, requestID string, req *http.Request, attempt int, duration time.Duration) *TransportError {
	return &TransportError{
		Type:       errorType,
		Message:    message,
		Cause:      cause,
		RequestID:  requestID,
		Method:     req.Method,
		URL:        req.URL.String(),
		Attempt:    attempt,
		MaxRetries: c.maxRetries,
		Timestamp:  time.Now(),
		Duration:   duration,
		Endpoint:   getEndpointFromRequest(req),
	}
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// ValidateConfigurationStrict panics if configuration is invalid.
func (c *Client) ValidateConfigurationStrict() {
	if err := c.ValidateConfiguration(); err != nil {
		panic(fmt.Sprintf("invalid client configuration: %v", err))
	}
}

func getEndpointFromRequest(req *http.Request) string {
	if req.URL == nil {
		return "unknown"
	}

	host := req.URL.Host
	path := req.URL.Path

	var builder strings.Builder
	builder.WriteString(host)

	if path != "" && path != "/" {
		builder.WriteString(path)
	} else {
		builder.WriteByte('/')
	}

	return builder.String()
}

// isMutating reports whether a request changes server state. Row queries
// and explain are POSTs that only read.
func isMutating(method string) bool {
	switch method {
	case http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
