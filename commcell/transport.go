package commcell

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	contentTypeJSON = "application/json"
	contentTypeXML  = "application/xml"
	contentTypeForm = "application/x-www-form-urlencoded"

	headerAccept      = "Accept"
	headerContentType = "Content-Type"
	headerAuthtoken   = "Authtoken"
	headerRequestID   = "X-Request-Id"

	// tokenPrefix is prepended to bare authentication tokens. Tokens that
	// already carry a recognized prefix are sent unchanged.
	tokenPrefix = "QSDK "

	// Retry configuration
	retryCount       = 3                // Number of retry attempts
	retryWaitTime    = 5 * time.Second  // Initial wait time between retries
	retryMaxWaitTime = 60 * time.Second // Maximum wait time between retries

	// Connection pool configuration
	maxIdleConns        = 100              // Total idle connections across all hosts
	maxIdleConnsPerHost = 20               // Idle connections per host (default is 2, too low)
	idleConnTimeout     = 90 * time.Second // Timeout for idle connections
)

// transport is the single HTTP helper shared by every resource wrapper.
// It owns the resty client, the session token, retry policy, optional
// tracing and metrics, and the uniform error translation: transport failure
// or non-2xx status -> *SDKError with HTTP context; 2xx reply carrying a
// vendor errorCode -> *SDKError with the server's code and message.
type transport struct {
	client  *resty.Client
	cfg     Config
	baseURL string
	tracing *tracerWrapper
	metrics *Metrics

	tokenMu sync.RWMutex
	token   string

	// Connection tracking for graceful shutdown
	mu         sync.Mutex
	activeReqs int32
	closed     bool
	closeChan  chan struct{}
}

// newTransport builds the resty client with the transport defaults:
// bounded retries with exponential backoff, Retry-After handling, a tuned
// connection pool and TLS 1.2 minimum.
func newTransport(cfg Config, tp trace.TracerProvider, metrics *Metrics) *transport {
	if cfg.Server.InsecureSkipVerify {
		log.Error("SECURITY WARNING: TLS certificate verification disabled - this is insecure for production use")
	}

	client := resty.New().
		SetTimeout(cfg.RequestTimeout()).
		SetRetryCount(retryCount).
		SetRetryWaitTime(retryWaitTime).
		SetRetryMaxWaitTime(retryMaxWaitTime).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Retry on network errors
			if err != nil {
				return true
			}
			// Retry on rate limiting (429) and server errors (5xx)
			return r.StatusCode() == http.StatusTooManyRequests ||
				r.StatusCode() >= 500
		})

	client.AddRetryAfterErrorCondition()

	httpClient := client.GetClient()
	httpClient.Transport = &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.Server.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		},
	}

	return &transport{
		client:  client,
		cfg:     cfg,
		baseURL: cfg.BaseURL(),
		tracing: newTracerWrapper(tp, "commcell-go/transport"),
		metrics: metrics,
	}
}

// setToken stores the session token, adding the standard prefix to bare
// tokens.
func (t *transport) setToken(token string) {
	if token != "" &&
		!strings.HasPrefix(token, tokenPrefix) &&
		!strings.HasPrefix(token, "SAML ") &&
		!strings.HasPrefix(token, "Bearer ") {
		token = tokenPrefix + token
	}

	t.tokenMu.Lock()
	t.token = token
	t.tokenMu.Unlock()
}

func (t *transport) authToken() string {
	t.tokenMu.RLock()
	defer t.tokenMu.RUnlock()
	return t.token
}

// loginRequest is the body of the Login call. The password is transmitted
// base64-encoded, matching the server contract.
type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	DeviceID   string `json:"deviceId"`
	CommServer string `json:"commserver"`
}

type loginResponse struct {
	Token    string `json:"token"`
	UserName string `json:"userName"`
	UserGUID string `json:"userGUID"`
}

// login authenticates with the configured credentials and stores the
// returned session token.
func (t *transport) login(ctx context.Context) error {
	hostname, _ := os.Hostname()

	body := loginRequest{
		Username:   t.cfg.Auth.Username,
		Password:   base64.StdEncoding.EncodeToString([]byte(t.cfg.Auth.Password)),
		DeviceID:   hostname,
		CommServer: "",
	}

	var reply loginResponse
	if err := t.roundTrip(ctx, "Commcell.Login", http.MethodPost, svcLogin, body, &reply, false); err != nil {
		return err
	}

	if reply.Token == "" {
		return &SDKError{
			Op:       "Commcell.Login",
			Endpoint: svcLogin,
			Message:  "authentication failed: no token received",
		}
	}

	t.setToken(reply.Token)
	log.Debugf("Logged in to %s as %s", t.cfg.Server.Host, t.cfg.Auth.Username)
	return nil
}

// logout invalidates the session token on the server and clears it locally.
func (t *transport) logout(ctx context.Context) error {
	if t.authToken() == "" {
		return nil
	}
	err := t.roundTrip(ctx, "Commcell.Logout", http.MethodPost, svcLogout, nil, nil, true)
	t.setToken("")
	return err
}

// do issues a JSON request against a relative endpoint and decodes the
// response into target (which may be nil when the caller only cares about
// error translation). A 401 response triggers one transparent re-login and
// replay when credentials are available.
func (t *transport) do(ctx context.Context, op, method, endpoint string, body, target interface{}) error {
	err := t.roundTrip(ctx, op, method, endpoint, body, target, true)

	var sdkErr *SDKError
	if err != nil && asSDKError(err, &sdkErr) &&
		sdkErr.HTTPStatus == http.StatusUnauthorized &&
		t.cfg.Auth.Username != "" {
		log.Debugf("Session token rejected for %s, re-authenticating", endpoint)
		if loginErr := t.login(ctx); loginErr != nil {
			return loginErr
		}
		return t.roundTrip(ctx, op, method, endpoint, body, target, true)
	}

	return err
}

// asSDKError is a tiny errors.As shim kept local so transport errors do not
// need the errors package imported everywhere.
func asSDKError(err error, target **SDKError) bool {
	e, ok := err.(*SDKError)
	if ok {
		*target = e
	}
	return ok
}

// roundTrip performs one request/response cycle, including connection
// tracking, tracing, metrics and uniform error translation.
func (t *transport) roundTrip(ctx context.Context, op, method, endpoint string, body, target interface{}, authed bool) error {
	if err := t.acquire(); err != nil {
		return &SDKError{Op: op, Endpoint: endpoint, Message: err.Error()}
	}
	defer t.release()

	ctx, span := t.tracing.StartSpan(ctx, op, trace.SpanKindClient)
	defer span.End()

	requestID := uuid.NewString()
	url := t.baseURL + endpoint

	req := t.client.R().
		SetContext(ctx).
		SetHeader(headerAccept, contentTypeJSON).
		SetHeader(headerContentType, contentTypeJSON).
		SetHeader(headerRequestID, requestID)

	if authed {
		if token := t.authToken(); token != "" {
			req.SetHeader(headerAuthtoken, token)
		}
	}

	if body != nil {
		req.SetBody(body)
	}

	start := time.Now()
	resp, err := req.Execute(method, url)
	duration := time.Since(start)

	if err != nil {
		t.metrics.observeError(endpoint, "transport")
		sdkErr := &SDKError{Op: op, Endpoint: endpoint, Message: err.Error(), Err: err}
		recordSpanError(span, sdkErr)
		return sdkErr
	}

	recordRequest(span, method, url, endpoint, requestID, resp.StatusCode(), float64(duration.Milliseconds()))
	t.metrics.observe(method, endpoint, resp.StatusCode(), duration)

	log.WithFields(log.Fields{
		"method":     method,
		"endpoint":   endpoint,
		"status":     resp.StatusCode(),
		"duration":   duration.String(),
		"request_id": requestID,
	}).Debug("Commcell API request")

	if resp.IsError() {
		t.metrics.observeError(endpoint, "http")
		sdkErr := &SDKError{
			Op:         op,
			Endpoint:   endpoint,
			HTTPStatus: resp.StatusCode(),
			Message:    bodyPreview(resp.Body()),
		}
		// The server frequently reports the real failure inside the body
		// even on non-2xx replies.
		if code, msg, found := extractVendorError(resp.Body()); found {
			sdkErr.Code = code
			sdkErr.Message = msg
		}
		recordSpanError(span, sdkErr)
		return sdkErr
	}

	if code, msg, found := extractVendorError(resp.Body()); found {
		t.metrics.observeError(endpoint, "vendor")
		sdkErr := &SDKError{
			Op:         op,
			Endpoint:   endpoint,
			HTTPStatus: resp.StatusCode(),
			Code:       code,
			Message:    msg,
		}
		recordSpanError(span, sdkErr)
		return sdkErr
	}

	if target != nil {
		if len(resp.Body()) == 0 {
			sdkErr := &SDKError{Op: op, Endpoint: endpoint, HTTPStatus: resp.StatusCode(),
				Message: "empty response received"}
			recordSpanError(span, sdkErr)
			return sdkErr
		}
		if err := json.Unmarshal(resp.Body(), target); err != nil {
			sdkErr := &SDKError{
				Op:         op,
				Endpoint:   endpoint,
				HTTPStatus: resp.StatusCode(),
				Message: fmt.Sprintf("failed to unmarshal response: %v, preview: %s",
					err, bodyPreview(resp.Body())),
				Err: err,
			}
			recordSpanError(span, sdkErr)
			return sdkErr
		}
	}

	span.SetStatus(codes.Ok, "Request completed successfully")
	return nil
}

// doRaw issues a request and returns the undecoded response body. Used for
// the qcommand surface where request bodies are XML or form-encoded and
// replies may be XML.
func (t *transport) doRaw(ctx context.Context, op, method, endpoint string, body interface{}, contentType, accept string) ([]byte, error) {
	if err := t.acquire(); err != nil {
		return nil, &SDKError{Op: op, Endpoint: endpoint, Message: err.Error()}
	}
	defer t.release()

	ctx, span := t.tracing.StartSpan(ctx, op, trace.SpanKindClient)
	defer span.End()

	req := t.client.R().
		SetContext(ctx).
		SetHeader(headerAccept, accept).
		SetHeader(headerContentType, contentType).
		SetHeader(headerRequestID, uuid.NewString())

	if token := t.authToken(); token != "" {
		req.SetHeader(headerAuthtoken, token)
	}
	if body != nil {
		req.SetBody(body)
	}

	start := time.Now()
	resp, err := req.Execute(method, t.baseURL+endpoint)
	duration := time.Since(start)

	if err != nil {
		t.metrics.observeError(endpoint, "transport")
		sdkErr := &SDKError{Op: op, Endpoint: endpoint, Message: err.Error(), Err: err}
		recordSpanError(span, sdkErr)
		return nil, sdkErr
	}

	t.metrics.observe(method, endpoint, resp.StatusCode(), duration)

	if resp.IsError() {
		t.metrics.observeError(endpoint, "http")
		sdkErr := &SDKError{
			Op:         op,
			Endpoint:   endpoint,
			HTTPStatus: resp.StatusCode(),
			Message:    bodyPreview(resp.Body()),
		}
		recordSpanError(span, sdkErr)
		return nil, sdkErr
	}

	span.SetStatus(codes.Ok, "Request completed successfully")
	return resp.Body(), nil
}

// acquire registers an in-flight request, failing when the transport has
// been closed.
func (t *transport) acquire() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("client is closed")
	}
	atomic.AddInt32(&t.activeReqs, 1)
	return nil
}

// release deregisters an in-flight request and signals Close when the last
// one drains.
func (t *transport) release() {
	if atomic.AddInt32(&t.activeReqs, -1) == 0 {
		t.mu.Lock()
		if t.closed && t.closeChan != nil {
			close(t.closeChan)
			t.closeChan = nil
		}
		t.mu.Unlock()
	}
}

// close waits for active requests to complete, bounded by ctx, then closes
// idle connections.
func (t *transport) close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("client already closed")
	}
	t.closed = true

	activeCount := atomic.LoadInt32(&t.activeReqs)
	if activeCount > 0 {
		t.closeChan = make(chan struct{})
		ch := t.closeChan // Store local reference to avoid race
		t.mu.Unlock()

		select {
		case <-ch:
			log.Debug("All active requests completed during shutdown")
		case <-ctx.Done():
			log.Warnf("Context cancelled while waiting for %d active requests", activeCount)
			return ctx.Err()
		}
	} else {
		t.mu.Unlock()
	}

	if t.client != nil {
		t.client.GetClient().CloseIdleConnections()
		t.client = nil
	}

	return nil
}
