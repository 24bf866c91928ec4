// Package transport attaches the session's bearer credential to outgoing requests
// and recovers from 401 responses by refreshing and retrying once.
package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/token/refresh"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// AllowList are the endpoints that never carry, or recover, a bearer credential.
var AllowList = []string{"/auth/login", "/auth/register", "/auth/refresh", "/health"}

const (
	// maxReplayBody is the largest request body buffered so it can be resent after a refresh.
	maxReplayBody = 1 << 20
	// max401Body bounds how much of a 401 body is kept while the refresh runs.
	max401Body = 64 << 10
)

type retriedKey struct{}

// Transport is an http.RoundTripper owning the session's request pipeline.
type Transport struct {
	base          http.RoundTripper
	store         *sessions.Store
	refresher     refresh.AccessRefresher
	clock         *token.Clock
	buffer        time.Duration
	apiHost       string
	basePath      string
	onInvalidated func()
	metrics       *metrics.Metrics

	invalidateLock sync.Mutex
}

type Option func(*Transport)

// WithBaseURL scopes the transport to the API at baseURL: the allow-list is
// matched after its path, and requests to other hosts pass through untouched.
func WithBaseURL(baseURL string) Option {
	return func(t *Transport) {
		u, err := url.Parse(baseURL)
		if err != nil {
			log.Warn().Err(err).Str("component", "transport").Str("base_url", baseURL).Msg("ignoring unparsable base URL")
			return
		}
		t.apiHost = u.Host
		t.basePath = strings.TrimRight(u.Path, "/")
	}
}

func WithBuffer(buffer time.Duration) Option {
	return func(t *Transport) {
		t.buffer = buffer
	}
}

func WithClock(clock *token.Clock) Option {
	return func(t *Transport) {
		t.clock = clock
	}
}

// WithInvalidationHandler registers fn to run after a failed refresh has cleared the session.
func WithInvalidationHandler(fn func()) Option {
	return func(t *Transport) {
		t.onInvalidated = fn
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transport) {
		t.metrics = m
	}
}

func New(base http.RoundTripper, store *sessions.Store, refresher refresh.AccessRefresher, options ...Option) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &Transport{
		base:      base,
		store:     store,
		refresher: refresher,
		buffer:    config.DefaultRefreshBuffer,
	}
	for _, opt := range options {
		opt(t)
	}
	if t.clock == nil {
		t.clock = token.NewClock()
	}
	if t.metrics == nil {
		t.metrics = metrics.New(nil)
	}
	return t
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.intercepts(req) {
		return t.base.RoundTrip(req)
	}
	ctx := req.Context()
	logger := log.With().Str("component", "transport").Str("method", req.Method).Str("path", req.URL.Path).Logger()

	generation := t.store.Generation()
	stored, err := t.store.AccessToken(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("reading access token, sending without credential")
	}
	access := stored
	refreshFailed := false
	if access != "" && t.clock.IsNearExpiry(access, t.buffer) {
		logger.Debug().Msg("access token near expiry, refreshing before send")
		access = t.refresher.Refresh(ctx)
		refreshFailed = access == ""
	}

	outbound := req.Clone(ctx)
	replay, err := replayable(outbound)
	if err != nil {
		return nil, err
	}
	setBearer(outbound, access)

	resp, err := t.base.RoundTrip(outbound)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || isRetry(ctx) {
		return resp, err
	}
	if stored == "" {
		// anonymous call, there is no session to recover
		return resp, nil
	}
	return t.recover(attempt{req: outbound, access: access, generation: generation, replay: replay, refreshFailed: refreshFailed}, resp, logger)
}

// attempt is an intercepted request as it was first sent.
type attempt struct {
	req        *http.Request
	access     string
	generation uint64
	replay     func() (io.ReadCloser, error)

	// refreshFailed is set when the refresh before sending already came back empty.
	refreshFailed bool
}

// recover handles a 401 on an intercepted request that has not been retried yet.
func (t *Transport) recover(sent attempt, unauthorized *http.Response, logger zerolog.Logger) (*http.Response, error) {
	ctx := sent.req.Context()
	buffer401(unauthorized)

	access := t.rotatedSince(ctx, sent.access)
	if access == "" && !sent.refreshFailed {
		access = t.refresher.Refresh(ctx)
	}
	if access == "" {
		if ctx.Err() != nil {
			// The caller gave up waiting; the refresh outcome is unknown to us.
			return unauthorized, nil
		}
		t.invalidate(ctx, sent.generation, logger)
		return unauthorized, nil
	}

	hasBody := sent.req.Body != nil && sent.req.Body != http.NoBody
	if hasBody && sent.replay == nil {
		logger.Warn().Msg("request body cannot be replayed, returning original 401")
		t.metrics.Retries.WithLabelValues("not_replayable").Inc()
		return unauthorized, nil
	}

	retry := sent.req.Clone(context.WithValue(ctx, retriedKey{}, true))
	if hasBody {
		body, err := sent.replay()
		if err != nil {
			logger.Warn().Err(err).Msg("replaying request body, returning original 401")
			t.metrics.Retries.WithLabelValues("not_replayable").Inc()
			return unauthorized, nil
		}
		retry.Body = body
	}
	setBearer(retry, access)

	resp, err := t.base.RoundTrip(retry)
	if err != nil {
		t.metrics.Retries.WithLabelValues("error").Inc()
		return nil, err
	}
	unauthorized.Body.Close()
	t.metrics.Retries.WithLabelValues(statusClass(resp.StatusCode)).Inc()
	return resp, nil
}

// rotatedSince returns the stored access token when another request already
// refreshed past sent, so a 401 that raced a rotation does not rotate again.
func (t *Transport) rotatedSince(ctx context.Context, sent string) string {
	current, err := t.store.AccessToken(ctx)
	if err != nil || current == "" || current == sent || t.clock.IsNearExpiry(current, t.buffer) {
		return ""
	}
	return current
}

// invalidate clears the session and notifies the handler, once per generation:
// concurrent failures from the same session, or a session already cleared by
// sign-out, do not notify again.
func (t *Transport) invalidate(ctx context.Context, generation uint64, logger zerolog.Logger) {
	t.invalidateLock.Lock()
	defer t.invalidateLock.Unlock()
	if t.store.Generation() != generation {
		return
	}
	if err := t.store.Clear(ctx); err != nil {
		logger.Error().Err(err).Msg("clearing session after failed refresh")
	}
	t.metrics.Invalidations.Inc()
	logger.Info().Msg("refresh failed after 401, session invalidated")
	if t.onInvalidated != nil {
		t.onInvalidated()
	}
}

func (t *Transport) intercepts(req *http.Request) bool {
	if t.apiHost != "" && req.URL.Host != t.apiHost {
		return false
	}
	path := strings.TrimPrefix(req.URL.Path, t.basePath)
	for _, allowed := range AllowList {
		if path == allowed {
			return false
		}
	}
	return true
}

func isRetry(ctx context.Context) bool {
	retried, _ := ctx.Value(retriedKey{}).(bool)
	return retried
}

// setBearer sets the bearer header on r, which must be a clone owned by the transport.
func setBearer(r *http.Request, access string) {
	if access != "" {
		(&oauth2.Token{AccessToken: access, TokenType: "Bearer"}).SetAuthHeader(r)
	}
}

// replayable returns a function producing fresh copies of req's body, or nil
// when the body is absent or too large to buffer. req must be a clone: a
// buffered body is swapped into it so the first send still reads it.
func replayable(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		return req.GetBody, nil
	}

	head, err := io.ReadAll(io.LimitReader(req.Body, maxReplayBody+1))
	if err != nil {
		req.Body.Close()
		return nil, err
	}
	if len(head) > maxReplayBody {
		req.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(head), req.Body), Closer: req.Body}
		return nil, nil
	}
	req.Body.Close()

	replay := func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(head)), nil
	}
	req.Body, _ = replay()
	req.GetBody = replay
	return replay, nil
}

func buffer401(resp *http.Response) {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, max401Body))
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(raw))
}

func statusClass(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "unauthorized"
	case status >= 200 && status < 300:
		return "success"
	default:
		return "other"
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}
