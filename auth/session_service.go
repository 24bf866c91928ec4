// Package auth is the app-facing session facade: sign-in, sign-up, sign-out and
// an observable session state, wired to the refresh machinery and the
// intercepted HTTP client the rest of the app uses.
package auth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/backend"
	"github.com/jrsteele09/go-auth-client/internal/config"
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/token/refresh"
	"github.com/jrsteele09/go-auth-client/transport"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// State is the observable session. The refresh credential is never exposed.
type State struct {
	AccessToken string
	Profile     *sessions.Profile
	// Loading is true until persisted state has been read by Load.
	Loading bool
}

func (s State) Authenticated() bool {
	return s.AccessToken != ""
}

// SessionService owns one session: its persisted credentials, the refresh
// coordinator and scheduler, and the intercepted HTTP client.
type SessionService struct {
	store       *sessions.Store
	clock       *token.Clock
	validator   *Validator
	api         *backend.Client
	coordinator *refresh.Coordinator
	scheduler   *refresh.Scheduler
	httpClient  *http.Client
	buffer      time.Duration

	// revocation calls are sent outside the interceptor
	baseURL       string
	baseTransport http.RoundTripper
	httpTimeout   time.Duration

	stateLock             sync.RWMutex
	state                 State
	subscribers           map[int]func(State)
	invalidationListeners map[int]func()
	nextListenerID        int

	stopRefreshed func()
}

type options struct {
	baseTransport http.RoundTripper
	clock         *token.Clock
	timerFunc     refresh.TimerFunc
	registerer    prometheus.Registerer
}

type Option func(*options)

// WithBaseTransport sets the RoundTripper underneath the interceptor (default http.DefaultTransport).
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.baseTransport = rt
	}
}

func WithClock(clock *token.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithTimerFunc replaces the proactive refresh timer, primarily for tests.
func WithTimerFunc(fn refresh.TimerFunc) Option {
	return func(o *options) {
		o.timerFunc = fn
	}
}

// WithMetricsRegisterer exposes the session counters on reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

func New(cfg config.Config, secure sessions.SecureStore, opts ...Option) *SessionService {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.baseTransport == nil {
		o.baseTransport = http.DefaultTransport
	}
	if o.clock == nil {
		o.clock = token.NewClock()
	}

	m := metrics.New(o.registerer)
	store := sessions.NewStore(secure)
	baseURL := cfg.GetAPIBaseURL()

	// Refresh calls bypass the interceptor so a refresh can never recurse into one.
	raw := &http.Client{Transport: o.baseTransport, Timeout: cfg.GetHTTPTimeout()}
	coordinator := refresh.NewCoordinator(store, backend.New(baseURL, raw), refresh.WithCoordinatorMetrics(m))

	schedulerOpts := []refresh.SchedulerOption{
		refresh.WithClock(o.clock),
		refresh.WithBuffer(cfg.GetRefreshBuffer()),
		refresh.WithMinDelay(cfg.GetMinRefreshDelay()),
		refresh.WithSchedulerMetrics(m),
	}
	if o.timerFunc != nil {
		schedulerOpts = append(schedulerOpts, refresh.WithTimerFunc(o.timerFunc))
	}

	s := &SessionService{
		store:                 store,
		clock:                 o.clock,
		validator:             NewValidator(),
		coordinator:           coordinator,
		scheduler:             refresh.NewScheduler(coordinator, store, schedulerOpts...),
		buffer:                cfg.GetRefreshBuffer(),
		baseURL:               baseURL,
		baseTransport:         o.baseTransport,
		httpTimeout:           cfg.GetHTTPTimeout(),
		state:                 State{Loading: true},
		subscribers:           make(map[int]func(State)),
		invalidationListeners: make(map[int]func()),
	}

	tr := transport.New(o.baseTransport, store, coordinator,
		transport.WithBaseURL(baseURL),
		transport.WithBuffer(cfg.GetRefreshBuffer()),
		transport.WithClock(o.clock),
		transport.WithMetrics(m),
		transport.WithInvalidationHandler(s.invalidated),
	)
	s.httpClient = &http.Client{Transport: tr, Timeout: cfg.GetHTTPTimeout()}
	s.api = backend.New(baseURL, s.httpClient)
	s.stopRefreshed = coordinator.OnRefreshed(s.refreshed)
	return s
}

// Load reads the persisted session once and arms the proactive refresh for a
// live access token.
func (s *SessionService) Load(ctx context.Context) error {
	creds, err := s.store.Credentials(ctx)
	if err != nil {
		s.setState(State{})
		return errors.Wrap(err, "[SessionService.Load]")
	}
	profile, err := s.store.Profile(ctx)
	if err != nil {
		log.Warn().Err(err).Str("component", "session_service").Msg("reading cached profile")
	}

	s.setState(State{AccessToken: creds.Access, Profile: profile})
	if creds.Access != "" {
		s.scheduler.Arm(creds.Access)
	}
	return nil
}

// SignIn exchanges email and password for a credential pair. The profile fetch
// that follows is best effort; its failure does not fail the sign-in.
func (s *SessionService) SignIn(ctx context.Context, email, password string) (sessions.CredentialPair, error) {
	if err := s.validator.ValidateCredentials(email, password); err != nil {
		return sessions.CredentialPair{}, errors.Wrap(err, "[SessionService.SignIn]")
	}

	tr, err := s.api.Login(ctx, email, password)
	if err != nil {
		return sessions.CredentialPair{}, errors.Wrap(err, "[SessionService.SignIn]")
	}
	pair := sessions.PairFromResponse(tr)
	if err := s.store.SaveCredentials(ctx, pair); err != nil {
		return sessions.CredentialPair{}, errors.Wrap(err, "[SessionService.SignIn] SaveCredentials")
	}

	// The profile call goes through the interceptor and may rotate a pair that
	// was issued inside the refresh buffer, so the stored pair wins from here.
	profile := s.fetchProfile(ctx)
	current, err := s.store.Credentials(ctx)
	if err != nil {
		return sessions.CredentialPair{}, errors.Wrap(err, "[SessionService.SignIn] Credentials")
	}
	if current.Access == "" {
		return sessions.CredentialPair{}, errors.Wrap(autherrors.ErrNotAuthenticated, "[SessionService.SignIn] session invalidated while fetching profile")
	}

	s.setState(State{AccessToken: current.Access, Profile: profile})
	s.scheduler.Arm(current.Access)
	log.Info().Str("component", "session_service").Msg("signed in")
	return current, nil
}

// SignUp registers the account and then signs in with the same credentials.
func (s *SessionService) SignUp(ctx context.Context, req oauthmodel.RegisterRequest) (sessions.CredentialPair, error) {
	if err := s.validator.ValidateRegistration(req); err != nil {
		return sessions.CredentialPair{}, errors.Wrap(err, "[SessionService.SignUp]")
	}
	if _, err := s.api.Register(ctx, req); err != nil {
		return sessions.CredentialPair{}, errors.Wrap(err, "[SessionService.SignUp]")
	}
	pair, err := s.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		return sessions.CredentialPair{}, errors.Wrap(err, "[SessionService.SignUp]")
	}
	return pair, nil
}

// SignOut revokes the refresh token server-side when it can and always clears
// the local session. Only a local storage failure is returned.
func (s *SessionService) SignOut(ctx context.Context) error {
	logger := log.With().Str("component", "session_service").Logger()
	s.scheduler.Cancel()

	creds, err := s.store.Credentials(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("reading credentials for logout")
	}
	if creds.Refresh != "" {
		if err := s.revocationClient(creds).Logout(ctx, creds.Refresh); err != nil {
			logger.Warn().Err(err).Msg("server logout failed, clearing locally")
		}
	}

	err = s.store.Clear(ctx)
	// a refresh already in flight when sign-out started may have re-armed
	s.scheduler.Cancel()
	s.setState(State{})
	logger.Info().Msg("signed out")
	return errors.Wrap(err, "[SessionService.SignOut]")
}

// Refresh forces a refresh, joining one already in flight. Both failures match
// ErrNotAuthenticated; ErrNoRefreshToken means there was nothing to renew.
func (s *SessionService) Refresh(ctx context.Context) (string, error) {
	access := s.coordinator.Refresh(ctx)
	if access != "" {
		return access, nil
	}
	if refreshToken, err := s.store.RefreshToken(ctx); err == nil && refreshToken == "" {
		return "", errors.Wrap(autherrors.ErrNoRefreshToken, "[SessionService.Refresh]")
	}
	return "", errors.Wrap(autherrors.ErrNotAuthenticated, "[SessionService.Refresh]")
}

// Me fetches the current user through the intercepted client and caches the profile.
func (s *SessionService) Me(ctx context.Context) (*sessions.Profile, error) {
	u, err := s.api.Me(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[SessionService.Me]")
	}
	profile := sessions.ProfileFromUser(u)
	if err := s.store.SaveProfile(ctx, profile); err != nil {
		log.Warn().Err(err).Str("component", "session_service").Msg("caching profile")
	}
	s.updateState(func(st *State) { st.Profile = profile })
	return profile, nil
}

// Health checks the backend is reachable.
func (s *SessionService) Health(ctx context.Context) (oauthmodel.HealthResponse, error) {
	h, err := s.api.Health(ctx)
	return h, errors.Wrap(err, "[SessionService.Health]")
}

func (s *SessionService) State() State {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()
	return s.state
}

// Subscribe calls fn with every new State until unsubscribed.
func (s *SessionService) Subscribe(fn func(State)) (unsubscribe func()) {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	id := s.nextListenerID
	s.nextListenerID++
	s.subscribers[id] = fn
	return func() {
		s.stateLock.Lock()
		defer s.stateLock.Unlock()
		delete(s.subscribers, id)
	}
}

// OnInvalidated calls fn whenever the session is cleared because it could not
// be refreshed. It is not called for SignOut.
func (s *SessionService) OnInvalidated(fn func()) (unsubscribe func()) {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	id := s.nextListenerID
	s.nextListenerID++
	s.invalidationListeners[id] = fn
	return func() {
		s.stateLock.Lock()
		defer s.stateLock.Unlock()
		delete(s.invalidationListeners, id)
	}
}

// HTTPClient is the intercepted client for calls to the backend.
func (s *SessionService) HTTPClient() *http.Client {
	return s.httpClient
}

// Close cancels the proactive refresh and detaches from the coordinator.
func (s *SessionService) Close() {
	s.scheduler.Cancel()
	s.stopRefreshed()
}

// revocationClient sends the stored access token as it is. Going through the
// interceptor could rotate the pair mid sign-out and revoke a superseded token.
func (s *SessionService) revocationClient(creds sessions.CredentialPair) *backend.Client {
	rt := s.baseTransport
	if creds.Access != "" {
		rt = &oauth2.Transport{Source: oauth2.StaticTokenSource(creds.OAuth2Token(s.clock)), Base: s.baseTransport}
	}
	return backend.New(s.baseURL, &http.Client{Transport: rt, Timeout: s.httpTimeout})
}

func (s *SessionService) fetchProfile(ctx context.Context) *sessions.Profile {
	logger := log.With().Str("component", "session_service").Logger()
	u, err := s.api.Me(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("fetching profile after sign-in")
		if err := s.store.SaveProfile(ctx, nil); err != nil {
			logger.Warn().Err(err).Msg("clearing stale profile")
		}
		return nil
	}
	profile := sessions.ProfileFromUser(u)
	if err := s.store.SaveProfile(ctx, profile); err != nil {
		logger.Warn().Err(err).Msg("caching profile")
	}
	return profile
}

// refreshed runs inside the coordinator for every rotated pair.
func (s *SessionService) refreshed(access string) {
	s.updateState(func(st *State) { st.AccessToken = access })
	s.scheduler.Arm(access)
}

// invalidated runs after the transport has cleared the store.
func (s *SessionService) invalidated() {
	s.scheduler.Cancel()
	s.setState(State{})

	s.stateLock.RLock()
	listeners := make([]func(), 0, len(s.invalidationListeners))
	for _, fn := range s.invalidationListeners {
		listeners = append(listeners, fn)
	}
	s.stateLock.RUnlock()

	for _, fn := range listeners {
		fn()
	}
}

func (s *SessionService) setState(st State) {
	s.updateState(func(current *State) { *current = st })
}

func (s *SessionService) updateState(mutate func(*State)) {
	s.stateLock.Lock()
	mutate(&s.state)
	snapshot := s.state
	subscribers := make([]func(State), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subscribers = append(subscribers, fn)
	}
	s.stateLock.Unlock()

	for _, fn := range subscribers {
		fn(snapshot)
	}
}
