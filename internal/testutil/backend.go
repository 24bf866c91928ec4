package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
)

// ProtectedPath is a non-allow-listed endpoint served by FakeBackend. It answers
// 200 {"ok":true,"body":...} for a live access token and 401 otherwise.
const ProtectedPath = "/conversations"

type RecordedRequest struct {
	Method        string
	Path          string
	Authorization string
	Body          string
}

type fakeUser struct {
	user     oauthmodel.User
	password string
}

// FakeBackend is an in-memory auth backend served over httptest. Access tokens are
// real JWTs so the client's expiry logic runs against them unchanged.
type FakeBackend struct {
	Server *httptest.Server

	// AccessTTL is the lifetime of issued access tokens (default 15m).
	AccessTTL time.Duration
	// RefreshGate, when set, blocks every refresh until it is closed or receives.
	RefreshGate chan struct{}

	failRefresh        atomic.Bool
	failMe             atomic.Bool
	alwaysUnauthorized atomic.Bool
	logoutStatus       atomic.Int32
	refreshCalls       atomic.Int32

	mu            sync.Mutex
	users         map[string]*fakeUser // email -> user
	accessTokens  map[string]string    // live access token -> email
	refreshTokens map[string]string    // live refresh token -> email
	refreshSeen   []string
	requests      []RecordedRequest
}

func NewFakeBackend() *FakeBackend {
	fb := &FakeBackend{
		AccessTTL:     15 * time.Minute,
		users:         make(map[string]*fakeUser),
		accessTokens:  make(map[string]string),
		refreshTokens: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", fb.handleLogin)
	mux.HandleFunc("POST /auth/register", fb.handleRegister)
	mux.HandleFunc("POST /auth/refresh", fb.handleRefresh)
	mux.HandleFunc("POST /auth/logout", fb.handleLogout)
	mux.HandleFunc("GET /users/me", fb.handleMe)
	mux.HandleFunc("GET /health", fb.handleHealth)
	mux.HandleFunc(ProtectedPath, fb.handleProtected)

	fb.Server = httptest.NewServer(fb.record(mux))
	return fb
}

func (fb *FakeBackend) URL() string {
	return fb.Server.URL
}

func (fb *FakeBackend) Close() {
	fb.Server.Close()
}

// AddUser registers an account directly and returns its id.
func (fb *FakeBackend) AddUser(fullName, email, password string) string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	id := uuid.New().String()
	fb.users[email] = &fakeUser{
		user:     oauthmodel.User{ID: id, FullName: fullName, Email: email, IsActive: true, CreatedAt: time.Now().UTC()},
		password: password,
	}
	return id
}

// IssuePair mints a live credential pair for email as a login would.
func (fb *FakeBackend) IssuePair(email string) oauthmodel.TokenResponse {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.issueLocked(email)
}

// ExpireAccessTokens makes every issued access token answer 401 server-side.
func (fb *FakeBackend) ExpireAccessTokens() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.accessTokens = make(map[string]string)
}

func (fb *FakeBackend) SetFailRefresh(fail bool)        { fb.failRefresh.Store(fail) }
func (fb *FakeBackend) SetFailMe(fail bool)             { fb.failMe.Store(fail) }
func (fb *FakeBackend) SetAlwaysUnauthorized(fail bool) { fb.alwaysUnauthorized.Store(fail) }
func (fb *FakeBackend) SetLogoutStatus(status int)      { fb.logoutStatus.Store(int32(status)) }
func (fb *FakeBackend) RefreshCalls() int               { return int(fb.refreshCalls.Load()) }

// RefreshTokensSeen lists, in order, every refresh_token sent to /auth/refresh.
func (fb *FakeBackend) RefreshTokensSeen() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.refreshSeen...)
}

func (fb *FakeBackend) IsRefreshTokenLive(refreshToken string) bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	_, ok := fb.refreshTokens[refreshToken]
	return ok
}

func (fb *FakeBackend) Requests() []RecordedRequest {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]RecordedRequest(nil), fb.requests...)
}

func (fb *FakeBackend) RequestsTo(path string) []RecordedRequest {
	var matched []RecordedRequest
	for _, r := range fb.Requests() {
		if r.Path == path {
			matched = append(matched, r)
		}
	}
	return matched
}

func (fb *FakeBackend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		fb.mu.Lock()
		fb.requests = append(fb.requests, RecordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			Body:          string(body),
		})
		fb.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (fb *FakeBackend) issueLocked(email string) oauthmodel.TokenResponse {
	access := MintAccessToken(email, time.Now().Add(fb.AccessTTL))
	refresh := NewRefreshToken()
	fb.accessTokens[access] = email
	fb.refreshTokens[refresh] = email
	return oauthmodel.TokenResponse{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}
}

func (fb *FakeBackend) bearerUser(r *http.Request) (*fakeUser, bool) {
	if fb.alwaysUnauthorized.Load() {
		return nil, false
	}
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return nil, false
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	email, ok := fb.accessTokens[raw]
	if !ok {
		return nil, false
	}
	u, ok := fb.users[email]
	return u, ok
}

func (fb *FakeBackend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req oauthmodel.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid body")
		return
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	u, ok := fb.users[req.Email]
	if !ok || u.password != req.Password {
		writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	writeJSON(w, http.StatusOK, fb.issueLocked(req.Email))
}

func (fb *FakeBackend) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req oauthmodel.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid body")
		return
	}
	if len(req.Password) < 6 {
		writeDetail(w, http.StatusUnprocessableEntity, "Password must be at least 6 characters")
		return
	}
	fb.mu.Lock()
	if _, exists := fb.users[req.Email]; exists {
		fb.mu.Unlock()
		writeDetail(w, http.StatusConflict, "Email already registered")
		return
	}
	fb.mu.Unlock()

	fb.AddUser(req.FullName, req.Email, req.Password)
	fb.mu.Lock()
	u := fb.users[req.Email].user
	fb.mu.Unlock()
	writeJSON(w, http.StatusCreated, u)
}

func (fb *FakeBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	fb.refreshCalls.Add(1)
	if fb.RefreshGate != nil {
		<-fb.RefreshGate
	}

	var req oauthmodel.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid body")
		return
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.refreshSeen = append(fb.refreshSeen, req.RefreshToken)

	email, ok := fb.refreshTokens[req.RefreshToken]
	if !ok || fb.failRefresh.Load() {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	delete(fb.refreshTokens, req.RefreshToken)
	pair := fb.issueLocked(email)
	pair.TokenType = ""
	writeJSON(w, http.StatusOK, pair)
}

func (fb *FakeBackend) handleLogout(w http.ResponseWriter, r *http.Request) {
	if status := fb.logoutStatus.Load(); status != 0 {
		writeDetail(w, int(status), "Logout unavailable")
		return
	}
	var req oauthmodel.LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid body")
		return
	}
	fb.mu.Lock()
	delete(fb.refreshTokens, req.RefreshToken)
	fb.mu.Unlock()
	writeJSON(w, http.StatusOK, oauthmodel.MessageResponse{Message: "Logged out"})
}

func (fb *FakeBackend) handleMe(w http.ResponseWriter, r *http.Request) {
	if fb.failMe.Load() {
		writeDetail(w, http.StatusInternalServerError, "Profile unavailable")
		return
	}
	u, ok := fb.bearerUser(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	writeJSON(w, http.StatusOK, u.user)
}

func (fb *FakeBackend) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, oauthmodel.HealthResponse{Status: "ok"})
}

func (fb *FakeBackend) handleProtected(w http.ResponseWriter, r *http.Request) {
	if _, ok := fb.bearerUser(r); !ok {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	body, _ := io.ReadAll(r.Body)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "body": string(body)})
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, oauthmodel.ErrorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
