package oauthmodel

// TokenResponse is returned by POST /auth/login and POST /auth/refresh.
type TokenResponse struct {
	// AccessToken is the JWT used to access protected resources.
	// Example: "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."
	// Usage: Include in Authorization header: "Bearer <access_token>"
	// Lifespan: Short-lived; the exp claim is authoritative
	AccessToken string `json:"access_token"`

	// RefreshToken is an opaque token used to obtain a new pair.
	// Example: "tGzv3JOkF0XG5Qx2TlKWIA"
	// Security: Stored in the secure store only, rotates on each use
	RefreshToken string `json:"refresh_token"`

	// TokenType is "bearer". Only present on login responses.
	TokenType string `json:"token_type,omitempty"`
}

// MessageResponse is returned by POST /auth/logout.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// Status is "ok" (or "healthy") when the backend is serving.
	Status string `json:"status"`
}

// ErrorResponse is the body of non-2xx responses.
type ErrorResponse struct {
	// Detail is a human-readable reason suitable for display.
	// Example: "Incorrect email or password"
	Detail string `json:"detail"`
}
