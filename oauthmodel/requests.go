package oauthmodel

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	// Email identifies the account.
	// Example: "a@b.com"
	Email string `json:"email"`

	// Password is the plaintext password, sent over TLS only.
	// Security: Never log or persist this value
	Password string `json:"password"`
}

// RegisterRequest is the body of POST /auth/register.
// The same email/password pair is used to sign in once registration succeeds.
type RegisterRequest struct {
	// FullName is the display name shown in the app.
	// Example: "Ada Lovelace"
	FullName string `json:"full_name"`

	// Email must be unique; a duplicate is rejected with 409.
	Email string `json:"email"`

	// Password is validated server-side (length, strength).
	// Security: Never log or persist this value
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	// RefreshToken is the current opaque refresh credential.
	// Behavior: Rotated - the server invalidates it once a new pair is issued
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest is the body of POST /auth/logout.
type LogoutRequest struct {
	// RefreshToken is revoked server-side.
	RefreshToken string `json:"refresh_token"`
}
