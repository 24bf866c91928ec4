package oauthmodel

import "errors"

var (
	ErrMissingAccessToken  = errors.New("token response missing access_token")
	ErrMissingRefreshToken = errors.New("token response missing refresh_token")
)

// Validate checks the response carries both halves of the credential pair.
func (tr TokenResponse) Validate() error {
	if tr.AccessToken == "" {
		return ErrMissingAccessToken
	}
	if tr.RefreshToken == "" {
		return ErrMissingRefreshToken
	}
	return nil
}
