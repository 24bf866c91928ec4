package sessions

import (
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/jrsteele09/go-auth-client/token"
	"golang.org/x/oauth2"
)

// CredentialPair is the current access token plus its rotating refresh token.
type CredentialPair struct {
	Access  string
	Refresh string
}

func PairFromResponse(tr oauthmodel.TokenResponse) CredentialPair {
	return CredentialPair{Access: tr.AccessToken, Refresh: tr.RefreshToken}
}

// OAuth2Token converts the pair for oauth2.TokenSource consumers. Expiry comes from
// the access token's exp claim and is zero when it cannot be read.
func (p CredentialPair) OAuth2Token(clock *token.Clock) *oauth2.Token {
	t := &oauth2.Token{
		AccessToken:  p.Access,
		RefreshToken: p.Refresh,
		TokenType:    "Bearer",
	}
	if exp, ok := clock.ExpiresAt(p.Access); ok {
		t.Expiry = exp
	}
	return t
}

// Profile is the cached identity shown in the UI. It is never used for
// authorization decisions.
type Profile struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

func ProfileFromUser(u *oauthmodel.User) *Profile {
	if u == nil {
		return nil
	}
	return &Profile{ID: u.ID, FullName: u.FullName, Email: u.Email}
}
