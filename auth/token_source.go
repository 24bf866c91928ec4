package auth

import (
	"context"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// TokenSource adapts the session for oauth2 consumers. Each Token call reads the
// store, refreshing first when the access token is near expiry.
func (s *SessionService) TokenSource() oauth2.TokenSource {
	return sessionTokenSource{service: s}
}

type sessionTokenSource struct {
	service *SessionService
}

func (ts sessionTokenSource) Token() (*oauth2.Token, error) {
	s := ts.service
	ctx := context.Background()

	creds, err := s.store.Credentials(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[TokenSource.Token]")
	}
	if creds.Access == "" {
		return nil, errors.Wrap(autherrors.ErrNotAuthenticated, "[TokenSource.Token]")
	}
	if s.clock.IsNearExpiry(creds.Access, s.buffer) {
		if s.coordinator.Refresh(ctx) == "" {
			return nil, errors.Wrap(autherrors.ErrNotAuthenticated, "[TokenSource.Token] refresh failed")
		}
		if creds, err = s.store.Credentials(ctx); err != nil {
			return nil, errors.Wrap(err, "[TokenSource.Token]")
		}
	}
	return creds.OAuth2Token(s.clock), nil
}
