package sessions_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/internal/testutil"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/sessions/repofakes"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*sessions.Store, *repofakes.FakeSecureStore) {
	t.Helper()
	fake := repofakes.NewFakeSecureStore()
	return sessions.NewStore(fake), fake
}

func TestStore_EmptyReadsAsAbsent(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	access, err := store.AccessToken(ctx)
	require.NoError(t, err)
	require.Empty(t, access)

	profile, err := store.Profile(ctx)
	require.NoError(t, err)
	require.Nil(t, profile)
}

func TestStore_SaveAndClear(t *testing.T) {
	store, fake := setupStore(t)
	ctx := context.Background()

	pair := sessions.CredentialPair{Access: "access-1", Refresh: "refresh-1"}
	require.NoError(t, store.SaveCredentials(ctx, pair))
	require.NoError(t, store.SaveProfile(ctx, &sessions.Profile{ID: "u1", FullName: "Ada", Email: "a@b.com"}))

	got, err := store.Credentials(ctx)
	require.NoError(t, err)
	require.Equal(t, pair, got)

	profile, err := store.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, "Ada", profile.FullName)

	before := store.Generation()
	require.NoError(t, store.Clear(ctx))
	require.Equal(t, before+1, store.Generation())
	require.Equal(t, 0, fake.Len())
}

func TestStore_EmptyValueDeletes(t *testing.T) {
	store, fake := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCredentials(ctx, sessions.CredentialPair{Access: "a", Refresh: "r"}))
	require.NoError(t, store.SaveCredentials(ctx, sessions.CredentialPair{Access: "a2"}))

	require.True(t, fake.Has(sessions.AccessTokenKey))
	require.False(t, fake.Has(sessions.RefreshTokenKey))

	require.NoError(t, store.SaveProfile(ctx, nil))
	require.False(t, fake.Has(sessions.ProfileKey))
}

func TestStore_SaveRefreshedDiscardsAfterClear(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveCredentials(ctx, sessions.CredentialPair{Access: "a1", Refresh: "r1"}))

	generation := store.Generation()
	require.NoError(t, store.Clear(ctx))

	applied, err := store.SaveRefreshed(ctx, generation, sessions.CredentialPair{Access: "a2", Refresh: "r2"})
	require.NoError(t, err)
	require.False(t, applied)

	got, err := store.Credentials(ctx)
	require.NoError(t, err)
	require.Equal(t, sessions.CredentialPair{}, got)
}

func TestStore_SaveRefreshedAppliesInSameGeneration(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	applied, err := store.SaveRefreshed(ctx, store.Generation(), sessions.CredentialPair{Access: "a2", Refresh: "r2"})
	require.NoError(t, err)
	require.True(t, applied)

	refresh, err := store.RefreshToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "r2", refresh)
}

func TestStore_ClearAttemptsEveryKey(t *testing.T) {
	store, fake := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveCredentials(ctx, sessions.CredentialPair{Access: "a", Refresh: "r"}))

	fake.FailWrites(errors.New("keychain locked"))
	err := store.Clear(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "keychain locked")
}

func TestStore_UndecodableProfileIsAbsent(t *testing.T) {
	store, fake := setupStore(t)
	ctx := context.Background()
	require.NoError(t, fake.Set(ctx, sessions.ProfileKey, "{not json"))

	profile, err := store.Profile(ctx)
	require.NoError(t, err)
	require.Nil(t, profile)
}

func TestCredentialPair_OAuth2Token(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := token.NewClock(token.WithNowFunc(func() time.Time { return now }))
	exp := now.Add(10 * time.Minute)

	pair := sessions.CredentialPair{Access: testutil.MintAccessToken("u1", exp), Refresh: "r1"}
	tok := pair.OAuth2Token(clock)

	require.Equal(t, pair.Access, tok.AccessToken)
	require.Equal(t, "r1", tok.RefreshToken)
	require.Equal(t, exp.Unix(), tok.Expiry.Unix())
	require.Equal(t, "Bearer", tok.Type())
}

func TestStore_SignInSupersedesInFlightRefresh(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveCredentials(ctx, sessions.CredentialPair{Access: "a1", Refresh: "r1"}))

	generation := store.Generation()
	require.NoError(t, store.SaveCredentials(ctx, sessions.CredentialPair{Access: "b1", Refresh: "s1"}))

	applied, err := store.SaveRefreshed(ctx, generation, sessions.CredentialPair{Access: "a2", Refresh: "r2"})
	require.NoError(t, err)
	require.False(t, applied)

	got, err := store.Credentials(ctx)
	require.NoError(t, err)
	require.Equal(t, sessions.CredentialPair{Access: "b1", Refresh: "s1"}, got)
}
