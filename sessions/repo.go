package sessions

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// SecureStore is the platform's confidential key-value storage (keychain,
// keystore, encrypted file). Get returns ErrNotFound for absent keys and
// Delete of an absent key is not an error.
type SecureStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
