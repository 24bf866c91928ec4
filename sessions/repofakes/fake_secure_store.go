package repofakes

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-client/sessions"
)

var _ sessions.SecureStore = (*FakeSecureStore)(nil)

type FakeSecureStore struct {
	values    map[string]string
	setErr    error
	deleteErr error
	lock      sync.RWMutex
}

func NewFakeSecureStore() *FakeSecureStore {
	return &FakeSecureStore{
		values: make(map[string]string),
	}
}

func (fs *FakeSecureStore) Get(_ context.Context, key string) (string, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	value, ok := fs.values[key]
	if !ok {
		return "", sessions.ErrNotFound
	}
	return value, nil
}

func (fs *FakeSecureStore) Set(_ context.Context, key, value string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if fs.setErr != nil {
		return fs.setErr
	}
	fs.values[key] = value
	return nil
}

func (fs *FakeSecureStore) Delete(_ context.Context, key string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if fs.deleteErr != nil {
		return fs.deleteErr
	}
	delete(fs.values, key)
	return nil
}

// FailWrites makes subsequent Set and Delete calls return err (nil restores them).
func (fs *FakeSecureStore) FailWrites(err error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.setErr = err
	fs.deleteErr = err
}

// Has reports whether key is present.
func (fs *FakeSecureStore) Has(key string) bool {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	_, ok := fs.values[key]
	return ok
}

func (fs *FakeSecureStore) Len() int {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	return len(fs.values)
}
