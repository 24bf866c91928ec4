// Package securestore provides an encrypted, file-backed sessions.SecureStore for
// platforms without a native keychain (desktop builds, the CLI, integration rigs).
//
// File layout: magic (4 bytes) | argon2id salt (16) | XChaCha20-Poly1305 nonce (24) | sealed JSON object.
package securestore

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	saltLength = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var magic = []byte("CSS1")

var (
	ErrEmptyPassphrase = errors.New("securestore: empty passphrase")
	ErrCorrupt         = errors.New("securestore: file is corrupt or passphrase is wrong")
)

var _ sessions.SecureStore = (*FileStore)(nil)

// FileStore keeps all values in one encrypted file, rewritten atomically on every change.
type FileStore struct {
	path   string
	salt   []byte
	aead   cipher.AEAD
	values map[string]string
	lock   sync.RWMutex
}

// OpenFileStore opens (or prepares to create) the store at path. An existing file
// must decrypt with passphrase.
func OpenFileStore(path, passphrase string) (*FileStore, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}

	fs := &FileStore{path: path, values: make(map[string]string)}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		fs.salt = make([]byte, saltLength)
		if _, err := rand.Read(fs.salt); err != nil {
			return nil, errors.Wrap(err, "[OpenFileStore] rand.Read")
		}
		if fs.aead, err = newAEAD(passphrase, fs.salt); err != nil {
			return nil, err
		}
		return fs, nil
	case err != nil:
		return nil, errors.Wrap(err, "[OpenFileStore] os.ReadFile")
	}

	headerLength := len(magic) + saltLength + chacha20poly1305.NonceSizeX
	if len(raw) < headerLength || !bytes.Equal(raw[:len(magic)], magic) {
		return nil, ErrCorrupt
	}
	fs.salt = append([]byte(nil), raw[len(magic):len(magic)+saltLength]...)
	if fs.aead, err = newAEAD(passphrase, fs.salt); err != nil {
		return nil, err
	}

	nonce := raw[len(magic)+saltLength : headerLength]
	plaintext, err := fs.aead.Open(nil, nonce, raw[headerLength:], magic)
	if err != nil {
		return nil, ErrCorrupt
	}
	if err := json.Unmarshal(plaintext, &fs.values); err != nil {
		return nil, ErrCorrupt
	}
	return fs, nil
}

func (fs *FileStore) Get(_ context.Context, key string) (string, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	value, ok := fs.values[key]
	if !ok {
		return "", sessions.ErrNotFound
	}
	return value, nil
}

func (fs *FileStore) Set(_ context.Context, key, value string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	previous, existed := fs.values[key]
	fs.values[key] = value
	if err := fs.persistLocked(); err != nil {
		if existed {
			fs.values[key] = previous
		} else {
			delete(fs.values, key)
		}
		return err
	}
	return nil
}

func (fs *FileStore) Delete(_ context.Context, key string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	previous, existed := fs.values[key]
	if !existed {
		return nil
	}
	delete(fs.values, key)
	if err := fs.persistLocked(); err != nil {
		fs.values[key] = previous
		return err
	}
	return nil
}

func (fs *FileStore) persistLocked() error {
	plaintext, err := json.Marshal(fs.values)
	if err != nil {
		return errors.Wrap(err, "[FileStore.persist] json.Marshal")
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return errors.Wrap(err, "[FileStore.persist] rand.Read")
	}

	var buf bytes.Buffer
	buf.Write(magic)
	buf.Write(fs.salt)
	buf.Write(nonce)
	buf.Write(fs.aead.Seal(nil, nonce, plaintext, magic))

	if err := os.MkdirAll(filepath.Dir(fs.path), 0o700); err != nil {
		return errors.Wrap(err, "[FileStore.persist] os.MkdirAll")
	}
	tmp, err := os.CreateTemp(filepath.Dir(fs.path), filepath.Base(fs.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "[FileStore.persist] os.CreateTemp")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return errors.Wrap(err, "[FileStore.persist] write")
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errors.Wrap(err, "[FileStore.persist] chmod")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "[FileStore.persist] close")
	}
	return errors.Wrap(os.Rename(tmp.Name(), fs.path), "[FileStore.persist] rename")
}

func newAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "[securestore] chacha20poly1305.NewX")
	}
	return aead, nil
}
