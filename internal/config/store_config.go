package config

type StoreConfig interface {
	GetSessionFile() string
	GetSessionPassphrase() string
}

type Store struct{}

var _ StoreConfig = Store{}

func (Store) GetSessionFile() string {
	return GetEnv("SESSION_FILE", "./data/session.bin")
}

// GetSessionPassphrase is the secret the session file key is derived from.
// An empty passphrase is rejected by the file store.
func (Store) GetSessionPassphrase() string {
	return GetEnv("SESSION_PASSPHRASE", "")
}
