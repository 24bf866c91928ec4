package config

import "time"

const (
	DefaultRefreshBuffer   = 60 * time.Second
	DefaultMinRefreshDelay = 10 * time.Second
	DefaultHTTPTimeout     = 30 * time.Second
)

type SessionConfig interface {
	// GetRefreshBuffer is how long before expiry an access token is renewed
	GetRefreshBuffer() time.Duration
	// GetMinRefreshDelay is the floor for a scheduled proactive refresh
	GetMinRefreshDelay() time.Duration
	GetHTTPTimeout() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetRefreshBuffer() time.Duration {
	return seconds(GetEnvInt("REFRESH_BUFFER_SECONDS", int(DefaultRefreshBuffer/time.Second)))
}

func (Session) GetMinRefreshDelay() time.Duration {
	return milliseconds(GetEnvInt("MIN_REFRESH_DELAY_MS", int(DefaultMinRefreshDelay/time.Millisecond)))
}

func (Session) GetHTTPTimeout() time.Duration {
	return seconds(GetEnvInt("HTTP_TIMEOUT_SECONDS", int(DefaultHTTPTimeout/time.Second)))
}
