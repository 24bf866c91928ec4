package config

import "time"

// Static is a fixed Config for tests and for apps that embed the session manager
// without reading the environment. Zero durations fall back to the defaults.
type Static struct {
	AppName           string
	APIBaseURL        string
	Env               string
	LogLevel          string
	RefreshBuffer     time.Duration
	MinRefreshDelay   time.Duration
	HTTPTimeout       time.Duration
	SessionFile       string
	SessionPassphrase string
}

var _ Config = Static{}

func (s Static) GetAppName() string    { return s.AppName }
func (s Static) GetAPIBaseURL() string { return s.APIBaseURL }
func (s Static) GetLogLevel() string   { return s.LogLevel }

func (s Static) GetEnv() string {
	if s.Env == "" {
		return "DEV"
	}
	return s.Env
}

func (s Static) GetRefreshBuffer() time.Duration {
	if s.RefreshBuffer == 0 {
		return DefaultRefreshBuffer
	}
	return s.RefreshBuffer
}

func (s Static) GetMinRefreshDelay() time.Duration {
	if s.MinRefreshDelay == 0 {
		return DefaultMinRefreshDelay
	}
	return s.MinRefreshDelay
}

func (s Static) GetHTTPTimeout() time.Duration {
	if s.HTTPTimeout == 0 {
		return DefaultHTTPTimeout
	}
	return s.HTTPTimeout
}

func (s Static) GetSessionFile() string       { return s.SessionFile }
func (s Static) GetSessionPassphrase() string { return s.SessionPassphrase }
