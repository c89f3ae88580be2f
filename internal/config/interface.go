package config

import "strings"

// Option adjusts how Load finds its sources.
type Option func(*options) error

type options struct {
	configPath string
	envPrefix  string
}

// WithConfigFile reads path instead of the default config file. Unlike the
// default, a missing explicit file is an error.
func WithConfigFile(path string) Option {
	return func(o *options) error {
		o.configPath = path
		return nil
	}
}

// WithEnvPrefix replaces the UPSPLUSD environment prefix.
func WithEnvPrefix(prefix string) Option {
	return func(o *options) error {
		o.envPrefix = strings.ToUpper(strings.TrimSuffix(prefix, "_"))
		return nil
	}
}

type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	}

	return false
}

func (l LogLevel) String() string {
	return string(l)
}
