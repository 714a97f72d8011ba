package types

import (
	"errors"
	"time"
)

// Config holds backend selection and the sync policy for a journal.
type Config struct {
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`

	// Keystore selects the protected storage implementation
	// (KeystoreFile or KeystoreMemory).
	Keystore string `json:"keystore" yaml:"keystore" mapstructure:"keystore"`

	// AllowedHosts lists the hosts accepted in scanned QR links.
	// Empty means DefaultAllowedHosts.
	AllowedHosts []string `json:"allowed_hosts" yaml:"allowed_hosts" mapstructure:"allowed_hosts"`

	Sync SyncConfig `json:"sync" yaml:"sync" mapstructure:"sync"`
}

// SyncConfig holds the sync queue policy. Zero values select the defaults
// through the getters.
type SyncConfig struct {
	Endpoint       string        `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	BatchSize      int           `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`
	MaxAttempts    int           `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" mapstructure:"request_timeout"`
	BackoffMin     time.Duration `json:"backoff_min" yaml:"backoff_min" mapstructure:"backoff_min"`
	BackoffMax     time.Duration `json:"backoff_max" yaml:"backoff_max" mapstructure:"backoff_max"`
}

// Supported backend and keystore names.
const (
	BackendSQLite  = "sqlite"
	KeystoreFile   = "file"
	KeystoreMemory = "memory"
)

// Sync policy defaults.
const (
	DefaultBatchSize      = 10
	DefaultMaxAttempts    = 5
	DefaultRequestTimeout = 15 * time.Second
	DefaultBackoffMin     = 2 * time.Second
	DefaultBackoffMax     = 5 * time.Minute
)

// DefaultAllowedHosts are the QR link hosts accepted when none are configured.
var DefaultAllowedHosts = []string{"ops.originalpsilly.com"}

// Config validation errors.
var (
	ErrBackendEmpty          = errors.New("backend must not be empty")
	ErrBackendUnknown        = errors.New("unknown backend")
	ErrKeystoreUnknown       = errors.New("unknown keystore")
	ErrBatchSizeInvalid      = errors.New("batch size must be positive")
	ErrMaxAttemptsInvalid    = errors.New("max attempts must be positive")
	ErrRequestTimeoutInvalid = errors.New("request timeout must be positive")
	ErrBackoffInvalid        = errors.New("backoff bounds are invalid")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite: true,
}

// knownKeystores lists the keystores that Validate accepts. Empty selects
// KeystoreFile.
var knownKeystores = map[string]bool{
	"":             true,
	KeystoreFile:   true,
	KeystoreMemory: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if !knownKeystores[c.Keystore] {
		return ErrKeystoreUnknown
	}
	return c.Sync.Validate()
}

// GetKeystore returns the configured keystore, defaulting to KeystoreFile.
func (c Config) GetKeystore() string {
	if c.Keystore == "" {
		return KeystoreFile
	}
	return c.Keystore
}

// GetAllowedHosts returns the configured QR hosts or DefaultAllowedHosts.
func (c Config) GetAllowedHosts() []string {
	if len(c.AllowedHosts) == 0 {
		return DefaultAllowedHosts
	}
	return c.AllowedHosts
}

// Validate rejects negative policy values. Zero means "use the default".
func (s SyncConfig) Validate() error {
	if s.BatchSize < 0 {
		return ErrBatchSizeInvalid
	}
	if s.MaxAttempts < 0 {
		return ErrMaxAttemptsInvalid
	}
	if s.RequestTimeout < 0 {
		return ErrRequestTimeoutInvalid
	}
	if s.BackoffMin < 0 || s.BackoffMax < 0 {
		return ErrBackoffInvalid
	}
	if s.BackoffMin > 0 && s.BackoffMax > 0 && s.BackoffMin > s.BackoffMax {
		return ErrBackoffInvalid
	}
	return nil
}

// GetBatchSize returns the batch size, defaulting to DefaultBatchSize.
func (s SyncConfig) GetBatchSize() int {
	if s.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return s.BatchSize
}

// GetMaxAttempts returns the attempt cap, defaulting to DefaultMaxAttempts.
func (s SyncConfig) GetMaxAttempts() int {
	if s.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return s.MaxAttempts
}

// GetRequestTimeout returns the per-request timeout, defaulting to
// DefaultRequestTimeout.
func (s SyncConfig) GetRequestTimeout() time.Duration {
	if s.RequestTimeout <= 0 {
		return DefaultRequestTimeout
	}
	return s.RequestTimeout
}

// GetBackoffMin returns the first retry delay, defaulting to DefaultBackoffMin.
func (s SyncConfig) GetBackoffMin() time.Duration {
	if s.BackoffMin <= 0 {
		return DefaultBackoffMin
	}
	return s.BackoffMin
}

// GetBackoffMax returns the longest retry delay, defaulting to DefaultBackoffMax.
func (s SyncConfig) GetBackoffMax() time.Duration {
	if s.BackoffMax <= 0 {
		return DefaultBackoffMax
	}
	return s.BackoffMax
}
