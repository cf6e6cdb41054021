package config

import (
	"runtime"

	"github.com/BurntSushi/toml"

	"github.com/blobscan/blob-indexer/pkg/errs"
)

func ReadFile(filepath string, cfg *Config) error {
	_, err := toml.DecodeFile(filepath, cfg)
	return err
}

type Config struct {
	Beacon    Beacon    `toml:"beacon"`
	Execution Execution `toml:"execution"`
	API       API       `toml:"api"`
	Indexer   Indexer   `toml:"indexer"`
	Realtime  Realtime  `toml:"realtime"`
	Timeout   Timeout   `toml:"timeout"`
	Sentry    Sentry    `toml:"sentry"`
}

var DefaultConfig = Config{
	Beacon:    defaultBeacon,
	Execution: defaultExecution,
	API:       defaultAPI,
	Indexer:   defaultIndexer,
	Realtime:  defaultRealtime,
	Timeout:   defaultTimeout,
}

type Beacon struct {
	Endpoint string `toml:"endpoint"`
}

var defaultBeacon = Beacon{
	Endpoint: "http://localhost:3500",
}

type Execution struct {
	Endpoint string `toml:"endpoint"`
}

var defaultExecution = Execution{
	Endpoint: "http://localhost:8545",
}

type API struct {
	Endpoint  string `toml:"endpoint"`
	SecretKey string `toml:"secret_key"`
}

var defaultAPI = API{
	Endpoint: "http://localhost:3001",
}

type Indexer struct {
	// FromSlot and ToSlot bound the historical range. Nil means "resolve at
	// startup": FromSlot from the stored checkpoint, ToSlot from the chain
	// head. An explicit ToSlot switches the process to range-only mode.
	FromSlot *uint64 `toml:"from_slot"`
	ToSlot   *uint64 `toml:"to_slot"`

	NumWorkers   int    `toml:"num_workers"`
	SlotsPerSave uint64 `toml:"slots_per_save"`

	DisableCheckpointSave bool `toml:"disable_checkpoint_save"`
	DisableBackfill       bool `toml:"disable_backfill"`

	// OnPermanentError selects what a permanently failed slot does to the
	// backfill range: "skip" logs and continues, "halt" aborts the range.
	OnPermanentError string `toml:"on_permanent_error"`
}

var defaultIndexer = Indexer{
	NumWorkers:       runtime.NumCPU(),
	SlotsPerSave:     1000,
	OnPermanentError: "skip",
}

type Realtime struct {
	// StaleTimeoutSeconds forces a reconnect when no head event arrives
	// within the window despite a healthy-looking connection.
	StaleTimeoutSeconds uint64 `toml:"stale_timeout_seconds"`

	// MaxConsecutiveReconnects bounds reconnect attempts before the fault is
	// escalated as fatal. A successfully handled event resets the count.
	MaxConsecutiveReconnects int `toml:"max_consecutive_reconnects"`

	SlotsPerSave uint64 `toml:"slots_per_save"`
}

var defaultRealtime = Realtime{
	StaleTimeoutSeconds:      60,
	MaxConsecutiveReconnects: 10,
	SlotsPerSave:             1,
}

type Timeout struct {
	RequestTimeoutMillis         uint64 `toml:"request_timeout_millis"`
	BackoffMaxElapsedTimeSeconds uint64 `toml:"backoff_max_elapsed_time_seconds"`
}

var defaultTimeout = Timeout{
	RequestTimeoutMillis:         30_000,
	BackoffMaxElapsedTimeSeconds: 300,
}

type Sentry struct {
	DSN string `toml:"dsn"`
}

func (cfg *Config) Validate() error {
	if cfg.Beacon.Endpoint == "" {
		return errs.Configf("beacon endpoint is required")
	}
	if cfg.Execution.Endpoint == "" {
		return errs.Configf("execution endpoint is required")
	}
	if cfg.API.Endpoint == "" {
		return errs.Configf("api endpoint is required")
	}
	if cfg.API.SecretKey == "" {
		return errs.Configf("api secret key is required")
	}
	if cfg.Indexer.NumWorkers < 1 {
		return errs.Configf("num_workers must be at least 1, got %d", cfg.Indexer.NumWorkers)
	}
	if cfg.Indexer.SlotsPerSave == 0 {
		return errs.Configf("slots_per_save must be positive")
	}
	if cfg.Realtime.MaxConsecutiveReconnects < 0 {
		return errs.Configf("max_consecutive_reconnects must not be negative, got %d", cfg.Realtime.MaxConsecutiveReconnects)
	}
	if cfg.Indexer.FromSlot != nil && cfg.Indexer.ToSlot != nil && *cfg.Indexer.FromSlot > *cfg.Indexer.ToSlot {
		return errs.Configf("invalid slot range: from %d > to %d", *cfg.Indexer.FromSlot, *cfg.Indexer.ToSlot)
	}
	switch cfg.Indexer.OnPermanentError {
	case "skip", "halt":
	default:
		return errs.Configf("on_permanent_error must be %q or %q, got %q", "skip", "halt", cfg.Indexer.OnPermanentError)
	}
	return nil
}
