package db

import "time"

type Config struct {
	// Dialect is kept for config compatibility; sqlite is the only
	// supported dialect.
	Dialect string `conf:"dialect" yaml:"dialect" json:"dialect"`

	// DSN is the path to the SQLite database file.
	DSN string `conf:"dsn" yaml:"dsn" json:"dsn"`

	// BusyTimeout is how long a statement waits for locks before failing.
	BusyTimeout time.Duration `conf:"busy_timeout" yaml:"busy_timeout" json:"busy_timeout"`

	// CheckpointInterval is how often the WAL is checkpointed.
	CheckpointInterval time.Duration `conf:"checkpoint_interval" yaml:"checkpoint_interval" json:"checkpoint_interval"`
}

func (cfg Config) withDefaults() Config {
	if cfg.Dialect == "" {
		cfg.Dialect = "sqlite"
	}

	if cfg.DSN == "" {
		cfg.DSN = "switchyard.db"
	}

	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}

	return cfg
}
