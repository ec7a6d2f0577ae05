package controller

import (
	"time"

	"github.com/xtxerr/digirec/config"
	"github.com/xtxerr/digirec/internal/dispatch"
	"github.com/xtxerr/digirec/internal/errors"
	"github.com/xtxerr/digirec/internal/storage"
)

// Settings are the daemon tunables that are not part of the instrument or
// recording configuration.
type Settings struct {
	Backend     string `mapstructure:"backend"`
	DataDir     string `mapstructure:"data_dir"`
	Compression string `mapstructure:"compression"`

	CommandQueue int `mapstructure:"command_queue"`
	DisplayQueue int `mapstructure:"display_queue"`
	WriteQueue   int `mapstructure:"write_queue"`

	DispatchInterval time.Duration `mapstructure:"dispatch_interval"`
	CountEveryEvent  bool          `mapstructure:"count_every_event"`

	WriterIdleWait time.Duration `mapstructure:"writer_idle_wait"`
	WriteRetries   int           `mapstructure:"write_retries"`

	WorkerTimeout time.Duration `mapstructure:"worker_timeout"`
	WriterTimeout time.Duration `mapstructure:"writer_timeout"`

	DropLogInterval time.Duration `mapstructure:"drop_log_interval"`
}

// DefaultSettings returns the settings used when nothing is overridden.
func DefaultSettings() Settings {
	return Settings{
		Backend:          config.DefaultBackend,
		DataDir:          config.DefaultDataDir,
		Compression:      config.DefaultCompression,
		CommandQueue:     config.DefaultCommandQueueSize,
		DisplayQueue:     config.DefaultDisplayQueueSize,
		WriteQueue:       config.DefaultWriteQueueSize,
		DispatchInterval: config.DefaultDispatchInterval,
		WriterIdleWait:   config.DefaultWriterIdleWait,
		WriteRetries:     config.DefaultWriteRetries,
		WorkerTimeout:    config.DefaultWorkerJoinTimeout,
		WriterTimeout:    config.DefaultWriterJoinTimeout,
		DropLogInterval:  config.DefaultDropLogInterval,
	}
}

// Validate checks every field and reports all problems together.
func (s Settings) Validate() error {
	v := errors.NewValidationErrors()

	switch s.Backend {
	case storage.BackendParquet, storage.BackendDuckDB:
	default:
		v.AddInvalid("backend", s.Backend, "expected parquet or duckdb")
	}
	if s.DataDir == "" {
		v.AddMissing("data_dir")
	}
	for _, q := range []struct {
		name string
		size int
	}{
		{"command_queue", s.CommandQueue},
		{"display_queue", s.DisplayQueue},
		{"write_queue", s.WriteQueue},
	} {
		if q.size < 1 {
			v.AddInvalid(q.name, q.size, "must be at least 1")
		}
	}
	if s.WriteRetries < 0 {
		v.AddInvalid("write_retries", s.WriteRetries, "must not be negative")
	}

	return v.Err()
}

// CounterMode returns the dispatcher counter mode the settings select.
func (s Settings) CounterMode() dispatch.CounterMode {
	if s.CountEveryEvent {
		return dispatch.CountEveryEvent
	}
	return dispatch.CountLastChannel
}
