// Package config provides configuration defaults for the digirec daemon.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via the settings file, DIGIREC_* environment
// variables or command line flags.
package config

import "time"

// =============================================================================
// Queue Defaults
// =============================================================================

const (
	// DefaultCommandQueueSize is the capacity of the operator command channel.
	// Commands beyond this are rejected rather than blocking the caller.
	// Override via settings: queues.command
	DefaultCommandQueueSize = 10

	// DefaultDisplayQueueSize is the capacity of the worker -> dispatcher queue.
	// When full, new events are dropped (live view tolerates loss).
	// Override via settings: queues.display
	DefaultDisplayQueueSize = 1024

	// DefaultWriteQueueSize is the capacity of each per-channel write queue.
	// Override via settings: queues.write
	DefaultWriteQueueSize = 1024
)

// =============================================================================
// Acquisition Defaults
// =============================================================================

const (
	// DefaultSoftwareTimeout bounds a single device poll when the recording
	// configuration does not set software_timeout.
	DefaultSoftwareTimeout = time.Second

	// DefaultDispatchInterval is how often the dispatcher drains the display
	// queue when no data-ready notification arrived.
	// Override via settings: dispatch.interval
	DefaultDispatchInterval = 20 * time.Millisecond
)

// =============================================================================
// Writer Defaults
// =============================================================================

const (
	// DefaultFlushSize is the number of records per durable write when the
	// recording configuration does not set h5_flush_size.
	DefaultFlushSize = 100

	// DefaultWriterIdleWait is how long a writer sleeps when its queue is empty.
	// Override via settings: writer.idle_wait
	DefaultWriterIdleWait = 5 * time.Millisecond

	// DefaultWriteRetries is the number of retries for a failed batch write
	// before the writer is declared failed.
	DefaultWriteRetries = 1
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultWorkerJoinTimeout bounds the wait for the acquisition worker.
	// Override via settings: shutdown.worker_timeout
	DefaultWorkerJoinTimeout = 2 * time.Second

	// DefaultWriterJoinTimeout bounds the wait for each writer, including its
	// final drain and flush.
	// Override via settings: shutdown.writer_timeout
	DefaultWriterJoinTimeout = 2 * time.Second
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultBackend is the storage backend used for recordings.
	// Override via settings: storage.backend
	DefaultBackend = "parquet"

	// DefaultDataDir is where recordings are created.
	// Override via settings: storage.data_dir
	DefaultDataDir = "data"

	// DefaultCompression is the parquet compression codec.
	// Override via settings: storage.compression
	DefaultCompression = "zstd"
)

// =============================================================================
// Logging Defaults
// =============================================================================

const (
	// DefaultDropLogInterval is the minimum spacing between queue-drop
	// warnings for the same queue. Suppressed drops are still counted.
	DefaultDropLogInterval = time.Second
)
