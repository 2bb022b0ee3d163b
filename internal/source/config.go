package source

import (
	"time"
)

// Config holds NATS connection and stream read configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222")
	URL string `env:"NATS_URL" envDefault:"nats://localhost:4222"`

	// Name is the client connection name for monitoring
	Name string `env:"NATS_CLIENT_NAME" envDefault:"stream-archiver"`

	// MaxReconnects is the maximum number of reconnection attempts
	MaxReconnects int `env:"NATS_MAX_RECONNECTS" envDefault:"60"`

	// ReconnectWait is the time to wait between reconnection attempts
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`

	// Timeout is the connection timeout
	Timeout time.Duration `env:"NATS_TIMEOUT" envDefault:"5s"`

	// Stream is the input stream name to read
	Stream string `env:"INPUT_STREAM" envDefault:"EVENTS"`

	// StartPosition is the symbolic start of the read range:
	// "earliest", "latest", or an explicit stream sequence number.
	StartPosition string `env:"START_POSITION" envDefault:"earliest"`

	// EndPosition is the symbolic end of the read range: "unbounded",
	// "latest" (the stream's tail at job start), or an explicit sequence.
	EndPosition string `env:"END_POSITION" envDefault:"unbounded"`

	// FetchBatchSize is the number of records buffered ahead of the pipeline
	FetchBatchSize int `env:"FETCH_BATCH_SIZE" envDefault:"256"`

	// MaxRecordsPerSecond throttles the read rate. Zero means unlimited.
	MaxRecordsPerSecond float64 `env:"MAX_RECORDS_PER_SECOND" envDefault:"0"`

	// Provision configures dev-convenience stream creation
	Provision ProvisionConfig `envPrefix:"STREAM_"`
}

// ProvisionConfig holds optional JetStream stream provisioning settings.
// Provisioning is a development convenience; in production the input stream
// is expected to exist already.
type ProvisionConfig struct {
	// Create enables stream creation/update on startup
	Create bool `env:"CREATE" envDefault:"false"`

	// Subjects are the subjects the stream captures when created here
	Subjects []string `env:"SUBJECTS" envDefault:"events.>"`

	// MaxAge is the maximum age of messages in the stream
	MaxAge time.Duration `env:"MAX_AGE" envDefault:"168h"` // 7 days

	// MaxBytes is the maximum size of the stream in bytes
	MaxBytes int64 `env:"MAX_BYTES" envDefault:"1073741824"` // 1GB

	// Replicas is the number of replicas for the stream
	Replicas int `env:"REPLICAS" envDefault:"1"`

	// Storage is the storage type (file or memory)
	Storage string `env:"STORAGE" envDefault:"file"`
}
