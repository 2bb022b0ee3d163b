// Package sink delivers accepted records to durable, line-delimited UTF-8
// text files with exactly-once visibility. Records accumulate in a hidden
// in-progress file per partition; a checkpoint barrier promotes the file to
// an immutable output segment in two phases: Prepare (flush + fsync, ahead
// of the checkpoint transaction) and Publish (atomic rename or S3 put,
// after the transaction commits). A segment is either fully visible under
// its final name or not visible at all.
package sink

// Config holds output sink configuration.
type Config struct {
	// OutputPath is the directory output segments are written to. With the
	// S3 backend enabled it holds only transient in-progress files.
	OutputPath string `env:"OUTPUT_PATH" envDefault:"./out"`

	// S3 configures the optional remote segment backend
	S3 S3Config `envPrefix:"S3_"`
}

// S3Config holds S3/MinIO configuration for the remote segment backend.
type S3Config struct {
	// Enabled switches committed segments from local rename to S3 upload
	Enabled bool `env:"ENABLED" envDefault:"false"`

	// Endpoint is the S3 endpoint URL (e.g., "http://localhost:9000" for MinIO)
	Endpoint string `env:"ENDPOINT" envDefault:"http://localhost:9000"`

	// Region is the AWS region
	Region string `env:"REGION" envDefault:"us-east-1"`

	// Bucket is the S3 bucket name
	Bucket string `env:"BUCKET" envDefault:"stream-archive"`

	// AccessKeyID is the AWS access key ID
	AccessKeyID string `env:"ACCESS_KEY_ID" envDefault:"minioadmin"`

	// SecretAccessKey is the AWS secret access key
	SecretAccessKey string `env:"SECRET_ACCESS_KEY" envDefault:"minioadmin"`

	// UsePathStyle enables path-style addressing (required for MinIO)
	UsePathStyle bool `env:"USE_PATH_STYLE" envDefault:"true"`

	// Prefix is the key prefix for all segments
	Prefix string `env:"PREFIX" envDefault:"segments"`
}
