package config

import "time"

// TextractConfig tunes the asynchronous Textract text-detection job.
// Credentials and region come from S3Config.
type TextractConfig struct {
	PollInterval  time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
	MaxWait       time.Duration `envconfig:"MAX_WAIT" default:"15m"`
	StagingPrefix string        `envconfig:"STAGING_PREFIX" default:"textract-staging/"`
}
