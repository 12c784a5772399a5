package config

type MinioConfig struct {
	AccessKey  string `envconfig:"ACCESS_KEY"`
	SecretKey  string `envconfig:"SECRET_KEY"`
	Endpoint   string `envconfig:"ENDPOINT" default:"localhost:9000"`
	UseSSL     bool   `envconfig:"USE_SSL" default:"false"`
	Region     string `envconfig:"REGION"`
	BucketName string `envconfig:"BUCKET_NAME" default:"documents"`
}
