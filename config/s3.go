package config

// S3Config holds the AWS credentials shared by S3 storage and Textract.
type S3Config struct {
	BucketName string `envconfig:"S3_BUCKET_NAME"`
	Region     string `envconfig:"REGION" default:"us-east-1"`
	Endpoint   string `envconfig:"ENDPOINT"`
	AccessKey  string `envconfig:"ACCESS_KEY"`
	SecretKey  string `envconfig:"SECRET_KEY"`
}

// HasStaticCredentials reports whether explicit keys were configured. Without
// them the SDK default credential chain is used.
func (c S3Config) HasStaticCredentials() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}
