package config

import (
	"sync"
)

var (
	s3Once   sync.Once
	s3Config *S3Config
)

// S3Config addresses the bucket that archives exports and offloaded inputs.
// Endpoint switches to path-style addressing for S3-compatible servers.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
}

// GetS3Config reads the S3 settings from the environment once. They seed the
// defaults that the storage.s3 block of the config file overrides.
func GetS3Config() S3Config {
	s3Once.Do(func() {
		loadDotEnv()
		s3Config = &S3Config{
			Bucket:    envString("AWS_S3_BUCKET_NAME", "toolkit-exports"),
			Region:    envString("AWS_REGION", "us-east-1"),
			Endpoint:  envString("AWS_ENDPOINT", ""),
			AccessKey: envString("AWS_ACCESS_KEY", ""),
			SecretKey: envString("AWS_SECRET_KEY", ""),
		}
	})
	return *s3Config
}
