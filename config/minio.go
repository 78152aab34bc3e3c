package config

import (
	"sync"
)

var (
	minioOnce   sync.Once
	minioConfig *MinioConfig
)

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
}

// GetMinioConfig reads the MinIO settings from the environment once.
func GetMinioConfig() MinioConfig {
	minioOnce.Do(func() {
		loadDotEnv()
		minioConfig = &MinioConfig{
			Endpoint:  envString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: envString("MINIO_ACCESS_KEY", ""),
			SecretKey: envString("MINIO_SECRET_KEY", ""),
			UseSSL:    envBool("MINIO_USE_SSL", false),
			Region:    envString("MINIO_REGION", "us-east-1"),
			Bucket:    envString("MINIO_BUCKET_NAME", "toolkit-exports"),
		}
	})
	return *minioConfig
}
