package assets

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/SectionsStack/internal/pkg/env"
)

// Config holds the object storage settings for catalog images
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	PublicBaseURL   string // CDN or bucket URL the stored keys are served from
	KeyPrefix       string
	MaxWidth        int
}

// LoadConfig loads storage configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		PublicBaseURL:   strings.TrimRight(env.GetEnv("S3_PUBLIC_BASE_URL", ""), "/"),
		KeyPrefix:       strings.Trim(env.GetEnv("S3_KEY_PREFIX", "sections"), "/"),
		MaxWidth:        env.GetEnvInt("THUMBNAIL_MAX_WIDTH", DefaultMaxWidth),
	}

	if config.AccessKeyID == "" {
		return nil, errors.New("S3_ACCESS_KEY_ID is required for uploads")
	}
	if config.SecretAccessKey == "" {
		return nil, errors.New("S3_SECRET_ACCESS_KEY is required for uploads")
	}
	if config.BucketName == "" {
		return nil, errors.New("S3_BUCKET_NAME is required for uploads")
	}

	return config, nil
}

// GetObjectKey generates the object key for an uploaded image
func (c *Config) GetObjectKey(id, fileExtension string, at time.Time) string {
	// Format: <prefix>/YYYY/MM/<id>.ext
	key := fmt.Sprintf("%04d/%02d/%s%s", at.Year(), int(at.Month()), id, fileExtension)
	if c.KeyPrefix == "" {
		return key
	}
	return c.KeyPrefix + "/" + key
}

// PublicURL returns the URL an object key is served from.
func (c *Config) PublicURL(objectKey string) string {
	if c.PublicBaseURL != "" {
		return c.PublicBaseURL + "/" + objectKey
	}
	if c.EndpointURL != "" {
		return strings.TrimRight(c.EndpointURL, "/") + "/" + c.BucketName + "/" + objectKey
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", c.BucketName, c.Region, objectKey)
}
