// internal/media/s3.go
package media

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/roadcase/roadcase-go/internal/metrics"
)

// S3Client uploads photos to an S3-compatible bucket.
type S3Client struct {
	client    *s3.Client // AWS S3 client
	bucket    string     // S3 bucket name for media storage
	publicURL string     // Base URL objects are served from
}

// NewS3Client creates a new S3 client for media operations.
// It supports both AWS S3 and S3-compatible services like MinIO.
// When publicURL is empty objects are addressed path-style under endpoint.
func NewS3Client(ctx context.Context, endpoint, region, bucket, accessKey, secretKey, publicURL string) (*S3Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing is required for MinIO and other S3-compatible services
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = endpoint != ""
	})

	if publicURL == "" {
		if endpoint != "" {
			publicURL = joinURL(endpoint, bucket)
		} else {
			publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
		}
	}

	return &S3Client{client: client, bucket: bucket, publicURL: publicURL}, nil
}

// Store uploads body under key and returns its public URL.
func (s *S3Client) Store(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	m := metrics.NewMetrics()
	start := time.Now()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	_, err := s.client.PutObject(ctx, input)
	m.UpstreamRequestDuration.WithLabelValues("s3").Observe(time.Since(start).Seconds())
	if err != nil {
		m.UpstreamRequestTotal.WithLabelValues("s3", "error").Inc()
		return "", upstream("put object "+key, err)
	}
	m.UpstreamRequestTotal.WithLabelValues("s3", "ok").Inc()
	return joinURL(s.publicURL, key), nil
}

// Ping checks that the bucket is reachable.
func (s *S3Client) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return upstream("head bucket", err)
	}
	return nil
}
