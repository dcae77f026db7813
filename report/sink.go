package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	lfaws "github.com/gurre/lf-iam-migrate/aws"
)

// Sink persists a final report.
type Sink interface {
	Write(ctx context.Context, r Report) error
}

// S3Sink writes the report as a JSON object to S3.
// Example:
//
//	sink := report.NewS3Sink(s3.NewFromConfig(cfg), "my-bucket", "lf/run-123.json")
//	err := sink.Write(ctx, rep)
type S3Sink struct {
	client lfaws.S3Client
	bucket string
	key    string
}

// NewS3Sink creates a new S3Sink
func NewS3Sink(client lfaws.S3Client, bucket, key string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, key: key}
}

// Write uploads the report
func (s *S3Sink) Write(ctx context.Context, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &s.key,
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload report to s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

// FileSink writes the report to a local file, creating parent directories.
type FileSink struct {
	path string
}

// NewFileSink creates a new FileSink. path must be absolute.
func NewFileSink(path string) (*FileSink, error) {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		return nil, fmt.Errorf("report path must be absolute: %s", cleanPath)
	}
	return &FileSink{path: cleanPath}, nil
}

// Write stores the report
func (f *FileSink) Write(ctx context.Context, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}
