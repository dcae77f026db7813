package mock

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client is an in-memory S3 supporting PutObject.
type S3Client struct {
	mu sync.Mutex
	// Maps bucket/key to object content
	Files map[string][]byte
	// Maps bucket/key to content type
	ContentTypes map[string]string
	// FailPut, when set, is returned by every PutObject
	FailPut error
}

// NewS3Client creates a new mock S3 client
func NewS3Client() *S3Client {
	return &S3Client{
		Files:        make(map[string][]byte),
		ContentTypes: make(map[string]string),
	}
}

// PutObject stores the object body under bucket/key
func (m *S3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut != nil {
		return nil, m.FailPut
	}

	path := fmt.Sprintf("%s/%s", aws.ToString(params.Bucket), aws.ToString(params.Key))
	var body []byte
	if params.Body != nil {
		var err error
		if body, err = io.ReadAll(params.Body); err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
	}
	m.Files[path] = body
	m.ContentTypes[path] = aws.ToString(params.ContentType)

	sum := md5.Sum(body)
	return &s3.PutObjectOutput{ETag: aws.String(`"` + hex.EncodeToString(sum[:]) + `"`)}, nil
}

// Object returns a stored object
func (m *S3Client) Object(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.Files[bucket+"/"+key]
	return data, ok
}
