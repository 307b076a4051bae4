package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3Store implements Store against an S3-compatible API: an existence check
// before PutObject, with an optional custom endpoint and path-style
// addressing for MinIO/LocalStack-style deployments. Keys are structural
// paths, not content hashes; the checksum is computed and compared on
// PutImmutable to emulate If-None-Match: * semantics.
type S3Store struct {
	client   *s3.Client
	bucket   string
	prefix   string
	endpoint string
}

// S3Config controls S3Store construction: endpoint URL, bucket, region, and
// path-style toggle.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
	PathStyle bool
}

// NewS3Store builds an S3Store. Credentials are resolved the standard AWS
// way (env vars, shared config, IAM role); no access/secret key fields are
// threaded through explicitly since the SDK's default chain already covers
// those environment variables.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, endpoint: cfg.Endpoint}, nil
}

func (s *S3Store) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// PutImmutable implements Store.
func (s *S3Store) PutImmutable(ctx context.Context, key string, body []byte, checksum string) error {
	fullKey := s.fullKey(key)

	existing, err := s.Get(ctx, key)
	if err == nil {
		if checksumOf(existing) == checksum {
			return nil
		}
		return ErrChecksumMismatch
	}
	if !isNotFound(err) {
		return fmt.Errorf("checking existing object %q: %w", key, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %q failed: %w", key, err)
	}
	return nil
}

// PutPointer implements Store.
func (s *S3Store) PutPointer(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.fullKey(key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put pointer %q failed: %w", key, err)
	}
	return nil
}

// Get implements Store.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}

// URI implements Store.
func (s *S3Store) URI(key string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, s.fullKey(key))
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.fullKey(key))
}

func isNotFound(err error) bool {
	var nf *smithyhttp.ResponseError
	if errors.As(err, &nf) {
		return nf.HTTPStatusCode() == 404
	}
	return false
}
