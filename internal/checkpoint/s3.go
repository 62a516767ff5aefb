package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps the checkpoint as a decimal integer in an object, in the
// same format as FileStore.
type S3Store struct {
	client s3API
	bucket string
	key    string
}

// OpenS3Store uses the default AWS credential chain. A non-empty endpoint
// targets an S3 compatible server with path style addressing.
func OpenS3Store(ctx context.Context, bucket string, key string, endpoint string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	if len(cfg.Region) == 0 {
		cfg.Region = "us-east-1"
	}

	var client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if len(endpoint) > 0 {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Store(client, bucket, key), nil
}

func newS3Store(client s3API, bucket string, key string) *S3Store {
	return &S3Store{client: client, bucket: bucket, key: key}
}

func (s *S3Store) String() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}

func (s *S3Store) Exists(ctx context.Context) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})

	switch {
	case err == nil:
		return true, nil
	case isS3NotFound(err):
		return false, nil
	default:
		return false, err
	}
}

func (s *S3Store) Read(ctx context.Context) (int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})

	if isS3NotFound(err) {
		return 0, ErrNotFound
	}

	if err != nil {
		return 0, err
	}

	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)

	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseInt(strings.TrimSpace(string(content)), 10, 64)

	if err != nil {
		return 0, fmt.Errorf("invalid checkpoint object %s: %w", s, err)
	}

	return v, nil
}

func (s *S3Store) Write(ctx context.Context, value int64) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        strings.NewReader(strconv.FormatInt(value, 10) + "\n"),
		ContentType: aws.String("text/plain"),
	})

	return err
}

func (s *S3Store) Close() error {
	return nil
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError

	if !errors.As(err, &apiErr) {
		return false
	}

	switch apiErr.ErrorCode() {
	case "NotFound", "NoSuchKey":
		return true
	default:
		return false
	}
}
