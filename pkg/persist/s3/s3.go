package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	loaders3 "github.com/abie0416/BiegeAI/pkg/loader/s3"
	"github.com/abie0416/BiegeAI/pkg/persist"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectAPI is the part of *s3.Client the store needs.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps blobs as objects under Prefix in Bucket.
type S3Store struct {
	bucket string
	prefix string
	client ObjectAPI
}

func NewS3StoreWithClient(bucket, prefix string, client ObjectAPI) *S3Store {
	return &S3Store{bucket: bucket, prefix: prefix, client: client}
}

// NewS3StoreParams configures an S3Store backed by a new client.
type NewS3StoreParams struct {
	Bucket string
	Prefix string
	loaders3.ClientParams
}

func NewS3Store(ctx context.Context, params NewS3StoreParams) (*S3Store, error) {
	client, err := loaders3.NewClient(ctx, params.ClientParams)
	if err != nil {
		return nil, err
	}
	return NewS3StoreWithClient(params.Bucket, params.Prefix, client), nil
}

func (s *S3Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3Store) Save(ctx context.Context, key string, blob []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(blob),
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot to S3: %w", err)
	}
	return nil
}

func (s *S3Store) Load(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, persist.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot from S3: %w", err)
	}
	defer out.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, out.Body); err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return buf.Bytes(), nil
}
