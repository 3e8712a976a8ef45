package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/abie0416/BiegeAI/pkg/loader"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientParams configures an S3 client.
//
// Endpoint allows overriding the S3 endpoint (useful for S3-compatible
// storage like MinIO). AccessKey and SecretKey provide static credentials;
// when both are empty the default AWS credential chain is used.
type ClientParams struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// NewClient builds a path-style S3 client from params.
func NewClient(ctx context.Context, params ClientParams) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(params.Region),
	}
	if params.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(params.Endpoint))
	}
	if params.AccessKey != "" || params.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			params.AccessKey,
			params.SecretKey,
			"",
		)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// ObjectAPI is the part of *s3.Client the loader needs.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3FileLoader loads file contents from an S3 bucket. The file path is used
// as the object key.
type S3FileLoader struct {
	bucket string
	client ObjectAPI
	cache  loader.Cache
}

// NewS3FileLoaderWithClient creates a new S3FileLoader using an existing
// client.
func NewS3FileLoaderWithClient(bucket string, client ObjectAPI) *S3FileLoader {
	return &S3FileLoader{bucket: bucket, client: client}
}

// NewS3FileLoaderParams defines the configuration parameters for creating a
// new S3FileLoader.
type NewS3FileLoaderParams struct {
	Bucket string
	ClientParams
}

func NewS3FileLoader(ctx context.Context, params NewS3FileLoaderParams) (*S3FileLoader, error) {
	client, err := NewClient(ctx, params.ClientParams)
	if err != nil {
		return nil, err
	}
	return NewS3FileLoaderWithClient(params.Bucket, client), nil
}

// GetFileText retrieves the object named by file.Path. Results are cached.
func (l *S3FileLoader) GetFileText(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	return l.cache.Get(loader.CacheKey(file), func() ([]byte, error) {
		out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(l.bucket),
			Key:    aws.String(file.Path),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get %s from S3: %w", file.Path, err)
		}
		defer out.Body.Close()

		buf := new(bytes.Buffer)
		if _, err := io.Copy(buf, out.Body); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file.Path, err)
		}
		return buf.Bytes(), nil
	})
}
