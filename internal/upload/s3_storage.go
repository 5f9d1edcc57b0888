package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Params struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// BaseEndpoint is set for S3 compatible stores (e.g. MinIO), path style addressing is used then.
	BaseEndpoint string
	// PublicBaseURL is the prefix under which stored objects are reachable by clients.
	PublicBaseURL string
	HTTPClient    *http.Client
}

type S3Storage struct {
	client        *s3.Client
	bucket        string
	publicBaseURL string
}

func NewS3Storage(ctx context.Context, params S3Params) (*S3Storage, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket not set")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(params.Region),
	}
	if params.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(params.AccessKey, params.SecretKey, ""),
		))
	}
	if params.HTTPClient != nil {
		opts = append(opts, awsconfig.WithHTTPClient(params.HTTPClient))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if params.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(params.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	publicBaseURL := strings.TrimSuffix(params.PublicBaseURL, "/")
	if publicBaseURL == "" {
		publicBaseURL = "/" + params.Bucket
	}

	return &S3Storage{
		client:        client,
		bucket:        params.Bucket,
		publicBaseURL: publicBaseURL,
	}, nil
}

func (s *S3Storage) Save(ctx context.Context, dir, name, contentType string, content io.Reader) (string, error) {
	key := path.Join(dir, name)
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        content,
		ContentType: aws.String(contentType),
		IfNoneMatch: aws.String("*"),
	}); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	return s.publicBaseURL + "/" + key, nil
}

func (s *S3Storage) Remove(ctx context.Context, storedPath string) error {
	if !strings.HasPrefix(storedPath, s.publicBaseURL+"/") {
		return fmt.Errorf("path %s not in s3 storage", storedPath)
	}
	key := strings.TrimPrefix(storedPath, s.publicBaseURL+"/")

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}
