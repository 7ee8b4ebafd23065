package assets

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"contentflow/internal/platform/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Resolver turns a stored asset key into a URL a platform can fetch.
type Resolver interface {
	Resolve(ctx context.Context, key string) (string, error)
}

func New(ctx context.Context, cfg config.AssetsConfig) (Resolver, error) {
	switch cfg.Backend {
	case "s3":
		return NewS3Resolver(ctx, cfg)
	case "static", "":
		return NewStaticResolver(cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown assets backend %q", cfg.Backend)
	}
}

// StaticResolver joins keys onto a public base URL. Keys that are already absolute
// URLs are returned unchanged.
type StaticResolver struct {
	base string
}

func NewStaticResolver(baseURL string) *StaticResolver {
	return &StaticResolver{base: strings.TrimRight(baseURL, "/")}
}

func (r *StaticResolver) Resolve(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty asset key")
	}
	if u, err := url.Parse(key); err == nil && u.IsAbs() {
		return key, nil
	}
	if r.base == "" {
		return key, nil
	}
	return r.base + "/" + strings.TrimLeft(key, "/"), nil
}

// S3Resolver returns presigned GET URLs for objects in one bucket.
type S3Resolver struct {
	presign *s3.PresignClient
	bucket  string
	prefix  string
	ttl     time.Duration
}

func NewS3Resolver(ctx context.Context, cfg config.AssetsConfig) (*S3Resolver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("assets.bucket is required for the s3 backend")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &S3Resolver{
		presign: s3.NewPresignClient(s3.NewFromConfig(awsCfg, s3Opts...)),
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		ttl:     ttl,
	}, nil
}

func (r *S3Resolver) Resolve(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty asset key")
	}
	objectKey := path.Join(r.prefix, key)
	req, err := r.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(r.ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}
