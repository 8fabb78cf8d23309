// Package inputcheck verifies that a job's input location exists before the
// job is accepted.
//
// s3:// URIs must list at least one object under the prefix. file:// URIs and
// absolute paths must exist on the local filesystem. Any other scheme is
// accepted without a check.
package inputcheck

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/batchlens/pkg/store"
)

var (
	// ErrInputMissing indicates the input location holds nothing.
	ErrInputMissing = errors.New("input not found")

	// ErrAccessDenied indicates the input exists but cannot be read with the
	// configured credentials.
	ErrAccessDenied = errors.New("input access denied")
)

// DefaultAWSRegion is used for AWS S3 when neither config nor environment
// name a region.
const DefaultAWSRegion = "us-east-1"

// S3Config configures the S3 client. Empty fields fall back to the AWS SDK
// default credential and region chain.
type S3Config struct {
	Region          string
	Endpoint        string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// Validate checks that explicit credentials are given as a pair.
func (c S3Config) Validate() error {
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return fmt.Errorf("s3 config: access key id and secret access key must be provided together")
	}
	return nil
}

// objectLister is the part of the S3 client the checker needs.
type objectLister interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Checker checks input URIs. The S3 client is built on first use.
type Checker struct {
	cfg S3Config

	mu     sync.Mutex
	client objectLister

	newClient func(ctx context.Context, cfg S3Config) (objectLister, error)
	stat      func(string) (os.FileInfo, error)
}

func New(cfg S3Config) *Checker {
	return &Checker{
		cfg:       cfg,
		newClient: newS3Client,
		stat:      os.Stat,
	}
}

// Check returns nil when uri points at existing input.
//
// A missing input returns ErrInputMissing, a permission problem
// ErrAccessDenied, and an unreachable provider store.ErrUnavailable.
func (c *Checker) Check(ctx context.Context, uri string) error {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return fmt.Errorf("%w: empty uri", ErrInputMissing)
	}

	switch {
	case strings.HasPrefix(uri, "s3://"):
		bucket, prefix, err := parseS3URI(uri)
		if err != nil {
			return err
		}
		return c.checkS3(ctx, bucket, prefix)
	case strings.HasPrefix(uri, "file://"):
		u, err := url.Parse(uri)
		if err != nil {
			return fmt.Errorf("invalid file uri %q: %w", uri, err)
		}
		return c.checkPath(u.Path)
	case filepath.IsAbs(uri):
		return c.checkPath(uri)
	default:
		return nil
	}
}

func (c *Checker) checkPath(path string) error {
	if _, err := c.stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrInputMissing, path)
		}
		if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("%w: %s", ErrAccessDenied, path)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	return nil
}

func (c *Checker) checkS3(ctx context.Context, bucket, prefix string) error {
	client, err := c.s3Client(ctx)
	if err != nil {
		return store.Unavailable("s3 client", err)
	}

	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		MaxKeys: aws.Int32(1),
	}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}

	out, err := client.ListObjectsV2(ctx, in)
	if err != nil {
		return wrapS3Error(bucket, prefix, err)
	}
	if aws.ToInt32(out.KeyCount) == 0 && len(out.Contents) == 0 {
		return fmt.Errorf("%w: s3://%s/%s", ErrInputMissing, bucket, prefix)
	}
	return nil
}

func (c *Checker) s3Client(ctx context.Context) (objectLister, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	client, err := c.newClient(ctx, c.cfg)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

func newS3Client(ctx context.Context, cfg S3Config) (objectLister, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Region == "" && cfg.Endpoint == "" {
		awsCfg.Region = DefaultAWSRegion
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func parseS3URI(uri string) (bucket, prefix string, err error) {
	rest := strings.TrimPrefix(uri, "s3://")
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("invalid s3 uri %q: bucket is required", uri)
	}
	return bucket, prefix, nil
}

// wrapS3Error maps S3 failures onto the checker's sentinel errors.
func wrapS3Error(bucket, prefix string, err error) error {
	loc := "s3://" + bucket + "/" + prefix

	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return fmt.Errorf("%w: %s: bucket does not exist", ErrInputMissing, loc)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket", "NotFound", "NoSuchKey":
			return fmt.Errorf("%w: %s", ErrInputMissing, loc)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: %s: %s", ErrAccessDenied, loc, apiErr.ErrorCode())
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return store.Unavailable("list "+loc, err)
}
