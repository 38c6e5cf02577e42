// Package s3 fetches frames from an S3-compatible object store, one object
// per frame.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/IvanBrykalov/volcache/source"
	"github.com/IvanBrykalov/volcache/volume"
)

// API is the subset of *s3.Client the fetcher uses.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ClientConfig describes how to reach the object store.
type ClientConfig struct {
	Region string
	// Endpoint overrides the AWS endpoint (MinIO, LocalStack).
	Endpoint       string
	ForcePathStyle bool
	// AccessKey and SecretKey select static credentials; when empty the
	// default provider chain is used.
	AccessKey string
	SecretKey string
}

// NewClient builds an S3 client from the default AWS configuration with
// cfg applied on top.
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 source: load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}

// Options configures a Fetcher.
type Options struct {
	Client API
	Bucket string
	// Prefix is joined in front of every frame id to form the object key.
	Prefix string
	// MaxFrameBytes rejects larger objects; zero disables the check.
	MaxFrameBytes int64
	Logger        logrus.FieldLogger
}

// Fetcher reads s3://<Bucket>/<Prefix>/<frameID>.
type Fetcher struct {
	opt Options
	log logrus.FieldLogger
}

// New returns a Fetcher. Client and Bucket are required.
func New(opt Options) (*Fetcher, error) {
	if opt.Client == nil {
		return nil, errors.New("s3 source: nil client")
	}
	if opt.Bucket == "" {
		return nil, errors.New("s3 source: bucket name cannot be empty")
	}
	if opt.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opt.Logger = l
	}
	return &Fetcher{
		opt: opt,
		log: opt.Logger.WithFields(logrus.Fields{"component": "s3_source", "bucket": opt.Bucket}),
	}, nil
}

// Key returns the object key for frameID.
func (f *Fetcher) Key(frameID string) string {
	if f.opt.Prefix == "" {
		return frameID
	}
	return path.Join(f.opt.Prefix, frameID)
}

// Fetch downloads the frame object.
func (f *Fetcher) Fetch(ctx context.Context, frameID string) ([]byte, error) {
	if frameID == "" {
		return nil, fmt.Errorf("%w: empty", source.ErrInvalidID)
	}
	key := f.Key(frameID)
	out, err := f.opt.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.opt.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *s3types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", source.ErrNotFound, key)
		}
		return nil, fmt.Errorf("s3 source: get %s: %w", key, err)
	}
	defer out.Body.Close()

	limit := f.opt.MaxFrameBytes
	if limit > 0 && aws.ToInt64(out.ContentLength) > limit {
		return nil, fmt.Errorf("s3 source: %s is %d bytes, limit %d", key, aws.ToInt64(out.ContentLength), limit)
	}
	var r io.Reader = out.Body
	if limit > 0 {
		r = io.LimitReader(out.Body, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("s3 source: read %s: %w", key, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("s3 source: %s exceeds %d bytes", key, limit)
	}
	f.log.WithField("key", key).WithField("bytes", len(data)).Debug("fetched frame")
	return data, nil
}

var _ volume.Fetcher = (*Fetcher)(nil)
