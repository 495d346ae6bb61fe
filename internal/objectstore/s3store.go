// Package objectstore implements the Object Store: content-addressed
// immutable blob storage backed by S3, with prefix listing and
// time-bounded signed URLs.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/forestshield/core/internal/domain"
	"github.com/forestshield/core/internal/errs"
)

// Store is an S3-backed implementation of domain.ObjectStore.
type Store struct {
	client *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// Config selects the bucket and, for local testing, an endpoint override
// (e.g. pointed at a MinIO or localstack instance).
type Config struct {
	Bucket         string
	Region         string
	EndpointURL    string // optional, for S3-compatible test endpoints
	ForcePathStyle bool
}

// New constructs a Store from the default AWS credential chain plus the
// given bucket/region/endpoint overrides.
func New(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
	}, nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(data),
		Metadata: metadata,
	})
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "s3 put "+key)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, errs.Wrap(errs.KindNotFound, err, "s3 get "+key)
		}
		return nil, errs.Wrap(errs.KindTransient, err, "s3 get "+key)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *Store) List(ctx context.Context, prefix string, max int) ([]domain.ObjectInfo, error) {
	if max <= 0 || max > 1000 {
		max = 1000
	}
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(int32(max)),
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "s3 list "+prefix)
	}

	infos := make([]domain.ObjectInfo, 0, len(out.Contents))
	for _, obj := range out.Contents {
		infos = append(infos, domain.ObjectInfo{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	return infos, nil
}

func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", errs.Wrap(errs.KindTransient, err, "presign "+key)
	}
	return req.URL, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "s3 delete "+key)
	}
	return nil
}

var _ domain.ObjectStore = (*Store)(nil)
