/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package objectstore is the durable S3 tier for transcoded opus
// artifacts. When no bucket is configured the store is disabled and
// every check reports a miss.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

// Options configures the S3 tier.
type Options struct {
	Bucket          string
	Prefix          string
	Region          string
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
	SignedURLTTL    time.Duration
	ObjectTTL       time.Duration
}

// Store wraps an S3 client with opus artifact conventions.
type Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	opts      Options
	logger    zerolog.Logger
}

// New builds a Store. An empty bucket yields a disabled store whose
// freshness checks always miss.
func New(ctx context.Context, opts Options, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		opts:   opts,
		logger: logger.With().Str("component", "object_store").Logger(),
	}
	if opts.Bucket == "" {
		return s, nil
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.EndpointURL != "" {
			o.BaseEndpoint = aws.String(opts.EndpointURL)
			o.UsePathStyle = true
		}
	})
	s.presigner = s3.NewPresignClient(s.client)
	return s, nil
}

// Enabled reports whether the durable tier is active.
func (s *Store) Enabled() bool {
	return s.client != nil && s.opts.Bucket != ""
}

// ObjectKey returns the bucket key for a track's opus artifact.
func (s *Store) ObjectKey(trackID string) string {
	filename := trackID + ".opus"
	prefix := strings.Trim(s.opts.Prefix, "/")
	if prefix == "" {
		return filename
	}
	return prefix + "/" + filename
}

// PublicURL returns the CDN URL for a key, or "" when no public base is
// configured.
func (s *Store) PublicURL(objectKey string) string {
	if s.opts.PublicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(s.opts.PublicBaseURL, "/") + "/" + objectKey
}

// AccessURL returns a client-usable URL for the object: the public URL
// when configured, otherwise a presigned GET.
func (s *Store) AccessURL(ctx context.Context, objectKey string) (string, error) {
	if url := s.PublicURL(objectKey); url != "" {
		return url, nil
	}
	if !s.Enabled() {
		return "", errors.New("object storage not configured")
	}

	ttl := s.opts.SignedURLTTL
	if ttl < time.Second {
		ttl = time.Second
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign object url: %w", err)
	}
	return req.URL, nil
}

// Upload stores a local artifact under objectKey. TTL metadata rides
// along as an Expires header and an object tag so bucket lifecycle
// rules can expire entries server-side.
func (s *Store) Upload(ctx context.Context, localPath, objectKey string) error {
	if !s.Enabled() {
		return errors.New("object storage not configured")
	}

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open artifact %s: %w", localPath, err)
	}
	defer file.Close()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.opts.Bucket),
		Key:         aws.String(objectKey),
		Body:        file,
		ContentType: aws.String("audio/opus"),
	}
	if s.opts.ObjectTTL > 0 {
		input.Expires = aws.Time(time.Now().UTC().Add(s.opts.ObjectTTL))
		input.Tagging = aws.String(fmt.Sprintf("skald-ttl-seconds=%d", int(s.opts.ObjectTTL.Seconds())))
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("upload %s: %w", objectKey, err)
	}
	return nil
}

// Delete removes an object, tolerating a key that is already gone.
func (s *Store) Delete(ctx context.Context, objectKey string) error {
	if !s.Enabled() {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete %s: %w", objectKey, err)
	}
	return nil
}

// IsFresh reports whether the object exists and is younger than the
// object TTL. Expired objects are deleted eagerly so readers never see
// a stale artifact.
func (s *Store) IsFresh(ctx context.Context, objectKey string) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head %s: %w", objectKey, err)
	}

	if s.opts.ObjectTTL <= 0 {
		return true, nil
	}
	if head.LastModified == nil {
		return true, nil
	}
	if time.Since(*head.LastModified) >= s.opts.ObjectTTL {
		if err := s.Delete(ctx, objectKey); err != nil {
			s.logger.Warn().Err(err).Str("key", objectKey).Msg("failed to delete expired object")
		}
		return false, nil
	}
	return true, nil
}

// CheckAccess verifies the bucket is reachable with the configured
// credentials.
func (s *Store) CheckAccess(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.opts.Bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", s.opts.Bucket, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}
