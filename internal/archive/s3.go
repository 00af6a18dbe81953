package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"repertor/internal/platform/config"
)

// S3Store implements Store on top of S3 (or an S3-compatible backend when an
// endpoint override is configured). Cold tiers map onto the GLACIER and
// DEEP_ARCHIVE storage classes and the RestoreObject API.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 builds the store from process configuration.
func NewS3(ctx context.Context, cfg config.ArchiveConfig) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.KeyPrefix,
	}, nil
}

func (s *S3Store) Archive(ctx context.Context, key string, content []byte, contentType string, tier Tier) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(s.prefix + key),
		Body:         bytes.NewReader(content),
		ContentType:  aws.String(contentType),
		StorageClass: types.StorageClass(tier),
	})
	if err != nil {
		return fmt.Errorf("%w: put %q: %v", ErrUpload, key, err)
	}
	return nil
}

func (s *S3Store) RequestRestore(ctx context.Context, key string, availabilityDays int, speed RestoreSpeed) error {
	_, err := s.client.RestoreObject(ctx, &s3.RestoreObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
		RestoreRequest: &types.RestoreRequest{
			Days: aws.Int32(int32(availabilityDays)),
			GlacierJobParameters: &types.GlacierJobParameters{
				Tier: types.Tier(speed),
			},
		},
	})
	if err != nil {
		// A concurrent caller already started a restore. That is the
		// outcome we wanted.
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "RestoreAlreadyInProgress" {
			return nil
		}
		return fmt.Errorf("%w: restore %q: %v", ErrRestore, key, err)
	}
	return nil
}

// RestoreStatus derives the restore position from HeadObject. S3 exposes it
// through the x-amz-restore header, which is absent until the first restore
// request.
func (s *S3Store) RestoreStatus(ctx context.Context, key string) (RestoreStatus, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err != nil {
		return RestoreStatus{}, fmt.Errorf("head %q: %w", key, err)
	}

	if out.Restore == nil {
		if Tier(out.StorageClass).Archival() {
			return RestoreStatus{State: StateArchived}, nil
		}
		return RestoreStatus{State: StateNotArchived}, nil
	}
	return parseRestoreHeader(*out.Restore)
}

// parseRestoreHeader decodes values like
//
//	ongoing-request="true"
//	ongoing-request="false", expiry-date="Fri, 21 Dec 2012 00:00:00 GMT"
func parseRestoreHeader(header string) (RestoreStatus, error) {
	if strings.Contains(header, `ongoing-request="true"`) {
		return RestoreStatus{State: StateInProgress}, nil
	}
	if !strings.Contains(header, `ongoing-request="false"`) {
		return RestoreStatus{}, fmt.Errorf("unrecognized restore header %q", header)
	}

	status := RestoreStatus{State: StateCompleted}
	if _, rest, ok := strings.Cut(header, `expiry-date="`); ok {
		if raw, _, ok := strings.Cut(rest, `"`); ok {
			expiry, err := time.Parse(http.TimeFormat, raw)
			if err != nil {
				return RestoreStatus{}, fmt.Errorf("parse restore expiry %q: %w", raw, err)
			}
			status.Expiry = &expiry
		}
	}
	return status, nil
}

func (s *S3Store) Fetch(ctx context.Context, key string) (*Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get %q: %v", ErrFetch, key, err)
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %q: %v", ErrFetch, key, err)
	}

	obj := &Object{Bytes: content}
	if out.ContentType != nil {
		obj.ContentType = *out.ContentType
	}
	return obj, nil
}

func (s *S3Store) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err != nil {
		return fmt.Errorf("%w: delete %q: %v", ErrDelete, key, err)
	}
	return nil
}
