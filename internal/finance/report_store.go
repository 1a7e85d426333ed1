package finance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrReportsDisabled is returned when no reports bucket is configured.
var ErrReportsDisabled = errors.New("settlement reports are not configured")

// S3API is the subset of the S3 client used by ReportStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// PresignAPI is satisfied by *s3.PresignClient.
type PresignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ReportStore uploads generated reports to S3 and hands out presigned links.
type ReportStore struct {
	s3      S3API
	presign PresignAPI
	bucket  string
	prefix  string
	ttl     time.Duration
}

// NewReportStore creates a store. If bucket is empty the store is disabled.
func NewReportStore(client S3API, presign PresignAPI, bucket, clinicID string, ttl time.Duration) *ReportStore {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ReportStore{s3: client, presign: presign, bucket: bucket, prefix: "clinics/" + clinicID + "/", ttl: ttl}
}

// Enabled reports whether uploads can happen.
func (s *ReportStore) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3 != nil && s.presign != nil
}

// Report points at an uploaded report.
type Report struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PutPDF uploads body under name and returns a presigned download link.
func (s *ReportStore) PutPDF(ctx context.Context, name string, body []byte) (*Report, error) {
	if !s.Enabled() {
		return nil, ErrReportsDisabled
	}
	key := s.prefix + "reports/" + strings.TrimPrefix(name, "/")
	_, err := s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return nil, fmt.Errorf("finance: s3 put %s: %w", key, err)
	}

	signed, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return nil, fmt.Errorf("finance: presign %s: %w", key, err)
	}
	return &Report{Key: key, URL: signed.URL, ExpiresAt: time.Now().Add(s.ttl)}, nil
}
