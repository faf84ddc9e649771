// Package backup uploads snapshots of the movie cache to S3-compatible storage.
// It supports AWS S3 and S3-compatible services like MinIO.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cinematic-site/cinematic-go/internal/model"
	"github.com/goccy/go-json"
)

// keyPrefix is where snapshots live inside the bucket.
const keyPrefix = "snapshots/"

// Snapshot is the document written to the bucket.
type Snapshot struct {
	TakenAt    time.Time     `json:"takenAt"`
	LastUpdate *time.Time    `json:"lastUpdate"`
	Movies     []model.Movie `json:"movies"`
}

// S3Client wraps the AWS S3 client for snapshot uploads.
type S3Client struct {
	client *s3.Client // AWS S3 client
	bucket string     // Bucket receiving snapshots
}

// NewS3Client creates a new S3 client for snapshot uploads.
// Parameters:
//   - endpoint: S3 service endpoint URL
//   - region: AWS region (or equivalent for S3-compatible services)
//   - bucket: S3 bucket for snapshots
//   - accessKey: Access key for authentication
//   - secretKey: Secret key for authentication
//
// Returns:
//   - *S3Client: Initialized S3 client
//   - error: Any error that occurred during initialization
func NewS3Client(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string) (*S3Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		// Plain PUTs keep S3-compatible servers happy
		config.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
	}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}
	// Without explicit keys the default AWS credential chain applies
	if accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     accessKey,
					SecretAccessKey: secretKey,
				}, nil
			})))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing is required for MinIO and other S3-compatible services
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = endpoint != ""
	})

	return &S3Client{client: client, bucket: bucket}, nil
}

// Upload writes a snapshot and returns its object key.
func (s *S3Client) Upload(ctx context.Context, snap Snapshot) (string, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	key := keyPrefix + "movies-" + snap.TakenAt.UTC().Format("20060102T150405Z") + ".json"
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}
	return key, nil
}

// PresignGet returns a time-limited download URL for key.
func (s *S3Client) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	res, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return res.URL, nil
}
