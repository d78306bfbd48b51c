package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/tehmaze-labs/yubistack/interfaces"
)

// S3KeyStore reads device records from an S3 (or compatible) bucket
// holding the same JSON documents the file key store writes. It is a
// read-only replica: provisioning writes records elsewhere and syncs the
// bucket out of band.
type S3KeyStore struct {
	client     *s3.S3
	bucketName string
	prefix     string
	log        *slog.Logger
}

// NewS3KeyStore creates an S3-backed key store. With empty credentials
// the default AWS credential chain applies.
func NewS3KeyStore(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3KeyStore, error) {
	cfg := aws.Config{Region: aws.String(region)}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3KeyStore{
		client:     s3.New(sess),
		bucketName: bucketName,
		prefix:     strings.Trim(prefix, "/"),
		log:        log,
	}, nil
}

// Lookup fetches and decodes the record object for id.
func (s *S3KeyStore) Lookup(ctx context.Context, id interfaces.PublicID) (interfaces.DeviceRecord, error) {
	key := path.Join(s.prefix, id.String()+".json")

	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if awsErr, ok := err.(awserr.Error); ok && awsErr.Code() == s3.ErrCodeNoSuchKey {
			return interfaces.DeviceRecord{}, interfaces.ErrNoSuchDevice
		}
		s.log.Error("Failed to read from S3",
			slog.String("bucket", s.bucketName),
			slog.String("key", key),
			"err", err)
		return interfaces.DeviceRecord{}, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(io.LimitReader(result.Body, 4096))
	if err != nil {
		return interfaces.DeviceRecord{}, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	var doc deviceDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return interfaces.DeviceRecord{}, fmt.Errorf("%w: corrupt device record: %v", interfaces.ErrBackendUnavailable, err)
	}
	return doc.toRecord()
}
