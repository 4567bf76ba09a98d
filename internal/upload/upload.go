// Package upload stores recorded audio clips in S3 and produces the durable
// URLs that generation requests reference.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Uploader stores audio clips for an organization.
type Uploader interface {
	// UploadAudio stores the clip and returns its durable public URL.
	UploadAudio(ctx context.Context, orgID, name, mimeType string, data []byte) (string, error)
}

// S3Uploader implements Uploader against an S3 bucket.
type S3Uploader struct {
	client *s3.Client
	bucket string
	region string

	// now is stubbed in tests to pin the object key timestamp.
	now func() time.Time
}

var _ Uploader = (*S3Uploader)(nil)

// NewS3Uploader creates an uploader for the given bucket.
func NewS3Uploader(client *s3.Client, bucket, region string) *S3Uploader {
	return &S3Uploader{
		client: client,
		bucket: bucket,
		region: region,
		now:    time.Now,
	}
}

// audioKey builds the object key: {orgID}/recordings/{timestamp}-{name}.
func (u *S3Uploader) audioKey(orgID, name string) string {
	return fmt.Sprintf("%s/recordings/%d-%s", orgID, u.now().UnixMilli(), sanitizeName(name))
}

// UploadAudio stores the clip and returns its public object URL.
func (u *S3Uploader) UploadAudio(ctx context.Context, orgID, name, mimeType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("upload audio: empty clip")
	}
	if mimeType == "" {
		mimeType = "audio/webm"
	}

	key := u.audioKey(orgID, name)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &u.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("upload audio %s: %w", key, err)
	}

	url := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, key)
	log.Info().
		Str("organizationId", orgID).
		Str("key", key).
		Int("bytes", len(data)).
		Msg("Audio clip uploaded")
	return url, nil
}

// sanitizeName strips path separators and spaces from a client-supplied
// filename before it lands in an object key.
func sanitizeName(name string) string {
	if name == "" {
		return "recording.webm"
	}
	replacer := strings.NewReplacer("/", "-", "\\", "-", " ", "-")
	return replacer.Replace(name)
}
