package s3

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Uploader is the subset of s3manager.Uploader the archiver uses.
type Uploader interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// Archiver stores raw test reports in a bucket.
type Archiver struct {
	bucket   string
	uploader Uploader
}

func NewArchiver(bucket, region string) (*Archiver, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create aws session")
	}
	return NewArchiverWithUploader(bucket, s3manager.NewUploader(sess)), nil
}

func NewArchiverWithUploader(bucket string, uploader Uploader) *Archiver {
	return &Archiver{bucket: bucket, uploader: uploader}
}

// Archive uploads body under key and returns its s3:// URI.
func (a *Archiver) Archive(ctx context.Context, key string, body []byte) (string, error) {
	uri := "s3://" + a.bucket + "/" + key
	log.Debugf("archiving report to %s", uri)
	_, err := a.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		ContentType: aws.String("application/json"),
		Body:        bytes.NewReader(body),
	})
	if err != nil {
		return "", errors.Wrapf(err, "upload report to %s", uri)
	}
	log.Info("Report archived to ", uri)
	return uri, nil
}

// ReportKey is reports/<env>/<run-id>.json with the environment lower-cased.
func ReportKey(environment, runID string) string {
	env := strings.ToLower(strings.TrimSpace(environment))
	if env == "" {
		env = "unknown"
	}
	return fmt.Sprintf("reports/%s/%s.json", strings.ReplaceAll(env, " ", "-"), runID)
}
