package backup

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"acore-backup/internal/errors"
)

// S3Mirror copies dumps to an S3 bucket
type S3Mirror struct {
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Mirror creates an S3 mirror. Static keys are optional; without them
// the default AWS credential chain applies.
func NewS3Mirror(config S3Config, prefix string) (*S3Mirror, error) {
	awsConfig := &aws.Config{Region: aws.String(config.Region)}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.NewTransientIOError("failed to create AWS session", err)
	}

	return &S3Mirror{
		uploader: s3manager.NewUploader(sess),
		bucket:   config.Bucket,
		prefix:   prefix,
	}, nil
}

// Name identifies the mirror in logs
func (m *S3Mirror) Name() string {
	return fmt.Sprintf("s3://%s/%s", m.bucket, m.prefix)
}

// Upload streams a dump file to the bucket
func (m *S3Mirror) Upload(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return errors.WrapError(err, "failed to open dump for upload")
	}
	defer file.Close()

	_, err = m.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:          aws.String(m.bucket),
		Key:             aws.String(m.prefix + key),
		Body:            file,
		ContentType:     aws.String("application/sql"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return errors.NewTransientIOError(fmt.Sprintf("failed to upload %s to S3", key), err)
	}
	return nil
}
