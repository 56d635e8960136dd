package uploads

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/boostgram/backend/internal/errs"
)

type S3 struct {
	client *s3.Client
	bucket string
	region string
}

func NewS3(ctx context.Context, bucket, region string) (*S3, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errs.Transient("load aws config", err)
	}
	return &S3{client: s3.NewFromConfig(cfg), bucket: bucket, region: region}, nil
}

func (u *S3) Upload(ctx context.Context, name, contentType string, size int64, r io.Reader) (*Attachment, error) {
	kind, err := validate(name, contentType, size)
	if err != nil {
		return nil, err
	}

	key := objectKey(name)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return nil, errs.Transient("s3 upload", err)
	}

	return &Attachment{
		URL:  fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, key),
		Type: kind,
		Name: filepath.Base(name),
	}, nil
}
