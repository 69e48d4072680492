package backup

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/tgfleet/internal/netx"
)

type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
}

// S3 uploads backups through pre-signed PUT URLs and prunes old ones with
// the bucket API.
type S3 struct {
	client  *s3.Client
	presign *s3.PresignClient
	http    *http.Client
	cfg     S3Config
}

func NewS3(ctx context.Context, c S3Config) (*S3, error) {
	if c.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(c.Region)}
	if c.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3{
		client:  client,
		presign: s3.NewPresignClient(client),
		http:    &http.Client{Timeout: 10 * time.Minute},
		cfg:     c,
	}, nil
}

func (u *S3) key(name string) string {
	return path.Join(u.cfg.Prefix, name)
}

func (u *S3) Upload(ctx context.Context, name string, body []byte) error {
	req, err := u.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(u.key(name)),
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return fmt.Errorf("presign: %w", err)
	}
	return netx.PutPresigned(ctx, u.http, req.URL, bytes.NewReader(body), int64(len(body)))
}

func (u *S3) Prune(ctx context.Context, keep int) error {
	prefix := u.cfg.Prefix
	if prefix != "" {
		prefix += "/"
	}

	var names []string
	p := s3.NewListObjectsV2Paginator(u.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(u.cfg.Bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list backups: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if !strings.Contains(name, "/") && IsBackupName(name) {
				names = append(names, name)
			}
		}
	}

	for _, name := range Expired(names, keep) {
		_, err := u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(u.cfg.Bucket),
			Key:    aws.String(u.key(name)),
		})
		if err != nil {
			return fmt.Errorf("delete %s: %w", name, err)
		}
	}
	return nil
}
