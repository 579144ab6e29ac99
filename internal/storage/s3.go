package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// S3Store stores blobs in an S3-compatible bucket. When a passphrase is
// configured every object is sealed with AES-256-GCM before upload.
type S3Store struct {
	client     *s3.Client
	uploader   *manager.Uploader
	bucket     string
	passphrase string
}

// S3Options configures NewS3Store. Endpoint, AccessKey and SecretKey are for
// S3-compatible servers (MinIO); leave them empty to use the default AWS
// credential chain.
type S3Options struct {
	Bucket     string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Passphrase string
}

func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{
		client:     cli,
		uploader:   manager.NewUploader(cli),
		bucket:     opts.Bucket,
		passphrase: opts.Passphrase,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, ownerID, fileName, contentType string, data []byte) (string, error) {
	key, err := objectKey(uploadsPrefix, ownerID, fileName)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(fileName))
	}
	if err := s.upload(ctx, key, contentType, fileName, data); err != nil {
		return "", err
	}
	return key, nil
}

func (s *S3Store) PutText(ctx context.Context, subdir, ownerID, fileName, text string) (string, error) {
	key, err := objectKey(strings.TrimRight(subdir, "/")+"/", ownerID, fileName)
	if err != nil {
		return "", err
	}
	if err := s.upload(ctx, key, "text/plain; charset=utf-8", fileName, []byte(text)); err != nil {
		return "", err
	}
	return key, nil
}

func (s *S3Store) upload(ctx context.Context, key, contentType, originalName string, data []byte) error {
	sealed := false
	if s.passphrase != "" {
		var err error
		data, err = seal(data, s.passphrase)
		if err != nil {
			return fmt.Errorf("storage: seal: %w", err)
		}
		sealed = true
		contentType = "application/octet-stream"
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"name":      originalName,
			"encrypted": fmt.Sprintf("%t", sealed),
		},
	})
	if err != nil {
		return fmt.Errorf("storage: upload %s: %w", key, err)
	}
	log.Debug().Str("key", key).Int("bytes", len(data)).Bool("sealed", sealed).Msg("blob stored")
	return nil
}

func (s *S3Store) Get(ctx context.Context, ownerID, key string) ([]byte, error) {
	if err := checkOwner(key, ownerID); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", key, err)
	}
	if out.Metadata["encrypted"] == "true" {
		data, err = open(data, s.passphrase)
		if err != nil {
			return nil, fmt.Errorf("storage: open %s: %w", key, err)
		}
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, ownerID, key string) error {
	if err := checkOwner(key, ownerID); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}
