package objects

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds configuration for S3Provider.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional, for MinIO/LocalStack
	Prefix   string
	Expiry   time.Duration
}

// S3Provider issues presigned URLs against an S3 bucket.
type S3Provider struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	expiry  time.Duration
}

// NewS3Provider loads the default AWS credential chain.
func NewS3Provider(ctx context.Context, cfg S3Config) (*S3Provider, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &S3Provider{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		expiry:  expiry,
	}, nil
}

func (p *S3Provider) objectKey(key string) string { return p.prefix + key }

// UploadURL presigns a PUT that must carry a SHA-256 checksum.
func (p *S3Provider) UploadURL(ctx context.Context, key string) (SignedURL, error) {
	req, err := p.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(p.bucket),
		Key:               aws.String(p.objectKey(key)),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}, s3.WithPresignExpires(p.expiry))
	if err != nil {
		return SignedURL{}, fmt.Errorf("s3 presign put failed: %w", err)
	}
	return SignedURL{URL: req.URL, Method: http.MethodPut, ExpiresAt: time.Now().UTC().Add(p.expiry)}, nil
}

// DownloadURL presigns a GET for an existing object.
func (p *S3Provider) DownloadURL(ctx context.Context, key string) (SignedURL, error) {
	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(key)),
	}, s3.WithPresignExpires(p.expiry))
	if err != nil {
		return SignedURL{}, fmt.Errorf("s3 presign get failed: %w", err)
	}
	return SignedURL{URL: req.URL, Method: http.MethodGet, ExpiresAt: time.Now().UTC().Add(p.expiry)}, nil
}

// Stat reads size and the stored SHA-256 checksum.
func (p *S3Provider) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(p.objectKey(key)),
		ChecksumMode: types.ChecksumModeEnabled,
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return ObjectInfo{}, ErrObjectNotFound
		}
		return ObjectInfo{}, fmt.Errorf("s3 head failed for %s: %w", key, err)
	}
	info := ObjectInfo{Key: key, Size: aws.ToInt64(out.ContentLength)}
	if sum := aws.ToString(out.ChecksumSHA256); sum != "" {
		info.SHA256 = checksumHex(sum)
	}
	return info, nil
}

// Delete removes an object from S3.
func (p *S3Provider) Delete(ctx context.Context, key string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete failed for %s: %w", key, err)
	}
	return nil
}

// checksumHex converts the base64 checksum S3 reports into hex. Composite
// multipart checksums ("<b64>-<parts>") are returned unchanged.
func checksumHex(b64 string) string {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return b64
	}
	return hex.EncodeToString(raw)
}
