package objstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds the parameters for the S3/MinIO backend, including the
// optional impersonation settings spec §4.D describes.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	// ImpersonateRoleARN, when set, is the target principal assumed via
	// STS for signing. Left empty, Sign uses whatever credentials the
	// client was constructed with (static or ambient).
	ImpersonateRoleARN string
	STSEndpoint        string
}

// S3Store stores objects in an S3-compatible object store (MinIO or AWS S3).
type S3Store struct {
	client *minio.Client
	bucket string
	cfg    S3Config
}

// NewS3 initialises a MinIO/S3 client and ensures the bucket exists.
//
// Credential resolution order, per spec §4.D: explicit static
// access/secret key when configured; otherwise ambient credentials
// (credentials.NewIAM auto-detects the container/instance metadata
// endpoint); impersonation, when ImpersonateRoleARN is set, is layered on
// top at Sign time rather than at client construction.
func NewS3(ctx context.Context, cfg S3Config) (*S3Store, error) {
	creds := resolveCredentials(cfg)
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio.New: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket exists check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket %q: %w", cfg.Bucket, err)
		}
	}
	return &S3Store{client: client, bucket: cfg.Bucket, cfg: cfg}, nil
}

// resolveCredentials implements the first two steps of §4.D's resolution
// order: explicit configuration, then ambient/runtime-attached identity.
func resolveCredentials(cfg S3Config) *credentials.Credentials {
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		return credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	}
	return credentials.NewIAM("")
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{})
	return err
}

func (s *S3Store) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+length-1); err != nil {
		return nil, fmt.Errorf("set range: %w", err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Retriable reports whether err represents a transient object-store
// failure (a 5xx response, or anything that isn't a recognized S3 API
// error such as a network failure) as opposed to a terminal 4xx client
// error, per spec §7's "STORAGE_ERROR(5xx)" retriability scope.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == 0 {
		return true
	}
	return resp.StatusCode >= 500
}

func (s *S3Store) Size(ctx context.Context, key string) (int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// Sign mints a V4-signed URL. When ImpersonateRoleARN is configured, it
// first assumes that role via STS (1-hour session per spec §4.D) and
// signs with the resulting temporary credentials instead of the store's
// own client credentials; otherwise it signs directly.
func (s *S3Store) Sign(ctx context.Context, key string, ttl time.Duration, method Method, opts SignOptions) (string, error) {
	client := s.client
	if s.cfg.ImpersonateRoleARN != "" {
		impersonated, err := s.impersonatedClient(ctx)
		if err != nil {
			return "", fmt.Errorf("assume role for signing: %w", err)
		}
		client = impersonated
	}

	reqParams := url.Values{}
	if opts.ContentType != "" {
		reqParams.Set("response-content-type", opts.ContentType)
	}
	if opts.Disposition != "" {
		reqParams.Set("response-content-disposition", opts.Disposition)
	}

	var u *url.URL
	var err error
	switch method {
	case MethodGet:
		u, err = client.PresignedGetObject(ctx, s.bucket, key, ttl, reqParams)
	case MethodPut:
		u, err = client.PresignedPutObject(ctx, s.bucket, key, ttl)
	default:
		return "", fmt.Errorf("unsupported sign method %q", method)
	}
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// impersonatedClient builds a client whose credentials come from assuming
// cfg.ImpersonateRoleARN via credentials.NewSTSAssumeRole at
// cfg.STSEndpoint, scoped to a one-hour session. The principal comes only
// from that configured ARN; it is not resolved from the runtime metadata
// endpoint or from the ambient credential subject.
func (s *S3Store) impersonatedClient(ctx context.Context) (*minio.Client, error) {
	sts, err := credentials.NewSTSAssumeRole(s.cfg.STSEndpoint, credentials.STSAssumeRoleOptions{
		RoleARN:         s.cfg.ImpersonateRoleARN,
		RoleSessionName: "loist-mcp-signer",
		DurationSeconds: int(time.Hour.Seconds()),
	})
	if err != nil {
		return nil, err
	}
	return minio.New(s.cfg.Endpoint, &minio.Options{Creds: sts, Secure: s.cfg.UseSSL})
}
