package impl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/config"
	"github.com/mindspring-backend/services"
)

// s3StorageProvider stores source files in an S3-compatible bucket
// (MinIO, Ceph RGW, AWS). Path-style addressing is forced because most
// self-hosted gateways do not support virtual-hosted buckets.
type s3StorageProvider struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	publicURL string
}

func NewS3StorageProvider(ctx context.Context, cfg config.StorageConfig) (services.StorageProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	return &s3StorageProvider{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
	}, nil
}

func (p *s3StorageProvider) Store(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	key = p.normalizeKey(key)

	input := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	// Only the content type travels with the object. Custom metadata is
	// omitted: some gateways fold it into the request signature and break
	// presigned reads.
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := p.client.PutObject(ctx, input); err != nil {
		return "", apperrors.NewExternalService("storage", "Failed to store file").WithCause(err)
	}

	if p.publicURL != "" {
		return fmt.Sprintf("%s/%s", p.publicURL, key), nil
	}
	return fmt.Sprintf("%s/%s", p.bucket, key), nil
}

func (p *s3StorageProvider) Retrieve(ctx context.Context, key string) ([]byte, error) {
	key = p.normalizeKey(key)

	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, apperrors.NewNotFound("file", key)
		}
		return nil, apperrors.NewExternalService("storage", "Failed to retrieve file").WithCause(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperrors.NewExternalService("storage", "Failed to read file body").WithCause(err)
	}
	return data, nil
}

func (p *s3StorageProvider) Delete(ctx context.Context, key string) (bool, error) {
	key = p.normalizeKey(key)

	if _, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("storage delete failed")
		return false, err
	}
	return true, nil
}

func (p *s3StorageProvider) Exists(ctx context.Context, key string) (bool, error) {
	key = p.normalizeKey(key)

	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p *s3StorageProvider) GetSignedURL(ctx context.Context, key string, expiresIn time.Duration) (string, error) {
	key = p.normalizeKey(key)

	req, err := p.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiresIn))
	if err != nil {
		return "", apperrors.NewExternalService("storage", "Failed to sign URL").WithCause(err)
	}
	return req.URL, nil
}

// normalizeKey strips a leading "<bucket>/" so callers can pass either the
// bare key or the bucket-qualified form Store returns.
func (p *s3StorageProvider) normalizeKey(key string) string {
	return strings.TrimPrefix(key, p.bucket+"/")
}

type memoryObject struct {
	data        []byte
	contentType string
}

// memoryStorageProvider keeps objects in a map. It stands in for S3 in
// development and tests when no storage credentials are configured.
type memoryStorageProvider struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	// signedBase, when set, is prepended to keys by GetSignedURL so tests
	// can serve stored bytes over httptest.
	signedBase string
}

func NewMemoryStorageProvider() services.StorageProvider {
	return &memoryStorageProvider{objects: make(map[string]memoryObject)}
}

// NewMemoryStorageProviderWithBase returns a memory provider whose signed
// URLs resolve under the given base URL.
func NewMemoryStorageProviderWithBase(base string) services.StorageProvider {
	return &memoryStorageProvider{
		objects:    make(map[string]memoryObject),
		signedBase: strings.TrimSuffix(base, "/"),
	}
}

func (p *memoryStorageProvider) Store(_ context.Context, key string, data []byte, contentType string) (string, error) {
	p.mu.Lock()
	p.objects[key] = memoryObject{data: data, contentType: contentType}
	p.mu.Unlock()
	return "memory/" + key, nil
}

func (p *memoryStorageProvider) Retrieve(_ context.Context, key string) ([]byte, error) {
	p.mu.RLock()
	obj, ok := p.objects[key]
	p.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotFound("file", key)
	}
	return obj.data, nil
}

func (p *memoryStorageProvider) Delete(_ context.Context, key string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.objects[key]; !ok {
		return false, nil
	}
	delete(p.objects, key)
	return true, nil
}

func (p *memoryStorageProvider) Exists(_ context.Context, key string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.objects[key]
	return ok, nil
}

func (p *memoryStorageProvider) GetSignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.objects[key]; !ok {
		return "", apperrors.NewNotFound("file", key)
	}
	if p.signedBase != "" {
		return p.signedBase + "/" + key, nil
	}
	return "memory://" + key, nil
}
