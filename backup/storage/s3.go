package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// maxConcurrentTransfers bounds simultaneous upload/download calls against
// one S3Provider, the same deadlock-avoiding semaphore pattern
// storage/s3aws.go's HetznerUploadToRemote/HetznerSyncToRemote use to bound
// multi-file transfers.
const maxConcurrentTransfers = 8

// s3Client narrows the AWS SDK surface an S3Provider needs to the subset
// storage/s3_interface.go's S3Client isolates for dependency injection and
// mock-based testing, extended with the delete/list-prefix calls a backup
// provider additionally requires.
type s3Client interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config configures an S3-compatible provider (AWS S3, MinIO, Hetzner
// Cloud Storage, or any endpoint speaking the S3 API).
type S3Config struct {
	Endpoint  string // empty selects AWS's default resolver
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

// S3Provider stores artifacts in an S3-compatible bucket, reusing the
// teacher's concurrent-chunked-upload pattern (a bounded semaphore guarding
// multipart uploads via manager.Uploader) and its MD5-sync integrity
// convention (an md5 object-metadata entry set on every write).
type S3Provider struct {
	client   s3Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	sem      chan struct{}
}

// NewS3Provider builds an S3Provider from static credentials, following
// storage/s3aws.go's HetznerUploadFile endpoint-resolver-override pattern
// when cfg.Endpoint is set (MinIO/Hetzner), or the default AWS resolver
// otherwise.
func NewS3Provider(ctx context.Context, cfg S3Config) (*S3Provider, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		opts = append(opts, config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: endpoint, SigningRegion: region, HostnameImmutable: true}, nil
			})))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &S3Provider{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		sem:      make(chan struct{}, maxConcurrentTransfers),
	}, nil
}

func (p *S3Provider) ID() string { return "s3" }

func (p *S3Provider) key(path string) string {
	path = strings.TrimPrefix(path, "/")
	if p.prefix == "" {
		return path
	}
	return p.prefix + "/" + path
}

func (p *S3Provider) acquire() func() {
	p.sem <- struct{}{}
	return func() { <-p.sem }
}

// EnsureReady checks the bucket exists and is reachable, creating it if
// absent, mirroring s3aws.go's lakeFsEnsureBucketExists probe-then-create
// pattern.
func (p *S3Provider) EnsureReady(ctx context.Context) error {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.bucket)})
	if err == nil {
		return nil
	}
	_, createErr := p.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(p.bucket)})
	if createErr != nil {
		return fmt.Errorf("bucket %s not reachable and could not be created: %w", p.bucket, err)
	}
	return nil
}

// WriteFile uploads data through manager.Uploader (multipart above its
// threshold), stamping an md5 metadata entry the way HetznerUploadFile
// does for later integrity verification.
func (p *S3Provider) WriteFile(ctx context.Context, path string, data []byte, opts WriteOptions) error {
	release := p.acquire()
	defer release()

	sum := md5.Sum(data)
	input := &s3.PutObjectInput{
		Bucket:   aws.String(p.bucket),
		Key:      aws.String(p.key(path)),
		Body:     bytes.NewReader(data),
		Metadata: map[string]string{"md5": hex.EncodeToString(sum[:])},
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if _, err := p.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}
	return nil
}

func (p *S3Provider) ReadFile(ctx context.Context, path string) ([]byte, error) {
	release := p.acquire()
	defer release()

	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(p.key(path))})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (p *S3Provider) RemoveFile(ctx context.Context, path string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(p.key(path))})
	return err
}

func (p *S3Provider) Exists(ctx context.Context, path string) (bool, error) {
	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(p.key(path))})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p *S3Provider) Stat(ctx context.Context, path string) (Info, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(p.key(path))})
	if err != nil {
		return Info{}, err
	}
	info := Info{}
	if out.ContentLength != nil {
		info.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		info.ModifiedAt = *out.LastModified
	}
	return info, nil
}

func (p *S3Provider) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	var token *string
	full := p.key(prefix)
	for {
		page, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(p.bucket),
			Prefix:            aws.String(full),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list objects under %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			rel := strings.TrimPrefix(*obj.Key, p.prefix+"/")
			out = append(out, rel)
		}
		if page.IsTruncated == nil || !*page.IsTruncated {
			break
		}
		token = page.NextContinuationToken
	}
	return out, nil
}

// SupportsStreaming reports false: S3 object writes need a known-length
// body for multipart planning, so callers materialize artifacts in memory
// first rather than streaming through CreateWriteStream.
func (p *S3Provider) SupportsStreaming() bool { return false }

func (p *S3Provider) CreateReadStream(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(p.key(path))})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (p *S3Provider) CreateWriteStream(ctx context.Context, path string) (io.WriteCloser, error) {
	return nil, fmt.Errorf("s3 provider does not support streaming writes")
}
