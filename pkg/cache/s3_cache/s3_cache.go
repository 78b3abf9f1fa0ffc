// Package s3_cache stores records as objects in an S3 bucket.
package s3_cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/pmkol/cachestorage/pkg/cache"
	"github.com/pmkol/cachestorage/pkg/utils"
)

const recordExt = ".rec"

var nopLogger = zap.NewNop()

// Client is the subset of *s3.Client used by S3Cache.
type Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

type S3CacheOpts struct {
	// Client cannot be nil.
	Client Client

	Bucket string

	// Prefix is prepended to every object key.
	Prefix string

	// Timeout of a single request. Default is 10s.
	Timeout time.Duration

	Logger *zap.Logger
}

func (opts *S3CacheOpts) Init() error {
	if opts.Client == nil {
		return errors.New("nil client")
	}
	if len(opts.Bucket) == 0 {
		return errors.New("empty bucket")
	}
	utils.SetDefaultNum(&opts.Timeout, time.Second*10)
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

// S3Cache is a cache.RecordStore. Object keys are a hash of the entry key,
// the entry key itself is kept inside the record.
type S3Cache struct {
	opts S3CacheOpts
}

var _ cache.RecordStore = (*S3Cache)(nil)

func NewS3Cache(opts S3CacheOpts) (*S3Cache, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &S3Cache{opts: opts}, nil
}

// NewClient builds a client from the default AWS credential chain.
func NewClient(ctx context.Context, region string) (*s3.Client, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if len(region) > 0 {
		optFns = append(optFns, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// NewBackend opens a cache.Backend over the records under opts.Prefix.
func NewBackend(opts S3CacheOpts, storeOpts cache.StoreOpts) (*cache.StoreBackend, error) {
	c, err := NewS3Cache(opts)
	if err != nil {
		return nil, err
	}
	return cache.NewStoreBackend(c, storeOpts)
}

func (c *S3Cache) objectKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return c.opts.Prefix + hex.EncodeToString(sum[:]) + recordExt
}

func (c *S3Cache) Load(key string) (*cache.Record, error) {
	r, err := c.get(c.objectKey(key))
	if err != nil {
		return nil, err
	}
	if r.Key != key {
		return nil, fmt.Errorf("%w: key collision for %q", cache.ErrCorruptRecord, key)
	}
	return r, nil
}

func (c *S3Cache) get(objectKey string) (*cache.Record, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	defer cancel()
	out, err := c.opts.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.opts.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	r := new(cache.Record)
	if err := r.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return r, nil
}

func (c *S3Cache) Save(r *cache.Record) error {
	b, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	defer cancel()
	_, err = c.opts.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.opts.Bucket),
		Key:           aws.String(c.objectKey(r.Key)),
		Body:          bytes.NewReader(b),
		ContentLength: aws.Int64(int64(len(b))),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// Remove never reports cache.ErrNotFound, S3 deletes are idempotent.
func (c *S3Cache) Remove(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	defer cancel()
	_, err := c.opts.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.opts.Bucket),
		Key:    aws.String(c.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// List downloads every record under the prefix.
func (c *S3Cache) List() ([]cache.RecordInfo, error) {
	ctx := context.Background()
	p := s3.NewListObjectsV2Paginator(c.opts.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.opts.Bucket),
		Prefix: aws.String(c.opts.Prefix),
	})

	var infos []cache.RecordInfo
	for p.HasMorePages() {
		pageCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		page, err := p.NextPage(pageCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			k := aws.ToString(obj.Key)
			if !strings.HasSuffix(k, recordExt) {
				continue
			}
			r, err := c.get(k)
			if err != nil {
				if errors.Is(err, cache.ErrCorruptRecord) || errors.Is(err, cache.ErrNotFound) {
					c.opts.Logger.Warn("skipping unreadable record", zap.String("object", k), zap.Error(err))
					continue
				}
				return nil, err
			}
			infos = append(infos, cache.RecordInfo{Key: r.Key, Seq: r.Seq, Size: r.Size()})
		}
	}
	return infos, nil
}

func (c *S3Cache) Close() error {
	return nil
}
