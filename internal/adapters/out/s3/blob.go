// Package s3 implements the blob store port against an S3-compatible bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bnema/zerowrap"

	"github.com/bnema/stackops/internal/boundaries/out"
	"github.com/bnema/stackops/internal/domain"
)

// api is the subset of the S3 client the store uses.
type api interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Store keeps blobs as objects under a bucket and optional key prefix.
type Store struct {
	client api
	bucket string
	prefix string
	log    zerowrap.Logger
}

// NewStore parses an s3://bucket[/prefix] URL and builds a store using the
// ambient AWS credential chain.
func NewStore(ctx context.Context, rawURL string, log zerowrap.Logger) (*Store, error) {
	bucket, prefix, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Store{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
		log:    log,
	}, nil
}

// NewStoreWithClient builds a store over an existing client, for tests.
func NewStoreWithClient(client api, bucket, prefix string, log zerowrap.Logger) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix, log: log}
}

func parseURL(rawURL string) (bucket, prefix string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse remote url %q: %w", rawURL, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("remote url %q: expected s3://bucket[/prefix]", rawURL)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

func (s *Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Put uploads a blob. The returned size is taken from the consumed stream.
func (s *Store) Put(ctx context.Context, name string, data io.Reader) (int64, error) {
	counter := &countingReader{r: data}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   counter,
	})
	if err != nil {
		return 0, fmt.Errorf("upload %s: %w", name, err)
	}
	s.log.Debug().Str("blob", name).Str("bucket", s.bucket).Int64("size", counter.n).Msg("blob uploaded")
	return counter.n, nil
}

// Get downloads a blob.
func (s *Store) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%s: %w", name, domain.ErrArchiveNotFound)
		}
		return nil, fmt.Errorf("download %s: %w", name, err)
	}
	return obj.Body, nil
}

// List returns blobs whose name starts with prefix, sorted by name.
func (s *Store) List(ctx context.Context, prefix string) ([]out.BlobInfo, error) {
	var infos []out.BlobInfo
	var token *string
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.key(prefix)),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list bucket %s: %w", s.bucket, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			name = strings.TrimPrefix(name, "/")
			info := out.BlobInfo{Name: name, Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				info.ModTime = *obj.LastModified
			}
			infos = append(infos, info)
		}
		if !aws.ToBool(page.IsTruncated) {
			break
		}
		token = page.NextContinuationToken
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Delete removes a blob. A missing object is reported as ErrArchiveNotFound
// so callers see the same behavior as the local store.
func (s *Store) Delete(ctx context.Context, name string) error {
	key := s.key(name)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return fmt.Errorf("%s: %w", name, domain.ErrArchiveNotFound)
		}
		return fmt.Errorf("stat %s: %w", name, err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
