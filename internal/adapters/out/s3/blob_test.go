package s3

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/stackops/internal/domain"
)

type fakeObject struct {
	data    []byte
	modTime time.Time
}

type fakeClient struct {
	objects map[string]fakeObject
	pageLen int
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: map[string]fakeObject{}}
}

func (f *fakeClient) PutObject(_ context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = fakeObject{data: data, modTime: time.Now()}
	return &awss3.PutObjectOutput{}, nil
}

func (f *fakeClient) GetObject(_ context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data))}, nil
}

func (f *fakeClient) ListObjectsV2(_ context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			keys = append(keys, key)
		}
	}
	// Stable order so pagination tokens are reproducible.
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		for i, key := range keys {
			if key == aws.ToString(in.ContinuationToken) {
				start = i
				break
			}
		}
	}

	pageLen := f.pageLen
	if pageLen == 0 {
		pageLen = len(keys)
	}
	end := start + pageLen
	if end > len(keys) {
		end = len(keys)
	}

	page := &awss3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, key := range keys[start:end] {
		obj := f.objects[key]
		page.Contents = append(page.Contents, types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(obj.data))),
			LastModified: aws.Time(obj.modTime),
		})
	}
	if end < len(keys) {
		page.NextContinuationToken = aws.String(keys[end])
	}
	return page, nil
}

func (f *fakeClient) DeleteObject(_ context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &awss3.DeleteObjectOutput{}, nil
}

func (f *fakeClient) HeadObject(_ context.Context, in *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &awss3.HeadObjectOutput{}, nil
}

func TestParseURL(t *testing.T) {
	bucket, prefix, err := parseURL("s3://backups/acme/archives")
	require.NoError(t, err)
	assert.Equal(t, "backups", bucket)
	assert.Equal(t, "acme/archives", prefix)

	bucket, prefix, err = parseURL("s3://backups")
	require.NoError(t, err)
	assert.Equal(t, "backups", bucket)
	assert.Empty(t, prefix)

	_, _, err = parseURL("/var/backups")
	require.Error(t, err)
}

func TestPutGetRoundTrip(t *testing.T) {
	client := newFakeClient()
	store := NewStoreWithClient(client, "backups", "acme", zerowrap.Default())

	size, err := store.Put(context.Background(), "a.tar.gz", strings.NewReader("payload"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), size)
	assert.Contains(t, client.objects, "acme/a.tar.gz")

	rc, err := store.Get(context.Background(), "a.tar.gz")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestGetMissingBlob(t *testing.T) {
	store := NewStoreWithClient(newFakeClient(), "backups", "", zerowrap.Default())

	_, err := store.Get(context.Background(), "missing.tar.gz")
	require.ErrorIs(t, err, domain.ErrArchiveNotFound)
}

func TestListPaginatesAndStripsPrefix(t *testing.T) {
	client := newFakeClient()
	client.pageLen = 2
	store := NewStoreWithClient(client, "backups", "acme", zerowrap.Default())

	for _, name := range []string{"acme_full_1.tar.gz", "acme_full_2.tar.gz", "acme_full_3.tar.gz", "acme_config_1.tar.gz"} {
		_, err := store.Put(context.Background(), name, strings.NewReader("x"))
		require.NoError(t, err)
	}

	blobs, err := store.List(context.Background(), "acme_full_")
	require.NoError(t, err)
	require.Len(t, blobs, 3)
	assert.Equal(t, "acme_full_1.tar.gz", blobs[0].Name)
	assert.Equal(t, "acme_full_3.tar.gz", blobs[2].Name)
	assert.Equal(t, int64(1), blobs[0].Size)
	assert.False(t, blobs[0].ModTime.IsZero())
}

func TestDeleteMissingBlob(t *testing.T) {
	client := newFakeClient()
	store := NewStoreWithClient(client, "backups", "", zerowrap.Default())

	err := store.Delete(context.Background(), "missing.tar.gz")
	require.ErrorIs(t, err, domain.ErrArchiveNotFound)

	_, err = store.Put(context.Background(), "a.tar.gz", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, store.Delete(context.Background(), "a.tar.gz"))
	assert.Empty(t, client.objects)
}
