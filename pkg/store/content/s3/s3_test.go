package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/blobspace/pkg/store/content"
	contenttesting "github.com/marmos91/blobspace/pkg/store/content/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is an in-memory stand-in for a bucket.
type fakeClient struct {
	mu       sync.Mutex
	objects  map[string][]byte
	uploads  map[string]map[int32][]byte
	nextID   int
	aborted  int
	failPart int32
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		objects: make(map[string][]byte),
		uploads: make(map[string]map[int32][]byte),
	}
}

func (f *fakeClient) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if aws.ToString(in.Bucket) != "test-bucket" {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeClient) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeClient) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeClient) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = make(map[int32][]byte)
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeClient) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	number := aws.ToInt32(in.PartNumber)
	if f.failPart != 0 && number == f.failPart {
		return nil, errors.New("injected part failure")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[aws.ToString(in.UploadId)][number] = data
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", number))}, nil
}

func (f *fakeClient) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := f.uploads[aws.ToString(in.UploadId)]
	var buf bytes.Buffer
	for _, part := range in.MultipartUpload.Parts {
		buf.Write(parts[aws.ToInt32(part.PartNumber)])
	}
	f.objects[aws.ToString(in.Key)] = buf.Bytes()
	delete(f.uploads, aws.ToString(in.UploadId))
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeClient) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, aws.ToString(in.UploadId))
	f.aborted++
	return &s3.AbortMultipartUploadOutput{}, nil
}

type recordingMetrics struct {
	mu         sync.Mutex
	operations map[string]int
	multipart  map[string]int
}

func (m *recordingMetrics) ObserveOperation(operation string, _ time.Duration, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[operation]++
}

func (m *recordingMetrics) RecordBytes(string, int64) {}

func (m *recordingMetrics) RecordMultipartUpload(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.multipart[status]++
}

func newTestStore(t *testing.T, client *fakeClient, metrics S3Metrics) *S3ContentStore {
	t.Helper()
	store, err := NewS3ContentStore(context.Background(), S3ContentStoreConfig{
		Client:    client,
		Bucket:    "test-bucket",
		KeyPrefix: "blobspace/",
		PartSize:  minPartSize,
		Metrics:   metrics,
	})
	require.NoError(t, err)
	return store
}

func TestS3ContentStore(t *testing.T) {
	suite := &contenttesting.StoreTestSuite{
		NewStore: func(t *testing.T) content.ContentStore {
			return newTestStore(t, newFakeClient(), nil)
		},
		LargeObjectSize: 2*minPartSize + 1234,
	}
	suite.Run(t)
}

func TestS3ContentStore_KeyPrefix(t *testing.T) {
	client := newFakeClient()
	store := newTestStore(t, client, nil)

	_, err := store.Put(context.Background(), "docs/a", strings.NewReader("x"), 1)
	require.NoError(t, err)

	_, ok := client.objects["blobspace/docs/a"]
	assert.True(t, ok)
}

func TestS3ContentStore_Multipart(t *testing.T) {
	client := newFakeClient()
	metrics := &recordingMetrics{operations: map[string]int{}, multipart: map[string]int{}}
	store := newTestStore(t, client, metrics)

	payload := bytes.Repeat([]byte{7}, 2*minPartSize+10)
	n, err := store.Put(context.Background(), "big/a", bytes.NewReader(payload), -1)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	assert.Equal(t, 3, metrics.operations["UploadPart"])
	assert.Equal(t, 0, metrics.operations["PutObject"])
	assert.Equal(t, 1, metrics.multipart["completed"])
	assert.Equal(t, payload, client.objects["blobspace/big/a"])
}

func TestS3ContentStore_ExactPartSizeUsesPutObject(t *testing.T) {
	client := newFakeClient()
	metrics := &recordingMetrics{operations: map[string]int{}, multipart: map[string]int{}}
	store := newTestStore(t, client, metrics)

	payload := bytes.Repeat([]byte{1}, minPartSize)
	_, err := store.Put(context.Background(), "edge/a", bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)

	assert.Equal(t, 1, metrics.operations["PutObject"])
	assert.Zero(t, metrics.multipart["initiated"])
}

func TestS3ContentStore_MultipartAbortsOnFailure(t *testing.T) {
	client := newFakeClient()
	client.failPart = 2
	store := newTestStore(t, client, nil)

	payload := bytes.Repeat([]byte{3}, 2*minPartSize)
	_, err := store.Put(context.Background(), "big/b", bytes.NewReader(payload), -1)
	require.Error(t, err)

	assert.Equal(t, 1, client.aborted)
	assert.Empty(t, client.uploads)
	_, ok := client.objects["blobspace/big/b"]
	assert.False(t, ok)
}

func TestNewS3ContentStore_Validation(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()

	tests := []struct {
		name string
		cfg  S3ContentStoreConfig
	}{
		{"missing client", S3ContentStoreConfig{Bucket: "test-bucket"}},
		{"missing bucket", S3ContentStoreConfig{Client: client}},
		{"small part", S3ContentStoreConfig{Client: client, Bucket: "test-bucket", PartSize: 1024}},
		{"unknown bucket", S3ContentStoreConfig{Client: client, Bucket: "other"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewS3ContentStore(ctx, tt.cfg)
			assert.Error(t, err)
		})
	}
}
