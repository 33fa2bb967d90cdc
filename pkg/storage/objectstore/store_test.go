package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"klinewatch/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemS3() *memS3 { return &memS3{objects: make(map[string][]byte)} }

func (m *memS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (m *memS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func rec(sym string, iv model.Interval, t int64) model.Record {
	return model.Record{Symbol: sym, Interval: iv, EventTime: t, Close: float64(t)}
}

// go test -v --run TestWriteAppendsToDocument
func TestWriteAppendsToDocument(t *testing.T) {
	api := newMemS3()
	s := New(api, "bucket", "klines/")
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, rec("BTCUSDT", model.Interval1m, 1)))
	require.NoError(t, s.Write(ctx, rec("BTCUSDT", model.Interval1m, 2)))
	require.NoError(t, s.Write(ctx, rec("ETHUSDT", model.Interval1m, 3)))

	k := model.Key{Symbol: "BTCUSDT", Interval: model.Interval1m}
	assert.Equal(t, "klines/BTCUSDT-data-1m.json", s.ObjectKey(k))
	assert.Contains(t, api.objects, "bucket/klines/BTCUSDT-data-1m.json")
	assert.Contains(t, api.objects, "bucket/klines/ETHUSDT-data-1m.json")

	got, err := s.ListRecords(ctx, k, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].EventTime)
	assert.Equal(t, int64(1), got[1].EventTime)

	got, err = s.ListRecords(ctx, k, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

// go test -v --run TestListMissingDocument
func TestListMissingDocument(t *testing.T) {
	s := New(newMemS3(), "bucket", "")
	got, err := s.ListRecords(context.Background(), model.Key{Symbol: "XRPUSDT", Interval: model.Interval5m}, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// go test -v --run TestWritePutFailure
func TestWritePutFailure(t *testing.T) {
	api := newMemS3()
	api.putErr = errors.New("access denied")
	s := New(api, "bucket", "")

	err := s.Write(context.Background(), rec("BTCUSDT", model.Interval1m, 1))
	assert.ErrorIs(t, err, api.putErr)
}

// go test -v --run TestWriteCorruptDocument
func TestWriteCorruptDocument(t *testing.T) {
	api := newMemS3()
	api.objects["bucket/BTCUSDT-data-1m.json"] = []byte("{not json")
	s := New(api, "bucket", "")

	assert.Error(t, s.Write(context.Background(), rec("BTCUSDT", model.Interval1m, 1)))
}
