// Package objectstore keeps one JSON array document per symbol and interval
// in an S3 bucket.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"klinewatch/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectAPI is the part of the S3 client the store uses.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Store struct {
	api    ObjectAPI
	bucket string
	prefix string

	mu    sync.Mutex
	locks map[model.Key]*sync.Mutex
}

func New(api ObjectAPI, bucket, prefix string) *Store {
	return &Store{
		api:    api,
		bucket: bucket,
		prefix: prefix,
		locks:  make(map[model.Key]*sync.Mutex),
	}
}

// NewS3Client builds an S3 client from the default credential chain.
// endpoint is optional and switches to path-style addressing.
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (s *Store) Name() string { return "s3" }

// ObjectKey returns the document key for k, e.g. "BTCUSDT-data-1m.json".
func (s *Store) ObjectKey(k model.Key) string {
	return fmt.Sprintf("%s%s-data-%s.json", s.prefix, k.Symbol, k.Interval)
}

func (s *Store) lock(k model.Key) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[k]
	if !ok {
		l = &sync.Mutex{}
		s.locks[k] = l
	}
	return l
}

// Write appends rec to its pair's document. A missing document starts empty.
// Concurrent writers in other processes can still lose updates.
func (s *Store) Write(ctx context.Context, rec model.Record) error {
	k := rec.Key()
	l := s.lock(k)
	l.Lock()
	defer l.Unlock()

	records, err := s.load(ctx, k)
	if err != nil {
		return err
	}
	records = append(records, rec)

	body, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.ObjectKey(k), err)
	}

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.ObjectKey(k)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", s.ObjectKey(k), err)
	}
	return nil
}

// ListRecords returns up to limit stored records for k, newest first.
// limit <= 0 returns all of them.
func (s *Store) ListRecords(ctx context.Context, k model.Key, limit int) ([]model.Record, error) {
	records, err := s.load(ctx, k)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].EventTime > records[j].EventTime
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *Store) load(ctx context.Context, k model.Key) ([]model.Record, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.ObjectKey(k)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s: %w", s.ObjectKey(k), err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.ObjectKey(k), err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var records []model.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.ObjectKey(k), err)
	}
	return records, nil
}
