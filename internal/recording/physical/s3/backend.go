// Package s3 provides an S3-backed recording backend.
//
// Every record is one object. Object keys carry the fields queries filter
// on, so Count and Runs never fetch object bodies:
//
//	<prefix><run>/<seq>-<session>-<stream>-<position>
//
// with every number in fixed-width hex.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gezibash/arc-conduit/internal/recording/physical"
	"github.com/gezibash/arc-conduit/internal/storage"
)

const (
	KeyBucket          = "bucket"
	KeyRegion          = "region"
	KeyEndpoint        = "endpoint"
	KeyPrefix          = "prefix"
	KeyAccessKeyID     = "access_key_id"
	KeySecretAccessKey = "secret_access_key"
	KeyForcePathStyle  = "force_path_style"
)

func init() {
	physical.Register("s3", NewFactory, Defaults)
}

// Defaults returns the default configuration for the S3 backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyRegion:          "us-east-1",
		KeyEndpoint:        "",
		KeyPrefix:          "recordings/",
		KeyAccessKeyID:     "",
		KeySecretAccessKey: "",
		KeyForcePathStyle:  "false",
	}
}

// NewFactory creates a new S3 backend from a configuration map.
func NewFactory(ctx context.Context, config map[string]string) (physical.Backend, error) {
	o := storage.NewOptions("s3", config)

	bucket, err := o.Require(KeyBucket)
	if err != nil {
		return nil, err
	}
	region := o.String(KeyRegion, "us-east-1")
	endpoint := o.String(KeyEndpoint, "")
	prefix := o.String(KeyPrefix, "")
	accessKeyID := o.String(KeyAccessKeyID, "")
	secretAccessKey := o.String(KeySecretAccessKey, "")

	forcePathStyle, err := o.Bool(KeyForcePathStyle, false)
	if err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, o.Err("", "failed to load AWS config", err)
	}

	client := s3.NewFromConfig(cfg, func(so *s3.Options) {
		if endpoint != "" {
			so.BaseEndpoint = aws.String(endpoint)
		}
		so.UsePathStyle = forcePathStyle
	})

	// Fail fast: verify bucket access.
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, o.Err(KeyBucket, "bucket not accessible", err)
	}

	slog.Info("s3 recording backend initialized", "bucket", bucket, "region", region, "prefix", prefix)
	return NewWithClient(client, bucket, prefix), nil
}

// Backend is an S3 implementation of physical.Backend.
type Backend struct {
	client *s3.Client
	bucket string
	prefix string
	closed atomic.Bool
}

// NewWithClient creates a new backend with an existing S3 client.
func NewWithClient(client *s3.Client, bucket, prefix string) *Backend {
	return &Backend{client: client, bucket: bucket, prefix: prefix}
}

func (b *Backend) key(r *physical.Record) string {
	return fmt.Sprintf("%s%s/%016x-%08x-%08x-%016x",
		b.prefix, r.RunID, uint64(r.Seq), uint32(r.SessionID), uint32(r.StreamID), uint64(r.Position))
}

// objectKey is the parsed form of a record key.
type objectKey struct {
	runID     string
	seq       int64
	sessionID int32
	streamID  int32
	position  int64
}

func (b *Backend) parseKey(key string) (objectKey, error) {
	rest, ok := strings.CutPrefix(key, b.prefix)
	if !ok {
		return objectKey{}, fmt.Errorf("%w: key %q outside prefix", physical.ErrCorrupt, key)
	}
	runID, name, ok := strings.Cut(rest, "/")
	parts := strings.Split(name, "-")
	if !ok || len(parts) != 4 {
		return objectKey{}, fmt.Errorf("%w: key %q", physical.ErrCorrupt, key)
	}
	var vals [4]uint64
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 64)
		if err != nil {
			return objectKey{}, fmt.Errorf("%w: key %q: %v", physical.ErrCorrupt, key, err)
		}
		vals[i] = v
	}
	return objectKey{
		runID:     runID,
		seq:       int64(vals[0]),
		sessionID: int32(uint32(vals[1])),
		streamID:  int32(uint32(vals[2])),
		position:  int64(vals[3]),
	}, nil
}

// Append stores a record as one object.
func (b *Backend) Append(ctx context.Context, r *physical.Record) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	data, err := physical.Encode(r)
	if err != nil {
		return err
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(r)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 append: %w", err)
	}
	return nil
}

// Scan returns matching records in (RunID, Seq) order.
func (b *Backend) Scan(ctx context.Context, q physical.Query) ([]*physical.Record, error) {
	var out []*physical.Record
	err := b.list(ctx, q, func(key string, _ objectKey, _ int64) (bool, error) {
		rec, err := b.get(ctx, key)
		if err != nil {
			return false, err
		}
		out = append(out, rec)
		return !q.Full(len(out)), nil
	})
	return out, err
}

// Count returns the number of matching records, ignoring the limit.
func (b *Backend) Count(ctx context.Context, q physical.Query) (int64, error) {
	var n int64
	err := b.list(ctx, q, func(string, objectKey, int64) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}

// list walks record keys in order and calls fn for each key matching q.
func (b *Backend) list(ctx context.Context, q physical.Query, fn func(key string, k objectKey, size int64) (bool, error)) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	}
	if q.RunID != "" {
		in.Prefix = aws.String(b.prefix + q.RunID + "/")
	}
	if after := q.After; after != (physical.Cursor{}) {
		// '~' sorts after the '-' that follows the seq field.
		in.StartAfter = aws.String(fmt.Sprintf("%s%s/%016x~", b.prefix, after.RunID, uint64(after.Seq)))
	}

	p := s3.NewListObjectsV2Paginator(b.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("s3 list: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			k, err := b.parseKey(key)
			if err != nil {
				return err
			}
			if !q.MatchKey(k.runID, k.seq, k.streamID, k.sessionID, k.position) {
				continue
			}
			more, err := fn(key, k, aws.ToInt64(obj.Size))
			if err != nil || !more {
				return err
			}
		}
	}
	return nil
}

func (b *Backend) get(ctx context.Context, key string) (*physical.Record, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s vanished during scan", physical.ErrCorrupt, key)
		}
		return nil, fmt.Errorf("s3 get: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 get: %w", err)
	}
	return physical.Decode(data)
}

// Runs lists recorded run ids in order.
func (b *Backend) Runs(ctx context.Context) ([]string, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(b.prefix),
		Delimiter: aws.String("/"),
	})
	var runs []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 runs: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			run := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), b.prefix), "/")
			runs = append(runs, run)
		}
	}
	return runs, nil
}

// Stats returns storage statistics from object listings.
func (b *Backend) Stats(ctx context.Context) (*physical.Stats, error) {
	var n, size int64
	err := b.list(ctx, physical.Query{}, func(_ string, _ objectKey, sz int64) (bool, error) {
		n++
		size += sz
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return &physical.Stats{Records: n, SizeBytes: size, BackendType: "s3"}, nil
}

// Close is a no-op; the S3 SDK client needs no cleanup.
func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var respErr interface{ HTTPStatusCode() int }
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404
}
