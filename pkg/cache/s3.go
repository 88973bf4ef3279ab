package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures the object-store backend.
type S3Config struct {
	// Bucket is the S3 bucket for cache objects
	Bucket string

	// Prefix is prepended to all object keys (e.g., "querydeck/")
	Prefix string

	// Region is the AWS region
	Region string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	// Expiry is the validity window compared against object LastModified;
	// S3 has no per-object TTL, so staleness is enforced at read and
	// sweep time.
	Expiry time.Duration

	// Timeout for S3 operations
	Timeout time.Duration

	Logger *log.Logger
}

// DefaultS3Config returns sensible defaults.
func DefaultS3Config(bucket string) S3Config {
	return S3Config{
		Bucket:  bucket,
		Prefix:  "querydeck/",
		Expiry:  24 * time.Hour,
		Timeout: 30 * time.Second,
	}
}

// S3Backend stores entries as JSON objects under query/, query_meta/, and
// table/ prefixes. The table/ objects hold the member key list used for
// scoped invalidation.
type S3Backend struct {
	cfg    S3Config
	client *s3.Client
	log    *log.Logger
}

// NewS3Backend creates an S3 cache backend.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &S3Backend{cfg: cfg, client: s3.NewFromConfig(awsCfg, s3Opts...), log: logger}, nil
}

// Name returns "s3".
func (b *S3Backend) Name() string { return "s3" }

func (b *S3Backend) queryKey(key string) string { return b.cfg.Prefix + "query/" + key + ".json" }
func (b *S3Backend) metaKey(key string) string  { return b.cfg.Prefix + "query_meta/" + key + ".json" }
func (b *S3Backend) tableKey(name string) string {
	return b.cfg.Prefix + "table/" + name + ".json"
}

func (b *S3Backend) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.cfg.Timeout)
}

// Put writes the payload and metadata objects and merges the key into
// each referenced table's member list.
func (b *S3Backend) Put(ctx context.Context, key string, tables []string, rs *ResultSet, meta EntryMeta) (int64, error) {
	ctx, cancel := b.opCtx(ctx)
	defer cancel()

	payload, err := json.Marshal(storedResult{
		Columns:     rs.Columns,
		ColumnTypes: rs.ColumnTypes,
		Rows:        rs.Rows,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to serialize result set: %w", err)
	}

	if err := b.putObject(ctx, b.queryKey(key), payload); err != nil {
		return 0, fmt.Errorf("failed to store cache entry: %w", err)
	}

	// Metadata and table-index writes are best-effort.
	if metaBytes, err := json.Marshal(meta); err == nil {
		if err := b.putObject(ctx, b.metaKey(key), metaBytes); err != nil {
			b.log.Printf("cache: failed to persist s3 metadata for %s: %v", key, err)
		}
	}
	for _, t := range tables {
		if err := b.addTableMember(ctx, t, key); err != nil {
			b.log.Printf("cache: failed to index s3 entry %s under %s: %v", key, t, err)
		}
	}

	return int64(len(payload)), nil
}

func (b *S3Backend) putObject(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (b *S3Backend) addTableMember(ctx context.Context, table, key string) error {
	members, _ := b.tableMembers(ctx, table)
	if containsKey(members, key) {
		return nil
	}
	members = append(members, key)
	data, err := json.Marshal(members)
	if err != nil {
		return err
	}
	return b.putObject(ctx, b.tableKey(table), data)
}

func (b *S3Backend) tableMembers(ctx context.Context, table string) ([]string, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.tableKey(table)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}
	var members []string
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// Get fetches the payload object. Missing objects miss; stale objects
// (LastModified beyond the expiry window) are deleted and miss, as are
// undecodable ones.
func (b *S3Backend) Get(ctx context.Context, key string, tables []string) (*ResultSet, error) {
	ctx, cancel := b.opCtx(ctx)
	defer cancel()

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.queryKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer out.Body.Close()

	if out.LastModified != nil && time.Since(*out.LastModified) >= b.cfg.Expiry {
		b.deletePair(ctx, key)
		return nil, ErrMiss
	}

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	var stored storedResult
	if err := json.Unmarshal(data, &stored); err != nil {
		b.log.Printf("cache: %v", &CorruptEntryError{Key: key, Reason: err})
		b.deletePair(ctx, key)
		return nil, ErrMiss
	}

	return &ResultSet{
		Columns:     stored.Columns,
		ColumnTypes: stored.ColumnTypes,
		Rows:        stored.Rows,
	}, nil
}

func (b *S3Backend) deletePair(ctx context.Context, key string) {
	for _, k := range []string{b.queryKey(key), b.metaKey(key)} {
		b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.cfg.Bucket),
			Key:    aws.String(k),
		})
	}
}

// Delete removes the payload/metadata object pair for key.
func (b *S3Backend) Delete(ctx context.Context, key string, tables []string) error {
	ctx, cancel := b.opCtx(ctx)
	defer cancel()
	b.deletePair(ctx, key)
	return nil
}

// DeleteAll removes every object under the three cache prefixes.
func (b *S3Backend) DeleteAll(ctx context.Context) (int, error) {
	removed := 0
	for _, prefix := range []string{"query/", "query_meta/", "table/"} {
		n, err := b.deleteByPrefix(ctx, b.cfg.Prefix+prefix)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (b *S3Backend) deleteByPrefix(ctx context.Context, prefix string) (int, error) {
	removed := 0
	var continuation *string
	for {
		listCtx, cancel := b.opCtx(ctx)
		out, err := b.client.ListObjectsV2(listCtx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		cancel()
		if err != nil {
			return removed, fmt.Errorf("failed to list objects: %w", err)
		}
		if len(out.Contents) > 0 {
			objects := make([]types.ObjectIdentifier, 0, len(out.Contents))
			for _, obj := range out.Contents {
				objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
			}
			delCtx, cancel := b.opCtx(ctx)
			_, err = b.client.DeleteObjects(delCtx, &s3.DeleteObjectsInput{
				Bucket: aws.String(b.cfg.Bucket),
				Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
			})
			cancel()
			if err != nil {
				return removed, fmt.Errorf("failed to delete objects: %w", err)
			}
			removed += len(objects)
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			return removed, nil
		}
		continuation = out.NextContinuationToken
	}
}

// DeleteExpired sweeps query/ objects whose LastModified is past the
// expiry window, removing each stale payload/metadata pair.
func (b *S3Backend) DeleteExpired(ctx context.Context) (int, error) {
	removed := 0
	cutoff := time.Now().Add(-b.cfg.Expiry)
	var continuation *string
	for {
		listCtx, cancel := b.opCtx(ctx)
		out, err := b.client.ListObjectsV2(listCtx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.cfg.Bucket),
			Prefix:            aws.String(b.cfg.Prefix + "query/"),
			ContinuationToken: continuation,
		})
		cancel()
		if err != nil {
			return removed, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range out.Contents {
			if obj.LastModified == nil || obj.LastModified.After(cutoff) {
				continue
			}
			key := strings.TrimSuffix(strings.TrimPrefix(*obj.Key, b.cfg.Prefix+"query/"), ".json")
			delCtx, cancel := b.opCtx(ctx)
			b.deletePair(delCtx, key)
			cancel()
			removed++
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			return removed, nil
		}
		continuation = out.NextContinuationToken
	}
}

// DeleteByTable reads the table member object, removes each member's
// pair, then the member object itself.
func (b *S3Backend) DeleteByTable(ctx context.Context, table string) (int, error) {
	ctx, cancel := b.opCtx(ctx)
	defer cancel()

	members, err := b.tableMembers(ctx, table)
	if err != nil {
		return 0, fmt.Errorf("failed to read table index: %w", err)
	}
	removed := 0
	for _, key := range members {
		b.deletePair(ctx, key)
		removed++
	}
	b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.tableKey(table)),
	})
	return removed, nil
}

// EntryCount counts objects under the query/ prefix.
func (b *S3Backend) EntryCount(ctx context.Context) (int, error) {
	count := 0
	var continuation *string
	for {
		listCtx, cancel := b.opCtx(ctx)
		out, err := b.client.ListObjectsV2(listCtx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.cfg.Bucket),
			Prefix:            aws.String(b.cfg.Prefix + "query/"),
			ContinuationToken: continuation,
		})
		cancel()
		if err != nil {
			return count, fmt.Errorf("failed to list objects: %w", err)
		}
		count += len(out.Contents)
		if out.IsTruncated == nil || !*out.IsTruncated {
			return count, nil
		}
		continuation = out.NextContinuationToken
	}
}

// Ping verifies the bucket is reachable.
func (b *S3Backend) Ping(ctx context.Context) error {
	ctx, cancel := b.opCtx(ctx)
	defer cancel()
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.cfg.Bucket)})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no persistent connection state
// needing teardown.
func (b *S3Backend) Close() error { return nil }

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}
