package artifacts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/custodian-labs/custodian/pkg/contracts"
)

// S3API is the subset of the S3 client the exporter uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// contentHashKey is the object metadata key carrying the artifact's SHA-256,
// used to skip re-uploading unchanged artifacts on repeated exports.
const contentHashKey = "content-sha256"

// S3Exporter uploads a finished session's artifact directory to a bucket.
type S3Exporter struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Exporter builds an exporter from the ambient AWS configuration.
func NewS3Exporter(ctx context.Context, bucket, prefix string) (*S3Exporter, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", contracts.ErrConfig)
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", contracts.ErrConfig, err)
	}
	return &S3Exporter{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

// NewS3ExporterWithClient builds an exporter around an existing client.
func NewS3ExporterWithClient(client S3API, bucket, prefix string) *S3Exporter {
	return &S3Exporter{client: client, bucket: bucket, prefix: prefix}
}

// ExportSession uploads every artifact in the session directory under
// <prefix>/<session_id>/<file>. Objects whose stored content hash already
// matches are skipped, so re-exporting a session is idempotent. Returns the
// exported object keys in stable order, skipped ones included.
func (e *S3Exporter) ExportSession(ctx context.Context, sess *Session) ([]string, error) {
	entries, err := os.ReadDir(sess.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read session directory: %v", contracts.ErrIO, err)
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		if !ent.IsDir() {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)

	keys := make([]string, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(sess.Dir, name))
		if err != nil {
			return keys, fmt.Errorf("%w: read artifact %s: %v", contracts.ErrIO, name, err)
		}
		key := path.Join(e.prefix, sess.ID, name)
		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])
		if e.objectUpToDate(ctx, key, hash) {
			keys = append(keys, key)
			continue
		}
		_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(e.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentTypeFor(name)),
			Metadata:    map[string]string{contentHashKey: hash},
		})
		if err != nil {
			return keys, fmt.Errorf("%w: upload %s: %v", contracts.ErrIO, key, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// objectUpToDate reports whether the remote object already carries the given
// content hash. Any head failure, a missing object included, means upload.
func (e *S3Exporter) objectUpToDate(ctx context.Context, key, hash string) bool {
	head, err := e.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
	})
	if err != nil || head == nil {
		return false
	}
	return head.Metadata[contentHashKey] == hash
}

func contentTypeFor(name string) string {
	switch filepath.Ext(name) {
	case ".json":
		return "application/json"
	case ".jsonl":
		return "application/x-ndjson"
	case ".md":
		return "text/markdown"
	default:
		return "application/octet-stream"
	}
}
