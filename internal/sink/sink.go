// Package sink opens the per-replica outputs that stream bytes are written to.
//
// A destination is either a local directory or a bucket URL understood by
// gocloud.dev/blob (gs://, s3://, file://, mem://). Local files are created
// with truncation and receive bytes as they are written. Bucket objects are
// committed when the writer is closed.
package sink

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"gocloud.dev/blob"
)

// Opener creates a fresh output for a replica.
type Opener interface {
	Open(ctx context.Context, name string) (io.WriteCloser, error)
	// Location returns a human readable path for name, used in logs.
	Location(name string) string
	Close() error
}

// New returns a Dir for plain paths and a Bucket for URLs with a scheme.
func New(ctx context.Context, dest string) (Opener, error) {
	if isBucketURL(dest) {
		return OpenBucket(ctx, dest)
	}
	return NewDir(dest)
}

func isBucketURL(dest string) bool {
	u, err := url.Parse(dest)
	if err != nil {
		return false
	}
	// A single letter scheme is a Windows drive, not a bucket.
	return len(u.Scheme) > 1
}

// Dir writes outputs as files under a local directory.
type Dir struct {
	root string
}

// NewDir creates root if needed.
func NewDir(root string) (*Dir, error) {
	if root == "" {
		root = "."
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Dir{root: root}, nil
}

// Open creates (or truncates) the named file.
func (d *Dir) Open(_ context.Context, name string) (io.WriteCloser, error) {
	f, err := os.Create(d.Location(name))
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return f, nil
}

func (d *Dir) Location(name string) string { return filepath.Join(d.root, name) }

func (d *Dir) Close() error { return nil }

// Bucket writes outputs as objects in a blob bucket.
type Bucket struct {
	url    string
	bucket *blob.Bucket
}

// OpenBucket opens the bucket at bucketURL. The matching driver must be
// linked into the binary.
func OpenBucket(ctx context.Context, bucketURL string) (*Bucket, error) {
	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket: %w", err)
	}
	return &Bucket{url: bucketURL, bucket: b}, nil
}

// NewBucket wraps an already opened bucket. The caller keeps ownership of b
// only if it does not call Close.
func NewBucket(b *blob.Bucket, label string) *Bucket {
	return &Bucket{url: label, bucket: b}
}

// Open starts a new object, replacing any existing one when the writer is
// closed. The writer outlives cancellation of ctx so Close commits whatever
// was written before the run stopped.
func (b *Bucket) Open(ctx context.Context, name string) (io.WriteCloser, error) {
	w, err := b.bucket.NewWriter(context.WithoutCancel(ctx), name, &blob.WriterOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return nil, fmt.Errorf("create object %s: %w", name, err)
	}
	return w, nil
}

func (b *Bucket) Location(name string) string { return b.url + " " + name }

func (b *Bucket) Close() error { return b.bucket.Close() }
