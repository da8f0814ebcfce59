package out

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one stored archive.
type BlobInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// BlobStore is a backup archive sink: a local directory or a remote
// bucket-style store. Names are flat; ordering and retention grouping is
// derived from the archive naming convention.
type BlobStore interface {
	Put(ctx context.Context, name string, data io.Reader) (int64, error)
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Delete(ctx context.Context, name string) error
}
