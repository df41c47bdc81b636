package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo is one listed archive object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads archive parts. PutMultipart is used for parts larger
// than one upload chunk.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader lists archive parts so writers can pick a free key.
type BlobReader interface {
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves old records to cold storage. ArchiveCycles returns the
// object key written; ArchiveVerdicts returns how many verdicts were moved.
type Archiver interface {
	ArchiveCycles(ctx context.Context, outputs []EvolutionCycleOutput) (string, error)
	ArchiveVerdicts(ctx context.Context, before time.Time) (int64, error)
}
