package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// verdictBatch is how many verdicts go into one archive part.
	verdictBatch = 5000
	// maxPartSearch bounds the search for an unused part key.
	maxPartSearch = 100
)

// VerdictArchiveStore is the part of the verdict store the archiver needs.
type VerdictArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.StoredVerdict, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver. Records are written as JSONL parts
// under archive/<kind>/<YYYY-MM>/part-NNNN.jsonl; existing parts are never
// overwritten.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	reader   domain.BlobReader
	verdicts VerdictArchiveStore
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	verdicts VerdictArchiveStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:   writer,
		reader:   reader,
		verdicts: verdicts,
		audit:    audit,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveCycles uploads the given cycle outputs as one part and returns its
// key. Nothing is written for an empty slice.
func (a *ArchiveImpl) ArchiveCycles(ctx context.Context, outputs []domain.EvolutionCycleOutput) (string, error) {
	if len(outputs) == 0 {
		return "", nil
	}
	buf, err := marshalJSONL(outputs)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive cycles marshal: %w", err)
	}
	path, err := a.upload(ctx, "evolution_cycles", outputs[0].CreatedAt, buf)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive cycles: %w", err)
	}
	a.record(ctx, "archive.evolution_cycles", path, int64(len(outputs)), time.Time{})
	return path, nil
}

// ArchiveVerdicts moves verdicts evaluated before the cutoff to object
// storage in batches and deletes them from the primary store once each batch
// is uploaded. It returns the number of verdicts archived.
func (a *ArchiveImpl) ArchiveVerdicts(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		batch, err := a.verdicts.ListBefore(ctx, before, verdictBatch)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive verdicts query: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		buf, err := marshalJSONL(batch)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive verdicts marshal: %w", err)
		}
		path, err := a.upload(ctx, "exit_verdicts", batch[0].EvaluatedAt, buf)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive verdicts: %w", err)
		}

		// A full batch may stop partway through a timestamp; only delete what
		// is strictly older than the last archived row.
		cut := before
		if len(batch) == verdictBatch {
			cut = batch[len(batch)-1].EvaluatedAt
		}
		deleted, err := a.verdicts.DeleteBefore(ctx, cut)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive verdicts delete: %w", err)
		}
		total += int64(len(batch))
		a.record(ctx, "archive.exit_verdicts", path, int64(len(batch)), before)
		if deleted == 0 || len(batch) < verdictBatch {
			break
		}
	}
	return total, nil
}

// upload writes buf to the next free part under kind/month. Payloads larger
// than one multipart chunk go through the multipart uploader.
func (a *ArchiveImpl) upload(ctx context.Context, kind string, month time.Time, buf []byte) (string, error) {
	path, err := a.nextPath(ctx, archivePrefix(kind, month))
	if err != nil {
		return "", err
	}
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

func (a *ArchiveImpl) nextPath(ctx context.Context, prefix string) (string, error) {
	existing, err := a.reader.List(ctx, prefix)
	if err != nil {
		return "", err
	}
	for i := len(existing); i < len(existing)+maxPartSearch; i++ {
		path := partPath(prefix, i)
		ok, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", err
		}
		if !ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("no free part under %s", prefix)
}

func (a *ArchiveImpl) record(ctx context.Context, event, path string, count int64, before time.Time) {
	detail := map[string]any{"path": path, "count": count}
	if !before.IsZero() {
		detail["before"] = before.Format(time.RFC3339)
	}
	if err := a.audit.Log(ctx, event, detail); err != nil {
		a.logger.Warn("archiver: audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
	a.logger.Info("archiver: part written",
		slog.String("event", event),
		slog.String("path", path),
		slog.Int64("count", count),
	)
}

// archivePrefix partitions archives by the UTC month of their first record.
//
//	archive/evolution_cycles/2026-03/
//	archive/exit_verdicts/2026-03/
func archivePrefix(kind string, month time.Time) string {
	return fmt.Sprintf("archive/%s/%s/", kind, month.UTC().Format("2006-01"))
}

func partPath(prefix string, n int) string {
	return fmt.Sprintf("%spart-%04d.jsonl", prefix, n)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
