package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// SignalSource is the slice of domain.SignalStore the archiver reads.
type SignalSource interface {
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.Signal, error)
}

// SignalArchiver implements domain.Archiver by exporting signals as JSONL.
// Archived rows stay in the primary store; signals are append-only.
type SignalArchiver struct {
	writer  domain.BlobWriter
	signals SignalSource
}

// NewArchiver creates a SignalArchiver.
func NewArchiver(writer domain.BlobWriter, signals SignalSource) *SignalArchiver {
	return &SignalArchiver{writer: writer, signals: signals}
}

// ArchiveSignals uploads every signal created in [from, to) to
// archive/signals/YYYY-MM/<from>_<to>.jsonl and returns how many were written.
// An empty window uploads nothing.
func (a *SignalArchiver) ArchiveSignals(ctx context.Context, from, to time.Time) (int64, error) {
	if !to.After(from) {
		return 0, fmt.Errorf("s3blob: archive signals: empty window %s..%s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	signals, err := a.signals.ListCreatedBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive signals query: %w", err)
	}
	if len(signals) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(signals)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive signals marshal: %w", err)
	}

	path := archivePath("signals", from, to)
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive signals upload: %w", err)
	}
	return int64(len(signals)), nil
}

// archivePath partitions archives by the month the window starts in:
//
//	archive/signals/2026-01/20260101T000000Z_20260201T000000Z.jsonl
func archivePath(kind string, from, to time.Time) string {
	const stamp = "20060102T150405Z"
	from, to = from.UTC(), to.UTC()
	return fmt.Sprintf("archive/%s/%s/%s_%s.jsonl", kind, from.Format("2006-01"), from.Format(stamp), to.Format(stamp))
}

// marshalJSONL encodes records as newline-delimited JSON.
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

// Compile-time interface check.
var _ domain.Archiver = (*SignalArchiver)(nil)
