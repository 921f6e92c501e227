package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lpquant/hedgebot/internal/domain"
)

// SnapshotArchiveStore provides the snapshot queries the archiver needs, not
// the full domain.SnapshotStore. The Postgres store satisfies it implicitly.
type SnapshotArchiveStore interface {
	// ListBefore returns all snapshots captured strictly before the cutoff,
	// oldest first.
	ListBefore(ctx context.Context, before time.Time) ([]domain.PnlSnapshot, error)
	// DeleteBefore removes all snapshots captured strictly before the cutoff
	// and returns how many rows went away.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver by exporting aged P&L snapshots to
// JSONL in object storage and pruning the exported rows from the primary
// store. The prune runs only after the upload succeeded, so a failed upload
// leaves the database untouched.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	snapshots SnapshotArchiveStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, snapshots SnapshotArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		snapshots: snapshots,
	}
}

// ArchiveSnapshots exports all snapshots captured before the cutoff to
// archive/pnl_snapshots/YYYY-MM.jsonl, prunes them from the store, and
// returns the number of archived records.
func (a *ArchiveImpl) ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error) {
	snapshots, err := a.snapshots.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots query: %w", err)
	}
	if len(snapshots) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(snapshots)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots marshal: %w", err)
	}

	path := archivePath("pnl_snapshots", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots upload: %w", err)
	}

	deleted, err := a.snapshots.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(snapshots)), fmt.Errorf("s3blob: prune archived snapshots: %w", err)
	}
	return deleted, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/pnl_snapshots/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
