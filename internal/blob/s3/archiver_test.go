package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lpquant/hedgebot/internal/domain"
)

type fakeWriter struct {
	paths    []string
	contents [][]byte
	err      error
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	w.paths = append(w.paths, path)
	w.contents = append(w.contents, buf.Bytes())
	return nil
}

func (w *fakeWriter) PutMultipart(_ context.Context, _ string, _ io.Reader, _ int64) error {
	return nil
}

type fakeSnapStore struct {
	snapshots []domain.PnlSnapshot
	pruned    *time.Time
}

func (s *fakeSnapStore) ListBefore(_ context.Context, before time.Time) ([]domain.PnlSnapshot, error) {
	var out []domain.PnlSnapshot
	for _, snap := range s.snapshots {
		if snap.CapturedAt.Before(before) {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *fakeSnapStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.pruned = &before
	var n int64
	for _, snap := range s.snapshots {
		if snap.CapturedAt.Before(before) {
			n++
		}
	}
	return n, nil
}

func TestArchiveSnapshots(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeSnapStore{snapshots: []domain.PnlSnapshot{
		{ID: "s1", PositionID: "p1", CapturedAt: cutoff.Add(-time.Hour), PoolUnrealized: decimal.RequireFromString("10.5")},
		{ID: "s2", PositionID: "p1", CapturedAt: cutoff.Add(-2 * time.Hour)},
		{ID: "s3", PositionID: "p1", CapturedAt: cutoff.Add(time.Hour)},
	}}
	writer := &fakeWriter{}
	archiver := NewArchiver(writer, store)

	count, err := archiver.ArchiveSnapshots(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.Len(t, writer.paths, 1)
	assert.Equal(t, "archive/pnl_snapshots/2026-08.jsonl", writer.paths[0])

	lines := strings.Split(strings.TrimRight(string(writer.contents[0]), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"s1"`)

	require.NotNil(t, store.pruned)
	assert.True(t, store.pruned.Equal(cutoff))
}

func TestArchiveSnapshotsNothingToDo(t *testing.T) {
	ctx := context.Background()
	store := &fakeSnapStore{}
	writer := &fakeWriter{}
	archiver := NewArchiver(writer, store)

	count, err := archiver.ArchiveSnapshots(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.paths)
	assert.Nil(t, store.pruned)
}

func TestArchiveSnapshotsUploadFailureSkipsPrune(t *testing.T) {
	ctx := context.Background()
	store := &fakeSnapStore{snapshots: []domain.PnlSnapshot{
		{ID: "s1", CapturedAt: time.Now().Add(-time.Hour)},
	}}
	writer := &fakeWriter{err: errors.New("bucket gone")}
	archiver := NewArchiver(writer, store)

	_, err := archiver.ArchiveSnapshots(ctx, time.Now())
	require.Error(t, err)
	assert.Nil(t, store.pruned)
}
