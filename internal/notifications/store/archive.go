package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"sabiops/internal/types"
)

// ArchiveSink persists a compressed archive batch. The db-backed
// implementation writes the blob to the server of record; tests use an
// in-memory sink.
type ArchiveSink interface {
	// StoreArchive persists one compressed batch. oldestCreatedAt is the
	// creation time of the oldest record in the batch, count the number of
	// records it holds.
	StoreArchive(ctx context.Context, oldestCreatedAt time.Time, count int, blob []byte) error
}

// ZstdArchiver serializes purged notification batches to JSON, compresses
// them with zstd, and hands the blob to an ArchiveSink. Purged records are
// cold data read back only for support and audit, so the batch format
// optimizes for size over random access.
type ZstdArchiver struct {
	sink   ArchiveSink
	logger types.Logger
}

// Compile-time assertion that ZstdArchiver implements Archiver.
var _ Archiver = (*ZstdArchiver)(nil)

// NewZstdArchiver creates an archiver writing to the given sink.
func NewZstdArchiver(sink ArchiveSink, logger types.Logger) *ZstdArchiver {
	return &ZstdArchiver{sink: sink, logger: logger}
}

// Archive compresses the batch and stores it. An empty batch is a no-op.
func (a *ZstdArchiver) Archive(ctx context.Context, records []types.NotificationRecord) error {
	if len(records) == 0 {
		return nil
	}

	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("ZstdArchiver.Archive: marshal batch: %w", err)
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("ZstdArchiver.Archive: create encoder: %w", err)
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		return fmt.Errorf("ZstdArchiver.Archive: compress batch: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("ZstdArchiver.Archive: flush encoder: %w", err)
	}

	// Records arrive newest-first from the sweep; the oldest is last.
	oldest := records[len(records)-1].CreatedAt

	if err := a.sink.StoreArchive(ctx, oldest, len(records), buf.Bytes()); err != nil {
		return fmt.Errorf("ZstdArchiver.Archive: store blob: %w", err)
	}

	a.logger.Info("archived purged notification batch",
		"count", len(records),
		"raw_bytes", len(raw),
		"compressed_bytes", buf.Len(),
	)
	return nil
}

// DecodeArchive decompresses and decodes a stored archive blob. Used by
// support tooling to inspect parked batches.
func DecodeArchive(blob []byte) ([]types.NotificationRecord, error) {
	dec, err := zstd.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("DecodeArchive: create decoder: %w", err)
	}
	defer dec.Close()

	var records []types.NotificationRecord
	if err := json.NewDecoder(dec).Decode(&records); err != nil {
		return nil, fmt.Errorf("DecodeArchive: decode batch: %w", err)
	}
	return records, nil
}
