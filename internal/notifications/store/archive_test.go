package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sabiops/internal/types"
)

// memorySink captures the stored blob for round-trip verification.
type memorySink struct {
	oldest time.Time
	count  int
	blob   []byte
	calls  int
}

func (m *memorySink) StoreArchive(ctx context.Context, oldestCreatedAt time.Time, count int, blob []byte) error {
	m.oldest = oldestCreatedAt
	m.count = count
	m.blob = blob
	m.calls++
	return nil
}

func TestZstdArchiver_RoundTrip(t *testing.T) {
	sink := &memorySink{}
	a := NewZstdArchiver(sink, discardLogger())

	records := []types.NotificationRecord{
		{
			ID:        "ntf_2",
			Type:      types.EventInvoiceOverdue,
			Title:     "Invoice overdue",
			Message:   "Invoice INV-042 is 3 days overdue",
			CreatedAt: ts("2025-01-10T00:00:00Z"),
			Data:      map[string]any{"invoice_id": "INV-042"},
		},
		{
			ID:        "ntf_1",
			Type:      types.EventLowStock,
			Title:     "Low stock alert",
			Message:   "Stock is running low",
			CreatedAt: ts("2025-01-05T00:00:00Z"),
			Read:      true,
		},
	}

	require.NoError(t, a.Archive(context.Background(), records))
	require.Equal(t, 1, sink.calls)
	assert.Equal(t, 2, sink.count)
	// Batches arrive newest-first; the oldest timestamp is the last record's.
	assert.True(t, sink.oldest.Equal(ts("2025-01-05T00:00:00Z")))

	decoded, err := DecodeArchive(sink.blob)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, "ntf_2", decoded[0].ID)
	assert.Equal(t, "Invoice INV-042 is 3 days overdue", decoded[0].Message)
	assert.True(t, decoded[1].Read)
}

func TestZstdArchiver_EmptyBatchIsNoop(t *testing.T) {
	sink := &memorySink{}
	a := NewZstdArchiver(sink, discardLogger())

	require.NoError(t, a.Archive(context.Background(), nil))
	assert.Equal(t, 0, sink.calls)
}

func TestDecodeArchive_RejectsGarbage(t *testing.T) {
	_, err := DecodeArchive([]byte("not a zstd frame"))
	assert.Error(t, err)
}
