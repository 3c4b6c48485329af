package db

import (
	"context"
	"time"

	"sabiops/internal/notifications/guard"
	"sabiops/internal/notifications/store"
	"sabiops/internal/types"
)

// NotificationArchiveRepo persists compressed batches of purged
// notifications. Archives are cold append-only data: written by the
// retention sweep, read back only by support tooling.
type NotificationArchiveRepo struct {
	db DBTX
}

// Compile-time assertion that NotificationArchiveRepo implements
// store.ArchiveSink.
var _ store.ArchiveSink = (*NotificationArchiveRepo)(nil)

// NewNotificationArchiveRepo creates a new NotificationArchiveRepo backed by
// the given database connection (pool or transaction).
func NewNotificationArchiveRepo(db DBTX) *NotificationArchiveRepo {
	return &NotificationArchiveRepo{db: db}
}

// StoreArchive appends one compressed batch to notification_archives.
func (r *NotificationArchiveRepo) StoreArchive(ctx context.Context, oldestCreatedAt time.Time, count int, blob []byte) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO notification_archives (oldest_created_at, record_count, blob, archived_at)
		 VALUES ($1, $2, $3, now())`,
		oldestCreatedAt, count, blob,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to store notification archive", err)
	}
	return nil
}

// PendingEventRepo is the pull-based fallback event source used while push
// delivery is degraded. Events land in pending_events from the ingestion
// queue worker; fetching claims them so a crashed consumer cannot
// double-surface a batch it already handed off.
type PendingEventRepo struct {
	db DBTX
	// batchSize caps how many events one poll claims.
	batchSize int
}

// Compile-time assertion that PendingEventRepo implements guard.Fetcher.
var _ guard.Fetcher = (*PendingEventRepo)(nil)

// NewPendingEventRepo creates a new PendingEventRepo backed by the given
// database connection (pool or transaction).
func NewPendingEventRepo(db DBTX) *PendingEventRepo {
	return &PendingEventRepo{db: db, batchSize: 100}
}

// FetchPending claims up to batchSize undelivered events, oldest first.
// The claim and the read are one statement so concurrent pollers never
// fetch the same batch.
func (r *PendingEventRepo) FetchPending(ctx context.Context) ([]types.Event, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE pending_events
		 SET delivered_at = now()
		 WHERE id IN (
		     SELECT id FROM pending_events
		     WHERE delivered_at IS NULL
		     ORDER BY created_at ASC
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING account_id, event_type, reference_id, title, message, action_url, data`,
		r.batchSize,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim pending events", err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var ev types.Event
		if err := rows.Scan(
			&ev.AccountID,
			&ev.Type,
			&ev.ReferenceID,
			&ev.Title,
			&ev.Message,
			&ev.ActionURL,
			&ev.Data,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan pending event row", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating pending event rows", err)
	}

	return events, nil
}
