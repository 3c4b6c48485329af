// Package store implements the persistent bell-notification collection:
// ordered records with read/unread state, event dedup, capacity eviction,
// and age-based retention with archival of purged records.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"sabiops/internal/types"
)

// Options tune the store's dedup, capacity, and retention behavior. Zero
// values fall back to production defaults.
type Options struct {
	// DedupWindow is the span within which structurally identical events
	// (same type and reference id) collapse into one record.
	DedupWindow time.Duration
	// MaxStored caps the record count; exceeding it evicts oldest-first with
	// unread-priority retention.
	MaxStored int
	// Retention is the age past which records are purged regardless of read
	// state.
	Retention time.Duration
}

// Production defaults.
const (
	DefaultDedupWindow = 5 * time.Second
	DefaultMaxStored   = 200
	DefaultRetention   = 30 * 24 * time.Hour
)

func (o Options) withDefaults() Options {
	if o.DedupWindow <= 0 {
		o.DedupWindow = DefaultDedupWindow
	}
	if o.MaxStored <= 0 {
		o.MaxStored = DefaultMaxStored
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	return o
}

// Archiver receives batches of purged records before they are dropped from
// memory. Implementations compress and park them in cold storage.
type Archiver interface {
	Archive(ctx context.Context, records []types.NotificationRecord) error
}

// NopArchiver discards purged records. Used in library-only embedding where
// no cold storage exists.
type NopArchiver struct{}

// Archive implements Archiver as a no-op.
func (NopArchiver) Archive(ctx context.Context, records []types.NotificationRecord) error {
	return nil
}

// Store is the in-memory notification collection. All mutation happens under
// one mutex: ingest, eviction, and read-state changes are read-modify-write
// sequences that must not interleave.
//
// Records are held newest-first and never reordered on read. The unread
// count is recomputed from the record set on every query, never cached, so
// it cannot drift from reality.
//
// One Store serves every tenant in the process. Reads and read-state
// mutations are scoped by account id; capacity eviction and the retention
// sweep operate across the whole collection.
type Store struct {
	opts     Options
	clock    types.Clock
	logger   types.Logger
	archiver Archiver
	validate *validator.Validate

	mu sync.Mutex
	// records is ordered newest-first; index 0 is the latest ingest.
	records []types.NotificationRecord
	// lastSeen maps a dedup key to the creation time of its newest record.
	lastSeen map[string]time.Time
}

// NewStore creates a notification store. A nil clock uses real UTC time; a
// nil archiver discards purged records.
func NewStore(opts Options, clock types.Clock, archiver Archiver, logger types.Logger) *Store {
	if clock == nil {
		clock = types.RealClock{}
	}
	if archiver == nil {
		archiver = NopArchiver{}
	}
	return &Store{
		opts:     opts.withDefaults(),
		clock:    clock,
		logger:   logger,
		archiver: archiver,
		validate: validator.New(),
		lastSeen: make(map[string]time.Time),
	}
}

// Ingest validates the event at the boundary and materializes a record from
// it. A structurally identical event inside the dedup window is silently
// absorbed: Ingest returns (nil, nil) and no record is created. Malformed
// events error; duplicates never do.
func (s *Store) Ingest(ev types.Event) (*types.NotificationRecord, error) {
	if err := s.validate.Struct(ev); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidEvent,
			"event failed ingestion validation", err)
	}
	ev.Type = ev.Type.Normalize()

	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := ev.DedupKey()
	if seen, ok := s.lastSeen[key]; ok && now.Sub(seen) < s.opts.DedupWindow {
		return nil, nil
	}
	s.lastSeen[key] = now

	rec := types.NotificationRecord{
		ID:        "ntf_" + uuid.New().String(),
		AccountID: ev.AccountID,
		Type:      ev.Type,
		Title:     ev.Title,
		Message:   ev.Message,
		CreatedAt: now,
		ActionURL: ev.ActionURL,
		Data:      ev.Data,
	}
	if rec.Title == "" {
		rec.Title = defaultTitle(ev.Type)
	}

	// Prepend: newest-first ordering.
	s.records = append([]types.NotificationRecord{rec}, s.records...)
	s.evictOverCapacityLocked()
	s.pruneDedupIndexLocked(now)

	return &rec, nil
}

// defaultTitle supplies a human-readable title for events that omit one.
func defaultTitle(t types.EventType) string {
	switch t {
	case types.EventLowStock:
		return "Low stock alert"
	case types.EventOutOfStock:
		return "Out of stock"
	case types.EventInvoiceOverdue:
		return "Invoice overdue"
	case types.EventInvoicePaid:
		return "Invoice paid"
	case types.EventPaymentReceived:
		return "Payment received"
	case types.EventUsageWarning:
		return "Approaching plan limit"
	case types.EventUsageLimitReached:
		return "Plan limit reached"
	case types.EventTrialExpiring:
		return "Trial ending soon"
	case types.EventSubscriptionExpired:
		return "Subscription expired"
	case types.EventSystemAlert:
		return "System alert"
	default:
		return "Notification"
	}
}

// evictOverCapacityLocked drops oldest records while over MaxStored.
// Read records go first; unread records are only evicted once no read
// records remain. Caller holds s.mu.
func (s *Store) evictOverCapacityLocked() {
	for len(s.records) > s.opts.MaxStored {
		// Find the oldest read record (highest index, records are
		// newest-first).
		victim := -1
		for i := len(s.records) - 1; i >= 0; i-- {
			if s.records[i].Read {
				victim = i
				break
			}
		}
		if victim == -1 {
			// All remaining records are unread: evict the oldest outright.
			victim = len(s.records) - 1
		}
		s.records = append(s.records[:victim], s.records[victim+1:]...)
	}
}

// pruneDedupIndexLocked drops dedup entries older than the window so the
// index cannot grow without bound. Caller holds s.mu.
func (s *Store) pruneDedupIndexLocked(now time.Time) {
	for key, seen := range s.lastSeen {
		if now.Sub(seen) >= s.opts.DedupWindow {
			delete(s.lastSeen, key)
		}
	}
}

// MarkRead marks one of the account's records read. Marking an already-read
// record is a no-op; an id the account does not own is a not-found AppError,
// indistinguishable from an id that never existed.
func (s *Store) MarkRead(accountID, id string) error {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		if s.records[i].ID != id || s.records[i].AccountID != accountID {
			continue
		}
		if !s.records[i].Read {
			s.records[i].Read = true
			readAt := now
			s.records[i].ReadAt = &readAt
		}
		return nil
	}
	return types.NewAppError(types.ErrCodeNotFoundNotification,
		fmt.Sprintf("notification %s not found", id), nil)
}

// MarkAllRead marks every unread record for the account read and returns how
// many changed. Idempotent: a second call returns 0. Other tenants' records
// are untouched.
func (s *Store) MarkAllRead(accountID string) int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for i := range s.records {
		if s.records[i].AccountID != accountID || s.records[i].Read {
			continue
		}
		s.records[i].Read = true
		readAt := now
		s.records[i].ReadAt = &readAt
		changed++
	}
	return changed
}

// UnreadCount recomputes the account's unread total from the record set.
// Derived on every call rather than maintained incrementally, so it is
// always consistent with the records.
func (s *Store) UnreadCount(accountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i := range s.records {
		if s.records[i].AccountID == accountID && !s.records[i].Read {
			n++
		}
	}
	return n
}

// List returns up to limit of the account's records, newest-first. A
// non-positive limit returns everything the account owns. The returned slice
// is a copy; the store retains exclusive ownership of the underlying records.
func (s *Store) List(accountID string, limit int) []types.NotificationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.NotificationRecord
	for i := range s.records {
		if s.records[i].AccountID != accountID {
			continue
		}
		out = append(out, s.records[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Len returns the current record count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// SweepExpired purges records older than the retention window regardless of
// read state and hands them to the archiver. Returns the purge count. The
// archiver runs outside the lock; a failed archive still purges (retention
// wins over archival completeness) but is logged.
func (s *Store) SweepExpired(ctx context.Context) int {
	now := s.clock.Now()
	cutoff := now.Add(-s.opts.Retention)

	s.mu.Lock()
	// Records are newest-first, so expired records form a suffix.
	split := len(s.records)
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].CreatedAt.After(cutoff) {
			break
		}
		split = i
	}
	purged := make([]types.NotificationRecord, len(s.records)-split)
	copy(purged, s.records[split:])
	s.records = s.records[:split]
	s.mu.Unlock()

	if len(purged) == 0 {
		return 0
	}

	if err := s.archiver.Archive(ctx, purged); err != nil {
		s.logger.Warn("failed to archive purged notifications",
			"count", len(purged),
			"error", err.Error(),
		)
	}
	s.logger.Info("retention sweep purged notifications",
		"count", len(purged),
		"cutoff", cutoff.Format(time.RFC3339),
	)
	return len(purged)
}

// RunSweeper runs the retention sweep on a low-frequency ticker until the
// context is cancelled.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepExpired(ctx)
		}
	}
}
