package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sabiops/internal/types"
)

// fakeNotificationStore scripts the store contract for handler tests. Like
// the real store it filters every operation by the acting account.
type fakeNotificationStore struct {
	records     []types.NotificationRecord
	markReadErr error
	markedRead  []string
	markedAll   int
}

func (f *fakeNotificationStore) List(accountID string, limit int) []types.NotificationRecord {
	var out []types.NotificationRecord
	for _, rec := range f.records {
		if rec.AccountID != accountID {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (f *fakeNotificationStore) MarkRead(accountID, id string) error {
	if f.markReadErr != nil {
		return f.markReadErr
	}
	for i := range f.records {
		if f.records[i].ID == id && f.records[i].AccountID == accountID {
			f.records[i].Read = true
			f.markedRead = append(f.markedRead, id)
			return nil
		}
	}
	return types.NewAppError(types.ErrCodeNotFoundNotification, "notification "+id+" not found", nil)
}

func (f *fakeNotificationStore) MarkAllRead(accountID string) int {
	n := 0
	for i := range f.records {
		if f.records[i].AccountID == accountID && !f.records[i].Read {
			f.records[i].Read = true
			n++
		}
	}
	f.markedAll++
	return n
}

func (f *fakeNotificationStore) UnreadCount(accountID string) int {
	n := 0
	for _, rec := range f.records {
		if rec.AccountID == accountID && !rec.Read {
			n++
		}
	}
	return n
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mountNotificationRoutes mounts the handler behind a stand-in for the
// account middleware so requests carry an acting account.
func mountNotificationRoutes(store NotificationStore) http.Handler {
	return mountNotificationRoutesAs(store, "acct_1")
}

func mountNotificationRoutesAs(store NotificationStore, accountID string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(types.WithAccountID(req.Context(), accountID)))
		})
	})
	NewNotificationHandler(store, testLogger()).RegisterRoutes(r)
	return r
}

func notificationFixtures() []types.NotificationRecord {
	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	return []types.NotificationRecord{
		{ID: "ntf_2", AccountID: "acct_1", Type: types.EventInvoiceOverdue, Title: "Invoice overdue", Message: "m2", CreatedAt: base.Add(time.Minute)},
		{ID: "ntf_1", AccountID: "acct_1", Type: types.EventLowStock, Title: "Low stock alert", Message: "m1", CreatedAt: base, Read: true},
	}
}

func TestNotificationList(t *testing.T) {
	router := mountNotificationRoutes(&fakeNotificationStore{records: notificationFixtures()})

	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data NotificationListResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body.Data.Notifications, 2)
	assert.Equal(t, "ntf_2", body.Data.Notifications[0].ID)
	assert.Equal(t, 1, body.Data.UnreadCount)
}

func TestNotificationList_LimitParam(t *testing.T) {
	router := mountNotificationRoutes(&fakeNotificationStore{records: notificationFixtures()})

	req := httptest.NewRequest(http.MethodGet, "/notifications?limit=1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data NotificationListResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body.Data.Notifications, 1)
}

func TestNotificationList_BadLimit(t *testing.T) {
	router := mountNotificationRoutes(&fakeNotificationStore{})

	for _, raw := range []string{"zero", "-1", "0"} {
		req := httptest.NewRequest(http.MethodGet, "/notifications?limit="+raw, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", raw)
	}
}

func TestNotificationList_EmptyIsArrayNotNull(t *testing.T) {
	router := mountNotificationRoutes(&fakeNotificationStore{})

	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Contains(t, rec.Body.String(), `"notifications":[]`)
}

func TestNotificationUnreadCount(t *testing.T) {
	router := mountNotificationRoutes(&fakeNotificationStore{records: notificationFixtures()})

	req := httptest.NewRequest(http.MethodGet, "/notifications/unread-count", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unread_count":1`)
}

func TestNotificationMarkRead(t *testing.T) {
	store := &fakeNotificationStore{records: notificationFixtures()}
	router := mountNotificationRoutes(store)

	req := httptest.NewRequest(http.MethodPost, "/notifications/ntf_2/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ntf_2"}, store.markedRead)
	assert.Contains(t, rec.Body.String(), `"unread_count":0`)
}

func TestNotificationMarkRead_NotFound(t *testing.T) {
	store := &fakeNotificationStore{
		markReadErr: types.NewAppError(types.ErrCodeNotFoundNotification, "notification ntf_x not found", nil),
	}
	router := mountNotificationRoutes(store)

	req := httptest.NewRequest(http.MethodPost, "/notifications/ntf_x/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeNotFoundNotification))
}

func TestNotificationMarkAllRead(t *testing.T) {
	store := &fakeNotificationStore{records: notificationFixtures()}
	router := mountNotificationRoutes(store)

	req := httptest.NewRequest(http.MethodPost, "/notifications/read-all", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"updated":1`)
	assert.Contains(t, rec.Body.String(), `"unread_count":0`)
}

func TestNotification_AccountScoping(t *testing.T) {
	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	store := &fakeNotificationStore{records: []types.NotificationRecord{
		{ID: "ntf_a", AccountID: "acct_1", Type: types.EventLowStock, Title: "Low stock alert", Message: "m1", CreatedAt: base},
		{ID: "ntf_b", AccountID: "acct_2", Type: types.EventInvoiceOverdue, Title: "Invoice overdue", Message: "m2", CreatedAt: base},
	}}

	// Listing as acct_2 never exposes acct_1's records.
	router := mountNotificationRoutesAs(store, "acct_2")
	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data NotificationListResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Data.Notifications, 1)
	assert.Equal(t, "ntf_b", body.Data.Notifications[0].ID)
	assert.Equal(t, 1, body.Data.UnreadCount)

	// Marking another tenant's record is a 404, and read-all only touches
	// the acting account.
	req = httptest.NewRequest(http.MethodPost, "/notifications/ntf_a/read", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/notifications/read-all", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"updated":1`)
	assert.False(t, store.records[0].Read, "acct_1's record must stay unread")
}
