package statusstore

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "github.com/Ramsey-B/balsam/pkg/context"
	"github.com/Ramsey-B/balsam/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestMemoryStore_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	frozen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return frozen }

	first, err := store.Upsert(ctx, "k1", models.KeyStatusOK, "alice")
	require.NoError(t, err)
	second, err := store.Upsert(ctx, "k1", models.KeyStatusOK, "alice")
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt), "updated_at must advance even with a frozen clock")

	got, ok, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.KeyStatusOK, got.Status)
}

func TestMemoryStore_LastWriterWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Upsert(ctx, "k", models.KeyStatusKO, "system")
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "k", models.KeyStatusOK, "bob")
	require.NoError(t, err)

	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.KeyStatusOK, got.Status)
	assert.Equal(t, "bob", got.MarkedBy)

	history, err := store.History(ctx, "k")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.KeyStatusKO, history[0].Status)
	assert.Equal(t, models.KeyStatusOK, history[1].Status)
}

func TestMemoryStore_ConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := models.KeyStatusOK
			if i%2 == 0 {
				status = models.KeyStatusKO
			}
			_, err := store.Upsert(ctx, "shared", status, "worker")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := store.History(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, history, 50)

	got, ok, err := store.Get(ctx, "shared")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, history[len(history)-1].Status, got.Status)
}

func TestMemoryStore_BulkGetSkipsClearedAndMissing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, _ = store.Upsert(ctx, "ok", models.KeyStatusOK, "a")
	_, _ = store.Upsert(ctx, "ko", models.KeyStatusKO, "a")
	_, _ = store.Upsert(ctx, "cleared", models.KeyStatusOK, "a")
	_, _ = store.Upsert(ctx, "cleared", models.KeyStatusCleared, "a")

	got, err := store.BulkGet(ctx, []models.ReconciliationKey{"ok", "ko", "cleared", "missing"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, models.KeyStatusOK, got["ok"].Status)
	assert.Equal(t, models.KeyStatusKO, got["ko"].Status)
}

func TestService_MarkUnmarkQuery(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, testLogger())
	ctx := appctx.SetOperator(context.Background(), "carol")

	row, err := svc.Mark(ctx, "k", models.KeyStatusOK)
	require.NoError(t, err)
	assert.Equal(t, "carol", row.MarkedBy)

	got, err := svc.Query(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, models.KeyStatusOK, got.Status)

	require.NoError(t, svc.Unmark(ctx, "k"))

	_, err = svc.Query(ctx, "k")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))

	history, err := svc.History(ctx, "k")
	require.NoError(t, err)
	require.Len(t, history, 2, "unmark keeps the audit trail")
	assert.Equal(t, models.KeyStatusCleared, history[1].Status)
}

func TestService_MarkValidates(t *testing.T) {
	svc := NewService(NewMemoryStore(), testLogger())
	ctx := context.Background()

	_, err := svc.Mark(ctx, "", models.KeyStatusOK)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	_, err = svc.Mark(ctx, "k", models.KeyStatusCleared)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	row, err := svc.Mark(ctx, "k", models.KeyStatusKO)
	require.NoError(t, err)
	assert.Equal(t, SystemOperator, row.MarkedBy)
}

type recordingNotifier struct {
	changes []models.KeyStatus
}

func (n *recordingNotifier) EmitKeyStatusChanged(_ context.Context, status *models.KeyStatus) error {
	n.changes = append(n.changes, *status)
	return nil
}

func TestService_NotifiesOnWrite(t *testing.T) {
	notifier := &recordingNotifier{}
	svc := NewService(NewMemoryStore(), testLogger()).WithNotifier(notifier)
	ctx := appctx.SetOperator(context.Background(), "alice")

	_, err := svc.Mark(ctx, "R1", models.KeyStatusOK)
	require.NoError(t, err)
	require.NoError(t, svc.Unmark(ctx, "R1"))

	require.Len(t, notifier.changes, 2)
	assert.Equal(t, models.KeyStatusOK, notifier.changes[0].Status)
	assert.Equal(t, models.KeyStatusCleared, notifier.changes[1].Status)
	assert.Equal(t, "alice", notifier.changes[1].MarkedBy)
}
