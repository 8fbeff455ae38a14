package repositories_test

import (
	"context"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/balsam/internal/repositories"
	"github.com/Ramsey-B/balsam/pkg/database"
	apperrors "github.com/Ramsey-B/balsam/pkg/errors"
	"github.com/Ramsey-B/balsam/pkg/locking"
	"github.com/Ramsey-B/balsam/pkg/models"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getTestDB(t *testing.T) database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if os.Getenv("DB_HOST") == "" {
		t.Skip("DB_HOST not set")
	}

	logger := getTestLogger()
	cfg := database.ConnectionConfig{
		Host:     os.Getenv("DB_HOST"),
		Port:     envOr("DB_PORT", "5432"),
		User:     envOr("DB_USER_NAME", "user"),
		Password: envOr("DB_PASSWORD", "password"),
		Name:     envOr("DB_NAME", "balsam"),
		SSLMode:  "disable",
	}
	db, err := database.Connect(context.Background(), cfg, logger)
	require.NoError(t, err, "Failed to connect to test database")

	migrations := database.NewMigrationService(logger, &database.MigrationConfig{MigrationFolderPath: "../../db/pg"})
	require.NoError(t, migrations.Migrate(db.DB.DB, cfg.Name))

	t.Cleanup(func() { _ = db.Close() })
	return db
}

func assertStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, status, httperror.GetStatusCode(err))
}

func testModel(name string) *models.ProcessingModel {
	return &models.ProcessingModel{
		Name:       name,
		KeyColumns: []string{"ref"},
		ComparePairs: []models.ComparePair{
			{BOColumn: "amount", PartnerColumn: "amount", Kind: models.CompareKindNumeric},
		},
		Rules: []models.ColumnRule{
			{SourceColumn: "ref", TrimSpaces: true, ToUpperCase: true},
		},
	}
}

func TestJobRepository_Lifecycle(t *testing.T) {
	db := getTestDB(t)
	repo := repositories.NewJobRepository(db, getTestLogger())
	ctx := context.Background()

	scope := models.JobScope{OwnerCode: "ACME", ReportDate: "2026-10-15"}
	job := &models.ReconciliationJob{
		ConfigSnapshot: database.NewJSONB(*testModel("job-" + uuid.NewString())),
		Scope:          database.NewJSONB(scope),
		LockKey:        scope.LockKey(),
		LockType:       models.DefaultLockType,
	}
	require.NoError(t, repo.Create(ctx, job))
	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, models.JobStatusPending, job.Status)

	fetched, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, scope, fetched.Scope.GetValue())
	assert.Equal(t, []string{"ref"}, fetched.ConfigSnapshot.GetValue().KeyColumns)

	preparing, err := repo.Transition(ctx, job.ID, models.JobTransition{From: models.JobStatusPending, To: models.JobStatusPreparing})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPreparing, preparing.Status)
	assert.NotNil(t, preparing.StartedAt)
	assert.Equal(t, 1, preparing.Attempts)

	// stale compare-and-set loses
	_, err = repo.Transition(ctx, job.ID, models.JobTransition{From: models.JobStatusPending, To: models.JobStatusPreparing})
	assertStatus(t, err, http.StatusConflict)

	require.NoError(t, repo.UpdateProgress(ctx, job.ID, models.JobProgress{Stage: models.StageMatching, Percent: 50, Sequence: 5}))
	require.NoError(t, repo.UpdateProgress(ctx, job.ID, models.JobProgress{Stage: models.StageNormalizationDone, Percent: 10, Sequence: 3}))
	fetched, err = repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), fetched.Progress.GetValue().Sequence)

	require.NoError(t, repo.RequestCancel(ctx, job.ID))
	requested, err := repo.IsCancelRequested(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, requested)

	_, err = repo.Transition(ctx, job.ID, models.JobTransition{From: models.JobStatusPreparing, To: models.JobStatusProcessing})
	require.NoError(t, err)
	summary := &models.ResultSummary{TotalBO: 2, TotalPartner: 2, Matched: 2, MatchRate: 100}
	done, err := repo.Transition(ctx, job.ID, models.JobTransition{
		From:          models.JobStatusProcessing,
		To:            models.JobStatusCompleted,
		ResultSummary: summary,
	})
	require.NoError(t, err)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, 2, done.ResultSummary.GetValue().Matched)

	// terminal jobs cannot be cancelled
	assertStatus(t, repo.RequestCancel(ctx, job.ID), http.StatusConflict)

	_, err = repo.GetByID(ctx, uuid.New())
	assertStatus(t, err, http.StatusNotFound)
}

func TestJobRepository_TransitionRejectsInvalidEdge(t *testing.T) {
	db := getTestDB(t)
	repo := repositories.NewJobRepository(db, getTestLogger())

	_, err := repo.Transition(context.Background(), uuid.New(), models.JobTransition{
		From: models.JobStatusCompleted,
		To:   models.JobStatusProcessing,
	})
	assertStatus(t, err, http.StatusConflict)
}

func TestLockRepository_AcquireExtendRelease(t *testing.T) {
	db := getTestDB(t)
	repo := repositories.NewLockRepository(db, getTestLogger())
	ctx := context.Background()
	key := "lock-" + uuid.NewString()

	lock, err := repo.Acquire(ctx, locking.Request{LockKey: key, HolderID: "w1", TTL: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "w1", lock.HolderID)
	assert.Equal(t, models.DefaultLockType, lock.LockType)

	_, err = repo.Acquire(ctx, locking.Request{LockKey: key, HolderID: "w2", TTL: time.Minute})
	require.Error(t, err)
	assert.True(t, apperrors.IsLockContentionError(err))
	assert.Contains(t, err.Error(), "w1")

	extended, err := repo.Extend(ctx, lock, 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, extended.ExpiresAt.After(lock.ExpiresAt))

	stranger := *lock
	stranger.HolderID = "w2"
	_, err = repo.Extend(ctx, &stranger, time.Minute)
	assert.True(t, apperrors.IsLockExpiredError(err))

	require.NoError(t, repo.Release(ctx, lock))
	again, err := repo.Acquire(ctx, locking.Request{LockKey: key, HolderID: "w2", TTL: time.Minute})
	require.NoError(t, err)
	require.NoError(t, repo.Release(ctx, again))
}

func TestLockRepository_TakesOverExpiredLease(t *testing.T) {
	db := getTestDB(t)
	repo := repositories.NewLockRepository(db, getTestLogger())
	ctx := context.Background()
	key := "lock-" + uuid.NewString()

	_, err := repo.Acquire(ctx, locking.Request{LockKey: key, HolderID: "w1", TTL: time.Millisecond})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	lock, err := repo.Acquire(ctx, locking.Request{LockKey: key, HolderID: "w2", TTL: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "w2", lock.HolderID)
	require.NoError(t, repo.Release(ctx, lock))
}

func TestLockRepository_SameHolderTakeover(t *testing.T) {
	db := getTestDB(t)
	repo := repositories.NewLockRepository(db, getTestLogger())
	ctx := context.Background()
	key := "lock-" + uuid.NewString()

	lapsed, err := repo.Acquire(ctx, locking.Request{LockKey: key, HolderID: "host-1", TTL: time.Millisecond})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	current, err := repo.Acquire(ctx, locking.Request{LockKey: key, HolderID: "host-1", TTL: time.Minute})
	require.NoError(t, err)
	assert.NotEqual(t, lapsed.Token, current.Token)

	_, err = repo.Extend(ctx, lapsed, time.Minute)
	assert.True(t, apperrors.IsLockExpiredError(err))

	require.NoError(t, repo.Release(ctx, lapsed))
	_, err = repo.Acquire(ctx, locking.Request{LockKey: key, HolderID: "host-2", TTL: time.Minute})
	assert.True(t, apperrors.IsLockContentionError(err))

	require.NoError(t, repo.Release(ctx, current))
}

func TestLockRepository_ConcurrentAcquireHasOneWinner(t *testing.T) {
	db := getTestDB(t)
	repo := repositories.NewLockRepository(db, getTestLogger())
	key := "lock-" + uuid.NewString()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*models.ReconciliationLock
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(holder string) {
			defer wg.Done()
			lock, err := repo.Acquire(context.Background(), locking.Request{LockKey: key, HolderID: holder, TTL: time.Minute})
			if err == nil {
				mu.Lock()
				winners = append(winners, lock)
				mu.Unlock()
			}
		}(uuid.NewString())
	}
	wg.Wait()

	require.Len(t, winners, 1)
	require.NoError(t, repo.Release(context.Background(), winners[0]))
}

func TestKeyStatusRepository_UpsertAndRead(t *testing.T) {
	db := getTestDB(t)
	repo := repositories.NewKeyStatusRepository(db, getTestLogger())
	ctx := context.Background()
	key := models.ReconciliationKey("key-" + uuid.NewString())

	_, found, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	first, err := repo.Upsert(ctx, key, models.KeyStatusKO, "alice")
	require.NoError(t, err)
	second, err := repo.Upsert(ctx, key, models.KeyStatusOK, "bob")
	require.NoError(t, err)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))

	got, found, err := repo.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.KeyStatusOK, got.Status)
	assert.Equal(t, "bob", got.MarkedBy)

	other := models.ReconciliationKey("key-" + uuid.NewString())
	statuses, err := repo.BulkGet(ctx, []models.ReconciliationKey{key, other})
	require.NoError(t, err)
	assert.Len(t, statuses, 1)
	assert.Equal(t, models.KeyStatusOK, statuses[key].Status)

	_, err = repo.Upsert(ctx, key, models.KeyStatusCleared, "alice")
	require.NoError(t, err)
	_, found, err = repo.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	history, err := repo.History(ctx, key)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.KeyStatusKO, history[0].Status)
	assert.Equal(t, models.KeyStatusCleared, history[2].Status)
}

func TestThresholdRepository_Upsert(t *testing.T) {
	db := getTestDB(t)
	repo := repositories.NewThresholdRepository(db, getTestLogger())
	ctx := context.Background()
	owner := "owner-" + uuid.NewString()

	th := &models.Threshold{OwnerCode: owner, OperationType: "PAYMENT", Amount: decimal.RequireFromString("0.05")}
	require.NoError(t, repo.Upsert(ctx, th))
	firstID := th.ID

	replaced := &models.Threshold{OwnerCode: owner, OperationType: "PAYMENT", Amount: decimal.RequireFromString("1.5")}
	require.NoError(t, repo.Upsert(ctx, replaced))
	assert.Equal(t, firstID, replaced.ID)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	var found bool
	for _, row := range all {
		if row.OwnerCode == owner {
			found = true
			assert.True(t, decimal.RequireFromString("1.5").Equal(row.Amount))
		}
	}
	assert.True(t, found)

	require.NoError(t, repo.Delete(ctx, owner, "PAYMENT"))
	assertStatus(t, repo.Delete(ctx, owner, "PAYMENT"), http.StatusNotFound)
}

func TestProcessingModelRepository_SaveAndGet(t *testing.T) {
	db := getTestDB(t)
	repo := repositories.NewProcessingModelRepository(db, getTestLogger())
	ctx := context.Background()

	model := testModel("model-" + uuid.NewString())
	require.NoError(t, repo.Save(ctx, model))

	byID, err := repo.GetByID(ctx, model.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Name, byID.Name)
	assert.Equal(t, model.KeyColumns, byID.KeyColumns)

	byName, err := repo.GetByName(ctx, model.Name)
	require.NoError(t, err)
	assert.Equal(t, model.ID, byName.ID)

	invalid := &models.ProcessingModel{Name: "no-keys"}
	err = repo.Save(ctx, invalid)
	assert.True(t, apperrors.IsConfigurationError(err))

	_, err = repo.GetByName(ctx, "missing-"+uuid.NewString())
	assertStatus(t, err, http.StatusNotFound)
}

func TestReportRepository_CreateIsIdempotent(t *testing.T) {
	db := getTestDB(t)
	jobs := repositories.NewJobRepository(db, getTestLogger())
	reports := repositories.NewReportRepository(db, getTestLogger())
	ctx := context.Background()

	scope := models.JobScope{OwnerCode: "ACME", ReportDate: "2026-10-15"}
	job := &models.ReconciliationJob{
		ConfigSnapshot: database.NewJSONB(*testModel("report-" + uuid.NewString())),
		Scope:          database.NewJSONB(scope),
		LockKey:        scope.LockKey(),
		LockType:       models.DefaultLockType,
	}
	require.NoError(t, jobs.Create(ctx, job))

	report := models.NewReport(job.ID, scope, models.ResultSummary{TotalBO: 3, TotalPartner: 3, Matched: 3, MatchRate: 100})
	require.NoError(t, reports.Create(ctx, &report))
	duplicate := models.NewReport(job.ID, scope, models.ResultSummary{})
	require.NoError(t, reports.Create(ctx, &duplicate))

	got, err := reports.GetByJobID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Matched)
	assert.Equal(t, report.ID, got.ID)
}

func TestRepository_WithinTx(t *testing.T) {
	db := getTestDB(t)
	jobs := repositories.NewJobRepository(db, getTestLogger())
	reports := repositories.NewReportRepository(db, getTestLogger())
	ctx := context.Background()

	tests := []struct {
		name       string
		fnErr      error
		wantStatus models.JobStatus
		wantReport bool
	}{
		{name: "commit keeps report and status", wantStatus: models.JobStatusPreparing, wantReport: true},
		{name: "rollback drops both", fnErr: assert.AnError, wantStatus: models.JobStatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope := models.JobScope{OwnerCode: "ACME", ReportDate: "2026-10-15"}
			job := &models.ReconciliationJob{
				ConfigSnapshot: database.NewJSONB(*testModel("tx-" + uuid.NewString())),
				Scope:          database.NewJSONB(scope),
				LockKey:        "tx-" + uuid.NewString(),
				LockType:       models.DefaultLockType,
			}
			require.NoError(t, jobs.Create(ctx, job))

			err := jobs.WithinTx(ctx, func(ctx context.Context) error {
				report := models.NewReport(job.ID, scope, models.ResultSummary{TotalBO: 1})
				if err := reports.Create(ctx, &report); err != nil {
					return err
				}
				if _, err := jobs.Transition(ctx, job.ID, models.JobTransition{From: models.JobStatusPending, To: models.JobStatusPreparing}); err != nil {
					return err
				}
				return tt.fnErr
			})
			if tt.fnErr != nil {
				require.ErrorIs(t, err, tt.fnErr)
			} else {
				require.NoError(t, err)
			}

			stored, err := jobs.GetByID(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, stored.Status)

			_, err = reports.GetByJobID(ctx, job.ID)
			if tt.wantReport {
				assert.NoError(t, err)
			} else {
				assertStatus(t, err, http.StatusNotFound)
			}
		})
	}
}
