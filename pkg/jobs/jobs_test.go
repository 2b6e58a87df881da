package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/proofpulse/evidence-ledger/pkg/authz"
	"github.com/proofpulse/evidence-ledger/pkg/ledger"
)

func setupStore(t *testing.T) *RunStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "jobs.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	s := NewRunStore(db)
	require.NoError(t, s.AutoMigrate())
	return s
}

// fakeVerifier returns canned reports. When block is set, VerifyAll waits
// for it to be closed.
type fakeVerifier struct {
	mu      sync.Mutex
	reports []*ledger.VerifyReport
	err     error
	block   chan struct{}
	calls   int
}

func (f *fakeVerifier) VerifyAll(ctx context.Context, concurrency int) ([]*ledger.VerifyReport, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.reports, f.err
}

func mixedReports() []*ledger.VerifyReport {
	idx := int64(2)
	return []*ledger.VerifyReport{
		{ProjectID: "proj-1", ArtifactID: "a-1", Valid: true, TotalEvents: 3},
		{ProjectID: "proj-1", ArtifactID: "a-2", Valid: false, TotalEvents: 4, FirstMismatchIndex: &idx, Reason: "event_hash_mismatch"},
		{ProjectID: "proj-2", ArtifactID: "a-1", Valid: true, TotalEvents: 1},
	}
}

func TestRunNowRecordsInvalidChains(t *testing.T) {
	store := setupStore(t)
	sw := NewSweeper(&fakeVerifier{reports: mixedReports()}, store, nil, nil)

	run, err := sw.RunNow(context.Background(), TriggerManual, "alice")
	require.NoError(t, err)
	assert.Equal(t, RunStateSucceeded, run.State)
	assert.Equal(t, 3, run.ChainsChecked)
	assert.Equal(t, []string{ledger.ChainKey("proj-1", "a-2")}, run.InvalidChains)

	stored, err := store.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.IsTerminal())
	assert.Equal(t, "alice", stored.RequestedBy)
	assert.Equal(t, TriggerManual, stored.Trigger)
	assert.Equal(t, run.InvalidChains, stored.InvalidChains)
	require.NotNil(t, stored.FinishedAt)
}

func TestRunNowRecordsFailure(t *testing.T) {
	store := setupStore(t)
	boom := errors.New("database unavailable")
	sw := NewSweeper(&fakeVerifier{err: boom}, store, nil, nil)

	run, err := sw.RunNow(context.Background(), TriggerSchedule, "scheduler")
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, run)

	stored, err := store.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStateFailed, stored.State)
	assert.Equal(t, "database unavailable", stored.LastError)
}

func TestTriggerRejectsOverlap(t *testing.T) {
	store := setupStore(t)
	block := make(chan struct{})
	fv := &fakeVerifier{reports: mixedReports(), block: block}
	sw := NewSweeper(fv, store, nil, nil)

	run, err := sw.Trigger(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, RunStateRunning, run.State)

	_, err = sw.Trigger(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrSweepRunning)
	_, err = sw.RunNow(context.Background(), TriggerSchedule, "scheduler")
	assert.ErrorIs(t, err, ErrSweepRunning)

	close(block)
	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), run.ID)
		return err == nil && got != nil && got.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	sw.wg.Wait()

	_, err = sw.RunNow(context.Background(), TriggerSchedule, "scheduler")
	assert.NoError(t, err)
}

func TestMarkInterruptedAndRetention(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	old := base.Add(-40 * 24 * time.Hour)

	require.NoError(t, store.Create(ctx, &SweepRun{ID: "stale", Trigger: TriggerSchedule, RequestedBy: "scheduler", State: RunStateRunning, StartedAt: base}))
	require.NoError(t, store.Create(ctx, &SweepRun{ID: "old", Trigger: TriggerSchedule, RequestedBy: "scheduler", State: RunStateSucceeded, StartedAt: old, FinishedAt: &old}))

	n, err := store.MarkInterrupted(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	stale, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, RunStateFailed, stale.State)
	assert.Equal(t, "interrupted by restart", stale.LastError)

	sw := NewSweeper(&fakeVerifier{}, store, DefaultConfig(), nil)
	sw.now = func() time.Time { return base }
	sw.cleanup(ctx)

	gone, err := store.Get(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, gone)
	kept, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestListPagesNewestFirst(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"r0", "r1", "r2"} {
		require.NoError(t, store.Create(ctx, &SweepRun{
			ID: id, Trigger: TriggerSchedule, RequestedBy: "scheduler",
			State: RunStateSucceeded, StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	page, next, err := store.List(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "r2", page[0].ID)
	assert.Equal(t, "r1", page[1].ID)

	page, next, err = store.List(ctx, 2, next)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "r0", page[0].ID)
	assert.Empty(t, next)

	_, _, err = store.List(ctx, 2, "not-a-time")
	assert.ErrorIs(t, err, ErrInvalidPageToken)
}

func TestRunDisabledReturns(t *testing.T) {
	sw := NewSweeper(&fakeVerifier{}, setupStore(t), &Config{Enabled: false}, nil)
	done := make(chan struct{})
	go func() {
		sw.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled sweeper should return immediately")
	}
}

func TestRunSweepsOnSchedule(t *testing.T) {
	store := setupStore(t)
	fv := &fakeVerifier{reports: mixedReports()}
	sw := NewSweeper(fv, store, &Config{Enabled: true, Interval: 20 * time.Millisecond, Concurrency: 2}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		runs, _, err := store.List(context.Background(), 10, "")
		return err == nil && len(runs) >= 2
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	runs, _, err := store.List(context.Background(), 10, "")
	require.NoError(t, err)
	for _, r := range runs {
		assert.Equal(t, TriggerSchedule, r.Trigger)
		assert.True(t, r.IsTerminal())
	}
}

func TestRouter(t *testing.T) {
	store := setupStore(t)
	sw := NewSweeper(&fakeVerifier{reports: mixedReports()}, store, nil, nil)
	r := Router(store, sw, authz.HeaderRoleExtractor)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(authz.RoleHeader, "operator")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var started SweepRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.NotEmpty(t, started.ID)

	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), started.ID)
		return err == nil && got != nil && got.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	sw.wg.Wait()

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+started.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got SweepRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, RunStateSucceeded, got.State)
	assert.Len(t, got.InvalidChains, 1)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?pageToken=bad", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []SweepRun `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Items, 1)
}
