package ledger

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/proofpulse/evidence-ledger/pkg/ha"
)

// Runs against a real PostgreSQL container. Set LEDGER_INTEGRATION=1 and
// make a Docker daemon available.
func TestPostgresAdvisoryLockAppend(t *testing.T) {
	if os.Getenv("LEDGER_INTEGRATION") != "1" {
		t.Skip("set LEDGER_INTEGRATION=1 to run container tests")
	}
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("ledger"),
		tcpostgres.WithUsername("ledger"),
		tcpostgres.WithPassword("ledger"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	store := NewEventStore(db)
	require.NoError(t, ha.NewMigrationLocker(db, "test").WithLock(ctx, store.AutoMigrate))

	locker, err := ha.NewChainLocker(db, ha.ChainLockAdvisory)
	require.NoError(t, err)
	e := NewEngine(store, WithChainLocker(locker))

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Append(ctx, newEvent("proj-pg", "art-1", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	report, err := e.Verify(ctx, "proj-pg", "art-1")
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, int64(n), report.TotalEvents)

	dup := newEvent("proj-pg", "art-2", 0)
	_, err = e.Append(ctx, dup)
	require.NoError(t, err)
	_, err = e.Append(ctx, dup)
	var cerr *ConflictError
	assert.ErrorAs(t, err, &cerr)
}
