//go:build integration

package db

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tclog "github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

type nopLogger struct{}

func (*nopLogger) Printf(_ string, _ ...any) {}

var _ tclog.Logger = (*nopLogger)(nil)

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

// testDSN returns TEST_DATABASE_URL, or starts one shared Postgres container
// for the package when it is unset.
func testDSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		container, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("ats_sync_test"),
			postgres.WithUsername("testuser"),
			postgres.WithPassword("testpass"),
			postgres.BasicWaitStrategies(),
			tc.WithLogger(&nopLogger{}),
		)
		if err != nil {
			containerErr = err
			return
		}
		containerDSN, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	if containerErr != nil {
		t.Skipf("no TEST_DATABASE_URL and postgres container unavailable: %v", containerErr)
	}
	return containerDSN
}

func getTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := testDSN(t)
	require.NoError(t, MigrateUp(dsn))

	db, err := Connect(context.Background(), dsn)
	require.NoError(t, err, "Failed to connect to test database")

	// Clean up test data before each test
	ctx := context.Background()
	_, err = db.pool.Exec(ctx, `TRUNCATE job_postings, candidates, global_questions, pipeline_stages,
		teamtailor_sync_states, teamtailor_sync_locks CASCADE`)
	require.NoError(t, err)

	return db
}
