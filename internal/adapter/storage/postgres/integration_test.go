//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/pkg/config"
)

// startPostgres runs a throwaway database, skipping the test when Docker is
// not available.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("csms_test"),
		tcpostgres.WithUsername("csms"),
		tcpostgres.WithPassword("csms_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestIntegration_TransactionRoundTrip(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()
	log := zap.NewNop()

	db, err := NewConnection(config.DatabaseConfig{URL: dsn, MaxOpenConns: 4}, log)
	require.NoError(t, err)
	defer Close(db)
	require.NoError(t, RunMigrations(db))

	devices := NewChargePointRepository(db, log)
	txs := NewTransactionRepository(db, log)

	cp := &domain.ChargePoint{
		ID:         "CP1",
		Vendor:     "ACME",
		Model:      "M1",
		Connectors: []domain.Connector{{ConnectorID: 1, Status: domain.ConnectorStatusAvailable}},
		Variables:  map[string]string{"OCPPCommCtrlr.HeartbeatInterval": "60"},
	}
	require.NoError(t, devices.SaveSnapshot(ctx, cp))
	cp.Connectors[0].Status = domain.ConnectorStatusCharging
	require.NoError(t, devices.SaveSnapshot(ctx, cp))

	got, err := devices.FindByID(ctx, "CP1")
	require.NoError(t, err)
	require.Len(t, got.Connectors, 1)
	assert.Equal(t, domain.ConnectorStatusCharging, got.Connectors[0].Status)
	assert.Equal(t, "60", got.Variables["OCPPCommCtrlr.HeartbeatInterval"])

	tx := closedTransaction()
	require.NoError(t, txs.Save(ctx, tx))
	require.NoError(t, txs.Save(ctx, tx))

	stored, err := txs.FindByID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStateCompleted, stored.State)
	assert.Len(t, stored.MeterSamples, 2)
	assert.Equal(t, 3000.0, stored.EnergyDelivered())

	// Check the rows directly through database/sql.
	raw, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer raw.Close()

	var count int
	require.NoError(t, raw.QueryRowContext(ctx, `SELECT count(*) FROM meter_samples WHERE transaction_id = $1`, "tx-1").Scan(&count))
	assert.Equal(t, 2, count)
	require.NoError(t, raw.QueryRowContext(ctx, `SELECT count(*) FROM transactions`).Scan(&count))
	assert.Equal(t, 1, count)
}
