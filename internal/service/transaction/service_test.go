package transaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/adapter/queue"
	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/internal/mocks"
)

type fixture struct {
	svc     *Service
	repo    *mocks.MockTransactionRepository
	devices *mocks.MockDeviceService
	events  *mocks.MockEventPublisher
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:    &mocks.MockTransactionRepository{},
		devices: &mocks.MockDeviceService{},
		events:  &mocks.MockEventPublisher{},
		clock:   time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.repo, f.devices, f.events, Config{OrphanGrace: 15 * time.Minute, PreauthTTL: 2 * time.Minute}, zap.NewNop())
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

var accepted = domain.AuthorizationResult{Status: domain.AuthorizationAccepted}

func sample(at time.Time, wh float64) domain.MeterSample {
	return domain.MeterSample{Timestamp: at, EnergyWh: wh}
}

func TestChargingSession_CompletesWithSamples(t *testing.T) {
	// Arrange
	f := newFixture(t)
	ctx := context.Background()

	// Act: token arrives before the cable
	state, err := f.svc.Authorize(ctx, "CP-1", 0, "T1", domain.AuthorizationResult{Status: domain.AuthorizationAccepted, Offline: true})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStateIdle, state)

	state, err = f.svc.PlugIn(ctx, "CP-1", 1, f.clock)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStateAuthorized, state)

	state, err = f.svc.StartEnergy(ctx, "CP-1", 1, "dev-tx-1", f.clock)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStateCharging, state)

	for i := 1; i <= 3; i++ {
		n, err := f.svc.AppendMeterSamples(ctx, "CP-1", 1, []domain.MeterSample{sample(f.clock.Add(time.Duration(i)*time.Minute), float64(i*1000))})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}

	tx, ok := f.svc.FindTransaction("dev-tx-1")
	require.True(t, ok)
	require.NoError(t, f.svc.CheckRemoteStart(ctx, "CP-1", 2))
	_, err = f.svc.CheckRemoteStop(ctx, "CP-1", tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStateCharging, f.svc.ConnectorState("CP-1", 1), "remote stop is advisory")

	_, err = f.svc.RequestStop(ctx, "CP-1", 1, "Remote")
	require.NoError(t, err)
	closed, err := f.svc.Close(ctx, "CP-1", 1, "", f.clock.Add(5*time.Minute))
	require.NoError(t, err)

	// Assert
	assert.Equal(t, domain.TransactionStateCompleted, closed.State)
	assert.Len(t, closed.MeterSamples, 3)
	assert.Equal(t, "T1", closed.IdToken)
	assert.Equal(t, "Remote", closed.StopReason)
	assert.Equal(t, 2000.0, closed.EnergyDelivered())
	assert.Equal(t, domain.TransactionStateIdle, f.svc.ConnectorState("CP-1", 1))

	saved := f.repo.SavedTransactions()
	require.Len(t, saved, 1)
	assert.Equal(t, domain.TransactionStateCompleted, saved[0].State)
	assert.Len(t, f.events.BySubject(queue.SubjectTransactionCompleted), 1)
	assert.Empty(t, f.devices.LinkedTransaction("CP-1", 1))
}

func TestClose_WithoutEnergyAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.PlugIn(ctx, "CP-1", 1, f.clock)
	require.NoError(t, err)
	_, err = f.svc.Authorize(ctx, "CP-1", 1, "T1", accepted)
	require.NoError(t, err)
	_, err = f.svc.RequestStop(ctx, "CP-1", 1, "EVDisconnected")
	require.NoError(t, err)

	tx, err := f.svc.Close(ctx, "CP-1", 1, "", f.clock)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStateAborted, tx.State)
}

func TestAuthorize_RejectedKeepsPreparing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.PlugIn(ctx, "CP-1", 1, f.clock)
	require.NoError(t, err)

	state, err := f.svc.Authorize(ctx, "CP-1", 0, "BAD", domain.AuthorizationResult{Status: domain.AuthorizationInvalid})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatePreparing, state)

	denied := f.events.BySubject(queue.SubjectAuthDenied)
	require.Len(t, denied, 1)
	assert.Equal(t, 1, denied[0].(AuthDenied).ConnectorID)
}

func TestPreauthorization_Expires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Authorize(ctx, "CP-1", 0, "T1", accepted)
	require.NoError(t, err)
	f.advance(3 * time.Minute)

	state, err := f.svc.PlugIn(ctx, "CP-1", 1, f.clock)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatePreparing, state)
}

func TestAppendMeterSamples_RejectsDecreasingReadings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	startCharging(t, f, "CP-1", 1)

	base := f.clock
	n, err := f.svc.AppendMeterSamples(ctx, "CP-1", 1, []domain.MeterSample{
		sample(base.Add(time.Minute), 100),
		sample(base.Add(2*time.Minute), 90),   // lower value
		sample(base.Add(30*time.Second), 150), // earlier timestamp
		sample(base.Add(2*time.Minute), 100),  // equal value is fine
		sample(base.Add(3*time.Minute), 250),
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDataIntegrity))
	assert.Equal(t, 3, n)

	tx, ok := f.svc.ActiveTransaction("CP-1", 1)
	require.True(t, ok)
	require.Len(t, tx.MeterSamples, 3)
	for i := 1; i < len(tx.MeterSamples); i++ {
		assert.False(t, tx.MeterSamples[i].Timestamp.Before(tx.MeterSamples[i-1].Timestamp))
		assert.GreaterOrEqual(t, tx.MeterSamples[i].EnergyWh, tx.MeterSamples[i-1].EnergyWh)
	}
}

func TestAppendMeterSamples_NoTransaction(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AppendMeterSamples(context.Background(), "CP-1", 1, []domain.MeterSample{sample(f.clock, 1)})
	assert.True(t, errors.Is(err, domain.ErrStateConflict))
}

func TestRemoteStop_FinishingIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := startCharging(t, f, "CP-1", 1)

	_, err := f.svc.RequestStop(ctx, "CP-1", 1, "Local")
	require.NoError(t, err)

	_, err = f.svc.CheckRemoteStop(ctx, "CP-1", tx.ID)
	assert.True(t, errors.Is(err, domain.ErrStateConflict))

	_, err = f.svc.CheckRemoteStop(ctx, "CP-1", "unknown")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRemoteStart_BusyConnectorIsConflict(t *testing.T) {
	f := newFixture(t)
	startCharging(t, f, "CP-1", 1)

	err := f.svc.CheckRemoteStart(context.Background(), "CP-1", 1)
	assert.True(t, errors.Is(err, domain.ErrStateConflict))
	assert.NoError(t, f.svc.CheckRemoteStart(context.Background(), "CP-2", 1))
}

func TestFault_EndsTransactionAndNeedsReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	startCharging(t, f, "CP-1", 1)

	state, err := f.svc.Fault(ctx, "CP-1", 1, f.clock)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStateFaulted, state)

	saved := f.repo.SavedTransactions()
	require.Len(t, saved, 1)
	assert.Equal(t, domain.TransactionStateFaulted, saved[0].State)

	_, err = f.svc.PlugIn(ctx, "CP-1", 1, f.clock)
	assert.True(t, errors.Is(err, domain.ErrStateConflict))

	assert.Equal(t, 1, f.svc.ResetFaults(ctx, "CP-1"))
	assert.Equal(t, domain.TransactionStateIdle, f.svc.ConnectorState("CP-1", 1))
}

func TestOrphans_ResumeWithinGrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	startCharging(t, f, "CP-1", 1)

	assert.Equal(t, 1, f.svc.FlagOrphaned(ctx, "CP-1", f.clock))
	assert.Len(t, f.svc.ListOrphaned(), 1)

	f.advance(5 * time.Minute)
	assert.Equal(t, 1, f.svc.ResumeOrphaned(ctx, "CP-1"))
	assert.Empty(t, f.svc.ListOrphaned())
	assert.Equal(t, domain.TransactionStateCharging, f.svc.ConnectorState("CP-1", 1))
}

func TestOrphans_ExpireOnceThenReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := startCharging(t, f, "CP-1", 1)

	f.svc.FlagOrphaned(ctx, "CP-1", f.clock)
	f.advance(20 * time.Minute)

	assert.Equal(t, 1, f.svc.ExpireOrphans(ctx, f.clock))
	assert.Equal(t, 0, f.svc.ExpireOrphans(ctx, f.clock))
	assert.Len(t, f.events.BySubject(queue.SubjectTransactionOrphanLost), 1)

	assert.Equal(t, 0, f.svc.ResumeOrphaned(ctx, "CP-1"), "expired orphans wait for an operator")

	closed, err := f.svc.Reconcile(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStateCompleted, closed.State)
	assert.Equal(t, "Reconciled", closed.StopReason)
	assert.Empty(t, f.svc.ListOrphaned())

	_, err = f.svc.Reconcile(ctx, tx.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestReconcile_RequiresOrphan(t *testing.T) {
	f := newFixture(t)
	tx := startCharging(t, f, "CP-1", 1)

	_, err := f.svc.Reconcile(context.Background(), tx.ID)
	assert.True(t, errors.Is(err, domain.ErrStateConflict))
}

func startCharging(t *testing.T, f *fixture, deviceID string, connectorID int) *domain.Transaction {
	t.Helper()
	ctx := context.Background()
	if _, err := f.svc.PlugIn(ctx, deviceID, connectorID, f.clock); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := f.svc.Authorize(ctx, deviceID, connectorID, "T1", accepted); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := f.svc.StartEnergy(ctx, deviceID, connectorID, "", f.clock); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	tx, ok := f.svc.ActiveTransaction(deviceID, connectorID)
	if !ok {
		t.Fatalf("expected an active transaction")
	}
	return tx
}
