package v201

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/internal/mocks"
	"github.com/seu-repo/sigec-csms/internal/service/smartcharging"
	"github.com/seu-repo/sigec-csms/internal/service/transaction"
)

// fakeDevice answers outbound calls from a script keyed by action. An action
// without a script entry is left unanswered.
type fakeDevice struct {
	mu       sync.Mutex
	sess     *Session
	replies  map[string]string
	received []*Frame
}

func (d *fakeDevice) answer(action, payload string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replies[action] = payload
}

func (d *fakeDevice) onSend(data []byte) {
	f, err := Decode(data)
	if err != nil || f.Kind != MessageCall {
		return
	}
	d.mu.Lock()
	d.received = append(d.received, f)
	payload, ok := d.replies[f.Action]
	sess := d.sess
	d.mu.Unlock()
	if ok {
		sess.Complete(&Frame{Kind: MessageResult, ID: f.ID, Payload: json.RawMessage(payload)})
	}
}

func (d *fakeDevice) Received() []*Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Frame(nil), d.received...)
}

type commandFixture struct {
	srv      *Server
	txs      *transaction.Service
	devices  *mocks.MockDeviceService
	profiles *smartcharging.Resolver
	device   *fakeDevice
	sess     *Session
}

func newCommandFixture(t *testing.T, callTimeout time.Duration) *commandFixture {
	t.Helper()
	log := zap.NewNop()
	devices := &mocks.MockDeviceService{}
	txs := transaction.NewService(&mocks.MockTransactionRepository{}, devices, &mocks.MockEventPublisher{}, transaction.Config{}, log)
	profiles := smartcharging.NewResolver(log)

	srv, err := NewServer(Config{CallTimeout: callTimeout}, Deps{
		Devices:      devices,
		Transactions: txs,
		Auth:         &mocks.MockAuthorizationService{},
		Profiles:     profiles,
	}, log)
	require.NoError(t, err)

	device := &fakeDevice{replies: make(map[string]string)}
	tr := &pipeTransport{onSend: device.onSend}
	sess := newTestSession("CP1", tr, callTimeout)
	device.sess = sess
	_, err = srv.Registry().Admit(context.Background(), "CP1", sess)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close("test done", nil) })

	return &commandFixture{srv: srv, txs: txs, devices: devices, profiles: profiles, device: device, sess: sess}
}

// charging drives connector 1 of CP1 to Charging and returns its transaction.
func (f *commandFixture) charging(t *testing.T) *domain.Transaction {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	_, err := f.txs.PlugIn(ctx, "CP1", 1, now)
	require.NoError(t, err)
	_, err = f.txs.Authorize(ctx, "CP1", 1, "T1", domain.AuthorizationResult{Status: domain.AuthorizationAccepted})
	require.NoError(t, err)
	_, err = f.txs.StartEnergy(ctx, "CP1", 1, "dev-tx-1", now)
	require.NoError(t, err)
	tx, ok := f.txs.ActiveTransaction("CP1", 1)
	require.True(t, ok)
	return tx
}

func TestCommands_ResetTimesOutWithoutDroppingDevice(t *testing.T) {
	f := newCommandFixture(t, 30*time.Millisecond)

	res, err := f.srv.RequestReset(context.Background(), "CP1", "")
	require.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, domain.CommandRejected, res.Status)
	assert.Equal(t, "Timeout", res.Reason)

	assert.True(t, f.srv.IsConnected("CP1"))
	assert.Zero(t, f.sess.Pending())
}

func TestCommands_ResetAccepted(t *testing.T) {
	f := newCommandFixture(t, time.Second)
	f.device.answer(ActionReset, `{"status":"Accepted"}`)

	res, err := f.srv.RequestReset(context.Background(), "CP1", domain.ResetImmediate)
	require.NoError(t, err)
	assert.Equal(t, domain.CommandAccepted, res.Status)

	sent := f.device.Received()
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{"type":"Immediate"}`, string(sent[0].Payload))
}

func TestCommands_DeviceRefusalCarriesReason(t *testing.T) {
	f := newCommandFixture(t, time.Second)
	f.device.answer(ActionChangeAvailability, `{"status":"Rejected","statusInfo":{"reasonCode":"InUse"}}`)

	res, err := f.srv.RequestAvailabilityChange(context.Background(), "CP1", 1, false)
	require.NoError(t, err)
	assert.Equal(t, domain.CommandRejected, res.Status)
	assert.Equal(t, "Rejected: InUse", res.Reason)
}

func TestCommands_UnknownDeviceIsUnreachable(t *testing.T) {
	f := newCommandFixture(t, time.Second)

	res, err := f.srv.RequestReset(context.Background(), "CP9", "")
	require.ErrorIs(t, err, domain.ErrDeviceUnreachable)
	assert.Equal(t, "DeviceUnreachable", res.Reason)
	assert.Empty(t, f.device.Received())
}

func TestCommands_MalformedReplyIsRejected(t *testing.T) {
	f := newCommandFixture(t, time.Second)
	f.device.answer(ActionReset, `{"status":"Maybe"}`)

	res, err := f.srv.RequestReset(context.Background(), "CP1", "")
	require.ErrorIs(t, err, domain.ErrProtocolFormat)
	assert.Equal(t, domain.CommandRejected, res.Status)
}

func testProfile() domain.ChargingProfile {
	start := time.Now().Add(-time.Hour)
	return domain.ChargingProfile{
		ID:            7,
		ChargePointID: "CP1",
		Purpose:       domain.PurposeChargingStationMax,
		Kind:          domain.ProfileKindAbsolute,
		StartSchedule: &start,
		RateUnit:      domain.RateUnitAmps,
		Periods:       []domain.SchedulePeriod{{StartOffset: 0, Limit: 32}},
	}
}

func TestCommands_InstallProfileAccepted(t *testing.T) {
	f := newCommandFixture(t, time.Second)
	f.device.answer(ActionSetChargingProfile, `{"status":"Accepted"}`)

	res, err := f.srv.InstallProfile(context.Background(), testProfile())
	require.NoError(t, err)
	assert.Equal(t, domain.CommandAccepted, res.Status)
	require.Len(t, f.profiles.Profiles("CP1"), 1)

	limit, err := f.srv.GetEffectiveLimit(context.Background(), "CP1", 1, time.Time{})
	require.NoError(t, err)
	assert.True(t, limit.Found)
	assert.Equal(t, 32.0, limit.Value)
	assert.Equal(t, 7, limit.ProfileID)
}

func TestCommands_InstallProfileRefusedRollsBack(t *testing.T) {
	f := newCommandFixture(t, time.Second)
	f.device.answer(ActionSetChargingProfile, `{"status":"Rejected"}`)

	res, err := f.srv.InstallProfile(context.Background(), testProfile())
	require.NoError(t, err)
	assert.Equal(t, domain.CommandRejected, res.Status)
	assert.Empty(t, f.profiles.Profiles("CP1"))
}

func TestCommands_InstallProfileReplacesAndRestores(t *testing.T) {
	f := newCommandFixture(t, time.Second)
	f.device.answer(ActionSetChargingProfile, `{"status":"Accepted"}`)
	_, err := f.srv.InstallProfile(context.Background(), testProfile())
	require.NoError(t, err)

	f.device.answer(ActionSetChargingProfile, `{"status":"Rejected"}`)
	replacement := testProfile()
	replacement.Periods = []domain.SchedulePeriod{{StartOffset: 0, Limit: 10}}
	_, err = f.srv.InstallProfile(context.Background(), replacement)
	require.NoError(t, err)

	stored := f.profiles.Profiles("CP1")
	require.Len(t, stored, 1)
	assert.Equal(t, 32.0, stored[0].Periods[0].Limit)
}

func TestCommands_InvalidProfileNeverSent(t *testing.T) {
	f := newCommandFixture(t, time.Second)
	p := testProfile()
	p.Periods = nil

	res, err := f.srv.InstallProfile(context.Background(), p)
	require.ErrorIs(t, err, domain.ErrProtocolFormat)
	assert.Equal(t, domain.CommandRejected, res.Status)
	assert.Empty(t, f.device.Received())
}

func TestCommands_ClearProfiles(t *testing.T) {
	f := newCommandFixture(t, time.Second)
	_, err := f.profiles.Install(testProfile())
	require.NoError(t, err)
	f.device.answer(ActionClearChargingProfile, `{"status":"Accepted"}`)

	id := 7
	res, err := f.srv.ClearProfiles(context.Background(), domain.ProfileSelector{ChargePointID: "CP1", ID: &id})
	require.NoError(t, err)
	assert.Equal(t, domain.CommandAccepted, res.Status)
	assert.Equal(t, map[string]any{"cleared": 1}, res.Payload)
	assert.Empty(t, f.profiles.Profiles("CP1"))
}

func TestCommands_StopUsesChargerTransactionID(t *testing.T) {
	f := newCommandFixture(t, time.Second)
	tx := f.charging(t)
	f.device.answer(ActionRequestStopTransaction, `{"status":"Accepted"}`)

	res, err := f.srv.RequestStopTransaction(context.Background(), "CP1", tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommandAccepted, res.Status)

	sent := f.device.Received()
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{"transactionId":"dev-tx-1"}`, string(sent[0].Payload))
	// The stop only takes effect once the device reports it.
	assert.Equal(t, domain.TransactionStateCharging, f.txs.ConnectorState("CP1", 1))
}

func TestCommands_StopWhileFinishingConflicts(t *testing.T) {
	f := newCommandFixture(t, time.Second)
	tx := f.charging(t)
	_, err := f.txs.RequestStop(context.Background(), "CP1", 1, "Local")
	require.NoError(t, err)

	res, err := f.srv.RequestStopTransaction(context.Background(), "CP1", tx.ID)
	require.ErrorIs(t, err, domain.ErrStateConflict)
	assert.Equal(t, "StateConflict", res.Reason)
	assert.Empty(t, f.device.Received())
}

func TestCommands_StopUnknownTransaction(t *testing.T) {
	f := newCommandFixture(t, time.Second)

	_, err := f.srv.RequestStopTransaction(context.Background(), "CP1", "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCommands_StartOnBusyConnectorConflicts(t *testing.T) {
	f := newCommandFixture(t, time.Second)
	f.charging(t)

	res, err := f.srv.RequestStartTransaction(context.Background(), "CP1", 1, "T2")
	require.ErrorIs(t, err, domain.ErrStateConflict)
	assert.Equal(t, domain.CommandRejected, res.Status)
	assert.Empty(t, f.device.Received())
}

func TestCommands_StartAccepted(t *testing.T) {
	f := newCommandFixture(t, time.Second)
	f.device.answer(ActionRequestStartTransaction, `{"status":"Accepted"}`)

	res, err := f.srv.RequestStartTransaction(context.Background(), "CP1", 2, "T2")
	require.NoError(t, err)
	assert.Equal(t, domain.CommandAccepted, res.Status)

	sent := f.device.Received()
	require.Len(t, sent, 1)
	var req RequestStartTransactionRequest
	require.NoError(t, json.Unmarshal(sent[0].Payload, &req))
	assert.Equal(t, "T2", req.IdToken.IdToken)
	require.NotNil(t, req.EvseId)
	assert.Equal(t, 2, *req.EvseId)
}

func TestCommands_SetVariablesRecordsAccepted(t *testing.T) {
	f := newCommandFixture(t, time.Second)
	var applied map[string]string
	f.devices.ApplyVariablesFunc = func(_ context.Context, _ string, vars map[string]string) error {
		applied = vars
		return nil
	}
	f.device.answer(ActionSetVariables, `{"setVariableResult":[
		{"attributeStatus":"Accepted","component":{"name":"OCPPCommCtrlr"},"variable":{"name":"HeartbeatInterval"}},
		{"attributeStatus":"Rejected","component":{"name":"SecurityCtrlr"},"variable":{"name":"Identity"}}]}`)

	refs := []domain.VariableRef{
		{Component: "OCPPCommCtrlr", Variable: "HeartbeatInterval", Value: "60"},
		{Component: "SecurityCtrlr", Variable: "Identity", Value: "x"},
	}
	res, err := f.srv.SetVariables(context.Background(), "CP1", refs)
	require.NoError(t, err)
	assert.Equal(t, domain.CommandAccepted, res.Status)

	ok := domain.VariableRef{Component: "OCPPCommCtrlr", Variable: "HeartbeatInterval"}
	assert.Equal(t, map[string]string{ok.Key(): "60"}, applied)
}

func TestCommands_CommandsSerializePerDevice(t *testing.T) {
	f := newCommandFixture(t, time.Second)
	f.device.answer(ActionTriggerMessage, `{"status":"Accepted"}`)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.srv.TriggerMessage(context.Background(), "CP1", "Heartbeat", 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, f.device.Received(), 5)
}
