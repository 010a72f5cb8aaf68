package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/adapter/http/fiber/middleware"
	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/internal/mocks"
	"github.com/seu-repo/sigec-csms/internal/service/auth"
	"github.com/seu-repo/sigec-csms/internal/service/smartcharging"
	"github.com/seu-repo/sigec-csms/internal/service/transaction"
)

type apiFixture struct {
	app      *fiber.App
	jwt      *auth.JWTService
	commands *mocks.MockCommandService
	devices  *mocks.MockDeviceService
	authz    *mocks.MockAuthorizationService
	txs      *transaction.Service
	repo     *mocks.MockTransactionRepository
	profiles *smartcharging.Resolver
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	log := zap.NewNop()

	f := &apiFixture{
		jwt:      auth.NewJWTService("test-secret", "sigec-csms", time.Hour, mocks.NewMockCache(), log),
		commands: &mocks.MockCommandService{Connected: map[string]bool{"CP1": true}},
		devices:  &mocks.MockDeviceService{},
		authz:    &mocks.MockAuthorizationService{},
		repo:     &mocks.MockTransactionRepository{},
		profiles: smartcharging.NewResolver(log),
	}
	f.txs = transaction.NewService(f.repo, f.devices, &mocks.MockEventPublisher{}, transaction.Config{}, log)

	api := &API{
		Devices:      NewDeviceHandler(f.devices, f.commands, log),
		Commands:     NewDeviceCommandHandler(f.commands, log),
		Profiles:     NewProfileHandler(f.commands, f.profiles, log),
		Transactions: NewTransactionHandler(f.txs, f.repo, log),
		Auth:         NewAuthHandler(f.authz, f.jwt, log),
	}
	f.app = fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(log)})
	api.Register(f.app.Group("/api/v1"), f.jwt, auth.NewRBACService(log), log)
	return f
}

func (f *apiFixture) token(t *testing.T, role string) string {
	t.Helper()
	token, err := f.jwt.GenerateToken("op-"+role, role)
	require.NoError(t, err)
	return token
}

// do sends a request and decodes a JSON body into a map when there is one.
func (f *apiFixture) do(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestAPI_RequiresBearerToken(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(t, "GET", "/api/v1/devices", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Missing authorization header", body["error"])

	status, _ = f.do(t, "GET", "/api/v1/devices", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAPI_RoleGuardsCommands(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(t, "POST", "/api/v1/devices/CP1/reset", f.token(t, auth.RoleViewer), "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Insufficient permissions", body["error"])
	assert.Empty(t, f.commands.Calls())

	status, body = f.do(t, "POST", "/api/v1/devices/CP1/reset", f.token(t, auth.RoleOperator), "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Accepted", body["status"])

	calls := f.commands.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Reset", calls[0].Action)
	assert.Equal(t, "CP1", calls[0].DeviceID)
	assert.Equal(t, []any{domain.ResetImmediate}, calls[0].Args)
}

func TestAPI_CommandErrorsMapToStatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"unreachable", fmt.Errorf("%w: CP1 is not connected", domain.ErrDeviceUnreachable), http.StatusServiceUnavailable, "DeviceUnreachable"},
		{"superseded", domain.ErrSuperseded, http.StatusServiceUnavailable, "Superseded"},
		{"timeout", domain.ErrTimeout, http.StatusGatewayTimeout, "Timeout"},
		{"conflict", domain.ErrStateConflict, http.StatusConflict, "StateConflict"},
		{"format", domain.ErrProtocolFormat, http.StatusBadRequest, "ProtocolFormatError"},
		{"not found", domain.ErrNotFound, http.StatusNotFound, "NotFound"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.commands.Result = func(action, deviceID string) (domain.CommandResult, error) {
				return domain.Rejected(tc.err), tc.err
			}

			status, body := f.do(t, "POST", "/api/v1/devices/CP1/remote-stop", f.token(t, auth.RoleOperator), `{"transaction_id":"tx-1"}`)

			assert.Equal(t, tc.status, status)
			assert.Equal(t, "Rejected", body["status"])
			assert.Equal(t, tc.reason, body["reason"])
		})
	}
}

func TestAPI_DeviceRefusalIsNotAnHTTPError(t *testing.T) {
	f := newAPIFixture(t)
	f.commands.Result = func(action, deviceID string) (domain.CommandResult, error) {
		return domain.CommandResult{Status: domain.CommandRejected, Reason: "Rejected: InUse"}, nil
	}

	status, body := f.do(t, "POST", "/api/v1/devices/CP1/availability", f.token(t, auth.RoleOperator), `{"connector_id":1,"operative":false}`)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Rejected", body["status"])
	assert.Equal(t, "Rejected: InUse", body["reason"])
	calls := f.commands.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []any{1, false}, calls[0].Args)
}

func TestAPI_RejectsInvalidBodies(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, auth.RoleAdmin)

	cases := []struct {
		path string
		body string
	}{
		{"/api/v1/devices/CP1/remote-start", `{"connector_id":1}`},
		{"/api/v1/devices/CP1/remote-start", `{"id_token":"T1","connector_id":-1}`},
		{"/api/v1/devices/CP1/availability", `{"connector_id":1}`},
		{"/api/v1/devices/CP1/reset", `{"type":"Later"}`},
		{"/api/v1/devices/CP1/variables/get", `{"variables":[]}`},
		{"/api/v1/devices/CP1/profiles", `{"id":1,"purpose":"TxProfile","kind":"Absolute","rate_unit":"A","periods":[]}`},
		{"/api/v1/devices/CP1/profiles", `{"id":1,"purpose":"Unknown","kind":"Absolute","rate_unit":"A","periods":[{"start_period":0,"limit":16}]}`},
		{"/api/v1/devices/CP1/data-transfer", `not json`},
	}
	for _, tc := range cases {
		status, _ := f.do(t, "POST", tc.path, token, tc.body)
		assert.Equal(t, http.StatusBadRequest, status, "%s %s", tc.path, tc.body)
	}
	assert.Empty(t, f.commands.Calls())
}

func TestAPI_RemoteStart(t *testing.T) {
	f := newAPIFixture(t)

	status, _ := f.do(t, "POST", "/api/v1/devices/CP1/remote-start", f.token(t, auth.RoleOperator), `{"id_token":"T1","connector_id":2}`)

	assert.Equal(t, http.StatusOK, status)
	calls := f.commands.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "RequestStartTransaction", calls[0].Action)
	assert.Equal(t, []any{2, "T1"}, calls[0].Args)
}

func TestAPI_InstallProfileConvertsSeconds(t *testing.T) {
	f := newAPIFixture(t)
	var got domain.ChargingProfile
	f.commands.InstallProfileFunc = func(ctx context.Context, p domain.ChargingProfile) (domain.CommandResult, error) {
		got = p
		return domain.CommandResult{Status: domain.CommandAccepted}, nil
	}

	body := `{"id":7,"connector_id":1,"purpose":"TxDefaultProfile","stack_level":2,"kind":"Absolute",
		"start_schedule":"2026-01-01T10:00:00Z","duration_seconds":3600,"rate_unit":"A",
		"periods":[{"start_period":0,"limit":32},{"start_period":600,"limit":16,"number_phases":3}]}`
	status, _ := f.do(t, "POST", "/api/v1/devices/CP1/profiles", f.token(t, auth.RoleOperator), body)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "CP1", got.ChargePointID)
	assert.Equal(t, domain.PurposeTxDefault, got.Purpose)
	assert.Equal(t, domain.ProfileScopeConnector, got.Scope())
	require.NotNil(t, got.Duration)
	assert.Equal(t, time.Hour, *got.Duration)
	require.Len(t, got.Periods, 2)
	assert.Equal(t, 10*time.Minute, got.Periods[1].StartOffset)
	assert.Equal(t, 16.0, got.Periods[1].Limit)
	require.NotNil(t, got.Periods[1].NumberPhases)
	assert.Equal(t, 3, *got.Periods[1].NumberPhases)
}

func TestAPI_ClearProfilesBuildsSelector(t *testing.T) {
	f := newAPIFixture(t)
	token := f.token(t, auth.RoleOperator)
	var got domain.ProfileSelector
	f.commands.ClearProfilesFunc = func(ctx context.Context, sel domain.ProfileSelector) (domain.CommandResult, error) {
		got = sel
		return domain.CommandResult{Status: domain.CommandAccepted}, nil
	}

	status, _ := f.do(t, "DELETE", "/api/v1/devices/CP1/profiles?profile_id=x", token, "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, "DELETE", "/api/v1/devices/CP1/profiles?connector_id=0&purpose=TxProfile", token, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "CP1", got.ChargePointID)
	assert.Nil(t, got.ID)
	require.NotNil(t, got.ConnectorID)
	assert.Equal(t, 0, *got.ConnectorID)
	assert.Equal(t, domain.PurposeTx, got.Purpose)
}

func TestAPI_EffectiveLimit(t *testing.T) {
	f := newAPIFixture(t)
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	f.commands.EffectiveLimitFunc = func(ctx context.Context, deviceID string, connectorID int, when time.Time) (domain.Limit, error) {
		assert.Equal(t, "CP1", deviceID)
		assert.Equal(t, 1, connectorID)
		assert.True(t, when.Equal(at))
		return domain.Limit{Found: true, Value: 16, Unit: domain.RateUnitAmps, ProfileID: 3}, nil
	}
	token := f.token(t, auth.RoleViewer)

	status, body := f.do(t, "GET", "/api/v1/devices/CP1/limit?connector_id=1&at=2026-03-01T12:30:00Z", token, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 16.0, body["value"])
	assert.Equal(t, 3.0, body["profile_id"])

	status, _ = f.do(t, "GET", "/api/v1/devices/CP1/limit?at=yesterday", token, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_DevicesListAndGet(t *testing.T) {
	f := newAPIFixture(t)
	f.devices.ListDevicesFunc = func(ctx context.Context) []domain.ChargePoint {
		return []domain.ChargePoint{{ID: "CP1", Online: true}, {ID: "CP2"}}
	}
	f.devices.GetDeviceFunc = func(ctx context.Context, id string) (*domain.ChargePoint, error) {
		if id != "CP1" {
			return nil, fmt.Errorf("%w: charge point %s", domain.ErrNotFound, id)
		}
		return &domain.ChargePoint{ID: "CP1", Connectors: []domain.Connector{
			{ConnectorID: 1, Status: domain.ConnectorStatusAvailable},
			{ConnectorID: 2, Status: domain.ConnectorStatusCharging},
			{ConnectorID: 3, Status: domain.ConnectorStatusAvailable},
		}}, nil
	}
	token := f.token(t, auth.RoleViewer)

	status, body := f.do(t, "GET", "/api/v1/devices", token, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2.0, body["total"])
	devices := body["devices"].([]any)
	assert.Equal(t, true, devices[0].(map[string]any)["connected"])
	assert.Equal(t, false, devices[1].(map[string]any)["connected"])

	status, body = f.do(t, "GET", "/api/v1/devices/CP1/status-summary", token, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2.0, body[string(domain.ConnectorStatusAvailable)])
	assert.Equal(t, 1.0, body[string(domain.ConnectorStatusCharging)])

	status, body = f.do(t, "GET", "/api/v1/devices/CP9", token, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NotFound", body["reason"])
}

func TestAPI_OrphanReconcile(t *testing.T) {
	f := newAPIFixture(t)
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
	require.Equal(t, 1, f.txs.FlagOrphaned(ctx, "CP1", now))

	status, body := f.do(t, "GET", "/api/v1/transactions/orphaned", f.token(t, auth.RoleViewer), "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1.0, body["total"])

	// Operators can see orphans but only admins close them.
	status, _ = f.do(t, "POST", "/api/v1/transactions/"+tx.ID+"/reconcile", f.token(t, auth.RoleOperator), "")
	assert.Equal(t, http.StatusForbidden, status)

	admin := f.token(t, auth.RoleAdmin)
	status, body = f.do(t, "POST", "/api/v1/transactions/"+tx.ID+"/reconcile", admin, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Reconciled", body["stop_reason"])
	assert.Len(t, f.repo.SavedTransactions(), 1)

	status, _ = f.do(t, "POST", "/api/v1/transactions/"+tx.ID+"/reconcile", admin, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_TransactionLookupFallsBackToRepository(t *testing.T) {
	f := newAPIFixture(t)
	stopped := time.Now()
	require.NoError(t, f.repo.Save(context.Background(), &domain.Transaction{
		ID:            "tx-old",
		ChargePointID: "CP1",
		State:         domain.TransactionStateCompleted,
		StoppedAt:     &stopped,
	}))
	token := f.token(t, auth.RoleViewer)

	status, body := f.do(t, "GET", "/api/v1/transactions/tx-old", token, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "CP1", body["charge_point_id"])

	status, _ = f.do(t, "GET", "/api/v1/transactions/tx-missing", token, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_AllowListIsAdminOnly(t *testing.T) {
	f := newAPIFixture(t)
	var allowed, revoked []string
	f.authz.AllowOfflineFunc = func(ctx context.Context, token string) error {
		allowed = append(allowed, token)
		return nil
	}
	f.authz.RevokeOfflineFunc = func(ctx context.Context, token string) error {
		revoked = append(revoked, token)
		return nil
	}

	status, _ := f.do(t, "PUT", "/api/v1/auth-list/RFID-1", f.token(t, auth.RoleOperator), "")
	assert.Equal(t, http.StatusForbidden, status)

	admin := f.token(t, auth.RoleAdmin)
	status, _ = f.do(t, "PUT", "/api/v1/auth-list/RFID-1", admin, "")
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = f.do(t, "DELETE", "/api/v1/auth-list/RFID-2", admin, "")
	assert.Equal(t, http.StatusNoContent, status)

	assert.Equal(t, []string{"RFID-1"}, allowed)
	assert.Equal(t, []string{"RFID-2"}, revoked)
}

func TestAPI_IssueAndRevokeTokens(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(t, "POST", "/api/v1/auth/tokens", f.token(t, auth.RoleAdmin), `{"subject":"alice","role":"viewer"}`)
	require.Equal(t, http.StatusCreated, status)
	issued, _ := body["token"].(string)
	require.NotEmpty(t, issued)

	status, _ = f.do(t, "GET", "/api/v1/devices", issued, "")
	assert.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, "POST", "/api/v1/auth/logout", issued, "")
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = f.do(t, "GET", "/api/v1/devices", issued, "")
	assert.Equal(t, http.StatusUnauthorized, status)
}
