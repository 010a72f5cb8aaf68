package main

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	v201 "github.com/seu-repo/sigec-csms/internal/adapter/ocpp/v201"
)

// SimulatorConfig holds the simulator configuration
type SimulatorConfig struct {
	ServerURL       string
	ChargePointID   string
	Vendor          string
	Model           string
	SerialNumber    string
	FirmwareVersion string
	Username        string // security profile 1; empty disables basic auth
	Password        string
	ConnectorCount  int
	PowerW          float64 // power drawn while charging
	MeterInterval   time.Duration
	CallTimeout     time.Duration
}

// connectorState is the simulated state of one EVSE.
type connectorState struct {
	ID           int
	Status       string // Available, Occupied, Unavailable, Faulted
	MeterWh      float64
	TxID         string
	Charging     bool
	SeqNo        int
	Operative    bool
	LimitAmps    float64
	stopMetering chan struct{}
}

// Simulator simulates an OCPP 2.0.1 charge point
type Simulator struct {
	config *SimulatorConfig
	conn   *websocket.Conn
	log    *zap.Logger

	mu                sync.Mutex
	connectors        []*connectorState
	heartbeatInterval time.Duration
	variables         map[string]string
	certificates      map[string]v201.CertificateHashDataChain
	pending           map[string]chan *v201.Frame

	writeMu  sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSimulator creates a new charge point simulator
func NewSimulator(config *SimulatorConfig, log *zap.Logger) *Simulator {
	if config.ConnectorCount <= 0 {
		config.ConnectorCount = 1
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 30 * time.Second
	}
	if config.MeterInterval <= 0 {
		config.MeterInterval = 10 * time.Second
	}
	connectors := make([]*connectorState, config.ConnectorCount)
	for i := range connectors {
		connectors[i] = &connectorState{ID: i + 1, Status: "Available", Operative: true}
	}

	return &Simulator{
		config:            config,
		log:               log,
		connectors:        connectors,
		heartbeatInterval: 300 * time.Second,
		variables: map[string]string{
			"ChargingStation.Model":              config.Model,
			"ChargingStation.VendorName":         config.Vendor,
			"ChargingStation.SerialNumber":       config.SerialNumber,
			"ChargingStation.FirmwareVersion":    config.FirmwareVersion,
			"OCPPCommCtrlr.HeartbeatInterval":    "300",
			"SampledDataCtrlr.TxUpdatedInterval": strconv.Itoa(int(config.MeterInterval.Seconds())),
		},
		certificates: make(map[string]v201.CertificateHashDataChain),
		pending:      make(map[string]chan *v201.Frame),
		stopChan:     make(chan struct{}),
	}
}

// Connect dials the CSMS, boots and starts the heartbeat loop.
func (s *Simulator) Connect(ctx context.Context) error {
	url := fmt.Sprintf("%s/%s", s.config.ServerURL, s.config.ChargePointID)

	dialer := websocket.Dialer{
		Subprotocols:     []string{v201.Subprotocol},
		HandshakeTimeout: 10 * time.Second,
	}
	header := http.Header{}
	if s.config.Username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(s.config.Username + ":" + s.config.Password))
		header.Set("Authorization", "Basic "+creds)
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect: %w (HTTP %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}
	s.conn = conn
	s.log.Info("Connected to OCPP server",
		zap.String("url", url),
		zap.String("subprotocol", conn.Subprotocol()),
	)

	s.wg.Add(1)
	go s.readMessages()

	if err := s.boot(ctx, "PowerUp"); err != nil {
		return err
	}
	for _, c := range s.snapshot() {
		s.sendStatusNotification(ctx, c.ID, c.Status)
	}

	s.wg.Add(1)
	go s.heartbeatLoop()
	return nil
}

// Stop closes the connection and waits for the loops to exit.
func (s *Simulator) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.mu.Lock()
		for _, c := range s.connectors {
			if c.stopMetering != nil {
				close(c.stopMetering)
				c.stopMetering = nil
			}
		}
		s.mu.Unlock()
		if s.conn != nil {
			s.writeMu.Lock()
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "simulator stopped"))
			s.writeMu.Unlock()
			s.conn.Close()
		}
	})
	s.wg.Wait()
}

// Done is closed when the simulator stops.
func (s *Simulator) Done() <-chan struct{} { return s.stopChan }

func (s *Simulator) readMessages() {
	defer s.wg.Done()

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopChan:
			default:
				s.log.Error("Read error", zap.Error(err))
				go s.Stop()
			}
			return
		}
		s.handleMessage(message)
	}
}

func (s *Simulator) handleMessage(data []byte) {
	frame, err := v201.Decode(data)
	if err != nil {
		var ce *v201.CallError
		if errors.As(err, &ce) && frame.Kind == v201.MessageCall {
			s.writeFrame(v201.EncodeError(frame.ID, ce))
		}
		s.log.Warn("Invalid message", zap.Error(err))
		return
	}

	switch frame.Kind {
	case v201.MessageCall:
		s.handleServerRequest(frame)
	case v201.MessageResult, v201.MessageError:
		s.mu.Lock()
		ch, ok := s.pending[frame.ID]
		delete(s.pending, frame.ID)
		s.mu.Unlock()
		if ok {
			ch <- frame
		} else {
			s.log.Warn("Reply for unknown call", zap.String("id", frame.ID))
		}
	}
}

// call sends a request and decodes the reply into resp.
func (s *Simulator) call(ctx context.Context, action string, req, resp any) error {
	id := uuid.NewString()
	data, err := v201.EncodeCall(id, action, req)
	if err != nil {
		return err
	}
	ch := make(chan *v201.Frame, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()

	if err := s.writeFrame(data); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return err
	}

	timer := time.NewTimer(s.config.CallTimeout)
	defer timer.Stop()
	select {
	case frame := <-ch:
		if frame.Kind == v201.MessageError {
			return frame.Err()
		}
		if resp == nil {
			return nil
		}
		return json.Unmarshal(frame.Payload, resp)
	case <-timer.C:
	case <-ctx.Done():
	case <-s.stopChan:
	}
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
	return fmt.Errorf("%s: no reply", action)
}

func (s *Simulator) writeFrame(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return errors.New("not connected")
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Simulator) snapshot() []connectorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]connectorState, len(s.connectors))
	for i, c := range s.connectors {
		out[i] = *c
	}
	return out
}

func (s *Simulator) connector(id int) (*connectorState, bool) {
	if id < 1 || id > len(s.connectors) {
		return nil, false
	}
	return s.connectors[id-1], true
}

// --- Outgoing messages ---

func (s *Simulator) boot(ctx context.Context, reason string) error {
	var resp v201.BootNotificationResponse
	err := s.call(ctx, v201.ActionBootNotification, &v201.BootNotificationRequest{
		ChargingStation: v201.ChargingStation{
			Model:           s.config.Model,
			VendorName:      s.config.Vendor,
			SerialNumber:    s.config.SerialNumber,
			FirmwareVersion: s.config.FirmwareVersion,
		},
		Reason: reason,
	}, &resp)
	if err != nil {
		return fmt.Errorf("boot notification: %w", err)
	}
	if resp.Status != "Accepted" {
		return fmt.Errorf("boot notification %s", resp.Status)
	}
	if resp.Interval > 0 {
		s.mu.Lock()
		s.heartbeatInterval = time.Duration(resp.Interval) * time.Second
		s.variables["OCPPCommCtrlr.HeartbeatInterval"] = strconv.Itoa(resp.Interval)
		s.mu.Unlock()
	}
	s.log.Info("Boot accepted", zap.Int("interval", resp.Interval), zap.String("current_time", resp.CurrentTime))
	return nil
}

func (s *Simulator) sendHeartbeat(ctx context.Context) {
	var resp v201.HeartbeatResponse
	if err := s.call(ctx, v201.ActionHeartbeat, &v201.HeartbeatRequest{}, &resp); err != nil {
		s.log.Warn("Heartbeat failed", zap.Error(err))
	}
}

func (s *Simulator) sendStatusNotification(ctx context.Context, connectorID int, status string) {
	s.mu.Lock()
	if c, ok := s.connector(connectorID); ok {
		c.Status = status
	}
	s.mu.Unlock()

	err := s.call(ctx, v201.ActionStatusNotification, &v201.StatusNotificationRequest{
		Timestamp:       v201.FormatTime(time.Now()),
		ConnectorStatus: status,
		EvseId:          connectorID,
		ConnectorId:     1,
	}, nil)
	if err != nil {
		s.log.Warn("StatusNotification failed", zap.Int("connector_id", connectorID), zap.Error(err))
	}
}

func (s *Simulator) authorize(ctx context.Context, token string) (string, error) {
	var resp v201.AuthorizeResponse
	err := s.call(ctx, v201.ActionAuthorize, &v201.AuthorizeRequest{
		IdToken: v201.IdToken{IdToken: token, Type: "ISO14443"},
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.IdTokenInfo.Status, nil
}

func (s *Simulator) meterValue(wh float64) v201.MeterValue {
	return v201.MeterValue{
		Timestamp: v201.FormatTime(time.Now()),
		SampledValue: []v201.SampledValue{{
			Value:         wh,
			Measurand:     "Energy.Active.Import.Register",
			UnitOfMeasure: &v201.UnitOfMeasure{Unit: "Wh"},
		}},
	}
}

func (s *Simulator) sendTransactionEvent(ctx context.Context, c *connectorState, eventType, trigger, chargingState, stoppedReason string, token *v201.IdToken, remoteStartID *int) {
	s.mu.Lock()
	c.SeqNo++
	req := &v201.TransactionEventRequest{
		EventType:     eventType,
		Timestamp:     v201.FormatTime(time.Now()),
		TriggerReason: trigger,
		SeqNo:         c.SeqNo,
		TransactionInfo: v201.TransactionInfo{
			TransactionId: c.TxID,
			ChargingState: chargingState,
			StoppedReason: stoppedReason,
			RemoteStartId: remoteStartID,
		},
		IdToken:    token,
		Evse:       &v201.Evse{Id: c.ID},
		MeterValue: []v201.MeterValue{s.meterValue(c.MeterWh)},
	}
	s.mu.Unlock()

	var resp v201.TransactionEventResponse
	if err := s.call(ctx, v201.ActionTransactionEvent, req, &resp); err != nil {
		s.log.Warn("TransactionEvent failed", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if resp.IdTokenInfo != nil && resp.IdTokenInfo.Status != "Accepted" {
		s.log.Warn("Token refused by CSMS", zap.String("status", resp.IdTokenInfo.Status))
	}
}

func (s *Simulator) sendMeterValues(ctx context.Context, connectorID int) {
	s.mu.Lock()
	c, ok := s.connector(connectorID)
	if !ok {
		s.mu.Unlock()
		return
	}
	req := &v201.MeterValuesRequest{EvseId: connectorID, MeterValue: []v201.MeterValue{s.meterValue(c.MeterWh)}}
	s.mu.Unlock()

	if err := s.call(ctx, v201.ActionMeterValues, req, nil); err != nil {
		s.log.Warn("MeterValues failed", zap.Int("connector_id", connectorID), zap.Error(err))
	}
}

// --- Charging session ---

// StartCharging plugs in, authorizes token (unless the CSMS already did via
// remote start) and begins drawing energy.
func (s *Simulator) StartCharging(ctx context.Context, connectorID int, token string, remoteStartID *int) error {
	s.mu.Lock()
	c, ok := s.connector(connectorID)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("no connector %d", connectorID)
	}
	if c.TxID != "" || !c.Operative {
		s.mu.Unlock()
		return fmt.Errorf("connector %d is busy or inoperative", connectorID)
	}
	c.TxID = uuid.NewString()
	c.SeqNo = -1
	s.mu.Unlock()

	s.sendStatusNotification(ctx, connectorID, "Occupied")

	trigger := "RemoteStart"
	if remoteStartID == nil {
		trigger = "Authorized"
		status, err := s.authorize(ctx, token)
		if err != nil || status != "Accepted" {
			s.log.Warn("Authorization refused", zap.String("status", status), zap.Error(err))
			s.abandon(ctx, c)
			return fmt.Errorf("token %s not accepted: %s", token, status)
		}
	}

	idToken := &v201.IdToken{IdToken: token, Type: "ISO14443"}
	if remoteStartID != nil {
		idToken.Type = "Central"
	}
	s.sendTransactionEvent(ctx, c, "Started", trigger, "Charging", "", idToken, remoteStartID)

	s.mu.Lock()
	c.Charging = true
	c.stopMetering = make(chan struct{})
	stop := c.stopMetering
	txID := c.TxID
	s.mu.Unlock()

	s.wg.Add(1)
	go s.meterLoop(c, stop)
	s.log.Info("Charging started", zap.Int("connector_id", connectorID), zap.String("transaction_id", txID))
	return nil
}

// StopCharging ends the session on connectorID with reason.
func (s *Simulator) StopCharging(ctx context.Context, connectorID int, reason string) error {
	s.mu.Lock()
	c, ok := s.connector(connectorID)
	if !ok || c.TxID == "" {
		s.mu.Unlock()
		return fmt.Errorf("no transaction on connector %d", connectorID)
	}
	c.Charging = false
	if c.stopMetering != nil {
		close(c.stopMetering)
		c.stopMetering = nil
	}
	s.mu.Unlock()

	s.sendStatusNotification(ctx, connectorID, "Finishing")
	s.sendTransactionEvent(ctx, c, "Ended", "StopAuthorized", "", reason, nil, nil)
	s.abandon(ctx, c)
	s.log.Info("Charging stopped", zap.Int("connector_id", connectorID), zap.String("reason", reason))
	return nil
}

func (s *Simulator) abandon(ctx context.Context, c *connectorState) {
	s.mu.Lock()
	c.TxID = ""
	c.Charging = false
	s.mu.Unlock()
	s.sendStatusNotification(ctx, c.ID, "Available")
}

// meterLoop advances the energy register and reports it every MeterInterval.
func (s *Simulator) meterLoop(c *connectorState, stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.MeterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.mu.Lock()
			power := s.config.PowerW
			if c.LimitAmps > 0 {
				// Three phases at 230 V.
				power = min(power, c.LimitAmps*230*3)
			}
			c.MeterWh += power * s.config.MeterInterval.Hours()
			s.mu.Unlock()
			s.sendMeterValues(context.Background(), c.ID)
		}
	}
}

func (s *Simulator) heartbeatLoop() {
	defer s.wg.Done()
	s.mu.Lock()
	interval := s.heartbeatInterval
	s.mu.Unlock()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sendHeartbeat(context.Background())
		}
	}
}

// --- Requests from the CSMS ---

func (s *Simulator) handleServerRequest(frame *v201.Frame) {
	s.log.Info("Received server request", zap.String("action", frame.Action))

	var (
		response any
		followUp func(ctx context.Context)
		err      error
	)
	switch frame.Action {
	case v201.ActionRequestStartTransaction:
		response, followUp, err = s.handleRemoteStart(frame.Payload)
	case v201.ActionRequestStopTransaction:
		response, followUp, err = s.handleRemoteStop(frame.Payload)
	case v201.ActionReset:
		response, followUp, err = s.handleReset(frame.Payload)
	case v201.ActionChangeAvailability:
		response, followUp, err = s.handleChangeAvailability(frame.Payload)
	case v201.ActionTriggerMessage:
		response, followUp, err = s.handleTriggerMessage(frame.Payload)
	case v201.ActionSetChargingProfile:
		response, err = s.handleSetChargingProfile(frame.Payload)
	case v201.ActionClearChargingProfile:
		response, err = s.handleClearChargingProfile(frame.Payload)
	case v201.ActionGetVariables:
		response, err = s.handleGetVariables(frame.Payload)
	case v201.ActionSetVariables:
		response, err = s.handleSetVariables(frame.Payload)
	case v201.ActionInstallCertificate:
		response, err = s.handleInstallCertificate(frame.Payload)
	case v201.ActionDeleteCertificate:
		response, err = s.handleDeleteCertificate(frame.Payload)
	case v201.ActionGetInstalledCertificateIds:
		response, err = s.handleGetInstalledCertificateIds(frame.Payload)
	case v201.ActionDataTransfer:
		response = &v201.DataTransferResponse{Status: "UnknownVendorId"}
	default:
		s.writeFrame(v201.EncodeError(frame.ID, &v201.CallError{
			Code:        v201.NotImplemented,
			Description: fmt.Sprintf("action %s not implemented", frame.Action),
		}))
		return
	}

	if err != nil {
		s.writeFrame(v201.EncodeError(frame.ID, &v201.CallError{Code: v201.FormatViolation, Description: err.Error()}))
		return
	}
	data, err := v201.EncodeResult(frame.ID, response)
	if err != nil {
		s.log.Error("Failed to encode reply", zap.Error(err))
		return
	}
	if err := s.writeFrame(data); err != nil {
		s.log.Warn("Failed to send reply", zap.Error(err))
		return
	}
	if followUp != nil {
		go followUp(context.Background())
	}
}

func decode(payload json.RawMessage, dst any) error {
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func (s *Simulator) handleRemoteStart(payload json.RawMessage) (any, func(context.Context), error) {
	var req v201.RequestStartTransactionRequest
	if err := decode(payload, &req); err != nil {
		return nil, nil, err
	}

	connectorID := 1
	if req.EvseId != nil {
		connectorID = *req.EvseId
	}
	s.mu.Lock()
	c, ok := s.connector(connectorID)
	free := ok && c.TxID == "" && c.Operative
	s.mu.Unlock()
	if !free {
		return &v201.RequestStartTransactionResponse{Status: "Rejected"}, nil, nil
	}

	remoteStartID := req.RemoteStartId
	start := func(ctx context.Context) {
		if err := s.StartCharging(ctx, connectorID, req.IdToken.IdToken, &remoteStartID); err != nil {
			s.log.Warn("Remote start failed", zap.Error(err))
		}
	}
	return &v201.RequestStartTransactionResponse{Status: "Accepted"}, start, nil
}

func (s *Simulator) handleRemoteStop(payload json.RawMessage) (any, func(context.Context), error) {
	var req v201.RequestStopTransactionRequest
	if err := decode(payload, &req); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	connectorID := 0
	for _, c := range s.connectors {
		if c.TxID != "" && c.TxID == req.TransactionId {
			connectorID = c.ID
		}
	}
	s.mu.Unlock()
	if connectorID == 0 {
		return &v201.RequestStopTransactionResponse{Status: "Rejected"}, nil, nil
	}

	stop := func(ctx context.Context) {
		if err := s.StopCharging(ctx, connectorID, "Remote"); err != nil {
			s.log.Warn("Remote stop failed", zap.Error(err))
		}
	}
	return &v201.RequestStopTransactionResponse{Status: "Accepted"}, stop, nil
}

func (s *Simulator) handleReset(payload json.RawMessage) (any, func(context.Context), error) {
	var req v201.ResetRequest
	if err := decode(payload, &req); err != nil {
		return nil, nil, err
	}

	busy := false
	for _, c := range s.snapshot() {
		busy = busy || c.TxID != ""
	}
	if busy && req.Type == "OnIdle" {
		return &v201.ResetResponse{Status: "Scheduled"}, nil, nil
	}

	reset := func(ctx context.Context) {
		for _, c := range s.snapshot() {
			if c.TxID != "" {
				_ = s.StopCharging(ctx, c.ID, "ImmediateReset")
			}
		}
		time.Sleep(500 * time.Millisecond)
		if err := s.boot(ctx, "RemoteReset"); err != nil {
			s.log.Error("Reboot failed", zap.Error(err))
		}
	}
	return &v201.ResetResponse{Status: "Accepted"}, reset, nil
}

func (s *Simulator) handleChangeAvailability(payload json.RawMessage) (any, func(context.Context), error) {
	var req v201.ChangeAvailabilityRequest
	if err := decode(payload, &req); err != nil {
		return nil, nil, err
	}
	operative := req.OperationalStatus == "Operative"
	status := "Unavailable"
	if operative {
		status = "Available"
	}

	var targets []int
	s.mu.Lock()
	for _, c := range s.connectors {
		if req.Evse == nil || req.Evse.Id == 0 || req.Evse.Id == c.ID {
			c.Operative = operative
			if c.TxID == "" {
				targets = append(targets, c.ID)
			}
		}
	}
	s.mu.Unlock()

	notify := func(ctx context.Context) {
		for _, id := range targets {
			s.sendStatusNotification(ctx, id, status)
		}
	}
	return &v201.ChangeAvailabilityResponse{Status: "Accepted"}, notify, nil
}

func (s *Simulator) handleTriggerMessage(payload json.RawMessage) (any, func(context.Context), error) {
	var req v201.TriggerMessageRequest
	if err := decode(payload, &req); err != nil {
		return nil, nil, err
	}

	var send func(ctx context.Context)
	switch req.RequestedMessage {
	case "BootNotification":
		send = func(ctx context.Context) { _ = s.boot(ctx, "Triggered") }
	case "Heartbeat":
		send = s.sendHeartbeat
	case "StatusNotification":
		send = func(ctx context.Context) {
			for _, c := range s.snapshot() {
				if req.Evse == nil || req.Evse.Id == c.ID {
					s.sendStatusNotification(ctx, c.ID, c.Status)
				}
			}
		}
	case "MeterValues":
		send = func(ctx context.Context) {
			for _, c := range s.snapshot() {
				if req.Evse == nil || req.Evse.Id == c.ID {
					s.sendMeterValues(ctx, c.ID)
				}
			}
		}
	default:
		return &v201.TriggerMessageResponse{Status: "NotImplemented"}, nil, nil
	}
	return &v201.TriggerMessageResponse{Status: "Accepted"}, send, nil
}

func (s *Simulator) handleSetChargingProfile(payload json.RawMessage) (any, error) {
	var req v201.SetChargingProfileRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	periods := req.ChargingProfile.ChargingSchedule
	if len(periods) == 0 || len(periods[0].ChargingSchedulePeriod) == 0 {
		return &v201.SetChargingProfileResponse{Status: "Rejected"}, nil
	}
	limit := periods[0].ChargingSchedulePeriod[0].Limit
	if periods[0].ChargingRateUnit == "W" {
		limit /= 230 * 3
	}

	s.mu.Lock()
	for _, c := range s.connectors {
		if req.EvseId == 0 || req.EvseId == c.ID {
			c.LimitAmps = limit
		}
	}
	s.mu.Unlock()
	s.log.Info("Charging limit applied", zap.Int("evse_id", req.EvseId), zap.Float64("amps", limit))
	return &v201.SetChargingProfileResponse{Status: "Accepted"}, nil
}

func (s *Simulator) handleClearChargingProfile(payload json.RawMessage) (any, error) {
	var req v201.ClearChargingProfileRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	cleared := false
	s.mu.Lock()
	for _, c := range s.connectors {
		if c.LimitAmps > 0 {
			c.LimitAmps = 0
			cleared = true
		}
	}
	s.mu.Unlock()
	if !cleared {
		return &v201.ClearChargingProfileResponse{Status: "Unknown"}, nil
	}
	return &v201.ClearChargingProfileResponse{Status: "Accepted"}, nil
}

func (s *Simulator) handleGetVariables(payload json.RawMessage) (any, error) {
	var req v201.GetVariablesRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	resp := &v201.GetVariablesResponse{}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range req.GetVariableData {
		result := v201.GetVariableResult{Component: d.Component, Variable: d.Variable}
		if value, ok := s.variables[d.Component.Name+"."+d.Variable.Name]; ok {
			result.AttributeStatus = "Accepted"
			result.AttributeValue = value
		} else {
			result.AttributeStatus = "UnknownVariable"
		}
		resp.GetVariableResult = append(resp.GetVariableResult, result)
	}
	return resp, nil
}

func (s *Simulator) handleSetVariables(payload json.RawMessage) (any, error) {
	var req v201.SetVariablesRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	resp := &v201.SetVariablesResponse{}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range req.SetVariableData {
		key := d.Component.Name + "." + d.Variable.Name
		result := v201.SetVariableResult{Component: d.Component, Variable: d.Variable}
		switch {
		case d.Component.Name == "ChargingStation":
			// Identity variables are read-only.
			result.AttributeStatus = "Rejected"
		case key == "OCPPCommCtrlr.HeartbeatInterval":
			result.AttributeStatus = "RebootRequired"
			s.variables[key] = d.AttributeValue
		default:
			result.AttributeStatus = "Accepted"
			s.variables[key] = d.AttributeValue
		}
		resp.SetVariableResult = append(resp.SetVariableResult, result)
	}
	return resp, nil
}

func (s *Simulator) handleInstallCertificate(payload json.RawMessage) (any, error) {
	var req v201.InstallCertificateRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(req.Certificate))
	serial := hex.EncodeToString(sum[:8])
	s.mu.Lock()
	s.certificates[serial] = v201.CertificateHashDataChain{
		CertificateType: req.CertificateType,
		CertificateHashData: v201.CertificateHashData{
			HashAlgorithm:  "SHA256",
			IssuerNameHash: hex.EncodeToString(sum[8:16]),
			IssuerKeyHash:  hex.EncodeToString(sum[16:24]),
			SerialNumber:   serial,
		},
	}
	s.mu.Unlock()
	return &v201.InstallCertificateResponse{Status: "Accepted"}, nil
}

func (s *Simulator) handleDeleteCertificate(payload json.RawMessage) (any, error) {
	var req v201.DeleteCertificateRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certificates[req.CertificateHashData.SerialNumber]; !ok {
		return &v201.DeleteCertificateResponse{Status: "NotFound"}, nil
	}
	delete(s.certificates, req.CertificateHashData.SerialNumber)
	return &v201.DeleteCertificateResponse{Status: "Accepted"}, nil
}

func (s *Simulator) handleGetInstalledCertificateIds(payload json.RawMessage) (any, error) {
	var req v201.GetInstalledCertificateIdsRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(req.CertificateType))
	for _, t := range req.CertificateType {
		wanted[t] = true
	}

	resp := &v201.GetInstalledCertificateIdsResponse{Status: "NotFound"}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chain := range s.certificates {
		if len(wanted) == 0 || wanted[chain.CertificateType] {
			resp.CertificateHashDataChain = append(resp.CertificateHashDataChain, chain)
		}
	}
	if len(resp.CertificateHashDataChain) > 0 {
		resp.Status = "Accepted"
	}
	return resp, nil
}
