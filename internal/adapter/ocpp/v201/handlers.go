package v201

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/domain"
)

const (
	measurandEnergyImport = "Energy.Active.Import.Register"
	statusOccupied        = "Occupied"
)

func (s *Server) registerHandlers() {
	s.router.Handle(ActionBootNotification, Typed(s.handleBootNotification))
	s.router.Handle(ActionHeartbeat, Typed(s.handleHeartbeat))
	s.router.Handle(ActionStatusNotification, Typed(s.handleStatusNotification))
	s.router.Handle(ActionAuthorize, Typed(s.handleAuthorize))
	s.router.Handle(ActionTransactionEvent, Typed(s.handleTransactionEvent))
	s.router.Handle(ActionMeterValues, Typed(s.handleMeterValues))
	s.router.Handle(ActionDataTransfer, Typed(s.handleDataTransfer))
}

// timestamp reads a wire time; a device with a broken clock gets ours.
func (s *Server) timestamp(value string) time.Time {
	if t, err := ParseTime(value); err == nil {
		return t
	}
	return s.now()
}

func (s *Server) handleBootNotification(ctx context.Context, chargePointID string, req *BootNotificationRequest) (*BootNotificationResponse, error) {
	interval := s.cfg.HeartbeatInterval
	_, err := s.devices.RegisterBoot(ctx, chargePointID, domain.BootInfo{
		Vendor:          req.ChargingStation.VendorName,
		Model:           req.ChargingStation.Model,
		SerialNumber:    req.ChargingStation.SerialNumber,
		FirmwareVersion: req.ChargingStation.FirmwareVersion,
		Reason:          req.Reason,
	}, interval)
	if err != nil {
		return nil, err
	}

	if sess, ok := SessionFrom(ctx); ok {
		sess.SetInterval(interval)
		sess.MarkBooted()
	}
	// Any accepted boot is a Reset event, whether or not the CSMS asked for
	// it: the device has power-cycled, so latched faults clear.
	if n := s.txs.ResetFaults(ctx, chargePointID); n > 0 {
		s.log.Info("Cleared faulted connectors on boot", zap.String("charge_point_id", chargePointID), zap.Int("connectors", n))
	}

	return &BootNotificationResponse{
		CurrentTime: FormatTime(s.now()),
		Interval:    int(interval / time.Second),
		Status:      "Accepted",
	}, nil
}

// bootAccepted lets a device that only lost its connection carry on without
// a new BootNotification; the session adopts the interval negotiated at boot.
func (s *Server) bootAccepted(ctx context.Context, sess *Session) bool {
	dev, err := s.devices.GetDevice(ctx, sess.DeviceID())
	if err != nil || !dev.Booted {
		return false
	}
	if dev.HeartbeatInterval > 0 {
		sess.SetInterval(dev.HeartbeatInterval)
	}
	return true
}

func (s *Server) handleHeartbeat(ctx context.Context, chargePointID string, _ *HeartbeatRequest) (*HeartbeatResponse, error) {
	now := s.now()
	s.devices.RecordHeartbeat(ctx, chargePointID, now)
	return &HeartbeatResponse{CurrentTime: FormatTime(now)}, nil
}

func (s *Server) handleStatusNotification(ctx context.Context, chargePointID string, req *StatusNotificationRequest) (*StatusNotificationResponse, error) {
	status := domain.ConnectorStatus(req.ConnectorStatus)
	if req.ConnectorStatus == statusOccupied {
		status = domain.ConnectorStatusPreparing
	}
	at := s.timestamp(req.Timestamp)

	prev, err := s.devices.UpdateConnectorStatus(ctx, chargePointID, req.EvseId, status, at)
	if err != nil {
		return nil, err
	}
	s.log.Debug("Connector status",
		zap.String("charge_point_id", chargePointID),
		zap.Int("evse_id", req.EvseId),
		zap.String("from", string(prev)),
		zap.String("to", string(status)))

	if req.EvseId > 0 {
		s.driveFromStatus(ctx, chargePointID, req.EvseId, status, at)
	} else if status == domain.ConnectorStatusFaulted {
		s.logConflict(chargePointID, 0, "Fault", ignore(s.txs.Fault(ctx, chargePointID, 0, at)))
	}
	return &StatusNotificationResponse{}, nil
}

// driveFromStatus feeds a connector status report into the transaction
// machine. Reports the machine cannot accept are logged and dropped; the
// status itself is already recorded on the device.
func (s *Server) driveFromStatus(ctx context.Context, chargePointID string, connectorID int, status domain.ConnectorStatus, at time.Time) {
	state := s.txs.ConnectorState(chargePointID, connectorID)
	var err error
	switch status {
	case domain.ConnectorStatusPreparing:
		if idle(state) {
			_, err = s.txs.PlugIn(ctx, chargePointID, connectorID, at)
		}
	case domain.ConnectorStatusCharging:
		if state != domain.TransactionStateCharging {
			_, err = s.txs.StartEnergy(ctx, chargePointID, connectorID, "", at)
		}
	case domain.ConnectorStatusSuspendedEV, domain.ConnectorStatusSuspendedEVSE:
		_, err = s.txs.Suspend(ctx, chargePointID, connectorID, status == domain.ConnectorStatusSuspendedEV)
	case domain.ConnectorStatusFinishing:
		if state != domain.TransactionStateFinishing && !idle(state) {
			_, err = s.txs.RequestStop(ctx, chargePointID, connectorID, "Local")
		}
	case domain.ConnectorStatusAvailable:
		err = s.closeConnector(ctx, chargePointID, connectorID, "EVDisconnected", at)
	case domain.ConnectorStatusFaulted:
		_, err = s.txs.Fault(ctx, chargePointID, connectorID, at)
	}
	s.logConflict(chargePointID, connectorID, string(status), err)
}

// closeConnector ends whatever is open on the connector, stopping it first
// when the device skipped Finishing.
func (s *Server) closeConnector(ctx context.Context, chargePointID string, connectorID int, reason string, at time.Time) error {
	state := s.txs.ConnectorState(chargePointID, connectorID)
	if idle(state) || state == domain.TransactionStateFaulted {
		return nil
	}
	if state != domain.TransactionStateFinishing {
		if _, err := s.txs.RequestStop(ctx, chargePointID, connectorID, reason); err != nil {
			return err
		}
	}
	_, err := s.txs.Close(ctx, chargePointID, connectorID, reason, at)
	return err
}

func (s *Server) handleAuthorize(ctx context.Context, chargePointID string, req *AuthorizeRequest) (*AuthorizeResponse, error) {
	result, err := s.auth.Authorize(ctx, req.IdToken.IdToken)
	if err != nil {
		return nil, err
	}
	_, err = s.txs.Authorize(ctx, chargePointID, 0, req.IdToken.IdToken, result)
	s.logConflict(chargePointID, 0, ActionAuthorize, err)

	return &AuthorizeResponse{IdTokenInfo: IdTokenInfo{Status: string(result.Status)}}, nil
}

func (s *Server) handleTransactionEvent(ctx context.Context, chargePointID string, req *TransactionEventRequest) (*TransactionEventResponse, error) {
	at := s.timestamp(req.Timestamp)
	chargerTxID := req.TransactionInfo.TransactionId

	connectorID := 0
	if req.Evse != nil {
		connectorID = req.Evse.Id
	} else if tx, ok := s.txs.FindByChargerID(chargePointID, chargerTxID); ok {
		connectorID = tx.ConnectorID
	}
	if connectorID <= 0 {
		return nil, newCallError(OccurrenceConstraintViolation, "evse is required to place transaction %s", chargerTxID)
	}

	if req.EventType == "Started" && idle(s.txs.ConnectorState(chargePointID, connectorID)) {
		if _, err := s.txs.PlugIn(ctx, chargePointID, connectorID, at); err != nil {
			return nil, err
		}
	}

	s.txs.BindChargerID(chargePointID, connectorID, chargerTxID)

	resp := &TransactionEventResponse{}
	if req.IdToken != nil && req.IdToken.IdToken != "" {
		result, err := s.auth.Authorize(ctx, req.IdToken.IdToken)
		if err != nil {
			return nil, err
		}
		resp.IdTokenInfo = &IdTokenInfo{Status: string(result.Status)}
		if s.txs.ConnectorState(chargePointID, connectorID) == domain.TransactionStatePreparing {
			_, err = s.txs.Authorize(ctx, chargePointID, connectorID, req.IdToken.IdToken, result)
			s.logConflict(chargePointID, connectorID, ActionAuthorize, err)
		}
	}

	if req.EventType != "Ended" {
		s.applyChargingState(ctx, chargePointID, connectorID, chargerTxID, req.TransactionInfo.ChargingState, at)
	}
	s.appendSamples(ctx, chargePointID, connectorID, req.MeterValue)

	if req.EventType == "Ended" {
		reason := req.TransactionInfo.StoppedReason
		if reason == "" {
			reason = "Local"
		}
		s.logConflict(chargePointID, connectorID, "Ended", s.closeConnector(ctx, chargePointID, connectorID, reason, at))
	}
	return resp, nil
}

func (s *Server) applyChargingState(ctx context.Context, chargePointID string, connectorID int, chargerTxID, chargingState string, at time.Time) {
	state := s.txs.ConnectorState(chargePointID, connectorID)
	var err error
	switch chargingState {
	case "EVConnected":
		if idle(state) {
			_, err = s.txs.PlugIn(ctx, chargePointID, connectorID, at)
		}
	case "Charging":
		// Also binds the device's transaction id when a status report got there first.
		_, err = s.txs.StartEnergy(ctx, chargePointID, connectorID, chargerTxID, at)
	case "SuspendedEV", "SuspendedEVSE":
		if string(state) != chargingState {
			_, err = s.txs.Suspend(ctx, chargePointID, connectorID, chargingState == "SuspendedEV")
		}
	default:
		return
	}
	s.logConflict(chargePointID, connectorID, chargingState, err)
}

func (s *Server) handleMeterValues(ctx context.Context, chargePointID string, req *MeterValuesRequest) (*MeterValuesResponse, error) {
	if req.EvseId > 0 {
		s.appendSamples(ctx, chargePointID, req.EvseId, req.MeterValue)
	}
	return &MeterValuesResponse{}, nil
}

// appendSamples records energy readings. Out of order readings are dropped
// and logged; the device still gets a normal reply.
func (s *Server) appendSamples(ctx context.Context, chargePointID string, connectorID int, values []MeterValue) {
	samples := energySamples(values)
	if len(samples) == 0 {
		return
	}
	accepted, err := s.txs.AppendMeterSamples(ctx, chargePointID, connectorID, samples)
	if err != nil {
		s.log.Warn("Meter samples rejected",
			zap.String("charge_point_id", chargePointID),
			zap.Int("connector_id", connectorID),
			zap.Int("accepted", accepted),
			zap.Int("received", len(samples)),
			zap.Error(err))
	}
}

func (s *Server) handleDataTransfer(_ context.Context, chargePointID string, req *DataTransferRequest) (*DataTransferResponse, error) {
	s.log.Info("DataTransfer received",
		zap.String("charge_point_id", chargePointID),
		zap.String("vendor_id", req.VendorId),
		zap.String("message_id", req.MessageId))
	return &DataTransferResponse{Status: "UnknownVendorId"}, nil
}

// energySamples extracts one cumulative import reading per meter value.
func energySamples(values []MeterValue) []domain.MeterSample {
	var out []domain.MeterSample
	for _, mv := range values {
		ts, err := ParseTime(mv.Timestamp)
		if err != nil {
			continue
		}
		for _, sv := range mv.SampledValue {
			if sv.Measurand != "" && sv.Measurand != measurandEnergyImport {
				continue
			}
			out = append(out, domain.MeterSample{Timestamp: ts, EnergyWh: toWh(sv)})
			break
		}
	}
	return out
}

func toWh(sv SampledValue) float64 {
	v := sv.Value
	if sv.UnitOfMeasure == nil {
		return v
	}
	if sv.UnitOfMeasure.Multiplier != 0 {
		v *= math.Pow10(sv.UnitOfMeasure.Multiplier)
	}
	if sv.UnitOfMeasure.Unit == "kWh" {
		v *= 1000
	}
	return v
}

func idle(state domain.TransactionState) bool {
	switch state {
	case domain.TransactionStateIdle, domain.TransactionStateCompleted, domain.TransactionStateAborted:
		return true
	}
	return false
}

func ignore(_ domain.TransactionState, err error) error { return err }

func (s *Server) logConflict(chargePointID string, connectorID int, report string, err error) {
	if err == nil {
		return
	}
	level := s.log.Warn
	if errors.Is(err, domain.ErrStateConflict) {
		level = s.log.Debug
	}
	level("Report not applied to transaction",
		zap.String("charge_point_id", chargePointID),
		zap.Int("connector_id", connectorID),
		zap.String("report", report),
		zap.Error(err))
}
