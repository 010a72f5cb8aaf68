package v201

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/domain"
)

// Every command follows the same pattern: reject locally when the device is
// gone or the request is illegal in the current state, otherwise send the
// call and translate the device's status. Physical effects show up later in
// the device's own reports.

// VariableResult is the per-variable outcome of Get/SetVariables.
type VariableResult struct {
	domain.VariableRef
	Status string `json:"status"`
}

func (s *Server) session(deviceID string) (*Session, error) {
	sess, ok := s.registry.Lookup(deviceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not connected", domain.ErrDeviceUnreachable, deviceID)
	}
	return sess, nil
}

// invoke validates req, sends it and decodes the typed response.
func (s *Server) invoke(ctx context.Context, sess *Session, action string, req any) (any, error) {
	if err := s.codec.Validate(req); err != nil {
		return nil, err
	}
	payload, err := sess.Call(ctx, action, req)
	if err != nil {
		return nil, err
	}
	return s.codec.DecodeResponse(action, payload)
}

func (s *Server) rejected(deviceID, action string, err error) (domain.CommandResult, error) {
	res := domain.Rejected(err)
	var ce *CallError
	if errors.As(err, &ce) && ce.Unwrap() == nil {
		// The device answered with a CallError that maps to no local cause.
		res.Reason = string(ce.Code)
	}
	s.log.Info("Command rejected",
		zap.String("charge_point_id", deviceID),
		zap.String("action", action),
		zap.String("reason", res.Reason),
		zap.Error(err))
	return res, err
}

func fromStatus(status string, info *StatusInfo) domain.CommandResult {
	switch status {
	case "Accepted":
		return domain.CommandResult{Status: domain.CommandAccepted}
	case "Scheduled":
		return domain.CommandResult{Status: domain.CommandScheduled}
	}
	reason := status
	if info != nil && info.ReasonCode != "" {
		reason += ": " + info.ReasonCode
	}
	return domain.CommandResult{Status: domain.CommandRejected, Reason: reason}
}

func evse(connectorID int) *Evse {
	if connectorID <= 0 {
		return nil
	}
	return &Evse{Id: connectorID}
}

func (s *Server) RequestStartTransaction(ctx context.Context, deviceID string, connectorID int, idToken string) (domain.CommandResult, error) {
	const action = ActionRequestStartTransaction
	sess, err := s.session(deviceID)
	if err != nil {
		return s.rejected(deviceID, action, err)
	}
	if connectorID < 0 || idToken == "" {
		return s.rejected(deviceID, action, fmt.Errorf("%w: connector and id token required", domain.ErrProtocolFormat))
	}
	if err := sess.Do(ctx, func() error { return s.txs.CheckRemoteStart(ctx, deviceID, connectorID) }); err != nil {
		return s.rejected(deviceID, action, err)
	}

	req := &RequestStartTransactionRequest{
		IdToken:       IdToken{IdToken: idToken, Type: "Central"},
		RemoteStartId: int(s.remoteStartSeq.Add(1)),
	}
	if connectorID > 0 {
		req.EvseId = &connectorID
	}
	resp, err := s.invoke(ctx, sess, action, req)
	if err != nil {
		return s.rejected(deviceID, action, err)
	}
	r := resp.(*RequestStartTransactionResponse)
	res := fromStatus(r.Status, r.StatusInfo)
	res.Payload = map[string]any{"remote_start_id": req.RemoteStartId, "transaction_id": r.TransactionId}
	return res, nil
}

func (s *Server) RequestStopTransaction(ctx context.Context, deviceID, transactionID string) (domain.CommandResult, error) {
	const action = ActionRequestStopTransaction
	sess, err := s.session(deviceID)
	if err != nil {
		return s.rejected(deviceID, action, err)
	}

	var wireID string
	err = sess.Do(ctx, func() error {
		tx, err := s.txs.CheckRemoteStop(ctx, deviceID, transactionID)
		if err != nil {
			return err
		}
		wireID = tx.ChargerTransactionID
		if wireID == "" {
			wireID = tx.ID
		}
		return nil
	})
	if err != nil {
		return s.rejected(deviceID, action, err)
	}

	resp, err := s.invoke(ctx, sess, action, &RequestStopTransactionRequest{TransactionId: wireID})
	if err != nil {
		return s.rejected(deviceID, action, err)
	}
	r := resp.(*RequestStopTransactionResponse)
	return fromStatus(r.Status, r.StatusInfo), nil
}

func (s *Server) RequestReset(ctx context.Context, deviceID, resetType string) (domain.CommandResult, error) {
	const action = ActionReset
	sess, err := s.session(deviceID)
	if err != nil {
		return s.rejected(deviceID, action, err)
	}
	if resetType == "" {
		resetType = domain.ResetImmediate
	}

	resp, err := s.invoke(ctx, sess, action, &ResetRequest{Type: resetType})
	if err != nil {
		return s.rejected(deviceID, action, err)
	}
	r := resp.(*ResetResponse)
	if r.Status == "Accepted" {
		_ = sess.Do(ctx, func() error {
			s.txs.ResetFaults(ctx, deviceID)
			return nil
		})
	}
	return fromStatus(r.Status, r.StatusInfo), nil
}

func (s *Server) RequestAvailabilityChange(ctx context.Context, deviceID string, connectorID int, operative bool) (domain.CommandResult, error) {
	const action = ActionChangeAvailability
	sess, err := s.session(deviceID)
	if err != nil {
		return s.rejected(deviceID, action, err)
	}
	if connectorID < 0 {
		return s.rejected(deviceID, action, fmt.Errorf("%w: negative connector id", domain.ErrProtocolFormat))
	}

	status := "Inoperative"
	if operative {
		status = "Operative"
	}
	resp, err := s.invoke(ctx, sess, action, &ChangeAvailabilityRequest{OperationalStatus: status, Evse: evse(connectorID)})
	if err != nil {
		return s.rejected(deviceID, action, err)
	}
	r := resp.(*ChangeAvailabilityResponse)
	return fromStatus(r.Status, r.StatusInfo), nil
}

// InstallProfile stores the profile in the resolver and pushes it to the
// device. A refusal or failed call restores the previous resolver state.
func (s *Server) InstallProfile(ctx context.Context, profile domain.ChargingProfile) (domain.CommandResult, error) {
	const action = ActionSetChargingProfile
	deviceID := profile.ChargePointID
	sess, err := s.session(deviceID)
	if err != nil {
		return s.rejected(deviceID, action, err)
	}

	var (
		previous *domain.ChargingProfile
		wireTxID string
	)
	err = sess.Do(ctx, func() error {
		if profile.TransactionID != "" {
			tx, ok := s.txs.FindTransaction(profile.TransactionID)
			if !ok || tx.ChargePointID != deviceID || tx.State.Terminal() {
				return fmt.Errorf("%w: transaction %s", domain.ErrNotFound, profile.TransactionID)
			}
			profile.TransactionID = tx.ID
			if profile.ConnectorID == 0 {
				profile.ConnectorID = tx.ConnectorID
			}
			wireTxID = tx.ChargerTransactionID
			if wireTxID == "" {
				wireTxID = tx.ID
			}
		}
		prev, err := s.profiles.Install(profile)
		previous = prev
		return err
	})
	if err != nil {
		return s.rejected(deviceID, action, err)
	}

	req := &SetChargingProfileRequest{EvseId: profile.ConnectorID, ChargingProfile: toWireProfile(profile, wireTxID)}
	resp, err := s.invoke(ctx, sess, action, req)
	if err != nil {
		s.profiles.Restore(deviceID, profile.ID, previous)
		return s.rejected(deviceID, action, err)
	}
	r := resp.(*SetChargingProfileResponse)
	res := fromStatus(r.Status, r.StatusInfo)
	if res.Status != domain.CommandAccepted {
		s.profiles.Restore(deviceID, profile.ID, previous)
	}
	return res, nil
}

// ClearProfiles clears matching profiles on the device and, once the device
// has answered, in the resolver.
func (s *Server) ClearProfiles(ctx context.Context, selector domain.ProfileSelector) (domain.CommandResult, error) {
	const action = ActionClearChargingProfile
	deviceID := selector.ChargePointID
	if deviceID == "" {
		return s.rejected(deviceID, action, fmt.Errorf("%w: charge point required", domain.ErrProtocolFormat))
	}
	sess, err := s.session(deviceID)
	if err != nil {
		return s.rejected(deviceID, action, err)
	}

	req := &ClearChargingProfileRequest{ChargingProfileId: selector.ID}
	if selector.ConnectorID != nil || selector.Purpose != "" || selector.StackLevel != nil {
		criteria := &ClearChargingProfileCriteria{EvseId: selector.ConnectorID, StackLevel: selector.StackLevel}
		if selector.Purpose != "" {
			purpose := string(selector.Purpose)
			criteria.ChargingProfilePurpose = &purpose
		}
		req.ChargingProfileCriteria = criteria
	}

	resp, err := s.invoke(ctx, sess, action, req)
	if err != nil {
		return s.rejected(deviceID, action, err)
	}
	r := resp.(*ClearChargingProfileResponse)

	// Unknown means the device holds none of them; the local copies go either way.
	var cleared []domain.ChargingProfile
	_ = sess.Do(ctx, func() error {
		cleared = s.profiles.Clear(selector)
		return nil
	})
	res := fromStatus(r.Status, r.StatusInfo)
	res.Payload = map[string]any{"cleared": len(cleared)}
	return res, nil
}

// GetEffectiveLimit resolves locally; the device is not asked.
func (s *Server) GetEffectiveLimit(ctx context.Context, deviceID string, connectorID int, at time.Time) (domain.Limit, error) {
	if connectorID < 0 {
		return domain.Limit{}, fmt.Errorf("%w: negative connector id", domain.ErrProtocolFormat)
	}
	if at.IsZero() {
		at = s.now()
	}
	q := domain.LimitQuery{ChargePointID: deviceID, ConnectorID: connectorID, At: at}
	if tx, ok := s.txs.ActiveTransaction(deviceID, connectorID); ok {
		q.TransactionID = tx.ID
		q.TransactionStart = tx.StartedAt
	}
	return s.profiles.EffectiveLimit(q), nil
}

func toComponent(ref domain.VariableRef) Component {
	c := Component{Name: ref.Component}
	if ref.EvseID != nil {
		c.Evse = &Evse{Id: *ref.EvseID}
	}
	return c
}

func (s *Server) GetVariables(ctx context.Context, deviceID string, refs []domain.VariableRef) (domain.CommandResult, error) {
	const action = ActionGetVariables
	sess, err := s.session(deviceID)
	if err != nil {
		return s.rejected(deviceID, action, err)
	}

	req := &GetVariablesRequest{}
	for _, ref := range refs {
		req.GetVariableData = append(req.GetVariableData, GetVariableData{
			Component: toComponent(ref),
			Variable:  Variable{Name: ref.Variable},
		})
	}
	resp, err := s.invoke(ctx, sess, action, req)
	if err != nil {
		return s.rejected(deviceID, action, err)
	}

	results := make([]VariableResult, 0, len(resp.(*GetVariablesResponse).GetVariableResult))
	known := make(map[string]string)
	for _, r := range resp.(*GetVariablesResponse).GetVariableResult {
		ref := domain.VariableRef{Component: r.Component.Name, Variable: r.Variable.Name, Value: r.AttributeValue}
		if r.Component.Evse != nil {
			id := r.Component.Evse.Id
			ref.EvseID = &id
		}
		if r.AttributeStatus == "Accepted" {
			known[ref.Key()] = ref.Value
		}
		results = append(results, VariableResult{VariableRef: ref, Status: r.AttributeStatus})
	}
	s.applyVariables(ctx, deviceID, known)
	return domain.CommandResult{Status: domain.CommandAccepted, Payload: results}, nil
}

func (s *Server) SetVariables(ctx context.Context, deviceID string, refs []domain.VariableRef) (domain.CommandResult, error) {
	const action = ActionSetVariables
	sess, err := s.session(deviceID)
	if err != nil {
		return s.rejected(deviceID, action, err)
	}

	req := &SetVariablesRequest{}
	values := make(map[string]string, len(refs))
	for _, ref := range refs {
		req.SetVariableData = append(req.SetVariableData, SetVariableData{
			AttributeValue: ref.Value,
			Component:      toComponent(ref),
			Variable:       Variable{Name: ref.Variable},
		})
		values[ref.Key()] = ref.Value
	}
	resp, err := s.invoke(ctx, sess, action, req)
	if err != nil {
		return s.rejected(deviceID, action, err)
	}

	var results []VariableResult
	applied := make(map[string]string)
	rejected := 0
	for _, r := range resp.(*SetVariablesResponse).SetVariableResult {
		ref := domain.VariableRef{Component: r.Component.Name, Variable: r.Variable.Name}
		ref.Value = values[ref.Key()]
		switch r.AttributeStatus {
		case "Accepted", "RebootRequired":
			applied[ref.Key()] = ref.Value
		default:
			rejected++
		}
		results = append(results, VariableResult{VariableRef: ref, Status: r.AttributeStatus})
	}
	s.applyVariables(ctx, deviceID, applied)

	res := domain.CommandResult{Status: domain.CommandAccepted, Payload: results}
	if rejected == len(results) {
		res.Status = domain.CommandRejected
		res.Reason = "AllVariablesRejected"
	}
	return res, nil
}

func (s *Server) applyVariables(ctx context.Context, deviceID string, vars map[string]string) {
	if len(vars) == 0 {
		return
	}
	if err := s.devices.ApplyVariables(ctx, deviceID, vars); err != nil {
		s.log.Warn("Failed to record variables", zap.String("charge_point_id", deviceID), zap.Error(err))
	}
}

func (s *Server) InstallCertificate(ctx context.Context, deviceID, certificateType, certificate string) (domain.CommandResult, error) {
	const action = ActionInstallCertificate
	sess, err := s.session(deviceID)
	if err != nil {
		return s.rejected(deviceID, action, err)
	}
	resp, err := s.invoke(ctx, sess, action, &InstallCertificateRequest{CertificateType: certificateType, Certificate: certificate})
	if err != nil {
		return s.rejected(deviceID, action, err)
	}
	r := resp.(*InstallCertificateResponse)
	return fromStatus(r.Status, r.StatusInfo), nil
}

func (s *Server) DeleteCertificate(ctx context.Context, deviceID string, hash domain.CertificateHash) (domain.CommandResult, error) {
	const action = ActionDeleteCertificate
	sess, err := s.session(deviceID)
	if err != nil {
		return s.rejected(deviceID, action, err)
	}
	resp, err := s.invoke(ctx, sess, action, &DeleteCertificateRequest{CertificateHashData: CertificateHashData{
		HashAlgorithm:  hash.HashAlgorithm,
		IssuerNameHash: hash.IssuerNameHash,
		IssuerKeyHash:  hash.IssuerKeyHash,
		SerialNumber:   hash.SerialNumber,
	}})
	if err != nil {
		return s.rejected(deviceID, action, err)
	}
	r := resp.(*DeleteCertificateResponse)
	return fromStatus(r.Status, r.StatusInfo), nil
}

func (s *Server) GetInstalledCertificateIds(ctx context.Context, deviceID string, types []string) (domain.CommandResult, error) {
	const action = ActionGetInstalledCertificateIds
	sess, err := s.session(deviceID)
	if err != nil {
		return s.rejected(deviceID, action, err)
	}
	resp, err := s.invoke(ctx, sess, action, &GetInstalledCertificateIdsRequest{CertificateType: types})
	if err != nil {
		return s.rejected(deviceID, action, err)
	}
	r := resp.(*GetInstalledCertificateIdsResponse)

	hashes := make([]domain.CertificateHash, 0, len(r.CertificateHashDataChain))
	for _, chain := range r.CertificateHashDataChain {
		h := chain.CertificateHashData
		hashes = append(hashes, domain.CertificateHash{
			HashAlgorithm:  h.HashAlgorithm,
			IssuerNameHash: h.IssuerNameHash,
			IssuerKeyHash:  h.IssuerKeyHash,
			SerialNumber:   h.SerialNumber,
		})
	}
	// NotFound only means nothing of those types is installed.
	return domain.CommandResult{Status: domain.CommandAccepted, Payload: hashes}, nil
}

func (s *Server) DataTransfer(ctx context.Context, deviceID, vendorID, messageID string, data json.RawMessage) (domain.CommandResult, error) {
	const action = ActionDataTransfer
	sess, err := s.session(deviceID)
	if err != nil {
		return s.rejected(deviceID, action, err)
	}
	resp, err := s.invoke(ctx, sess, action, &DataTransferRequest{VendorId: vendorID, MessageId: messageID, Data: data})
	if err != nil {
		return s.rejected(deviceID, action, err)
	}
	r := resp.(*DataTransferResponse)
	res := fromStatus(r.Status, r.StatusInfo)
	if len(r.Data) > 0 {
		res.Payload = r.Data
	}
	return res, nil
}

func (s *Server) TriggerMessage(ctx context.Context, deviceID, message string, connectorID int) (domain.CommandResult, error) {
	const action = ActionTriggerMessage
	sess, err := s.session(deviceID)
	if err != nil {
		return s.rejected(deviceID, action, err)
	}
	resp, err := s.invoke(ctx, sess, action, &TriggerMessageRequest{RequestedMessage: message, Evse: evse(connectorID)})
	if err != nil {
		return s.rejected(deviceID, action, err)
	}
	r := resp.(*TriggerMessageResponse)
	return fromStatus(r.Status, r.StatusInfo), nil
}
