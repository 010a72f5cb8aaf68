package v201

// Direction says which side initiates an action.
type Direction int

const (
	Inbound  Direction = iota + 1 // charge point -> CSMS
	Outbound                      // CSMS -> charge point
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

const (
	ActionBootNotification           = "BootNotification"
	ActionHeartbeat                  = "Heartbeat"
	ActionStatusNotification         = "StatusNotification"
	ActionAuthorize                  = "Authorize"
	ActionTransactionEvent           = "TransactionEvent"
	ActionMeterValues                = "MeterValues"
	ActionDataTransfer               = "DataTransfer"
	ActionRequestStartTransaction    = "RequestStartTransaction"
	ActionRequestStopTransaction     = "RequestStopTransaction"
	ActionChangeAvailability         = "ChangeAvailability"
	ActionReset                      = "Reset"
	ActionGetVariables               = "GetVariables"
	ActionSetVariables               = "SetVariables"
	ActionSetChargingProfile         = "SetChargingProfile"
	ActionClearChargingProfile       = "ClearChargingProfile"
	ActionInstallCertificate         = "InstallCertificate"
	ActionDeleteCertificate          = "DeleteCertificate"
	ActionGetInstalledCertificateIds = "GetInstalledCertificateIds"
	ActionTriggerMessage             = "TriggerMessage"
)

// Entry ties an action to its payload shapes. Request and Response return
// fresh pointers ready to be decoded into.
type Entry struct {
	Action    string
	Direction Direction
	Request   func() any
	Response  func() any
}

func entry[Req, Resp any](action string, dir Direction) Entry {
	return Entry{
		Action:    action,
		Direction: dir,
		Request:   func() any { return new(Req) },
		Response:  func() any { return new(Resp) },
	}
}

var catalog = map[string]Entry{}

func init() {
	for _, e := range []Entry{
		entry[BootNotificationRequest, BootNotificationResponse](ActionBootNotification, Inbound),
		entry[HeartbeatRequest, HeartbeatResponse](ActionHeartbeat, Inbound),
		entry[StatusNotificationRequest, StatusNotificationResponse](ActionStatusNotification, Inbound),
		entry[AuthorizeRequest, AuthorizeResponse](ActionAuthorize, Inbound),
		entry[TransactionEventRequest, TransactionEventResponse](ActionTransactionEvent, Inbound),
		entry[MeterValuesRequest, MeterValuesResponse](ActionMeterValues, Inbound),
		entry[DataTransferRequest, DataTransferResponse](ActionDataTransfer, Inbound),

		entry[RequestStartTransactionRequest, RequestStartTransactionResponse](ActionRequestStartTransaction, Outbound),
		entry[RequestStopTransactionRequest, RequestStopTransactionResponse](ActionRequestStopTransaction, Outbound),
		entry[ChangeAvailabilityRequest, ChangeAvailabilityResponse](ActionChangeAvailability, Outbound),
		entry[ResetRequest, ResetResponse](ActionReset, Outbound),
		entry[GetVariablesRequest, GetVariablesResponse](ActionGetVariables, Outbound),
		entry[SetVariablesRequest, SetVariablesResponse](ActionSetVariables, Outbound),
		entry[SetChargingProfileRequest, SetChargingProfileResponse](ActionSetChargingProfile, Outbound),
		entry[ClearChargingProfileRequest, ClearChargingProfileResponse](ActionClearChargingProfile, Outbound),
		entry[InstallCertificateRequest, InstallCertificateResponse](ActionInstallCertificate, Outbound),
		entry[DeleteCertificateRequest, DeleteCertificateResponse](ActionDeleteCertificate, Outbound),
		entry[GetInstalledCertificateIdsRequest, GetInstalledCertificateIdsResponse](ActionGetInstalledCertificateIds, Outbound),
		entry[TriggerMessageRequest, TriggerMessageResponse](ActionTriggerMessage, Outbound),
	} {
		catalog[e.Action] = e
	}
}

// Lookup returns the catalog entry for action.
func Lookup(action string) (Entry, bool) {
	e, ok := catalog[action]
	return e, ok
}

// Actions lists every action with the given direction.
func Actions(dir Direction) []string {
	var out []string
	for name, e := range catalog {
		if e.Direction == dir {
			out = append(out, name)
		}
	}
	return out
}
