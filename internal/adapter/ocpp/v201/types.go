package v201

import (
	"encoding/json"
	"time"
)

// MessageType is the first element of every OCPP-J frame.
type MessageType int

const (
	MessageCall   MessageType = 2
	MessageResult MessageType = 3
	MessageError  MessageType = 4
)

// FormatTime renders t the way timestamps travel on the wire.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTime reads a wire timestamp; fractional seconds are accepted.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// --- Shared structures ---

type IdToken struct {
	IdToken string `json:"idToken" validate:"required,max=36"`
	Type    string `json:"type" validate:"required,oneof=Central eMAID ISO14443 ISO15693 KeyCode Local MacAddress NoAuthorization"`
}

type IdTokenInfo struct {
	Status string `json:"status" validate:"required"` // Accepted, Blocked, ConcurrentTx, Expired, Invalid, Unknown...
}

type Evse struct {
	Id          int  `json:"id" validate:"gte=0"`
	ConnectorId *int `json:"connectorId,omitempty" validate:"omitempty,gte=0"`
}

type StatusInfo struct {
	ReasonCode     string `json:"reasonCode" validate:"required,max=20"`
	AdditionalInfo string `json:"additionalInfo,omitempty" validate:"max=512"`
}

type UnitOfMeasure struct {
	Unit       string `json:"unit,omitempty" validate:"max=20"`
	Multiplier int    `json:"multiplier,omitempty"`
}

type SampledValue struct {
	Value         float64        `json:"value"`
	Context       string         `json:"context,omitempty"`
	Measurand     string         `json:"measurand,omitempty"`
	Phase         string         `json:"phase,omitempty"`
	Location      string         `json:"location,omitempty"`
	UnitOfMeasure *UnitOfMeasure `json:"unitOfMeasure,omitempty" validate:"omitempty"`
}

type MeterValue struct {
	Timestamp    string         `json:"timestamp" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	SampledValue []SampledValue `json:"sampledValue" validate:"required,min=1,dive"`
}

type Component struct {
	Name     string `json:"name" validate:"required,max=50"`
	Instance string `json:"instance,omitempty" validate:"max=50"`
	Evse     *Evse  `json:"evse,omitempty" validate:"omitempty"`
}

type Variable struct {
	Name     string `json:"name" validate:"required,max=50"`
	Instance string `json:"instance,omitempty" validate:"max=50"`
}

type CertificateHashData struct {
	HashAlgorithm  string `json:"hashAlgorithm" validate:"required,oneof=SHA256 SHA384 SHA512"`
	IssuerNameHash string `json:"issuerNameHash" validate:"required,max=128"`
	IssuerKeyHash  string `json:"issuerKeyHash" validate:"required,max=128"`
	SerialNumber   string `json:"serialNumber" validate:"required,max=40"`
}

type CertificateHashDataChain struct {
	CertificateType          string                `json:"certificateType" validate:"required"`
	CertificateHashData      CertificateHashData   `json:"certificateHashData" validate:"required"`
	ChildCertificateHashData []CertificateHashData `json:"childCertificateHashData,omitempty" validate:"omitempty,dive"`
}

// --- Charge point -> CSMS ---

type BootNotificationRequest struct {
	ChargingStation ChargingStation `json:"chargingStation" validate:"required"`
	Reason          string          `json:"reason" validate:"required,oneof=ApplicationReset FirmwareUpdate LocalReset PowerUp RemoteReset ScheduledReset Triggered Unknown Watchdog"`
}

type ChargingStation struct {
	Model           string `json:"model" validate:"required,max=20"`
	VendorName      string `json:"vendorName" validate:"required,max=50"`
	SerialNumber    string `json:"serialNumber,omitempty" validate:"max=25"`
	FirmwareVersion string `json:"firmwareVersion,omitempty" validate:"max=50"`
}

type BootNotificationResponse struct {
	CurrentTime string `json:"currentTime" validate:"required"`
	Interval    int    `json:"interval"`
	Status      string `json:"status" validate:"required,oneof=Accepted Pending Rejected"`
}

type HeartbeatRequest struct{}

type HeartbeatResponse struct {
	CurrentTime string `json:"currentTime" validate:"required"`
}

// StatusNotificationRequest accepts the 2.0.1 statuses plus the finer-grained
// set reported by older firmware.
type StatusNotificationRequest struct {
	Timestamp       string `json:"timestamp" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	ConnectorStatus string `json:"connectorStatus" validate:"required,oneof=Available Occupied Reserved Unavailable Faulted Preparing Charging SuspendedEV SuspendedEVSE Finishing"`
	EvseId          int    `json:"evseId" validate:"gte=0"`
	ConnectorId     int    `json:"connectorId" validate:"gte=0"`
}

type StatusNotificationResponse struct{}

type AuthorizeRequest struct {
	IdToken     IdToken `json:"idToken" validate:"required"`
	Certificate string  `json:"certificate,omitempty" validate:"max=5500"`
}

type AuthorizeResponse struct {
	IdTokenInfo IdTokenInfo `json:"idTokenInfo" validate:"required"`
}

type TransactionEventRequest struct {
	EventType       string          `json:"eventType" validate:"required,oneof=Started Updated Ended"`
	Timestamp       string          `json:"timestamp" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	TriggerReason   string          `json:"triggerReason" validate:"required"`
	SeqNo           int             `json:"seqNo" validate:"gte=0"`
	Offline         bool            `json:"offline,omitempty"`
	TransactionInfo TransactionInfo `json:"transactionInfo" validate:"required"`
	IdToken         *IdToken        `json:"idToken,omitempty" validate:"omitempty"`
	Evse            *Evse           `json:"evse,omitempty" validate:"omitempty"`
	MeterValue      []MeterValue    `json:"meterValue,omitempty" validate:"omitempty,dive"`
}

type TransactionInfo struct {
	TransactionId string `json:"transactionId" validate:"required,max=36"`
	ChargingState string `json:"chargingState,omitempty" validate:"omitempty,oneof=Charging EVConnected SuspendedEV SuspendedEVSE Idle"`
	StoppedReason string `json:"stoppedReason,omitempty"`
	RemoteStartId *int   `json:"remoteStartId,omitempty"`
}

type TransactionEventResponse struct {
	IdTokenInfo *IdTokenInfo `json:"idTokenInfo,omitempty"`
}

type MeterValuesRequest struct {
	EvseId     int          `json:"evseId" validate:"gte=0"`
	MeterValue []MeterValue `json:"meterValue" validate:"required,min=1,dive"`
}

type MeterValuesResponse struct{}

// DataTransferRequest is used in both directions.
type DataTransferRequest struct {
	VendorId  string          `json:"vendorId" validate:"required,max=255"`
	MessageId string          `json:"messageId,omitempty" validate:"max=50"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type DataTransferResponse struct {
	Status     string          `json:"status" validate:"required,oneof=Accepted Rejected UnknownMessageId UnknownVendorId"`
	Data       json.RawMessage `json:"data,omitempty"`
	StatusInfo *StatusInfo     `json:"statusInfo,omitempty" validate:"omitempty"`
}

// --- CSMS -> charge point ---

type RequestStartTransactionRequest struct {
	IdToken         IdToken          `json:"idToken" validate:"required"`
	RemoteStartId   int              `json:"remoteStartId"`
	EvseId          *int             `json:"evseId,omitempty"`
	ChargingProfile *ChargingProfile `json:"chargingProfile,omitempty"`
}

type RequestStartTransactionResponse struct {
	Status        string      `json:"status" validate:"required,oneof=Accepted Rejected"`
	TransactionId string      `json:"transactionId,omitempty"`
	StatusInfo    *StatusInfo `json:"statusInfo,omitempty" validate:"omitempty"`
}

type RequestStopTransactionRequest struct {
	TransactionId string `json:"transactionId" validate:"required,max=36"`
}

type RequestStopTransactionResponse struct {
	Status     string      `json:"status" validate:"required,oneof=Accepted Rejected"`
	StatusInfo *StatusInfo `json:"statusInfo,omitempty" validate:"omitempty"`
}

type ChangeAvailabilityRequest struct {
	OperationalStatus string `json:"operationalStatus" validate:"required,oneof=Operative Inoperative"`
	Evse              *Evse  `json:"evse,omitempty"`
}

type ChangeAvailabilityResponse struct {
	Status     string      `json:"status" validate:"required,oneof=Accepted Rejected Scheduled"`
	StatusInfo *StatusInfo `json:"statusInfo,omitempty" validate:"omitempty"`
}

type ResetRequest struct {
	Type   string `json:"type" validate:"required,oneof=Immediate OnIdle"`
	EvseId *int   `json:"evseId,omitempty"`
}

type ResetResponse struct {
	Status     string      `json:"status" validate:"required,oneof=Accepted Rejected Scheduled"`
	StatusInfo *StatusInfo `json:"statusInfo,omitempty" validate:"omitempty"`
}

type GetVariablesRequest struct {
	GetVariableData []GetVariableData `json:"getVariableData" validate:"required,min=1,dive"`
}

type GetVariableData struct {
	Component     Component `json:"component" validate:"required"`
	Variable      Variable  `json:"variable" validate:"required"`
	AttributeType string    `json:"attributeType,omitempty"`
}

type GetVariablesResponse struct {
	GetVariableResult []GetVariableResult `json:"getVariableResult" validate:"required,min=1,dive"`
}

type GetVariableResult struct {
	AttributeStatus string      `json:"attributeStatus" validate:"required"`
	AttributeType   string      `json:"attributeType,omitempty"`
	AttributeValue  string      `json:"attributeValue,omitempty"`
	Component       Component   `json:"component" validate:"required"`
	Variable        Variable    `json:"variable" validate:"required"`
	StatusInfo      *StatusInfo `json:"statusInfo,omitempty" validate:"omitempty"`
}

type SetVariablesRequest struct {
	SetVariableData []SetVariableData `json:"setVariableData" validate:"required,min=1,dive"`
}

type SetVariableData struct {
	AttributeType  string    `json:"attributeType,omitempty"`
	AttributeValue string    `json:"attributeValue" validate:"max=1000"`
	Component      Component `json:"component" validate:"required"`
	Variable       Variable  `json:"variable" validate:"required"`
}

type SetVariablesResponse struct {
	SetVariableResult []SetVariableResult `json:"setVariableResult" validate:"required,min=1,dive"`
}

type SetVariableResult struct {
	AttributeStatus string      `json:"attributeStatus" validate:"required"` // Accepted, Rejected, UnknownComponent, UnknownVariable, NotSupportedAttributeType, RebootRequired
	AttributeType   string      `json:"attributeType,omitempty"`
	Component       Component   `json:"component" validate:"required"`
	Variable        Variable    `json:"variable" validate:"required"`
	StatusInfo      *StatusInfo `json:"statusInfo,omitempty" validate:"omitempty"`
}

type InstallCertificateRequest struct {
	CertificateType string `json:"certificateType" validate:"required,oneof=V2GRootCertificate MORootCertificate CSMSRootCertificate ManufacturerRootCertificate"`
	Certificate     string `json:"certificate" validate:"required,max=5500"`
}

type InstallCertificateResponse struct {
	Status     string      `json:"status" validate:"required,oneof=Accepted Rejected Failed"`
	StatusInfo *StatusInfo `json:"statusInfo,omitempty" validate:"omitempty"`
}

type DeleteCertificateRequest struct {
	CertificateHashData CertificateHashData `json:"certificateHashData" validate:"required"`
}

type DeleteCertificateResponse struct {
	Status     string      `json:"status" validate:"required,oneof=Accepted Failed NotFound"`
	StatusInfo *StatusInfo `json:"statusInfo,omitempty" validate:"omitempty"`
}

type GetInstalledCertificateIdsRequest struct {
	CertificateType []string `json:"certificateType,omitempty" validate:"omitempty,dive,oneof=V2GRootCertificate MORootCertificate CSMSRootCertificate V2GCertificateChain ManufacturerRootCertificate"`
}

type GetInstalledCertificateIdsResponse struct {
	Status                   string                     `json:"status" validate:"required,oneof=Accepted NotFound"`
	CertificateHashDataChain []CertificateHashDataChain `json:"certificateHashDataChain,omitempty" validate:"omitempty,dive"`
	StatusInfo               *StatusInfo                `json:"statusInfo,omitempty" validate:"omitempty"`
}

// ChargingProfile is the wire form of a charging profile.
type ChargingProfile struct {
	Id                     int                `json:"id"`
	StackLevel             int                `json:"stackLevel" validate:"gte=0"`
	ChargingProfilePurpose string             `json:"chargingProfilePurpose" validate:"required"`
	ChargingProfileKind    string             `json:"chargingProfileKind" validate:"required,oneof=Absolute Recurring Relative"`
	RecurrencyKind         string             `json:"recurrencyKind,omitempty" validate:"omitempty,oneof=Daily Weekly"`
	ValidFrom              *string            `json:"validFrom,omitempty"`
	ValidTo                *string            `json:"validTo,omitempty"`
	TransactionId          string             `json:"transactionId,omitempty"`
	ChargingSchedule       []ChargingSchedule `json:"chargingSchedule" validate:"required,min=1,max=3,dive"`
}

type ChargingSchedule struct {
	Id                     int                      `json:"id"`
	StartSchedule          *string                  `json:"startSchedule,omitempty"`
	Duration               *int                     `json:"duration,omitempty"`
	ChargingRateUnit       string                   `json:"chargingRateUnit" validate:"required,oneof=W A"`
	MinChargingRate        *float64                 `json:"minChargingRate,omitempty"`
	ChargingSchedulePeriod []ChargingSchedulePeriod `json:"chargingSchedulePeriod" validate:"required,min=1,dive"`
}

type ChargingSchedulePeriod struct {
	StartPeriod  int     `json:"startPeriod" validate:"gte=0"` // seconds from schedule start
	Limit        float64 `json:"limit"`
	NumberPhases *int    `json:"numberPhases,omitempty"`
}

type SetChargingProfileRequest struct {
	EvseId          int             `json:"evseId" validate:"gte=0"`
	ChargingProfile ChargingProfile `json:"chargingProfile" validate:"required"`
}

type SetChargingProfileResponse struct {
	Status     string      `json:"status" validate:"required,oneof=Accepted Rejected"`
	StatusInfo *StatusInfo `json:"statusInfo,omitempty" validate:"omitempty"`
}

type ClearChargingProfileRequest struct {
	ChargingProfileId       *int                          `json:"chargingProfileId,omitempty"`
	ChargingProfileCriteria *ClearChargingProfileCriteria `json:"chargingProfileCriteria,omitempty"`
}

type ClearChargingProfileCriteria struct {
	EvseId                 *int    `json:"evseId,omitempty"`
	ChargingProfilePurpose *string `json:"chargingProfilePurpose,omitempty"`
	StackLevel             *int    `json:"stackLevel,omitempty"`
}

type ClearChargingProfileResponse struct {
	Status     string      `json:"status" validate:"required,oneof=Accepted Unknown"`
	StatusInfo *StatusInfo `json:"statusInfo,omitempty" validate:"omitempty"`
}

type TriggerMessageRequest struct {
	RequestedMessage string `json:"requestedMessage" validate:"required,oneof=BootNotification LogStatusNotification FirmwareStatusNotification Heartbeat MeterValues SignChargingStationCertificate SignV2GCertificate StatusNotification TransactionEvent SignCombinedCertificate PublishFirmwareStatusNotification"`
	Evse             *Evse  `json:"evse,omitempty"`
}

type TriggerMessageResponse struct {
	Status     string      `json:"status" validate:"required,oneof=Accepted Rejected NotImplemented"`
	StatusInfo *StatusInfo `json:"statusInfo,omitempty" validate:"omitempty"`
}
