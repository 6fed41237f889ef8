package protocol

import "time"

// BootNotificationRequest minimal subset.
type BootNotificationRequest struct {
	ChargePointVendor       string `json:"chargePointVendor"`
	ChargePointModel        string `json:"chargePointModel"`
	ChargePointSerialNumber string `json:"chargePointSerialNumber,omitempty"`
	FirmwareVersion         string `json:"firmwareVersion,omitempty"`
}

// BootNotificationResponse carries the registration verdict and heartbeat interval (seconds).
type BootNotificationResponse struct {
	CurrentTime time.Time          `json:"currentTime"`
	Interval    int                `json:"interval"`
	Status      RegistrationStatus `json:"status"`
}

// HeartbeatRequest is empty.
type HeartbeatRequest struct{}

// HeartbeatResponse returns server time.
type HeartbeatResponse struct {
	CurrentTime time.Time `json:"currentTime"`
}

// StatusNotificationRequest payload.
type StatusNotificationRequest struct {
	ConnectorID int             `json:"connectorId"`
	ErrorCode   string          `json:"errorCode"`
	Status      ConnectorStatus `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
}

// StatusNotificationResponse is empty (ack).
type StatusNotificationResponse struct{}

// IdTagInfo is the central system's verdict on an idTag.
type IdTagInfo struct {
	Status      AuthorizationStatus `json:"status"`
	ExpiryDate  *time.Time          `json:"expiryDate,omitempty"`
	ParentIdTag string              `json:"parentIdTag,omitempty"`
}

// Accepted reports whether the tag was accepted.
func (i IdTagInfo) Accepted() bool {
	return i.Status == AuthorizationAccepted
}

// AuthorizeRequest payload.
type AuthorizeRequest struct {
	IdTag string `json:"idTag"`
}

// AuthorizeResponse payload.
type AuthorizeResponse struct {
	IdTagInfo IdTagInfo `json:"idTagInfo"`
}

// StartTransactionRequest payload.
type StartTransactionRequest struct {
	ConnectorID   int       `json:"connectorId"`
	IdTag         string    `json:"idTag"`
	MeterStart    int64     `json:"meterStart"`
	ReservationID *int      `json:"reservationId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// StartTransactionResponse payload.
type StartTransactionResponse struct {
	TransactionID int       `json:"transactionId"`
	IdTagInfo     IdTagInfo `json:"idTagInfo"`
}

// StopTransactionRequest payload.
type StopTransactionRequest struct {
	TransactionID int        `json:"transactionId"`
	IdTag         string     `json:"idTag,omitempty"`
	MeterStop     int64      `json:"meterStop"`
	Timestamp     time.Time  `json:"timestamp"`
	Reason        StopReason `json:"reason,omitempty"`
}

// StopTransactionResponse payload; IdTagInfo is optional in OCPP 1.6.
type StopTransactionResponse struct {
	IdTagInfo *IdTagInfo `json:"idTagInfo,omitempty"`
}

// ChangeAvailabilityRequest is sent by the central system. Connector 0 targets the station.
type ChangeAvailabilityRequest struct {
	ConnectorID int              `json:"connectorId"`
	Type        AvailabilityType `json:"type"`
}

// ChangeAvailabilityResponse payload.
type ChangeAvailabilityResponse struct {
	Status AvailabilityStatus `json:"status"`
}
