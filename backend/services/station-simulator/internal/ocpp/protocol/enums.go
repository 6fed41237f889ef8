package protocol

// MessageType values as per OCPP-J.
const (
	MessageTypeCall       = 2
	MessageTypeCallResult = 3
	MessageTypeCallError  = 4
)

// Subprotocol negotiated on the websocket handshake.
const Subprotocol = "ocpp1.6"

// Actions used by the simulator.
const (
	ActionBootNotification   = "BootNotification"
	ActionHeartbeat          = "Heartbeat"
	ActionStatusNotification = "StatusNotification"
	ActionAuthorize          = "Authorize"
	ActionStartTransaction   = "StartTransaction"
	ActionStopTransaction    = "StopTransaction"
	ActionChangeAvailability = "ChangeAvailability"
)

// RegistrationStatus answers a BootNotification.
type RegistrationStatus string

const (
	RegistrationAccepted RegistrationStatus = "Accepted"
	RegistrationPending  RegistrationStatus = "Pending"
	RegistrationRejected RegistrationStatus = "Rejected"
)

// AuthorizationStatus is carried in IdTagInfo.
type AuthorizationStatus string

const (
	AuthorizationAccepted     AuthorizationStatus = "Accepted"
	AuthorizationBlocked      AuthorizationStatus = "Blocked"
	AuthorizationExpired      AuthorizationStatus = "Expired"
	AuthorizationInvalid      AuthorizationStatus = "Invalid"
	AuthorizationConcurrentTx AuthorizationStatus = "ConcurrentTx"
)

// ConnectorStatus values reported with StatusNotification (subset).
type ConnectorStatus string

const (
	ConnectorAvailable   ConnectorStatus = "Available"
	ConnectorPreparing   ConnectorStatus = "Preparing"
	ConnectorCharging    ConnectorStatus = "Charging"
	ConnectorFinishing   ConnectorStatus = "Finishing"
	ConnectorUnavailable ConnectorStatus = "Unavailable"
	ConnectorFaulted     ConnectorStatus = "Faulted"
)

// AvailabilityType is requested by ChangeAvailability.
type AvailabilityType string

const (
	AvailabilityOperative   AvailabilityType = "Operative"
	AvailabilityInoperative AvailabilityType = "Inoperative"
)

// AvailabilityStatus answers a ChangeAvailability.
type AvailabilityStatus string

const (
	AvailabilityAccepted  AvailabilityStatus = "Accepted"
	AvailabilityRejected  AvailabilityStatus = "Rejected"
	AvailabilityScheduled AvailabilityStatus = "Scheduled"
)

// StopReason is sent with StopTransaction. The empty reason is omitted on the wire.
type StopReason string

const (
	StopReasonNone          StopReason = ""
	StopReasonLocal         StopReason = "Local"
	StopReasonRemote        StopReason = "Remote"
	StopReasonPowerLoss     StopReason = "PowerLoss"
	StopReasonReboot        StopReason = "Reboot"
	StopReasonEVDisconnect  StopReason = "EVDisconnected"
	StopReasonDeAuthorized  StopReason = "DeAuthorized"
	StopReasonOther         StopReason = "Other"
	StopReasonEmergencyStop StopReason = "EmergencyStop"
)

// CALLERROR codes used by the simulator.
const (
	ErrorNotImplemented         = "NotImplemented"
	ErrorFormationViolation     = "FormationViolation"
	ErrorInternalError          = "InternalError"
	ErrorPropertyConstraintViol = "PropertyConstraintViolation"
)

// ChargePointErrorNoError is the only error code the simulator reports.
const ChargePointErrorNoError = "NoError"
