package telephony

// DisconnectCause is the cause carried by a terminated selection or a failed CS attempt.
type DisconnectCause int

const (
	CauseNotValid DisconnectCause = iota
	CauseNotDisconnected
	CauseOutgoingFailure
	CauseOutOfService
	CausePowerOff
	CauseTemporaryFailure
	CauseServiceOptionNotAvailable
	CauseEmergencyTempFailure
	CauseEmergencyPermFailure
	CauseEmcRedialOnIms
	CauseEmcRedialOnVoWifi
	CauseLocalCallCSRetryRequired
	CauseNormal
)

func (c DisconnectCause) String() string {
	switch c {
	case CauseNotDisconnected:
		return "NOT_DISCONNECTED"
	case CauseOutgoingFailure:
		return "OUTGOING_FAILURE"
	case CauseOutOfService:
		return "OUT_OF_SERVICE"
	case CausePowerOff:
		return "POWER_OFF"
	case CauseTemporaryFailure:
		return "TEMPORARY_FAILURE"
	case CauseServiceOptionNotAvailable:
		return "SERVICE_OPTION_NOT_AVAILABLE"
	case CauseEmergencyTempFailure:
		return "EMERGENCY_TEMP_FAILURE"
	case CauseEmergencyPermFailure:
		return "EMERGENCY_PERM_FAILURE"
	case CauseEmcRedialOnIms:
		return "EMC_REDIAL_ON_IMS"
	case CauseEmcRedialOnVoWifi:
		return "EMC_REDIAL_ON_VOWIFI"
	case CauseLocalCallCSRetryRequired:
		return "LOCAL_CALL_CS_RETRY_REQUIRED"
	case CauseNormal:
		return "NORMAL"
	default:
		return "NOT_VALID"
	}
}

// ImsReasonCode is the reason code of a failed PS (IMS) attempt.
type ImsReasonCode int

const (
	ImsReasonUnspecified ImsReasonCode = iota
	ImsReasonLocalCallCSRetryRequired
	ImsReasonLocalNotRegistered
	ImsReasonSipAlternateEmergencyCall
	ImsReasonEmergencyTempFailure
	ImsReasonEmergencyPermFailure
	ImsReasonSipServiceUnavailable
)

// ImsReasonInfo describes why a PS attempt was disconnected.
type ImsReasonInfo struct {
	Code         ImsReasonCode `json:"code"`
	ExtraCode    int           `json:"extra_code,omitempty"`
	ExtraMessage string        `json:"extra_message,omitempty"`
}

// FailureClass is the classification forwarded to the cross-SIM controller.
type FailureClass int

const (
	FailureNone FailureClass = iota
	FailureTemporary
	FailurePermanent
)

func (f FailureClass) String() string {
	switch f {
	case FailureTemporary:
		return "temporary"
	case FailurePermanent:
		return "permanent"
	default:
		return "none"
	}
}

// ClassifyCSFailure maps a CS disconnect cause to its cross-stack failure class.
func ClassifyCSFailure(c DisconnectCause) FailureClass {
	switch c {
	case CauseEmergencyTempFailure:
		return FailureTemporary
	case CauseEmergencyPermFailure:
		return FailurePermanent
	default:
		return FailureNone
	}
}

// ParseDisconnectCause is the inverse of String. Unknown names map to CauseNotValid.
func ParseDisconnectCause(s string) DisconnectCause {
	for c := CauseNotDisconnected; c <= CauseNormal; c++ {
		if c.String() == s {
			return c
		}
	}
	return CauseNotValid
}
