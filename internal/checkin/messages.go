package checkin

import "attendance/internal/types"

// userMessages are the texts shown to the employee for locally resolved
// outcomes. Server rejections carry the server's own message when it sends one.
var userMessages = map[string]string{
	string(types.GateReasonMissionNotFound):  "This mission order was not found among your missions.",
	string(types.GateReasonMissionNotActive): "This mission has not been accepted yet, so you cannot check in to it.",
	string(types.GateReasonTooFar):           "You are too far from your office to check in.",
	string(types.GateReasonNoLocation):       "Your location is required to check in at the office.",

	string(types.ErrCodeSensorUnsupported):         "Location is not supported on this device.",
	string(types.ErrCodeSensorPermissionDenied):    "Location permission was denied. Allow location access in your browser settings and try again.",
	string(types.ErrCodeSensorPositionUnavailable): "Your position could not be determined. Move to an open area and try again.",
	string(types.ErrCodeSensorTimeout):             "Locating you took too long. Please try again.",
	string(types.ErrCodeSensorCancelled):           "Location acquisition was cancelled.",

	types.ReasonMissionOrderRequired: "Enter a mission order number to check in.",
	types.ReasonAlreadyCheckedIn:     "You have already checked in today.",
	types.ReasonInvalidCoordinates:   "Your position was rejected as invalid. Please try again.",
	types.ReasonMissionUnknown:       "The server does not recognise this mission order.",
	types.ReasonForbiddenDistance:    "You are outside the allowed check-in area.",
	types.ReasonUnauthorized:         "Your session has expired. Please sign in again.",
	types.ReasonServerRejected:       "The check-in was refused.",
	types.ReasonNetworkError:         "The check-in could not reach the server. Please try again.",
}

// Message returns the user-facing text for an outcome reason.
func Message(reason string) string {
	if msg, ok := userMessages[reason]; ok {
		return msg
	}
	return "The check-in could not be completed."
}
