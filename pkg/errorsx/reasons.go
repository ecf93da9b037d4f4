package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSessionConnect ReasonCode = "session_connect"
	ReasonSessionSend    ReasonCode = "session_send"
	ReasonSessionRecv    ReasonCode = "session_recv"
	ReasonSessionClosed  ReasonCode = "session_closed"

	ReasonDeviceCapture ReasonCode = "device_capture"
	ReasonDeviceRender  ReasonCode = "device_render"

	ReasonResponseTimeout ReasonCode = "response_timeout"
	ReasonStaleEvent      ReasonCode = "stale_event"

	ReasonConfigInvalid ReasonCode = "config_invalid"
)

// Fatal reports whether a reason requires process-wide shutdown. Device
// failures cannot be retried in place; transport failures can.
func Fatal(reason ReasonCode) bool {
	switch reason {
	case ReasonDeviceCapture, ReasonDeviceRender:
		return true
	}
	return false
}
