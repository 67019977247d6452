package models

const (
	// TableQueue holds pending outbound requests.
	TableQueue = "network_queue"
	// TableKV holds small key/value flags shared with the host application.
	TableKV = "no_sql"
)

const (
	// KeyDeviceRegisterSuccess is written by the host once device registration succeeded ("true"/"false").
	KeyDeviceRegisterSuccess = "last_synced_device_register_is_successful"
	// KeyTelemetryMinAllowedOffset stores the detected server/device clock offset in milliseconds.
	KeyTelemetryMinAllowedOffset = "telemetry_log_min_allowed_offset_key"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderUserToken     = "X-Authenticated-User-Token"
)

const (
	// StatusNetworkError is the transport sentinel for connectivity loss. It never collides with a real HTTP status.
	StatusNetworkError = -3

	// MaxClockSkewMillis is the drift above which the telemetry clock offset is persisted (24h).
	MaxClockSkewMillis = 86_400_000

	DefaultSerializer = "json"
	DefaultMethod     = "POST"
)
