package types

// WSConfigResponse is sent in response to config/get.
// Contains the full configuration without runtime state.
type WSConfigResponse struct {
	Type   string `json:"type"` // "config"
	Config any    `json:"config"`
}

// WSCommandResult is the response to a slash-style command such as
// meter/update or notifications/webhook/update.
type WSCommandResult struct {
	Type    string `json:"type"`    // "<command>_result"
	Success bool   `json:"success"`
	Error   any    `json:"error,omitempty"` // string, or *ValidationError for rejected input
	Data    any    `json:"data,omitempty"`
}

// WSMeterResult reports the outcome of starting or stopping one meter session.
type WSMeterResult struct {
	Type    string `json:"type"`   // "meter_result"
	Action  string `json:"action"` // "start" or "stop"
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
