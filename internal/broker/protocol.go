package broker

import "encoding/json"

// Actions carried over a device notification channel.
const (
	// Device → host
	ActionListFiles = "list_files"

	// Host → device
	ActionFileListResult = "file_list_result"
	ActionRevoked        = "revoked"
	ActionFSChanged      = "fs_changed"
)

// Statuses used in outbound channel messages.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope wraps every inbound channel message with an action for routing.
type Envelope struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ListFilesPayload is the payload of a list_files request.
type ListFilesPayload struct {
	Path string `json:"path"`
}

// Result is the outbound message shape for responses and server pushes.
type Result struct {
	Action  string `json:"action"`
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// Revoked is the server push sent before force-closing a revoked device's
// channels.
func Revoked(message string) Result {
	return Result{Action: ActionRevoked, Status: StatusError, Message: message}
}

// FSChanged notifies devices that the storage root changed on disk.
func FSChanged(path string) Result {
	return Result{Action: ActionFSChanged, Status: StatusSuccess, Data: map[string]string{"path": path}}
}
