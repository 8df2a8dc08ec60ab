package ws

import (
	"encoding/json"

	"github.com/custodia-labs/folderd/internal/core/domain"
)

// Client request types.
const (
	TypeConnectionInit = "connection.init"
	TypeFolderValidate = "folder.validate"
	TypeFolderAdd      = "folder.add"
	TypeFolderRemove   = "folder.remove"
	TypeFolderList     = "folder.list"
	TypePing           = "ping"
)

// Server message types.
const (
	TypeResponse   = "response"
	TypeFMDMUpdate = "fmdm.update"
	TypePong       = "pong"
)

// Envelope is the wire frame for every protocol message. Requests carry
// a client-chosen id echoed back on the response; pushed messages carry
// no id.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InitPayload identifies the connecting client.
type InitPayload struct {
	ClientType string `json:"clientType"`
}

// FolderPayload addresses one folder.
type FolderPayload struct {
	Path  string `json:"path"`
	Model string `json:"model,omitempty"`
}

// Response is the payload of every reply to a request. Error text is a
// client-safe message; internal details stay in the daemon log.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// InitResult acknowledges connection.init with the assigned connection id.
type InitResult struct {
	ConnectionID string `json:"connectionId"`
}

// FolderListResult carries the configured folders for folder.list.
type FolderListResult struct {
	Folders []domain.FolderInfo `json:"folders"`
}
