package domain

import "time"

// SchemaVersion identifies the FMDM wire schema.
const SchemaVersion = 1

// FMDM is the authoritative daemon state snapshot broadcast to every
// connected client. Snapshots are immutable: any mutation produces a new
// snapshot object which is swapped and published, never edited in place.
type FMDM struct {
	// Schema is the FMDM schema version.
	Schema int `json:"schema"`

	// Revision increases monotonically with every swap. A client never
	// needs a snapshot older than one it has already observed.
	Revision uint64 `json:"revision"`

	// Folders lists every configured folder and its lifecycle state.
	Folders []FolderInfo `json:"folders"`

	// Daemon carries daemon-level metadata.
	Daemon DaemonInfo `json:"daemon"`

	// Connections lists currently connected clients.
	Connections []ConnectionInfo `json:"connections"`

	// Models lists embedding models available for folder configuration.
	Models []ModelInfo `json:"models"`
}

// FolderInfo is the broadcast view of one folder.
type FolderInfo struct {
	Path          string       `json:"path"`
	Model         string       `json:"model"`
	Dimension     int          `json:"dimension"`
	Status        FolderStatus `json:"status"`
	DocumentCount int          `json:"documentCount"`
	LastError     string       `json:"lastError,omitempty"`
}

// DaemonInfo is daemon-level metadata included in every snapshot.
type DaemonInfo struct {
	Version   string    `json:"version"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
}

// ConnectionInfo describes one connected client. Connections are ephemeral
// and tracked only inside the FMDM.
type ConnectionInfo struct {
	ID          string    `json:"id"`
	ClientType  string    `json:"clientType"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// ModelInfo describes an embedding model the daemon can serve.
type ModelInfo struct {
	ID        string `json:"id"`
	Dimension int    `json:"dimension"`
}
