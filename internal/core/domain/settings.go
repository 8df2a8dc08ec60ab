package domain

import "time"

// Default settings values.
const (
	DefaultListenAddr      = "127.0.0.1:31849"
	DefaultMCPAddr         = "127.0.0.1:31850"
	DefaultChunkSize       = 1000
	DefaultChunkOverlap    = 200
	DefaultModelCacheSize  = 2
	DefaultDebounceWindow  = 500 * time.Millisecond
	DefaultWorkerTimeout   = 2 * time.Minute
	DefaultHeartbeat       = 30 * time.Second
	DefaultOllamaBaseURL   = "http://localhost:11434"
	DefaultEmbeddingModel  = "nomic-embed-text"
	DefaultRescanPerSecond = 4
)

// Settings is the daemon configuration, persisted as TOML.
type Settings struct {
	// ListenAddr is the WebSocket protocol listen address.
	ListenAddr string `toml:"listen_addr"`

	// MCPAddr is the MCP query endpoint listen address.
	MCPAddr string `toml:"mcp_addr"`

	// DataDir is where per-folder stores live. Defaults to ~/.folderd/data.
	DataDir string `toml:"data_dir"`

	// OllamaBaseURL is the embedding backend base URL.
	OllamaBaseURL string `toml:"ollama_base_url"`

	// DefaultModel is used when folder.add omits a model.
	DefaultModel string `toml:"default_model"`

	// ChunkSize is the chunk size in characters.
	ChunkSize int `toml:"chunk_size"`

	// ChunkOverlap is the overlap between adjacent chunks in characters.
	ChunkOverlap int `toml:"chunk_overlap"`

	// ModelCacheSize bounds the number of loaded models per worker.
	ModelCacheSize int `toml:"model_cache_size"`

	// DebounceWindow batches rapid file-change events before rescan.
	DebounceWindow time.Duration `toml:"debounce_window"`

	// WorkerTimeout bounds one worker round-trip.
	WorkerTimeout time.Duration `toml:"worker_timeout"`

	// Heartbeat is the protocol ping interval for dead-connection checks.
	Heartbeat time.Duration `toml:"heartbeat"`

	// IncludeExtensions limits scanning to these file extensions.
	// Empty means the parser's supported set.
	IncludeExtensions []string `toml:"include_extensions"`

	// Folders are the configured folders, persisted across restarts.
	Folders []FolderConfig `toml:"folders"`
}

// FolderConfig is the persisted configuration of one folder.
type FolderConfig struct {
	Path  string `toml:"path"`
	Model string `toml:"model"`
}

// DefaultSettings returns settings with all defaults applied.
func DefaultSettings() Settings {
	return Settings{
		ListenAddr:     DefaultListenAddr,
		MCPAddr:        DefaultMCPAddr,
		OllamaBaseURL:  DefaultOllamaBaseURL,
		DefaultModel:   DefaultEmbeddingModel,
		ChunkSize:      DefaultChunkSize,
		ChunkOverlap:   DefaultChunkOverlap,
		ModelCacheSize: DefaultModelCacheSize,
		DebounceWindow: DefaultDebounceWindow,
		WorkerTimeout:  DefaultWorkerTimeout,
		Heartbeat:      DefaultHeartbeat,
	}
}

// Normalise fills zero values with defaults.
func (s *Settings) Normalise() {
	d := DefaultSettings()
	if s.ListenAddr == "" {
		s.ListenAddr = d.ListenAddr
	}
	if s.MCPAddr == "" {
		s.MCPAddr = d.MCPAddr
	}
	if s.OllamaBaseURL == "" {
		s.OllamaBaseURL = d.OllamaBaseURL
	}
	if s.DefaultModel == "" {
		s.DefaultModel = d.DefaultModel
	}
	if s.ChunkSize <= 0 {
		s.ChunkSize = d.ChunkSize
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize {
		s.ChunkOverlap = d.ChunkOverlap
	}
	if s.ModelCacheSize <= 0 {
		s.ModelCacheSize = d.ModelCacheSize
	}
	if s.DebounceWindow <= 0 {
		s.DebounceWindow = d.DebounceWindow
	}
	if s.WorkerTimeout <= 0 {
		s.WorkerTimeout = d.WorkerTimeout
	}
	if s.Heartbeat <= 0 {
		s.Heartbeat = d.Heartbeat
	}
}
