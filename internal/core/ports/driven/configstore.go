package driven

import "github.com/custodia-labs/folderd/internal/core/domain"

// ConfigStore persists daemon settings, including the configured folder
// list. Save is atomic: the ancestor-replacement policy relies on the
// folder list being rewritten in one step.
type ConfigStore interface {
	// Load reads settings from disk, applying defaults for missing keys.
	Load() (domain.Settings, error)

	// Save writes the full settings atomically.
	Save(settings domain.Settings) error
}
