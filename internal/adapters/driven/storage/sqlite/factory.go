package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/custodia-labs/folderd/internal/core/domain"
	"github.com/custodia-labs/folderd/internal/core/ports/driven"
)

// Factory creates per-folder SQLite stores under a shared data
// directory. Each folder gets its own database file named by a hash of
// its normalized path, so folder paths with unusual characters never
// leak into filenames.
type Factory struct {
	dataDir string
}

var _ driven.StoreFactory = (*Factory)(nil)

// NewFactory creates a store factory rooted at dataDir.
func NewFactory(dataDir string) *Factory {
	return &Factory{dataDir: dataDir}
}

// Open opens (creating if absent) the store for folderPath.
func (f *Factory) Open(ctx context.Context, folderPath, model string, dimension int) (driven.FolderStore, error) {
	dir := filepath.Join(f.dataDir, "folders")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return Open(ctx, f.dbPath(folderPath), model, dimension)
}

// Remove deletes the folder's database file along with its WAL and
// shared-memory sidecars.
func (f *Factory) Remove(_ context.Context, folderPath string) error {
	base := f.dbPath(folderPath)
	for _, path := range []string{base, base + "-wal", base + "-shm"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing store file %s: %w", path, err)
		}
	}
	return nil
}

func (f *Factory) dbPath(folderPath string) string {
	sum := xxhash.Sum64String(domain.NormalizePath(folderPath))
	return filepath.Join(f.dataDir, "folders", fmt.Sprintf("%016x.db", sum))
}
