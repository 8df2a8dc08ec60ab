package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/folderd/internal/core/domain"
	"github.com/custodia-labs/folderd/internal/core/ports/driven"
	"github.com/custodia-labs/folderd/internal/core/ports/driving"
	"github.com/custodia-labs/folderd/internal/logger"
)

// Ensure DaemonService implements the interface.
var _ driving.DaemonService = (*DaemonService)(nil)

// DaemonService handles the mutating half of the protocol: folder add and
// remove. Every act is re-validated server-side regardless of any prior
// client-side validation, so a stale validation never bypasses checks.
type DaemonService struct {
	config    driven.ConfigStore
	stores    driven.StoreFactory
	pool      driven.WorkerPool
	lifecycle driving.LifecycleService
	fmdm      driving.FMDMService

	mu       sync.Mutex
	settings domain.Settings
	folders  map[string]domain.Folder // keyed by normalised path
}

// NewDaemonService creates the act service from persisted settings.
func NewDaemonService(
	settings domain.Settings,
	config driven.ConfigStore,
	stores driven.StoreFactory,
	pool driven.WorkerPool,
	lifecycle driving.LifecycleService,
	fmdm driving.FMDMService,
) *DaemonService {
	s := &DaemonService{
		config:    config,
		stores:    stores,
		pool:      pool,
		lifecycle: lifecycle,
		fmdm:      fmdm,
		settings:  settings,
		folders:   make(map[string]domain.Folder),
	}
	for _, fc := range settings.Folders {
		key := domain.NormalizePath(fc.Path)
		s.folders[key] = domain.Folder{
			Path:   fc.Path,
			Model:  fc.Model,
			Status: domain.FolderStatusPending,
		}
	}
	return s
}

// Start launches lifecycles for all persisted folders.
func (s *DaemonService) Start(ctx context.Context) error {
	s.fmdm.SetFolders(s.folderInfos())

	var errs []error
	for _, f := range s.Folders(ctx) {
		if err := s.lifecycle.StartFolder(ctx, f); err != nil {
			errs = append(errs, fmt.Errorf("start %s: %w", f.Path, err))
		}
	}
	return errors.Join(errs...)
}

// ValidateFolder checks a candidate folder path. Read-only, idempotent.
func (s *DaemonService) ValidateFolder(ctx context.Context, path string) domain.ValidationResult {
	return ValidateFolderPath(path, s.Folders(ctx))
}

// AddFolder configures a folder and starts its lifecycle. When the path
// is an ancestor of configured folders, the descendants are replaced by
// the single ancestor inside the same save that persists the add: the
// config is rewritten once, atomically.
func (s *DaemonService) AddFolder(ctx context.Context, path, model string) error {
	if model == "" {
		model = s.settings.DefaultModel
	}
	if _, err := s.pool.Dimensions(model); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrUnknownModel, model)
	}

	s.mu.Lock()
	result := ValidateFolderPath(path, s.folderListLocked())
	if !result.Valid {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, result.Errors)
	}

	// Keep the descendants' full configs so a failed save can restore
	// them exactly as they were.
	replaced := result.ReplacedFolders
	replacedFolders := make([]domain.Folder, 0, len(replaced))
	for _, d := range replaced {
		key := domain.NormalizePath(d)
		if prior, ok := s.folders[key]; ok {
			replacedFolders = append(replacedFolders, prior)
		}
		delete(s.folders, key)
	}

	folder := domain.Folder{
		Path:    path,
		Model:   model,
		Status:  domain.FolderStatusPending,
		AddedAt: time.Now().UTC(),
	}
	s.folders[domain.NormalizePath(path)] = folder

	if err := s.persistLocked(); err != nil {
		// Roll back the in-memory set on a failed save.
		delete(s.folders, domain.NormalizePath(path))
		for _, prior := range replacedFolders {
			s.folders[domain.NormalizePath(prior.Path)] = prior
		}
		s.mu.Unlock()
		return fmt.Errorf("persist config: %w", err)
	}
	s.mu.Unlock()

	// Tear down replaced descendants before their ancestor scans them.
	for _, d := range replaced {
		logger.Info("daemon: replacing descendant folder %s with ancestor %s", d, path)
		if err := s.lifecycle.StopFolder(ctx, d); err != nil && !errors.Is(err, domain.ErrFolderNotConfigured) {
			logger.Warn("daemon: stopping replaced folder %s: %v", d, err)
		}
		if err := s.stores.Remove(ctx, d); err != nil {
			logger.Warn("daemon: removing store for %s: %v", d, err)
		}
	}

	s.fmdm.SetFolders(s.folderInfos())

	if err := s.lifecycle.StartFolder(ctx, folder); err != nil {
		return fmt.Errorf("start folder: %w", err)
	}
	return nil
}

// RemoveFolder stops a folder's lifecycle, cancels pending work and
// deletes its storage.
func (s *DaemonService) RemoveFolder(ctx context.Context, path string) error {
	key := domain.NormalizePath(path)

	s.mu.Lock()
	folder, ok := s.folders[key]
	if !ok {
		s.mu.Unlock()
		return domain.ErrFolderNotConfigured
	}
	delete(s.folders, key)
	if err := s.persistLocked(); err != nil {
		s.folders[key] = folder
		s.mu.Unlock()
		return fmt.Errorf("persist config: %w", err)
	}
	s.mu.Unlock()

	if err := s.lifecycle.StopFolder(ctx, path); err != nil && !errors.Is(err, domain.ErrFolderNotConfigured) {
		logger.Warn("daemon: stopping folder %s: %v", path, err)
	}
	if err := s.stores.Remove(ctx, path); err != nil {
		logger.Warn("daemon: removing store for %s: %v", path, err)
	}

	// Broadcast the terminal state once, then drop the folder from the
	// snapshot.
	info := folderInfo(folder)
	info.Status = domain.FolderStatusRemoved
	info.LastError = ""
	s.fmdm.UpdateFolder(info)
	s.fmdm.RemoveFolder(path)
	return nil
}

// Folders lists the configured folders sorted by path.
func (s *DaemonService) Folders(_ context.Context) []domain.Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.folderListLocked()
}

func (s *DaemonService) folderListLocked() []domain.Folder {
	folders := make([]domain.Folder, 0, len(s.folders))
	for _, f := range s.folders {
		folders = append(folders, f)
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].Path < folders[j].Path })
	return folders
}

func (s *DaemonService) folderInfos() []domain.FolderInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]domain.FolderInfo, 0, len(s.folders))
	for _, f := range s.folders {
		infos = append(infos, folderInfo(f))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos
}

// persistLocked rewrites the folder list in settings and saves the whole
// config in one step. Caller holds mu.
func (s *DaemonService) persistLocked() error {
	configs := make([]domain.FolderConfig, 0, len(s.folders))
	for _, f := range s.folderListLocked() {
		configs = append(configs, domain.FolderConfig{Path: f.Path, Model: f.Model})
	}
	s.settings.Folders = configs
	return s.config.Save(s.settings)
}
