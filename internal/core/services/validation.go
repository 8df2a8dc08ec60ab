package services

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/custodia-labs/folderd/internal/core/domain"
)

// ValidateFolderPath checks a candidate folder path against the
// filesystem and the configured folder set. It is pure with respect to
// daemon state: callers pass the current folder list.
//
// Blocking errors: missing path, not a directory, relative path,
// duplicate of a configured folder, or subfolder of a configured folder.
// Non-blocking warning: the candidate is an ancestor of configured
// folders — proceeding replaces those descendants with the ancestor.
func ValidateFolderPath(path string, configured []domain.Folder) domain.ValidationResult {
	result := domain.ValidationResult{Valid: true}

	if path == "" {
		result.AddError("path is required")
		return result
	}
	if !filepath.IsAbs(path) {
		result.AddError(fmt.Sprintf("path must be absolute: %q", path))
		return result
	}

	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		result.AddError(fmt.Sprintf("path does not exist: %s", path))
		return result
	case err != nil:
		result.AddError(fmt.Sprintf("path is not accessible: %v", err))
		return result
	case !info.IsDir():
		result.AddError(fmt.Sprintf("path is not a directory: %s", path))
		return result
	}

	var descendants []string
	for _, f := range configured {
		switch {
		case domain.PathsEqual(f.Path, path):
			result.AddError(fmt.Sprintf("folder already configured: %s", f.Path))
		case domain.IsAncestorPath(f.Path, path):
			result.AddError(fmt.Sprintf("path is inside configured folder %s", f.Path))
		case domain.IsAncestorPath(path, f.Path):
			descendants = append(descendants, f.Path)
		}
	}

	if len(descendants) > 0 && result.Valid {
		sort.Strings(descendants)
		result.ReplacedFolders = descendants
		result.AddWarning(fmt.Sprintf(
			"adding this folder replaces %d configured subfolder(s): %v",
			len(descendants), descendants))
	}

	return result
}
