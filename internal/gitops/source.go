package gitops

import (
	"fmt"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/zerverless/coordinator/internal/catalog"
)

// CatalogSource is a catalog file tracked in a git repository.
type CatalogSource struct {
	URL    string
	Branch string
	Path   string // catalog file, relative to the repository root
	Auth   *Auth
}

// LoadCatalog brings the checkout up to date and parses the catalog file at
// its head commit.
func (w *Watcher) LoadCatalog(src CatalogSource) (*catalog.Catalog, string, error) {
	branch := src.Branch
	if branch == "" {
		branch = "main"
	}
	path := src.Path
	if path == "" {
		path = "catalog.yaml"
	}

	repoPath, err := w.Sync(src.URL, branch, src.Auth)
	if err != nil {
		return nil, "", fmt.Errorf("sync %s: %w", src.URL, err)
	}

	commit, err := w.Head(repoPath)
	if err != nil {
		return nil, "", err
	}

	cat, err := catalog.Load(filepath.Join(repoPath, filepath.Clean(path)))
	if err != nil {
		return nil, "", fmt.Errorf("catalog at %s: %w", shortHash(commit), err)
	}

	log.WithFields(log.Fields{"repo": src.URL, "commit": shortHash(commit)}).
		Infof("Loaded %d job types from git", len(cat.IDs()))
	return cat, commit, nil
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
