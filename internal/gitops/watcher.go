// Package gitops keeps a job type catalog in a git repository and loads it
// from a local checkout.
package gitops

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	log "github.com/sirupsen/logrus"
)

// Auth holds credentials for private catalog repositories. A token takes
// precedence over an SSH key.
type Auth struct {
	Token    string
	SSHKey   []byte
	Username string
}

// Watcher maintains read-only checkouts under baseDir, one directory per
// repository.
type Watcher struct {
	baseDir string
}

func NewWatcher(baseDir string) *Watcher {
	return &Watcher{baseDir: baseDir}
}

func (w *Watcher) repoPath(repoURL string) string {
	name := strings.TrimSuffix(filepath.Base(repoURL), ".git")
	switch name {
	case "", ".", string(filepath.Separator):
		name = "repo"
	}
	return filepath.Join(w.baseDir, name)
}

// Clone checks out a single branch. A partial checkout is removed on error.
func (w *Watcher) Clone(repoURL, branch string, auth *Auth) (string, error) {
	dir := w.repoPath(repoURL)
	method, err := authMethod(auth)
	if err != nil {
		return "", err
	}

	_, err = git.PlainClone(dir, false, &git.CloneOptions{
		URL:           repoURL,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
		Auth:          method,
	})
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("clone %s: %w", repoURL, err)
	}
	log.WithFields(log.Fields{"repo": repoURL, "branch": branch}).Debug("Cloned catalog repository")
	return dir, nil
}

// Pull moves the checkout to the remote branch tip. The checkout is never
// edited locally, so a hard reset replaces merging and also follows
// force-pushes.
func (w *Watcher) Pull(dir, branch string, auth *Auth) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return fmt.Errorf("open %s: %w", dir, err)
	}
	method, err := authMethod(auth)
	if err != nil {
		return err
	}

	remoteRef := plumbing.NewRemoteReferenceName(git.DefaultRemoteName, branch)
	refspec := config.RefSpec(fmt.Sprintf("+%s:%s", plumbing.NewBranchReferenceName(branch), remoteRef))
	err = repo.Fetch(&git.FetchOptions{
		RefSpecs: []config.RefSpec{refspec},
		Force:    true,
		Auth:     method,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch %s: %w", branch, err)
	}

	tip, err := repo.Reference(remoteRef, true)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", remoteRef, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: tip.Hash(), Mode: git.HardReset}); err != nil {
		return fmt.Errorf("reset to %s: %w", tip.Hash(), err)
	}
	return nil
}

// Head returns the commit the checkout is on.
func (w *Watcher) Head(dir string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", dir, err)
	}
	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("head: %w", err)
	}
	return ref.Hash().String(), nil
}

// Sync clones the repository on first use and pulls it afterwards.
func (w *Watcher) Sync(repoURL, branch string, auth *Auth) (string, error) {
	dir := w.repoPath(repoURL)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return w.Clone(repoURL, branch, auth)
	}
	if err := w.Pull(dir, branch, auth); err != nil {
		return "", err
	}
	return dir, nil
}

func authMethod(auth *Auth) (transport.AuthMethod, error) {
	switch {
	case auth == nil:
		return nil, nil
	case auth.Token != "":
		return &http.BasicAuth{Username: auth.Username, Password: auth.Token}, nil
	case len(auth.SSHKey) > 0:
		keys, err := ssh.NewPublicKeys("git", auth.SSHKey, "")
		if err != nil {
			return nil, fmt.Errorf("ssh key: %w", err)
		}
		return keys, nil
	default:
		return nil, nil
	}
}
