package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wagate/server/internal/logger"
)

// FolderPrefix names persisted session folders under the storage root.
const FolderPrefix = "wa-session-"

// lockFile is the singleton lock marker a crashed browser process leaves
// behind inside its profile directory.
const lockFile = "SingletonLock"

// Guard owns the on-disk credential folders. Folder contents are opaque to
// the gateway beyond lock-file cleanup.
type Guard struct {
	root string
}

// NewGuard creates a guard over the given storage root.
func NewGuard(root string) *Guard {
	return &Guard{root: root}
}

// Root returns the storage root path.
func (g *Guard) Root() string { return g.root }

// Path returns the credential folder for a session id.
func (g *Guard) Path(id string) string {
	return filepath.Join(g.root, FolderPrefix+id)
}

// EnsureRoot idempotently creates the storage root.
func (g *Guard) EnsureRoot() error {
	if err := os.MkdirAll(g.root, 0o755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}
	return nil
}

// CleanLock removes a stale browser lock marker from the session's folder.
// Absence of the folder or the marker is not an error.
func (g *Guard) CleanLock(id string) error {
	path := filepath.Join(g.Path(id), lockFile)
	err := os.Remove(path)
	if err == nil {
		logger.Infof("session %s: removed stale browser lock", id)
		return nil
	}
	if os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("remove stale lock: %w", err)
}

// List returns the session ids that have a persisted folder, including
// orphans with no registry entry.
func (g *Guard) List() ([]string, error) {
	entries, err := os.ReadDir(g.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan storage root: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), FolderPrefix) {
			continue
		}
		ids = append(ids, strings.TrimPrefix(e.Name(), FolderPrefix))
	}
	return ids, nil
}

// Remove recursively deletes the session's folder. Removal of an absent
// folder is a no-op. Ids are charset-restricted at the edge, but Remove
// still refuses any target that does not resolve strictly under the root.
func (g *Guard) Remove(id string) error {
	rootAbs, err := filepath.Abs(g.root)
	if err != nil {
		return fmt.Errorf("resolve storage root: %w", err)
	}
	targetAbs, err := filepath.Abs(g.Path(id))
	if err != nil {
		return fmt.Errorf("resolve target: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("session %q: %w", id, ErrTraversal)
	}

	if err := os.RemoveAll(targetAbs); err != nil {
		return fmt.Errorf("remove session folder: %w", err)
	}
	return nil
}
