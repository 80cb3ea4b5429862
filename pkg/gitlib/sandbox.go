package gitlib

import (
	"fmt"
	"os"
	"path/filepath"

	git2go "github.com/libgit2/git2go/v34"
)

// Sandbox scopes new loose objects written during a pipeline run to a
// temporary alternate object directory, and either promotes those objects
// into the primary store on Finalize or discards the directory on Abort.
// Every write made through the Repository this Sandbox was opened on lands
// in the alternate directory until Finalize runs.
type Sandbox struct {
	repo      *Repository
	dir       string
	finalized bool
}

// OpenSandbox creates a run-scoped loose-object directory adjacent to the
// repository's object database and wires it in as an alternate odb backend,
// so that subsequent writes through repo are isolated from the primary
// store until Finalize promotes them.
func OpenSandbox(repo *Repository, runID string) (*Sandbox, error) {
	objectsDir := filepath.Join(repo.path, ".git", "objects")

	dir := filepath.Join(objectsDir, "tmp-codestory-"+runID)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:mnd // standard directory permissions
		return nil, fmt.Errorf("gitlib: create sandbox dir: %w", err)
	}

	odb, err := repo.Native().Odb()
	if err != nil {
		return nil, fmt.Errorf("gitlib: open odb: %w", err)
	}
	defer odb.Free()

	backend, err := git2go.NewOdbBackendLoose(dir, -1, false, 0, 0)
	if err != nil {
		_ = os.RemoveAll(dir)

		return nil, fmt.Errorf("gitlib: create loose backend: %w", err)
	}

	// Priority above the default ensures new objects are written into this
	// alternate before falling through to the primary on-disk backend.
	const sandboxBackendPriority = 5

	if addErr := odb.AddBackend(backend, sandboxBackendPriority); addErr != nil {
		_ = os.RemoveAll(dir)

		return nil, fmt.Errorf("gitlib: register sandbox backend: %w", addErr)
	}

	return &Sandbox{repo: repo, dir: dir}, nil
}

// Finalize promotes every loose object in the sandbox directory into the
// repository's primary object store by moving the files, then removes the
// now-empty sandbox directory. Must only be called after the destination
// ref's compare-and-swap has succeeded.
func (s *Sandbox) Finalize() error {
	if s.finalized {
		return nil
	}

	primaryDir := filepath.Join(s.repo.path, ".git", "objects")

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("gitlib: read sandbox dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		if moveErr := promoteFanoutDir(s.dir, primaryDir, entry.Name()); moveErr != nil {
			return moveErr
		}
	}

	s.finalized = true

	return os.RemoveAll(s.dir)
}

func promoteFanoutDir(sandboxDir, primaryDir, fanout string) error {
	srcDir := filepath.Join(sandboxDir, fanout)
	dstDir := filepath.Join(primaryDir, fanout)

	if err := os.MkdirAll(dstDir, 0o755); err != nil { //nolint:mnd // standard directory permissions
		return fmt.Errorf("gitlib: create fanout dir: %w", err)
	}

	files, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("gitlib: read fanout dir: %w", err)
	}

	for _, f := range files {
		src := filepath.Join(srcDir, f.Name())
		dst := filepath.Join(dstDir, f.Name())

		if _, statErr := os.Stat(dst); statErr == nil {
			// Object already exists in the primary store (content-addressed
			// collision with a pre-existing object); skip rather than error.
			continue
		}

		if renameErr := os.Rename(src, dst); renameErr != nil {
			return fmt.Errorf("gitlib: promote object %s: %w", f.Name(), renameErr)
		}
	}

	return nil
}

// Abort discards the sandbox directory without promoting any of its
// objects. No partial history is ever written.
func (s *Sandbox) Abort() error {
	if s.finalized {
		return nil
	}

	s.finalized = true

	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("gitlib: discard sandbox: %w", err)
	}

	return nil
}
