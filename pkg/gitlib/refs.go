package gitlib

import (
	"errors"
	"fmt"
)

// ErrRefConflict is returned by UpdateRef when the ref's current value does
// not match the expected old hash — the CAS failure case of §4.7's finalize
// step, mapped to exit code 5 at the orchestrator boundary.
var ErrRefConflict = errors.New("gitlib: ref compare-and-swap conflict")

// ResolveRef resolves a ref name to its current target hash.
func (r *Repository) ResolveRef(name string) (Hash, error) {
	ref, err := r.repo.References.Lookup(name)
	if err != nil {
		return Hash{}, fmt.Errorf("resolve ref %s: %w", name, err)
	}
	defer ref.Free()

	return HashFromOid(ref.Target()), nil
}

// UpdateRef performs a compare-and-swap update of name from oldHash to
// newHash. If the ref's current value differs from oldHash, the update is
// rejected with ErrRefConflict and the ref is left untouched.
func (r *Repository) UpdateRef(name string, oldHash, newHash Hash) error {
	current, err := r.ResolveRef(name)

	refExists := err == nil
	if refExists && current != oldHash {
		return fmt.Errorf("%w: ref %s expected %s, found %s", ErrRefConflict, name, oldHash, current)
	}

	if !refExists && !oldHash.IsZero() {
		return fmt.Errorf("%w: ref %s missing, expected %s", ErrRefConflict, name, oldHash)
	}

	_, createErr := r.repo.References.Create(name, newHash.ToOid(), true, "codestory: finalize run")
	if createErr != nil {
		return fmt.Errorf("update ref %s: %w", name, createErr)
	}

	return nil
}

// EnsureRefUnchanged re-checks that name still resolves to expectedHash.
// Used immediately before finalize to narrow the race window between the
// run's start and its compare-and-swap.
func (r *Repository) EnsureRefUnchanged(name string, expectedHash Hash) error {
	current, err := r.ResolveRef(name)
	if err != nil {
		return fmt.Errorf("resolve ref %s before finalize: %w", name, err)
	}

	if current != expectedHash {
		return fmt.Errorf("%w: ref %s moved from %s to %s", ErrRefConflict, name, expectedHash, current)
	}

	return nil
}
