package gitlib

import (
	"fmt"

	git2go "github.com/libgit2/git2go/v34"
)

// TreeEntryWrite is one entry to place into a newly written tree: a path
// relative to the tree root, the blob it points at, and its file mode.
type TreeEntryWrite struct {
	Path string
	Hash Hash
	Mode uint16
}

// WriteBlob writes byte content as a new blob and returns its hash. Part of
// the repository gateway's write_blob contract.
func (r *Repository) WriteBlob(data []byte) (Hash, error) {
	oid, err := r.repo.CreateBlobFromBuffer(data)
	if err != nil {
		return Hash{}, fmt.Errorf("write blob: %w", err)
	}

	return HashFromOid(oid), nil
}

// WriteTree builds a new tree object from a flat list of path entries,
// creating any intermediate subtrees. Part of the repository gateway's
// write_tree contract.
func (r *Repository) WriteTree(entries []TreeEntryWrite) (Hash, error) {
	root := newTreeDir()

	for _, e := range entries {
		mode := git2go.Filemode(e.Mode)
		if mode == 0 {
			mode = git2go.FilemodeBlob
		}

		root.insert(splitPath(e.Path), e.Hash, mode)
	}

	oid, err := root.write(r.repo)
	if err != nil {
		return Hash{}, err
	}

	return HashFromOid(oid), nil
}

// treeDir is an in-memory staging node used to build a nested tree from a
// flat set of file-level writes before flushing to libgit2 TreeBuilders.
type treeDir struct {
	files map[string]treeFile
	dirs  map[string]*treeDir
}

type treeFile struct {
	hash Hash
	mode git2go.Filemode
}

func newTreeDir() *treeDir {
	return &treeDir{files: make(map[string]treeFile), dirs: make(map[string]*treeDir)}
}

func splitPath(path string) []string {
	var parts []string

	start := 0

	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			if i > start {
				parts = append(parts, path[start:i])
			}

			start = i + 1
		}
	}

	if start < len(path) {
		parts = append(parts, path[start:])
	}

	return parts
}

func (d *treeDir) insert(parts []string, hash Hash, mode git2go.Filemode) {
	if len(parts) == 1 {
		d.files[parts[0]] = treeFile{hash: hash, mode: mode}

		return
	}

	sub, ok := d.dirs[parts[0]]
	if !ok {
		sub = newTreeDir()
		d.dirs[parts[0]] = sub
	}

	sub.insert(parts[1:], hash, mode)
}

func (d *treeDir) write(repo *git2go.Repository) (*git2go.Oid, error) {
	builder, err := repo.TreeBuilder()
	if err != nil {
		return nil, fmt.Errorf("create tree builder: %w", err)
	}
	defer builder.Free()

	for name, f := range d.files {
		if insertErr := builder.Insert(name, f.hash.ToOid(), f.mode); insertErr != nil {
			return nil, fmt.Errorf("insert tree entry %s: %w", name, insertErr)
		}
	}

	for name, sub := range d.dirs {
		subOid, subErr := sub.write(repo)
		if subErr != nil {
			return nil, subErr
		}

		if insertErr := builder.Insert(name, subOid, git2go.FilemodeTree); insertErr != nil {
			return nil, fmt.Errorf("insert subtree %s: %w", name, insertErr)
		}
	}

	oid, err := builder.Write()
	if err != nil {
		return nil, fmt.Errorf("write tree: %w", err)
	}

	return oid, nil
}

// WriteWorkdirTree stages the current working directory (honoring
// .gitignore) into the repository's index and writes it as a tree object,
// without moving HEAD or touching any ref. This is how commit mode turns an
// unstructured working-tree delta into a target tree comparable against
// HEAD's tree through the same diffTrees path fix/clean already use.
func (r *Repository) WriteWorkdirTree() (Hash, error) {
	index, err := r.repo.Index()
	if err != nil {
		return Hash{}, fmt.Errorf("open index: %w", err)
	}
	defer index.Free()

	if err := index.AddAll([]string{"*"}, git2go.IndexAddDefault, nil); err != nil {
		return Hash{}, fmt.Errorf("stage working tree: %w", err)
	}

	if err := index.UpdateAll([]string{"*"}, nil); err != nil {
		return Hash{}, fmt.Errorf("reconcile deletions: %w", err)
	}

	oid, err := index.WriteTreeTo(r.repo)
	if err != nil {
		return Hash{}, fmt.Errorf("write working tree: %w", err)
	}

	return HashFromOid(oid), nil
}

// WriteCommit creates a new commit object pointing at treeHash with the
// given parents, returning its hash. Part of the repository gateway's
// write_commit contract.
func (r *Repository) WriteCommit(treeHash Hash, parents []Hash, message string, author, committer Signature) (Hash, error) {
	tree, err := r.repo.LookupTree(treeHash.ToOid())
	if err != nil {
		return Hash{}, fmt.Errorf("lookup tree for commit: %w", err)
	}
	defer tree.Free()

	parentCommits := make([]*git2go.Commit, 0, len(parents))

	for _, p := range parents {
		c, lookupErr := r.repo.LookupCommit(p.ToOid())
		if lookupErr != nil {
			return Hash{}, fmt.Errorf("lookup parent commit: %w", lookupErr)
		}

		defer c.Free()

		parentCommits = append(parentCommits, c)
	}

	gitAuthor := &git2go.Signature{Name: author.Name, Email: author.Email, When: author.When}
	gitCommitter := &git2go.Signature{Name: committer.Name, Email: committer.Email, When: committer.When}

	oid, err := r.repo.CreateCommit("", gitAuthor, gitCommitter, message, tree, parentCommits...)
	if err != nil {
		return Hash{}, fmt.Errorf("write commit: %w", err)
	}

	return HashFromOid(oid), nil
}
