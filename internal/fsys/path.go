package fsys

import (
	"fmt"
	"strings"
)

// splitPath breaks path into its non-empty components. A leading "/"
// (absolute path) is reported separately so the caller knows whether to
// start from the root or from cwd (spec.md §4.4 "Path resolution").
func splitPath(path string) (absolute bool, parts []string) {
	absolute = strings.HasPrefix(path, "/")
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return absolute, parts
}

// Root returns a freshly-opened handle on the root directory inode.
// Callers must Close it when done.
func (fs *FS_t) Root() (*Inode_t, error) {
	return fs.getInode(RootSector)
}

// Close releases a reference obtained from Root, Lookup, Create, or any
// other path resolution call (spec.md §4.4's open-inode registry refcounting).
func (fs *FS_t) Close(ino *Inode_t) error {
	return fs.putInode(ino)
}

// step resolves a single path component against dir, returning a newly
// opened handle on the next inode. "." returns a fresh reference to dir
// itself; ".." opens dir's recorded parent sector (spec.md §4.4:
// "'.' and '..' are resolved specially, not looked up as directory
// entries").
func (fs *FS_t) step(dir *Inode_t, name string) (*Inode_t, error) {
	switch name {
	case ".":
		return fs.getInode(dir.sector)
	case "..":
		dir.Lock()
		parent := int(dir.disk.Parent)
		dir.Unlock()
		return fs.getInode(parent)
	}
	sector, found, err := dirLookup(dir, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("fsys: %q not found", name)
	}
	return fs.getInode(sector)
}

// Lookup resolves path relative to cwd (ignored for absolute paths,
// where resolution starts from the root), returning an open handle the
// caller must Close. An empty path is rejected (spec.md §8 scenario 6:
// "Opening \"\" fails"; original_source/filesys/filesys.c's
// filesys_open rejects name == "" the same way).
func (fs *FS_t) Lookup(cwd *Inode_t, path string) (*Inode_t, error) {
	absolute, parts := splitPath(path)
	if !absolute && len(parts) == 0 {
		return nil, fmt.Errorf("fsys: empty path")
	}

	var cur *Inode_t
	var err error
	if absolute || cwd == nil {
		cur, err = fs.Root()
	} else {
		cur, err = fs.getInode(cwd.sector)
	}
	if err != nil {
		return nil, err
	}

	for _, part := range parts {
		if !cur.IsDir() {
			fs.Close(cur)
			return nil, fmt.Errorf("fsys: %q is not a directory", part)
		}
		next, err := fs.step(cur, part)
		fs.Close(cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// lookupParent resolves every component of path but the last, returning
// an open handle on the containing directory plus the final component's
// base name. Create and Remove both start here (spec.md §4.4).
func (fs *FS_t) lookupParent(cwd *Inode_t, path string) (dir *Inode_t, base string, err error) {
	absolute, parts := splitPath(path)
	if len(parts) == 0 {
		return nil, "", fmt.Errorf("fsys: empty path")
	}
	base = parts[len(parts)-1]

	var cur *Inode_t
	if absolute || cwd == nil {
		cur, err = fs.Root()
	} else {
		cur, err = fs.getInode(cwd.sector)
	}
	if err != nil {
		return nil, "", err
	}
	for _, part := range parts[:len(parts)-1] {
		if !cur.IsDir() {
			fs.Close(cur)
			return nil, "", fmt.Errorf("fsys: %q is not a directory", part)
		}
		next, err := fs.step(cur, part)
		fs.Close(cur)
		if err != nil {
			return nil, "", err
		}
		cur = next
	}
	return cur, base, nil
}

// Create makes a new file (isDir false) or directory (isDir true) named
// by path, inside the directory the rest of path resolves to. Rejects
// "." and ".." as a base name (spec.md §4.4's edge case, decided
// symmetrically for Remove too — see DESIGN.md).
func (fs *FS_t) Create(cwd *Inode_t, path string, isDir bool) (*Inode_t, error) {
	if baseIsDot(path) {
		return nil, fmt.Errorf("fsys: %q is not a valid file name", path)
	}

	dir, base, err := fs.lookupParent(cwd, path)
	if err != nil {
		return nil, err
	}
	defer fs.Close(dir)

	if !dir.IsDir() {
		return nil, fmt.Errorf("fsys: parent is not a directory")
	}
	if _, found, err := dirLookup(dir, base); err != nil {
		return nil, err
	} else if found {
		return nil, fmt.Errorf("fsys: %q already exists", base)
	}

	sector, err := fs.freemap.Alloc()
	if err != nil {
		return nil, err
	}
	d := &DiskInode_t{Parent: int32(dir.sector), IsDir: isDir}
	if err := fs.dev.WriteSector(sector, d.Marshal()); err != nil {
		fs.freemap.Free(sector)
		return nil, err
	}

	ino, err := fs.getInode(sector)
	if err != nil {
		fs.freemap.Free(sector)
		return nil, err
	}

	// "." and ".." are never stored as ordinary entries (spec.md §3's
	// data-model invariant); both resolve off DiskInode_t.Parent and the
	// inode's own sector in step() instead.

	if err := dirAdd(dir, base, sector); err != nil {
		fs.Close(ino)
		return nil, err
	}
	return ino, nil
}

// Remove unlinks the entry named by path from its containing directory.
// A directory may only be removed if it is empty (besides "." and "..")
// and has no other open handle (spec.md §4.4's "safe rule": refuse
// rather than allow a dangling cwd, see DESIGN.md Open Question 5).
// Storage reclamation is deferred to the last Close if some other handle
// is still open (spec.md §4.4 "Remove").
func (fs *FS_t) Remove(cwd *Inode_t, path string) error {
	if baseIsDot(path) {
		return fmt.Errorf("fsys: cannot remove %q", path)
	}

	dir, base, err := fs.lookupParent(cwd, path)
	if err != nil {
		return err
	}
	defer fs.Close(dir)

	sector, found, err := dirLookup(dir, base)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("fsys: %q not found", base)
	}

	target, err := fs.getInode(sector)
	if err != nil {
		return err
	}
	defer fs.Close(target)

	if target.IsDir() {
		empty, err := dirEmpty(target)
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("fsys: directory %q is not empty", base)
		}
		target.Lock()
		stillOpen := target.openCnt > 1 // our own handle plus anyone else's
		target.Unlock()
		if stillOpen {
			return fmt.Errorf("fsys: directory %q is in use", base)
		}
	}

	if err := dirRemove(dir, base); err != nil {
		return err
	}

	target.Lock()
	target.removed = true
	target.Unlock()
	return nil
}

func baseIsDot(path string) bool {
	_, parts := splitPath(path)
	if len(parts) == 0 {
		return false
	}
	last := parts[len(parts)-1]
	return last == "." || last == ".."
}

// Ls lists the names present in dir, a small addition over spec.md's
// core path operations grounded on biscuit's ufs.Fs_t.Ls
// (biscuit/src/ufs/ufs.go), useful for diagnostics and tests.
func (fs *FS_t) Ls(dir *Inode_t) ([]string, error) {
	if !dir.IsDir() {
		return nil, fmt.Errorf("fsys: not a directory")
	}
	return dirList(dir)
}
