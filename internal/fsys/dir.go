package fsys

import (
	"encoding/binary"
	"fmt"
)

// Directory entry layout (spec.md §4.4): each entry is a fixed-size
// record inside a directory inode's byte stream, scanned linearly.
// Grounded on original_source/filesys/directory.c's struct dirent.
const (
	NameMax = 14

	entInUse  = 0
	entName   = 1
	entSector = entName + NameMax // 15
	EntrySize = entSector + 4     // 19
)

// dirEntry_t is one parsed directory entry.
type dirEntry_t struct {
	inUse  bool
	name   string
	sector int32
}

func marshalEntry(e *dirEntry_t) []byte {
	buf := make([]byte, EntrySize)
	if e.inUse {
		buf[entInUse] = 1
	}
	copy(buf[entName:entName+NameMax], []byte(e.name))
	binary.LittleEndian.PutUint32(buf[entSector:], uint32(e.sector))
	return buf
}

func unmarshalEntry(buf []byte) *dirEntry_t {
	e := &dirEntry_t{inUse: buf[entInUse] != 0}
	nameBytes := buf[entName : entName+NameMax]
	n := 0
	for n < NameMax && nameBytes[n] != 0 {
		n++
	}
	e.name = string(nameBytes[:n])
	e.sector = int32(binary.LittleEndian.Uint32(buf[entSector:]))
	return e
}

// dirLookup scans dir's entries for name, returning the matching entry's
// inode sector. It does not itself special-case "." or ".." (spec.md
// §4.4 resolves those one path component at a time before ever calling
// dirLookup).
func dirLookup(dir *Inode_t, name string) (int, bool, error) {
	if len(name) > NameMax {
		return 0, false, fmt.Errorf("fsys: name %q exceeds %d bytes", name, NameMax)
	}
	length := dir.Len()
	buf := make([]byte, EntrySize)
	for off := 0; off+EntrySize <= length; off += EntrySize {
		if _, err := dir.ReadAt(buf, off); err != nil {
			return 0, false, err
		}
		e := unmarshalEntry(buf)
		if e.inUse && e.name == name {
			return int(e.sector), true, nil
		}
	}
	return 0, false, nil
}

// dirAdd appends a new in-use entry for name -> sector, reusing a
// tombstoned (not-in-use) slot if one exists before growing the
// directory. Returns AlreadyExists-flavored error if name is already
// present.
func dirAdd(dir *Inode_t, name string, sector int) error {
	if len(name) == 0 || len(name) > NameMax {
		return fmt.Errorf("fsys: name %q has invalid length", name)
	}
	if _, found, err := dirLookup(dir, name); err != nil {
		return err
	} else if found {
		return fmt.Errorf("fsys: %q already exists", name)
	}

	length := dir.Len()
	buf := make([]byte, EntrySize)
	for off := 0; off+EntrySize <= length; off += EntrySize {
		if _, err := dir.ReadAt(buf, off); err != nil {
			return err
		}
		if !unmarshalEntry(buf).inUse {
			e := &dirEntry_t{inUse: true, name: name, sector: int32(sector)}
			_, err := dir.WriteAt(marshalEntry(e), off)
			return err
		}
	}

	e := &dirEntry_t{inUse: true, name: name, sector: int32(sector)}
	_, err := dir.WriteAt(marshalEntry(e), length)
	return err
}

// dirRemove tombstones name's entry (marks it not-in-use in place; the
// slot is reused by a later dirAdd rather than compacting the file).
func dirRemove(dir *Inode_t, name string) error {
	length := dir.Len()
	buf := make([]byte, EntrySize)
	for off := 0; off+EntrySize <= length; off += EntrySize {
		if _, err := dir.ReadAt(buf, off); err != nil {
			return err
		}
		e := unmarshalEntry(buf)
		if e.inUse && e.name == name {
			e.inUse = false
			_, err := dir.WriteAt(marshalEntry(e), off)
			return err
		}
	}
	return fmt.Errorf("fsys: %q not found", name)
}

// dirEmpty reports whether dir has no entries at all: "." and ".." are
// never stored (spec.md §3's data-model invariant, see Create), so any
// in-use entry at all means the directory is non-empty.
func dirEmpty(dir *Inode_t) (bool, error) {
	length := dir.Len()
	buf := make([]byte, EntrySize)
	for off := 0; off+EntrySize <= length; off += EntrySize {
		if _, err := dir.ReadAt(buf, off); err != nil {
			return false, err
		}
		if unmarshalEntry(buf).inUse {
			return false, nil
		}
	}
	return true, nil
}

// dirList returns the in-use entry names for fsys.FS_t.Ls (spec.md's
// small addition, grounded on biscuit's ufs.Fs_t.Ls / Fs_t.Readdir in
// biscuit/src/ufs/ufs.go). "." and ".." are never stored as entries, so
// there is nothing to filter back out.
func dirList(dir *Inode_t) ([]string, error) {
	length := dir.Len()
	buf := make([]byte, EntrySize)
	var names []string
	for off := 0; off+EntrySize <= length; off += EntrySize {
		if _, err := dir.ReadAt(buf, off); err != nil {
			return nil, err
		}
		if e := unmarshalEntry(buf); e.inUse {
			names = append(names, e.name)
		}
	}
	return names, nil
}
