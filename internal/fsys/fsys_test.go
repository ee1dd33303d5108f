package fsys

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/require"

	"github.com/qbaula/pintos-go/internal/diskio"
	"github.com/qbaula/pintos-go/internal/pageaddr"
)

func newTestFS(t *testing.T, nsectors int) *FS_t {
	t.Helper()
	dev, err := diskio.Open(filepath.Join(t.TempDir(), "disk.img"), nsectors, true)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	fs, err := Mkfs(dev)
	require.NoError(t, err)
	return fs
}

func TestMkfsRootDirIsEmptyOfOrdinaryEntries(t *testing.T) {
	fs := newTestFS(t, 4096)
	root, err := fs.Root()
	require.NoError(t, err)
	defer fs.Close(root)

	names, err := fs.Ls(root)
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestLsListsEveryDirectEntry(t *testing.T) {
	fs := newTestFS(t, 4096)
	root, err := fs.Root()
	require.NoError(t, err)
	defer fs.Close(root)

	for _, name := range []string{"a", "b", "c"} {
		ino, err := fs.Create(root, "/"+name, false)
		require.NoError(t, err)
		require.NoError(t, fs.Close(ino))
	}

	got, err := fs.Ls(root)
	require.NoError(t, err)
	sort.Strings(got)

	want := []string{"a", "b", "c"}
	if diff := pretty.Compare(want, got); diff != "" {
		t.Fatalf("directory listing mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateThenOpenRoundTrips(t *testing.T) {
	fs := newTestFS(t, 4096)
	root, err := fs.Root()
	require.NoError(t, err)
	defer fs.Close(root)

	ino, err := fs.Create(root, "/hello", false)
	require.NoError(t, err)
	defer fs.Close(ino)

	opened, err := fs.Lookup(root, "/hello")
	require.NoError(t, err)
	defer fs.Close(opened)
	require.Equal(t, ino.Sector(), opened.Sector())
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	fs := newTestFS(t, 4096)
	root, err := fs.Root()
	require.NoError(t, err)
	defer fs.Close(root)

	ino, err := fs.Create(root, "/data", false)
	require.NoError(t, err)
	defer fs.Close(ino)

	payload := []byte("the quick brown fox jumps over the lazy dog")
	n, err := ino.WriteAt(payload, 100)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, 100+len(payload), ino.Len())

	out := make([]byte, len(payload))
	n, err = ino.ReadAt(out, 100)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, out)
}

// TestGrowAcrossIndirectionBoundary is spec.md §8 scenario 2: create a
// file, seek to the first byte of the doubly-indirect region, write one
// byte, and read it back.
func TestGrowAcrossIndirectionBoundary(t *testing.T) {
	// Device needs enough sectors for file data plus bookkeeping;
	// MaxFileSize's region boundary plus slack for indirect blocks and
	// the free map/root.
	nsectors := NDirect + BlocksPerIndir + BlocksPerIndir*BlocksPerIndir + 4096
	fs := newTestFS(t, nsectors)
	root, err := fs.Root()
	require.NoError(t, err)
	defer fs.Close(root)

	ino, err := fs.Create(root, "/big", false)
	require.NoError(t, err)
	defer fs.Close(ino)

	offset := pageaddr.SectorSize*NDirect + pageaddr.SectorSize*BlocksPerIndir
	n, err := ino.WriteAt([]byte("Z"), offset)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, offset+1, ino.Len())

	out := make([]byte, 1)
	n, err = ino.ReadAt(out, offset)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, byte('Z'), out[0])
}

func TestPathResolutionDotDotAndDot(t *testing.T) {
	fs := newTestFS(t, 8192)
	root, err := fs.Root()
	require.NoError(t, err)
	defer fs.Close(root)

	a, err := fs.Create(root, "/a", true)
	require.NoError(t, err)
	defer fs.Close(a)
	b, err := fs.Create(a, "/a/b", true)
	require.NoError(t, err)
	defer fs.Close(b)
	c, err := fs.Create(root, "/a/c", true)
	require.NoError(t, err)
	defer fs.Close(c)
	d, err := fs.Create(c, "/a/c/d", false)
	require.NoError(t, err)
	defer fs.Close(d)

	viaRelative, err := fs.Lookup(b, "../c/./d")
	require.NoError(t, err)
	defer fs.Close(viaRelative)

	viaAbsolute, err := fs.Lookup(root, "/a/c/d")
	require.NoError(t, err)
	defer fs.Close(viaAbsolute)

	require.Equal(t, viaAbsolute.Sector(), viaRelative.Sector())
}

func TestOpenEmptyPathFails(t *testing.T) {
	fs := newTestFS(t, 4096)
	root, err := fs.Root()
	require.NoError(t, err)
	defer fs.Close(root)

	_, err = fs.Lookup(root, "")
	require.Error(t, err)
}

func TestCreateRejectsDotBasenames(t *testing.T) {
	fs := newTestFS(t, 4096)
	root, err := fs.Root()
	require.NoError(t, err)
	defer fs.Close(root)

	_, err = fs.Create(root, "/.", false)
	require.Error(t, err)
	_, err = fs.Create(root, "/..", false)
	require.Error(t, err)
}

// TestRemoveRejectsDotBasenamesSymmetrically resolves DESIGN.md's Open
// Question 4: spec.md flags create/remove's asymmetry over "." and ".."
// and recommends implementers reject both symmetrically.
func TestRemoveRejectsDotBasenamesSymmetrically(t *testing.T) {
	fs := newTestFS(t, 4096)
	root, err := fs.Root()
	require.NoError(t, err)
	defer fs.Close(root)

	require.Error(t, fs.Remove(root, "/."))
	require.Error(t, fs.Remove(root, "/.."))
}

func TestRemoveNonEmptyDirectoryFails(t *testing.T) {
	fs := newTestFS(t, 4096)
	root, err := fs.Root()
	require.NoError(t, err)
	defer fs.Close(root)

	dir, err := fs.Create(root, "/d", true)
	require.NoError(t, err)
	defer fs.Close(dir)
	file, err := fs.Create(dir, "/d/f", false)
	require.NoError(t, err)
	defer fs.Close(file)

	require.Error(t, fs.Remove(root, "/d"))
}

func TestRemoveDeferredUntilLastClose(t *testing.T) {
	fs := newTestFS(t, 4096)
	root, err := fs.Root()
	require.NoError(t, err)
	defer fs.Close(root)

	ino, err := fs.Create(root, "/f", false)
	require.NoError(t, err)

	second, err := fs.Lookup(root, "/f")
	require.NoError(t, err)

	require.NoError(t, fs.Remove(root, "/f"))
	require.True(t, ino.Removed())

	// The name is already gone from the directory even though the inode
	// is still open.
	_, err = fs.Lookup(root, "/f")
	require.Error(t, err)

	require.NoError(t, fs.Close(ino))
	require.NoError(t, fs.Close(second))

	stats := fs.Statistics()
	require.Equal(t, 1, stats.OpenInodes) // just root
}

func TestDenyWriteMakesWritesNoOp(t *testing.T) {
	fs := newTestFS(t, 4096)
	root, err := fs.Root()
	require.NoError(t, err)
	defer fs.Close(root)

	ino, err := fs.Create(root, "/exe", false)
	require.NoError(t, err)
	defer fs.Close(ino)

	ino.DenyWrite()
	n, err := ino.WriteAt([]byte("x"), 0)
	require.NoError(t, err)
	require.Equal(t, 0, n) // deny-write makes writes a no-op, per spec.md §4.5/glossary

	ino.AllowWrite()
	n, err = ino.WriteAt([]byte("x"), 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
