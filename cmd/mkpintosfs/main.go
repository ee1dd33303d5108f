// Command mkpintosfs formats a fresh file-system disk image, optionally
// copying a host directory tree into the new file system (the swap image
// is not made here; pintosk creates it fresh on each boot) — the cobra-based replacement for the teacher's raw-argv
// mkfs/mkfs.go (spec.md's "Glue (init, teardown)" component; see
// SPEC_FULL.md's AMBIENT STACK / "Configuration" section for why cobra
// stands in for mkfs.go's os.Args parsing).
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/qbaula/pintos-go/internal/diskio"
	"github.com/qbaula/pintos-go/internal/fsys"
	"github.com/qbaula/pintos-go/internal/pageaddr"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		diskPath   string
		diskBytes  int
		skelDir    string
	)

	cmd := &cobra.Command{
		Use:   "mkpintosfs",
		Short: "Format a pintos-go file-system disk image",
		RunE: func(cmd *cobra.Command, args []string) error {
			nsectors := pageaddr.BytesToSectors(diskBytes)
			dev, err := diskio.Open(diskPath, nsectors, true)
			if err != nil {
				return fmt.Errorf("open disk image: %w", err)
			}
			defer dev.Close()

			fs, err := fsys.Mkfs(dev)
			if err != nil {
				return fmt.Errorf("format: %w", err)
			}
			defer fs.Shutdown()

			if skelDir != "" {
				if err := addTree(fs, skelDir); err != nil {
					return fmt.Errorf("populate from %s: %w", skelDir, err)
				}
			}
			fmt.Printf("formatted %s (%d sectors)\n", diskPath, nsectors)
			return nil
		},
	}

	cmd.Flags().StringVar(&diskPath, "disk", "pintos.img", "path to the disk image to create")
	cmd.Flags().IntVar(&diskBytes, "size", 8*1024*1024, "disk image size in bytes")
	cmd.Flags().StringVar(&skelDir, "skel", "", "host directory tree to copy into the new file system")

	return cmd
}

// addTree walks skelDir on the host and replicates it into fs, mirroring
// the teacher's mkfs/mkfs.go addfiles/copydata walk over ufs.Ufs_t.
func addTree(fs *fsys.FS_t, skelDir string) error {
	root, err := fs.Root()
	if err != nil {
		return err
	}
	defer fs.Close(root)

	return filepath.WalkDir(skelDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(skelDir, path)
		if err != nil || rel == "." {
			return err
		}

		if d.IsDir() {
			ino, err := fs.Create(root, "/"+rel, true)
			if err != nil {
				return fmt.Errorf("mkdir %s: %w", rel, err)
			}
			return fs.Close(ino)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		ino, err := fs.Create(root, "/"+rel, false)
		if err != nil {
			return fmt.Errorf("create %s: %w", rel, err)
		}
		defer fs.Close(ino)
		if _, err := ino.WriteAt(data, 0); err != nil && err != io.EOF {
			return fmt.Errorf("copy %s: %w", rel, err)
		}
		return nil
	})
}
