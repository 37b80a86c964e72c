//go:build linux || darwin

package sdimg

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"os/signal"
	"path"
	"strings"
	"syscall"

	"github.com/diskfs/go-diskfs/filesystem/fat32"
	"rsc.io/rsc/fuse"

	"github.com/clktmr/ft9xx/debug"
)

func mount(s *slot, dir string) error {
	fat, err := fat32.Read(s.dev, s.dev.Size(), 0, int64(s.host.BlockSize()))
	if err != nil {
		return err
	}
	c, err := fuse.Mount(dir)
	if err != nil {
		return err
	}

	sigintr := make(chan os.Signal, 1)
	signal.Notify(sigintr, os.Interrupt)

	go c.Serve(&fusefs{fat})
	<-sigintr

	cmd := exec.Command("/bin/umount", dir)
	_, err = cmd.CombinedOutput()
	return err
}

// fusefs serves a FAT filesystem read-only.
type fusefs struct {
	fat *fat32.FileSystem
}

func (p *fusefs) Root() (fuse.Node, fuse.Error) {
	return &fusedir{p.fat, "/"}, nil
}

type fusedir struct {
	fat  *fat32.FileSystem
	path string
}

func (d *fusedir) Attr() fuse.Attr {
	return fuse.Attr{Mode: os.ModeDir | 0o555}
}

func (d *fusedir) Lookup(name string, intr fuse.Intr) (fuse.Node, fuse.Error) {
	entries, err := d.fat.ReadDir(d.path)
	if err != nil {
		return nil, errno(err)
	}
	for _, e := range entries {
		// FAT names are case insensitive
		if !strings.EqualFold(e.Name(), name) {
			continue
		}
		p := path.Join(d.path, e.Name())
		if e.IsDir() {
			return &fusedir{d.fat, p}, nil
		}
		return &fusefile{d.fat, p, e}, nil
	}
	return nil, fuse.Errno(syscall.ENOENT)
}

func (d *fusedir) ReadDir(intr fuse.Intr) ([]fuse.Dirent, fuse.Error) {
	entries, err := d.fat.ReadDir(d.path)
	if err != nil {
		return nil, errno(err)
	}
	fuseEntries := make([]fuse.Dirent, 0, len(entries))
	for _, v := range entries {
		if v.Name() == "." || v.Name() == ".." {
			continue
		}
		fuseEntries = append(fuseEntries, fuse.Dirent{Name: v.Name()})
	}
	return fuseEntries, nil
}

type fusefile struct {
	fat  *fat32.FileSystem
	path string
	info os.FileInfo
}

func (f *fusefile) Attr() fuse.Attr {
	return fuse.Attr{
		Mode:  0o444,
		Mtime: f.info.ModTime(),
		Size:  uint64(f.info.Size()),
	}
}

func (f *fusefile) ReadAll(intr fuse.Intr) ([]byte, fuse.Error) {
	r, err := f.fat.OpenFile(f.path, os.O_RDONLY)
	if err != nil {
		return nil, errno(err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errno(err)
	}
	return b, nil
}

func errno(err error) fuse.Error {
	debug.LogDebug(debug.ComponentSDImg, "fuse", "err", err)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fuse.Errno(syscall.ENOENT)
	case errors.Is(err, fs.ErrInvalid):
		return fuse.Errno(syscall.EINVAL)
	case errors.Is(err, fs.ErrPermission):
		return fuse.Errno(syscall.EROFS)
	}
	return fuse.EIO
}
