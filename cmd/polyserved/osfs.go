package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/flowmesh/polyserve/internal/ftp"
)

// osFileSystem adapts the local filesystem rooted at dir to
// ftp.FileSystem. It is bootstrap glue for this binary only — per
// spec.md's Non-goals, the core ships no FTP storage backend, and this
// adapter does nothing beyond translating ftp.FileSystem calls to the
// os package.
type osFileSystem struct {
	dir string
}

func newOSFileSystem(dir string) *osFileSystem {
	return &osFileSystem{dir: dir}
}

func (fs *osFileSystem) resolve(path string) string {
	return filepath.Join(fs.dir, filepath.FromSlash(path))
}

func (fs *osFileSystem) List(dir string) ([]ftp.FileInfo, error) {
	entries, err := os.ReadDir(fs.resolve(dir))
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", dir)
	}
	out := make([]ftp.FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, errors.Wrapf(err, "statting %s", entry.Name())
		}
		out = append(out, ftp.FileInfo{
			Name:    entry.Name(),
			Size:    info.Size(),
			IsDir:   entry.IsDir(),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}

func (fs *osFileSystem) Stat(path string) (ftp.FileInfo, error) {
	info, err := os.Stat(fs.resolve(path))
	if err != nil {
		return ftp.FileInfo{}, errors.Wrapf(err, "statting %s", path)
	}
	return ftp.FileInfo{
		Name:    info.Name(),
		Size:    info.Size(),
		IsDir:   info.IsDir(),
		ModTime: info.ModTime(),
	}, nil
}

func (fs *osFileSystem) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(fs.resolve(path))
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	return f, nil
}

func (fs *osFileSystem) Create(path string) (io.WriteCloser, error) {
	f, err := os.Create(fs.resolve(path))
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s", path)
	}
	return f, nil
}

func (fs *osFileSystem) Mkdir(path string) error {
	if err := os.Mkdir(fs.resolve(path), 0755); err != nil {
		return errors.Wrapf(err, "making directory %s", path)
	}
	return nil
}

func (fs *osFileSystem) Remove(path string) error {
	if err := os.Remove(fs.resolve(path)); err != nil {
		return errors.Wrapf(err, "removing %s", path)
	}
	return nil
}
