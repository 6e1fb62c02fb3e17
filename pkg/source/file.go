package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// File reads a log from disk, transparently decompressing .gz and .zst files.
type File struct {
	Path string
}

func FromFile(path string) *File {
	return &File{Path: path}
}

func (f *File) Name() string {
	return filepath.Base(f.Path)
}

func (f *File) Open(ctx context.Context) (Lines, error) {
	fd, err := os.Open(f.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", f.Path)
	}

	r, err := decompress(f.Path, fd)
	if err != nil {
		fd.Close()
		return nil, err
	}
	return newReaderLines(ctx, r, multiCloser{r, fd}), nil
}

func decompress(path string, fd *os.File) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(path, ".gz"):
		zr, err := gzip.NewReader(fd)
		if err != nil {
			return nil, errors.Wrapf(err, "open gzip %s", path)
		}
		return zr, nil
	case strings.HasSuffix(path, ".zst"), strings.HasSuffix(path, ".zstd"):
		dec, err := zstd.NewReader(fd)
		if err != nil {
			return nil, errors.Wrapf(err, "open zstd %s", path)
		}
		return dec.IOReadCloser(), nil
	default:
		return io.NopCloser(fd), nil
	}
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
