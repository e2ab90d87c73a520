// Package archive turns a batch directory into a gzipped tarball for upload.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// Compress archives dir into "<dir>.tgz" and returns the archive path. Only
// regular files are archived; directory entries are omitted, matching what the
// unpacking side expects.
func Compress(dir string) (string, error) {
	out := dir + ".tgz"
	slog.Info("compressing batch directory", slog.String("dir", dir), slog.String("archive", out))

	f, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("creating archive %s: %w", out, err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		return appendFile(tw, path, d)
	})
	if err != nil {
		return "", fmt.Errorf("archiving %s: %w", dir, err)
	}

	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("finishing tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("finishing gzip stream: %w", err)
	}
	return out, nil
}

func appendFile(tw *tar.Writer, path string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(path)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("archiving %s: %w", path, err)
	}
	return nil
}
