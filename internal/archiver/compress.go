// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package archiver

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/blake2b"
)

// compressDirectory writes gzip(tar(dirPath)) to archivePath, in process —
// the design-notes option (b) alternative to shelling out to `tar`. It
// returns the blake2b-256 digest of the finished archive file. The archive
// is written to a temporary sibling file and renamed into place so a
// crash mid-write never leaves a half-written YYYYMMDD.tgz behind.
func compressDirectory(dirPath, archivePath string) ([]byte, error) {
	tmpPath := archivePath + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", tmpPath, err)
	}
	defer os.Remove(tmpPath)

	if err := writeTarGz(out, dirPath); err != nil {
		out.Close()
		return nil, err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return nil, fmt.Errorf("fsync %s: %w", tmpPath, err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, archivePath); err != nil {
		return nil, fmt.Errorf("rename %s: %w", tmpPath, err)
	}

	digest, err := digestFile(archivePath)
	if err != nil {
		return nil, fmt.Errorf("digest %s: %w", archivePath, err)
	}
	return digest, nil
}

func writeTarGz(w io.Writer, dirPath string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	base := filepath.Base(dirPath)
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", dirPath, err)
	}

	if err := tw.WriteHeader(&tar.Header{
		Name:     base + "/",
		Typeflag: tar.TypeDir,
		Mode:     0o750,
	}); err != nil {
		return fmt.Errorf("tar header for %s: %w", base, err)
	}

	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", ent.Name(), err)
		}

		if err := tw.WriteHeader(&tar.Header{
			Name:     filepath.Join(base, ent.Name()),
			Typeflag: tar.TypeReg,
			Mode:     0o640,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		}); err != nil {
			return fmt.Errorf("tar header for %s: %w", ent.Name(), err)
		}

		if err := copyFileInto(tw, filepath.Join(dirPath, ent.Name())); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip writer: %w", err)
	}
	return nil
}

func copyFileInto(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copy %s: %w", path, err)
	}
	return nil
}

func digestFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
