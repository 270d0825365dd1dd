// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sandbox safely unpacks an untrusted archive under declared
// size/count/path limits (spec §4.A).
//
// Extraction is two-pass: the first pass validates every entry against the
// configured limits and rejects zip-slip / symlink entries before any bytes
// are written; the second pass materializes files. Output is published
// atomically by extracting into "<dest>.tmp" and renaming into place, so a
// caller never observes a partially-extracted directory.
package sandbox

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kraklabs/repograph/internal/apperrors"
)

// Limits bounds what an archive is allowed to contain.
type Limits struct {
	MaxCompressedBytes   int64
	MaxUncompressedBytes int64
	MaxFiles             int
}

// Sandbox extracts archives under a fixed set of Limits.
type Sandbox struct {
	limits Limits
	logger *slog.Logger
}

// New creates a Sandbox enforcing limits. A nil logger uses slog.Default().
func New(limits Limits, logger *slog.Logger) *Sandbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sandbox{limits: limits, logger: logger}
}

// Extract validates then materializes archivePath's contents under destDir.
// On any validation failure the partially-extracted staging directory is
// removed and destDir is left absent.
func (s *Sandbox) Extract(archivePath, destDir string) error {
	s.logger.Info("sandbox.extract.start", "archive", archivePath, "dest", destDir)

	info, err := os.Stat(archivePath)
	if err != nil {
		return apperrors.Wrap(apperrors.BadRequest, "cannot stat archive", err)
	}
	if info.Size() > s.limits.MaxCompressedBytes {
		return apperrors.New(apperrors.ArchiveTooLarge,
			fmt.Sprintf("archive is %d bytes, exceeds compressed limit %d", info.Size(), s.limits.MaxCompressedBytes))
	}

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return apperrors.Wrap(apperrors.ArchiveUnsafe, "cannot open archive", err)
	}
	defer zr.Close()

	if err := s.validate(zr); err != nil {
		return err
	}

	stagingDir := destDir + ".tmp"
	if err := os.RemoveAll(stagingDir); err != nil {
		return apperrors.Wrap(apperrors.Internal, "cannot clear staging dir", err)
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.Internal, "cannot create staging dir", err)
	}

	if err := s.materialize(zr, stagingDir); err != nil {
		os.RemoveAll(stagingDir)
		return err
	}

	if err := os.RemoveAll(destDir); err != nil {
		os.RemoveAll(stagingDir)
		return apperrors.Wrap(apperrors.Internal, "cannot clear previous dest", err)
	}
	if err := os.Rename(stagingDir, destDir); err != nil {
		os.RemoveAll(stagingDir)
		return apperrors.Wrap(apperrors.Internal, "cannot publish extracted dir", err)
	}

	s.logger.Info("sandbox.extract.success", "dest", destDir)
	return nil
}

// validate runs the first pass: every entry must resolve inside destDir,
// contain no symlinks, and the archive as a whole must stay within the
// configured file count and uncompressed size limits.
func (s *Sandbox) validate(zr *zip.ReadCloser) error {
	if len(zr.File) > s.limits.MaxFiles {
		return apperrors.New(apperrors.ArchiveTooManyFiles,
			fmt.Sprintf("archive has %d entries, exceeds limit %d", len(zr.File), s.limits.MaxFiles))
	}

	var totalUncompressed int64
	for _, f := range zr.File {
		if err := validateEntryPath(f.Name); err != nil {
			return err
		}
		if isSymlink(f) {
			return apperrors.New(apperrors.ArchiveUnsafe, fmt.Sprintf("entry %q is a symbolic link", f.Name))
		}
		totalUncompressed += int64(f.UncompressedSize64)
		if totalUncompressed > s.limits.MaxUncompressedBytes {
			return apperrors.New(apperrors.ArchiveTooLarge,
				fmt.Sprintf("uncompressed size exceeds limit %d bytes", s.limits.MaxUncompressedBytes))
		}
	}
	return nil
}

// materialize runs the second pass: writes every file entry to disk.
// Directory entries are created as needed; the archive was already
// validated, so this pass only surfaces I/O errors.
func (s *Sandbox) materialize(zr *zip.ReadCloser, stagingDir string) error {
	for _, f := range zr.File {
		targetPath := filepath.Join(stagingDir, filepath.FromSlash(f.Name))

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return apperrors.Wrap(apperrors.Internal, "create directory entry", err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return apperrors.Wrap(apperrors.Internal, "create parent directory", err)
		}

		if err := extractFile(f, targetPath); err != nil {
			return apperrors.Wrap(apperrors.Internal, fmt.Sprintf("extract entry %q", f.Name), err)
		}
	}
	return nil
}

func extractFile(f *zip.File, targetPath string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(targetPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

// validateEntryPath rejects absolute paths and any entry whose cleaned,
// joined form escapes the destination directory (zip-slip).
func validateEntryPath(name string) error {
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") {
		return apperrors.New(apperrors.ArchiveUnsafe, fmt.Sprintf("entry %q has an absolute path", name))
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return apperrors.New(apperrors.ArchiveUnsafe, fmt.Sprintf("entry %q escapes destination directory", name))
	}
	for _, part := range strings.Split(clean, string(filepath.Separator)) {
		if part == ".." {
			return apperrors.New(apperrors.ArchiveUnsafe, fmt.Sprintf("entry %q escapes destination directory", name))
		}
	}
	return nil
}

// isSymlink reports whether a zip entry's stored mode bits mark it as a
// symbolic link (the Go zip package exposes the upper 16 bits of
// ExternalAttrs as Unix mode when the archive was created on Unix).
func isSymlink(f *zip.File) bool {
	mode := f.FileInfo().Mode()
	return mode&os.ModeSymlink != 0
}
