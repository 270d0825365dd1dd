// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repograph/internal/apperrors"
)

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func defaultLimits() Limits {
	return Limits{MaxCompressedBytes: 1 << 20, MaxUncompressedBytes: 1 << 20, MaxFiles: 1000}
}

func TestExtractHappyPath(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "repo.zip")
	writeZip(t, archivePath, map[string]string{
		"README.md":    "hello",
		"src/main.go":  "package main",
		"src/util.go":  "package main",
	})

	destDir := filepath.Join(dir, "out")
	sb := New(defaultLimits(), nil)
	require.NoError(t, sb.Extract(archivePath, destDir))

	b, err := os.ReadFile(filepath.Join(destDir, "src/main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main", string(b))
}

func TestExtractRejectsZipSlip(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.zip")
	writeZip(t, archivePath, map[string]string{
		"../etc/passwd": "pwned",
	})

	destDir := filepath.Join(dir, "out")
	sb := New(defaultLimits(), nil)
	err := sb.Extract(archivePath, destDir)
	require.Error(t, err)
	assert.Equal(t, apperrors.ArchiveUnsafe, apperrors.KindOf(err))

	_, statErr := os.Stat(destDir)
	assert.True(t, os.IsNotExist(statErr), "dest dir must be absent after a rejected extraction")
}

func TestExtractRejectsTooManyFiles(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "many.zip")
	entries := map[string]string{}
	for i := 0; i < 5; i++ {
		entries[filepath.Join("f", string(rune('a'+i)))] = "x"
	}
	writeZip(t, archivePath, entries)

	sb := New(Limits{MaxCompressedBytes: 1 << 20, MaxUncompressedBytes: 1 << 20, MaxFiles: 2}, nil)
	err := sb.Extract(archivePath, filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ArchiveTooManyFiles, apperrors.KindOf(err))
}

func TestExtractRejectsUncompressedTooLarge(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "big.zip")
	writeZip(t, archivePath, map[string]string{"a.txt": string(make([]byte, 2048))})

	sb := New(Limits{MaxCompressedBytes: 1 << 20, MaxUncompressedBytes: 100, MaxFiles: 10}, nil)
	err := sb.Extract(archivePath, filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ArchiveTooLarge, apperrors.KindOf(err))
}

func TestValidateEntryPathRejectsAbsolute(t *testing.T) {
	err := validateEntryPath("/etc/passwd")
	require.Error(t, err)
	assert.Equal(t, apperrors.ArchiveUnsafe, apperrors.KindOf(err))
}

func TestValidateEntryPathAcceptsNested(t *testing.T) {
	require.NoError(t, validateEntryPath("src/pkg/foo.go"))
}

func TestIdempotentReExtraction(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "repo.zip")
	writeZip(t, archivePath, map[string]string{"a.go": "package a"})

	destDir := filepath.Join(dir, "out")
	sb := New(defaultLimits(), nil)
	require.NoError(t, sb.Extract(archivePath, destDir))
	require.NoError(t, sb.Extract(archivePath, destDir))

	b, err := os.ReadFile(filepath.Join(destDir, "a.go"))
	require.NoError(t, err)
	assert.Equal(t, "package a", string(b))
}
