package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/CS161/PugOS/internal/blockdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDiskImageCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	needsFormat, err := ensureDiskImage(path, 8)
	require.NoError(t, err)
	assert.True(t, needsFormat)

	info, statErr := os.Stat(path)
	require.NoError(t, statErr)
	assert.Equal(t, int64(8*blockdev.BlockSize), info.Size())
}

func TestEnsureDiskImageLeavesExistingFileAlone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	_, err := ensureDiskImage(path, 8)
	require.NoError(t, err)

	needsFormat, err := ensureDiskImage(path, 8)
	require.NoError(t, err)
	assert.False(t, needsFormat)
}

func TestEnsureDiskImageRejectsSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	_, err := ensureDiskImage(path, 8)
	require.NoError(t, err)

	_, err = ensureDiskImage(path, 16)
	assert.Error(t, err)
}
