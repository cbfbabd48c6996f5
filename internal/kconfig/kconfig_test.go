package kconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSizeAcceptsHumanSuffixes(t *testing.T) {
	n, err := ParseSize("--mem", "16MiB")
	require.NoError(t, err)
	assert.Equal(t, uint64(16*1024*1024), n)
}

func TestParseSizeRejectsGarbage(t *testing.T) {
	_, err := ParseSize("--mem", "not-a-size")
	assert.Error(t, err)
}

func TestParseSizeRejectsNegative(t *testing.T) {
	_, err := ParseSize("--mem", "-1MiB")
	assert.Error(t, err)
}

func TestHumanSizeRoundTripsParseSize(t *testing.T) {
	n, err := ParseSize("--disksize", HumanSize(8*1024*1024))
	require.NoError(t, err)
	assert.Equal(t, uint64(8*1024*1024), n)
}

func TestDefaultIsWorkable(t *testing.T) {
	cfg := Default()
	assert.Greater(t, cfg.MemSize, uint64(0))
	assert.Greater(t, cfg.NCPU, 0)
	assert.Greater(t, cfg.DiskSize, uint64(0))
	assert.NotEmpty(t, cfg.DiskPath)
}
