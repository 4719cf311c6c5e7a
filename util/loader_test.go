package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDirectoryImages(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"frame-10.jpg": "ten",
		"frame-2.png":  "two",
		"frame-1.jpg":  "one",
		"cover.png":    "cover",
		"notes.txt":    "skip",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.jpg"), 0o700))

	images, err := LoadDirectoryImageFiles(dir)
	require.NoError(t, err)
	require.Len(t, images, 4)

	var order []string
	for _, image := range images {
		order = append(order, string(image.Data))
	}
	assert.Equal(t, []string{"one", "two", "ten", "cover"}, order)
	assert.Equal(t, -1, images[3].Frame)
	assert.Equal(t, 10, images[2].Frame)
}

func TestLoadDirectoryImagesMissing(t *testing.T) {
	_, err := LoadDirectoryImageFiles(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LogModeRelease, "warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))

	logger, err = NewLogger(LogModeDevelopment, "")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	_, err = NewLogger(LogModeDevelopment, "loud")
	assert.Error(t, err)
}
