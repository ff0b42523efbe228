package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreallocateKeepsSize(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "staged.part"))
	require.NoError(t, err)
	defer f.Close()

	Preallocate(f, 1<<20)

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	_, err = f.WriteString("payload")
	require.NoError(t, err)
	info, err = f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.Size())
}

func TestPreallocateIgnoresMemFiles(t *testing.T) {
	f, err := afero.NewMemMapFs().Create("/x")
	require.NoError(t, err)
	defer f.Close()

	assert.NotPanics(t, func() { Preallocate(f, 4096) })
	assert.NotPanics(t, func() { Preallocate(nil, 4096) })
}
