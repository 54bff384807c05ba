package flash

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func block(v byte) []byte {
	return bytes.Repeat([]byte{v}, BlockSize)
}

func TestMem_Erased(t *testing.T) {
	m := NewMem(100)
	assert.Equal(t, int64(128), m.Size(), "rounded up to whole blocks")

	buf := make([]byte, BlockSize)
	require.NoError(t, ReadBlock(m, 1, buf))
	assert.Equal(t, block(Erased), buf)
}

func TestMem_WriteOnlyClearsBits(t *testing.T) {
	m := NewMem(BlockSize)

	require.NoError(t, m.WriteBlock(0, block(0xF0)))
	require.NoError(t, m.WriteBlock(0, block(0x3C)))

	buf := make([]byte, BlockSize)
	require.NoError(t, ReadBlock(m, 0, buf))
	assert.Equal(t, block(0x30), buf, "second write cannot set bits")

	require.NoError(t, m.EraseBlock(0))
	require.NoError(t, m.WriteBlock(0, block(0x3C)))
	require.NoError(t, ReadBlock(m, 0, buf))
	assert.Equal(t, block(0x3C), buf)

	assert.Equal(t, Stats{Reads: 2, Writes: 3, Erases: 1}, m.Stats())
	m.ResetStats()
	assert.Equal(t, Stats{}, m.Stats())
}

func TestMem_Bounds(t *testing.T) {
	m := NewMem(2 * BlockSize)

	assert.ErrorIs(t, m.WriteBlock(2, block(0)), ErrOutOfRange)
	assert.ErrorIs(t, m.EraseBlock(-1), ErrOutOfRange)
	assert.ErrorIs(t, m.WriteBlock(0, make([]byte, 8)), ErrUnaligned)
	assert.ErrorIs(t, ReadBlock(m, 0, make([]byte, 8)), ErrUnaligned)

	_, err := m.ReadAt(make([]byte, 8), 2*BlockSize-4)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestFile_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.bin")

	f, err := OpenFile(path, 4*BlockSize)
	require.NoError(t, err)
	require.NoError(t, f.WriteBlock(2, block(0x42)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4*BlockSize), info.Size())

	again, err := OpenFile(path, 4*BlockSize)
	require.NoError(t, err)
	buf := make([]byte, BlockSize)
	require.NoError(t, ReadBlock(again, 2, buf))
	assert.Equal(t, block(0x42), buf)
	require.NoError(t, ReadBlock(again, 1, buf))
	assert.Equal(t, block(Erased), buf)

	require.NoError(t, again.EraseBlock(2))
	third, err := OpenFile(path, 4*BlockSize)
	require.NoError(t, err)
	require.NoError(t, ReadBlock(third, 2, buf))
	assert.Equal(t, block(Erased), buf)
	assert.Equal(t, path, third.Path())
}
