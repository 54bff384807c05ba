// Package flash models the block erasable nonvolatile memory the tuner
// persists its solutions to.
package flash

import (
	"errors"
	"fmt"
	"sync"
)

// BlockSize is the erase/write granularity in bytes.
const BlockSize = 64

// Erased is the value of every byte after an erase.
const Erased = 0xFF

var (
	ErrOutOfRange = errors.New("flash address out of range")
	ErrUnaligned  = errors.New("flash block access not aligned")
)

// Device is a NOR-style flash: any byte can be read, but writes work on
// whole blocks and can only clear bits. Setting a bit requires erasing its block.
type Device interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteBlock(block int64, data []byte) error
	EraseBlock(block int64) error
	Size() int64
}

// ReadBlock reads block number block into buf, which must be BlockSize long.
func ReadBlock(dev Device, block int64, buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("%w: buffer of %d bytes", ErrUnaligned, len(buf))
	}
	_, err := dev.ReadAt(buf, block*BlockSize)
	return err
}

// Stats counts flash operations.
type Stats struct {
	Reads  int
	Writes int
	Erases int
}

// Mem is an in-memory flash with NOR semantics: WriteBlock ANDs data
// into the cells.
type Mem struct {
	mu    sync.Mutex
	data  []byte
	stats Stats
}

var _ Device = (*Mem)(nil)

// NewMem creates an erased flash of size bytes, rounded up to whole blocks.
func NewMem(size int64) *Mem {
	blocks := (size + BlockSize - 1) / BlockSize
	data := make([]byte, blocks*BlockSize)
	for i := range data {
		data[i] = Erased
	}
	return &Mem{data: data}
}

func (m *Mem) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data))
}

func (m *Mem) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("%w: read %d bytes at %d", ErrOutOfRange, len(p), off)
	}
	m.stats.Reads++
	return copy(p, m.data[off:]), nil
}

func (m *Mem) WriteBlock(block int64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(data) != BlockSize {
		return fmt.Errorf("%w: write of %d bytes", ErrUnaligned, len(data))
	}
	off, err := m.blockOffset(block)
	if err != nil {
		return err
	}
	for i, b := range data {
		m.data[off+int64(i)] &= b
	}
	m.stats.Writes++
	return nil
}

func (m *Mem) EraseBlock(block int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	off, err := m.blockOffset(block)
	if err != nil {
		return err
	}
	for i := int64(0); i < BlockSize; i++ {
		m.data[off+i] = Erased
	}
	m.stats.Erases++
	return nil
}

func (m *Mem) blockOffset(block int64) (int64, error) {
	off := block * BlockSize
	if block < 0 || off+BlockSize > int64(len(m.data)) {
		return 0, fmt.Errorf("%w: block %d", ErrOutOfRange, block)
	}
	return off, nil
}

// Stats returns the operation counters.
func (m *Mem) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// ResetStats zeroes the operation counters.
func (m *Mem) ResetStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = Stats{}
}

// Bytes returns a copy of the whole flash content.
func (m *Mem) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// load replaces the content with data, padding with erased bytes.
func (m *Mem) load(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := copy(m.data, data)
	for i := n; i < len(m.data); i++ {
		m.data[i] = Erased
	}
}
