package memory

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/itohio/goatu/pkg/flash"
	"github.com/itohio/goatu/pkg/relays"
)

const (
	// RecordSize is the size of one slot in flash.
	RecordSize = 8
	// recordMarker flags a programmed slot. Programming it only clears bits.
	recordMarker = 0x5A
)

// ErrSlotRange is returned for slots outside the table.
var ErrSlotRange = errors.New("memory slot out of range")

// Record is the content of one memory slot. It holds nothing but the
// solution so that re-storing it from a nearby frequency is a no-op.
type Record struct {
	Relays relays.Config
}

// encode lays a record out as: relay word LE, marker, 5 erased bytes.
func (r Record) encode() []byte {
	b := []byte{0, 0, recordMarker, flash.Erased, flash.Erased, flash.Erased, flash.Erased, flash.Erased}
	binary.LittleEndian.PutUint16(b[0:2], r.Relays.Pack())
	return b
}

func decodeRecord(b []byte) (Record, bool) {
	if len(b) < RecordSize || b[2] != recordMarker {
		return Record{}, false
	}
	return Record{Relays: relays.Unpack(binary.LittleEndian.Uint16(b[0:2]))}, true
}

// Store persists one Record per memory slot in a block aligned flash table.
type Store struct {
	dev   flash.Device
	base  int64
	slots uint16
}

// NewStore creates a store whose table of TotalSlots records starts at base.
func NewStore(dev flash.Device, base int64) (*Store, error) {
	return newStore(dev, base, TotalSlots)
}

func newStore(dev flash.Device, base int64, slots uint16) (*Store, error) {
	if base < 0 || base%flash.BlockSize != 0 {
		return nil, fmt.Errorf("%w: table offset %d", flash.ErrUnaligned, base)
	}
	if end := base + int64(slots)*RecordSize; end > dev.Size() {
		return nil, fmt.Errorf("%w: table needs %d bytes, flash has %d", flash.ErrOutOfRange, end, dev.Size())
	}
	return &Store{dev: dev, base: base, slots: slots}, nil
}

// Slots returns the number of slots in the table.
func (s *Store) Slots() uint16 {
	return s.slots
}

func (s *Store) addr(slot uint16) (int64, error) {
	if slot >= s.slots {
		return 0, fmt.Errorf("%w: %d", ErrSlotRange, slot)
	}
	return s.base + int64(slot)*RecordSize, nil
}

// Recall reads a slot. ok is false for a slot that was never programmed.
func (s *Store) Recall(slot uint16) (rec Record, ok bool, err error) {
	addr, err := s.addr(slot)
	if err != nil {
		return Record{}, false, err
	}

	buf := make([]byte, RecordSize)
	if _, err := s.dev.ReadAt(buf, addr); err != nil {
		return Record{}, false, fmt.Errorf("failed to read slot %d: %w", slot, err)
	}

	rec, ok = decodeRecord(buf)
	return rec, ok, nil
}

// Save programs a slot. An identical record is not rewritten, and the
// surrounding block is only erased when the new record needs a 0->1 bit
// transition that a plain write cannot make.
func (s *Store) Save(slot uint16, rec Record) error {
	addr, err := s.addr(slot)
	if err != nil {
		return err
	}

	next := rec.encode()
	old := make([]byte, RecordSize)
	if _, err := s.dev.ReadAt(old, addr); err != nil {
		return fmt.Errorf("failed to read slot %d: %w", slot, err)
	}
	if bytes.Equal(old, next) {
		return nil
	}

	block := addr / flash.BlockSize
	buf := make([]byte, flash.BlockSize)
	if err := flash.ReadBlock(s.dev, block, buf); err != nil {
		return fmt.Errorf("failed to read block %d: %w", block, err)
	}

	if needsErase(old, next) {
		if err := s.dev.EraseBlock(block); err != nil {
			return fmt.Errorf("failed to erase block %d: %w", block, err)
		}
	}

	copy(buf[addr%flash.BlockSize:], next)
	if err := s.dev.WriteBlock(block, buf); err != nil {
		return fmt.Errorf("failed to write block %d: %w", block, err)
	}
	return nil
}

// needsErase reports whether going from old to next sets any bit.
func needsErase(old, next []byte) bool {
	for i := range next {
		if ^old[i]&next[i] != 0 {
			return true
		}
	}
	return false
}
