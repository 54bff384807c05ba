//go:build tinygo

package main

import (
	"fmt"
	"machine"
	"time"

	"github.com/itohio/goatu/pkg/flash"
	"github.com/itohio/goatu/pkg/freq"
	"github.com/itohio/goatu/pkg/relays"
	"github.com/itohio/goatu/pkg/rf"
)

// detector reads the forward and reverse detector voltages.
type detector struct {
	fwd machine.ADC
	rev machine.ADC
}

var _ rf.ADC = (*detector)(nil)

func newDetector() *detector {
	PIN_FWD_ADC.Configure(machine.PinConfig{Mode: machine.PinInput})
	PIN_REV_ADC.Configure(machine.PinConfig{Mode: machine.PinInput})

	d := &detector{
		fwd: machine.ADC{Pin: PIN_FWD_ADC},
		rev: machine.ADC{Pin: PIN_REV_ADC},
	}
	cfg := machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	}
	d.fwd.Configure(cfg)
	d.rev.Configure(cfg)
	return d
}

// ReadChannel returns a 12-bit reading. machine.ADC scales to 16 bits.
func (d *detector) ReadChannel(ch rf.Channel) uint16 {
	if ch == rf.Reverse {
		return d.rev.Get() >> 4
	}
	return d.fwd.Get() >> 4
}

// relayPort shifts the relay word into two latched shift registers.
type relayPort struct {
	spi   *machine.SPI
	latch machine.Pin
	buf   [2]byte
}

var _ relays.Driver = (*relayPort)(nil)

func newRelayPort() (*relayPort, error) {
	spi := machine.SPI0
	if err := spi.Configure(machine.SPIConfig{Frequency: RELAY_SPI_FREQ}); err != nil {
		return nil, fmt.Errorf("failed to configure relay SPI: %w", err)
	}
	PIN_RELAY_LATCH.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_RELAY_LATCH.Low()
	return &relayPort{spi: spi, latch: PIN_RELAY_LATCH}, nil
}

func (p *relayPort) Write(word uint16) error {
	p.buf[0] = byte(word >> 8)
	p.buf[1] = byte(word)
	if err := p.spi.Tx(p.buf[:], nil); err != nil {
		return err
	}
	p.latch.High()
	p.latch.Low()
	return nil
}

// edgeInput is the pre-divided RF signal.
type edgeInput struct {
	pin machine.Pin
}

var _ freq.Input = edgeInput{}

func newEdgeInput() edgeInput {
	PIN_FREQ.Configure(machine.PinConfig{Mode: machine.PinInput})
	return edgeInput{pin: PIN_FREQ}
}

func (e edgeInput) Level() bool {
	return e.pin.Get()
}

// tickTimer is a free running 16-bit microsecond counter derived from the
// runtime clock. Wraps are reported to the overflow handler when Count
// observes them, which the counter's consistent read loop tolerates.
type tickTimer struct {
	start    time.Time
	wraps    uint64
	overflow func()
}

var _ freq.Timer = (*tickTimer)(nil)

func (t *tickTimer) OnOverflow(fn func()) {
	t.overflow = fn
}

func (t *tickTimer) Reset() {
	t.start = time.Now()
	t.wraps = 0
}

func (t *tickTimer) Count() uint16 {
	ticks := uint64(time.Since(t.start).Microseconds())
	for wraps := ticks >> 16; t.wraps < wraps; t.wraps++ {
		if t.overflow != nil {
			t.overflow()
		}
	}
	return uint16(ticks)
}

// flashRegion exposes part of the MCU flash as a flash.Device. Erase
// granularity of the chip is usually larger than flash.BlockSize, so an
// erase rewrites the neighbouring blocks of the same erase row.
type flashRegion struct {
	dev    machine.BlockDevice
	offset int64
	size   int64
	row    []byte
}

var _ flash.Device = (*flashRegion)(nil)

func newFlashRegion(offset, size int64) (*flashRegion, error) {
	var dev machine.BlockDevice = machine.Flash
	if offset+size > dev.Size() {
		return nil, fmt.Errorf("%w: region ends at %d of %d", flash.ErrOutOfRange, offset+size, dev.Size())
	}
	if offset%dev.EraseBlockSize() != 0 {
		return nil, fmt.Errorf("%w: region offset %d", flash.ErrUnaligned, offset)
	}
	return &flashRegion{
		dev:    dev,
		offset: offset,
		size:   size,
		row:    make([]byte, dev.EraseBlockSize()),
	}, nil
}

func (f *flashRegion) Size() int64 {
	return f.size
}

func (f *flashRegion) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > f.size {
		return 0, flash.ErrOutOfRange
	}
	return f.dev.ReadAt(p, f.offset+off)
}

func (f *flashRegion) WriteBlock(block int64, data []byte) error {
	if len(data) != flash.BlockSize {
		return flash.ErrUnaligned
	}
	off := block * flash.BlockSize
	if off < 0 || off+flash.BlockSize > f.size {
		return flash.ErrOutOfRange
	}
	_, err := f.dev.WriteAt(data, f.offset+off)
	return err
}

func (f *flashRegion) EraseBlock(block int64) error {
	off := block * flash.BlockSize
	if off < 0 || off+flash.BlockSize > f.size {
		return flash.ErrOutOfRange
	}

	rowSize := int64(len(f.row))
	rowStart := (f.offset + off) / rowSize * rowSize
	if _, err := f.dev.ReadAt(f.row, rowStart); err != nil {
		return err
	}
	if err := f.dev.EraseBlocks(rowStart/rowSize, 1); err != nil {
		return err
	}

	inRow := f.offset + off - rowStart
	for i := inRow; i < inRow+flash.BlockSize; i++ {
		f.row[i] = flash.Erased
	}
	for i := int64(0); i < rowSize; i += flash.BlockSize {
		chunk := f.row[i : i+flash.BlockSize]
		if erased(chunk) {
			continue
		}
		if _, err := f.dev.WriteAt(chunk, rowStart+i); err != nil {
			return err
		}
	}
	return nil
}

func erased(b []byte) bool {
	for _, v := range b {
		if v != flash.Erased {
			return false
		}
	}
	return true
}
