package link

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/goatu/pkg/config"
	"github.com/itohio/goatu/pkg/flash"
	"github.com/itohio/goatu/pkg/relays"
	"github.com/itohio/goatu/pkg/telemetry"
	"github.com/itohio/goatu/pkg/tuning"
)

// pipeConn is a serial port whose device side is driven by the test.
type pipeConn struct {
	*io.PipeReader
	mu  sync.Mutex
	out bytes.Buffer
}

func (c *pipeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

func (c *pipeConn) written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

func newPipeSerial(t *testing.T) (*Serial, *pipeConn, *io.PipeWriter) {
	t.Helper()
	pr, pw := io.Pipe()
	conn := &pipeConn{PipeReader: pr}
	s := NewSerial("test", 0, 0, nil)
	require.NoError(t, s.attach(conn))
	return s, conn, pw
}

func nextFrame(t *testing.T, frames <-chan telemetry.Frame) telemetry.Frame {
	t.Helper()
	select {
	case f, ok := <-frames:
		require.True(t, ok, "frames channel closed")
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("no frame within timeout")
	}
	return telemetry.Frame{}
}

func TestNewSerial_Defaults(t *testing.T) {
	s := NewSerial("/dev/null", 0, 0, nil)
	assert.Equal(t, DefaultBaudRate, s.baudRate)
	assert.Equal(t, DefaultBufferSize, s.bufSize)
	assert.False(t, s.IsConnected())
	assert.ErrorIs(t, s.Send(telemetry.FullTune), ErrNotConnected)
	assert.NoError(t, s.Close())
}

func TestSerial_ReadsFrames(t *testing.T) {
	s, _, pw := newPipeSerial(t)
	defer s.Close()

	go func() {
		io.WriteString(pw, "garbage\n\n")
		io.WriteString(pw, "1000,0.615,0.200,2.00,14100,0000,00\r\n")
		io.WriteString(pw, "=2000,0.615,0.011,1.04,14100,8b0b,00\n")
	}()

	f := nextFrame(t, s.Frames())
	assert.Equal(t, uint16(14100), f.FrequencyKHz)
	assert.False(t, f.Result)

	f = nextFrame(t, s.Frames())
	assert.True(t, f.Result)
	assert.Equal(t, relays.Config{Capacitors: 11, Inductors: 11, Antenna: true}, f.Relays)
}

func TestSerial_Send(t *testing.T) {
	s, conn, _ := newPipeSerial(t)
	defer s.Close()

	require.NoError(t, s.Send(telemetry.FullTune))
	require.NoError(t, s.Send(telemetry.AntennaB))
	assert.Equal(t, "T\nA1\n", conn.written())
	assert.ErrorIs(t, s.attach(conn), ErrConnected)
}

func TestSerial_GracefulShutdown(t *testing.T) {
	s, _, _ := newPipeSerial(t)
	frames := s.Frames()

	require.NoError(t, s.Close())
	assert.False(t, s.IsConnected())

	_, ok := <-frames
	assert.False(t, ok, "Channel should be closed")
	assert.ErrorIs(t, s.Send(telemetry.Bypass), ErrNotConnected)
	assert.ErrorIs(t, s.attach(&pipeConn{}), ErrClosed)
}

func TestExecute_SkipsTelemetry(t *testing.T) {
	s, conn, pw := newPipeSerial(t)
	defer s.Close()

	go func() {
		io.WriteString(pw, "1000,0.615,0.200,2.00,14100,0000,00\n")
		io.WriteString(pw, "=2000,0.000,0.000,99.99,65535,0000,01\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := Execute(ctx, s, telemetry.MemoryTune)
	require.NoError(t, err)
	assert.Equal(t, tuning.NoRF, f.Errors)
	assert.Equal(t, "M\n", conn.written())
}

func TestExecute_Timeout(t *testing.T) {
	s, _, _ := newPipeSerial(t)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := Execute(ctx, s, telemetry.FullTune)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func newTestMock(t *testing.T) *Mock {
	t.Helper()
	cfg := config.Default()
	cfg.Sim.LoadR = 100
	cfg.Sim.LoadX = 0
	cfg.Sim.TelemetryInterval = 5 * time.Millisecond

	m, err := NewMock(cfg, flash.NewMem(cfg.Memory.FlashSize), nil)
	require.NoError(t, err)
	return m
}

func TestMock_Commands(t *testing.T) {
	m := newTestMock(t)
	assert.ErrorIs(t, m.Send(telemetry.FullTune), ErrNotConnected)
	require.NoError(t, m.Connect())
	defer m.Close()
	assert.ErrorIs(t, m.Connect(), ErrConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	f, err := Execute(ctx, m, telemetry.FullTune)
	require.NoError(t, err)
	assert.Equal(t, tuning.Errors(0), f.Errors)
	assert.Less(t, f.SWR, float32(1.7))
	assert.InDelta(t, 14100, int(f.FrequencyKHz), 30)
	tuned := f.Relays
	assert.Equal(t, tuned, m.Rig().Relays())

	f, err = Execute(ctx, m, telemetry.Bypass)
	require.NoError(t, err)
	assert.Equal(t, relays.Bypass, f.Relays)

	f, err = Execute(ctx, m, telemetry.MemoryTune)
	require.NoError(t, err)
	assert.Equal(t, tuning.Errors(0), f.Errors)
	assert.Equal(t, tuned, f.Relays)

	f, err = Execute(ctx, m, telemetry.AntennaB)
	require.NoError(t, err)
	assert.True(t, f.Relays.Antenna)
	assert.True(t, m.Rig().Relays().Antenna)

	assert.Error(t, m.Send(telemetry.Command("X")))
}

func TestMock_NoRF(t *testing.T) {
	m := newTestMock(t)
	m.Rig().Key(false)
	require.NoError(t, m.Connect())
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	f, err := Execute(ctx, m, telemetry.FullTune)
	require.NoError(t, err)
	assert.Equal(t, tuning.NoRF, f.Errors)
}

// TestMock_GracefulShutdown tests that the frames channel closes when Close() is called.
func TestMock_GracefulShutdown(t *testing.T) {
	m := newTestMock(t)
	require.NoError(t, m.Connect())

	frames := m.Frames()
	received := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range frames {
			received++
			if received == 3 {
				m.Close()
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Frames channel did not close within timeout")
	}

	assert.GreaterOrEqual(t, received, 3)
	assert.False(t, m.IsConnected())
	assert.ErrorIs(t, m.Connect(), ErrClosed)
}
