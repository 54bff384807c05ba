package link

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"

	"github.com/itohio/goatu/pkg/logging"
	"github.com/itohio/goatu/pkg/telemetry"
)

const (
	// DefaultBaudRate is the USB CDC baud rate of the tuner firmware.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size of the frames channel buffer.
	DefaultBufferSize = 100

	component = "link"
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial is a connection to the tuner firmware over a serial port.
type Serial struct {
	port     string
	baudRate int
	bufSize  int
	log      *logging.Logger

	conn      io.ReadWriteCloser
	frames    chan telemetry.Frame
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
	done      chan struct{}
}

// NewSerial creates a link on port. Zero baudRate and bufSize select the defaults.
func NewSerial(port string, baudRate, bufSize int, log *logging.Logger) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}
	if log == nil {
		log = logging.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:     port,
		baudRate: baudRate,
		bufSize:  bufSize,
		log:      log,
		frames:   make(chan telemetry.Frame, bufSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Ports returns the names of the available serial ports.
func Ports() ([]Port, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(names))
	for _, name := range names {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Connect opens the serial port and starts reading frames.
func (d *Serial) Connect() error {
	port, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}
	if err := d.attach(port); err != nil {
		port.Close()
		return err
	}
	return nil
}

// attach starts reading frames from an open connection.
func (d *Serial) attach(conn io.ReadWriteCloser) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return ErrConnected
	}
	if d.ctx.Err() != nil {
		return ErrClosed
	}

	d.conn = conn
	d.connected = true
	d.done = make(chan struct{})

	go d.readFrames(conn, d.done)
	return nil
}

// Close closes the connection and the frames channel.
func (d *Serial) Close() error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil
	}

	d.cancel()
	if err := d.conn.Close(); err != nil {
		d.log.Warnf(component, "error closing serial port: %v", err)
	}
	d.conn = nil
	d.connected = false
	done := d.done
	d.mu.Unlock()

	// The reader owns the frames channel and closes it on exit.
	<-done
	return nil
}

// Frames returns the channel of received frames.
func (d *Serial) Frames() <-chan telemetry.Frame {
	return d.frames
}

// Send writes a command line.
func (d *Serial) Send(cmd telemetry.Command) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return ErrNotConnected
	}

	if _, err := io.WriteString(d.conn, string(cmd)+"\n"); err != nil {
		return fmt.Errorf("failed to send command %s: %w", cmd, err)
	}
	return nil
}

// IsConnected returns whether the link is open.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

func (d *Serial) readFrames(conn io.Reader, done chan struct{}) {
	defer close(done)
	defer close(d.frames)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if d.ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}

		frame, err := telemetry.Parse(line)
		if err != nil {
			d.log.Debugf(component, "failed to parse line %q: %v", line, err)
			continue
		}

		select {
		case d.frames <- frame:
		case <-d.ctx.Done():
			return
		default:
			if frame.Result {
				// results must not be dropped
				select {
				case d.frames <- frame:
				case <-d.ctx.Done():
					return
				}
				continue
			}
			d.log.Warnf(component, "frames channel full, dropping frame")
		}
	}
	if err := scanner.Err(); err != nil && d.ctx.Err() == nil {
		d.log.Warnf(component, "error reading from serial port: %v", err)
	}
}
