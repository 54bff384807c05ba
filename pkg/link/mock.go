package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itohio/goatu/pkg/atu"
	"github.com/itohio/goatu/pkg/config"
	"github.com/itohio/goatu/pkg/flash"
	"github.com/itohio/goatu/pkg/logging"
	"github.com/itohio/goatu/pkg/sim"
	"github.com/itohio/goatu/pkg/telemetry"
)

// Mock runs the tuner core against a simulated antenna and speaks the
// firmware protocol, for development without hardware.
type Mock struct {
	interval time.Duration
	log      *logging.Logger

	rig *sim.Rig
	atu *atu.ATU

	frames    chan telemetry.Frame
	commands  chan telemetry.Command
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
	done      chan struct{}
}

// NewMock creates a simulated tuner configured by cfg. mem may be nil.
func NewMock(cfg *config.Config, mem flash.Device, log *logging.Logger) (*Mock, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.Discard()
	}

	// The simulated counter must use the rig's own timing constants.
	c := *cfg
	rig := sim.New(c.Sim)
	c.Frequency.MagicNumber = rig.MagicNumber()

	a, err := atu.New(&c, atu.Drivers{
		Relays: rig,
		ADC:    rig,
		Input:  rig,
		Timer:  rig,
		Clock:  rig,
		Flash:  mem,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble simulated tuner: %w", err)
	}

	interval := cfg.Sim.TelemetryInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Mock{
		interval: interval,
		log:      log,
		rig:      rig,
		atu:      a,
		frames:   make(chan telemetry.Frame, DefaultBufferSize),
		commands: make(chan telemetry.Command, 4),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Rig returns the simulated hardware.
func (m *Mock) Rig() *sim.Rig {
	return m.rig
}

// Connect starts the simulation.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return ErrConnected
	}
	if m.ctx.Err() != nil {
		return ErrClosed
	}

	m.connected = true
	m.done = make(chan struct{})
	go m.run(m.done)
	return nil
}

// Close stops the simulation and closes the frames channel.
func (m *Mock) Close() error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	m.connected = false
	done := m.done
	m.mu.Unlock()

	<-done
	return nil
}

// Frames returns the channel of produced frames.
func (m *Mock) Frames() <-chan telemetry.Frame {
	return m.frames
}

// Send queues a command.
func (m *Mock) Send(cmd telemetry.Command) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return ErrNotConnected
	}
	if _, err := telemetry.ParseCommand(string(cmd)); err != nil {
		return err
	}

	select {
	case m.commands <- cmd:
		return nil
	default:
		return fmt.Errorf("command queue full, dropping %s", cmd)
	}
}

// IsConnected returns whether the simulation runs.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *Mock) run(done chan struct{}) {
	defer close(done)
	defer close(m.frames)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case cmd := <-m.commands:
			frame := m.execute(cmd)
			select {
			case m.frames <- frame:
			case <-m.ctx.Done():
				return
			}
		case <-ticker.C:
			select {
			case m.frames <- m.telemetry():
			default:
				// Channel full, skip
			}
		}
	}
}

func (m *Mock) telemetry() telemetry.Frame {
	return m.atu.Telemetry(time.Now())
}

func (m *Mock) execute(cmd telemetry.Command) telemetry.Frame {
	m.log.Infof(component, "executing %s", cmd)
	f := m.atu.Execute(time.Now, cmd)
	if !f.Errors.OK() {
		m.log.Warnf(component, "%s: %s", cmd, f.Errors)
	}
	return f
}
