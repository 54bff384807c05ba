//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"time"

	"github.com/itohio/goatu/pkg/atu"
	"github.com/itohio/goatu/pkg/clock"
	"github.com/itohio/goatu/pkg/config"
	"github.com/itohio/goatu/pkg/telemetry"
)

var (
	uart = machine.Serial

	tuner *atu.ATU

	// Timing
	lastTelemetry time.Time

	// Serial buffer for reading lines
	serialBuffer [8]byte
	serialPos    int
)

func main() {
	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	cfg := config.Default()
	cfg.RF.Samples = RF_SAMPLES
	cfg.Frequency.MagicNumber = MAGIC_NUMBER
	cfg.Frequency.Samples = FREQ_SAMPLES
	cfg.Memory.TableOffset = 0

	relayPort, err := newRelayPort()
	if err != nil {
		fail(err)
	}
	timer := &tickTimer{}
	drivers := atu.Drivers{
		Relays: relayPort,
		ADC:    newDetector(),
		Input:  newEdgeInput(),
		Timer:  timer,
		Clock:  clock.NewSystem(),
	}
	if region, err := newFlashRegion(FLASH_TABLE_OFFSET, FLASH_TABLE_SIZE); err == nil {
		drivers.Flash = region
	} else {
		println("flash unavailable:", err.Error())
	}

	tuner, err = atu.New(cfg, drivers, nil)
	if err != nil {
		fail(err)
	}

	// Start from a known relay state
	execute(telemetry.Bypass)

	lastTelemetry = time.Now()

	// Main loop
	for {
		now := time.Now()

		// Check for serial input (non-blocking)
		processSerial()

		if now.Sub(lastTelemetry) >= TELEMETRY_INTERVAL {
			emit(tuner.Telemetry(now))
			lastTelemetry = now
		}

		// Small delay to prevent tight loop
		time.Sleep(100 * time.Microsecond)
	}
}

func fail(err error) {
	for {
		println("fatal:", err.Error())
		time.Sleep(time.Second)
	}
}

func emit(f telemetry.Frame) {
	uart.Write([]byte(telemetry.Format(f) + "\n"))
}

func processSerial() {
	// Read available bytes from serial
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		// Check for newline (end of line)
		if data == '\n' || data == '\r' {
			if serialPos > 0 {
				if cmd, err := telemetry.ParseCommand(string(serialBuffer[:serialPos])); err == nil {
					execute(cmd)
				}
			}
			// Reset buffer regardless of length
			serialPos = 0
			continue
		}

		if serialPos < len(serialBuffer) {
			serialBuffer[serialPos] = data
			serialPos++
		}
	}
}

func execute(cmd telemetry.Command) {
	emit(tuner.Execute(time.Now, cmd))
}
