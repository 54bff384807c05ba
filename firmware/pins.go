//go:build tinygo

package main

import (
	"machine"
	"time"
)

const (
	// Sampling configuration
	TELEMETRY_INTERVAL = 100 * time.Millisecond // Telemetry line rate
	RF_SAMPLES         = 32                     // Raw readings averaged per measurement
	FREQ_SAMPLES       = 64                     // Periods averaged per frequency reading

	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)

	// Directional coupler detector pins
	PIN_FWD_ADC = machine.A1
	PIN_REV_ADC = machine.A2

	// Pre-divided RF input for the frequency counter
	PIN_FREQ = machine.D7

	// Relay shift registers (two 74HC595 on SPI0)
	PIN_RELAY_LATCH = machine.D3
	RELAY_SPI_FREQ  = 1000000

	// Frequency counter timing. The timer counts microseconds, the RF input is
	// divided by PRE_DIVIDER ahead of the pin.
	TIMER_CLOCK_HZ = 1000000
	PRE_DIVIDER    = 256
	MAGIC_NUMBER   = TIMER_CLOCK_HZ * PRE_DIVIDER / 1000

	// Flash: the solution table lives at the start of the user data area.
	FLASH_TABLE_OFFSET = 0
	FLASH_TABLE_SIZE   = 8192

	// Serial configuration
	// Format "unix_micros,fwd,rev,swr,khz,relays,errors\n", ~50 bytes max per line
	// 10 lines/sec * 50 bytes/line = 500 bytes/sec, far below USB CDC throughput.
	UART_BAUD_RATE = 115200
)
