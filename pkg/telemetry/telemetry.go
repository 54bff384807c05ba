// Package telemetry is the line protocol between the tuner firmware and
// the host tools.
//
// The firmware emits one frame per line:
//
//	unix_micros,fwd_volts,rev_volts,swr,freq_khz,relay_word_hex,errors_hex
//
// The line answering a command is prefixed with ResultMarker and appends
//
//	comparisons,stored
//
// the number of comparisons the command took and 1 when the solution was
// written to memory. The host sends single line commands, see Command.
package telemetry

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/itohio/goatu/pkg/relays"
	"github.com/itohio/goatu/pkg/rf"
	"github.com/itohio/goatu/pkg/tuning"
)

const fields = 7

// ResultMarker prefixes the frame reporting the outcome of a command.
const ResultMarker = '='

// Frame is one telemetry line.
type Frame struct {
	Timestamp    time.Time
	ForwardVolts float32
	ReverseVolts float32
	SWR          float32
	FrequencyKHz uint16
	Relays       relays.Config
	Errors       tuning.Errors
	Result       bool // answers a command
	Comparisons  int  // result frames only
	Stored       bool // result frames only
}

// FrameOf builds a frame from a measurement.
func FrameOf(ts time.Time, m rf.Measurement, c relays.Config, errs tuning.Errors) Frame {
	return Frame{
		Timestamp:    ts,
		ForwardVolts: m.ForwardVolts,
		ReverseVolts: m.ReverseVolts,
		SWR:          m.SWR,
		FrequencyKHz: m.FrequencyKHz,
		Relays:       c,
		Errors:       errs,
	}
}

func (f Frame) String() string {
	return fmt.Sprintf("%s f=%dkHz fwd=%.3fV rev=%.3fV swr=%.2f %s",
		f.Timestamp.Format("15:04:05.000"), f.FrequencyKHz, f.ForwardVolts, f.ReverseVolts, f.SWR, f.Relays)
}

// Format renders f as a protocol line without the trailing newline.
func Format(f Frame) string {
	line := fmt.Sprintf("%d,%.3f,%.3f,%.2f,%d,%04x,%02x",
		f.Timestamp.UnixMicro(), f.ForwardVolts, f.ReverseVolts, f.SWR, f.FrequencyKHz, f.Relays.Pack(), uint8(f.Errors))
	if f.Result {
		stored := 0
		if f.Stored {
			stored = 1
		}
		return fmt.Sprintf("%c%s,%d,%d", ResultMarker, line, f.Comparisons, stored)
	}
	return line
}

// Parse parses a protocol line.
func Parse(line string) (Frame, error) {
	line = strings.TrimSpace(line)
	result := strings.HasPrefix(line, string(ResultMarker))
	if result {
		line = line[1:]
	}

	parts := strings.Split(line, ",")
	if len(parts) != fields && !(result && len(parts) <= fields+2) {
		return Frame{}, fmt.Errorf("invalid line format: expected %d comma-separated values, got %d", fields, len(parts))
	}

	var comparisons int
	if len(parts) > fields {
		n, err := strconv.ParseUint(parts[fields], 10, 16)
		if err != nil {
			return Frame{}, fmt.Errorf("invalid comparisons: %w", err)
		}
		comparisons = int(n)
	}

	var stored bool
	if len(parts) > fields+1 {
		switch parts[fields+1] {
		case "0":
		case "1":
			stored = true
		default:
			return Frame{}, fmt.Errorf("invalid stored flag %q", parts[fields+1])
		}
	}

	micros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	var volts [3]float32
	for i, name := range []string{"forward volts", "reverse volts", "swr"} {
		v, err := strconv.ParseFloat(parts[1+i], 32)
		if err != nil {
			return Frame{}, fmt.Errorf("invalid %s: %w", name, err)
		}
		if v < 0 {
			return Frame{}, fmt.Errorf("%s out of range: %v", name, v)
		}
		volts[i] = float32(v)
	}

	khz, err := strconv.ParseUint(parts[4], 10, 16)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid frequency: %w", err)
	}

	word, err := strconv.ParseUint(parts[5], 16, 16)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid relay word: %w", err)
	}

	errs, err := strconv.ParseUint(parts[6], 16, 8)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid errors: %w", err)
	}

	return Frame{
		Timestamp:    time.UnixMicro(micros),
		ForwardVolts: volts[0],
		ReverseVolts: volts[1],
		SWR:          volts[2],
		FrequencyKHz: uint16(khz),
		Relays:       relays.Unpack(uint16(word)),
		Errors:       tuning.Errors(errs),
		Result:       result,
		Comparisons:  comparisons,
		Stored:       stored,
	}, nil
}

// Command is a host to firmware command.
type Command string

const (
	FullTune   Command = "T"
	MemoryTune Command = "M"
	Bypass     Command = "B"
	AntennaA   Command = "A0"
	AntennaB   Command = "A1"
)

// ParseCommand validates a command line.
func ParseCommand(line string) (Command, error) {
	c := Command(strings.ToUpper(strings.TrimSpace(line)))
	switch c {
	case FullTune, MemoryTune, Bypass, AntennaA, AntennaB:
		return c, nil
	}
	return "", fmt.Errorf("unknown command %q", line)
}
