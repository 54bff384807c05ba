// Package link is the host side of the tuner telemetry link: a serial
// connection to the firmware or a simulated tuner behind the same interface.
package link

import (
	"context"
	"errors"

	"github.com/itohio/goatu/pkg/telemetry"
)

var (
	ErrConnected    = errors.New("already connected")
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("link closed")
)

// Device defines the interface for tuner links (real or simulated).
type Device interface {
	Connect() error
	Close() error
	Frames() <-chan telemetry.Frame
	Send(cmd telemetry.Command) error
	IsConnected() bool
}

var (
	_ Device = (*Serial)(nil)
	_ Device = (*Mock)(nil)
)

// Execute sends cmd and waits for its result frame. Telemetry frames
// arriving in the meantime are skipped.
func Execute(ctx context.Context, dev Device, cmd telemetry.Command) (telemetry.Frame, error) {
	if err := dev.Send(cmd); err != nil {
		return telemetry.Frame{}, err
	}
	frames := dev.Frames()
	for {
		select {
		case <-ctx.Done():
			return telemetry.Frame{}, ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return telemetry.Frame{}, ErrClosed
			}
			if f.Result {
				return f, nil
			}
		}
	}
}
