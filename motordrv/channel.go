// Package motordrv defines the hardware setpoint/telemetry seam
// ArmController's executor issues hardware-mode setpoints across. The physical
// motor driver layer itself (servo firmware, protocol internals) is out of
// scope for this repository, but a concrete adapter is still needed at
// this boundary so the service links and runs: Channel abstracts it, with
// a simulated implementation for sim mode and a real serial-servo-backed
// implementation for hardware mode.
package motordrv

import (
	"context"

	"armctl/armmodel"
)

// Channel is the boundary ArmController issues raw-unit joint setpoints
// across. ReadAngles exposes raw-unit telemetry; ArmController itself
// receives telemetry on the arm_position topic and does not call it.
type Channel interface {
	// SetAngles issues a raw-unit setpoint for every joint.
	SetAngles(ctx context.Context, raw armmodel.Configuration) error
	// ReadAngles returns the most recent raw-unit telemetry.
	ReadAngles(ctx context.Context) (armmodel.Configuration, error)
	Close() error
}

// SimChannel is an in-memory echo channel: it stores the last commanded
// setpoint and returns it as telemetry, the way sim-mode skips hardware
// entirely.
type SimChannel struct {
	last armmodel.Configuration
}

// NewSimChannel builds a SimChannel starting at the zero configuration.
func NewSimChannel() *SimChannel {
	return &SimChannel{}
}

// SetAngles records raw as the channel's current state.
func (c *SimChannel) SetAngles(ctx context.Context, raw armmodel.Configuration) error {
	c.last = raw
	return nil
}

// ReadAngles returns the most recently commanded setpoint.
func (c *SimChannel) ReadAngles(ctx context.Context) (armmodel.Configuration, error) {
	return c.last, nil
}

// Close is a no-op for SimChannel.
func (c *SimChannel) Close() error { return nil }
