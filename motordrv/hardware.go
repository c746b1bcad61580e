package motordrv

import (
	"context"
	"strings"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/logging"

	"armctl/armmodel"
)

// HardwareChannel drives six Feetech STS3215 servos over a serial bus,
// one per joint, converting between the Channel's raw-unit contract and
// the servo's native 0-4095 position register.
type HardwareChannel struct {
	bus    *feetech.Bus
	servos [armmodel.NumJoints]*feetech.Servo
	logger logging.Logger
}

// HardwareConfig names the serial port and bus parameters for a
// HardwareChannel.
type HardwareConfig struct {
	Port     string
	Baudrate int
	Timeout  time.Duration
}

// NewHardwareChannel opens the serial bus at cfg.Port and binds one servo
// per joint, IDs 1..6 in joint-A..F order, matching the teacher's
// servo-numbering convention.
func NewHardwareChannel(cfg HardwareConfig, logger logging.Logger) (*HardwareChannel, error) {
	if cfg.Baudrate == 0 {
		cfg.Baudrate = 1000000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}

	busConfig := feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: cfg.Baudrate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  cfg.Timeout,
	}

	bus, err := feetech.NewBus(busConfig)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open feetech bus on %s", cfg.Port)
	}

	hc := &HardwareChannel{bus: bus, logger: logger}
	for i := 0; i < armmodel.NumJoints; i++ {
		hc.servos[i] = feetech.NewServo(bus, i+1, &feetech.ModelSTS3215)
	}
	return hc, nil
}

// SetAngles writes raw[i] (0-4095 servo units) to joint i's servo.
func (h *HardwareChannel) SetAngles(ctx context.Context, raw armmodel.Configuration) error {
	for i, servo := range h.servos {
		if err := servo.SetPosition(ctx, int(raw[i])); err != nil {
			return errors.Wrapf(err, "failed to set position on joint %s", armmodel.JointName(i))
		}
	}
	return nil
}

// ReadAngles reads the present position register from every joint's
// servo.
func (h *HardwareChannel) ReadAngles(ctx context.Context) (armmodel.Configuration, error) {
	var out armmodel.Configuration
	for i, servo := range h.servos {
		pos, err := servo.Position(ctx)
		if err != nil {
			return out, errors.Wrapf(err, "failed to read position on joint %s", armmodel.JointName(i))
		}
		out[i] = float64(pos)
	}
	return out, nil
}

// Close releases the underlying serial bus.
func (h *HardwareChannel) Close() error {
	return h.bus.Close()
}

// DiscoverCandidatePorts lists serial ports whose name matches common
// USB-serial naming patterns, the way the teacher's discovery component
// filters candidate ports before probing them.
func DiscoverCandidatePorts() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate serial ports")
	}

	var candidates []string
	for _, p := range ports {
		name := p.Name
		if strings.Contains(name, "usbmodem") || strings.Contains(name, "usbserial") ||
			strings.Contains(name, "ttyUSB") || strings.Contains(name, "ttyACM") {
			candidates = append(candidates, name)
		}
	}
	return candidates, nil
}
