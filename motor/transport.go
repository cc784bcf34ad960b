// Package motor drives the single smart serial wheel motor. Commands are
// framed with 8-bit checksums and answered synchronously by the drive, either
// with a bare acknowledgement or with a telemetry record that is latched as
// the motor state.
//
// The transport is deliberately not thread-safe: the control loop owns it
// exclusively and a misbehaving drive must stop the run rather than linger.
package motor

import (
	"io"
	"math"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/wjxway/rollbot/timeutil"
)

// DefaultSerialPath is where the drive enumerates on the robot's Pi.
const DefaultSerialPath = "/dev/ttyS0"

const (
	baudRate      = 115200
	defaultID     = 0x01
	replyDeadline = 50 * time.Millisecond
)

// State is the last telemetry parsed from the drive.
type State struct {
	// TimestampUS is the monotonic time at which the telemetry was parsed.
	TimestampUS int64
	// EncoderPosition is the single-turn encoder value, 0..32767.
	EncoderPosition uint16
	// Velocity is the measured motor velocity in degrees per second.
	Velocity int16
}

// inputDrainer is implemented by ports whose pending receive bytes can be
// discarded before a fresh transaction.
type inputDrainer interface {
	ResetInputBuffer() error
}

// Transport is the synchronous request/response layer over the drive's
// serial link.
type Transport struct {
	port    io.ReadWriteCloser
	motorID byte
	logger  golog.Logger
	state   State
}

// Open opens the drive's serial port at 115200 8-N-1 and returns a transport
// bound to it.
func Open(path string, logger golog.Logger) (*Transport, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open motor serial port %s", path)
	}
	if err := port.SetReadTimeout(replyDeadline); err != nil {
		return nil, errors.Wrap(err, "set motor serial read timeout")
	}
	return NewTransport(port, logger), nil
}

// NewTransport wraps an already opened port. Tests inject an in-memory port
// here.
func NewTransport(port io.ReadWriteCloser, logger golog.Logger) *Transport {
	return &Transport{port: port, motorID: defaultID, logger: logger}
}

// State returns the last latched telemetry.
func (t *Transport) State() State {
	return t.state
}

// CurrentPosition dead-reckons the single-turn motor position in radians at
// nowUS from the last telemetry, advancing it by the measured velocity.
func (t *Transport) CurrentPosition(nowUS int64) float32 {
	rounds := float64(t.state.EncoderPosition)/encoderResolution +
		float64(nowUS-t.state.TimestampUS)*float64(t.state.Velocity)/360.0*1e-6
	return float32((rounds - math.Floor(rounds)) * 2 * math.Pi)
}

// Stop halts the motor and wipes its internal state.
func (t *Transport) Stop() error {
	_, err := t.transact(newFrame(opStop, t.motorID, nil), ackLen)
	return err
}

// Pause halts the motor but preserves its internal state.
func (t *Transport) Pause() error {
	_, err := t.transact(newFrame(opPause, t.motorID, nil), ackLen)
	return err
}

// Resume re-enables the motor from a paused state.
func (t *Transport) Resume() error {
	_, err := t.transact(newFrame(opResume, t.motorID, nil), ackLen)
	return err
}

// ClearLoops zeroes the drive's multi-turn counter.
func (t *Transport) ClearLoops() error {
	_, err := t.transact(newFrame(opClearLoops, t.motorID, nil), ackLen)
	return err
}

// ReadState requests telemetry without commanding motion.
func (t *Transport) ReadState() error {
	return t.motionCommand(newFrame(opReadState, t.motorID, nil))
}

// SetPower commands open-loop power in [-1000, 1000].
func (t *Transport) SetPower(power int16) error {
	return t.motionCommand(newFrame(opSetPower, t.motorID, leU16(uint16(power))))
}

// SetVelocity commands a closed-loop velocity target in 0.01 deg/s units.
func (t *Transport) SetVelocity(vel int32) error {
	return t.motionCommand(newFrame(opSetVelocity, t.motorID, leU32(uint32(vel))))
}

// SetMultiLoopPosition1 commands an absolute multi-turn position in 0.01 deg
// units.
func (t *Transport) SetMultiLoopPosition1(pos int64) error {
	return t.motionCommand(newFrame(opSetMultiLoopPosition1, t.motorID, leU64(uint64(pos))))
}

// SetMultiLoopPosition2 commands an absolute multi-turn position in 0.01 deg
// units with a velocity cap in 0.01 deg/s units.
func (t *Transport) SetMultiLoopPosition2(pos int64, maxSpeed uint32) error {
	payload := append(leU64(uint64(pos)), leU32(maxSpeed)...)
	return t.motionCommand(newFrame(opSetMultiLoopPosition2, t.motorID, payload))
}

// Close releases the serial port.
func (t *Transport) Close() error {
	return t.port.Close()
}

// motionCommand sends a frame expecting a telemetry reply and latches the
// parsed state.
func (t *Transport) motionCommand(frame []byte) error {
	reply, err := t.transact(frame, telemetryLen)
	if err != nil {
		return err
	}
	t.state = State{
		TimestampUS:     timeutil.NowUS(),
		Velocity:        int16(uint16(reply[8]) | uint16(reply[9])<<8),
		EncoderPosition: uint16(reply[10]) | uint16(reply[11])<<8,
	}
	return nil
}

// transact drains stale input, writes one frame and blocks for replyLen
// bytes. The drive answers within a millisecond when healthy; a reply that
// does not complete within the deadline fails the transaction, and the
// caller is expected to treat that as fatal.
func (t *Transport) transact(frame []byte, replyLen int) ([]byte, error) {
	if d, ok := t.port.(inputDrainer); ok {
		if err := d.ResetInputBuffer(); err != nil {
			return nil, errors.Wrap(err, "drain motor serial input")
		}
	}
	if _, err := t.port.Write(frame); err != nil {
		return nil, errors.Wrap(err, "write motor command")
	}

	reply := make([]byte, replyLen)
	deadline := time.Now().Add(replyDeadline)
	for off := 0; off < replyLen; {
		n, err := t.port.Read(reply[off:])
		if err != nil {
			return nil, errors.Wrap(err, "read motor reply")
		}
		off += n
		if n == 0 && time.Now().After(deadline) {
			return nil, errors.Errorf("motor reply timed out: %d of %d bytes after %s", off, replyLen, replyDeadline)
		}
	}
	if err := verifyReply(reply); err != nil {
		return nil, err
	}
	return reply, nil
}
