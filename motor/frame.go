package motor

import "github.com/pkg/errors"

// Command opcodes understood by the drive firmware.
const (
	opStop                  = 0x80
	opPause                 = 0x81
	opResume                = 0x88
	opClearLoops            = 0x93
	opReadState             = 0x9C
	opSetPower              = 0xA0
	opSetVelocity           = 0xA2
	opSetMultiLoopPosition1 = 0xA3
	opSetMultiLoopPosition2 = 0xA4
)

const frameHeader = 0x3E

// Reply lengths. Commands that only mutate drive state are acknowledged with
// a bare header; motion commands reply with telemetry.
const (
	ackLen       = 5
	telemetryLen = 13
)

// checksum is the 8-bit unsigned sum of b.
func checksum(b []byte) byte {
	var cs byte
	for _, v := range b {
		cs += v
	}
	return cs
}

// newFrame assembles a command frame: header, opcode, motor ID, payload
// length, header checksum, payload and payload checksum. Frames without a
// payload omit the payload checksum.
func newFrame(op byte, motorID byte, payload []byte) []byte {
	f := make([]byte, 0, 5+len(payload)+1)
	f = append(f, frameHeader, op, motorID, byte(len(payload)))
	f = append(f, checksum(f))
	if len(payload) > 0 {
		f = append(f, payload...)
		f = append(f, checksum(payload))
	}
	return f
}

// verifyReply checks the header checksum and, for telemetry replies, the
// data checksum. A mismatch means the link is corrupt and the run must stop.
func verifyReply(reply []byte) error {
	if len(reply) < ackLen {
		return errors.Errorf("reply too short: %d bytes", len(reply))
	}
	if got, want := reply[4], checksum(reply[:4]); got != want {
		return errors.Errorf("reply header checksum mismatch: got %#02x want %#02x", got, want)
	}
	if len(reply) == telemetryLen {
		if got, want := reply[12], checksum(reply[5:12]); got != want {
			return errors.Errorf("reply data checksum mismatch: got %#02x want %#02x", got, want)
		}
	}
	return nil
}

func leU16(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}

func leU32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func leU64(v uint64) []byte {
	return []byte{
		byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
		byte(v >> 32), byte(v >> 40), byte(v >> 48), byte(v >> 56),
	}
}
