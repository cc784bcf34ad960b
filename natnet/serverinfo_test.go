package natnet

import (
	"bytes"
	"encoding/binary"
	"testing"

	"go.viam.com/test"
)

func buildServerInfo(name string, natnet [4]uint8, freq uint64) []byte {
	var b bytes.Buffer
	le := binary.LittleEndian

	nameBuf := make([]byte, appNameLen)
	copy(nameBuf, name)
	b.Write(nameBuf)
	b.Write([]byte{3, 1, 0, 0}) // app version
	b.Write(natnet[:])
	binary.Write(&b, le, freq)
	binary.Write(&b, le, uint16(dataPort))
	b.WriteByte(1)
	b.Write([]byte{239, 255, 42, 99})
	return b.Bytes()
}

func TestDecodeServerInfo(t *testing.T) {
	payload := buildServerInfo("Motive", [4]uint8{4, 1, 0, 0}, 10000000)

	info, err := decodeServerInfo(payload)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.AppName, test.ShouldEqual, "Motive")
	test.That(t, info.NatNetVersion[0], test.ShouldEqual, uint8(4))
	test.That(t, info.Version(), test.ShouldResemble, Version{Major: 4, Minor: 1})
	test.That(t, info.HighResClockFrequency, test.ShouldEqual, uint64(10000000))
	test.That(t, info.DataPort, test.ShouldEqual, uint16(1511))
	test.That(t, info.Multicast, test.ShouldBeTrue)
	test.That(t, info.MulticastGroup.String(), test.ShouldEqual, "239.255.42.99")
}

func TestDecodeServerInfoTruncated(t *testing.T) {
	payload := buildServerInfo("Motive", [4]uint8{4, 0, 0, 0}, 1)
	_, err := decodeServerInfo(payload[:100])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConnectPacket(t *testing.T) {
	test.That(t, connectPacket(), test.ShouldResemble, []byte{0x00, 0x00, 0x00, 0x00})
}
