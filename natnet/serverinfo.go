package natnet

import (
	"bytes"
	"net"

	"github.com/pkg/errors"
)

const appNameLen = 256

// ServerInfo is the descriptor a NatNet server sends in reply to CONNECT.
type ServerInfo struct {
	AppName               string
	AppVersion            [4]uint8
	NatNetVersion         [4]uint8
	HighResClockFrequency uint64
	DataPort              uint16
	Multicast             bool
	MulticastGroup        net.IP
}

// Version returns the server's NatNet protocol version.
func (i ServerInfo) Version() Version {
	return Version{Major: int(i.NatNetVersion[0]), Minor: int(i.NatNetVersion[1])}
}

// decodeServerInfo parses a server-info payload (the bytes after the packet
// header).
func decodeServerInfo(payload []byte) (ServerInfo, error) {
	r := &byteReader{buf: payload}
	var info ServerInfo

	name := r.take(appNameLen)
	if idx := bytes.IndexByte(name, 0); idx >= 0 {
		name = name[:idx]
	}
	info.AppName = string(name)

	copy(info.AppVersion[:], r.take(4))
	copy(info.NatNetVersion[:], r.take(4))
	info.HighResClockFrequency = r.uint64()
	info.DataPort = r.uint16()
	info.Multicast = r.take(1)[0] != 0
	group := r.take(4)
	info.MulticastGroup = net.IPv4(group[0], group[1], group[2], group[3])

	if r.short {
		return ServerInfo{}, errors.Errorf("server info truncated at %d bytes", len(payload))
	}
	return info, nil
}
