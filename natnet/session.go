// Package natnet ingests rigid-body pose samples streamed by an OptiTrack
// Motive server over the NatNet UDP protocol. Only the first rigid body of
// each frame-of-data is decoded; valid samples are published to a wait-free
// latest-pose ring read by the control loop.
package natnet

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"sync"
	"syscall"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/wjxway/rollbot/timeutil"
)

const (
	commandPort    = 1510
	dataPort       = 1511
	multicastGroup = "239.255.42.99"

	recvBufferSize  = 1 << 20
	datagramSize    = 20000
	connectAttempts = 5
)

// Session bring-up failure codes, reported to the operator before the
// process exits.
const (
	CodeIPParse = iota + 1
	CodeCommandSocket
	CodeDataSocketOptions
	CodeDataBind
	CodeMulticastJoin
	CodeConnectSend
)

// InitError wraps a session bring-up failure with its subsystem code.
type InitError struct {
	Code int
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("mocap init failed (code %d): %s", e.Code, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// Config locates the server and the local streaming interface.
type Config struct {
	// ServerIP is the Motive host, dotted quad.
	ServerIP string
	// LocalIP selects the interface that joins the multicast group.
	LocalIP string
	// FrameLogPath, when non-empty, receives one "frame,local_time_us" line
	// per decoded frame. Write failures never disturb ingest.
	FrameLogPath string
}

// Session owns the command and data sockets and the latest-pose ring.
type Session struct {
	logger     golog.Logger
	cmdConn    *net.UDPConn
	dataConn   *net.UDPConn
	serverAddr *net.UDPAddr

	ring PoseRing

	mu        sync.Mutex
	version   Version
	clockFreq uint64

	frameLog  *os.File
	frameLogW *bufio.Writer

	cancel                  context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
}

// NewSession opens both sockets, joins the data multicast group and sends
// the initial CONNECT. Failures carry an InitError code.
func NewSession(cfg Config, logger golog.Logger) (*Session, error) {
	serverIP := net.ParseIP(cfg.ServerIP)
	if serverIP == nil {
		return nil, &InitError{CodeIPParse, errors.Errorf("bad server IP %q", cfg.ServerIP)}
	}
	localIP := net.ParseIP(cfg.LocalIP)
	if localIP == nil {
		return nil, &InitError{CodeIPParse, errors.Errorf("bad local IP %q", cfg.LocalIP)}
	}

	s := &Session{
		logger:     logger,
		version:    DefaultVersion,
		serverAddr: &net.UDPAddr{IP: serverIP, Port: commandPort},
	}

	cmdConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: localIP})
	if err != nil {
		return nil, &InitError{CodeCommandSocket, errors.Wrap(err, "command socket")}
	}
	s.cmdConn = cmdConn
	if err := cmdConn.SetReadBuffer(recvBufferSize); err != nil {
		logger.Warnw("could not size command receive buffer", "error", err)
	}

	dataConn, err := listenData()
	if err != nil {
		multierr.AppendInto(&err, s.closeSockets())
		return nil, err
	}
	s.dataConn = dataConn
	if err := dataConn.SetReadBuffer(recvBufferSize); err != nil {
		multierr.AppendInto(&err, s.closeSockets())
		return nil, &InitError{CodeDataSocketOptions, errors.Wrap(err, "data receive buffer")}
	}

	ifi, err := interfaceForIP(localIP)
	if err != nil {
		multierr.AppendInto(&err, s.closeSockets())
		return nil, &InitError{CodeMulticastJoin, err}
	}
	p := ipv4.NewPacketConn(dataConn)
	if err := p.JoinGroup(ifi, &net.UDPAddr{IP: net.ParseIP(multicastGroup)}); err != nil {
		multierr.AppendInto(&err, s.closeSockets())
		return nil, &InitError{CodeMulticastJoin, errors.Wrapf(err, "join %s on %s", multicastGroup, ifi.Name)}
	}

	if cfg.FrameLogPath != "" {
		f, err := os.Create(cfg.FrameLogPath)
		if err != nil {
			logger.Warnw("frame timestamp log disabled", "path", cfg.FrameLogPath, "error", err)
		} else {
			s.frameLog = f
			s.frameLogW = bufio.NewWriter(f)
		}
	}

	if err := s.sendConnect(); err != nil {
		multierr.AppendInto(&err, s.closeSockets())
		return nil, err
	}

	logger.Infow("mocap session up",
		"server", cfg.ServerIP, "interface", ifi.Name, "group", multicastGroup)
	return s, nil
}

// listenData binds the data socket on all interfaces with SO_REUSEADDR so
// multiple clients on the machine can stream.
func listenData() (*net.UDPConn, error) {
	var optErr error
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				optErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", dataPort))
	if err != nil {
		return nil, &InitError{CodeDataBind, errors.Wrap(err, "data socket")}
	}
	if optErr != nil {
		multierr.AppendInto(&optErr, pc.Close())
		return nil, &InitError{CodeDataSocketOptions, errors.Wrap(optErr, "data socket options")}
	}
	return pc.(*net.UDPConn), nil
}

// sendConnect transmits the CONNECT request, retrying on send failure.
func (s *Session) sendConnect() error {
	var lastErr error
	for i := 0; i < connectAttempts; i++ {
		if _, lastErr = s.cmdConn.WriteToUDP(connectPacket(), s.serverAddr); lastErr == nil {
			return nil
		}
	}
	return &InitError{CodeConnectSend, errors.Wrap(lastErr, "connect request")}
}

// Start launches the data receive loop and the command channel handler.
func (s *Session) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.activeBackgroundWorkers.Add(2)
	utils.ManagedGo(func() { s.dataLoop(ctx) }, s.activeBackgroundWorkers.Done)
	utils.ManagedGo(func() { s.commandLoop(ctx) }, s.activeBackgroundWorkers.Done)
}

// LatestPose returns the most recent published sample.
func (s *Session) LatestPose() PoseSample {
	return s.ring.Latest()
}

// Version returns the negotiated NatNet version.
func (s *Session) Version() Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// ClockFrequency returns the server's high-resolution clock rate in ticks
// per second, or zero before a server-info reply arrives.
func (s *Session) ClockFrequency() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clockFreq
}

// dataLoop blocks on the data socket and publishes every sample that passes
// the gate. It runs pinned to an OS thread at real-time priority; transient
// receive errors are absorbed.
func (s *Session) dataLoop(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	setRealtimePriority(s.logger)

	buf := make([]byte, datagramSize)
	for {
		n, err := s.dataConn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		s.handleDatagram(buf[:n])
	}
}

// commandLoop services the command socket: server-info negotiates the
// protocol version, the rest is logged. It is idle after startup.
func (s *Session) commandLoop(ctx context.Context) {
	buf := make([]byte, datagramSize)
	for {
		n, _, err := s.cmdConn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if n < packetHeaderLen {
			continue
		}
		r := &byteReader{buf: buf[:n]}
		switch id := r.uint16(); id {
		case msgServerInfo:
			r.uint16() // payload length
			info, err := decodeServerInfo(buf[packetHeaderLen:n])
			if err != nil {
				s.logger.Warnw("bad server info", "error", err)
				continue
			}
			s.mu.Lock()
			s.version = info.Version()
			s.clockFreq = info.HighResClockFrequency
			s.mu.Unlock()
			s.logger.Infow("server info",
				"app", info.AppName,
				"natnet", fmt.Sprintf("%d.%d", info.NatNetVersion[0], info.NatNetVersion[1]),
				"clockFrequency", info.HighResClockFrequency)
		case msgFrameOfData, msgModelDef:
			// data frames belong to the data socket; publishing from here
			// would break the ring's single-producer contract
			s.logger.Debugw("data message on command channel ignored", "id", id)
		case msgMessageString:
			s.logger.Infow("server message", "text", string(buf[packetHeaderLen:n]))
		case msgResponse:
			s.logger.Debugw("command response", "bytes", n-packetHeaderLen)
		case msgUnrecognized:
			s.logger.Warn("server did not recognize our request")
		}
	}
}

func (s *Session) handleDatagram(b []byte) {
	sample, ok := DecodeFrame(b, s.Version())
	if !ok {
		return
	}
	s.logFrame(sample.FrameNumber)
	if sample.Valid() {
		s.ring.Publish(sample)
	}
}

func (s *Session) logFrame(frame int32) {
	if s.frameLogW == nil {
		return
	}
	// best effort; the ingest path never stalls on disk
	fmt.Fprintf(s.frameLogW, "%d,%d\n", frame, timeutil.NowUS())
	s.frameLogW.Flush()
}

func (s *Session) closeSockets() error {
	var err error
	if s.cmdConn != nil {
		multierr.AppendInto(&err, s.cmdConn.Close())
	}
	if s.dataConn != nil {
		multierr.AppendInto(&err, s.dataConn.Close())
	}
	return err
}

// Close stops both loops and releases the sockets and the frame log.
func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.closeSockets()
	s.activeBackgroundWorkers.Wait()
	if s.frameLog != nil {
		multierr.AppendInto(&err, s.frameLogW.Flush())
		multierr.AppendInto(&err, s.frameLog.Close())
	}
	return err
}

// interfaceForIP finds the network interface carrying ip.
func interfaceForIP(ip net.IP) (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, errors.Wrap(err, "list interfaces")
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok && ipn.IP.Equal(ip) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, errors.Errorf("no interface has address %s", ip)
}
