package icmp

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/nstun/forwarder/pkg/socket"
)

// A pseudoSocket is the ICMP carrier's notion of a bound "port": either the
// engine's single listen socket (roleServer, an explicit configured port)
// or one peer's private upstream socket (roleClient, an ephemeral port
// reserved for the lifetime of the peer). Both share the one raw ICMP
// socket per IP family via the carrier's registry and demultiplex loop.
type pseudoSocket struct {
	family int
	port   uint16
	role   role

	mailbox  chan inboundFrame
	closeCh  chan struct{}
	signaled atomic.Bool
}

type role int

const (
	roleServer role = iota
	roleClient
)

type inboundFrame struct {
	payload  []byte
	peerIP   net.IP
	peerPort uint16
}

// carrier owns the one raw ICMP socket for an IP family and the registry
// that tells its receive loop which pseudoSocket a given inbound frame
// belongs to. It is started lazily on first use and, per the engine's
// destruction-order contract, never torn down: closing one peer's
// pseudoSocket only removes it from the registry, it never closes the
// shared raw socket underneath every other peer on the same family.
type carrier struct {
	once sync.Once
	err  error
	conn *net.IPConn

	mu       sync.Mutex
	registry map[uint16]*pseudoSocket

	ready chan uint16
}

var (
	v4carrier = &carrier{registry: make(map[uint16]*pseudoSocket), ready: make(chan uint16, 256)}
	v6carrier = &carrier{registry: make(map[uint16]*pseudoSocket), ready: make(chan uint16, 256)}
)

func familyCarrier(family int) *carrier {
	if family == 6 {
		return v6carrier
	}
	return v4carrier
}

func familyOf(addr netip.Addr) int {
	if addr.Is4() || addr.Is4In6() {
		return 4
	}
	return 6
}

func toNetIP(addr netip.Addr) net.IP {
	return net.IP(addr.AsSlice())
}

func (c *carrier) ensureStarted(family int) error {
	c.once.Do(func() {
		network, addr := "ip4:icmp", "0.0.0.0"
		if family == 6 {
			network, addr = "ip6:ipv6-icmp", "::"
		}
		pc, err := net.ListenPacket(network, addr)
		if err != nil {
			c.err = fmt.Errorf("icmp: listen %s: %w", network, err)
			return
		}
		conn, ok := pc.(*net.IPConn)
		if !ok {
			c.err = fmt.Errorf("icmp: unexpected conn type %T for %s", pc, network)
			return
		}
		c.conn = conn
		go c.receiveLoop(family)
	})
	return c.err
}

// receiveLoop is the one per-family reader: every ICMP echo request/reply
// arriving on this host crosses it, regardless of which pseudoSocket it is
// ultimately destined for, since raw ICMP sockets have no kernel-level
// concept of ports to demultiplex on. Demultiplexing by the synthetic port
// carried in the identifier/sequence fields is this loop's entire job.
func (c *carrier) receiveLoop(family int) {
	buf := make([]byte, 65535)
	for {
		n, addr, err := c.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		data := buf[:n]

		// net.IPConn.ReadFrom normally removes the IPv4 header already;
		// strip it here only if one is still present (version nibble 4).
		if family == 4 && len(data) > 0 && data[0]>>4 == 4 {
			data, err = stripIPv4Header(data)
			if err != nil {
				continue
			}
		}

		frame, err := Decode(data, family)
		if err != nil {
			continue
		}

		// DstPort is always the addressee's own port, for both requests
		// and replies (see Frame's doc comment), so the registry is
		// always keyed on it; SrcPort is the peer's port, reported back
		// to the caller so a reply can be addressed to it in turn.
		key := frame.DstPort
		peerPort := frame.SrcPort

		c.mu.Lock()
		sock := c.registry[key]
		c.mu.Unlock()
		if sock == nil {
			continue
		}

		var peerIP net.IP
		if ipAddr, ok := addr.(*net.IPAddr); ok {
			peerIP = ipAddr.IP
		}

		select {
		case sock.mailbox <- inboundFrame{payload: frame.Payload, peerIP: peerIP, peerPort: peerPort}:
		default:
			// mailbox full: the owning peer is not keeping up, drop.
			continue
		}

		// The server socket is read directly and blockingly by the ingress
		// activity; only client-role (upstream) sockets are multiplexed
		// through the readiness facility egress polls.
		if sock.role == roleClient && sock.signaled.CompareAndSwap(false, true) {
			select {
			case c.ready <- sock.port:
			default:
			}
		}
	}
}

func (c *carrier) register(s *pseudoSocket) {
	c.mu.Lock()
	c.registry[s.port] = s
	c.mu.Unlock()
}

func (c *carrier) unregister(port uint16) {
	c.mu.Lock()
	delete(c.registry, port)
	c.mu.Unlock()
}

func (c *carrier) send(family int, localIP, dstIP net.IP, f Frame) error {
	b, err := Encode(f, family, localIP, dstIP)
	if err != nil {
		return err
	}
	_, err = c.conn.WriteTo(b, &net.IPAddr{IP: dstIP})
	return err
}

// reservePort opens a throwaway UDP socket bound to ":0" purely so the OS
// hands back an ephemeral port number nothing else in this process will be
// given; the ICMP pseudo-socket uses that number as its synthetic port and
// keeps the UDP socket open for its whole lifetime to hold the reservation.
func reservePort(family int) (*net.UDPConn, uint16, error) {
	network := "udp4"
	laddr := &net.UDPAddr{IP: net.IPv4zero}
	if family == 6 {
		network = "udp6"
		laddr = &net.UDPAddr{IP: net.IPv6unspecified}
	}
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, 0, fmt.Errorf("icmp: reserve port: %w", err)
	}
	return conn, uint16(conn.LocalAddr().(*net.UDPAddr).Port), nil
}

// icmpServer implements socket.Server over the ICMP carrier: the listen
// endpoint receives echo frames addressed to its configured port and
// answers with ECHO-REQUESTs by default, or with tagged ECHO-REPLYs when
// reflect is set, carrying the tunnelled datagram as the payload.
type icmpServer struct {
	c         *carrier
	sock      *pseudoSocket
	localAddr netip.AddrPort
	reflect   bool
}

// NewServer binds the ICMP carrier's listen side at addr's configured port.
// By default it answers with more ECHO-REQUESTs, matching the simpler
// deployments of §4.5's discipline; reflect switches it to answering with
// ECHO-REPLY (tagged, to survive the kernel's own auto-reply) so the
// traffic looks like an ordinary ping responder on the wire.
func NewServer(addr netip.AddrPort, reflect bool) (socket.Server, error) {
	family := familyOf(addr.Addr())
	c := familyCarrier(family)
	if err := c.ensureStarted(family); err != nil {
		return nil, err
	}

	s := &pseudoSocket{
		family:  family,
		port:    addr.Port(),
		role:    roleServer,
		mailbox: make(chan inboundFrame, 64),
		closeCh: make(chan struct{}),
	}
	c.register(s)

	return &icmpServer{c: c, sock: s, localAddr: addr, reflect: reflect}, nil
}

func (s *icmpServer) RecvFrom(buf []byte) (int, netip.AddrPort, error) {
	select {
	case fr := <-s.sock.mailbox:
		n := copy(buf, fr.payload)
		ip, ok := netip.AddrFromSlice(fr.peerIP)
		if !ok {
			return 0, netip.AddrPort{}, fmt.Errorf("icmp: malformed peer address")
		}
		return n, netip.AddrPortFrom(ip.Unmap(), fr.peerPort), nil
	case <-s.sock.closeCh:
		return 0, netip.AddrPort{}, fmt.Errorf("icmp: server socket closed")
	}
}

func (s *icmpServer) SendTo(buf []byte, addr netip.AddrPort) error {
	f := Frame{SrcPort: s.sock.port, DstPort: addr.Port(), Reply: s.reflect, Payload: buf}
	return s.c.send(s.sock.family, toNetIP(s.localAddr.Addr()), toNetIP(addr.Addr()), f)
}

func (s *icmpServer) LocalAddr() netip.AddrPort { return s.localAddr }

func (s *icmpServer) Close() error {
	s.c.unregister(s.sock.port)
	close(s.sock.closeCh)
	return nil
}

// icmpUpstream implements socket.Upstream over the ICMP carrier: it always
// plays the requester role, sending ECHO-REQUESTs to the configured remote,
// and accepts ECHO-REQUESTs or tagged ECHO-REPLYs back addressed to its own
// reserved port.
type icmpUpstream struct {
	c           *carrier
	sock        *pseudoSocket
	reservation *net.UDPConn
	remote      netip.AddrPort
}

// DialUpstream reserves an ephemeral port and readies an ICMP carrier
// upstream socket pointed at remote.
func DialUpstream(remote netip.AddrPort) (socket.Upstream, error) {
	family := familyOf(remote.Addr())
	c := familyCarrier(family)
	if err := c.ensureStarted(family); err != nil {
		return nil, err
	}

	resv, port, err := reservePort(family)
	if err != nil {
		return nil, err
	}

	s := &pseudoSocket{
		family:  family,
		port:    port,
		role:    roleClient,
		mailbox: make(chan inboundFrame, 64),
		closeCh: make(chan struct{}),
	}
	c.register(s)

	return &icmpUpstream{c: c, sock: s, reservation: resv, remote: remote}, nil
}

func (u *icmpUpstream) Send(buf []byte) error {
	f := Frame{SrcPort: u.sock.port, DstPort: u.remote.Port(), Reply: false, Payload: buf}
	return u.c.send(u.sock.family, nil, toNetIP(u.remote.Addr()), f)
}

func (u *icmpUpstream) Recv(buf []byte) (int, error) {
	select {
	case fr := <-u.sock.mailbox:
		return copy(buf, fr.payload), nil
	default:
		return 0, socket.ErrWouldBlock
	}
}

func (u *icmpUpstream) LocalPort() uint16 { return u.sock.port }

func (u *icmpUpstream) Close() error {
	u.c.unregister(u.sock.port)
	close(u.sock.closeCh)
	return u.reservation.Close()
}
