package socket

import (
	"net"
	"net/netip"
)

// udpServer implements Server over an ordinary UDP socket.
type udpServer struct {
	conn *net.UDPConn
}

// ListenServer binds the server socket at addr.
func ListenServer(addr netip.AddrPort) (Server, error) {
	conn, err := net.ListenUDP(udpNetwork(addr), net.UDPAddrFromAddrPort(addr))
	if err != nil {
		return nil, err
	}
	return &udpServer{conn: conn}, nil
}

func udpNetwork(addr netip.AddrPort) string {
	if addr.Addr().Is4() || addr.Addr().Is4In6() {
		return "udp4"
	}
	return "udp"
}

func (s *udpServer) RecvFrom(buf []byte) (int, netip.AddrPort, error) {
	n, addr, err := s.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	return n, netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()), nil
}

func (s *udpServer) SendTo(buf []byte, addr netip.AddrPort) error {
	_, err := s.conn.WriteToUDPAddrPort(buf, addr)
	return err
}

func (s *udpServer) LocalAddr() netip.AddrPort {
	a := s.conn.LocalAddr().(*net.UDPAddr)
	return a.AddrPort()
}

func (s *udpServer) Close() error {
	return s.conn.Close()
}

// udpUpstream implements Upstream over a UDP socket connected (in the
// datagram sense) to the remote endpoint. Reads happen on a dedicated
// goroutine owned by the enclosing udpPoll so that the single egress
// consumer can drain already-received datagrams without blocking; see
// poll.go.
type udpUpstream struct {
	conn *net.UDPConn
	port uint16

	mailbox chan []byte
	closeCh chan struct{}
}

// DialUpstream creates a UDP upstream socket bound to the wildcard address
// of remote's family, with remote set as its default destination.
func DialUpstream(remote netip.AddrPort) (Upstream, error) {
	conn, err := net.DialUDP(udpNetwork(remote), nil, net.UDPAddrFromAddrPort(remote))
	if err != nil {
		return nil, err
	}
	port := conn.LocalAddr().(*net.UDPAddr).AddrPort().Port()
	return &udpUpstream{
		conn:    conn,
		port:    port,
		mailbox: make(chan []byte, 64),
		closeCh: make(chan struct{}),
	}, nil
}

func (u *udpUpstream) Send(buf []byte) error {
	_, err := u.conn.Write(buf)
	return err
}

// Recv pops one already-received datagram from the mailbox filled by the
// poller's read goroutine. It never touches the socket directly, which is
// what makes it non-blocking: the actual blocking recv happened on the
// poller goroutine.
func (u *udpUpstream) Recv(buf []byte) (int, error) {
	select {
	case b := <-u.mailbox:
		n := copy(buf, b)
		return n, nil
	default:
		return 0, ErrWouldBlock
	}
}

func (u *udpUpstream) LocalPort() uint16 {
	return u.port
}

func (u *udpUpstream) Close() error {
	select {
	case <-u.closeCh:
	default:
		close(u.closeCh)
	}
	return u.conn.Close()
}
