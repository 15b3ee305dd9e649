// Package icmp implements the ICMP carrier: a pseudo-socket that fakes
// connection-oriented, port-addressed datagram semantics over raw ICMPv4
// and ICMPv6 echo messages, per RFC 792 and RFC 4443.
package icmp

import (
	"bytes"
	"errors"
	"fmt"
	"net"

	xicmp "golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// magicTag is appended to the payload of every ECHO-REPLY sent in
// reflection mode, and required (then stripped) on receive, to tell apart
// tunnelled replies from ones the kernel generates on its own in response
// to unrelated incoming echo requests.
var magicTag = [3]byte{0x9c, 0x17, 0xe4}

var (
	errUnsupportedType = errors.New("icmp: unsupported message type/code")
	errBadBody         = errors.New("icmp: not an echo message")
	errMissingTag      = errors.New("icmp: echo reply missing magic tag")
)

// Frame is one logical datagram carried by the ICMP echo framing of §4.5.
// SrcPort is the sending pseudo-socket's own port and DstPort is the port
// of the pseudo-socket this frame is addressed to, on whichever host is
// about to receive it; Reply selects ECHO-REPLY vs ECHO-REQUEST framing.
// The identifier field always carries DstPort and the sequence field
// always carries SrcPort, independent of Reply, so a receiver demultiplexes
// by identifier alone regardless of which direction the frame travelled —
// matching a plain port-addressed socket instead of conflating "server vs
// client" with "request vs reply".
type Frame struct {
	SrcPort uint16
	DstPort uint16
	Reply   bool
	Payload []byte
}

// Encode builds a wire-format ICMP echo message carrying f. family must be
// 4 or 6. For IPv6, localIP/remoteIP are used to build the pseudo-header
// the checksum is computed over (RFC 4443); they are ignored for IPv4.
func Encode(f Frame, family int, localIP, remoteIP net.IP) ([]byte, error) {
	id, seq := f.DstPort, f.SrcPort

	payload := f.Payload
	if f.Reply {
		payload = append(append([]byte(nil), f.Payload...), magicTag[:]...)
	}

	typ, err := echoType(family, f.Reply)
	if err != nil {
		return nil, err
	}

	msg := &xicmp.Message{
		Type: typ,
		Code: 0,
		Body: &xicmp.Echo{
			ID:   int(id),
			Seq:  int(seq),
			Data: payload,
		},
	}

	var psh []byte
	if family == 6 {
		psh = xicmp.IPv6PseudoHeader(localIP, remoteIP)
	}
	return msg.Marshal(psh)
}

// Decode parses a bare ICMP message (no IP header) and recovers the Frame
// it carries. Any message whose type/code is not an echo request/reply is
// rejected; an ECHO-REPLY whose payload doesn't end with the magic tag is
// rejected (and the tag is stripped from the payload on success).
func Decode(b []byte, family int) (Frame, error) {
	proto := protoICMPv4
	if family == 6 {
		proto = protoICMPv6
	}

	msg, err := xicmp.ParseMessage(proto, b)
	if err != nil {
		return Frame{}, fmt.Errorf("icmp: parse message: %w", err)
	}
	if msg.Code != 0 {
		return Frame{}, errUnsupportedType
	}

	var reply bool
	switch msg.Type {
	case ipv4.ICMPTypeEcho, ipv6.ICMPTypeEchoRequest:
		reply = false
	case ipv4.ICMPTypeEchoReply, ipv6.ICMPTypeEchoReply:
		reply = true
	default:
		return Frame{}, errUnsupportedType
	}

	echo, ok := msg.Body.(*xicmp.Echo)
	if !ok {
		return Frame{}, errBadBody
	}

	data := echo.Data
	if reply {
		if len(data) < len(magicTag) || !bytes.Equal(data[len(data)-len(magicTag):], magicTag[:]) {
			return Frame{}, errMissingTag
		}
		data = data[:len(data)-len(magicTag)]
	}

	dst, src := uint16(echo.ID), uint16(echo.Seq)
	return Frame{SrcPort: src, DstPort: dst, Reply: reply, Payload: data}, nil
}

func echoType(family int, reply bool) (xicmp.Type, error) {
	switch family {
	case 4:
		if reply {
			return ipv4.ICMPTypeEchoReply, nil
		}
		return ipv4.ICMPTypeEcho, nil
	case 6:
		if reply {
			return ipv6.ICMPTypeEchoReply, nil
		}
		return ipv6.ICMPTypeEchoRequest, nil
	default:
		return nil, fmt.Errorf("icmp: unsupported family %d", family)
	}
}

// protocol numbers per RFC 792 / RFC 4443, used to select the parser table
// in golang.org/x/net/icmp. Not imported from the internal iana package.
const (
	protoICMPv4 = 1
	protoICMPv6 = 58
)
