package pipe

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// UDPHandler receives one datagram and its source address.
type UDPHandler func(addr *net.UDPAddr, data []byte)

// UDPMode selects a UDPTransport's send/receive behavior.
type UDPMode string

const (
	UDPModeUnicast   UDPMode = "unicast"
	UDPModeBroadcast UDPMode = "broadcast"
	UDPModeMulticast UDPMode = "multicast"
)

// UDPTransport implements Transport over a UDP socket bound to Address,
// supporting plain datagram exchange, broadcast, and multicast group
// membership.
type UDPTransport struct {
	Address string // listen address, "host:port"
	Mode    UDPMode
	Group   string // multicast group address, required when Mode == UDPModeMulticast
	Handler UDPHandler

	mu   sync.Mutex
	conn *net.UDPConn
	done chan struct{}
}

// NewUDPTransport constructs a UDPTransport listening on address in mode.
// group is only used for UDPModeMulticast.
func NewUDPTransport(address string, mode UDPMode, group string, handler UDPHandler) *UDPTransport {
	return &UDPTransport{Address: address, Mode: mode, Group: group, Handler: handler}
}

func (t *UDPTransport) Connect(ctx context.Context) error {
	laddr, err := net.ResolveUDPAddr("udp", t.Address)
	if err != nil {
		return err
	}

	var conn *net.UDPConn
	switch t.Mode {
	case UDPModeMulticast:
		gaddr, err := net.ResolveUDPAddr("udp", t.Group)
		if err != nil {
			return err
		}
		conn, err = net.ListenMulticastUDP("udp", nil, gaddr)
		if err != nil {
			return err
		}
	default:
		conn, err = net.ListenUDP("udp", laddr)
		if err != nil {
			return err
		}
	}

	done := make(chan struct{})
	t.mu.Lock()
	t.conn = conn
	t.done = done
	t.mu.Unlock()

	go func() {
		defer close(done)
		buf := make([]byte, 64*1024)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return // socket closed, normal shutdown path
			}
			if t.Handler != nil {
				data := append([]byte(nil), buf[:n]...)
				t.Handler(addr, data)
			}
		}
	}()
	return nil
}

// Done returns a channel closed once the socket's read loop exits.
func (t *UDPTransport) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// SendTo writes data to a specific peer address (unicast mode).
func (t *UDPTransport) SendTo(addr *net.UDPAddr, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("pipe: udp not connected")
	}
	_, err := conn.WriteToUDP(data, addr)
	return err
}

// Close releases the UDP socket.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
