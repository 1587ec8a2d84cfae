//go:build !linux

package rx

import (
	"fmt"
	"net"
)

// BuildMulticastSocket always returns an error on non-Linux platforms: no
// raw fd is built. The non-Linux Worker receives through newUDPFallback
// instead (stdlib net.ListenMulticastUDP: no SO_BUSY_POLL, no
// SO_TIMESTAMPING, no SO_REUSEPORT).
func BuildMulticastSocket(cfg SocketConfig) (int, error) {
	return -1, fmt.Errorf("rx: low-level multicast sockets require linux (group=%s port=%d)", cfg.Group, cfg.Port)
}

func CloseSocket(fd int) {}

// newUDPFallback is used by Worker on non-Linux builds in place of a
// raw fd; see worker_other.go.
func newUDPFallback(cfg SocketConfig) (*net.UDPConn, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(cfg.Group), Port: cfg.Port}
	var iface *net.Interface
	if cfg.Iface != "" {
		ifc, err := net.InterfaceByName(cfg.Iface)
		if err != nil {
			return nil, err
		}
		iface = ifc
	}
	conn, err := net.ListenMulticastUDP("udp4", iface, addr)
	if err != nil {
		return nil, err
	}
	if cfg.RecvBufBytes > 0 {
		_ = conn.SetReadBuffer(cfg.RecvBufBytes)
	}
	return conn, nil
}
