//go:build linux

package rx

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// BuildMulticastSocket binds a nonblocking IPv4 UDP socket to the
// wildcard address and configured port, joins the multicast group on the
// configured interface, and applies every socket-option tuning knob
// spec.md §4.2 names: reuse-address (always), reuse-port (when
// requested), an enlarged receive buffer, busy-poll microseconds, and
// the selected RX timestamping mode.
func BuildMulticastSocket(cfg SocketConfig) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return -1, fmt.Errorf("rx: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("rx: SO_REUSEADDR: %w", err)
	}
	if cfg.ReusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("rx: SO_REUSEPORT: %w", err)
		}
	}
	if cfg.RecvBufBytes > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.RecvBufBytes)
	}
	if cfg.BusyPollUs > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BUSY_POLL, cfg.BusyPollUs)
	}
	if err := applyTimestamping(fd, cfg.Timestamping); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("rx: SO_TIMESTAMPING: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: cfg.Port}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("rx: bind: %w", err)
	}

	if err := joinMulticast(fd, cfg.Group, cfg.Iface); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("rx: join multicast: %w", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("rx: set nonblocking: %w", err)
	}
	return fd, nil
}

func joinMulticast(fd int, group, iface string) error {
	ip := net.ParseIP(group).To4()
	if ip == nil {
		return fmt.Errorf("rx: %q is not an IPv4 address", group)
	}
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], ip)

	if iface != "" {
		ifc, err := net.InterfaceByName(iface)
		if err != nil {
			return err
		}
		addrs, err := ifc.Addrs()
		if err == nil {
			for _, a := range addrs {
				if ipn, ok := a.(*net.IPNet); ok {
					if v4 := ipn.IP.To4(); v4 != nil {
						copy(mreq.Address[:], v4)
						break
					}
				}
			}
		}
	}
	return unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
}

// SOF_TIMESTAMPING_* flag combinations per spec.md §4.2 / the original's
// net.rs: off disables timestamping entirely; software requests
// kernel-software RX timestamps; hardware and hardware-raw additionally
// request NIC-hardware timestamps (raw vs. system-clock-converted).
func applyTimestamping(fd int, mode TimestampingMode) error {
	if mode == TimestampingOff {
		return nil
	}
	var flags int
	switch mode {
	case TimestampingSoftware:
		flags = unix.SOF_TIMESTAMPING_RX_SOFTWARE | unix.SOF_TIMESTAMPING_SOFTWARE
	case TimestampingHardware:
		flags = unix.SOF_TIMESTAMPING_RX_HARDWARE | unix.SOF_TIMESTAMPING_RAW_HARDWARE
	case TimestampingHardwareRaw:
		flags = unix.SOF_TIMESTAMPING_RX_HARDWARE | unix.SOF_TIMESTAMPING_RAW_HARDWARE | unix.SOF_TIMESTAMPING_SYS_HARDWARE
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING, flags)
}

// CloseSocket closes fd, ignoring errors from an already-closed socket.
func CloseSocket(fd int) { _ = unix.Close(fd) }
