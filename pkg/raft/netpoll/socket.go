//go:build linux

package netpoll

import (
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// ListenTCP binds a non-blocking listening socket on addr ("host:port").
func ListenTCP(addr string) (fd int, boundAddr string, err error) {
	sa, ip4, err := resolveSockaddr(addr)
	if err != nil {
		return -1, "", err
	}

	domain := unix.AF_INET
	if !ip4 {
		domain = unix.AF_INET6
	}

	fd, err = unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, "", err
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, "", err
	}
	if err = unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, "", err
	}
	if err = unix.Listen(fd, 1024); err != nil {
		_ = unix.Close(fd)
		return -1, "", err
	}
	if err = unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, "", err
	}

	local, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return -1, "", err
	}
	boundAddr = sockaddrString(local)
	return fd, boundAddr, nil
}

// Accept accepts a single pending connection on a non-blocking listening
// fd. A return of (-1, "", unix.EAGAIN) means no connection is pending.
func Accept(listenFd int) (fd int, remoteAddr string, err error) {
	nfd, sa, err := unix.Accept(listenFd)
	if err != nil {
		return -1, "", err
	}
	if err = unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return -1, "", err
	}
	_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return nfd, sockaddrString(sa), nil
}

// DialTCP starts a non-blocking connect to addr. connected is true if the
// connect completed synchronously (rare but possible for local
// addresses); otherwise the caller must wait for the fd to become
// writable and call CheckConnectError. A non-EINPROGRESS error here is a
// synchronous, immediate dial failure (e.g. ECONNREFUSED to an unbound
// local port) that the caller can act on without ever polling the
// reactor.
func DialTCP(addr string) (fd int, connected bool, err error) {
	sa, ip4, err := resolveSockaddr(addr)
	if err != nil {
		return -1, false, err
	}

	domain := unix.AF_INET
	if !ip4 {
		domain = unix.AF_INET6
	}

	fd, err = unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, false, err
	}
	if err = unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, false, err
	}

	err = unix.Connect(fd, sa)
	if err == nil {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		return fd, true, nil
	}
	if err == unix.EINPROGRESS {
		return fd, false, nil
	}
	_ = unix.Close(fd)
	return -1, false, err
}

// CheckConnectError reads SO_ERROR after a writable event on an
// in-progress connect to determine if it succeeded.
func CheckConnectError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return nil
}

// IsWouldBlock reports whether err is the non-blocking "try again" signal
// from a socket syscall, as opposed to a real failure.
func IsWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

// Read performs a non-blocking read. A nil error with n == 0 means EOF.
// IsWouldBlock(err) means "would block", not an error condition worth
// resetting the connection over.
func Read(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

// Write performs a non-blocking write.
func Write(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

// Close closes fd.
func Close(fd int) error {
	return unix.Close(fd)
}

func resolveSockaddr(addr string) (unix.Sockaddr, bool, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, false, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, false, err
	}

	if host == "" {
		host = "0.0.0.0"
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return nil, false, err
		}
		ip = ips[0]
	}

	if ip4 := ip.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = port
		copy(sa.Addr[:], ip4)
		return &sa, true, nil
	}

	ip16 := ip.To16()
	var sa unix.SockaddrInet6
	sa.Port = port
	copy(sa.Addr[:], ip16)
	return &sa, false, nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(v.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(v.Port))
	case *unix.SockaddrInet6:
		ip := net.IP(v.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(v.Port))
	default:
		return ""
	}
}
