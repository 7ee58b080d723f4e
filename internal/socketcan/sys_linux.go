//go:build linux

package socketcan

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// sysOps holds the system calls the endpoint uses; tests swap in fakes.
type sysOps struct {
	socket        func(domain, typ, proto int) (int, error)
	setsockoptInt func(fd, level, opt, value int) error
	setNonblock   func(fd int, nonblocking bool) error
	bind          func(fd int, sa unix.Sockaddr) error
	recvmsg       func(fd int, p, oob []byte, flags int) (n, oobn, recvflags int, from unix.Sockaddr, err error)
	close         func(fd int) error
}

var sys = sysOps{
	socket:        unix.Socket,
	setsockoptInt: unix.SetsockoptInt,
	setNonblock:   unix.SetNonblock,
	bind:          unix.Bind,
	recvmsg:       unix.Recvmsg,
	close:         unix.Close,
}

// resolveInterface maps an interface name to its index (hook for tests).
var resolveInterface = func(name string) (int, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return 0, err
	}
	if ifi.Index <= 0 {
		return 0, fmt.Errorf("interface %q has no index", name)
	}
	return ifi.Index, nil
}
