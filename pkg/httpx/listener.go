// Package httpx provides just enough HTTP server plumbing to bind the
// hub's device/client/health/metrics routes. TLS termination and
// autocert are intentionally out of scope — the hub is deployed
// behind a reverse proxy that terminates TLS.
package httpx

import (
	"errors"
	"net"
	"os"
	"runtime"
	"strconv"
	"syscall"

	"github.com/fleetwire/relayhub/pkg/logger"
)

const maxPortRollAttempts = 42

// Listener wraps net.Listener with port-roll behavior: if the
// requested port is taken, try the following ports in sequence, up to
// maxPortRollAttempts attempts in total counting the first, rather
// than failing outright — useful for local multi-instance development.
type Listener struct {
	net.Listener
}

func NewListener(address string, rollPorts bool, log *logger.Logger) (*Listener, error) {
	ls, err := net.Listen("tcp4", address)
	if err != nil {
		if rollPorts && isErrorAddressAlreadyInUse(err) {
			host, port, splitErr := net.SplitHostPort(address)
			if splitErr == nil {
				p, _ := strconv.Atoi(port)
				for i := p + 1; i < p+maxPortRollAttempts; i++ {
					log.Debug().Str("host", host).Int("port", i).Msg("port in use, rolling")
					ls, err = net.Listen("tcp4", host+":"+strconv.Itoa(i))
					if err == nil {
						return &Listener{ls}, nil
					}
				}
			}
		}
		return nil, err
	}
	return &Listener{ls}, nil
}

func isErrorAddressAlreadyInUse(err error) bool {
	var eOsSyscall *os.SyscallError
	if !errors.As(err, &eOsSyscall) {
		return false
	}
	var errErrno syscall.Errno
	if !errors.As(eOsSyscall, &errErrno) {
		return false
	}
	if errErrno == syscall.EADDRINUSE {
		return true
	}
	const wsaEaddrinuse = 10048
	if runtime.GOOS == "windows" && errErrno == wsaEaddrinuse {
		return true
	}
	return false
}
