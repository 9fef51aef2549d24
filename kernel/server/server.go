package server

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/nmxmxh/netshell/kernel/cache"
	"github.com/nmxmxh/netshell/kernel/utils"
)

// DefaultPort is the front-end's listen port when none is configured.
const DefaultPort = 11217

const listenBacklog = 1024

// Shell is the network front-end: one nonblocking listen socket, one event
// loop, and the per-process command counters shared by every connection.
type Shell struct {
	cache *cache.Cache
	em    *EventMgr
	stats Stats
	log   *utils.Logger
	port  int
}

// NewShell binds the listen socket and registers it with a fresh event
// manager. An empty interface binds all addresses. Port 0 lets the kernel
// pick; Port reports the bound value.
func NewShell(c *cache.Cache, port int, inter string, logger *utils.Logger) (*Shell, error) {
	if logger == nil {
		logger = utils.DefaultLogger("netshell")
	}

	fd, err := listenFd(port, inter)
	if err != nil {
		return nil, err
	}

	em, err := NewEventMgr(1024, logger)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	s := &Shell{cache: c, em: em, log: logger}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		em.Close()
		return nil, err
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		s.port = in4.Port
	}

	lc := newMcConn(fd, c, em, stateListening, &s.stats, logger)
	if err := em.AddEvent(lc, unix.EPOLLIN|unix.EPOLLOUT); err != nil {
		_ = unix.Close(fd)
		em.Close()
		return nil, err
	}

	logger.Info("listening", utils.Int("port", s.port))
	return s, nil
}

func listenFd(port int, inter string) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}

	fail := func(err error) (int, error) {
		_ = unix.Close(fd)
		return -1, err
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		return fail(err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail(err)
	}
	// Best effort, the way the listener has always configured itself.
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	sa := &unix.SockaddrInet4{Port: port}
	if inter != "" {
		ip := net.ParseIP(inter)
		if ip == nil || ip.To4() == nil {
			return fail(fmt.Errorf("invalid listen interface %q", inter))
		}
		copy(sa.Addr[:], ip.To4())
	}

	if err := unix.Bind(fd, sa); err != nil {
		return fail(err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		return fail(err)
	}
	return fd, nil
}

// Port returns the bound listen port.
func (s *Shell) Port() int { return s.port }

// Stats exposes the shell's command counters.
func (s *Shell) Stats() *Stats { return &s.stats }

// Run drives the event loop until Stop.
func (s *Shell) Run() error { return s.em.Run() }

// Stop asks the loop to exit; safe from any goroutine.
func (s *Shell) Stop() { s.em.Stop() }

// Close releases the event manager once Run has returned.
func (s *Shell) Close() { s.em.Close() }
