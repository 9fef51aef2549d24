package server

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nmxmxh/netshell/kernel/utils"
)

// Conn is the capability a connection exposes to the event manager: its
// descriptor, the state machine entry point, and an optional timer hook.
type Conn interface {
	Fd() int
	DriveMachine(events uint32)
	Timer()
}

// tickInterval paces the timer callback: it runs on idle wakeups, and at
// most once per interval while the loop is busy.
const tickInterval = 500 * time.Millisecond

// EventMgr is a level-triggered readiness multiplexer. It is single-threaded
// by design: DriveMachine runs to completion on the loop goroutine, and the
// only suspension points are between wakeups. Stop may be called from any
// goroutine (a signal handler's, typically) and takes effect on the next
// iteration.
type EventMgr struct {
	epfd    int
	nevents int
	conns   map[int32]Conn
	stop    atomic.Bool
	timer   func()
	log     *utils.Logger
}

func NewEventMgr(nevents int, logger *utils.Logger) (*EventMgr, error) {
	if logger == nil {
		logger = utils.DefaultLogger("events")
	}
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &EventMgr{
		epfd:    epfd,
		nevents: nevents,
		conns:   make(map[int32]Conn),
		log:     logger,
	}, nil
}

// SetTimer installs the periodic callback.
func (em *EventMgr) SetTimer(fn func()) { em.timer = fn }

func (em *EventMgr) ctl(op int, fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(em.epfd, op, fd, &ev)
}

// AddEvent registers a connection for the given readiness mask.
func (em *EventMgr) AddEvent(c Conn, events uint32) error {
	if err := em.ctl(unix.EPOLL_CTL_ADD, c.Fd(), events); err != nil {
		return err
	}
	em.conns[int32(c.Fd())] = c
	return nil
}

// UpdateEvent changes a registered connection's readiness mask.
func (em *EventMgr) UpdateEvent(c Conn, events uint32) error {
	return em.ctl(unix.EPOLL_CTL_MOD, c.Fd(), events)
}

// DeleteEvent forgets a connection. The caller closes the descriptor.
func (em *EventMgr) DeleteEvent(c Conn) {
	_ = em.ctl(unix.EPOLL_CTL_DEL, c.Fd(), 0)
	delete(em.conns, int32(c.Fd()))
}

// Run dispatches readiness until Stop. The wait is bounded so the timer can
// fire on an otherwise idle loop; EINTR restarts the wait transparently.
func (em *EventMgr) Run() error {
	events := make([]unix.EpollEvent, em.nevents)
	anchor := time.Now()

	em.stop.Store(false)
	for !em.stop.Load() {
		n, err := unix.EpollWait(em.epfd, events, int(tickInterval/time.Millisecond))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		for i := 0; i < n; i++ {
			if c := em.conns[events[i].Fd]; c != nil {
				c.DriveMachine(events[i].Events)
			}
		}

		if em.timer != nil {
			if n == 0 {
				em.timer()
			} else if now := time.Now(); now.Sub(anchor) > tickInterval {
				em.timer()
				anchor = now
			}
		}
	}
	return nil
}

// Stop requests the loop to exit after the current iteration.
func (em *EventMgr) Stop() { em.stop.Store(true) }

// Close releases the epoll descriptor.
func (em *EventMgr) Close() {
	_ = unix.Close(em.epfd)
}
