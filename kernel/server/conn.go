package server

import (
	"bytes"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/nmxmxh/netshell/kernel/cache"
	"github.com/nmxmxh/netshell/kernel/utils"
)

// Token slots of a parsed command line.
const (
	maxTokens = 7
	cmdToken  = 0
	keyToken  = 1
	fileToken = 1
	flagToken = 2
	nvalToken = 4
)

// reqHeaderSize bounds a command line: a request whose first line does not
// fit is rejected without ever allocating a body.
const reqHeaderSize = 312

// resTail closes every response that carries a body.
const resTail = "\r\nEND\r\n"

type connState int

const (
	stateListening connState = iota
	stateRead
	stateNRead
	stateWrite
	stateClose
)

func (s connState) String() string {
	switch s {
	case stateListening:
		return "listening"
	case stateRead:
		return "reading"
	case stateNRead:
		return "nreading"
	case stateWrite:
		return "writing"
	case stateClose:
		return "close"
	}
	return "unknown state"
}

type dmState int

const (
	dmStop dmState = iota
	dmGoOn
)

type cmdType int

const (
	cmdSet cmdType = iota
	cmdAdd
	cmdReplace
	cmdPrepend
	cmdAppend
)

// McConn is one connection's state machine. The listening socket is an
// McConn too, permanently in the listening state, spawning a reader per
// accepted socket.
type McConn struct {
	fd    int
	cache *cache.Cache
	em    *EventMgr
	state connState
	stats *Stats
	log   *utils.Logger

	reqHeader      []byte
	reqHeaderBytes int

	reqBody      []byte
	reqBodySize  int
	reqBodyBytes int

	resHeader      []byte
	resHeaderBytes int
	resBody        []byte
	resBodyBytes   int
	resTailBytes   int

	ctype   cmdType
	flags   uint32
	tokens  [maxTokens]Token
	ntokens int
}

func newMcConn(fd int, c *cache.Cache, em *EventMgr, state connState, stats *Stats, log *utils.Logger) *McConn {
	return &McConn{
		fd:        fd,
		cache:     c,
		em:        em,
		state:     state,
		stats:     stats,
		log:       log,
		reqHeader: make([]byte, reqHeaderSize),
	}
}

func (c *McConn) Fd() int { return c.fd }

func (c *McConn) Timer() {}

// DriveMachine steps the state machine until a handler asks to wait for the
// next readiness event.
func (c *McConn) DriveMachine(events uint32) {
	st := dmGoOn
	for st == dmGoOn {
		c.log.Debug("conn state", utils.Int("fd", c.fd), utils.Stringer("state", c.state))
		switch c.state {
		case stateListening:
			st = c.onListening()
		case stateRead:
			st = c.onRead()
		case stateNRead:
			st = c.onNRead()
		case stateWrite:
			st = c.onWrite()
		case stateClose:
			st = c.onClose()
		}
	}
}

func (c *McConn) outString(format string, args ...interface{}) {
	c.resHeader = []byte(fmt.Sprintf(format, args...))
	c.resHeaderBytes = 0
}

func (c *McConn) onListening() dmState {
	fd, _, err := unix.Accept(c.fd)
	if err != nil {
		if err != unix.EAGAIN {
			c.log.Error("accept failed", utils.Err(err))
		}
		return dmStop
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		c.log.Error("set nonblock failed", utils.Err(err))
		_ = unix.Close(fd)
		return dmStop
	}

	nc := newMcConn(fd, c.cache, c.em, stateRead, c.stats, c.log)
	if err := c.em.AddEvent(nc, unix.EPOLLIN); err != nil {
		c.log.Error("register conn failed", utils.Int("fd", fd), utils.Err(err))
		_ = unix.Close(fd)
	}
	return dmStop
}

func (c *McConn) onRead() dmState {
	var nn int
	var rerr error
	for c.reqHeaderBytes < reqHeaderSize {
		nn, rerr = unix.Read(c.fd, c.reqHeader[c.reqHeaderBytes:])
		if nn <= 0 {
			break
		}
		c.reqHeaderBytes += nn
	}

	if nn == 0 && rerr == nil {
		c.log.Debug("peer closed", utils.Int("fd", c.fd))
		c.state = stateClose
		return dmGoOn
	}
	if rerr != nil && rerr != unix.EAGAIN {
		c.log.Error("recv failed", utils.Int("fd", c.fd), utils.Err(rerr))
		c.state = stateClose
		return dmGoOn
	}

	end := bytes.IndexByte(c.reqHeader[:c.reqHeaderBytes], '\n')
	if end < 0 {
		if c.reqHeaderBytes == reqHeaderSize {
			c.outString("ERROR request header too long\r\n")
			c.reqHeaderBytes = 0
			return c.toWrite()
		}
		return dmStop
	}

	// First unconsumed byte after the line: storage payload may already be
	// buffered there.
	count := end + 1

	lineEnd := end
	if lineEnd > 1 && c.reqHeader[lineEnd-1] == '\r' {
		lineEnd--
	}

	stop := false
	c.ntokens = Tokenize(c.reqHeader[:lineEnd], c.tokens[:])

	// get key
	// set/add/replace/prepend/append key flags exptime bytes
	// incr/decr key value
	// delete key
	// quit
	cmd := string(c.tokens[cmdToken].Value)
	switch {
	case c.ntokens == 3 && cmd == "get":
		stop = true
		c.doGet()
	case c.ntokens == 6 && cmd == "set":
		c.ctype = cmdSet
	case c.ntokens == 6 && cmd == "add":
		c.ctype = cmdAdd
	case c.ntokens == 6 && cmd == "replace":
		c.ctype = cmdReplace
	case c.ntokens == 6 && cmd == "prepend":
		c.ctype = cmdPrepend
	case c.ntokens == 6 && cmd == "append":
		c.ctype = cmdAppend
	case c.ntokens == 4 && cmd == "incr":
		stop = true
		c.doIncr()
	case c.ntokens == 4 && cmd == "decr":
		stop = true
		c.doDecr()
	case c.ntokens == 3 && cmd == "delete":
		stop = true
		c.doDelete()
	case c.ntokens == 2 && cmd == "stats":
		stop = true
		c.doStats()
	case c.ntokens == 3 && cmd == "dump":
		stop = true
		c.doDump()
	case c.ntokens == 3 && cmd == "load":
		stop = true
		c.doLoad()
	case c.ntokens == 2 && cmd == "quit":
		c.state = stateClose
		return dmGoOn
	default:
		stop = true
		c.outString("CLIENT_ERROR unknow command\r\n")
	}

	if !stop {
		nval := int(parseUint(c.tokens[nvalToken].Value))

		if cap(c.reqBody) < nval+2 {
			c.reqBody = make([]byte, nval+2)
		}
		c.reqBody = c.reqBody[:nval+2]
		c.reqBodySize = nval + 2

		c.reqBodyBytes = 0
		if spill := c.reqHeaderBytes - count; spill > 0 {
			if spill > c.reqBodySize {
				spill = c.reqBodySize
			}
			copy(c.reqBody, c.reqHeader[count:count+spill])
			c.reqBodyBytes = spill
		}

		c.state = stateNRead
		if c.reqBodyBytes == c.reqBodySize {
			return dmGoOn
		}
		if rerr == unix.EAGAIN {
			return dmStop
		}
		return dmGoOn
	}

	c.reqHeaderBytes = 0
	return c.toWrite()
}

func (c *McConn) onNRead() dmState {
	if c.reqBodyBytes != c.reqBodySize {
		var nn int
		var rerr error
		for c.reqBodyBytes < c.reqBodySize {
			nn, rerr = unix.Read(c.fd, c.reqBody[c.reqBodyBytes:c.reqBodySize])
			if nn <= 0 {
				break
			}
			c.reqBodyBytes += nn
		}

		if nn == 0 && rerr == nil {
			c.log.Debug("peer closed", utils.Int("fd", c.fd))
			c.state = stateClose
			return dmGoOn
		}
		if rerr == unix.EAGAIN {
			return dmStop
		}
		if rerr != nil {
			c.log.Error("recv failed", utils.Int("fd", c.fd), utils.Err(rerr))
			c.state = stateClose
			return dmGoOn
		}
	}

	c.flags = uint32(parseUint(c.tokens[flagToken].Value))

	switch c.ctype {
	case cmdSet:
		c.doSet()
	case cmdAdd:
		c.doAdd()
	case cmdReplace:
		c.doReplace()
	case cmdPrepend:
		c.doPrepend()
	case cmdAppend:
		c.doAppend()
	}

	c.reqHeaderBytes = 0
	c.reqBodyBytes = 0
	return c.toWrite()
}

// toWrite re-arms the connection for writability and enters the write state.
func (c *McConn) toWrite() dmState {
	if err := c.em.UpdateEvent(c, unix.EPOLLOUT); err != nil {
		c.log.Error("rearm writable failed", utils.Int("fd", c.fd), utils.Err(err))
		c.state = stateClose
	} else {
		c.state = stateWrite
	}
	return dmGoOn
}

func (c *McConn) onWrite() dmState {
	// Up to three vectors: response header, body, and the fixed tail that
	// closes responses carrying a body. Short writes adjust the vectors and
	// resume on the next writability event.
	iovs := make([][]byte, 1, 3)
	iovs[0] = c.resHeader[c.resHeaderBytes:]
	hasBody := len(c.resBody) > 0
	if hasBody {
		iovs = append(iovs, c.resBody[c.resBodyBytes:], []byte(resTail)[c.resTailBytes:])
	}

	for {
		nn, err := unix.Writev(c.fd, iovs)
		if err != nil {
			if err == unix.EAGAIN {
				c.saveWriteProgress(iovs, hasBody)
				return dmStop
			}
			c.log.Error("writev failed", utils.Int("fd", c.fd), utils.Err(err))
			c.state = stateClose
			return dmGoOn
		}

		left := 0
		for i := range iovs {
			if len(iovs[i]) >= nn {
				iovs[i] = iovs[i][nn:]
				nn = 0
			} else {
				nn -= len(iovs[i])
				iovs[i] = nil
			}
			left += len(iovs[i])
		}
		if left == 0 {
			break
		}
	}

	c.resHeaderBytes = 0
	if hasBody {
		c.resBody = nil
		c.resBodyBytes = 0
		c.resTailBytes = 0
	}

	if err := c.em.UpdateEvent(c, unix.EPOLLIN); err != nil {
		c.log.Error("rearm readable failed", utils.Int("fd", c.fd), utils.Err(err))
		c.state = stateClose
		return dmGoOn
	}
	c.state = stateRead
	return dmStop
}

func (c *McConn) saveWriteProgress(iovs [][]byte, hasBody bool) {
	c.resHeaderBytes = len(c.resHeader) - len(iovs[0])
	if hasBody {
		c.resBodyBytes = len(c.resBody) - len(iovs[1])
		c.resTailBytes = len(resTail) - len(iovs[2])
	}
}

func (c *McConn) onClose() dmState {
	c.em.DeleteEvent(c)
	_ = unix.Close(c.fd)
	c.fd = -1
	return dmStop
}

// Command handlers. Each builds the response header (and body, for reads)
// before the connection transitions to the write state.

func (c *McConn) doGet() {
	key := c.tokens[keyToken].Value
	c.stats.GetCnts++

	val, flags, err := c.cache.Get(key)
	switch cache.Result(err) {
	case cache.OK:
		c.outString("VALUE %s %d %d\r\n", key, flags, len(val))
		c.resBody = val
		c.resBodyBytes = 0
	case cache.NotFound:
		c.stats.GetMisses++
		c.outString("END\r\n")
	default:
		c.stats.ErrCnts++
		c.outString("SERVER_ERROR %s\r\n", cache.Text(err))
	}
}

func (c *McConn) doIncr() {
	key := c.tokens[keyToken].Value
	delta := parseUint(c.tokens[keyToken+1].Value)
	c.stats.IncrCnts++

	newVal, err := c.cache.Incr(key, delta)
	switch cache.Result(err) {
	case cache.OK:
		c.outString("%d\r\n", newVal)
	case cache.NotFound:
		c.stats.IncrMisses++
		c.outString("NOT_FOUND\r\n")
	default:
		c.stats.ErrCnts++
		c.outString("SERVER_ERROR %s\r\n", cache.Text(err))
	}
}

func (c *McConn) doDecr() {
	key := c.tokens[keyToken].Value
	delta := parseUint(c.tokens[keyToken+1].Value)
	c.stats.DecrCnts++

	newVal, err := c.cache.Decr(key, delta)
	switch cache.Result(err) {
	case cache.OK:
		c.outString("%d\r\n", newVal)
	case cache.NotFound:
		c.stats.DecrMisses++
		c.outString("NOT_FOUND\r\n")
	default:
		c.stats.ErrCnts++
		c.outString("SERVER_ERROR %s\r\n", cache.Text(err))
	}
}

func (c *McConn) doDelete() {
	key := c.tokens[keyToken].Value
	c.stats.DelCnts++

	err := c.cache.Del(key)
	switch cache.Result(err) {
	case cache.OK:
		c.outString("DELETED\r\n")
	case cache.NotFound:
		c.stats.DelMisses++
		c.outString("NOT_FOUND\r\n")
	default:
		c.stats.ErrCnts++
		c.outString("SERVER_ERROR %s\r\n", cache.Text(err))
	}
}

func (c *McConn) doStats() {
	c.outString("")
	c.resBody = c.stats.render(c.cache.Stats())
	c.resBodyBytes = 0
}

func (c *McConn) doDump() {
	path := string(c.tokens[fileToken].Value)

	if err := c.cache.Dump(path); err != nil {
		c.stats.ErrCnts++
		c.outString("SERVER_ERROR %s\r\n", cache.Text(err))
		return
	}
	c.outString("DUMPED\r\n")
}

func (c *McConn) doLoad() {
	path := string(c.tokens[fileToken].Value)

	if err := c.cache.Load(path); err != nil {
		c.stats.ErrCnts++
		c.outString("SERVER_ERROR %s\r\n", cache.Text(err))
		return
	}
	c.outString("LOADED\r\n")
}

func (c *McConn) storeValue() []byte {
	return c.reqBody[:c.reqBodySize-2]
}

func (c *McConn) doSet() {
	c.stats.SetCnts++

	err := c.cache.Set(c.tokens[keyToken].Value, c.storeValue(), c.flags)
	if err == nil {
		c.outString("STORED\r\n")
		return
	}
	c.stats.ErrCnts++
	c.outString("SERVER_ERROR %s\r\n", cache.Text(err))
}

func (c *McConn) doAdd() {
	c.stats.SetCnts++

	err := c.cache.Add(c.tokens[keyToken].Value, c.storeValue(), c.flags)
	switch cache.Result(err) {
	case cache.OK:
		c.outString("STORED\r\n")
	case cache.Exist:
		c.outString("EXISTS\r\n")
	default:
		c.stats.ErrCnts++
		c.outString("SERVER_ERROR %s\r\n", cache.Text(err))
	}
}

func (c *McConn) doReplace() {
	c.stats.SetCnts++

	err := c.cache.Replace(c.tokens[keyToken].Value, c.storeValue(), c.flags)
	switch cache.Result(err) {
	case cache.OK:
		c.outString("STORED\r\n")
	case cache.NotFound:
		c.outString("NOT_FOUND\r\n")
	default:
		c.stats.ErrCnts++
		c.outString("SERVER_ERROR %s\r\n", cache.Text(err))
	}
}

func (c *McConn) doPrepend() {
	c.stats.SetCnts++

	err := c.cache.Prepend(c.tokens[keyToken].Value, c.storeValue(), c.flags)
	switch cache.Result(err) {
	case cache.OK:
		c.outString("STORED\r\n")
	case cache.NotFound:
		c.outString("NOT_FOUND\r\n")
	default:
		c.stats.ErrCnts++
		c.outString("SERVER_ERROR %s\r\n", cache.Text(err))
	}
}

func (c *McConn) doAppend() {
	c.stats.SetCnts++

	err := c.cache.Append(c.tokens[keyToken].Value, c.storeValue(), c.flags)
	switch cache.Result(err) {
	case cache.OK:
		c.outString("STORED\r\n")
	case cache.NotFound:
		c.outString("NOT_FOUND\r\n")
	default:
		c.stats.ErrCnts++
		c.outString("SERVER_ERROR %s\r\n", cache.Text(err))
	}
}
