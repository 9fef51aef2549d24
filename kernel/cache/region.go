package cache

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// region is one attachment's private view of the shared mapping: the file
// descriptor and the process-local base slice. Everything reachable through
// it is shared; the struct itself is not.
type region struct {
	fd   int
	data []byte
	path string
}

// Relative-pointer discipline: offsets are translated to byte slices on every
// access. No absolute reference derived here may be cached across a lock
// release, since another attachment can map the region elsewhere.

func (r *region) u32(off uint64) uint32 {
	return binary.LittleEndian.Uint32(r.data[off:])
}

func (r *region) putU32(off uint64, v uint32) {
	binary.LittleEndian.PutUint32(r.data[off:], v)
}

func (r *region) u64(off uint64) uint64 {
	return binary.LittleEndian.Uint64(r.data[off:])
}

func (r *region) putU64(off uint64, v uint64) {
	binary.LittleEndian.PutUint64(r.data[off:], v)
}

func (r *region) slice(off, n uint64) []byte {
	return r.data[off : off+n]
}

// mapFd maps size bytes of the file shared and writable.
func mapFd(fd int, size uint64) ([]byte, error) {
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, sysError(err)
	}
	return data, nil
}

func (r *region) sync() error {
	if err := unix.Msync(r.data, unix.MS_SYNC); err != nil {
		return sysError(err)
	}
	return nil
}

func (r *region) close() {
	if r.data != nil {
		_ = unix.Munmap(r.data)
		r.data = nil
	}
	if r.fd >= 0 {
		_ = unix.Close(r.fd)
		r.fd = -1
	}
}
