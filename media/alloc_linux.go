//go:build linux

package media

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// allocHW allocates shared hardware-interchange memory: a memfd-backed
// mapping that carries both a host pointer and a file descriptor, so the
// region can be handed to drivers without copying. The mapping is
// page-aligned by construction.
func allocHW(size int) (*Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: zero-size hardware allocation", ErrUnsupported)
	}
	fd, err := unix.MemfdCreate("mediaflow-buffer", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("%w: memfd_create: %v", ErrOutOfMemory, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: ftruncate: %v", ErrOutOfMemory, err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: mmap: %v", ErrOutOfMemory, err)
	}

	b := &Buffer{
		data: data,
		hw:   &HWHandle{FD: fd},
		mem:  MemHW,
		free: func(*Buffer) {
			_ = unix.Munmap(data)
			_ = unix.Close(fd)
		},
	}
	b.refs.Store(1)
	return b, nil
}
