// Package pagesource wraps the OS anonymous-mapping syscall pair. It is
// the "block source" of the region manager: a stateless pair of
// functions that obtain and release fixed-size, private, read-write
// mappings. It never tracks which mappings are live — that bookkeeping
// belongs to the region manager's arenas.
package pagesource

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/shenjiangwei/mmapalloc/internal/mmlog"
)

// MapBlock requests an anonymous, private, read-write mapping of exactly
// size bytes and returns its base address. The OS zero-fills the
// mapping, but callers must not rely on that once bytes have been
// written and freed back.
func MapBlock(size uintptr) (uintptr, error) {
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		mmlog.Error().Err(err).Uint64("size", uint64(size)).Msg("mmap failed")
		return 0, errors.Wrap(err, "pagesource: map block")
	}
	addr := uintptr(unsafe.Pointer(&data[0]))
	mmlog.Debug().Uint64("addr", uint64(addr)).Uint64("size", uint64(size)).Msg("mapped block")
	return addr, nil
}

// UnmapBlock releases the mapping at addr previously returned by MapBlock
// with the same size.
func UnmapBlock(addr uintptr, size uintptr) error {
	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
	if err := unix.Munmap(data); err != nil {
		mmlog.Error().Err(err).Uint64("addr", uint64(addr)).Msg("munmap failed")
		return errors.Wrap(err, "pagesource: unmap block")
	}
	mmlog.Debug().Uint64("addr", uint64(addr)).Uint64("size", uint64(size)).Msg("unmapped block")
	return nil
}
